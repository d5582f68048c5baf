// Package search implements gadget selection. It walks a strategy
// graph's parameter-dependency order, resolves each node's parameters,
// queries the database for exact or wildcard ("possible") matches, and
// backtracks over candidates until every node has an assigned gadget or
// the search is exhausted.
// Grounded on
// original_source/libropium/compiler/strategy_graph.cpp
// (select_gadgets/_get_matching_gadgets/_get_possible_gadgets).
package search

import (
	"ropgen/internal/arch"
	"ropgen/internal/gadget"
	"ropgen/internal/gadgetdb"
	"ropgen/internal/schedule"
	"ropgen/internal/stratgraph"
)

// Select finds a gadget assignment for every enabled node of g,
// mutating g.Nodes[*].AffectedGadget in place, and schedules the result
// into g.DfsScheduling. It returns false if no assignment satisfies
// every node's constraints or no data-link-consistent ordering exists.
func Select(g *stratgraph.Graph, db *gadgetdb.DB, ar *arch.Arch) bool {
	g.ComputeDfsParams()
	g.ComputeDfsStrategy()
	return selectAt(g, db, ar, 0)
}

func selectAt(g *stratgraph.Graph, db *gadgetdb.DB, ar *arch.Arch, dfsIdx int) bool {
	if dfsIdx >= len(g.DfsParams) {
		return schedule.Schedule(g)
	}
	n := g.DfsParams[dfsIdx]
	node := g.Node(n)

	if node.Disabled {
		g.ResolveAllParams(n)
		return selectAt(g, db, ar, dfsIdx+1)
	}

	if node.HasFreeParam() {
		for _, pos := range getPossibleGadgets(g, db, ar, n) {
			for p := 0; p < node.NbParams(); p++ {
				if node.Params[p].IsFree() {
					node.Params[p].Value = pos.Key[p]
				}
			}
			g.ResolveAllParams(n)
			if !checkConstraints(g, node) {
				continue
			}
			if !assignGadget(node, pos.G, ar) {
				continue
			}
			if !checkConstraints(g, node) {
				continue
			}
			if selectAt(g, db, ar, dfsIdx+1) {
				return true
			}
		}
		node.AffectedGadget = nil
		return false
	}

	if !checkConstraints(g, node) {
		return false
	}
	for _, cand := range getMatchingGadgets(g, db, n) {
		if !assignGadget(node, cand, ar) {
			continue
		}
		if !checkConstraints(g, node) {
			continue
		}
		if selectAt(g, db, ar, dfsIdx+1) {
			return true
		}
	}
	node.AffectedGadget = nil
	return false
}

func checkConstraints(g *stratgraph.Graph, node *stratgraph.Node) bool {
	for _, c := range node.Constraints {
		if !c(node, g) {
			return false
		}
	}
	return true
}

// assignGadget binds cand to node, rejecting it if the gadget's branch
// type doesn't match what the node requires (the jmp register is not
// compared), and otherwise fills in the node's generic address/sp_inc
// parameter slots from cand.
func assignGadget(node *stratgraph.Node, cand *gadget.Gadget, ar *arch.Arch) bool {
	if node.BranchType != gadget.BranchANY && node.BranchType != cand.BranchType {
		return false
	}
	if node.Type == gadget.TypeJmp {
		// a JMP node's key has no register slot; nothing extra is checked
	}
	node.AffectedGadget = cand
	if node.NbParams() >= 2 {
		addr := int64(0)
		if len(cand.Addresses) > 0 {
			addr = int64(cand.Addresses[0])
		}
		node.Params[node.ParamNumGadgetAddr()] = stratgraph.CstParam(addr, "", true)
		node.Params[node.ParamNumSpInc()] = stratgraph.CstParam(int64(cand.SpInc), "", true)
	}
	return true
}

func key(node *stratgraph.Node) gadget.Key {
	var k gadget.Key
	for i := 0; i < node.NbParams()-2 && i < 4; i++ {
		k[i] = node.Params[i].Value
	}
	return k
}

func getMatchingGadgets(g *stratgraph.Graph, db *gadgetdb.DB, n int) []*gadget.Gadget {
	node := g.Node(n)
	g.ResolveAllParams(n)
	return db.Get(node.Type, key(node))
}

func getPossibleGadgets(g *stratgraph.Graph, db *gadgetdb.DB, ar *arch.Arch, n int) []gadgetdb.Possible {
	node := g.Node(n)
	g.ResolveAllParams(n)
	q := gadget.Key{}
	for i := 0; i < node.NbParams()-2 && i < 4; i++ {
		if node.Params[i].IsFree() {
			q[i] = gadget.Wildcard
		} else {
			q[i] = node.Params[i].Value
		}
	}
	return db.GetPossible(node.Type, q)
}

