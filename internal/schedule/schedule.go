// Package schedule decides, once every node in a strategy graph has a
// gadget assigned to it, a total execution order consistent with the
// graph's strategy edges plus the register-clobber constraints a data
// link imposes, then emits the final stack layout.
//
// A data-link parameter's register must survive unclobbered from its
// producer node to its last consumer; any third node that writes the
// same register must be scheduled either entirely before that span or
// entirely after it. Which side is free to choose, so scheduling is a
// backtracking search over these binary choices, the same way gadget
// selection backtracks over database candidates.
// Grounded on
// original_source/libropium/compiler/strategy_graph.cpp
// (compute_interference_points/_do_scheduling/schedule_gadgets/get_ropchain).
package schedule

import (
	"sort"

	"ropgen/internal/arch"
	"ropgen/internal/gadget"
	"ropgen/internal/ropchain"
	"ropgen/internal/stratgraph"
)

// point is one register-clobber conflict the scheduler must resolve:
// interfering writes the same register as a data link spanning
// startNode..endNode. startNode == stratgraph.NoNode means the span
// has no producer in this graph (the register is a chain input);
// endNode == stratgraph.NoNode means it has no consumer (a chain
// output) — in either case only the side that keeps the span intact is
// legal, so the choice collapses.
type point struct {
	interfering int
	startNode   int
	endNode     int
}

// computeInterferencePoints finds every (interfering node, data-link
// span) conflict in g.
func computeInterferencePoints(g *stratgraph.Graph) []point {
	var points []point
	for _, node := range g.Nodes {
		if node.Disabled {
			continue
		}
		for p := 0; p < node.NbParams(); p++ {
			param := node.Params[p]
			if !param.IsDataLink {
				continue
			}
			for _, other := range g.Nodes {
				if other.Disabled || other.IsIndirect || other.ID == node.ID {
					continue
				}
				if param.IsDependent() && param.DepNode == other.ID {
					continue
				}
				if !g.ModifiesReg(other.ID, param.Value, true) {
					continue
				}
				switch {
				case node.IsInitialParam(p) && !g.HasDependentParam(node.ID, p):
					points = append(points, point{interfering: other.ID, startNode: stratgraph.NoNode, endNode: node.ID})
				case node.IsFinalParam(p):
					points = append(points, point{interfering: other.ID, startNode: node.ID, endNode: stratgraph.NoNode})
				default:
					points = append(points, point{interfering: other.ID, startNode: node.ID, endNode: param.DepNode})
				}
			}
		}
	}
	return points
}

// doScheduling tries, for each remaining interference point, both legal
// placements of the interfering node relative to the data-link span it
// threatens, recursing and restoring the interfering/span nodes'
// interference edges after each attempt — classic backtracking, the same shape
// as search.selectAt's candidate loop.
func doScheduling(g *stratgraph.Graph, points []point, idx int) bool {
	if idx == len(points) {
		return g.ComputeDfsScheduling()
	}
	pt := points[idx]

	if pt.startNode != stratgraph.NoNode {
		saved := g.Node(pt.interfering).InterferenceEdges
		g.AddInterferenceEdge(pt.interfering, pt.startNode)
		if pt.endNode != stratgraph.NoNode {
			g.AddInterferenceEdge(pt.interfering, pt.endNode)
		}
		ok := doScheduling(g, points, idx+1)
		g.Node(pt.interfering).InterferenceEdges = saved
		if ok {
			return true
		}
	}

	if pt.endNode != stratgraph.NoNode {
		var savedStart stratgraph.EdgeSet
		savedEnd := g.Node(pt.endNode).InterferenceEdges
		if pt.startNode != stratgraph.NoNode {
			savedStart = g.Node(pt.startNode).InterferenceEdges
			g.AddInterferenceEdge(pt.startNode, pt.interfering)
		}
		g.AddInterferenceEdge(pt.endNode, pt.interfering)
		ok := doScheduling(g, points, idx+1)
		if pt.startNode != stratgraph.NoNode {
			g.Node(pt.startNode).InterferenceEdges = savedStart
		}
		g.Node(pt.endNode).InterferenceEdges = savedEnd
		if ok {
			return true
		}
	}

	return false
}

// Schedule computes a total node order for a graph that already has a
// gadget bound to every enabled node, returning false if no ordering
// satisfies every data link.
func Schedule(g *stratgraph.Graph) bool {
	return doScheduling(g, computeInterferencePoints(g), 0)
}

// Emit builds the final ropchain.Chain from a scheduled graph: gadget
// addresses walking DfsScheduling from its last entry to its first, each
// followed by that gadget's stack
// padding words, with special paddings substituted at their resolved
// offset.
func Emit(g *stratgraph.Graph, ar *arch.Arch, defaultPadding int64) *ropchain.Chain {
	chain := ropchain.New(ar)
	for i := len(g.DfsScheduling) - 1; i >= 0; i-- {
		node := g.Node(g.DfsScheduling[i])
		if node.IsIndirect {
			continue
		}
		gd := node.AffectedGadget
		addr := uint64(node.Params[node.ParamNumGadgetAddr()].Value)
		chain.AddGadget(addr, gd)

		paddings := resolvePaddings(g, node.SpecialPaddings)
		sort.Slice(paddings, func(a, b int) bool { return paddings[a].offset < paddings[b].offset })

		nbPaddings := gd.SpInc / ar.WordSize
		if gd.BranchType == gadget.BranchRET {
			nbPaddings--
		}

		pi := 0
		for off := 0; off < nbPaddings*ar.WordSize; off += ar.WordSize {
			if pi < len(paddings) && int(paddings[pi].offset) == off {
				p := paddings[pi]
				if p.isGadgetAddr {
					chain.AddGadgetAddress(p.value, p.comment)
				} else {
					chain.AddPadding(p.value, p.comment)
				}
				pi++
				continue
			}
			chain.AddPadding(defaultPadding, "")
		}
	}
	return chain
}

type resolvedPadding struct {
	offset       int64
	value        int64
	isGadgetAddr bool
	comment      string
}

// resolvePaddings resolves each special padding's offset and value,
// flagging the ones that point at another node's gadget address so
// Emit can surface them as relocatable GADGET_ADDRESS items rather than
// opaque constants.
func resolvePaddings(g *stratgraph.Graph, in []stratgraph.Padding) []resolvedPadding {
	out := make([]resolvedPadding, 0, len(in))
	for _, padding := range in {
		off, ok := g.ResolveValue(padding.Offset)
		if !ok {
			continue
		}
		isGadgetAddr := false
		var comment string
		if padding.Value.IsDependent() {
			depNode := g.Node(padding.Value.DepNode)
			if padding.Value.DepParamIdx == depNode.ParamNumGadgetAddr() {
				isGadgetAddr = true
				if depNode.AffectedGadget != nil {
					comment = depNode.AffectedGadget.Asm
				}
			}
		}
		val, ok := g.ResolveValue(padding.Value)
		if !ok {
			continue
		}
		out = append(out, resolvedPadding{offset: off.Value, value: val.Value, isGadgetAddr: isGadgetAddr, comment: comment})
	}
	return out
}

