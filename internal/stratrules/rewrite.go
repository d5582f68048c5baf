package stratrules

import (
	"ropgen/internal/arch"
	"ropgen/internal/stratgraph"
)

// Rule is one entry of the rewrite catalogue: given a graph and one of
// its enabled node ids, it tries to grow that node into a sub-graph
// realizing the same effect through a more general route, mutating g in
// place and reporting whether it applied.
type Rule struct {
	Name  string
	Apply func(g *stratgraph.Graph, n int, ar *arch.Arch) bool
}

// Catalogue is the rewrite rule set the compiler's rewrite-and-enqueue
// driver tries against a failing candidate graph.
// rule_mov_cst_transitivity is excluded (see DESIGN.md Open Question
// decisions): it never fires usefully once GenericTransitivity already
// covers MOV_CST's destination side.
var Catalogue = []Rule{
	{"generic_transitivity", func(g *stratgraph.Graph, n int, ar *arch.Arch) bool {
		return GenericTransitivity(g, n)
	}},
	{"mov_cst_pop", MovCstPop},
	{"adjust_load", AdjustLoad},
	{"adjust_store", AdjustStore},
	{"adjust_jmp", AdjustJmp},
}

// Candidates tries every catalogue rule, plus SrcTransitivity on every
// source-register parameter, against every enabled node of g, returning
// one independent rewritten copy per successful application. g itself is
// left untouched: the compiler's priority queue owns comparing and
// discarding candidates, not this package.
func Candidates(g *stratgraph.Graph, ar *arch.Arch) []*stratgraph.Graph {
	var out []*stratgraph.Graph
	for _, node := range g.Nodes {
		if node.Disabled {
			continue
		}
		n := node.ID

		for _, rule := range Catalogue {
			cand := g.Copy()
			if rule.Apply(cand, n, ar) {
				out = append(out, cand)
			}
		}

		for p := 0; p < node.NbParams(); p++ {
			if !node.IsSrcParam(p) {
				continue
			}
			cand := g.Copy()
			if SrcTransitivity(cand, n, p) {
				out = append(out, cand)
			}
		}
	}
	return out
}
