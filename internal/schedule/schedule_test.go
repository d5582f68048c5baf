package schedule

import (
	"testing"

	"ropgen/internal/arch"
	"ropgen/internal/gadget"
	"ropgen/internal/ropchain"
	"ropgen/internal/stratgraph"
)

func bindRetGadget(g *stratgraph.Graph, n int, addr uint64, spInc int) {
	node := g.Node(n)
	node.AffectedGadget = &gadget.Gadget{Addresses: []uint64{addr}, BranchType: gadget.BranchRET, SpInc: spInc, MaxSpInc: spInc}
	node.Params[node.ParamNumGadgetAddr()] = stratgraph.CstParam(int64(addr), "", true)
	node.Params[node.ParamNumSpInc()] = stratgraph.CstParam(int64(spInc), "", true)
}

func TestScheduleSucceedsWithoutInterference(t *testing.T) {
	ar := arch.X86
	g := stratgraph.New()
	n := g.NewNode(gadget.TypeMovCst)
	g.Node(n).Params[stratgraph.ParamMovCstDstReg] = stratgraph.RegParam(0, true)
	g.Node(n).Params[stratgraph.ParamMovCstSrcCst] = stratgraph.CstParam(0x41414141, "", true)
	bindRetGadget(g, n, 0x2000, ar.WordSize)

	if !Schedule(g) {
		t.Fatalf("Schedule failed for a single node with no interference")
	}
	if len(g.DfsScheduling) != 1 {
		t.Fatalf("DfsScheduling = %v, want exactly one node", g.DfsScheduling)
	}
}

func TestEmitProducesGadgetThenPaddingWords(t *testing.T) {
	ar := arch.X86
	g := stratgraph.New()
	n := g.NewNode(gadget.TypeMovCst)
	g.Node(n).Params[stratgraph.ParamMovCstDstReg] = stratgraph.RegParam(0, true)
	g.Node(n).Params[stratgraph.ParamMovCstSrcCst] = stratgraph.CstParam(0x41414141, "", true)
	bindRetGadget(g, n, 0x2000, 2*ar.WordSize) // one word consumed as the return slot, one left as padding

	if !Schedule(g) {
		t.Fatalf("Schedule failed")
	}
	chain := Emit(g, ar, 0x0c0c0c0c)
	if chain.Len() != 2 {
		t.Fatalf("chain length = %d, want 2 (gadget + 1 padding word)", chain.Len())
	}
	if chain.Items[0].Type != ropchain.ItemGadget || chain.Items[0].Addr != 0x2000 {
		t.Fatalf("first item = %+v, want the gadget at 0x2000", chain.Items[0])
	}
	if chain.Items[1].Type != ropchain.ItemPadding || chain.Items[1].Value != 0x0c0c0c0c {
		t.Fatalf("second item = %+v, want a default padding word", chain.Items[1])
	}
}

func TestEmitSkipsIndirectNodes(t *testing.T) {
	ar := arch.X86
	g := stratgraph.New()
	n := g.NewNode(gadget.TypeJmp)
	g.Node(n).BranchType = gadget.BranchJMP
	bindRetGadget(g, n, 0x3000, ar.WordSize)

	nRet := g.NewNode(gadget.TypeLoad)
	g.Node(nRet).IsIndirect = true
	bindRetGadget(g, nRet, 0x4000, ar.WordSize)
	g.Node(n).MandatoryFollowing = nRet

	if !g.ComputeDfsScheduling() {
		t.Fatalf("ComputeDfsScheduling failed")
	}
	chain := Emit(g, ar, 0)
	for _, it := range chain.Items {
		if it.Type == ropchain.ItemGadget && it.Addr == 0x4000 {
			t.Fatalf("Emit should skip the indirect mandatory-following node's own gadget entry")
		}
	}
}
