package search

import (
	"testing"

	"ropgen/internal/arch"
	"ropgen/internal/gadget"
	"ropgen/internal/gadgetdb"
	"ropgen/internal/il"
	"ropgen/internal/ir"
	"ropgen/internal/stratgraph"
)

func TestSelectAssignsGadgetToMovCstSeed(t *testing.T) {
	ar := arch.X86
	disasm := ir.DisasmX86(ar)
	db := gadgetdb.New()
	raws := []gadgetdb.RawGadget{
		{Addr: 0x2000, Raw: []byte{0xB8, 0x41, 0x41, 0x41, 0x41, 0xC3}}, // mov eax, 0x41414141; ret
	}
	if _, err := db.AnalyseRaw(raws, ar, disasm); err != nil {
		t.Fatalf("AnalyseRaw: %v", err)
	}

	eax, _ := ar.RegisterNumber("eax")
	instr := &il.Instr{Kind: il.MovCst, Dst: eax, SrcReg: arch.NoReg, BaseReg: arch.NoReg, Cst: 0x41414141}
	res, err := stratgraph.BuildSeed(ar, arch.ABICdecl, arch.SystemLinux, instr)
	if err != nil {
		t.Fatalf("BuildSeed: %v", err)
	}

	if !Select(res.Graph, db, ar) {
		t.Fatalf("Select failed to find a gadget for a trivially satisfiable seed")
	}
	node := res.Graph.Node(0)
	if node.AffectedGadget == nil {
		t.Fatalf("node should have an assigned gadget after a successful Select")
	}
	if node.AffectedGadget.Addresses[0] != 0x2000 {
		t.Fatalf("assigned gadget address = %#x, want 0x2000", node.AffectedGadget.Addresses[0])
	}
}

func TestSelectFailsWhenDatabaseHasNoMatch(t *testing.T) {
	ar := arch.X86
	db := gadgetdb.New() // empty database

	eax, _ := ar.RegisterNumber("eax")
	instr := &il.Instr{Kind: il.MovCst, Dst: eax, SrcReg: arch.NoReg, BaseReg: arch.NoReg, Cst: 0x41414141}
	res, err := stratgraph.BuildSeed(ar, arch.ABICdecl, arch.SystemLinux, instr)
	if err != nil {
		t.Fatalf("BuildSeed: %v", err)
	}
	if Select(res.Graph, db, ar) {
		t.Fatalf("Select should fail against an empty gadget database")
	}
}

func TestAssignGadgetRejectsBranchTypeMismatch(t *testing.T) {
	g := stratgraph.New()
	n := g.NewNode(gadget.TypeMovCst)
	node := g.Node(n)
	node.BranchType = gadget.BranchJMP // seed requires an indirect jump terminator
	cand := &gadget.Gadget{BranchType: gadget.BranchRET}
	if assignGadget(node, cand, arch.X86) {
		t.Fatalf("assignGadget should reject a gadget whose branch type does not match the node's requirement")
	}
}
