package classify

import (
	"testing"

	"ropgen/internal/arch"
	"ropgen/internal/expr"
	"ropgen/internal/gadget"
	"ropgen/internal/ir"
)

func run(t *testing.T, ar *arch.Arch, instrs []ir.Instr) (*expr.Arena, *ir.Result) {
	t.Helper()
	a := expr.NewArena()
	block := &ir.Block{Name: "test", Blocks: [][]ir.Instr{instrs}}
	res, err := ir.Execute(a, ar, block)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return a, res
}

func TestClassifyBareRet(t *testing.T) {
	ar := arch.X86
	width := ar.Bits
	ws := int64(ar.WordSize)
	instrs := []ir.Instr{
		{Op: ir.OpLDM, Dst: ir.Reg(ar.PC, width), Src1: ir.Reg(ar.SP, width)},
		{Op: ir.OpADD, Dst: ir.Reg(ar.SP, width), Src1: ir.Reg(ar.SP, width), Src2: ir.Cst(ws, width)},
		{Op: ir.OpJCC, Dst: ir.Reg(ar.PC, width), Src1: ir.Cst(1, 1)},
	}
	a, res := run(t, ar, instrs)
	verdict, ok := Classify(a, ar, res)
	if !ok {
		t.Fatalf("plain ret failed to classify")
	}
	if verdict.BranchType != gadget.BranchRET {
		t.Fatalf("BranchType = %v, want BranchRET", verdict.BranchType)
	}
	if verdict.SpInc != ar.WordSize {
		t.Fatalf("SpInc = %d, want %d", verdict.SpInc, ar.WordSize)
	}
}

func TestClassifyPopRet(t *testing.T) {
	ar := arch.X86
	width := ar.Bits
	ws := int64(ar.WordSize)
	eax, _ := ar.RegisterNumber("eax")
	instrs := []ir.Instr{
		{Op: ir.OpLDM, Dst: ir.Reg(eax, width), Src1: ir.Reg(ar.SP, width)},
		{Op: ir.OpADD, Dst: ir.Reg(ar.SP, width), Src1: ir.Reg(ar.SP, width), Src2: ir.Cst(ws, width)},
		{Op: ir.OpLDM, Dst: ir.Reg(ar.PC, width), Src1: ir.Reg(ar.SP, width)},
		{Op: ir.OpADD, Dst: ir.Reg(ar.SP, width), Src1: ir.Reg(ar.SP, width), Src2: ir.Cst(ws, width)},
		{Op: ir.OpJCC, Dst: ir.Reg(ar.PC, width), Src1: ir.Cst(1, 1)},
	}
	a, res := run(t, ar, instrs)
	verdict, ok := Classify(a, ar, res)
	if !ok {
		t.Fatalf("pop;ret failed to classify")
	}
	if verdict.BranchType != gadget.BranchRET {
		t.Fatalf("BranchType = %v, want BranchRET", verdict.BranchType)
	}
	if verdict.SpInc != 2*ar.WordSize {
		t.Fatalf("SpInc = %d, want %d", verdict.SpInc, 2*ar.WordSize)
	}
	found := false
	for _, e := range verdict.Entries {
		if e.Type == gadget.TypeLoad && e.Key[0] == int64(eax) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a TypeLoad entry for eax, got %+v", verdict.Entries)
	}
}

func TestClassifyMovCst(t *testing.T) {
	ar := arch.X86
	width := ar.Bits
	ws := int64(ar.WordSize)
	eax, _ := ar.RegisterNumber("eax")
	instrs := []ir.Instr{
		{Op: ir.OpMOV, Dst: ir.Reg(eax, width), Src1: ir.Cst(0x41414141, width)},
		{Op: ir.OpLDM, Dst: ir.Reg(ar.PC, width), Src1: ir.Reg(ar.SP, width)},
		{Op: ir.OpADD, Dst: ir.Reg(ar.SP, width), Src1: ir.Reg(ar.SP, width), Src2: ir.Cst(ws, width)},
		{Op: ir.OpJCC, Dst: ir.Reg(ar.PC, width), Src1: ir.Cst(1, 1)},
	}
	a, res := run(t, ar, instrs)
	verdict, ok := Classify(a, ar, res)
	if !ok {
		t.Fatalf("mov eax, cst; ret failed to classify")
	}
	found := false
	for _, e := range verdict.Entries {
		if e.Type == gadget.TypeMovCst && e.Key[0] == int64(eax) && e.Key[1] == 0x41414141 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a TypeMovCst(eax, 0x41414141) entry, got %+v", verdict.Entries)
	}
}

func TestClassifyIndirectJmp(t *testing.T) {
	ar := arch.X86
	width := ar.Bits
	eax, _ := ar.RegisterNumber("eax")
	instrs := []ir.Instr{
		{Op: ir.OpJCC, Dst: ir.Reg(eax, width), Src1: ir.Cst(1, 1)},
	}
	a, res := run(t, ar, instrs)
	verdict, ok := Classify(a, ar, res)
	if !ok {
		t.Fatalf("jmp eax failed to classify")
	}
	if verdict.BranchType != gadget.BranchJMP || verdict.JmpReg != eax {
		t.Fatalf("verdict = %+v, want BranchJMP through eax", verdict)
	}
}

func TestClassifyRejectsUnknownSpIncrement(t *testing.T) {
	ar := arch.X86
	width := ar.Bits
	ebx, _ := ar.RegisterNumber("ebx")
	instrs := []ir.Instr{
		// sp becomes sp + ebx: not a compile-time constant offset
		{Op: ir.OpADD, Dst: ir.Reg(ar.SP, width), Src1: ir.Reg(ar.SP, width), Src2: ir.Reg(ebx, width)},
		{Op: ir.OpLDM, Dst: ir.Reg(ar.PC, width), Src1: ir.Reg(ar.SP, width)},
		{Op: ir.OpJCC, Dst: ir.Reg(ar.PC, width), Src1: ir.Cst(1, 1)},
	}
	a, res := run(t, ar, instrs)
	if _, ok := Classify(a, ar, res); ok {
		t.Fatalf("expected classification to reject a non-constant sp increment")
	}
}
