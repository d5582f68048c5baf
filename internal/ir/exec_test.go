package ir

import (
	"testing"

	"ropgen/internal/arch"
	"ropgen/internal/expr"
)

// popRetBlock builds "pop eax; ret" directly as IR, independent of the
// x86 decoder, so the symbolic executor is exercised on its own.
func popRetBlock(ar *arch.Arch) *Block {
	sp, pc, width := ar.SP, ar.PC, ar.Bits
	ws := int64(ar.WordSize)
	eax, _ := ar.RegisterNumber("eax")
	instrs := []Instr{
		{Op: OpLDM, Dst: Reg(eax, width), Src1: Reg(sp, width)},
		{Op: OpADD, Dst: Reg(sp, width), Src1: Reg(sp, width), Src2: Cst(ws, width)},
		{Op: OpLDM, Dst: Reg(pc, width), Src1: Reg(sp, width)},
		{Op: OpADD, Dst: Reg(sp, width), Src1: Reg(sp, width), Src2: Cst(ws, width)},
		{Op: OpJCC, Dst: Reg(pc, width), Src1: Cst(1, 1)},
	}
	return &Block{Name: "pop_ret", Blocks: [][]Instr{instrs}}
}

func TestExecutePopRetSpInc(t *testing.T) {
	ar := arch.X86
	a := expr.NewArena()
	res, err := Execute(a, ar, popRetBlock(ar))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.MaxSpIncKnown {
		t.Fatalf("expected a known sp increment for pop;ret")
	}
	if res.MaxSpInc != 2*ar.WordSize {
		t.Fatalf("MaxSpInc = %d, want %d", res.MaxSpInc, 2*ar.WordSize)
	}
	eax, _ := ar.RegisterNumber("eax")
	if _, ok := res.Sem.Regs[eax]; !ok {
		t.Fatalf("expected eax to appear in the final register semantics")
	}
}

func TestExecuteSyscallSetsFlag(t *testing.T) {
	ar := arch.X64
	a := expr.NewArena()
	block := &Block{Name: "syscall", Blocks: [][]Instr{{{Op: OpSYSCALL}}}}
	res, err := Execute(a, ar, block)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.EndsWithSyscall {
		t.Fatalf("expected EndsWithSyscall = true")
	}
}

func TestExecuteInt80SetsFlag(t *testing.T) {
	ar := arch.X86
	a := expr.NewArena()
	block := &Block{Name: "int80", Blocks: [][]Instr{{{Op: OpINT, Imm: 0x80}}}}
	res, err := Execute(a, ar, block)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.EndsWithInt80 {
		t.Fatalf("expected EndsWithInt80 = true")
	}
}

func TestExecuteStoreMemOverwritesSameAddress(t *testing.T) {
	ar := arch.X86
	a := expr.NewArena()
	width := ar.Bits
	ebx, _ := ar.RegisterNumber("ebx")
	ecx, _ := ar.RegisterNumber("ecx")
	edx, _ := ar.RegisterNumber("edx")
	instrs := []Instr{
		{Op: OpSTM, Dst: Reg(ebx, width), Src1: Reg(ecx, width)},
		{Op: OpSTM, Dst: Reg(ebx, width), Src1: Reg(edx, width)},
	}
	block := &Block{Name: "double_store", Blocks: [][]Instr{instrs}}
	res, err := Execute(a, ar, block)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Sem.Mem) != 1 {
		t.Fatalf("writes to the same address should collapse to one entry, got %d", len(res.Sem.Mem))
	}
}

func TestExecuteNonConstantBranchFails(t *testing.T) {
	ar := arch.X86
	a := expr.NewArena()
	width := ar.Bits
	eax, _ := ar.RegisterNumber("eax")
	block := &Block{Name: "bad_branch", Blocks: [][]Instr{{
		{Op: OpJCC, Dst: Reg(ar.PC, width), Src1: Reg(eax, width)},
	}}}
	if _, err := Execute(a, ar, block); err == nil {
		t.Fatalf("expected a non-constant JCC guard to fail symbolic execution")
	}
}
