package ir

import (
	"testing"

	"ropgen/internal/arch"
)

func TestDisasmX86PopRet(t *testing.T) {
	d := DisasmX86(arch.X86)
	block, err := d(0x1000, []byte{0x58, 0xC3}) // pop eax; ret
	if err != nil {
		t.Fatalf("disassemble pop/ret: %v", err)
	}
	if len(block.Blocks) != 1 || len(block.Blocks[0]) == 0 {
		t.Fatalf("expected a non-empty single block, got %+v", block)
	}
	last := block.Blocks[0][len(block.Blocks[0])-1]
	if last.Op != OpJCC {
		t.Fatalf("last instruction op = %v, want OpJCC (ret lowers to an unconditional jcc)", last.Op)
	}
}

func TestDisasmX86MovImmRet(t *testing.T) {
	d := DisasmX86(arch.X86)
	// mov eax, 0x1 ; ret
	block, err := d(0x2000, []byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0xC3})
	if err != nil {
		t.Fatalf("disassemble mov-imm/ret: %v", err)
	}
	first := block.Blocks[0][0]
	if first.Op != OpMOV || first.Src1.Kind != OperandCst || first.Src1.Cst != 1 {
		t.Fatalf("first instruction = %+v, want mov eax, 1", first)
	}
}

func TestDisasmX86RegToRegMov(t *testing.T) {
	d := DisasmX86(arch.X86)
	// mov eax, ebx (0x8B /r, mod=11 reg=000 rm=011); ret
	modrm := byte(0xC0 | (0 << 3) | 3)
	block, err := d(0x3000, []byte{0x8B, modrm, 0xC3})
	if err != nil {
		t.Fatalf("disassemble mov r,r: %v", err)
	}
	first := block.Blocks[0][0]
	if first.Op != OpMOV || first.Src1.Kind != OperandVar {
		t.Fatalf("first instruction = %+v, want register-to-register mov", first)
	}
}

func TestDisasmX86SyscallTerminates(t *testing.T) {
	d := DisasmX86(arch.X64)
	block, err := d(0x4000, []byte{0x0F, 0x05}) // syscall
	if err != nil {
		t.Fatalf("disassemble syscall: %v", err)
	}
	instrs := block.Blocks[0]
	if len(instrs) != 1 || instrs[0].Op != OpSYSCALL {
		t.Fatalf("instrs = %+v, want a single OpSYSCALL", instrs)
	}
}

func TestDisasmX86RejectsSIBAddressing(t *testing.T) {
	d := DisasmX86(arch.X86)
	// mov eax, [sib] (0x8B /r, mod=00 reg=000 rm=100 triggers SIB)
	modrm := byte(0x00 | (0 << 3) | 4)
	if _, err := d(0x5000, []byte{0x8B, modrm, 0x00, 0xC3}); err == nil {
		t.Fatalf("expected SIB addressing to be rejected")
	}
}

func TestDisasmX86RejectsUnknownOpcode(t *testing.T) {
	d := DisasmX86(arch.X86)
	if _, err := d(0x6000, []byte{0xF4}); err == nil { // HLT, not in the supported subset
		t.Fatalf("expected unsupported opcode to error")
	}
}

func TestDisasmX86NoTerminatorErrors(t *testing.T) {
	d := DisasmX86(arch.X86)
	if _, err := d(0x7000, []byte{0x90, 0x90}); err == nil { // two NOPs, no branch
		t.Fatalf("expected missing-terminator error")
	}
}
