package ir

import (
	"encoding/binary"
	"fmt"

	"ropgen/internal/arch"
)

// regNames32/regNames64 map the canonical x86 ModRM register encoding
// (the index REX.R/B extend into 0-15 on x64) to register names, in
// Intel's fixed order: eax/rax, ecx/rcx, edx/rdx, ebx/rbx, esp/rsp,
// ebp/rbp, esi/rsi, edi/rdi, then r8-r15 on x64.
var regNames32 = []string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
var regNames64 = []string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// DisasmX86 returns a best-effort Disassembler for ar, covering the
// subset of the x86/x64 instruction set common in ROP gadgets: register
// and [base+disp] memory moves, simple two-operand arithmetic, push/pop,
// ret (with or without a stack-cleanup immediate), indirect jmp/call
// through a register, int 0x80 and syscall. Anything outside that subset
// (SIB addressing, RIP-relative/disp32-only addressing, immediate-to-
// memory stores, unrecognized opcodes) is rejected with an error rather
// than guessed at.
func DisasmX86(ar *arch.Arch) Disassembler {
	return func(addr uint64, raw []byte) (*Block, error) {
		d := &x86Decoder{ar: ar, raw: raw}
		var instrs []Instr
		for d.pos < len(raw) {
			ins, done, err := d.step()
			if err != nil {
				return nil, fmt.Errorf("disasmx86 at 0x%x+%d: %w", addr, d.pos, err)
			}
			instrs = append(instrs, ins...)
			if done {
				return &Block{Name: fmt.Sprintf("gadget_%x", addr), Blocks: [][]Instr{instrs}}, nil
			}
		}
		return nil, fmt.Errorf("disasmx86 at 0x%x: no terminating branch found in %d bytes", addr, len(raw))
	}
}

type x86Decoder struct {
	ar  *arch.Arch
	raw []byte
	pos int

	rexW, rexR, rexB bool

	tmpCounter int
}

func (d *x86Decoder) nextTmp() int {
	d.tmpCounter++
	return d.tmpCounter
}

func (d *x86Decoder) peek() (byte, bool) {
	if d.pos >= len(d.raw) {
		return 0, false
	}
	return d.raw[d.pos], true
}

func (d *x86Decoder) u8() (byte, bool) {
	b, ok := d.peek()
	if ok {
		d.pos++
	}
	return b, ok
}

func (d *x86Decoder) i8() (int8, bool) {
	b, ok := d.u8()
	return int8(b), ok
}

func (d *x86Decoder) i32() (int32, bool) {
	if d.pos+4 > len(d.raw) {
		return 0, false
	}
	v := int32(binary.LittleEndian.Uint32(d.raw[d.pos:]))
	d.pos += 4
	return v, true
}

func (d *x86Decoder) wordWidth() int {
	if d.rexW {
		return 64
	}
	return d.ar.Bits
}

func (d *x86Decoder) regNum(canonical int) (int, bool) {
	names := regNames32
	if d.ar.Bits == 64 {
		names = regNames64
	}
	if canonical < 0 || canonical >= len(names) {
		return 0, false
	}
	return d.ar.RegisterNumber(names[canonical])
}

// decodeModRM reads one ModRM byte (plus any displacement) and returns
// the register-field index (REX.R already folded in), whether the
// operand is memory or register-direct, and for a register-direct
// operand the rm-field index (REX.B folded in); for a memory operand,
// the base-register canonical index and signed displacement.
func (d *x86Decoder) decodeModRM() (regField int, isMem bool, rmOrBase int, disp int32, err error) {
	b, ok := d.u8()
	if !ok {
		return 0, false, 0, 0, fmt.Errorf("truncated modrm")
	}
	mod := int(b >> 6)
	regField = int((b >> 3) & 7)
	if d.rexR {
		regField += 8
	}
	rm := int(b & 7)

	if mod == 3 {
		if d.rexB {
			rm += 8
		}
		return regField, false, rm, 0, nil
	}
	if rm == 4 {
		return 0, false, 0, 0, fmt.Errorf("SIB addressing unsupported")
	}
	if mod == 0 && rm == 5 {
		return 0, false, 0, 0, fmt.Errorf("rip-relative/disp32-only addressing unsupported")
	}

	base := rm
	if d.rexB {
		base += 8
	}
	switch mod {
	case 1:
		v, ok := d.i8()
		if !ok {
			return 0, false, 0, 0, fmt.Errorf("truncated disp8")
		}
		disp = int32(v)
	case 2:
		v, ok := d.i32()
		if !ok {
			return 0, false, 0, 0, fmt.Errorf("truncated disp32")
		}
		disp = v
	}
	return regField, true, base, disp, nil
}

// effAddr produces the operand to use as a LDM/STM address for
// base+disp: the base register directly when disp is zero, otherwise a
// fresh temporary holding base+disp, plus the instruction computing it.
func (d *x86Decoder) effAddr(base int, disp int32, width int) (Operand, []Instr) {
	if disp == 0 {
		return Reg(base, width), nil
	}
	t := d.nextTmp()
	return Tmp(t, width), []Instr{{Op: OpADD, Dst: Tmp(t, width), Src1: Reg(base, width), Src2: Cst(int64(disp), width)}}
}

func (d *x86Decoder) push(reg, width int) []Instr {
	sp := d.ar.SP
	ws := int64(d.ar.WordSize)
	return []Instr{
		{Op: OpSUB, Dst: Reg(sp, width), Src1: Reg(sp, width), Src2: Cst(ws, width)},
		{Op: OpSTM, Dst: Reg(sp, width), Src1: Reg(reg, width)},
	}
}

func (d *x86Decoder) pop(reg, width int) []Instr {
	sp := d.ar.SP
	ws := int64(d.ar.WordSize)
	return []Instr{
		{Op: OpLDM, Dst: Reg(reg, width), Src1: Reg(sp, width)},
		{Op: OpADD, Dst: Reg(sp, width), Src1: Reg(sp, width), Src2: Cst(ws, width)},
	}
}

func (d *x86Decoder) ret(extra int) []Instr {
	sp, pc := d.ar.SP, d.ar.PC
	width := d.ar.Bits
	return []Instr{
		{Op: OpLDM, Dst: Reg(pc, width), Src1: Reg(sp, width)},
		{Op: OpADD, Dst: Reg(sp, width), Src1: Reg(sp, width), Src2: Cst(int64(d.ar.WordSize+extra), width)},
		{Op: OpJCC, Dst: Reg(pc, width), Src1: Cst(1, 1)},
	}
}

func bpName(ar *arch.Arch) string {
	if ar.Bits == 64 {
		return "rbp"
	}
	return "ebp"
}

// modrmBinary decodes a ModRM operand pair for a two-operand opcode and
// emits the IR realizing op(dst, src). storeToRm selects Intel's
// "op r/m, r" encoding (register field is the source) versus
// "op r, r/m" (register field is the destination). Only MOV supports a
// memory operand on the store side; accumulating ops with a memory
// operand are modeled as load-compute-store.
func (d *x86Decoder) modrmBinary(op Opcode, width int, storeToRm bool) ([]Instr, bool, error) {
	regField, isMem, rmOrBase, disp, err := d.decodeModRM()
	if err != nil {
		return nil, false, err
	}
	regNum, ok := d.regNum(regField)
	if !ok {
		return nil, false, fmt.Errorf("unknown register field %d", regField)
	}

	if !isMem {
		rmReg, ok := d.regNum(rmOrBase)
		if !ok {
			return nil, false, fmt.Errorf("unknown rm register %d", rmOrBase)
		}
		var dst, src Operand
		if storeToRm {
			dst, src = Reg(rmReg, width), Reg(regNum, width)
		} else {
			dst, src = Reg(regNum, width), Reg(rmReg, width)
		}
		if op == OpMOV {
			return []Instr{{Op: OpMOV, Dst: dst, Src1: src}}, false, nil
		}
		return []Instr{{Op: op, Dst: dst, Src1: dst, Src2: src}}, false, nil
	}

	baseReg, ok := d.regNum(rmOrBase)
	if !ok {
		return nil, false, fmt.Errorf("unknown base register %d", rmOrBase)
	}
	addrOp, pre := d.effAddr(baseReg, disp, width)
	instrs := append([]Instr(nil), pre...)

	switch {
	case op == OpMOV && storeToRm:
		instrs = append(instrs, Instr{Op: OpSTM, Dst: addrOp, Src1: Reg(regNum, width)})
		return instrs, false, nil
	case op == OpMOV && !storeToRm:
		instrs = append(instrs, Instr{Op: OpLDM, Dst: Reg(regNum, width), Src1: addrOp})
		return instrs, false, nil
	case !storeToRm:
		// reg = reg op mem(addr)
		t := d.nextTmp()
		instrs = append(instrs, Instr{Op: OpLDM, Dst: Tmp(t, width), Src1: addrOp})
		instrs = append(instrs, Instr{Op: op, Dst: Reg(regNum, width), Src1: Reg(regNum, width), Src2: Tmp(t, width)})
		return instrs, false, nil
	default:
		// mem(addr) = mem(addr) op reg
		t := d.nextTmp()
		instrs = append(instrs, Instr{Op: OpLDM, Dst: Tmp(t, width), Src1: addrOp})
		instrs = append(instrs, Instr{Op: op, Dst: Tmp(t, width), Src1: Tmp(t, width), Src2: Reg(regNum, width)})
		instrs = append(instrs, Instr{Op: OpSTM, Dst: addrOp, Src1: Tmp(t, width)})
		return instrs, false, nil
	}
}

// step decodes one instruction (after any REX prefix chain), returning
// the IR it lowers to and whether it terminates the gadget (a RET,
// indirect JMP/CALL, INT 0x80, or SYSCALL).
func (d *x86Decoder) step() ([]Instr, bool, error) {
	d.rexW, d.rexR, d.rexB = false, false, false
	for {
		b, ok := d.peek()
		if !ok {
			return nil, false, fmt.Errorf("truncated instruction")
		}
		if d.ar.Bits == 64 && b >= 0x40 && b <= 0x4F {
			d.pos++
			d.rexW = b&0x08 != 0
			d.rexR = b&0x04 != 0
			d.rexB = b&0x01 != 0
			continue
		}
		break
	}

	op, ok := d.u8()
	if !ok {
		return nil, false, fmt.Errorf("truncated opcode")
	}
	width := d.wordWidth()

	switch {
	case op == 0x90: // NOP
		return nil, false, nil

	case op == 0xC3: // RET
		return d.ret(0), true, nil

	case op == 0xC2: // RET imm16
		lo, ok1 := d.u8()
		hi, ok2 := d.u8()
		if !ok1 || !ok2 {
			return nil, false, fmt.Errorf("truncated ret imm16")
		}
		return d.ret(int(lo) | int(hi)<<8), true, nil

	case op == 0xCD: // INT n
		n, ok := d.u8()
		if !ok {
			return nil, false, fmt.Errorf("truncated int")
		}
		if n != 0x80 {
			return nil, false, fmt.Errorf("unsupported int 0x%x", n)
		}
		return []Instr{{Op: OpINT, Imm: int64(n)}}, true, nil

	case op == 0x0F:
		b2, ok := d.u8()
		if !ok {
			return nil, false, fmt.Errorf("truncated two-byte opcode")
		}
		if b2 == 0x05 {
			return []Instr{{Op: OpSYSCALL}}, true, nil
		}
		return nil, false, fmt.Errorf("unsupported opcode 0f %02x", b2)

	case op >= 0x50 && op <= 0x57: // PUSH r
		canon := int(op - 0x50)
		if d.rexB {
			canon += 8
		}
		reg, ok := d.regNum(canon)
		if !ok {
			return nil, false, fmt.Errorf("unknown push register")
		}
		return d.push(reg, width), false, nil

	case op >= 0x58 && op <= 0x5F: // POP r
		canon := int(op - 0x58)
		if d.rexB {
			canon += 8
		}
		reg, ok := d.regNum(canon)
		if !ok {
			return nil, false, fmt.Errorf("unknown pop register")
		}
		return d.pop(reg, width), false, nil

	case op >= 0xB8 && op <= 0xBF: // MOV r, imm32/imm64
		canon := int(op - 0xB8)
		if d.rexB {
			canon += 8
		}
		reg, ok := d.regNum(canon)
		if !ok {
			return nil, false, fmt.Errorf("unknown mov-imm register")
		}
		var imm int64
		if d.rexW {
			if d.pos+8 > len(d.raw) {
				return nil, false, fmt.Errorf("truncated imm64")
			}
			imm = int64(binary.LittleEndian.Uint64(d.raw[d.pos:]))
			d.pos += 8
		} else {
			v, ok := d.i32()
			if !ok {
				return nil, false, fmt.Errorf("truncated imm32")
			}
			imm = int64(uint32(v))
		}
		return []Instr{{Op: OpMOV, Dst: Reg(reg, width), Src1: Cst(imm, width)}}, false, nil

	case op == 0x89:
		return d.modrmBinary(OpMOV, width, true)
	case op == 0x8B:
		return d.modrmBinary(OpMOV, width, false)
	case op == 0x01:
		return d.modrmBinary(OpADD, width, true)
	case op == 0x03:
		return d.modrmBinary(OpADD, width, false)
	case op == 0x29:
		return d.modrmBinary(OpSUB, width, true)
	case op == 0x2B:
		return d.modrmBinary(OpSUB, width, false)
	case op == 0x31:
		return d.modrmBinary(OpXOR, width, true)
	case op == 0x33:
		return d.modrmBinary(OpXOR, width, false)
	case op == 0x21:
		return d.modrmBinary(OpAND, width, true)
	case op == 0x23:
		return d.modrmBinary(OpAND, width, false)
	case op == 0x09:
		return d.modrmBinary(OpOR, width, true)
	case op == 0x0B:
		return d.modrmBinary(OpOR, width, false)

	case op == 0xC9: // LEAVE: mov sp, bp; pop bp
		bp, ok := d.ar.RegisterNumber(bpName(d.ar))
		if !ok {
			return nil, false, fmt.Errorf("arch has no base-pointer register")
		}
		instrs := []Instr{{Op: OpMOV, Dst: Reg(d.ar.SP, width), Src1: Reg(bp, width)}}
		instrs = append(instrs, d.pop(bp, width)...)
		return instrs, false, nil

	case op == 0xFF: // indirect JMP/CALL r/m (register-direct only)
		regField, isMem, rmOrBase, _, err := d.decodeModRM()
		if err != nil {
			return nil, false, err
		}
		if isMem {
			return nil, false, fmt.Errorf("indirect jmp/call through memory unsupported")
		}
		reg, ok := d.regNum(rmOrBase)
		if !ok {
			return nil, false, fmt.Errorf("unknown jmp/call register")
		}
		switch regField & 7 {
		case 4, 2: // /4 JMP r/m, /2 CALL r/m (CALL modeled as an indirect jmp: no return-address push)
			return []Instr{{Op: OpJCC, Dst: Reg(reg, width), Src1: Cst(1, 1)}}, true, nil
		default:
			return nil, false, fmt.Errorf("unsupported 0xff /%d", regField&7)
		}

	default:
		return nil, false, fmt.Errorf("unsupported opcode 0x%02x", op)
	}
}
