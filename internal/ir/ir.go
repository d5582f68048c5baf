// Package ir implements the three-address intermediate representation
// gadgets are lifted to, and the per-block symbolic executor that turns
// an IRBlock into a Semantics map.
// Disassembly of raw bytes into this IR is an external collaborator:
// the core only consumes a Disassembler function value.
package ir

// OperandKind is the sum-type tag of an instruction operand.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandCst
	OperandVar
	OperandTmp
)

// Operand is an IR instruction operand carrying its own bit slice: a
// Cst, Var or Tmp, each with a (high, low) bit range.
type Operand struct {
	Kind OperandKind
	Cst  int64 // OperandCst
	Reg  int   // OperandVar: architecture register number
	Tmp  int   // OperandTmp: scratch temporary index
	High int   // inclusive bit bounds, within the operand's own register/tmp width
	Low  int
}

func None() Operand { return Operand{Kind: OperandNone} }

func Cst(v int64, width int) Operand {
	return Operand{Kind: OperandCst, Cst: v, High: width - 1, Low: 0}
}

func Reg(reg, width int) Operand {
	return Operand{Kind: OperandVar, Reg: reg, High: width - 1, Low: 0}
}

func RegSlice(reg, hi, lo int) Operand {
	return Operand{Kind: OperandVar, Reg: reg, High: hi, Low: lo}
}

func Tmp(idx, width int) Operand {
	return Operand{Kind: OperandTmp, Tmp: idx, High: width - 1, Low: 0}
}

func (o Operand) Width() int { return o.High - o.Low + 1 }

// Opcode enumerates the IR's instruction set.
type Opcode uint8

const (
	OpADD Opcode = iota
	OpSUB
	OpMUL
	OpMULH
	OpSMULL
	OpSMULH
	OpDIV
	OpSDIV
	OpNEG
	OpAND
	OpOR
	OpXOR
	OpSHL
	OpSHR
	OpNOT
	OpMOD
	OpSMOD
	OpMOV
	OpLDM
	OpSTM
	OpBCC     // intra-block conditional branch
	OpJCC     // inter-block branch / final control transfer
	OpBISZ
	OpCONCAT
	OpINT
	OpSYSCALL
)

// Instr is one three-address IR instruction: (op, dst, src1, src2, imm).
// Imm multiplexes: BCC/JCC branch target (basic-block index for BCC),
// BISZ mode, and the INT argument.
type Instr struct {
	Op         Opcode
	Dst        Operand
	Src1, Src2 Operand
	Imm        int64
}

// Block is a named sequence of basic blocks; BCC targets reference
// indices into Blocks.
type Block struct {
	Name   string
	Blocks [][]Instr
}

// Disassembler lifts raw gadget bytes at addr into an IRBlock.
// internal/ir/disasmx86.go supplies a best-effort stand-in for x86/x64,
// not a general decoder.
type Disassembler func(addr uint64, raw []byte) (*Block, error)

