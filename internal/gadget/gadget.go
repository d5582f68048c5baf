// Package gadget defines the types shared by the classifier, the
// gadget database, and the scheduler/emitter: a gadget's symbolic
// semantics, its concrete metadata, and the ROP chain's output items.
package gadget

import "ropgen/internal/expr"

// BranchType is how a gadget transfers control once its effect has run.
type BranchType uint8

const (
	BranchRET BranchType = iota
	BranchJMP
	BranchCALL
	BranchSYSCALL
	BranchINT80
	BranchANY // wildcard, query-only
)

func (b BranchType) String() string {
	switch b {
	case BranchRET:
		return "RET"
	case BranchJMP:
		return "JMP"
	case BranchCALL:
		return "CALL"
	case BranchSYSCALL:
		return "SYSCALL"
	case BranchINT80:
		return "INT80"
	default:
		return "ANY"
	}
}

// MemWrite is one entry of a gadget's memory-write map: the gadget writes
// Value to the address computed by Addr. A later write to a
// structurally-equal (simplified) Addr replaces the earlier entry's
// Value outright; the executor applies this before a Gadget is ever
// built. Partial-width writes are not merged with the bytes of an
// earlier write, and writes to distinct but overlapping addresses stay
// separate entries.
type MemWrite struct {
	Addr  expr.Id
	Value expr.Id
}

// Semantics is a gadget's fully-simplified effect: a register file and a
// memory-write list.
type Semantics struct {
	Regs map[int]expr.Id
	Mem  []MemWrite
}

// Gadget is one classified, ready-to-query candidate instruction sequence.
type Gadget struct {
	ID        int
	Addresses []uint64
	Asm       string
	Sem       *Semantics

	SpInc            int // net stack pointer increment at the branch
	MaxSpInc         int // sp increment including bytes consumed after the branch
	BranchType       BranchType
	JmpReg           int    // valid iff BranchType == BranchJMP, else arch.NoReg
	ModifiedRegs     uint64 // bitmap
	DereferencedRegs uint64 // bitmap
	NbInstr          int
}

// SpDelta is max_sp_inc - sp_inc.
func (g *Gadget) SpDelta() int { return g.MaxSpInc - g.SpInc }

// GadgetType is the fixed classification taxonomy a gadget's simplified
// semantics is pattern-matched into.
type GadgetType uint8

const (
	TypeMovCst GadgetType = iota
	TypeMovReg
	TypeAMovCst
	TypeAMovReg
	TypeLoad
	TypeALoad
	TypeStore
	TypeAStore
	TypeJmp
	TypeSyscall
	TypeInt80
)

func (t GadgetType) String() string {
	names := [...]string{"MovCst", "MovReg", "AMovCst", "AMovReg", "Load", "ALoad", "Store", "AStore", "Jmp", "Syscall", "Int80"}
	if int(t) < len(names) {
		return names[t]
	}
	return "?"
}

// Key is the compound index key a classification entry is stored/looked
// up under. Its field meaning depends on GadgetType; see
// internal/gadgetdb for the per-type layout. Wildcard in a field used for
// a possible-get query means "wildcard this coordinate".
type Key [4]int64

// Wildcard marks a Key coordinate as free in a possible-get query.
const Wildcard int64 = -1 << 62

// Entry is one classification result: "this gadget realizes effect Type
// under Key".
type Entry struct {
	Type GadgetType
	Key  Key
}

