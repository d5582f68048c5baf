// Package expr implements the shared, immutable expression DAG: a small sum-typed node set (Cst, Var, Mem, Unop, Binop,
// Extract, Concat, Bisz, Unknown), an interning arena, canonicalisation,
// structural hashing and a rewrite-to-fixpoint simplifier.
// Grounded on original_source/librop/include/expression.hpp. The source's
// shared_ptr<ExprObject> DAG (ref-counted, cycle-free by construction) is
// re-architected here: nodes live in a flat Arena and are referred to by
// ExprId (an arena index), which eliminates ref-count cycles entirely
// and makes ExprId a plain comparable value.
package expr

import "fmt"

// Kind is the sum-type tag of an expression node.
type Kind uint8

const (
	KCst Kind = iota
	KVar
	KMem
	KUnop
	KBinop
	KExtract
	KConcat
	KBisz
	KUnknown
)

// Op enumerates the arithmetic/logical operators usable in Unop/Binop
// nodes. There is deliberately no binary SUB: subtraction is represented
// canonically as `x + (-1 * y)` (librop's `-x -> -1*x` canonical rewrite).
type Op uint8

const (
	OpAdd Op = iota
	OpMul
	OpMulh
	OpSmull
	OpSmulh
	OpDiv
	OpSdiv
	OpNeg // unary
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpMod
	OpSmod
	OpNot // unary
	OpNone
)

func (o Op) String() string {
	names := [...]string{"+", "*", "mulh", "smull", "smulh", "/", "sdiv", "-", "&", "|", "^", "<<", ">>", "%", "smod", "~", "none"}
	if int(o) < len(names) {
		return names[o]
	}
	return "?"
}

// IsUnary reports whether op is only ever used as a unary operator.
func (o Op) IsUnary() bool { return o == OpNeg || o == OpNot }

// IsSymmetric reports whether op(a,b) == op(b,a), enabling canonical
// child ordering and the x op x / x op ~x pairing rewrites.
func (o Op) IsSymmetric() bool {
	switch o {
	case OpAdd, OpMul, OpMulh, OpSmull, OpSmulh, OpAnd, OpOr, OpXor:
		return true
	default:
		return false
	}
}

// BiszMode selects the polarity of a zero-test node: ModeEqZero is 1 iff
// the argument is zero; ModeNeZero is 1 iff the argument is non-zero.
type BiszMode int8

const (
	ModeEqZero BiszMode = 0
	ModeNeZero BiszMode = 1
)

// Id is an index into an Arena; ids are assigned from 0 upward, so the
// zero value is a valid id. InvalidId (-1) marks a missing/unset Id.
type Id int32

const InvalidId Id = -1

// node is the flat, interned representation of one expression. Width is
// in bits. Exactly the fields relevant to Kind are meaningful; the rest
// are zero.
type node struct {
	kind  Kind
	width int

	// CST
	cst int64

	// VAR
	name string
	reg  int // -1 if this Var is not tied to a concrete register

	// UNOP/BINOP
	op Op

	// EXTRACT
	hi, lo int

	// BISZ
	mode BiszMode

	// children, meaning depends on kind:
	//   MEM: args[0] = address expr
	//   UNOP: args[0] = operand
	//   BINOP: args[0], args[1] = left, right
	//   EXTRACT: args[0] = operand
	//   CONCAT: args[0] = upper, args[1] = lower
	//   BISZ: args[0] = operand
	args [2]Id

	hash        uint32
	hashValid   bool
	simplified  bool // true once this exact node has passed simplify() unchanged
}

// Arena owns all expression nodes for one compilation session. Nodes are
// interned on construction: structurally identical expressions share the
// same Id, which is what makes pointer-free Id equality a valid
// structural-equality check.
type Arena struct {
	nodes  []node
	intern map[uint32][]Id
}

func NewArena() *Arena {
	return &Arena{intern: make(map[uint32][]Id)}
}

func (a *Arena) get(id Id) *node { return &a.nodes[id] }

// Width returns the bit width of id.
func (a *Arena) Width(id Id) int { return a.nodes[id].width }

// Kind returns the sum-type tag of id.
func (a *Arena) Kind(id Id) Kind { return a.nodes[id].kind }

func (a *Arena) internNode(n node) Id {
	h := a.structuralHash(&n)
	n.hash = h
	n.hashValid = true
	for _, cand := range a.intern[h] {
		if a.structuralEq(cand, &n) {
			return cand
		}
	}
	id := Id(len(a.nodes))
	a.nodes = append(a.nodes, n)
	a.intern[h] = append(a.intern[h], id)
	return id
}

func (a *Arena) structuralEq(existing Id, n *node) bool {
	e := &a.nodes[existing]
	if e.kind != n.kind || e.width != n.width || e.op != n.op ||
		e.hi != n.hi || e.lo != n.lo || e.mode != n.mode ||
		e.cst != n.cst || e.name != n.name || e.reg != n.reg {
		return false
	}
	return e.args == n.args
}

func (a *Arena) String(id Id) string {
	n := a.get(id)
	switch n.kind {
	case KCst:
		return fmt.Sprintf("0x%x", uint64(n.cst)&mask(n.width))
	case KVar:
		return n.name
	case KMem:
		return fmt.Sprintf("mem%d(%s)", n.width, a.String(n.args[0]))
	case KUnop:
		return fmt.Sprintf("%s%s", n.op, a.String(n.args[0]))
	case KBinop:
		return fmt.Sprintf("(%s %s %s)", a.String(n.args[0]), n.op, a.String(n.args[1]))
	case KExtract:
		return fmt.Sprintf("extract(%s,%d,%d)", a.String(n.args[0]), n.hi, n.lo)
	case KConcat:
		return fmt.Sprintf("concat(%s,%s)", a.String(n.args[0]), a.String(n.args[1]))
	case KBisz:
		return fmt.Sprintf("bisz%d(%s,%d)", n.width, a.String(n.args[0]), n.mode)
	case KUnknown:
		return "unknown"
	}
	return "?"
}

func mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}

