package expr

// This file exposes narrow structural-inspection helpers over the arena
// without leaking the node representation, for callers (the symbolic
// executor's stack-pointer tracking, the classifier) that need to
// pattern-match specific shapes post-simplification.

// IsCst reports whether id is a constant node and returns its value.
func (a *Arena) IsCst(id Id) (int64, bool) {
	n := a.get(id)
	if n.kind == KCst {
		return n.cst, true
	}
	return 0, false
}

// IsVar reports whether id is a variable node tied to a concrete
// register, returning that register number.
func (a *Arena) IsVar(id Id) (reg int, name string, ok bool) {
	n := a.get(id)
	if n.kind == KVar {
		return n.reg, n.name, true
	}
	return 0, "", false
}

func (a *Arena) IsMem(id Id) (addr Id, ok bool) {
	n := a.get(id)
	if n.kind == KMem {
		return n.args[0], true
	}
	return InvalidId, false
}

// SplitAddConst reports whether id is `Cst + other` or `other + Cst`
// (construction canonicalises symmetric operands so the constant always
// sorts first, but this checks both positions defensively).
func (a *Arena) SplitAddConst(id Id) (cst int64, other Id, ok bool) {
	n := a.get(id)
	if n.kind != KBinop || n.op != OpAdd {
		return 0, InvalidId, false
	}
	if c, isCst := a.IsCst(n.args[0]); isCst {
		return c, n.args[1], true
	}
	if c, isCst := a.IsCst(n.args[1]); isCst {
		return c, n.args[0], true
	}
	return 0, InvalidId, false
}

// BinopParts returns a Binop node's operator and operands.
func (a *Arena) BinopParts(id Id) (op Op, l, r Id, ok bool) {
	n := a.get(id)
	if n.kind != KBinop {
		return 0, InvalidId, InvalidId, false
	}
	return n.op, n.args[0], n.args[1], true
}

// UnopParts returns a Unop node's operator and operand.
func (a *Arena) UnopParts(id Id) (op Op, x Id, ok bool) {
	n := a.get(id)
	if n.kind != KUnop {
		return 0, InvalidId, false
	}
	return n.op, n.args[0], true
}

func (a *Arena) IsUnknown(id Id) bool { return a.Kind(id) == KUnknown }
