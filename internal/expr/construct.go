package expr

// Construction returns canonicalised expressions: binary operators with
// symmetric semantics sort their children by a total order so that
// structurally-equivalent trees always intern to the same Id, and so the
// simplifier can pattern-match "constant first".

func (a *Arena) Cst(width int, v int64) Id {
	v = signTrunc(width, v)
	return a.internNode(node{kind: KCst, width: width, cst: v, args: [2]Id{InvalidId, InvalidId}})
}

// Var creates a symbolic variable. reg, when >= 0, ties the variable to a
// concrete architecture register number (used by the symbolic executor
// to seed the initial register file with identity expressions).
func (a *Arena) Var(width int, name string, reg int) Id {
	return a.internNode(node{kind: KVar, width: width, name: name, reg: reg, args: [2]Id{InvalidId, InvalidId}})
}

func (a *Arena) Mem(width int, addr Id) Id {
	return a.internNode(node{kind: KMem, width: width, args: [2]Id{addr, InvalidId}})
}

func (a *Arena) Unop(op Op, x Id) Id {
	return a.internNode(node{kind: KUnop, width: a.Width(x), op: op, args: [2]Id{x, InvalidId}})
}

func (a *Arena) Binop(op Op, l, r Id) Id {
	w := a.Width(l)
	if op.IsSymmetric() && a.order(r, l) {
		l, r = r, l
	}
	return a.internNode(node{kind: KBinop, width: w, op: op, args: [2]Id{l, r}})
}

// Extract requires hi >= lo and both < the argument's width.
func (a *Arena) Extract(x Id, hi, lo int) Id {
	if hi < lo || hi >= a.Width(x) {
		panic("expr: invalid extract bounds")
	}
	return a.internNode(node{kind: KExtract, width: hi - lo + 1, hi: hi, lo: lo, args: [2]Id{x, InvalidId}})
}

// Concat's width is the sum of the children's widths.
func (a *Arena) Concat(upper, lower Id) Id {
	w := a.Width(upper) + a.Width(lower)
	return a.internNode(node{kind: KConcat, width: w, args: [2]Id{upper, lower}})
}

func (a *Arena) Bisz(width int, x Id, mode BiszMode) Id {
	return a.internNode(node{kind: KBisz, width: width, mode: mode, args: [2]Id{x, InvalidId}})
}

func (a *Arena) Unknown(width int) Id {
	return a.internNode(node{kind: KUnknown, width: width, args: [2]Id{InvalidId, InvalidId}})
}

// Derived helpers mirroring expression.hpp's free operator overloads.
func (a *Arena) Add(l, r Id) Id  { return a.Binop(OpAdd, l, r) }
func (a *Arena) Mul(l, r Id) Id  { return a.Binop(OpMul, l, r) }
func (a *Arena) And(l, r Id) Id  { return a.Binop(OpAnd, l, r) }
func (a *Arena) Or(l, r Id) Id   { return a.Binop(OpOr, l, r) }
func (a *Arena) Xor(l, r Id) Id  { return a.Binop(OpXor, l, r) }
func (a *Arena) Shl(l, r Id) Id  { return a.Binop(OpShl, l, r) }
func (a *Arena) Shr(l, r Id) Id  { return a.Binop(OpShr, l, r) }
func (a *Arena) Div(l, r Id) Id  { return a.Binop(OpDiv, l, r) }
func (a *Arena) Mod(l, r Id) Id  { return a.Binop(OpMod, l, r) }
func (a *Arena) Neg(x Id) Id     { return a.Unop(OpNeg, x) }
func (a *Arena) Not(x Id) Id     { return a.Unop(OpNot, x) }

// Sub is represented canonically as x + (-1 * y) (librop: `-x -> -1*x`),
// so there is deliberately no ExprType for binary subtraction.
func (a *Arena) Sub(l, r Id) Id {
	negR := a.Mul(a.Cst(a.Width(r), -1), r)
	return a.Add(l, negR)
}

func (a *Arena) AddCst(l Id, c int64) Id { return a.Add(l, a.Cst(a.Width(l), c)) }
func (a *Arena) MulCst(l Id, c int64) Id { return a.Mul(l, a.Cst(a.Width(l), c)) }

// order defines the total order "(type, hash, operator, arg-order)" used
// to sort symmetric binop children: constants sort first (so the
// simplifier can always pattern-match `Cst op X`), then by kind, then by
// structural hash.
func (a *Arena) order(x, y Id) bool {
	xc, yc := a.Kind(x) == KCst, a.Kind(y) == KCst
	if xc != yc {
		return xc // constants first
	}
	kx, ky := a.Kind(x), a.Kind(y)
	if kx != ky {
		return kx < ky
	}
	return a.HashOf(x) < a.HashOf(y)
}

func signTrunc(width int, v int64) int64 {
	if width <= 0 || width >= 64 {
		return v
	}
	m := mask(width)
	u := uint64(v) & m
	signBit := uint64(1) << uint(width-1)
	if u&signBit != 0 {
		return int64(u | ^m)
	}
	return int64(u)
}

