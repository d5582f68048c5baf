package expr

// maxFixpointIters bounds the rewrite-to-fixpoint loop per subterm, to
// cap worst-case work on pathological inputs.
const maxFixpointIters = 64

// Simplify runs the rewrite driver to a fixpoint: it first simplifies the
// children bottom-up (re-canonicalising by reconstructing the node), then
// applies the local rewrite rules to the root, simplifying the children
// of each rewritten root again, until no root rule fires or
// maxFixpointIters is reached.
// simplify(simplify(e)) == simplify(e) holds because a node that reaches
// a rewrite-free fixpoint is tagged `simplified` and returned unchanged
// on the next call.
func (a *Arena) Simplify(id Id) Id {
	if a.get(id).simplified {
		return id
	}
	cur := a.simplifyChildren(id)
	for i := 0; i < maxFixpointIters; i++ {
		next, changed := rewriteRoot(a, cur)
		if !changed {
			break
		}
		cur = a.simplifyChildren(next)
	}
	a.get(cur).simplified = true
	return cur
}

// simplifyChildren simplifies id's children bottom-up and reconstructs
// the node through the canonicalising constructors (so e.g. symmetric
// operand reordering is re-applied after a child changes).
func (a *Arena) simplifyChildren(id Id) Id {
	n := a.get(id)
	switch n.kind {
	case KCst, KVar, KUnknown:
		return id
	case KMem:
		addr := a.Simplify(n.args[0])
		if addr == n.args[0] {
			return id
		}
		return a.Mem(n.width, addr)
	case KUnop:
		x := a.Simplify(n.args[0])
		if x == n.args[0] {
			return id
		}
		return a.Unop(n.op, x)
	case KBinop:
		l := a.Simplify(n.args[0])
		r := a.Simplify(n.args[1])
		if l == n.args[0] && r == n.args[1] {
			return id
		}
		return a.Binop(n.op, l, r)
	case KExtract:
		x := a.Simplify(n.args[0])
		if x == n.args[0] {
			return id
		}
		return a.Extract(x, n.hi, n.lo)
	case KConcat:
		u := a.Simplify(n.args[0])
		l := a.Simplify(n.args[1])
		if u == n.args[0] && l == n.args[1] {
			return id
		}
		return a.Concat(u, l)
	case KBisz:
		x := a.Simplify(n.args[0])
		if x == n.args[0] {
			return id
		}
		return a.Bisz(n.width, x, n.mode)
	}
	return id
}

func tryCst(a *Arena, id Id) (int64, bool) {
	n := a.get(id)
	if n.kind == KCst {
		return n.cst, true
	}
	return 0, false
}

// isNegationOf reports whether r is exactly `-1 * l` (the canonical form
// of unary negation, librop `-x -> -1*x`), used for the `x+(-x)->0` and
// `x+(-1*x)->0` arithmetic identities (they are the same pattern once
// negation is canonicalised to a multiplication).
func isNegationOf(a *Arena, l, r Id) bool {
	rn := a.get(r)
	if rn.kind != KBinop || rn.op != OpMul {
		return false
	}
	c, ok := tryCst(a, rn.args[0])
	return ok && c == -1 && rn.args[1] == l
}

// isNotOf reports whether y is exactly ~x.
func isNotOf(a *Arena, x, y Id) bool {
	yn := a.get(y)
	return yn.kind == KUnop && yn.op == OpNot && yn.args[0] == x
}

// rewriteRoot applies the local rewrite catalogue to id's root node,
// returning the rewritten id and whether any rule fired.
func rewriteRoot(a *Arena, id Id) (Id, bool) {
	n := a.get(id)
	switch n.kind {
	case KUnop:
		return rewriteUnop(a, id, n)
	case KBinop:
		return rewriteBinop(a, id, n)
	case KExtract:
		return rewriteExtract(a, id, n)
	case KConcat:
		return rewriteConcat(a, id, n)
	case KBisz:
		return rewriteBisz(a, id, n)
	default:
		return id, false
	}
}

func rewriteUnop(a *Arena, id Id, n *node) (Id, bool) {
	x := n.args[0]
	xn := a.get(x)
	switch n.op {
	case OpNeg:
		if c, ok := tryCst(a, x); ok {
			return a.Cst(n.width, -c), true
		}
		if xn.kind == KUnop && xn.op == OpNeg { // --x -> x
			return xn.args[0], true
		}
		// canonical: -x -> -1 * x
		return a.MulCst(x, -1), true
	case OpNot:
		if c, ok := tryCst(a, x); ok {
			return a.Cst(n.width, ^c), true
		}
		if xn.kind == KUnop && xn.op == OpNot { // ~~x -> x
			return xn.args[0], true
		}
	}
	return id, false
}

func rewriteExtract(a *Arena, id Id, n *node) (Id, bool) {
	x := n.args[0]
	if n.lo == 0 && n.hi == a.Width(x)-1 { // extract(x,w-1,0) -> x
		return x, true
	}
	if c, ok := tryCst(a, x); ok {
		u := uint64(c) >> uint(n.lo)
		w := n.hi - n.lo + 1
		return a.Cst(w, signTrunc(w, int64(u&mask(w)))), true
	}
	xn := a.get(x)
	if xn.kind == KExtract { // extract-of-extract flattening
		return a.Extract(xn.args[0], xn.lo+n.hi, xn.lo+n.lo), true
	}
	if xn.kind == KConcat { // extract-of-concat flattening
		lowerWidth := a.Width(xn.args[1])
		if n.hi < lowerWidth {
			return a.Extract(xn.args[1], n.hi, n.lo), true
		}
		if n.lo >= lowerWidth {
			return a.Extract(xn.args[0], n.hi-lowerWidth, n.lo-lowerWidth), true
		}
	}
	return id, false
}

func rewriteConcat(a *Arena, id Id, n *node) (Id, bool) {
	up, upOK := tryCst(a, n.args[0])
	lo, loOK := tryCst(a, n.args[1])
	if upOK && loOK {
		lowWidth := a.Width(n.args[1])
		v := (uint64(up) << uint(lowWidth)) | (uint64(lo) & mask(lowWidth))
		return a.Cst(n.width, signTrunc(n.width, int64(v))), true
	}
	return id, false
}

func rewriteBisz(a *Arena, id Id, n *node) (Id, bool) {
	if c, ok := tryCst(a, n.args[0]); ok {
		isZero := c == 0
		v := int64(0)
		if (n.mode == ModeEqZero) == isZero {
			v = 1
		}
		return a.Cst(n.width, v), true
	}
	return id, false
}

func rewriteBinop(a *Arena, id Id, n *node) (Id, bool) {
	l, r := n.args[0], n.args[1]
	lc, lIsCst := tryCst(a, l)
	rc, rIsCst := tryCst(a, r)
	w := n.width
	allOnes := signTrunc(w, int64(mask(w)))

	// Constant folding, width-exact.
	if lIsCst && rIsCst {
		if v, err := evalBinop(n.op, w, lc, rc); err == nil {
			return a.Cst(w, v), true
		}
	}

	switch n.op {
	case OpAdd:
		if rIsCst && rc == 0 {
			return l, true
		}
		if lIsCst && lc == 0 {
			return r, true
		}
		if isNegationOf(a, l, r) || isNegationOf(a, r, l) {
			return a.Cst(w, 0), true
		}
		// constant reassociation: c1 + (c2 + x) -> (c1+c2) + x
		if lIsCst {
			if c2, x, ok := a.SplitAddConst(r); ok {
				return a.Add(a.Cst(w, lc+c2), x), true
			}
		}
	case OpMul:
		if (lIsCst && lc == 0) || (rIsCst && rc == 0) {
			return a.Cst(w, 0), true
		}
		if rIsCst && rc == 1 {
			return l, true
		}
		if lIsCst && lc == 1 {
			return r, true
		}
	case OpAnd:
		if rIsCst && rc == allOnes {
			return l, true
		}
		if lIsCst && lc == allOnes {
			return r, true
		}
		if (lIsCst && lc == 0) || (rIsCst && rc == 0) {
			return a.Cst(w, 0), true
		}
		if l == r {
			return l, true
		}
		if isNotOf(a, l, r) || isNotOf(a, r, l) {
			return a.Cst(w, 0), true
		}
	case OpOr:
		if rIsCst && rc == 0 {
			return l, true
		}
		if lIsCst && lc == 0 {
			return r, true
		}
		if (lIsCst && lc == allOnes) || (rIsCst && rc == allOnes) {
			return a.Cst(w, allOnes), true
		}
		if l == r {
			return l, true
		}
		if isNotOf(a, l, r) || isNotOf(a, r, l) {
			return a.Cst(w, allOnes), true
		}
	case OpXor:
		if rIsCst && rc == 0 {
			return l, true
		}
		if lIsCst && lc == 0 {
			return r, true
		}
		if l == r {
			return a.Cst(w, 0), true
		}
		// canonical: -1 ^ x -> ~x
		if lIsCst && lc == allOnes {
			return a.Not(r), true
		}
		if rIsCst && rc == allOnes {
			return a.Not(l), true
		}
	case OpShl:
		if rIsCst {
			if rc == 0 {
				return l, true
			}
			if rc >= int64(w) || rc < 0 {
				return a.Cst(w, 0), true
			}
			// canonical: x << k -> x * 2^k
			return a.MulCst(l, int64(1)<<uint(rc)), true
		}
	case OpShr:
		if rIsCst {
			if rc == 0 {
				return l, true
			}
			if rc >= int64(w) || rc < 0 {
				return a.Cst(w, 0), true
			}
		}
	case OpDiv:
		if rIsCst && rc == 1 {
			return l, true
		}
	case OpSdiv:
		if rIsCst && rc == 1 {
			return l, true
		}
	}
	return id, false
}

