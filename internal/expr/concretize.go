package expr

import "fmt"

// Concretize evaluates id bit-exactly under ctx. Var lookups that miss
// the context fail with an UNBOUND error. Mem nodes have
// no memory model in the core (the core only tracks symbolic writes, see
// internal/ir) so concretizing through a live Mem node is an error too;
// callers that need a memory-independent value should ensure none of
// their free variables route through a Mem node.
func (a *Arena) Concretize(id Id, ctx *VarContext) (int64, error) {
	n := a.get(id)
	switch n.kind {
	case KCst:
		return n.cst, nil
	case KVar:
		v, ok := ctx.Get(n.name)
		if !ok {
			return 0, fmt.Errorf("UNBOUND: variable %q has no value in context", n.name)
		}
		return signTrunc(n.width, v), nil
	case KMem:
		return 0, fmt.Errorf("cannot concretize a memory read expression")
	case KUnop:
		x, err := a.Concretize(n.args[0], ctx)
		if err != nil {
			return 0, err
		}
		return signTrunc(n.width, evalUnop(n.op, n.width, x)), nil
	case KBinop:
		l, err := a.Concretize(n.args[0], ctx)
		if err != nil {
			return 0, err
		}
		r, err := a.Concretize(n.args[1], ctx)
		if err != nil {
			return 0, err
		}
		v, err := evalBinop(n.op, a.Width(n.args[0]), l, r)
		if err != nil {
			return 0, err
		}
		return signTrunc(n.width, v), nil
	case KExtract:
		x, err := a.Concretize(n.args[0], ctx)
		if err != nil {
			return 0, err
		}
		u := uint64(x) >> uint(n.lo)
		w := n.hi - n.lo + 1
		return signTrunc(w, int64(u&mask(w))), nil
	case KConcat:
		up, err := a.Concretize(n.args[0], ctx)
		if err != nil {
			return 0, err
		}
		lo, err := a.Concretize(n.args[1], ctx)
		if err != nil {
			return 0, err
		}
		lowWidth := a.Width(n.args[1])
		v := (uint64(up) << uint(lowWidth)) | (uint64(lo) & mask(lowWidth))
		return signTrunc(n.width, int64(v)), nil
	case KBisz:
		x, err := a.Concretize(n.args[0], ctx)
		if err != nil {
			return 0, err
		}
		isZero := x == 0
		if n.mode == ModeEqZero {
			if isZero {
				return 1, nil
			}
			return 0, nil
		}
		if isZero {
			return 0, nil
		}
		return 1, nil
	case KUnknown:
		return 0, fmt.Errorf("cannot concretize an unknown expression")
	}
	return 0, fmt.Errorf("concretize: unhandled kind %v", n.kind)
}

func evalUnop(op Op, width int, x int64) int64 {
	switch op {
	case OpNeg:
		return -x
	case OpNot:
		return ^x
	}
	return x
}

func evalBinop(op Op, width int, l, r int64) (int64, error) {
	ul, ur := uint64(l)&mask(width), uint64(r)&mask(width)
	switch op {
	case OpAdd:
		return int64(ul + ur), nil
	case OpMul:
		return int64(ul * ur), nil
	case OpMulh:
		return int64(mulh(ul, ur, width)), nil
	case OpSmull:
		return int64(uint64(signTrunc(width, l)) * uint64(signTrunc(width, r))), nil
	case OpSmulh:
		return smulh(signTrunc(width, l), signTrunc(width, r), width), nil
	case OpDiv:
		if ur == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return int64(ul / ur), nil
	case OpSdiv:
		sr := signTrunc(width, r)
		if sr == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return signTrunc(width, l) / sr, nil
	case OpAnd:
		return int64(ul & ur), nil
	case OpOr:
		return int64(ul | ur), nil
	case OpXor:
		return int64(ul ^ ur), nil
	case OpShl:
		if ur >= uint64(width) {
			return 0, nil
		}
		return int64(ul << ur), nil
	case OpShr:
		if ur >= uint64(width) {
			return 0, nil
		}
		return int64(ul >> ur), nil
	case OpMod:
		if ur == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return int64(ul % ur), nil
	case OpSmod:
		sr := signTrunc(width, r)
		if sr == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return signTrunc(width, l) % sr, nil
	}
	return 0, fmt.Errorf("concretize: unsupported binop %v", op)
}

func mulh(a, b uint64, width int) uint64 {
	if width > 32 {
		hi, _ := bitsMul64(a, b)
		return hi
	}
	return (a * b) >> uint(width)
}

func bitsMul64(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32
	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32
	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32
	t = aLo*bHi + w1
	k = t >> 32
	lo = (t << 32) | w0
	hi = aHi*bHi + w2 + k
	return
}

func smulh(a, b int64, width int) int64 {
	if width > 32 {
		return int64(uint64(a>>63)*uint64(b) + uint64(b>>63)*uint64(a) + mulhSigned64(a, b))
	}
	return (a * b) >> uint(width)
}

func mulhSigned64(a, b int64) uint64 {
	hi, _ := bitsMul64(uint64(a), uint64(b))
	return hi
}

