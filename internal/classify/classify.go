// Package classify takes a gadget's simplified semantics and determines
// its branch type, sp_inc, clobbered registers, and the set of
// GadgetType classification entries its effect matches.
package classify

import (
	"ropgen/internal/arch"
	"ropgen/internal/expr"
	"ropgen/internal/gadget"
	"ropgen/internal/ir"
)

// Result is the classifier's verdict for one gadget candidate.
type Result struct {
	BranchType gadget.BranchType
	JmpReg     int
	SpInc      int
	Entries    []gadget.Entry
}

// Classify pattern-matches exec's simplified semantics into the
// taxonomy. It rejects (returns ok=false) when sp_inc/max_sp_inc is
// unknown or not a word-aligned non-negative offset, or when no terminal
// branch type can be determined.
func Classify(a *expr.Arena, ar *arch.Arch, exec *ir.Result) (*Result, bool) {
	if !exec.MaxSpIncKnown {
		return nil, false
	}

	sp0 := a.Var(ar.Bits, ar.RegisterName(ar.SP), ar.SP)
	spInc, spOK := spOffset(a, exec.Sem.Regs[ar.SP], sp0)
	if !spOK || spInc < 0 || spInc%ar.WordSize != 0 {
		return nil, false
	}

	branchType, jmpReg, ok := branchOf(a, ar, exec, sp0, spInc)
	if !ok {
		return nil, false
	}

	res := &Result{BranchType: branchType, JmpReg: jmpReg, SpInc: spInc}

	switch branchType {
	case gadget.BranchJMP:
		res.Entries = append(res.Entries, gadget.Entry{Type: gadget.TypeJmp, Key: gadget.Key{int64(jmpReg)}})
	case gadget.BranchSYSCALL:
		res.Entries = append(res.Entries, gadget.Entry{Type: gadget.TypeSyscall})
	case gadget.BranchINT80:
		res.Entries = append(res.Entries, gadget.Entry{Type: gadget.TypeInt80})
	}

	for reg := 0; reg < ar.NumRegs; reg++ {
		if reg == ar.PC {
			continue
		}
		val, has := exec.Sem.Regs[reg]
		if !has {
			continue
		}
		if r2, _, isVar := a.IsVar(val); isVar && r2 == reg {
			continue // unchanged
		}
		res.Entries = append(res.Entries, classifyReg(a, reg, val)...)
	}

	for _, mw := range exec.Sem.Mem {
		if e, ok := classifyMem(a, mw); ok {
			res.Entries = append(res.Entries, e)
		}
	}

	return res, true
}

// spOffset reports the constant k such that e == sp0 + k, or (0,true)
// when e is sp0 unchanged.
func spOffset(a *expr.Arena, e, sp0 expr.Id) (int, bool) {
	if e == expr.InvalidId {
		return 0, true // SP never touched: unchanged
	}
	if e == sp0 {
		return 0, true
	}
	if c, other, ok := a.SplitAddConst(e); ok && other == sp0 {
		return int(c), true
	}
	return 0, false
}

func branchOf(a *expr.Arena, ar *arch.Arch, exec *ir.Result, sp0 expr.Id, spInc int) (gadget.BranchType, int, bool) {
	pc, has := exec.Sem.Regs[ar.PC]
	if !has {
		if exec.EndsWithSyscall {
			return gadget.BranchSYSCALL, arch.NoReg, true
		}
		if exec.EndsWithInt80 {
			return gadget.BranchINT80, arch.NoReg, true
		}
		return 0, arch.NoReg, false
	}
	if reg, _, ok := a.IsVar(pc); ok {
		return gadget.BranchJMP, reg, true
	}
	if addr, ok := a.IsMem(pc); ok {
		// The PC load address is evaluated before the final sp
		// increment that consumes the return-address slot, so it
		// trails spInc by exactly one machine word.
		if k, ok := spOffset(a, addr, sp0); ok && k == spInc-ar.WordSize {
			return gadget.BranchRET, arch.NoReg, true
		}
		return 0, arch.NoReg, false
	}
	return 0, arch.NoReg, false
}

func classifyReg(a *expr.Arena, dst int, val expr.Id) []gadget.Entry {
	if c, ok := a.IsCst(val); ok {
		return []gadget.Entry{{Type: gadget.TypeMovCst, Key: gadget.Key{int64(dst), c}}}
	}
	if r2, _, ok := a.IsVar(val); ok {
		return []gadget.Entry{{Type: gadget.TypeMovReg, Key: gadget.Key{int64(dst), int64(r2)}}}
	}
	if addr, ok := a.IsMem(val); ok {
		if reg2, off, ok := addrRegOffset(a, addr); ok {
			return []gadget.Entry{{Type: gadget.TypeLoad, Key: gadget.Key{int64(dst), int64(reg2), off}}}
		}
		return nil
	}
	if op, l, r, ok := a.BinopParts(val); ok {
		// AMOV_REG / AMOV_CST: dst = dst_reg_self OP (reg|cst) is ALOAD
		// when the other operand is a memory read; otherwise AMOV_*.
		if addr, isMem := a.IsMem(l); isMem {
			if reg2, off, ok := addrRegOffset(a, addr); ok {
				return []gadget.Entry{{Type: gadget.TypeALoad, Key: gadget.Key{int64(dst), int64(op), int64(reg2), off}}}
			}
		}
		if addr, isMem := a.IsMem(r); isMem {
			if reg2, off, ok := addrRegOffset(a, addr); ok {
				return []gadget.Entry{{Type: gadget.TypeALoad, Key: gadget.Key{int64(dst), int64(op), int64(reg2), off}}}
			}
		}
		if reg2, _, ok := a.IsVar(r); ok {
			if c, ok := a.IsCst(l); ok {
				return []gadget.Entry{{Type: gadget.TypeAMovCst, Key: gadget.Key{int64(dst), int64(reg2), int64(op), c}}}
			}
			if reg3, _, ok := a.IsVar(l); ok {
				entries := []gadget.Entry{{Type: gadget.TypeAMovReg, Key: gadget.Key{int64(dst), int64(reg3), int64(op), int64(reg2)}}}
				if op.IsSymmetric() {
					entries = append(entries, gadget.Entry{Type: gadget.TypeAMovReg, Key: gadget.Key{int64(dst), int64(reg2), int64(op), int64(reg3)}})
				}
				return entries
			}
		}
		if reg2, _, ok := a.IsVar(l); ok {
			if c, ok := a.IsCst(r); ok {
				return []gadget.Entry{{Type: gadget.TypeAMovCst, Key: gadget.Key{int64(dst), int64(reg2), int64(op), c}}}
			}
		}
	}
	return nil
}

// addrRegOffset matches a load/store address against Var(reg) or
// Var(reg)+Cst(off) (either canonical child order).
func addrRegOffset(a *expr.Arena, addr expr.Id) (reg int, off int64, ok bool) {
	if r, _, isVar := a.IsVar(addr); isVar {
		return r, 0, true
	}
	if c, other, isAdd := a.SplitAddConst(addr); isAdd {
		if r, _, isVar := a.IsVar(other); isVar {
			return r, c, true
		}
	}
	return 0, 0, false
}

func classifyMem(a *expr.Arena, mw gadget.MemWrite) (gadget.Entry, bool) {
	reg2, off, ok := addrRegOffset(a, mw.Addr)
	if !ok {
		return gadget.Entry{}, false
	}
	if reg3, _, ok := a.IsVar(mw.Value); ok {
		return gadget.Entry{Type: gadget.TypeStore, Key: gadget.Key{int64(reg2), off, int64(reg3)}}, true
	}
	if op, l, r, ok := a.BinopParts(mw.Value); ok {
		if addr, isMem := a.IsMem(l); isMem && addr == mw.Addr {
			if reg3, _, ok := a.IsVar(r); ok {
				return gadget.Entry{Type: gadget.TypeAStore, Key: gadget.Key{int64(reg2), off, int64(op), int64(reg3)}}, true
			}
		}
		if addr, isMem := a.IsMem(r); isMem && addr == mw.Addr {
			if reg3, _, ok := a.IsVar(l); ok {
				return gadget.Entry{Type: gadget.TypeAStore, Key: gadget.Key{int64(reg2), off, int64(op), int64(reg3)}}, true
			}
		}
	}
	return gadget.Entry{}, false
}

