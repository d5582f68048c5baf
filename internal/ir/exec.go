package ir

import (
	"fmt"

	"ropgen/internal/arch"
	"ropgen/internal/expr"
	"ropgen/internal/gadget"
)

// Result is what symbolic execution of one Block produces: the final
// Semantics plus the stack-pointer tracking and terminal-instruction
// flags the classifier needs.
type Result struct {
	Sem              *gadget.Semantics
	MaxSpIncKnown    bool
	MaxSpInc         int
	EndsWithSyscall  bool
	EndsWithInt80    bool
	DereferencedRegs uint64
}

type execState struct {
	a          *expr.Arena
	ar         *arch.Arch
	regs       map[int]expr.Id
	tmps       map[int]expr.Id
	mem        []gadget.MemWrite
	deref      uint64
	sp0        expr.Id
	maxSpInc   int
	maxSpKnown bool
}

func (s *execState) regVar(reg int) expr.Id {
	if id, ok := s.regs[reg]; ok {
		return id
	}
	id := s.a.Var(s.ar.Bits, s.ar.RegisterName(reg), reg)
	s.regs[reg] = id
	return id
}

// project reads operand o's declared bit slice.
func (s *execState) project(o Operand) expr.Id {
	switch o.Kind {
	case OperandCst:
		return s.a.Cst(o.Width(), o.Cst)
	case OperandVar:
		full := s.regVar(o.Reg)
		if o.Low == 0 && o.High == s.a.Width(full)-1 {
			return full
		}
		s.deref |= 1 << uint(o.Reg)
		return s.a.Extract(full, o.High, o.Low)
	case OperandTmp:
		full, ok := s.tmps[o.Tmp]
		if !ok {
			return s.a.Cst(o.Width(), 0)
		}
		if o.Low == 0 && o.High == s.a.Width(full)-1 {
			return full
		}
		return s.a.Extract(full, o.High, o.Low)
	default:
		return s.a.Cst(1, 0)
	}
}

// assign expands an rvalue back to the lvalue's full width via concat,
// padding missing low bits with zero on the temporary's first write.
func (s *execState) assign(dst Operand, val expr.Id) {
	switch dst.Kind {
	case OperandVar:
		s.assignInto(dst, val, func() expr.Id { return s.regVar(dst.Reg) }, func(id expr.Id) { s.regs[dst.Reg] = id })
	case OperandTmp:
		cur, ok := s.tmps[dst.Tmp]
		getCur := func() expr.Id {
			if ok {
				return cur
			}
			return s.a.Cst(dst.Low+64, 0)
		}
		s.assignInto(dst, val, getCur, func(id expr.Id) { s.tmps[dst.Tmp] = id })
	}
}

func (s *execState) assignInto(dst Operand, val expr.Id, getCur func() expr.Id, set func(expr.Id)) {
	fullWidth := dst.High + 1 // dst operand full register width is encoded by caller choosing High as top bit of the *whole* register
	if dst.Low == 0 && dst.High == fullWidth-1 && s.a.Width(val) == fullWidth {
		set(val)
		return
	}
	cur := getCur()
	curWidth := s.a.Width(cur)
	if curWidth < fullWidth {
		// widen with zero padding on first write to a temporary
		cur = s.a.Concat(s.a.Cst(fullWidth-curWidth, 0), s.a.Extract(cur, curWidth-1, 0))
	}
	upper, lower := expr.InvalidId, expr.InvalidId
	if dst.Hi() < curWidth-1 {
		upper = s.a.Extract(cur, curWidth-1, dst.Hi()+1)
	}
	if dst.Low > 0 {
		lower = s.a.Extract(cur, dst.Low-1, 0)
	}
	mid := val
	parts := []expr.Id{}
	if upper != expr.InvalidId {
		parts = append(parts, upper)
	}
	parts = append(parts, mid)
	if lower != expr.InvalidId {
		parts = append(parts, lower)
	}
	res := parts[0]
	for _, p := range parts[1:] {
		res = s.a.Concat(res, p)
	}
	set(res)
}

func (o Operand) Hi() int { return o.High }

// Execute runs block's basic blocks in order, following BCC to its
// target on a constant guard, and stopping at JCC/INT/SYSCALL. INT and
// SYSCALL end execution without an error, setting EndsWithInt80 or
// EndsWithSyscall in the Result. Non-constant BCC/JCC guards abort with a
// SYMBOLIC-FAIL-class error (callers map this to errs.SymbolicFail).
func Execute(a *expr.Arena, ar *arch.Arch, block *Block) (*Result, error) {
	s := &execState{
		a: a, ar: ar,
		regs: make(map[int]expr.Id),
		tmps: make(map[int]expr.Id),
	}
	s.sp0 = s.regVar(ar.SP)
	s.maxSpKnown = true
	s.updateSpInc()

	bi := 0
	for bi >= 0 && bi < len(block.Blocks) {
		bb := block.Blocks[bi]
		nextBi := -2 // -2 means "fell off the end of the program", i.e. stop
		stop := false
		for _, instr := range bb {
			switch instr.Op {
			case OpBCC:
				guard := a.Simplify(s.project(instr.Src1))
				c, ok := tryConst(a, guard)
				if !ok {
					return nil, fmt.Errorf("SYMBOLIC-BRANCH: non-constant BCC guard")
				}
				if c != 0 {
					nextBi = int(instr.Imm)
					stop = true
				}
			case OpJCC:
				guard := a.Simplify(s.project(instr.Src1))
				c, ok := tryConst(a, guard)
				if !ok {
					return nil, fmt.Errorf("SYMBOLIC-BRANCH: non-constant JCC guard")
				}
				if c != 0 {
					s.assign(Reg(ar.PC, ar.Bits), s.project(instr.Dst))
					stop = true
					nextBi = -1
				}
			case OpINT:
				delete(s.regs, ar.PC) // branch target unknown; classifier uses EndsWithInt80
				return s.finish(true, false), nil
			case OpSYSCALL:
				return s.finish(false, true), nil
			default:
				s.exec(instr)
			}
			s.updateSpInc()
			if stop {
				break
			}
		}
		if stop {
			if nextBi == -1 {
				bi = -1
			} else {
				bi = nextBi
			}
			continue
		}
		bi++
		if bi >= len(block.Blocks) {
			break
		}
	}
	return s.finish(false, false), nil
}

func (s *execState) finish(int80, syscall bool) *Result {
	regs := make(map[int]expr.Id, len(s.regs))
	for r, id := range s.regs {
		regs[r] = s.a.Simplify(id)
	}
	mem := make([]gadget.MemWrite, len(s.mem))
	for i, m := range s.mem {
		mem[i] = gadget.MemWrite{Addr: s.a.Simplify(m.Addr), Value: s.a.Simplify(m.Value)}
	}
	return &Result{
		Sem:              &gadget.Semantics{Regs: regs, Mem: mem},
		MaxSpIncKnown:    s.maxSpKnown,
		MaxSpInc:         s.maxSpInc,
		EndsWithInt80:    int80,
		EndsWithSyscall:  syscall,
		DereferencedRegs: s.deref,
	}
}

func tryConst(a *expr.Arena, id expr.Id) (int64, bool) {
	v, err := a.Concretize(id, expr.NewVarContext())
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *execState) exec(instr Instr) {
	switch instr.Op {
	case OpMOV:
		s.assign(instr.Dst, s.project(instr.Src1))
	case OpNEG:
		s.assign(instr.Dst, s.a.Neg(s.project(instr.Src1)))
	case OpNOT:
		s.assign(instr.Dst, s.a.Not(s.project(instr.Src1)))
	case OpADD:
		s.assign(instr.Dst, s.a.Add(s.project(instr.Src1), s.project(instr.Src2)))
	case OpSUB:
		s.assign(instr.Dst, s.a.Sub(s.project(instr.Src1), s.project(instr.Src2)))
	case OpMUL:
		s.assign(instr.Dst, s.a.Mul(s.project(instr.Src1), s.project(instr.Src2)))
	case OpMULH:
		s.assign(instr.Dst, s.a.Binop(expr.OpMulh, s.project(instr.Src1), s.project(instr.Src2)))
	case OpSMULL:
		s.assign(instr.Dst, s.a.Binop(expr.OpSmull, s.project(instr.Src1), s.project(instr.Src2)))
	case OpSMULH:
		s.assign(instr.Dst, s.a.Binop(expr.OpSmulh, s.project(instr.Src1), s.project(instr.Src2)))
	case OpDIV:
		s.assign(instr.Dst, s.a.Div(s.project(instr.Src1), s.project(instr.Src2)))
	case OpSDIV:
		s.assign(instr.Dst, s.a.Binop(expr.OpSdiv, s.project(instr.Src1), s.project(instr.Src2)))
	case OpMOD:
		s.assign(instr.Dst, s.a.Mod(s.project(instr.Src1), s.project(instr.Src2)))
	case OpSMOD:
		s.assign(instr.Dst, s.a.Binop(expr.OpSmod, s.project(instr.Src1), s.project(instr.Src2)))
	case OpAND:
		s.assign(instr.Dst, s.a.And(s.project(instr.Src1), s.project(instr.Src2)))
	case OpOR:
		s.assign(instr.Dst, s.a.Or(s.project(instr.Src1), s.project(instr.Src2)))
	case OpXOR:
		s.assign(instr.Dst, s.a.Xor(s.project(instr.Src1), s.project(instr.Src2)))
	case OpSHL:
		s.assign(instr.Dst, s.a.Shl(s.project(instr.Src1), s.project(instr.Src2)))
	case OpSHR:
		s.assign(instr.Dst, s.a.Shr(s.project(instr.Src1), s.project(instr.Src2)))
	case OpBISZ:
		mode := expr.ModeEqZero
		if instr.Imm != 0 {
			mode = expr.ModeNeZero
		}
		s.assign(instr.Dst, s.a.Bisz(instr.Dst.Width(), s.project(instr.Src1), mode))
	case OpCONCAT:
		s.assign(instr.Dst, s.a.Concat(s.project(instr.Src1), s.project(instr.Src2)))
	case OpLDM:
		addr := s.project(instr.Src1)
		s.assign(instr.Dst, s.a.Mem(instr.Dst.Width(), addr))
	case OpSTM:
		addr := s.project(instr.Dst)
		val := s.project(instr.Src1)
		s.storeMem(addr, val)
	}
}

// storeMem applies the memory-write policy: a later write at the same
// (simplified) address expression replaces the earlier one.
func (s *execState) storeMem(addr, val expr.Id) {
	addr = s.a.Simplify(addr)
	for i, m := range s.mem {
		if m.Addr == addr {
			s.mem[i].Value = val
			return
		}
	}
	s.mem = append(s.mem, gadget.MemWrite{Addr: addr, Value: val})
}

// updateSpInc inspects the stack register after each instruction: if its
// simplified value matches sp0 + k with k a non-negative multiple of the
// machine word, max_sp_inc is updated; otherwise it becomes unknown.
func (s *execState) updateSpInc() {
	if !s.maxSpKnown {
		return
	}
	spExpr, ok := s.regs[s.ar.SP]
	if !ok {
		return
	}
	spExpr = s.a.Simplify(spExpr)
	s.regs[s.ar.SP] = spExpr
	k, ok := matchSpPlusConst(s.a, spExpr, s.sp0)
	if !ok {
		s.maxSpKnown = false
		return
	}
	if k < 0 || k%s.ar.WordSize != 0 {
		s.maxSpKnown = false
		return
	}
	if k > s.maxSpInc {
		s.maxSpInc = k
	}
}

// matchSpPlusConst recognises `sp0` or `sp0 + k` (k a compile-time
// constant); canonical expression ordering guarantees the constant
// sorts first in `sp0 + k`.
func matchSpPlusConst(a *expr.Arena, e, sp0 expr.Id) (int, bool) {
	if e == sp0 {
		return 0, true
	}
	if a.Kind(e) != expr.KBinop {
		return 0, false
	}
	// canonicalised Add(Cst, sp0) or Add(sp0, Cst)
	return matchAddParts(a, e, sp0)
}

// matchAddParts recognises the exact add-with-this-sp0 shape; anything
// else (e.g. sp mixed with another variable) is "unknown".
func matchAddParts(a *expr.Arena, e, sp0 expr.Id) (int, bool) {
	if cst, other, ok := a.SplitAddConst(e); ok && other == sp0 {
		return int(cst), true
	}
	return 0, false
}

