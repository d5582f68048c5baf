package stratgraph

import (
	"ropgen/internal/arch"
	"ropgen/internal/errs"
	"ropgen/internal/expr"
	"ropgen/internal/gadget"
	"ropgen/internal/il"
)

// SeedResult is what BuildSeed produces from one parsed intent
// instruction: the strategy graph realizing its register/memory effect,
// plus whatever the node taxonomy itself cannot express. A call to an
// absolute function address has no GadgetType of its own (the
// taxonomy only knows gadget-shaped effects), so it surfaces here as a
// literal chain tail the compiler appends after the graph's nodes are
// scheduled and emitted.
type SeedResult struct {
	Graph *Graph

	HasCallTarget bool
	CallTarget    int64
	CallStackArgs []int64
}

// BuildSeed constructs the minimal strategy graph realizing instr's
// effect under ar, abi and system. One case per il.Kind, following
// original_source/libropium/compiler/il.cpp's _instruction_to_strategy_graph
// dispatch.
func BuildSeed(ar *arch.Arch, abi arch.ABI, system arch.System, instr *il.Instr) (*SeedResult, error) {
	g := New()
	res := &SeedResult{Graph: g}

	switch instr.Kind {
	case il.MovCst:
		n := g.NewNode(gadget.TypeMovCst)
		node := g.Node(n)
		node.Params[ParamMovCstDstReg] = RegParam(instr.Dst, true)
		node.Params[ParamMovCstSrcCst] = CstParam(instr.Cst, "", true)

	case il.MovReg:
		n := g.NewNode(gadget.TypeMovReg)
		node := g.Node(n)
		node.Params[ParamMovRegDstReg] = RegParam(instr.Dst, true)
		node.Params[ParamMovRegSrcReg] = RegParam(instr.SrcReg, true)

	case il.AMovCst:
		op, cst, err := binOpCst(instr.Op, instr.Cst)
		if err != nil {
			return nil, err
		}
		n := g.NewNode(gadget.TypeAMovCst)
		node := g.Node(n)
		node.Params[ParamAMovCstDstReg] = RegParam(instr.Dst, true)
		node.Params[ParamAMovCstSrcReg] = RegParam(instr.SrcReg, true)
		node.Params[ParamAMovCstSrcOp] = OpParam(int64(op))
		node.Params[ParamAMovCstSrcCst] = CstParam(cst, "", true)

	case il.AMovReg:
		op, ok := binOp(instr.Op)
		if !ok {
			return nil, errs.New(errs.ILUnsupportedABI, "register-register %s has no direct gadget representation", instr.Op)
		}
		n := g.NewNode(gadget.TypeAMovReg)
		node := g.Node(n)
		node.Params[ParamAMovRegDstReg] = RegParam(instr.Dst, true)
		node.Params[ParamAMovRegSrcReg1] = RegParam(instr.SrcReg, true)
		node.Params[ParamAMovRegSrcOp] = OpParam(int64(op))
		node.Params[ParamAMovRegSrcReg2] = RegParam(instr.Src2Reg, true)

	case il.Load, il.LoadAbs:
		n := g.NewNode(gadget.TypeLoad)
		node := g.Node(n)
		node.Params[ParamLoadDstReg] = RegParam(instr.Dst, true)
		addrParams(g, n, instr.BaseReg, instr.Offset)

	case il.ALoad, il.ALoadAbs:
		op, ok := binOp(instr.Op)
		if !ok {
			return nil, errs.New(errs.ILUnsupportedABI, "accumulating load with %s has no direct gadget representation", instr.Op)
		}
		n := g.NewNode(gadget.TypeALoad)
		node := g.Node(n)
		node.Params[ParamALoadDstReg] = RegParam(instr.Dst, true)
		node.Params[ParamALoadOp] = OpParam(int64(op))
		addrParams(g, n, instr.BaseReg, instr.Offset)

	case il.Store, il.StoreAbs:
		n := g.NewNode(gadget.TypeStore)
		node := g.Node(n)
		addrParams(g, n, instr.BaseReg, instr.Offset)
		node.Params[ParamStoreSrcReg] = RegParam(instr.SrcReg, true)

	case il.AStore, il.AStoreAbs:
		op, ok := binOp(instr.Op)
		if !ok {
			return nil, errs.New(errs.ILUnsupportedABI, "accumulating store with %s has no direct gadget representation", instr.Op)
		}
		n := g.NewNode(gadget.TypeAStore)
		node := g.Node(n)
		addrParams(g, n, instr.BaseReg, instr.Offset)
		node.Params[ParamAStoreOp] = OpParam(int64(op))
		node.Params[ParamAStoreSrcReg] = RegParam(instr.SrcReg, true)

	case il.StoreCst, il.StoreCstAbs:
		n := g.NewNode(gadget.TypeStore)
		node := g.Node(n)
		addrParams(g, n, instr.BaseReg, instr.Offset)
		valueNode := appendMovCstFree(g, instr.Cst, n)
		node.Params[ParamStoreSrcReg] = DependentRegParam(valueNode, ParamMovCstDstReg)
		node.Params[ParamStoreSrcReg].IsDataLink = true

	case il.StoreString:
		buildStoreString(g, ar, instr.Offset, instr.Str)

	case il.Call:
		if err := buildCall(g, ar, abi, instr, res); err != nil {
			return nil, err
		}

	case il.Syscall:
		if err := buildSyscall(g, ar, system, instr); err != nil {
			return nil, err
		}

	case il.SingleSyscall:
		n := g.NewNode(gadget.TypeSyscall)
		g.Node(n).BranchType = gadget.BranchSYSCALL

	default:
		return nil, errs.New(errs.ILSemantic, "unsupported intent instruction kind %d", instr.Kind)
	}

	return res, nil
}

// binOp maps an il.Op directly representable as a gadget-taxonomy binop
// to its expr.Op. Subtraction has no entry: the simplifier canonicalizes
// `x - y` to `x + (-1*y)`, which only classify.go's AMOV_CST path can
// still recognize (by negating the constant operand); a register operand
// has no such fallback.
func binOp(o il.Op) (expr.Op, bool) {
	switch o {
	case il.Add:
		return expr.OpAdd, true
	case il.Mul:
		return expr.OpMul, true
	case il.Div:
		return expr.OpDiv, true
	case il.Mod:
		return expr.OpMod, true
	case il.And:
		return expr.OpAnd, true
	case il.Or:
		return expr.OpOr, true
	case il.Xor:
		return expr.OpXor, true
	case il.Shl:
		return expr.OpShl, true
	case il.Shr:
		return expr.OpShr, true
	default:
		return 0, false
	}
}

// binOpCst is binOp specialized for a constant right-hand operand, where
// subtraction can still be expressed as addition of the negated constant.
func binOpCst(o il.Op, cst int64) (expr.Op, int64, error) {
	if o == il.Sub {
		return expr.OpAdd, -cst, nil
	}
	op, ok := binOp(o)
	if !ok {
		return 0, 0, errs.New(errs.ILUnsupportedABI, "%s has no direct gadget representation", o)
	}
	return op, cst, nil
}

// appendMovCstFree adds a MOV_CST node producing cst into a free
// register, strategy- and param-linked to run before the node, and
// returns its id.
func appendMovCstFree(g *Graph, cst int64, before int) int {
	n := g.NewNode(gadget.TypeMovCst)
	node := g.Node(n)
	node.Params[ParamMovCstDstReg] = RegParam(arch.NoReg, false)
	node.Params[ParamMovCstSrcCst] = CstParam(cst, g.NewName("cst"), true)
	node.BranchType = gadget.BranchRET
	g.AddStrategyEdge(n, before)
	g.AddParamEdge(n, before)
	return n
}

// addrParams fills n's memory-address register/offset param slots for a
// (baseReg, offset) reference. An absolute address (baseReg ==
// arch.NoReg) is realized by first materializing it in a free register.
func addrParams(g *Graph, n int, baseReg int, offset int64) {
	node := g.Node(n)
	regIdx, offIdx := node.ParamNumAddrReg(), node.ParamNumAddrOffset()
	if baseReg == arch.NoReg {
		mv := appendMovCstFree(g, offset, n)
		node.Params[regIdx] = DependentRegParam(mv, ParamMovCstDstReg)
		node.Params[regIdx].IsDataLink = true
		node.Params[offIdx] = CstParam(0, "", true)
		return
	}
	node.Params[regIdx] = RegParam(baseReg, true)
	node.Params[offIdx] = CstParam(offset, "", true)
}

// buildStoreString splits a byte string into word-sized little-endian
// chunks (zero-padded in the last chunk) and emits one fetch-then-store
// pair per chunk, chained in address order.
func buildStoreString(g *Graph, ar *arch.Arch, addr int64, s string) {
	ws := ar.WordSize
	var prev int = NoNode
	for off := 0; off < len(s); off += ws {
		end := off + ws
		if end > len(s) {
			end = len(s)
		}
		var word int64
		for i := end - 1; i >= off; i-- {
			word = (word << 8) | int64(s[i])
		}
		n := g.NewNode(gadget.TypeStore)
		node := g.Node(n)
		addrParams(g, n, arch.NoReg, addr+int64(off))
		valueNode := appendMovCstFree(g, word, n)
		node.Params[ParamStoreSrcReg] = DependentRegParam(valueNode, ParamMovCstDstReg)
		node.Params[ParamStoreSrcReg].IsDataLink = true
		if prev != NoNode {
			g.AddStrategyEdge(prev, n)
		}
		prev = n
	}
}

// buildCall realizes a call to an absolute function address: register
// arguments become MOV_CST/MOV_REG seed nodes under abi's calling
// convention, and anything left over becomes a literal stack word
// appended after the graph's gadgets, since no gadget type models
// "jump to an arbitrary function entry point".
func buildCall(g *Graph, ar *arch.Arch, abi arch.ABI, instr *il.Instr, res *SeedResult) error {
	regs := ar.ABIArgs[abi]
	for i, a := range instr.Args {
		if i < len(regs) {
			buildArgReg(g, regs[i], a)
			continue
		}
		if a.IsReg {
			return errs.New(errs.ILUnsupportedABI, "register-valued stack argument #%d is not supported", i)
		}
		res.CallStackArgs = append(res.CallStackArgs, a.Cst)
	}
	res.HasCallTarget = true
	res.CallTarget = instr.FuncAddr
	return nil
}

// buildSyscall realizes a syscall-by-name/number instruction: argument
// registers and the syscall number go into the system's syscall ABI
// registers via seed MOV_CST/MOV_REG nodes, followed by a SYSCALL node.
func buildSyscall(g *Graph, ar *arch.Arch, system arch.System, instr *il.Instr) error {
	regs := ar.SyscallArgs[system]
	for i, a := range instr.Args {
		if i >= len(regs) {
			return errs.New(errs.ILUnsupportedABI, "syscall argument #%d exceeds the %d register syscall ABI", i, len(regs))
		}
		buildArgReg(g, regs[i], a)
	}

	num := instr.SyscallNum
	if !instr.HasSyscallNum {
		n, ok := ar.SyscallNumber(system, instr.SyscallName)
		if !ok {
			return errs.New(errs.ILSemantic, "unknown syscall name %q for %s/%s", instr.SyscallName, ar.Name, system)
		}
		num = n
	}
	numReg, ok := ar.SyscallNumReg[system]
	if !ok {
		return errs.New(errs.ILUnsupportedABI, "no syscall-number register defined for %s/%s", ar.Name, system)
	}
	buildArgReg(g, numReg, il.Arg{Cst: num})

	n := g.NewNode(gadget.TypeSyscall)
	g.Node(n).BranchType = gadget.BranchSYSCALL
	return nil
}

// buildArgReg adds a seed node placing arg's value into dstReg: MOV_CST
// for a constant argument, MOV_REG for a register argument.
func buildArgReg(g *Graph, dstReg int, a il.Arg) {
	if a.IsReg {
		n := g.NewNode(gadget.TypeMovReg)
		node := g.Node(n)
		node.Params[ParamMovRegDstReg] = RegParam(dstReg, true)
		node.Params[ParamMovRegSrcReg] = RegParam(a.Reg, true)
		return
	}
	n := g.NewNode(gadget.TypeMovCst)
	node := g.Node(n)
	node.Params[ParamMovCstDstReg] = RegParam(dstReg, true)
	node.Params[ParamMovCstSrcCst] = CstParam(a.Cst, "", true)
}
