// Package stratrules implements the rewrite rule catalogue that
// grows a strategy graph node into a sub-graph realizing the same
// effect through a different, more general route (transitivity through
// an intermediate register, popping a constant instead of loading it,
// reaching through an indirect jump, or adjusting a load/store's base
// register).
// Grounded on original_source/libropium/compiler/strategy_rules.cpp.
package stratrules

import (
	"ropgen/internal/arch"
	"ropgen/internal/expr"
	"ropgen/internal/gadget"
	"ropgen/internal/stratgraph"
)

// GenericTransitivity splits a dst-reg-writing node into "write an
// intermediate register" followed by "mov dst_reg, intermediate" — the
// classic gadget-chaining trick when no single gadget directly reaches
// the requested destination.
func GenericTransitivity(g *stratgraph.Graph, n int) bool {
	node := g.Node(n)
	switch node.Type {
	case gadget.TypeMovCst, gadget.TypeMovReg, gadget.TypeAMovCst, gadget.TypeAMovReg, gadget.TypeLoad, gadget.TypeALoad:
	default:
		return false
	}

	n1 := g.NewNode(node.Type)
	n2 := g.NewNode(gadget.TypeMovReg)
	node1, node2 := g.Node(n1), g.Node(n2)

	*node1 = *g.Node(n)
	node1.ID = n1

	dstIdx := node1.ParamNumDstReg()
	node2.Params[stratgraph.ParamMovRegSrcReg] = stratgraph.RegParam(-1, false)
	node2.Params[stratgraph.ParamMovRegDstReg] = node.Params[node.ParamNumDstReg()]
	node1.Params[dstIdx] = stratgraph.DependentRegParam(n2, stratgraph.ParamMovRegSrcReg)
	node1.Params[dstIdx].IsDataLink = true

	node1.BranchType = gadget.BranchRET
	node2.BranchType = node.BranchType

	g.AddStrategyEdge(n1, n2)
	g.AddParamEdge(n1, n2)

	g.RedirectIncomingParamEdges(node.ID, n1)
	g.RedirectOutgoingParamEdges(node.ID, n2)
	g.RedirectIncomingStrategyEdges(node.ID, n1)
	g.RedirectOutgoingStrategyEdges(node.ID, n2)

	g.DisableNode(node.ID)
	return true
}

// MovCstPop replaces a MOV_CST node (write a literal constant into a
// register) with a LOAD from the stack pointer at a free offset, plus a
// special padding word at that offset holding the constant — the usual
// "pop reg; ret" substitute when no gadget directly materializes the
// constant.
func MovCstPop(g *stratgraph.Graph, n int, ar *arch.Arch) bool {
	node := g.Node(n)
	if node.Type != gadget.TypeMovCst {
		return false
	}

	n1 := g.NewNode(gadget.TypeLoad)
	node1 := g.Node(n1)
	node1.BranchType = node.BranchType

	node1.Params[stratgraph.ParamLoadDstReg] = node.Params[stratgraph.ParamMovCstDstReg]
	node1.Params[stratgraph.ParamLoadSrcAddrReg] = stratgraph.RegParam(ar.SP, true)
	node1.Params[stratgraph.ParamLoadSrcAddrOffset] = stratgraph.CstParam(-1, g.NewName("stack_offset"), false)

	srcCst := node.Params[stratgraph.ParamMovCstSrcCst]
	node1.SpecialPaddings = append(node1.SpecialPaddings, stratgraph.Padding{
		Offset: stratgraph.DependentCstParam(n1, stratgraph.ParamLoadSrcAddrOffset, expr.InvalidId, g.NewName("padding_offset")),
		Value:  stratgraph.CstParam(srcCst.Value, g.NewName("padding_value"), true),
	})

	node1.Constraints = append(node1.Constraints, func(nn *stratgraph.Node, _ *stratgraph.Graph) bool {
		off := nn.Params[stratgraph.ParamLoadSrcAddrOffset].Value
		return off >= 0 && off < 160
	})
	node1.Constraints = append(node1.Constraints, func(nn *stratgraph.Node, _ *stratgraph.Graph) bool {
		if nn.AffectedGadget == nil {
			return true
		}
		return nn.Params[stratgraph.ParamLoadSrcAddrOffset].Value < int64(nn.AffectedGadget.SpInc)
	})

	g.RedirectOutgoingParamEdges(node.ID, n1)
	g.RedirectIncomingStrategyEdges(node.ID, n1)
	g.RedirectOutgoingStrategyEdges(node.ID, n1)

	g.DisableNode(node.ID)
	return true
}

// AdjustLoad splits a LOAD/ALOAD whose address register+offset can't be
// matched directly into: AMOV_CST computing the needed base register
// from any available register, followed by a LOAD/ALOAD at a free
// offset relative to that computed base.
func AdjustLoad(g *stratgraph.Graph, n int, ar *arch.Arch) bool {
	node := g.Node(n)
	if node.Type != gadget.TypeLoad && node.Type != gadget.TypeALoad {
		return false
	}
	if node.Params[node.ParamNumAddrReg()].Value == int64(ar.SP) {
		return false // reading off SP directly (a pop) is left alone
	}

	n1 := g.NewNode(gadget.TypeAMovCst)
	n2 := g.NewNode(node.Type)
	node1, node2 := g.Node(n1), g.Node(n2)

	*node2 = *g.Node(n)
	node2.ID = n2
	node2.Params[node2.ParamNumAddrReg()] = stratgraph.RegParam(-1, false)
	node2.Params[node2.ParamNumAddrOffset()] = stratgraph.CstParam(0, g.NewName("addr_offset"), false)

	node1.Params[stratgraph.ParamAMovCstSrcOp] = stratgraph.OpParam(int64(expr.OpAdd))
	node1.Params[stratgraph.ParamAMovCstDstReg] = stratgraph.DependentRegParam(n2, node2.ParamNumAddrReg())
	node1.Params[stratgraph.ParamAMovCstDstReg].IsDataLink = true
	node1.Params[stratgraph.ParamAMovCstSrcReg] = node.Params[node.ParamNumAddrReg()]
	// The needed constant is (original offset - node2's free offset); resolved
	// numerically once node2's gadget is selected by the search engine,
	// since both operands are plain integers rather than symbolic stack
	// slots here.
	node1.Params[stratgraph.ParamAMovCstSrcCst] = stratgraph.DependentCstParam(n2, node2.ParamNumAddrOffset(), expr.InvalidId, g.NewName("addr_adjust"))

	node1.BranchType = gadget.BranchRET
	node2.BranchType = node.BranchType

	g.AddStrategyEdge(n1, n2)
	g.AddParamEdge(n1, n2)
	g.AddParamEdge(n1, node.ID)

	g.RedirectIncomingParamEdges(node.ID, n2)
	g.RedirectOutgoingParamEdges(node.ID, n2)
	g.RedirectIncomingStrategyEdges(node.ID, n1)
	g.RedirectOutgoingStrategyEdges(node.ID, n2)

	g.DisableNode(node.ID)
	return true
}

// AdjustStore is AdjustLoad's mirror for STORE/ASTORE destination
// addresses.
func AdjustStore(g *stratgraph.Graph, n int, ar *arch.Arch) bool {
	node := g.Node(n)
	if node.Type != gadget.TypeStore && node.Type != gadget.TypeAStore {
		return false
	}
	if node.Params[node.ParamNumAddrReg()].Value == int64(ar.SP) {
		return false
	}

	n1 := g.NewNode(gadget.TypeAMovCst)
	n2 := g.NewNode(node.Type)
	node1, node2 := g.Node(n1), g.Node(n2)

	*node2 = *g.Node(n)
	node2.ID = n2
	node2.Params[node2.ParamNumAddrReg()] = stratgraph.RegParam(-1, false)
	node2.Params[node2.ParamNumAddrOffset()] = stratgraph.CstParam(0, g.NewName("addr_offset"), false)

	node1.Params[stratgraph.ParamAMovCstSrcOp] = stratgraph.OpParam(int64(expr.OpAdd))
	node1.Params[stratgraph.ParamAMovCstDstReg] = stratgraph.DependentRegParam(n2, node2.ParamNumAddrReg())
	node1.Params[stratgraph.ParamAMovCstDstReg].IsDataLink = true
	node1.Params[stratgraph.ParamAMovCstSrcReg] = node.Params[node.ParamNumAddrReg()]
	node1.Params[stratgraph.ParamAMovCstSrcCst] = stratgraph.DependentCstParam(n2, node2.ParamNumAddrOffset(), expr.InvalidId, g.NewName("addr_adjust"))

	node1.BranchType = gadget.BranchRET
	node2.BranchType = node.BranchType

	g.AddStrategyEdge(n1, n2)
	g.AddParamEdge(n1, n2)
	g.AddParamEdge(n1, node.ID)

	g.RedirectIncomingParamEdges(node.ID, n2)
	g.RedirectOutgoingParamEdges(node.ID, n2)
	g.RedirectIncomingStrategyEdges(node.ID, n1)
	g.RedirectOutgoingStrategyEdges(node.ID, n2)

	g.DisableNode(node.ID)
	return true
}

// SrcTransitivity is GenericTransitivity applied to a source-register
// parameter instead of the destination: it inserts a MOV_REG producing
// the needed source value from any other register, for nodes whose
// source can't be matched directly.
func SrcTransitivity(g *stratgraph.Graph, n, srcParam int) bool {
	node := g.Node(n)
	if !node.IsSrcParam(srcParam) {
		return false
	}

	n1 := g.NewNode(gadget.TypeMovReg)
	node1 := g.Node(n1)
	node1.Params[stratgraph.ParamMovRegDstReg] = node.Params[srcParam]
	node1.Params[stratgraph.ParamMovRegSrcReg] = stratgraph.RegParam(-1, false)
	node1.BranchType = gadget.BranchRET

	node.Params[srcParam] = stratgraph.DependentRegParam(n1, stratgraph.ParamMovRegDstReg)

	g.AddStrategyEdge(n1, node.ID)
	g.AddParamEdge(n1, node.ID)
	g.RedirectIncomingStrategyEdges(node.ID, n1)
	return true
}

// AdjustJmp bridges a RET/ANY node into an indirect JMP: the node's
// branch type becomes JMP, preceded by a MOV_CST that loads the jump
// register with the address of a trailing "pop PC; ret" gadget, so the
// scheduler can place that address on the stack as the node's target.
// This is the most approximate rule in the catalogue: it does not
// verify the jmp register survives untouched through node's own effect
// (no clobber check against node's own params), unlike the rest of the
// catalogue.
func AdjustJmp(g *stratgraph.Graph, n int, ar *arch.Arch) bool {
	node := g.Node(n)
	if node.BranchType != gadget.BranchRET && node.BranchType != gadget.BranchANY {
		return false
	}

	n1 := g.NewNode(gadget.TypeMovCst)
	nRet := g.NewNode(gadget.TypeLoad)
	node1, nodeRet := g.Node(n1), g.Node(nRet)

	node.BranchType = gadget.BranchJMP
	node.MandatoryFollowing = nRet
	node1.BranchType = gadget.BranchRET

	nodeRet.Params[stratgraph.ParamLoadDstReg] = stratgraph.RegParam(ar.PC, true)
	nodeRet.Params[stratgraph.ParamLoadSrcAddrReg] = stratgraph.RegParam(ar.SP, true)
	nodeRet.Params[stratgraph.ParamLoadSrcAddrOffset] = stratgraph.DependentCstParam(n, node.ParamNumSpInc(), expr.InvalidId, g.NewName("adjust_jmp_offset"))
	g.AddParamEdge(nRet, n)
	nodeRet.IsIndirect = true

	node1.Params[stratgraph.ParamMovCstDstReg] = stratgraph.DependentRegParam(n, node.ParamNumGadgetAddr())
	node1.Params[stratgraph.ParamMovCstDstReg].IsDataLink = true
	node1.Params[stratgraph.ParamMovCstSrcCst] = stratgraph.DependentCstParam(nRet, nodeRet.ParamNumGadgetAddr(), expr.InvalidId, g.NewName("adjust_jmp_addr"))
	g.AddParamEdge(n1, n)
	g.AddParamEdge(n1, nRet)

	g.RedirectIncomingStrategyEdges(node.ID, n1)
	g.AddStrategyEdge(n1, node.ID)

	return true
}

