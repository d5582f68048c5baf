// Package stratgraph implements the strategy graph. A graph is a set
// of abstract gadget "slots" (Node) joined by strategy edges (this
// node's effect continues by executing that node) and parameter edges
// (this node's parameter is tied to that node's), plus the rewrite
// primitives the rule catalogue uses to grow the graph.
// Grounded on original_source/libropium/compiler/strategy_graph.cpp and
// original_source/librop/include/strategy.hpp.
package stratgraph

import (
	"fmt"

	"ropgen/internal/expr"
	"ropgen/internal/gadget"
)

// ParamType is the sum-type tag of a Param.
type ParamType uint8

const (
	ParamReg ParamType = iota
	ParamCst
	ParamOp
)

// NoNode marks an absent node reference (a disabled node, or "no
// dependency").
const NoNode = -1

// Param is one node parameter slot: either a fixed/free concrete value,
// or a value tied to another node's parameter.
type Param struct {
	Type ParamType
	Name string // naming hint for free constants/registers

	Value int64   // register number, constant, or expr.Op depending on Type
	Expr  expr.Id // set only for dependent/free constants carrying a symbolic value

	IsFixed     bool
	DepNode     int // NoNode when not dependent
	DepParamIdx int

	// IsDataLink marks a param whose value, once produced, must survive
	// unclobbered until every node depending on it has consumed it — the
	// scheduler must order any other node that writes the same register
	// around this span.
	IsDataLink bool
}

func RegParam(reg int, fixed bool) Param {
	return Param{Type: ParamReg, Value: int64(reg), IsFixed: fixed, DepNode: NoNode}
}

func DependentRegParam(depNode, depParamIdx int) Param {
	return Param{Type: ParamReg, Value: -1, IsFixed: false, DepNode: depNode, DepParamIdx: depParamIdx}
}

func CstParam(val int64, name string, fixed bool) Param {
	return Param{Type: ParamCst, Name: name, Value: val, IsFixed: fixed, DepNode: NoNode}
}

func DependentCstParam(depNode, depParamIdx int, e expr.Id, name string) Param {
	return Param{Type: ParamCst, Name: name, Expr: e, IsFixed: false, DepNode: depNode, DepParamIdx: depParamIdx}
}

func OpParam(op int64) Param {
	return Param{Type: ParamOp, Value: op, IsFixed: true, DepNode: NoNode}
}

func (p Param) IsDependent() bool { return !p.IsFixed && p.DepNode != NoNode }
func (p Param) IsFree() bool      { return !p.IsDependent() && !p.IsFixed }

// MaxParams bounds the per-node parameter slots across every GadgetType;
// the last two slots of every type are always the gadget's address and
// its sp_inc.
const MaxParams = 6

// Per-type parameter slot layout. Values must match the tuple order a
// gadgetdb index is keyed on.
const (
	ParamMovRegDstReg = iota
	ParamMovRegSrcReg
	ParamMovRegGadgetAddr
	ParamMovRegSpInc
	NbParamMovReg
)

const (
	ParamMovCstDstReg = iota
	ParamMovCstSrcCst
	ParamMovCstGadgetAddr
	ParamMovCstSpInc
	NbParamMovCst
)

const (
	ParamAMovCstDstReg = iota
	ParamAMovCstSrcReg
	ParamAMovCstSrcOp
	ParamAMovCstSrcCst
	ParamAMovCstGadgetAddr
	ParamAMovCstSpInc
	NbParamAMovCst
)

const (
	ParamAMovRegDstReg = iota
	ParamAMovRegSrcReg1
	ParamAMovRegSrcOp
	ParamAMovRegSrcReg2
	ParamAMovRegGadgetAddr
	ParamAMovRegSpInc
	NbParamAMovReg
)

const (
	ParamLoadDstReg = iota
	ParamLoadSrcAddrReg
	ParamLoadSrcAddrOffset
	ParamLoadGadgetAddr
	ParamLoadSpInc
	NbParamLoad
)

const (
	ParamALoadDstReg = iota
	ParamALoadOp
	ParamALoadSrcAddrReg
	ParamALoadSrcAddrOffset
	ParamALoadGadgetAddr
	ParamALoadSpInc
	NbParamALoad
)

const (
	ParamStoreDstAddrReg = iota
	ParamStoreDstAddrOffset
	ParamStoreSrcReg
	ParamStoreGadgetAddr
	ParamStoreSpInc
	NbParamStore
)

const (
	ParamAStoreDstAddrReg = iota
	ParamAStoreDstAddrOffset
	ParamAStoreOp
	ParamAStoreSrcReg
	ParamAStoreGadgetAddr
	ParamAStoreSpInc
	NbParamAStore
)

// JMP/SYSCALL/INT80 carry no value-producing parameters of their own:
// a JMP's target register lives on the node that redirects into it
// (AdjustJmp wires that through a MOV_CST), not here.
const (
	ParamBranchGadgetAddr = iota
	ParamBranchSpInc
	NbParamBranch
)

// EdgeSet tracks a node's direct neighbours of one edge kind.
type EdgeSet struct {
	In  []int
	Out []int
}

func (e *EdgeSet) addIn(n int) {
	for _, x := range e.In {
		if x == n {
			return
		}
	}
	e.In = append(e.In, n)
}

func (e *EdgeSet) addOut(n int) {
	for _, x := range e.Out {
		if x == n {
			return
		}
	}
	e.Out = append(e.Out, n)
}

func (e *EdgeSet) removeIn(n int) {
	e.In = removeVal(e.In, n)
}

func (e *EdgeSet) removeOut(n int) {
	e.Out = removeVal(e.Out, n)
}

func removeVal(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// ConstraintFunc filters gadgets the search is allowed to bind to a
// node, beyond the compound-key match the database already performed.
type ConstraintFunc func(n *Node, g *Graph) bool

// Node is one abstract gadget slot in a strategy graph.
type Node struct {
	ID    int
	Type  gadget.GadgetType
	Depth int

	BranchType gadget.BranchType // ANY unless a rule pins a concrete one
	IsIndirect bool
	Disabled   bool

	StrategyEdges EdgeSet
	ParamEdges    EdgeSet
	// InterferenceEdges: this node's effect and that node's effect touch
	// overlapping storage and must be ordered relative to one another.
	InterferenceEdges EdgeSet

	Params [MaxParams]Param

	AffectedGadget *gadget.Gadget

	MandatoryFollowing int // NoNode if absent
	Constraints        []ConstraintFunc

	// SpecialPaddings are stack words this node's LOAD/ALOAD gadget pops
	// that must hold a specific value rather than the default filler
	// (e.g. the constant a MOV_CST-via-pop rewrite materializes).
	SpecialPaddings []Padding
}

// Padding is one forced stack word: Offset bytes into this node's
// gadget's stack frame must contain Value once emitted.
type Padding struct {
	Offset Param
	Value  Param
}

func newNode(id int, t gadget.GadgetType) *Node {
	return &Node{ID: id, Type: t, Depth: -1, BranchType: gadget.BranchANY, MandatoryFollowing: NoNode}
}

// NbParams returns how many of Params are meaningful for this node's type.
func (n *Node) NbParams() int {
	switch n.Type {
	case gadget.TypeMovReg:
		return NbParamMovReg
	case gadget.TypeMovCst:
		return NbParamMovCst
	case gadget.TypeAMovCst:
		return NbParamAMovCst
	case gadget.TypeAMovReg:
		return NbParamAMovReg
	case gadget.TypeLoad:
		return NbParamLoad
	case gadget.TypeALoad:
		return NbParamALoad
	case gadget.TypeStore:
		return NbParamStore
	case gadget.TypeAStore:
		return NbParamAStore
	case gadget.TypeJmp, gadget.TypeSyscall, gadget.TypeInt80:
		return NbParamBranch
	default:
		return 0
	}
}

func (n *Node) HasFreeParam() bool {
	for p := 0; p < n.NbParams(); p++ {
		if n.Params[p].IsFree() {
			return true
		}
	}
	return false
}

// HasDstRegParam reports whether this node type writes a destination
// register (everything except STORE/ASTORE/JMP/SYSCALL/INT80).
func (n *Node) HasDstRegParam() bool {
	switch n.Type {
	case gadget.TypeMovCst, gadget.TypeMovReg, gadget.TypeAMovCst, gadget.TypeAMovReg, gadget.TypeLoad, gadget.TypeALoad:
		return true
	default:
		return false
	}
}

// ParamNumDstReg returns the parameter index holding the destination
// register, valid only when HasDstRegParam is true.
func (n *Node) ParamNumDstReg() int {
	switch n.Type {
	case gadget.TypeMovReg:
		return ParamMovRegDstReg
	case gadget.TypeMovCst:
		return ParamMovCstDstReg
	case gadget.TypeAMovCst:
		return ParamAMovCstDstReg
	case gadget.TypeAMovReg:
		return ParamAMovRegDstReg
	case gadget.TypeLoad:
		return ParamLoadDstReg
	case gadget.TypeALoad:
		return ParamALoadDstReg
	default:
		return -1
	}
}

// IsSrcParam reports whether param is a source-register slot: one a
// rule can redirect to another node's output without changing the
// node's observable effect.
func (n *Node) IsSrcParam(param int) bool {
	switch n.Type {
	case gadget.TypeMovReg:
		return param == ParamMovRegSrcReg
	case gadget.TypeAMovCst:
		return param == ParamAMovCstSrcReg
	case gadget.TypeAMovReg:
		return param == ParamAMovRegSrcReg1 || param == ParamAMovRegSrcReg2
	case gadget.TypeLoad:
		return param == ParamLoadSrcAddrReg
	case gadget.TypeALoad:
		return param == ParamALoadSrcAddrReg
	case gadget.TypeStore:
		return param == ParamStoreSrcReg
	case gadget.TypeAStore:
		return param == ParamAStoreSrcReg
	default:
		return false
	}
}

// IsFinalParam reports whether param is this node's destination register
// and nothing downstream consumes it through a strategy edge — i.e. it
// is an output of the whole chain, so anything else writing the same
// register must be scheduled before this node.
func (n *Node) IsFinalParam(param int) bool {
	return len(n.StrategyEdges.Out) == 0 && n.HasDstRegParam() && param == n.ParamNumDstReg()
}

// IsInitialParam reports whether param is one of this node's
// source-register slots; it does not itself check whether anything
// upstream produces it (computeInterferencePoints pairs it with
// HasDependentParam for that). A source with no producer is an input to
// the whole chain, so anything else writing the same register must be
// scheduled after this node.
func (n *Node) IsInitialParam(param int) bool {
	return n.IsSrcParam(param)
}

// ModifiesReg reports whether node n's affected gadget writes regNum,
// optionally also checking the gadget chained via MandatoryFollowing
// (e.g. the indirect "pop PC" LOAD an adjust-jmp rule appended).
func (g *Graph) ModifiesReg(n int, regNum int64, checkFollowing bool) bool {
	node := g.Nodes[n]
	if node.AffectedGadget == nil || regNum < 0 || regNum >= 64 {
		return false
	}
	res := node.AffectedGadget.ModifiedRegs&(1<<uint(regNum)) != 0
	if checkFollowing && node.MandatoryFollowing != NoNode {
		return res || g.ModifiesReg(node.MandatoryFollowing, regNum, true)
	}
	return res
}

// HasDependentParam reports whether some node with a parameter edge
// into n has a parameter whose dependency chain passes through
// (n, param) — used to tell an initial (source) param that is itself
// produced by an earlier rewrite from one that genuinely has no
// producer in the graph.
func (g *Graph) HasDependentParam(n, param int) bool {
	for _, prev := range g.Nodes[n].ParamEdges.In {
		pn := g.Nodes[prev]
		for p := 0; p < pn.NbParams(); p++ {
			if pn.Params[p].IsDependent() && pn.Params[p].DepNode == n && pn.Params[p].DepParamIdx == param {
				return true
			}
		}
	}
	return false
}

// ParamNumGadgetAddr and ParamNumSpInc are always the last two slots of
// a node's active parameter range.
func (n *Node) ParamNumGadgetAddr() int { return n.NbParams() - 2 }
func (n *Node) ParamNumSpInc() int      { return n.NbParams() - 1 }

// ParamNumAddrReg returns the parameter index holding the
// memory-address base register, for LOAD/ALOAD/STORE/ASTORE nodes.
func (n *Node) ParamNumAddrReg() int {
	switch n.Type {
	case gadget.TypeLoad:
		return ParamLoadSrcAddrReg
	case gadget.TypeALoad:
		return ParamALoadSrcAddrReg
	case gadget.TypeStore:
		return ParamStoreDstAddrReg
	case gadget.TypeAStore:
		return ParamAStoreDstAddrReg
	default:
		return -1
	}
}

// ParamNumAddrOffset returns the parameter index holding the
// memory-address constant offset, for LOAD/ALOAD/STORE/ASTORE nodes.
func (n *Node) ParamNumAddrOffset() int {
	switch n.Type {
	case gadget.TypeLoad:
		return ParamLoadSrcAddrOffset
	case gadget.TypeALoad:
		return ParamALoadSrcAddrOffset
	case gadget.TypeStore:
		return ParamStoreDstAddrOffset
	case gadget.TypeAStore:
		return ParamAStoreDstAddrOffset
	default:
		return -1
	}
}

// ParamNumOp returns the parameter index holding the accumulate
// operator, for AMOV_CST/AMOV_REG/ALOAD/ASTORE nodes.
func (n *Node) ParamNumOp() int {
	switch n.Type {
	case gadget.TypeAMovCst:
		return ParamAMovCstSrcOp
	case gadget.TypeAMovReg:
		return ParamAMovRegSrcOp
	case gadget.TypeALoad:
		return ParamALoadOp
	case gadget.TypeAStore:
		return ParamAStoreOp
	default:
		return -1
	}
}

// ParamNumSrcReg returns the single source-register slot for node
// types that have exactly one (MOV_REG, AMOV_CST, STORE, ASTORE).
func (n *Node) ParamNumSrcReg() int {
	switch n.Type {
	case gadget.TypeMovReg:
		return ParamMovRegSrcReg
	case gadget.TypeAMovCst:
		return ParamAMovCstSrcReg
	case gadget.TypeStore:
		return ParamStoreSrcReg
	case gadget.TypeAStore:
		return ParamAStoreSrcReg
	default:
		return -1
	}
}

// Graph is the strategy graph: a node set plus the two scheduling
// orderings computed over it.
type Graph struct {
	Nodes       []*Node
	DfsStrategy []int
	DfsParams   []int

	// DfsScheduling is the final total order over strategy, parameter and
	// interference edges, computed once the scheduler has chosen a side
	// for every interference point.
	DfsScheduling []int

	nameCounter int
	depth       int
}

func New() *Graph {
	return &Graph{}
}

// NewNode allocates a fresh node of type t and returns its id.
func (g *Graph) NewNode(t gadget.GadgetType) int {
	id := len(g.Nodes)
	g.Nodes = append(g.Nodes, newNode(id, t))
	return id
}

// NewName returns a fresh unique identifier built from base, for naming
// free parameters the IL/rules introduce.
func (g *Graph) NewName(base string) string {
	g.nameCounter++
	return fmt.Sprintf("%s_%d", base, g.nameCounter)
}

func (g *Graph) Node(id int) *Node { return g.Nodes[id] }

// DisableNode removes a node from future scheduling without
// renumbering the slice; its id is never
// reused.
func (g *Graph) DisableNode(id int) {
	g.Nodes[id].Disabled = true
	for _, n := range g.Nodes[id].StrategyEdges.In {
		g.Nodes[n].StrategyEdges.removeOut(id)
	}
	for _, n := range g.Nodes[id].StrategyEdges.Out {
		g.Nodes[n].StrategyEdges.removeIn(id)
	}
	for _, n := range g.Nodes[id].ParamEdges.In {
		g.Nodes[n].ParamEdges.removeOut(id)
	}
	for _, n := range g.Nodes[id].ParamEdges.Out {
		g.Nodes[n].ParamEdges.removeIn(id)
	}
}

func (g *Graph) AddStrategyEdge(from, to int) {
	g.Nodes[from].StrategyEdges.addOut(to)
	g.Nodes[to].StrategyEdges.addIn(from)
}

func (g *Graph) AddParamEdge(from, to int) {
	g.Nodes[from].ParamEdges.addOut(to)
	g.Nodes[to].ParamEdges.addIn(from)
}

// AddInterferenceEdge records that from must execute before to. Unlike
// strategy/param edges, no incoming-side bookkeeping is kept on to: the
// scheduler only ever walks a node's outgoing interference edges.
func (g *Graph) AddInterferenceEdge(from, to int) {
	g.Nodes[from].InterferenceEdges.addOut(to)
}

// RedirectIncomingParamEdges moves every incoming param edge currently
// aimed at (curNode, curParam) to instead aim at (newNode, newParam) —
// used by rules that replace a node's source with another node's
// output.
func (g *Graph) RedirectIncomingParamEdges(curNode, newNode int) {
	for _, src := range append([]int(nil), g.Nodes[curNode].ParamEdges.In...) {
		g.Nodes[src].ParamEdges.removeOut(curNode)
		g.Nodes[curNode].ParamEdges.removeIn(src)
		g.AddParamEdge(src, newNode)
	}
}

func (g *Graph) RedirectOutgoingParamEdges(curNode, newNode int) {
	for _, dst := range append([]int(nil), g.Nodes[curNode].ParamEdges.Out...) {
		g.Nodes[curNode].ParamEdges.removeOut(dst)
		g.Nodes[dst].ParamEdges.removeIn(curNode)
		g.AddParamEdge(newNode, dst)
	}
}

func (g *Graph) RedirectIncomingStrategyEdges(curNode, newNode int) {
	for _, src := range append([]int(nil), g.Nodes[curNode].StrategyEdges.In...) {
		g.Nodes[src].StrategyEdges.removeOut(curNode)
		g.Nodes[curNode].StrategyEdges.removeIn(src)
		g.AddStrategyEdge(src, newNode)
	}
}

func (g *Graph) RedirectOutgoingStrategyEdges(curNode, newNode int) {
	for _, dst := range append([]int(nil), g.Nodes[curNode].StrategyEdges.Out...) {
		g.Nodes[curNode].StrategyEdges.removeOut(dst)
		g.Nodes[dst].StrategyEdges.removeIn(curNode)
		g.AddStrategyEdge(newNode, dst)
	}
}

// ComputeDfsStrategy orders nodes so that every node appears after all
// nodes whose strategy edge points into it (a node executes only once
// its predecessor's effect has landed).
func (g *Graph) ComputeDfsStrategy() {
	g.DfsStrategy = g.topoOrder(func(n *Node) []int { return n.StrategyEdges.Out })
}

// ComputeDfsParams orders nodes so a node's parameters are resolved
// only after the nodes they depend on.
func (g *Graph) ComputeDfsParams() {
	g.DfsParams = g.topoOrder(func(n *Node) []int { return n.ParamEdges.Out })
}

// ComputeDfsScheduling computes the final node order over strategy and
// interference edges, placing each node's MandatoryFollowing node
// (e.g. an adjust-jmp's indirect "pop PC" gadget) immediately after it
// rather than wherever the edges alone would put it. It returns false if
// the combined edge set contains a cycle.
func (g *Graph) ComputeDfsScheduling() bool {
	g.DfsScheduling = nil
	marked := make([]bool, len(g.Nodes))
	visited := make([]bool, len(g.Nodes))

	var explore func(n int) bool
	explore = func(n int) bool {
		if g.Nodes[n].Disabled || visited[n] {
			return true
		}
		if marked[n] {
			return false // cycle
		}
		marked[n] = true

		mandatory := g.Nodes[n].MandatoryFollowing
		for _, n2 := range g.Nodes[n].StrategyEdges.Out {
			if n2 == mandatory {
				continue
			}
			if !explore(n2) {
				return false
			}
		}
		for _, n2 := range g.Nodes[n].InterferenceEdges.Out {
			if n2 == mandatory {
				continue
			}
			if !explore(n2) {
				return false
			}
		}
		if mandatory != NoNode {
			if !explore(mandatory) {
				return false
			}
		}

		marked[n] = false
		visited[n] = true
		g.DfsScheduling = append(g.DfsScheduling, n)
		return true
	}

	for i, n := range g.Nodes {
		if n.Disabled || n.IsIndirect || visited[i] {
			continue
		}
		if !explore(i) {
			return false
		}
	}
	return true
}

func (g *Graph) topoOrder(children func(*Node) []int) []int {
	var order []int
	marked := make([]uint8, len(g.Nodes)) // 0 unvisited, 1 in-progress, 2 done
	var visit func(id int)
	visit = func(id int) {
		if marked[id] != 0 || g.Nodes[id].Disabled {
			return
		}
		marked[id] = 1
		for _, c := range children(g.Nodes[id]) {
			visit(c)
		}
		marked[id] = 2
		order = append(order, id)
	}
	for i := range g.Nodes {
		visit(i)
	}
	// Reverse: dependencies must precede dependents.
	for l, r := 0, len(order)-1; l < r; l, r = l+1, r-1 {
		order[l], order[r] = order[r], order[l]
	}
	return order
}

// ResolveParam follows a chain of dependent params back to its
// originating concrete value, substituting the bound gadget's actual
// register/constant/op once every node on the chain has a selected
// gadget. It returns ok=false while any
// node on the chain is still unresolved.
func (g *Graph) ResolveParam(node, paramIdx int) (Param, bool) {
	p := g.Nodes[node].Params[paramIdx]
	seen := make(map[[2]int]bool)
	for p.IsDependent() {
		key := [2]int{node, paramIdx}
		if seen[key] {
			return Param{}, false // dependency cycle
		}
		seen[key] = true
		dn := g.Nodes[p.DepNode]
		if dn.Disabled || dn.AffectedGadget == nil {
			return Param{}, false
		}
		node, paramIdx = p.DepNode, p.DepParamIdx
		p = dn.Params[paramIdx]
	}
	return p, true
}

// ResolveValue follows p's dependency chain to a concrete value, the
// same way ResolveParam does for a node's own parameter slot. It is
// used for values that live outside a node's Params array, such as a
// SpecialPaddings entry.
func (g *Graph) ResolveValue(p Param) (Param, bool) {
	seen := make(map[[2]int]bool)
	for p.IsDependent() {
		key := [2]int{p.DepNode, p.DepParamIdx}
		if seen[key] {
			return Param{}, false
		}
		seen[key] = true
		dn := g.Nodes[p.DepNode]
		if dn.Disabled || dn.AffectedGadget == nil {
			return Param{}, false
		}
		p = dn.Params[p.DepParamIdx]
	}
	return p, true
}

// ResolveAllParams resolves every parameter of node in place, returning
// false if any parameter's dependency chain is not yet resolvable.
func (g *Graph) ResolveAllParams(node int) bool {
	n := g.Nodes[node]
	for i := 0; i < n.NbParams(); i++ {
		if !n.Params[i].IsDependent() {
			continue
		}
		wasDataLink := n.Params[i].IsDataLink
		resolved, ok := g.ResolveParam(node, i)
		if !ok {
			return false
		}
		resolved.IsDataLink = resolved.IsDataLink || wasDataLink
		n.Params[i] = resolved
	}
	return true
}

// Copy deep-copies the graph so the search engine can explore a rule
// application speculatively and backtrack by discarding the copy.
func (g *Graph) Copy() *Graph {
	ng := &Graph{
		DfsStrategy: append([]int(nil), g.DfsStrategy...),
		DfsParams:   append([]int(nil), g.DfsParams...),
		nameCounter: g.nameCounter,
		depth:       g.depth,
	}
	ng.Nodes = make([]*Node, len(g.Nodes))
	for i, n := range g.Nodes {
		cp := *n
		cp.StrategyEdges = EdgeSet{In: append([]int(nil), n.StrategyEdges.In...), Out: append([]int(nil), n.StrategyEdges.Out...)}
		cp.ParamEdges = EdgeSet{In: append([]int(nil), n.ParamEdges.In...), Out: append([]int(nil), n.ParamEdges.Out...)}
		cp.InterferenceEdges = EdgeSet{In: append([]int(nil), n.InterferenceEdges.In...), Out: append([]int(nil), n.InterferenceEdges.Out...)}
		cp.Constraints = append([]ConstraintFunc(nil), n.Constraints...)
		cp.SpecialPaddings = append([]Padding(nil), n.SpecialPaddings...)
		ng.Nodes[i] = &cp
	}
	return ng
}

