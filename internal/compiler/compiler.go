// Package compiler orchestrates one end-to-end compile: an intent
// program is lowered instruction by instruction, each instruction's
// seed strategy graph is rewritten and searched against a gadget
// database until a selection succeeds or the try budget is exhausted,
// and the resulting per-instruction chains are spliced together.
// Grounded on original_source/libropium/compiler/compiler.cpp's
// compile() driver loop, adapted to this repo's package split between
// stratgraph/stratrules/search/schedule.
package compiler

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/google/uuid"

	"ropgen/internal/arch"
	"ropgen/internal/errs"
	"ropgen/internal/gadgetdb"
	"ropgen/internal/il"
	"ropgen/internal/ropchain"
	"ropgen/internal/schedule"
	"ropgen/internal/search"
	"ropgen/internal/stratgraph"
	"ropgen/internal/stratrules"
)

// DefaultTryBudget bounds how many candidate graphs compileOne will pop
// off its priority queue before giving up on one instruction, used only
// when a Task is built with a non-positive budget.
const DefaultTryBudget = 3000

// DefaultPadding fills stack slots the scheduler leaves unconstrained.
const DefaultPadding = 0x41414141

// Task is one compile request: a correlation ID plus the target
// environment and resource bounds the compile loop runs under.
type Task struct {
	ID        string
	Arch      *arch.Arch
	ABI       arch.ABI
	System    arch.System
	DB        *gadgetdb.DB
	TryBudget int
}

// NewTask builds a Task with a fresh correlation ID. A non-positive
// tryBudget is replaced with DefaultTryBudget.
func NewTask(ar *arch.Arch, abi arch.ABI, system arch.System, db *gadgetdb.DB, tryBudget int) *Task {
	if tryBudget <= 0 {
		tryBudget = DefaultTryBudget
	}
	return &Task{
		ID:        uuid.New().String(),
		Arch:      ar,
		ABI:       abi,
		System:    system,
		DB:        db,
		TryBudget: tryBudget,
	}
}

// Compile lowers program instruction by instruction into one spliced
// Chain. It stops at the first instruction that cannot be realized,
// returning that instruction's error wrapped with its source line.
func (t *Task) Compile(ctx context.Context, program []*il.Instr) (*ropchain.Chain, error) {
	out := ropchain.New(t.Arch)

	for i, instr := range program {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.Cancelled, err, "compile cancelled before instruction %d", i)
		}

		seed, err := stratgraph.BuildSeed(t.Arch, t.ABI, t.System, instr)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, instr.Source, err)
		}

		chain, err := t.compileOne(ctx, seed.Graph)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, instr.Source, err)
		}
		out.AddChain(chain)

		if seed.HasCallTarget {
			out.AddGadgetAddress(seed.CallTarget, "call target")
			for _, a := range seed.CallStackArgs {
				out.AddPadding(a, "call stack argument")
			}
		}
	}

	if len(out.Items) == 0 {
		return nil, errs.New(errs.NoChain, "empty program produced no chain")
	}
	return out, nil
}

// compileOne runs the rewrite-and-select search for a single seed
// graph: a size-ordered priority queue of candidate graphs, popping the
// smallest first, trying selection against the database, and on
// failure enqueueing every one-step rewrite of that candidate. The
// search stops at the first successful selection, when the queue runs
// dry, when ctx is cancelled, or when TryBudget candidates have been
// tried.
func (t *Task) compileOne(ctx context.Context, seed *stratgraph.Graph) (*ropchain.Chain, error) {
	q := &candidateQueue{}
	heap.Init(q)
	heap.Push(q, seed)

	tries := 0
	for q.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.Cancelled, err, "search cancelled after %d tries", tries)
		}
		if tries >= t.TryBudget {
			return nil, errs.New(errs.NoChain, "try budget of %d candidates exhausted", t.TryBudget)
		}
		tries++

		cand := heap.Pop(q).(*stratgraph.Graph)
		if search.Select(cand, t.DB, t.Arch) {
			return schedule.Emit(cand, t.Arch, DefaultPadding), nil
		}

		for _, next := range stratrules.Candidates(cand, t.Arch) {
			heap.Push(q, next)
		}
	}

	return nil, errs.New(errs.NoChain, "no candidate rewrite of the seed graph matched the gadget database")
}

// candidateQueue is a container/heap priority queue of candidate
// strategy graphs ordered smallest-first by node count, so the search
// explores minimal rewrites before larger ones.
type candidateQueue []*stratgraph.Graph

func (q candidateQueue) Len() int { return len(q) }

func (q candidateQueue) Less(i, j int) bool {
	return len(q[i].Nodes) < len(q[j].Nodes)
}

func (q candidateQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *candidateQueue) Push(x interface{}) {
	*q = append(*q, x.(*stratgraph.Graph))
}

func (q *candidateQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
