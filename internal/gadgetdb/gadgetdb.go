// Package gadgetdb implements the multi-indexed gadget database: one
// map per gadget.GadgetType, keyed by the compound gadget.Key tuples the
// classifier produces, plus exact-get and wildcard possible-get queries
// the search engine drives.
package gadgetdb

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"ropgen/internal/arch"
	"ropgen/internal/classify"
	"ropgen/internal/errs"
	"ropgen/internal/expr"
	"ropgen/internal/gadget"
	"ropgen/internal/ir"
)

// Possible is one candidate surfaced by a wildcard query: the concrete
// key it was stored under, and the gadget realizing it.
type Possible struct {
	Key Key
	G   *gadget.Gadget
}

// Key is the lookup key actually used internally: GadgetType plus the
// compound tuple (gadget.Key already carries both, this just names the
// pairing for map storage).
type Key struct {
	Type gadget.GadgetType
	K    gadget.Key
}

// DB is the gadget corpus: the flat gadget list plus one index per
// GadgetType. Safe for concurrent readers once AnalyseRaw has returned;
// AnalyseRaw itself serializes all writes through a single goroutine so
// callers never need external locking.
type DB struct {
	All  []*gadget.Gadget
	seen map[[32]byte]*gadget.Gadget

	index map[gadget.GadgetType]map[gadget.Key][]*gadget.Gadget
}

// New returns an empty database.
func New() *DB {
	return &DB{
		seen:  make(map[[32]byte]*gadget.Gadget),
		index: make(map[gadget.GadgetType]map[gadget.Key][]*gadget.Gadget),
	}
}

func (db *DB) indexFor(t gadget.GadgetType) map[gadget.Key][]*gadget.Gadget {
	m, ok := db.index[t]
	if !ok {
		m = make(map[gadget.Key][]*gadget.Gadget)
		db.index[t] = m
	}
	return m
}

// insert files a classified gadget under every entry the classifier
// produced for it.
func (db *DB) insert(g *gadget.Gadget, entries []gadget.Entry) {
	g.ID = len(db.All)
	db.All = append(db.All, g)
	for _, e := range entries {
		m := db.indexFor(e.Type)
		m[e.Key] = append(m[e.Key], g)
	}
}

// Get returns the gadget list stored exactly under (t, key), or nil.
func (db *DB) Get(t gadget.GadgetType, key gadget.Key) []*gadget.Gadget {
	return db.index[t][key]
}

// GetPossible scans every stored key of type t and returns the ones
// matching key at every non-wildcard coordinate, as one Possible per
// (stored key, gadget) pair, so the caller can read the concrete values
// chosen for the coordinates it passed as Wildcard.
func (db *DB) GetPossible(t gadget.GadgetType, key gadget.Key) []Possible {
	var out []Possible
	for k, list := range db.index[t] {
		if !matches(key, k) {
			continue
		}
		for _, g := range list {
			out = append(out, Possible{Key: k, G: g})
		}
	}
	return out
}

func matches(query, stored gadget.Key) bool {
	for i, q := range query {
		if q == gadget.Wildcard {
			continue
		}
		if stored[i] != q {
			return false
		}
	}
	return true
}

// RawGadget is one disassembler input: the bytes found at addr, as read
// from a gadget corpus file or a live memory dump.
type RawGadget struct {
	Addr uint64
	Raw  []byte
}

// AnalyseRaw lifts, symbolically executes, simplifies, classifies and
// inserts every raw gadget candidate, deduplicating identical byte
// strings. Lifting and symbolic
// execution of distinct candidates are independent, so they fan out
// across an errgroup; insertion into the shared indexes is serialized.
func (db *DB) AnalyseRaw(raws []RawGadget, ar *arch.Arch, disasm ir.Disassembler) (int, error) {
	type lifted struct {
		raw   RawGadget
		asm   string
		exec  *ir.Result
		a     *expr.Arena
		nb    int
		fail  bool
	}

	results := make([]lifted, len(raws))
	var g errgroup.Group
	g.SetLimit(16)

	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			block, err := disasm(raw.Addr, raw.Raw)
			if err != nil {
				results[i] = lifted{raw: raw, fail: true}
				return nil // silent: LIFT_FAIL is discarded, not surfaced
			}
			a := expr.NewArena()
			res, err := ir.Execute(a, ar, block)
			if err != nil {
				results[i] = lifted{raw: raw, fail: true}
				return nil // silent: SYMBOLIC_FAIL
			}
			results[i] = lifted{raw: raw, asm: block.Name, exec: res, a: a, nb: countInstrs(block)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, errs.Wrap(errs.LiftFail, err, "analyse raw gadgets")
	}

	nbSuccess := 0
	for _, lr := range results {
		if lr.fail {
			continue
		}
		sum := blake2b.Sum256(lr.raw.Raw)
		if existing, ok := db.seen[sum]; ok {
			existing.Addresses = append(existing.Addresses, lr.raw.Addr)
			nbSuccess++
			continue
		}

		verdict, ok := classify.Classify(lr.a, ar, lr.exec)
		if !ok {
			continue // silent: CLASSIFY_REJECT
		}

		gd := &gadget.Gadget{
			Addresses:        []uint64{lr.raw.Addr},
			Asm:              lr.asm,
			Sem:              lr.exec.Sem,
			SpInc:            verdict.SpInc,
			MaxSpInc:         lr.exec.MaxSpInc,
			BranchType:       verdict.BranchType,
			JmpReg:           verdict.JmpReg,
			DereferencedRegs: lr.exec.DereferencedRegs,
			NbInstr:          lr.nb,
		}
		gd.ModifiedRegs = modifiedMask(lr.a, ar, lr.exec)

		db.seen[sum] = gd
		db.insert(gd, verdict.Entries)
		nbSuccess++
	}
	return nbSuccess, nil
}

func countInstrs(b *ir.Block) int {
	n := 0
	for _, blk := range b.Blocks {
		n += len(blk)
	}
	return n
}

func modifiedMask(a *expr.Arena, ar *arch.Arch, res *ir.Result) uint64 {
	var mask uint64
	for r := 0; r < ar.NumRegs && r < 64; r++ {
		val, has := res.Sem.Regs[r]
		if !has {
			continue
		}
		if reg2, _, ok := a.IsVar(val); ok && reg2 == r {
			continue
		}
		mask |= 1 << uint(r)
	}
	return mask
}

// String summarizes the database's population per GadgetType, for CLI
// and session-report output.
func (db *DB) String() string {
	s := fmt.Sprintf("%d gadgets total\n", len(db.All))
	for t := gadget.TypeMovCst; t <= gadget.TypeInt80; t++ {
		n := 0
		for _, list := range db.index[t] {
			n += len(list)
		}
		s += fmt.Sprintf("  %-10s %d\n", t, n)
	}
	return s
}

