package commands

import (
	"fmt"
	"os"

	"ropgen/internal/gadgetdb"
	"ropgen/internal/ir"
	"ropgen/internal/store"
)

// AnalyseOptions holds the analyse subcommand's parsed flags.
type AnalyseOptions struct {
	GadgetFile string
	Target     string
	DSN        string // cache connection, e.g. sqlite://corpus.db
	CorpusName string
}

// Analyse classifies opts.GadgetFile once and caches the raw gadgets
// under opts.CorpusName in the database at opts.DSN, so a later compile
// or serve invocation against the same corpus can load straight from
// the cache instead of re-reading and re-disassembling the source file.
func Analyse(opts AnalyseOptions) int {
	ar, _, _, err := ParseTarget(opts.Target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: %v\n", err)
		return ExitMalformedIL
	}

	raws, err := store.ReadRawFile(opts.GadgetFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: reading gadget corpus: %v\n", err)
		return ExitNoGadgetSrc
	}
	if len(raws) == 0 {
		fmt.Fprintln(os.Stderr, "ropgen: gadget corpus is empty")
		return ExitNoGadgetSrc
	}

	db := gadgetdb.New()
	n, err := db.AnalyseRaw(raws, ar, ir.DisasmX86(ar))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: analysing gadget corpus: %v\n", err)
		return ExitNoGadgetSrc
	}

	mgr := store.NewManager()
	if err := mgr.Connect("analyse", opts.DSN); err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: %v\n", err)
		return ExitNoGadgetSrc
	}
	defer mgr.Close("analyse")

	if err := mgr.SaveRaw("analyse", opts.CorpusName, raws); err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: caching corpus: %v\n", err)
		return ExitNoGadgetSrc
	}

	fmt.Printf("ropgen: classified %d/%d gadgets, cached %d raw entries as %q\n", n, len(raws), len(raws), opts.CorpusName)
	return ExitOK
}
