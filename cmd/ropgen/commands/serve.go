package commands

import (
	"fmt"
	"net/http"
	"os"

	"ropgen/internal/gadgetdb"
	"ropgen/internal/ir"
	"ropgen/internal/ropsrv"
	"ropgen/internal/store"
)

// ServeOptions holds the serve subcommand's parsed flags.
type ServeOptions struct {
	Addr       string
	GadgetFile string
	Target     string
	TryBudget  int
}

// Serve analyses opts.GadgetFile once and listens for websocket compile
// requests against the resulting database until the process is killed.
func Serve(opts ServeOptions) int {
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

	db := gadgetdb.New()
	if _, err := db.AnalyseRaw(raws, ar, ir.DisasmX86(ar)); err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: analysing gadget corpus: %v\n", err)
		return ExitNoGadgetSrc
	}

	srv := ropsrv.New(db)
	srv.TryBudget = opts.TryBudget

	fmt.Fprintf(os.Stderr, "ropgen: serving compile requests on %s\n", opts.Addr)
	if err := http.ListenAndServe(opts.Addr, srv); err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: server stopped: %v\n", err)
		return ExitNoChain
	}
	return ExitOK
}
