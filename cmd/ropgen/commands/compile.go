package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kr/pretty"

	"ropgen/internal/arch"
	"ropgen/internal/compiler"
	errspkg "ropgen/internal/errs"
	"ropgen/internal/gadgetdb"
	"ropgen/internal/il"
	"ropgen/internal/ir"
	"ropgen/internal/ropchain"
	"ropgen/internal/store"
)

// Exit codes per the compile CLI contract: 0 success, 1 no chain
// found, 2 malformed intent, 3 no candidate-gadget source.
const (
	ExitOK          = 0
	ExitNoChain     = 1
	ExitMalformedIL = 2
	ExitNoGadgetSrc = 3
)

// CompileOptions holds the compile subcommand's parsed flags.
type CompileOptions struct {
	IntentFile string
	GadgetFile string
	Target     string
	TryBudget  int
	Format     string // pretty, python, raw
	OutFile    string
	Debug      bool
}

// Compile runs one compile subcommand invocation end to end: read the
// gadget corpus, classify it, parse the intent program, compile it, and
// render the result. It returns the process exit code to use.
func Compile(ctx context.Context, opts CompileOptions) int {
	ar, abi, system, err := ParseTarget(opts.Target)
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
	disasm := ir.DisasmX86(ar)
	n, err := db.AnalyseRaw(raws, ar, disasm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: analysing gadget corpus: %v\n", err)
		return ExitNoGadgetSrc
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "ropgen: no gadget in the corpus classified successfully")
		return ExitNoGadgetSrc
	}

	program, err := parseIntentFile(ar, opts.IntentFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: %v\n", err)
		return ExitMalformedIL
	}
	if len(program) == 0 {
		fmt.Fprintln(os.Stderr, "ropgen: intent file has no instructions")
		return ExitMalformedIL
	}
	if opts.Debug {
		for _, instr := range program {
			fmt.Fprintf(os.Stderr, "%# v\n", pretty.Formatter(instr))
		}
	}

	task := compiler.NewTask(ar, abi, system, db, opts.TryBudget)
	chain, err := task.Compile(ctx, program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: %v\n", err)
		return exitCodeFor(err)
	}

	return writeChain(chain, opts)
}

// parseIntentFile reads path and parses each non-blank, non-comment
// line with il.Parse, stopping at the first malformed line.
func parseIntentFile(ar *arch.Arch, path string) ([]*il.Instr, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading intent file: %w", err)
	}

	var program []*il.Instr
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		instr, err := il.Parse(ar, line)
		if err != nil {
			return nil, err
		}
		program = append(program, instr)
	}
	return program, nil
}

func exitCodeFor(err error) int {
	var e *errspkg.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errspkg.Parse, errspkg.ILSemantic, errspkg.ILUnsupportedABI:
			return ExitMalformedIL
		case errspkg.NoChain, errspkg.Cancelled:
			return ExitNoChain
		}
	}
	return ExitNoChain
}

func writeChain(chain *ropchain.Chain, opts CompileOptions) int {
	var rendered string
	switch opts.Format {
	case "", "pretty":
		rendered = chain.PrettyPrint()
	case "python":
		rendered = chain.PythonScript()
	case "raw":
		rendered = string(chain.DumpRaw())
	default:
		fmt.Fprintf(os.Stderr, "ropgen: unknown output format %q\n", opts.Format)
		return ExitMalformedIL
	}

	if opts.OutFile == "" || opts.OutFile == "-" {
		fmt.Print(rendered)
		return ExitOK
	}
	if err := os.WriteFile(opts.OutFile, []byte(rendered), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "ropgen: writing output: %v\n", err)
		return ExitNoChain
	}
	return ExitOK
}
