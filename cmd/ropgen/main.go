// cmd/ropgen/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/mattn/go-isatty"

	"ropgen/cmd/ropgen/commands"
)

const version = "0.1.0"

// commandAliases maps short spellings to their canonical subcommand.
var commandAliases = map[string]string{
	"c": "compile",
	"s": "serve",
	"a": "analyse",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(commands.ExitMalformedIL)
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}

	switch cmd {
	case "--help", "-h", "help":
		showUsage()
		os.Exit(commands.ExitOK)
	case "--version", "-v", "version":
		fmt.Println("ropgen " + version)
		os.Exit(commands.ExitOK)
	case "compile":
		os.Exit(runCompile(args[1:]))
	case "serve":
		os.Exit(runServe(args[1:]))
	case "analyse", "analyze":
		os.Exit(runAnalyse(args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "%s\n", colorize("31", fmt.Sprintf("ropgen: unknown command %q", args[0])))
		showUsage()
		os.Exit(commands.ExitMalformedIL)
	}
}

func showUsage() {
	fmt.Println(`ropgen - symbolic ROP chain compiler

Usage:
  ropgen compile <intent-file> --gadgets <rawfile> --arch <arch>[-<system>] [flags]
  ropgen serve --gadgets <rawfile> --arch <arch>[-<system>] [flags]
  ropgen analyse --gadgets <rawfile> --arch <arch>[-<system>] --dsn <dsn> --corpus <name>

compile flags:
  --gadgets <file>     raw gadget corpus, one HEXADDR$BYTES gadget per line
  --arch <spec>        target architecture, e.g. x64-linux or x86
  --try-budget <n>     candidate graphs to try before giving up per instruction (default 3000)
  --format <fmt>       pretty (default), python, or raw
  --out <file>         output file, "-" or omitted for stdout
  --debug              dump each parsed instruction to stderr before compiling

serve flags:
  --gadgets <file>     raw gadget corpus analysed once at startup
  --arch <spec>        target architecture, e.g. x64-linux
  --addr <addr>        listen address (default :8080)
  --try-budget <n>     candidate graphs to try before giving up per instruction

analyse flags:
  --gadgets <file>     raw gadget corpus to classify and cache
  --arch <spec>        target architecture, e.g. x64-linux
  --dsn <dsn>          cache database, e.g. sqlite://corpus.db or postgres://...
  --corpus <name>      name this gadget set is cached under

Aliases: c=compile, s=serve, a=analyse`)
}

func runCompile(args []string) int {
	opts := commands.CompileOptions{Target: "x64-linux", TryBudget: 0, Format: "pretty"}

	var positional []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--gadgets":
			i++
			opts.GadgetFile = argAt(args, i)
		case "--arch":
			i++
			opts.Target = argAt(args, i)
		case "--try-budget":
			i++
			opts.TryBudget, _ = strconv.Atoi(argAt(args, i))
		case "--format":
			i++
			opts.Format = argAt(args, i)
		case "--out":
			i++
			opts.OutFile = argAt(args, i)
		case "--debug":
			opts.Debug = true
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) < 1 || opts.GadgetFile == "" {
		fmt.Fprintln(os.Stderr, colorize("31", "ropgen: usage: ropgen compile <intent-file> --gadgets <rawfile> --arch <spec>"))
		return commands.ExitMalformedIL
	}
	opts.IntentFile = positional[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return commands.Compile(ctx, opts)
}

func runServe(args []string) int {
	opts := commands.ServeOptions{Target: "x64-linux", Addr: ":8080"}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--gadgets":
			i++
			opts.GadgetFile = argAt(args, i)
		case "--arch":
			i++
			opts.Target = argAt(args, i)
		case "--addr":
			i++
			opts.Addr = argAt(args, i)
		case "--try-budget":
			i++
			opts.TryBudget, _ = strconv.Atoi(argAt(args, i))
		}
	}
	if opts.GadgetFile == "" {
		fmt.Fprintln(os.Stderr, colorize("31", "ropgen: usage: ropgen serve --gadgets <rawfile> --arch <spec>"))
		return commands.ExitMalformedIL
	}

	return commands.Serve(opts)
}

func runAnalyse(args []string) int {
	opts := commands.AnalyseOptions{Target: "x64-linux"}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--gadgets":
			i++
			opts.GadgetFile = argAt(args, i)
		case "--arch":
			i++
			opts.Target = argAt(args, i)
		case "--dsn":
			i++
			opts.DSN = argAt(args, i)
		case "--corpus":
			i++
			opts.CorpusName = argAt(args, i)
		}
	}
	if opts.GadgetFile == "" || opts.DSN == "" || opts.CorpusName == "" {
		fmt.Fprintln(os.Stderr, colorize("31", "ropgen: usage: ropgen analyse --gadgets <rawfile> --arch <spec> --dsn <dsn> --corpus <name>"))
		return commands.ExitMalformedIL
	}

	return commands.Analyse(opts)
}

func argAt(args []string, i int) string {
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

// colorize returns s wrapped in the given ANSI code when stderr is a
// terminal, and s unchanged otherwise (piped output, CI logs).
func colorize(code, s string) string {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}
