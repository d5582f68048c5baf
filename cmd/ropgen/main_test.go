package main

import (
	"os"
	"path/filepath"
	"testing"

	"ropgen/cmd/ropgen/commands"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestArgAtBoundsChecked(t *testing.T) {
	args := []string{"a", "b"}
	if got := argAt(args, 1); got != "b" {
		t.Fatalf("argAt(1) = %q, want b", got)
	}
	if got := argAt(args, 2); got != "" {
		t.Fatalf("argAt(2) = %q, want empty for an out-of-range index", got)
	}
	if got := argAt(args, -1); got != "" {
		t.Fatalf("argAt(-1) = %q, want empty for a negative index", got)
	}
}

func TestColorizePassesThroughWhenNotATerminal(t *testing.T) {
	// os.Stderr in a test binary is never a terminal, so colorize must
	// return the string unchanged rather than wrap it in an ANSI code.
	if got := colorize("31", "boom"); got != "boom" {
		t.Fatalf("colorize = %q, want unwrapped %q", got, "boom")
	}
}

func TestRunCompileRejectsMissingPositionalArg(t *testing.T) {
	if code := runCompile([]string{"--gadgets", "gadgets.txt", "--arch", "x86"}); code != commands.ExitMalformedIL {
		t.Fatalf("runCompile without an intent file = %d, want ExitMalformedIL", code)
	}
}

func TestRunCompileRejectsMissingGadgetsFlag(t *testing.T) {
	if code := runCompile([]string{"intent.txt", "--arch", "x86"}); code != commands.ExitMalformedIL {
		t.Fatalf("runCompile without --gadgets = %d, want ExitMalformedIL", code)
	}
}

func TestRunCompileParsesFlagsAndAttemptsCompile(t *testing.T) {
	dir := t.TempDir()
	missingGadgets := filepath.Join(dir, "missing-gadgets.txt")
	intent := filepath.Join(dir, "intent.txt")
	writeTemp(t, dir, "intent.txt", "eax = 1\n")

	code := runCompile([]string{intent, "--gadgets", missingGadgets, "--arch", "x86", "--try-budget", "50", "--format", "raw"})
	if code != commands.ExitNoGadgetSrc {
		t.Fatalf("runCompile = %d, want ExitNoGadgetSrc (gadget file does not exist)", code)
	}
}

func TestRunServeRejectsMissingGadgetsFlag(t *testing.T) {
	if code := runServe([]string{"--arch", "x86"}); code != commands.ExitMalformedIL {
		t.Fatalf("runServe without --gadgets = %d, want ExitMalformedIL", code)
	}
}

func TestRunServeParsesFlagsAndAttemptsAnalysis(t *testing.T) {
	dir := t.TempDir()
	missingGadgets := filepath.Join(dir, "missing-gadgets.txt")

	code := runServe([]string{"--gadgets", missingGadgets, "--arch", "x86", "--addr", ":0"})
	if code != commands.ExitNoGadgetSrc {
		t.Fatalf("runServe = %d, want ExitNoGadgetSrc (gadget file does not exist)", code)
	}
}

func TestRunAnalyseRejectsMissingFlags(t *testing.T) {
	if code := runAnalyse([]string{"--arch", "x86"}); code != commands.ExitMalformedIL {
		t.Fatalf("runAnalyse without --gadgets/--dsn/--corpus = %d, want ExitMalformedIL", code)
	}
}

func TestRunAnalyseParsesFlagsAndAttemptsClassification(t *testing.T) {
	dir := t.TempDir()
	missingGadgets := filepath.Join(dir, "missing-gadgets.txt")

	code := runAnalyse([]string{
		"--gadgets", missingGadgets,
		"--arch", "x86",
		"--dsn", "sqlite://" + filepath.Join(dir, "cache.db"),
		"--corpus", "libc",
	})
	if code != commands.ExitNoGadgetSrc {
		t.Fatalf("runAnalyse = %d, want ExitNoGadgetSrc (gadget file does not exist)", code)
	}
}
