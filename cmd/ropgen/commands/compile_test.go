package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ropgen/internal/arch"
	errspkg "ropgen/internal/errs"
	"ropgen/internal/gadget"
	"ropgen/internal/ropchain"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseIntentFileSkipsBlanksAndComments(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "intent.txt", "# a comment\n\neax = 0x41414141\n  \nebx = eax\n")

	program, err := parseIntentFile(arch.X86, path)
	if err != nil {
		t.Fatalf("parseIntentFile: %v", err)
	}
	if len(program) != 2 {
		t.Fatalf("parseIntentFile produced %d instructions, want 2 (comment and blanks skipped)", len(program))
	}
}

func TestParseIntentFileStopsAtFirstMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "intent.txt", "eax = 1\nthis is not a valid instruction\nebx = 2\n")

	if _, err := parseIntentFile(arch.X86, path); err == nil {
		t.Fatalf("expected a malformed instruction line to be rejected")
	}
}

func TestParseIntentFileMissingFile(t *testing.T) {
	if _, err := parseIntentFile(arch.X86, filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected a missing intent file to be rejected")
	}
}

func TestExitCodeForMapsErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"parse", errspkg.New(errspkg.Parse, "bad token"), ExitMalformedIL},
		{"il_semantic", errspkg.New(errspkg.ILSemantic, "type mismatch"), ExitMalformedIL},
		{"il_unsupported_abi", errspkg.New(errspkg.ILUnsupportedABI, "no syscall convention"), ExitMalformedIL},
		{"no_chain", errspkg.New(errspkg.NoChain, "budget exhausted"), ExitNoChain},
		{"cancelled", errspkg.New(errspkg.Cancelled, "context done"), ExitNoChain},
		{"wrapped", errors.New("wrapped: " + errspkg.New(errspkg.Parse, "inner").Error()), ExitNoChain},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := exitCodeFor(c.err); got != c.want {
				t.Fatalf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}

func testChain() *ropchain.Chain {
	c := ropchain.New(arch.X86)
	c.AddGadget(0x2000, &gadget.Gadget{Asm: "mov eax, 0x41414141 ; ret"})
	c.AddPadding(0x42424242, "")
	return c
}

func TestWriteChainFormats(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		format string
		want   string
	}{
		{"", "0x00002000"},
		{"pretty", "0x00002000"},
		{"python", "pack"},
	}
	for _, c := range cases {
		t.Run(c.format, func(t *testing.T) {
			out := writeTemp(t, dir, "out-"+c.format+".txt", "")
			code := writeChain(testChain(), CompileOptions{Format: c.format, OutFile: out})
			if code != ExitOK {
				t.Fatalf("writeChain = %d, want ExitOK", code)
			}
			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if !strings.Contains(string(data), c.want) {
				t.Fatalf("output %q does not contain %q", data, c.want)
			}
		})
	}
}

func TestWriteChainRawFormatIsWordSized(t *testing.T) {
	dir := t.TempDir()
	out := writeTemp(t, dir, "out.raw", "")
	code := writeChain(testChain(), CompileOptions{Format: "raw", OutFile: out})
	if code != ExitOK {
		t.Fatalf("writeChain = %d, want ExitOK", code)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 8 {
		t.Fatalf("raw dump length = %d, want 8 (2 words * 4 bytes)", len(data))
	}
}

func TestWriteChainRejectsUnknownFormat(t *testing.T) {
	code := writeChain(testChain(), CompileOptions{Format: "yaml", OutFile: filepath.Join(t.TempDir(), "out.txt")})
	if code != ExitMalformedIL {
		t.Fatalf("writeChain with unknown format = %d, want ExitMalformedIL", code)
	}
}

func TestCompileEndToEndProducesChainFile(t *testing.T) {
	dir := t.TempDir()
	gadgetFile := writeTemp(t, dir, "gadgets.txt", "2000$b841414141c3\n")
	intentFile := writeTemp(t, dir, "intent.il", "eax = 0x41414141\n")
	outFile := filepath.Join(dir, "chain.txt")

	opts := CompileOptions{
		IntentFile: intentFile,
		GadgetFile: gadgetFile,
		Target:     "x86",
		TryBudget:  100,
		OutFile:    outFile,
	}

	code := Compile(context.Background(), opts)
	if code != ExitOK {
		t.Fatalf("Compile = %d, want ExitOK", code)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty chain output")
	}
}

func TestCompileReturnsNoGadgetSrcForMissingCorpus(t *testing.T) {
	dir := t.TempDir()
	intentFile := writeTemp(t, dir, "intent.il", "eax = 1\n")

	opts := CompileOptions{
		IntentFile: intentFile,
		GadgetFile: filepath.Join(dir, "missing.txt"),
		Target:     "x86",
	}
	if code := Compile(context.Background(), opts); code != ExitNoGadgetSrc {
		t.Fatalf("Compile = %d, want ExitNoGadgetSrc", code)
	}
}

func TestCompileReturnsMalformedILForBadTarget(t *testing.T) {
	dir := t.TempDir()
	gadgetFile := writeTemp(t, dir, "gadgets.txt", "2000$c3\n")
	intentFile := writeTemp(t, dir, "intent.il", "eax = 1\n")

	opts := CompileOptions{
		IntentFile: intentFile,
		GadgetFile: gadgetFile,
		Target:     "sparc64-linux",
	}
	if code := Compile(context.Background(), opts); code != ExitMalformedIL {
		t.Fatalf("Compile = %d, want ExitMalformedIL", code)
	}
}

func TestCompileReturnsMalformedILForEmptyIntentFile(t *testing.T) {
	dir := t.TempDir()
	gadgetFile := writeTemp(t, dir, "gadgets.txt", "2000$c3\n")
	intentFile := writeTemp(t, dir, "intent.il", "# nothing but a comment\n")

	opts := CompileOptions{
		IntentFile: intentFile,
		GadgetFile: gadgetFile,
		Target:     "x86",
	}
	if code := Compile(context.Background(), opts); code != ExitMalformedIL {
		t.Fatalf("Compile = %d, want ExitMalformedIL", code)
	}
}
