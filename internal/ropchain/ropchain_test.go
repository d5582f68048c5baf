package ropchain

import (
	"strings"
	"testing"

	"ropgen/internal/arch"
	"ropgen/internal/gadget"
)

func TestAddGadgetAndPaddingOrder(t *testing.T) {
	c := New(arch.X86)
	g := &gadget.Gadget{Asm: "pop eax ; ret"}
	c.AddGadget(0x1000, g)
	c.AddPadding(0x41414141, "eax")

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if c.Items[0].Type != ItemGadget || c.Items[0].Addr != 0x1000 {
		t.Fatalf("first item = %+v, want the gadget at 0x1000", c.Items[0])
	}
	if c.Items[1].Type != ItemPadding || c.Items[1].Value != 0x41414141 {
		t.Fatalf("second item = %+v, want padding 0x41414141", c.Items[1])
	}
}

func TestPrettyPrintIncludesComments(t *testing.T) {
	c := New(arch.X86)
	c.AddGadget(0x1000, &gadget.Gadget{Asm: "pop eax ; ret"})
	c.AddPadding(0x41414141, "eax")
	out := c.PrettyPrint()
	if !strings.Contains(out, "pop eax ; ret") {
		t.Fatalf("PrettyPrint output missing gadget comment: %q", out)
	}
	if !strings.Contains(out, "0x41414141") {
		t.Fatalf("PrettyPrint output missing padding value: %q", out)
	}
}

func TestPythonScriptAppliesRelocationOffset(t *testing.T) {
	c := New(arch.X86)
	c.AddGadget(0x1000, &gadget.Gadget{Asm: "ret"})
	out := c.PythonScript()
	if !strings.Contains(out, "off = 0") {
		t.Fatalf("PythonScript should declare a relocatable off base: %q", out)
	}
	if !strings.Contains(out, "+ off") {
		t.Fatalf("PythonScript entries should add the off base: %q", out)
	}
}

func TestDumpRawWordSizeAndEndianness(t *testing.T) {
	c := New(arch.X86) // 4-byte words, little-endian
	c.AddGadget(0x41424344, &gadget.Gadget{})
	raw := c.DumpRaw()
	if len(raw) != 4 {
		t.Fatalf("DumpRaw length = %d, want 4 for a 32-bit arch single item", len(raw))
	}
	want := []byte{0x44, 0x43, 0x42, 0x41}
	for i := range want {
		if raw[i] != want[i] {
			t.Fatalf("DumpRaw = % x, want % x", raw, want)
		}
	}
}

func TestAddChainAppendsItemsInOrder(t *testing.T) {
	a := New(arch.X86)
	a.AddPadding(1, "")
	b := New(arch.X86)
	b.AddPadding(2, "")
	a.AddChain(b)
	if a.Len() != 2 || a.Items[1].Value != 2 {
		t.Fatalf("AddChain did not append the other chain's items in order: %+v", a.Items)
	}
}
