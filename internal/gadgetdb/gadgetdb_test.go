package gadgetdb

import (
	"testing"

	"ropgen/internal/arch"
	"ropgen/internal/gadget"
	"ropgen/internal/ir"
)

func TestAnalyseRawClassifiesAndIndexes(t *testing.T) {
	ar := arch.X86
	disasm := ir.DisasmX86(ar)
	raws := []RawGadget{
		{Addr: 0x1000, Raw: []byte{0x58, 0xC3}},             // pop eax; ret
		{Addr: 0x2000, Raw: []byte{0xB8, 0x41, 0x41, 0x41, 0x41, 0xC3}}, // mov eax, 0x41414141; ret
	}
	db := New()
	n, err := db.AnalyseRaw(raws, ar, disasm)
	if err != nil {
		t.Fatalf("AnalyseRaw: %v", err)
	}
	if n != len(raws) {
		t.Fatalf("AnalyseRaw classified %d of %d gadgets", n, len(raws))
	}
	if len(db.All) != len(raws) {
		t.Fatalf("db.All has %d gadgets, want %d", len(db.All), len(raws))
	}

	eax, _ := ar.RegisterNumber("eax")
	movCst := db.Get(gadget.TypeMovCst, gadget.Key{int64(eax), 0x41414141})
	if len(movCst) != 1 {
		t.Fatalf("Get(MovCst, eax=0x41414141) = %d results, want 1", len(movCst))
	}
}

func TestAnalyseRawDeduplicatesIdenticalBytes(t *testing.T) {
	ar := arch.X86
	disasm := ir.DisasmX86(ar)
	raws := []RawGadget{
		{Addr: 0x1000, Raw: []byte{0x58, 0xC3}},
		{Addr: 0x1100, Raw: []byte{0x58, 0xC3}}, // same bytes, different address
	}
	db := New()
	n, err := db.AnalyseRaw(raws, ar, disasm)
	if err != nil {
		t.Fatalf("AnalyseRaw: %v", err)
	}
	if n != 2 {
		t.Fatalf("AnalyseRaw reported %d successes, want 2", n)
	}
	if len(db.All) != 1 {
		t.Fatalf("identical gadget bytes should collapse to one entry, got %d", len(db.All))
	}
	if len(db.All[0].Addresses) != 2 {
		t.Fatalf("deduplicated gadget should record both addresses, got %v", db.All[0].Addresses)
	}
}

func TestAnalyseRawSkipsUndecodableBytes(t *testing.T) {
	ar := arch.X86
	disasm := ir.DisasmX86(ar)
	raws := []RawGadget{
		{Addr: 0x1000, Raw: []byte{0xF4}}, // unsupported opcode
	}
	db := New()
	n, err := db.AnalyseRaw(raws, ar, disasm)
	if err != nil {
		t.Fatalf("AnalyseRaw: %v", err)
	}
	if n != 0 {
		t.Fatalf("AnalyseRaw classified %d gadgets from undecodable bytes, want 0", n)
	}
}

func TestGetPossibleWildcardMatch(t *testing.T) {
	ar := arch.X86
	disasm := ir.DisasmX86(ar)
	raws := []RawGadget{
		{Addr: 0x1000, Raw: []byte{0xB8, 0x41, 0x41, 0x41, 0x41, 0xC3}}, // mov eax, 0x41414141; ret
	}
	db := New()
	if _, err := db.AnalyseRaw(raws, ar, disasm); err != nil {
		t.Fatalf("AnalyseRaw: %v", err)
	}
	possible := db.GetPossible(gadget.TypeMovCst, gadget.Key{gadget.Wildcard, 0x41414141})
	if len(possible) != 1 {
		t.Fatalf("GetPossible with wildcard register = %d results, want 1", len(possible))
	}
}
