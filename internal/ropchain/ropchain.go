// Package ropchain defines the compiled output of a chain: an ordered
// list of items (gadget addresses, stack padding words, and indirect
// gadget addresses referenced from padding) plus renderers for the
// forms a consumer might want (human-readable, a Python pwntools-style
// script, or a flat byte dump).
// Grounded on original_source/libropium/ropchain/ropchain.cpp.
package ropchain

import (
	"encoding/binary"
	"fmt"
	"strings"

	"ropgen/internal/arch"
	"ropgen/internal/gadget"
)

// ItemType tags one Chain entry.
type ItemType uint8

const (
	ItemGadget ItemType = iota
	ItemPadding
	ItemGadgetAddress
)

// Item is one 32/64-bit word of the emitted chain.
type Item struct {
	Type    ItemType
	Addr    uint64 // valid iff Type == ItemGadget
	Value   int64  // valid iff Type == ItemPadding || Type == ItemGadgetAddress
	Gadget  *gadget.Gadget
	Comment string
}

// Chain is a fully scheduled, emitted ROP chain: a flat list of stack
// words ready to write at the target buffer.
type Chain struct {
	Arch  *arch.Arch
	Items []Item
}

func New(ar *arch.Arch) *Chain {
	return &Chain{Arch: ar}
}

func (c *Chain) AddGadget(addr uint64, g *gadget.Gadget) {
	c.Items = append(c.Items, Item{Type: ItemGadget, Addr: addr, Gadget: g, Comment: g.Asm})
}

func (c *Chain) AddPadding(value int64, comment string) {
	c.Items = append(c.Items, Item{Type: ItemPadding, Value: value, Comment: comment})
}

func (c *Chain) AddGadgetAddress(value int64, comment string) {
	c.Items = append(c.Items, Item{Type: ItemGadgetAddress, Value: value, Comment: comment})
}

// AddChain appends another chain's items in order, for splicing an
// IL-compiled call's prologue/epilogue around a core gadget sequence.
func (c *Chain) AddChain(other *Chain) {
	c.Items = append(c.Items, other.Items...)
}

func (c *Chain) Len() int { return len(c.Items) }

// PrettyPrint renders one line per item: the hex word, and for gadgets
// and commented paddings the originating assembly or label.
func (c *Chain) PrettyPrint() string {
	var b strings.Builder
	for _, it := range c.Items {
		switch it.Type {
		case ItemGadget:
			fmt.Fprintf(&b, "%s (%s)\n", c.hex(int64(it.Addr)), it.Comment)
		default:
			if it.Comment != "" {
				fmt.Fprintf(&b, "%s (%s)\n", c.hex(it.Value), it.Comment)
			} else {
				fmt.Fprintf(&b, "%s\n", c.hex(it.Value))
			}
		}
	}
	return b.String()
}

func (c *Chain) hex(v int64) string {
	if c.Arch.Bits == 32 {
		return fmt.Sprintf("0x%08x", uint32(v))
	}
	return fmt.Sprintf("0x%016x", uint64(v))
}

// PythonScript renders the chain as a pwntools-style byte-string
// builder, relocatable by an "off" base the caller can set before use.
func (c *Chain) PythonScript() string {
	var b strings.Builder
	endian := "'<I'"
	if c.Arch.Bits == 64 {
		endian = "'<Q'"
	}
	fmt.Fprintf(&b, "from struct import pack\noff = 0\np = b''\n")
	for _, it := range c.Items {
		switch it.Type {
		case ItemGadget:
			fmt.Fprintf(&b, "p += pack(%s, %s + off) # %s\n", endian, c.hex(int64(it.Addr)), it.Comment)
		case ItemGadgetAddress:
			fmt.Fprintf(&b, "p += pack(%s, %s + off)", endian, c.hex(it.Value))
			if it.Comment != "" {
				fmt.Fprintf(&b, " # %s", it.Comment)
			}
			b.WriteByte('\n')
		default:
			fmt.Fprintf(&b, "p += pack(%s, %s)", endian, c.hex(it.Value))
			if it.Comment != "" {
				fmt.Fprintf(&b, " # %s", it.Comment)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// DumpRaw flattens the chain into little-endian machine words, each
// arch.WordSize bytes wide.
func (c *Chain) DumpRaw() []byte {
	out := make([]byte, 0, len(c.Items)*c.Arch.WordSize)
	for _, it := range c.Items {
		var v uint64
		switch it.Type {
		case ItemGadget:
			v = it.Addr
		default:
			v = uint64(it.Value)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		out = append(out, buf[:c.Arch.WordSize]...)
	}
	return out
}

