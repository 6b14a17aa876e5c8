// Package dwarfbuilder provides a way to build .debug_line sections with
// arbitrary contents.
package dwarfbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-delve/dwarfline/pkg/dwarf/leb128"
)

// File is an entry of the file table of a line number program header.
type File struct {
	Name    string
	Dir     uint64
	ModTime uint64
	Length  uint64
}

// Header describes the header of a line number program.
type Header struct {
	Version        uint16
	MinInstrLength uint8
	MaxOpPerInstr  uint8 // only written for version >= 4
	DefaultIsStmt  bool
	LineBase       int8
	LineRange      uint8
	OpcodeBase     uint8
	// StdOpLengths overrides the argument counts of standard opcodes,
	// StdOpLengths[0] is opcode 1. Missing entries are taken from the
	// standard table and are 0 past DW_LNS_set_isa.
	StdOpLengths []uint8
	IncludeDirs  []string
	Files        []File
	// Padding is the number of zero bytes written between the file table
	// and the first opcode, they are counted in header_length.
	Padding int
}

// DefaultHeader returns the header used by most compilers for DWARFv4.
func DefaultHeader() Header {
	return Header{
		Version:        4,
		MinInstrLength: 1,
		MaxOpPerInstr:  1,
		DefaultIsStmt:  true,
		LineBase:       -5,
		LineRange:      14,
		OpcodeBase:     13,
	}
}

var stdOpLengths = []uint8{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

// Builder line program builder
type Builder struct {
	buf   bytes.Buffer
	order binary.ByteOrder

	// state of the unit being built
	open           bool
	hdr            Header
	unitStart      int
	headerLenStart int
	addrSize       int
}

// New creates a new builder for a little endian section.
func New() *Builder {
	return NewWithOrder(binary.LittleEndian)
}

// NewWithOrder creates a new builder writing fixed size fields in the
// given byte order.
func NewWithOrder(order binary.ByteOrder) *Builder {
	return &Builder{order: order, addrSize: 8}
}

// SetAddressSize sets the size of DW_LINE_set_address operands.
func (b *Builder) SetAddressSize(sz int) {
	b.addrSize = sz
}

func (b *Builder) u16(v uint16) {
	var tmp [2]byte
	b.order.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *Builder) u32(v uint32) {
	var tmp [4]byte
	b.order.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *Builder) u64(v uint64) {
	var tmp [8]byte
	b.order.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *Builder) str(s string) {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
}

// BeginUnit writes the header of a new line number program, every opcode
// written until EndUnit belongs to its program.
func (b *Builder) BeginUnit(h Header) {
	if b.open {
		b.EndUnit()
	}
	b.open = true
	b.hdr = h
	b.unitStart = b.buf.Len()

	b.u32(0) // unit_length
	b.u16(h.Version)
	b.u32(0) // header_length
	b.headerLenStart = b.buf.Len()

	b.buf.WriteByte(h.MinInstrLength)
	if h.Version >= 4 {
		b.buf.WriteByte(h.MaxOpPerInstr)
	}
	if h.DefaultIsStmt {
		b.buf.WriteByte(1)
	} else {
		b.buf.WriteByte(0)
	}
	b.buf.WriteByte(byte(h.LineBase))
	b.buf.WriteByte(h.LineRange)
	b.buf.WriteByte(h.OpcodeBase)
	for op := 1; op < int(h.OpcodeBase); op++ {
		var n uint8
		switch {
		case op-1 < len(h.StdOpLengths):
			n = h.StdOpLengths[op-1]
		case op-1 < len(stdOpLengths):
			n = stdOpLengths[op-1]
		}
		b.buf.WriteByte(n)
	}

	for _, dir := range h.IncludeDirs {
		b.str(dir)
	}
	b.buf.WriteByte(0)
	for _, f := range h.Files {
		b.writeFile(f)
	}
	b.buf.WriteByte(0)
	b.buf.Write(make([]byte, h.Padding))

	out := b.buf.Bytes()
	b.order.PutUint32(out[b.headerLenStart-4:], uint32(len(out)-b.headerLenStart))
}

func (b *Builder) writeFile(f File) {
	b.str(f.Name)
	leb128.EncodeUnsigned(&b.buf, f.Dir)
	leb128.EncodeUnsigned(&b.buf, f.ModTime)
	leb128.EncodeUnsigned(&b.buf, f.Length)
}

// EndUnit closes the current unit, patching its unit_length field.
func (b *Builder) EndUnit() {
	if !b.open {
		return
	}
	b.open = false
	out := b.buf.Bytes()
	b.order.PutUint32(out[b.unitStart:], uint32(len(out)-b.unitStart-4))
}

// Build closes b and returns the .debug_line section.
func (b *Builder) Build() []byte {
	b.EndUnit()
	return append([]byte(nil), b.buf.Bytes()...)
}

// Raw appends arbitrary bytes to the program.
func (b *Builder) Raw(p ...byte) *Builder {
	b.buf.Write(p)
	return b
}

// Standard writes standard opcode op followed by args encoded as ULEB128.
func (b *Builder) Standard(op byte, args ...uint64) *Builder {
	b.buf.WriteByte(op)
	for _, arg := range args {
		leb128.EncodeUnsigned(&b.buf, arg)
	}
	return b
}

// Extended writes extended opcode op with the given operand bytes.
func (b *Builder) Extended(op byte, payload []byte) *Builder {
	b.buf.WriteByte(0)
	leb128.EncodeUnsigned(&b.buf, uint64(len(payload)+1))
	b.buf.WriteByte(op)
	b.buf.Write(payload)
	return b
}

// Special writes the special opcode that advances the operation pointer
// by operationAdvance and the line by lineDelta.
func (b *Builder) Special(operationAdvance uint64, lineDelta int) *Builder {
	h := &b.hdr
	if lineDelta < int(h.LineBase) || lineDelta >= int(h.LineBase)+int(h.LineRange) {
		panic(fmt.Errorf("line delta %d can not be encoded in a special opcode", lineDelta))
	}
	opcode := uint64(lineDelta-int(h.LineBase)) + uint64(h.LineRange)*operationAdvance + uint64(h.OpcodeBase)
	if opcode > 255 {
		panic(fmt.Errorf("operation advance %d can not be encoded in a special opcode", operationAdvance))
	}
	b.buf.WriteByte(byte(opcode))
	return b
}
