package dwarfbuilder

import (
	"bytes"

	"github.com/go-delve/dwarfline/pkg/dwarf/leb128"
)

// Opcode numbers, as defined by the DWARF v4 standard section 7.21.
const (
	DW_LNS_copy             = 0x01
	DW_LNS_advance_pc       = 0x02
	DW_LNS_advance_line     = 0x03
	DW_LNS_set_file         = 0x04
	DW_LNS_set_column       = 0x05
	DW_LNS_negate_stmt      = 0x06
	DW_LNS_set_basic_block  = 0x07
	DW_LNS_const_add_pc     = 0x08
	DW_LNS_fixed_advance_pc = 0x09
	DW_LNS_prologue_end     = 0x0a
	DW_LNS_epilogue_begin   = 0x0b
	DW_LNS_set_isa          = 0x0c

	DW_LNE_end_sequence      = 0x01
	DW_LNE_set_address       = 0x02
	DW_LNE_define_file       = 0x03
	DW_LNE_set_discriminator = 0x04
)

func (b *Builder) Copy() *Builder { return b.Standard(DW_LNS_copy) }

func (b *Builder) AdvancePC(n uint64) *Builder { return b.Standard(DW_LNS_advance_pc, n) }

func (b *Builder) AdvanceLine(delta int64) *Builder {
	b.buf.WriteByte(DW_LNS_advance_line)
	leb128.EncodeSigned(&b.buf, delta)
	return b
}

func (b *Builder) SetFile(i uint64) *Builder { return b.Standard(DW_LNS_set_file, i) }

func (b *Builder) SetColumn(c uint64) *Builder { return b.Standard(DW_LNS_set_column, c) }

func (b *Builder) NegateStmt() *Builder { return b.Standard(DW_LNS_negate_stmt) }

func (b *Builder) SetBasicBlock() *Builder { return b.Standard(DW_LNS_set_basic_block) }

func (b *Builder) ConstAddPC() *Builder { return b.Standard(DW_LNS_const_add_pc) }

func (b *Builder) FixedAdvancePC(n uint16) *Builder {
	b.buf.WriteByte(DW_LNS_fixed_advance_pc)
	b.u16(n)
	return b
}

func (b *Builder) PrologueEnd() *Builder { return b.Standard(DW_LNS_prologue_end) }

func (b *Builder) EpilogueBegin() *Builder { return b.Standard(DW_LNS_epilogue_begin) }

func (b *Builder) SetISA(isa uint64) *Builder { return b.Standard(DW_LNS_set_isa, isa) }

func (b *Builder) EndSequence() *Builder { return b.Extended(DW_LNE_end_sequence, nil) }

// SetAddress writes DW_LNE_set_address with an operand of the size set by
// SetAddressSize (8 by default).
func (b *Builder) SetAddress(addr uint64) *Builder {
	var payload []byte
	switch b.addrSize {
	case 4:
		payload = make([]byte, 4)
		b.order.PutUint32(payload, uint32(addr))
	default:
		payload = make([]byte, 8)
		b.order.PutUint64(payload, addr)
	}
	return b.Extended(DW_LNE_set_address, payload)
}

func (b *Builder) SetDiscriminator(d uint64) *Builder {
	var payload bytes.Buffer
	leb128.EncodeUnsigned(&payload, d)
	return b.Extended(DW_LNE_set_discriminator, payload.Bytes())
}

func (b *Builder) DefineFile(f File) *Builder {
	var payload bytes.Buffer
	payload.WriteString(f.Name)
	payload.WriteByte(0)
	leb128.EncodeUnsigned(&payload, f.Dir)
	leb128.EncodeUnsigned(&payload, f.ModTime)
	leb128.EncodeUnsigned(&payload, f.Length)
	return b.Extended(DW_LNE_define_file, payload.Bytes())
}
