package line

import (
	"fmt"
	"math"

	"github.com/go-delve/dwarfline/pkg/logflags"
)

// Registers is the state of the line number program state machine.
type Registers struct {
	Address uint64
	// OpIndex is the index of an operation inside a VLIW instruction.
	OpIndex uint32
	// File is a 1-based index into the unit's file table, 0 means that the
	// instruction is not attributable to any file.
	File uint32
	// Line is 1-based, 0 means the instruction can not be attributed to
	// any source line. Deltas wrap around on overflow.
	Line          uint32
	Column        uint32
	IsStmt        bool
	BasicBlock    bool
	EndSequence   bool
	PrologueEnd   bool
	EpilogueBegin bool
	ISA           uint32 // instruction set architecture register (DWARFv4)
	Discriminator uint32
}

func newRegisters(unit *Unit) Registers {
	return Registers{
		File:   1,
		Line:   1,
		IsStmt: unit.DefaultIsStmt(),
	}
}

// resetRowFlags clears the registers that only apply to a single row, it
// must be called after every row is appended to the matrix.
func (regs *Registers) resetRowFlags() {
	regs.BasicBlock = false
	regs.PrologueEnd = false
	regs.EpilogueBegin = false
	regs.Discriminator = 0
}

// Standard opcodes
const (
	DW_LNS_copy             = 1
	DW_LNS_advance_pc       = 2
	DW_LNS_advance_line     = 3
	DW_LNS_set_file         = 4
	DW_LNS_set_column       = 5
	DW_LNS_negate_stmt      = 6
	DW_LNS_set_basic_block  = 7
	DW_LNS_const_add_pc     = 8
	DW_LNS_fixed_advance_pc = 9
	DW_LNS_prologue_end     = 10
	DW_LNS_epilogue_begin   = 11
	DW_LNS_set_isa          = 12
)

// Extended opcodes
const (
	DW_LINE_end_sequence      = 1
	DW_LINE_set_address       = 2
	DW_LINE_define_file       = 3
	DW_LINE_set_discriminator = 4
)

// opcodefn applies a single opcode to regs, it returns true if the
// registers must be appended to the matrix as a new row.
type opcodefn func(p *program, regs *Registers) (bool, error)

// extopcodefn applies an extended opcode whose operands are n bytes long.
type extopcodefn func(p *program, regs *Registers, n int) (bool, error)

var standardopcodes = [...]opcodefn{
	DW_LNS_copy:             copyfn,
	DW_LNS_advance_pc:       advancepc,
	DW_LNS_advance_line:     advanceline,
	DW_LNS_set_file:         setfile,
	DW_LNS_set_column:       setcolumn,
	DW_LNS_negate_stmt:      negatestmt,
	DW_LNS_set_basic_block:  setbasicblock,
	DW_LNS_const_add_pc:     constaddpc,
	DW_LNS_fixed_advance_pc: fixedadvancepc,
	DW_LNS_prologue_end:     prologueend,
	DW_LNS_epilogue_begin:   epiloguebegin,
	DW_LNS_set_isa:          setisa,
}

var extendedopcodes = map[byte]extopcodefn{
	DW_LINE_end_sequence:      endsequence,
	DW_LINE_set_address:       setaddress,
	DW_LINE_define_file:       definefile,
	DW_LINE_set_discriminator: setdiscriminator,
}

// program interprets the opcodes of a single unit.
type program struct {
	t    *Table
	unit *Unit
	c    *cursor
	log  logflags.Logger

	staticBase         uint64
	normalizeBackslash bool

	// files is the unit's file table followed by the files defined with
	// DW_LINE_define_file.
	files []FileEntry
}

func newProgram(t *Table, unit *Unit, c *cursor, opts *Options) *program {
	return &program{
		t:                  t,
		unit:               unit,
		c:                  c,
		log:                opts.logger().WithField("unit", fmt.Sprintf("%#x", unit.Offset)),
		staticBase:         opts.StaticBase,
		normalizeBackslash: opts.NormalizeBackslash,
		// full slice expression, DW_LINE_define_file must never write into
		// the unit's table
		files: unit.FileNames[:len(unit.FileNames):len(unit.FileNames)],
	}
}

// run executes the program until the end of the unit, appending rows to
// the table.
func (p *program) run() error {
	regs := newRegisters(p.unit)
	for p.c.Len() > 0 {
		next, emit, err := p.step(regs)
		if err != nil {
			return err
		}
		if emit {
			p.t.emit(p, next)
			if next.EndSequence {
				p.t.closeSequence()
				next = newRegisters(p.unit)
			} else {
				next.resetRowFlags()
			}
		}
		regs = next
	}
	// a well formed program always ends with DW_LINE_end_sequence
	p.t.closeSequence()
	return nil
}

// step decodes one opcode and applies it to a copy of regs. The returned
// bool is true if the new registers must be appended to the matrix, the
// caller is responsible for resetting the per-row flags afterwards.
func (p *program) step(regs Registers) (Registers, bool, error) {
	start := p.c.off
	b, err := p.c.u8("opcode")
	if err != nil {
		return regs, false, err
	}

	opcodeBase := p.unit.Prologue.OpcodeBase
	switch {
	case b >= opcodeBase:
		p.execSpecialOpcode(&regs, b)
		return regs, true, nil
	case b == 0:
		emit, err := p.execExtendedOpcode(&regs)
		return regs, emit, err
	case int(b) < len(standardopcodes):
		emit, err := standardopcodes[b](p, &regs)
		return regs, emit, err
	default:
		// unimplemented standard opcode, read the number of arguments specified
		// in the prologue and do nothing with them
		opnum := p.unit.Prologue.StdOpLengths[b]
		for i := 0; i < int(opnum); i++ {
			if _, err := p.c.uleb("unknown standard opcode argument"); err != nil {
				return regs, false, err
			}
		}
		p.log.Debugf("unknown opcode %d(%#x), %d arguments, at offset %#x", b, b, opnum, start)
		return regs, false, nil
	}
}

// advance applies an operation advance to the address and op_index
// registers.
func (p *program) advance(regs *Registers, operationAdvance uint64) {
	minInstrLength := uint64(p.unit.Prologue.MinInstrLength)
	maxOps := uint64(p.unit.Prologue.MaxOpPerInstr)
	if maxOps <= 1 {
		regs.Address += operationAdvance * minInstrLength
		return
	}
	opIndex := uint64(regs.OpIndex) + operationAdvance
	regs.Address += minInstrLength * (opIndex / maxOps)
	regs.OpIndex = uint32(opIndex % maxOps)
}

func (p *program) execSpecialOpcode(regs *Registers, opcode byte) {
	var (
		prologue = &p.unit.Prologue
		adjusted = opcode - prologue.OpcodeBase
	)

	p.advance(regs, uint64(adjusted/prologue.LineRange))
	regs.Line += uint32(int32(prologue.LineBase) + int32(adjusted%prologue.LineRange))
}

func (p *program) execExtendedOpcode(regs *Registers) (bool, error) {
	length, err := p.c.uleb("extended opcode length")
	if err != nil {
		return false, err
	}
	if length == 0 {
		p.log.Debugf("extended opcode with zero length at offset %#x", p.c.off-1)
		return false, nil
	}
	if length > uint64(p.c.Len()) {
		return false, p.c.errorf("extended opcode", ErrTruncated)
	}
	end := p.c.off + int(length)

	b, _ := p.c.u8("extended opcode")
	n := int(length) - 1

	fn, ok := extendedopcodes[b]
	if !ok {
		p.log.Debugf("unknown extended opcode %#x, %d bytes, at offset %#x", b, n, p.c.off-1)
		return false, p.c.skip("extended opcode", n)
	}
	emit, err := fn(p, regs, n)
	if err != nil {
		return false, err
	}
	if p.c.off > end {
		return false, p.c.errorf("extended opcode", ErrMalformedLength)
	}
	// operands shorter than the declared length
	p.c.off = end
	return emit, nil
}

func copyfn(p *program, regs *Registers) (bool, error) {
	return true, nil
}

func advancepc(p *program, regs *Registers) (bool, error) {
	adv, err := p.c.uleb("DW_LNS_advance_pc")
	if err != nil {
		return false, err
	}
	p.advance(regs, adv)
	return false, nil
}

func advanceline(p *program, regs *Registers) (bool, error) {
	delta, err := p.c.sleb("DW_LNS_advance_line")
	if err != nil {
		return false, err
	}
	regs.Line += uint32(delta)
	return false, nil
}

func setfile(p *program, regs *Registers) (bool, error) {
	i, err := p.c.uleb("DW_LNS_set_file")
	if err != nil {
		return false, err
	}
	regs.File = p.register32("DW_LNS_set_file", i)
	return false, nil
}

func setcolumn(p *program, regs *Registers) (bool, error) {
	c, err := p.c.uleb("DW_LNS_set_column")
	if err != nil {
		return false, err
	}
	regs.Column = p.register32("DW_LNS_set_column", c)
	return false, nil
}

func negatestmt(p *program, regs *Registers) (bool, error) {
	regs.IsStmt = !regs.IsStmt
	return false, nil
}

func setbasicblock(p *program, regs *Registers) (bool, error) {
	regs.BasicBlock = true
	return false, nil
}

func constaddpc(p *program, regs *Registers) (bool, error) {
	prologue := &p.unit.Prologue
	p.advance(regs, uint64((255-prologue.OpcodeBase)/prologue.LineRange))
	return false, nil
}

func fixedadvancepc(p *program, regs *Registers) (bool, error) {
	operand, err := p.c.u16("DW_LNS_fixed_advance_pc")
	if err != nil {
		return false, err
	}
	regs.Address += uint64(operand)
	regs.OpIndex = 0
	return false, nil
}

func prologueend(p *program, regs *Registers) (bool, error) {
	regs.PrologueEnd = true
	return false, nil
}

func epiloguebegin(p *program, regs *Registers) (bool, error) {
	regs.EpilogueBegin = true
	return false, nil
}

func setisa(p *program, regs *Registers) (bool, error) {
	isa, err := p.c.uleb("DW_LNS_set_isa")
	if err != nil {
		return false, err
	}
	regs.ISA = p.register32("DW_LNS_set_isa", isa)
	return false, nil
}

// register32 converts the operand of op to the size of its register.
// Values that do not fit are replaced by 0, for files that means the row
// is not attributed to any file.
func (p *program) register32(op string, v uint64) uint32 {
	if v > math.MaxUint32 {
		p.log.Debugf("%s operand %#x out of range at offset %#x", op, v, p.c.off)
		return 0
	}
	return uint32(v)
}

func endsequence(p *program, regs *Registers, n int) (bool, error) {
	regs.EndSequence = true
	return true, nil
}

func setaddress(p *program, regs *Registers, n int) (bool, error) {
	var addr uint64
	switch n {
	case 8:
		a, err := p.c.u64("DW_LINE_set_address")
		if err != nil {
			return false, err
		}
		addr = a
	case 4:
		a, err := p.c.u32("DW_LINE_set_address")
		if err != nil {
			return false, err
		}
		addr = uint64(a)
	default:
		p.log.Debugf("DW_LINE_set_address with unsupported address size %d at offset %#x", n, p.c.off)
		return false, p.c.skip("DW_LINE_set_address", n)
	}
	regs.Address = addr + p.staticBase
	regs.OpIndex = 0
	return false, nil
}

func definefile(p *program, regs *Registers, n int) (bool, error) {
	entry, ok, err := readFileEntry(p.c, p.normalizeBackslash)
	if err != nil {
		return false, err
	}
	if ok {
		p.files = append(p.files, entry)
	}
	return false, nil
}

func setdiscriminator(p *program, regs *Registers, n int) (bool, error) {
	d, err := p.c.uleb("DW_LINE_set_discriminator")
	if err != nil {
		return false, err
	}
	regs.Discriminator = p.register32("DW_LINE_set_discriminator", d)
	return false, nil
}
