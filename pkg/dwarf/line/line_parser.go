package line

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/go-delve/dwarfline/pkg/logflags"
)

// DebugLinePrologue holds the fixed size fields of a line number program
// header.
type DebugLinePrologue struct {
	UnitLength     uint32
	Version        uint16
	Length         uint32 // header_length
	MinInstrLength uint8
	MaxOpPerInstr  uint8
	InitialIsStmt  uint8
	LineBase       int8
	LineRange      uint8
	OpcodeBase     uint8
	// StdOpLengths[op] is the number of ULEB128 arguments of standard
	// opcode op, StdOpLengths[0] is unused.
	StdOpLengths []uint8
}

// FileEntry file entry in File Name Table.
type FileEntry struct {
	Name        string
	DirIdx      uint64
	LastModTime uint64
	Length      uint64
}

// Unit is the header of a single line number program. A unit is
// immutable once parseUnitHeader returns it.
type Unit struct {
	// Offset of the unit from the start of the section.
	Offset   int64
	Prologue DebugLinePrologue
	// IncludeDirs[0] is the compilation directory, which is not known to
	// the line section and is always empty.
	IncludeDirs []string
	// FileNames[0] is a placeholder, file indexes used by the program are
	// 1-based.
	FileNames []FileEntry
}

// TotalLength returns the size of the unit, including its unit_length
// field.
func (u *Unit) TotalLength() uint64 {
	return uint64(u.Prologue.UnitLength) + 4
}

// DefaultIsStmt returns the initial value of the is_stmt register.
func (u *Unit) DefaultIsStmt() bool {
	return u.Prologue.InitialIsStmt != 0
}

// Options controls how a section is decoded. The zero value decodes a
// little endian section with no relocation.
type Options struct {
	// ByteOrder of the fixed size fields, defaults to little endian.
	ByteOrder binary.ByteOrder
	// StaticBase is added to every DW_LNE_set_address operand, it is the
	// address the executable was loaded at (0 for non-PIE executables).
	StaticBase uint64
	// If NormalizeBackslash is true all backslashes in directory and file
	// names are converted into forward slashes.
	NormalizeBackslash bool
	// Logger receives recoverable decoding oddities, defaults to
	// logflags.DebugLineLogger.
	Logger logflags.Logger
}

func (opts *Options) logger() logflags.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return logflags.DebugLineLogger()
}

// Parse decodes every line number program in data, the contents of a
// .debug_line section.
// If an error is returned the returned Table is still valid and contains
// every sequence that was completely decoded before the error.
func Parse(data []byte, opts *Options) (*Table, error) {
	if opts == nil {
		opts = &Options{}
	}
	t := newTable(opts.logger())
	c := newCursor(data, opts.ByteOrder)

	// We have to parse multiple units here.
	for c.Len() > 0 {
		unit, uc, err := parseUnitHeader(c, opts.NormalizeBackslash)
		if err != nil {
			return t, err
		}
		t.Units = append(t.Units, unit)

		p := newProgram(t, unit, uc, opts)
		if err := p.run(); err != nil {
			t.discardOpen()
			return t, err
		}
		c.off = int(unit.Offset + int64(unit.TotalLength()))
	}

	return t, nil
}

// ParseReader reads size bytes from r and decodes them as a .debug_line
// section. If r ends before size bytes are read the data that was
// available is decoded and an error wrapping ErrTruncated is returned.
// Memory is allocated as data arrives, a size larger than the stream is
// not trusted.
func ParseReader(r io.Reader, size int64, opts *Options) (*Table, error) {
	if size < 0 {
		return nil, &DecodeError{Op: "section", Err: ErrMalformedLength}
	}
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, size))
	if err != nil {
		return nil, err
	}
	t, perr := Parse(buf.Bytes(), opts)
	if perr != nil {
		return t, perr
	}
	if n < size {
		return t, &DecodeError{Offset: n, Op: "section", Err: ErrTruncated}
	}
	return t, nil
}

// parseUnitHeader reads the header of the unit starting at c. It returns
// the header and a cursor restricted to the unit, positioned at the first
// opcode of the program.
func parseUnitHeader(c *cursor, normalizeBackslash bool) (*Unit, *cursor, error) {
	start := c.off

	unitLength, err := c.u32("unit_length")
	if err != nil {
		return nil, nil, err
	}
	if unitLength >= 0xfffffff0 {
		return nil, nil, &DecodeError{Offset: int64(start), Op: "unit_length", Err: ErrDWARF64}
	}
	if uint64(unitLength) > uint64(c.Len()) {
		return nil, nil, &DecodeError{Offset: int64(start), Op: "unit_length", Err: ErrMalformedLength}
	}
	end := c.off + int(unitLength)
	uc := c.window(end)

	var p DebugLinePrologue
	p.UnitLength = unitLength

	if p.Version, err = uc.u16("version"); err != nil {
		return nil, nil, err
	}
	if p.Version < 2 || p.Version > 4 {
		return nil, nil, &DecodeError{Offset: int64(start), Op: "version", Err: ErrUnsupportedVersion}
	}
	if p.Length, err = uc.u32("header_length"); err != nil {
		return nil, nil, err
	}
	programStart := uint64(uc.off) + uint64(p.Length)

	if p.MinInstrLength, err = uc.u8("minimum_instruction_length"); err != nil {
		return nil, nil, err
	}
	p.MaxOpPerInstr = 1
	if p.Version >= 4 {
		if p.MaxOpPerInstr, err = uc.u8("maximum_operations_per_instruction"); err != nil {
			return nil, nil, err
		}
	}
	if p.InitialIsStmt, err = uc.u8("default_is_stmt"); err != nil {
		return nil, nil, err
	}
	lineBase, err := uc.u8("line_base")
	if err != nil {
		return nil, nil, err
	}
	p.LineBase = int8(lineBase)
	if p.LineRange, err = uc.u8("line_range"); err != nil {
		return nil, nil, err
	}
	if p.OpcodeBase, err = uc.u8("opcode_base"); err != nil {
		return nil, nil, err
	}
	if p.LineRange == 0 || p.OpcodeBase == 0 {
		return nil, nil, &DecodeError{Offset: int64(start), Op: "header", Err: ErrMalformedHeader}
	}

	p.StdOpLengths = make([]uint8, p.OpcodeBase)
	for i := 1; i < int(p.OpcodeBase); i++ {
		if p.StdOpLengths[i], err = uc.u8("standard_opcode_lengths"); err != nil {
			return nil, nil, err
		}
	}

	dirs, err := parseIncludeDirs(uc, normalizeBackslash)
	if err != nil {
		return nil, nil, err
	}
	files, err := parseFileEntries(uc, normalizeBackslash)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case programStart > uint64(end):
		return nil, nil, &DecodeError{Offset: int64(start), Op: "header_length", Err: ErrMalformedLength}
	case uint64(uc.off) > programStart:
		return nil, nil, &DecodeError{Offset: int64(uc.off), Op: "header_length", Err: ErrMalformedLength}
	default:
		// skip whatever a producer put between the file table and the program
		uc.off = int(programStart)
	}

	return &Unit{
		Offset:      int64(start),
		Prologue:    p,
		IncludeDirs: dirs,
		FileNames:   files,
	}, uc, nil
}

// parseIncludeDirs parses the directory table for DWARF version 2 through 4.
func parseIncludeDirs(c *cursor, normalizeBackslash bool) ([]string, error) {
	dirs := []string{""}
	for {
		str, err := c.str("include_directories")
		if err != nil {
			return nil, err
		}
		if str == "" {
			break
		}
		if normalizeBackslash {
			str = strings.ReplaceAll(str, "\\", "/")
		}
		dirs = append(dirs, str)
	}
	return dirs, nil
}

// parseFileEntries parses the file table for DWARF 2 through 4
func parseFileEntries(c *cursor, normalizeBackslash bool) ([]FileEntry, error) {
	files := []FileEntry{{}}
	for {
		entry, ok, err := readFileEntry(c, normalizeBackslash)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		files = append(files, entry)
	}
	return files, nil
}

// readFileEntry reads a single file entry, ok is false if the entry has an
// empty name (the terminator of the file table).
func readFileEntry(c *cursor, normalizeBackslash bool) (entry FileEntry, ok bool, err error) {
	if entry.Name, err = c.str("file_names"); err != nil {
		return FileEntry{}, false, err
	}
	if entry.Name == "" {
		return FileEntry{}, false, nil
	}
	if normalizeBackslash {
		entry.Name = strings.ReplaceAll(entry.Name, "\\", "/")
	}
	if entry.DirIdx, err = c.uleb("file_names directory index"); err != nil {
		return FileEntry{}, false, err
	}
	if entry.LastModTime, err = c.uleb("file_names modification time"); err != nil {
		return FileEntry{}, false, err
	}
	if entry.Length, err = c.uleb("file_names length"); err != nil {
		return FileEntry{}, false, err
	}
	return entry, true, nil
}

// pathIsAbs returns true if this is an absolute path.
// We can not use path.IsAbs because it will not recognize windows paths as
// absolute. We also can not use filepath.Abs because we want this
// processing to be independent of the host operating system (we could be
// reading an executable file produced on windows on a unix machine or vice
// versa).
func pathIsAbs(s string) bool {
	if len(s) >= 1 && s[0] == '/' {
		return true
	}
	if len(s) >= 2 && s[1] == ':' && (('a' <= s[0] && s[0] <= 'z') || ('A' <= s[0] && s[0] <= 'Z')) {
		return true
	}
	return false
}
