package line

import (
	"path"

	"github.com/go-delve/dwarfline/pkg/logflags"
)

// Row is a row of the line number matrix. Dir and File are indexes into
// the Dirs and Files tables of the Table that contains the row.
type Row struct {
	Address     uint64
	OpIndex     uint32
	Dir         uint32
	File        uint32
	Line        uint32
	Column      uint32
	EndSequence bool

	IsStmt        bool
	BasicBlock    bool
	PrologueEnd   bool
	EpilogueBegin bool
	ISA           uint32
	Discriminator uint32
}

// Table is the decoded contents of a .debug_line section.
// A Table is only modified by Parse, once returned it can be read
// concurrently.
type Table struct {
	// Dirs and Files are the directory and file names referenced by the
	// rows of all sequences, without duplicates.
	Dirs  []string
	Files []string

	// Sequences holds one slice of rows for each sequence, in the order
	// they appear in the section.
	Sequences [][]Row

	// Units are the headers of the decoded line number programs.
	Units []*Unit

	// sorted[i] is true if the addresses of Sequences[i] never decrease.
	sorted []bool

	dirs, files interner
	open        []Row

	log logflags.Logger
}

func newTable(log logflags.Logger) *Table {
	return &Table{log: log}
}

// emit appends regs to the currently open sequence, translating the
// unit-local file index into indexes of the table's name tables.
func (t *Table) emit(p *program, regs Registers) {
	var (
		name string
		dir  string
	)
	if regs.File > 0 && int(regs.File) < len(p.files) {
		entry := &p.files[regs.File]
		name = entry.Name
		if entry.DirIdx < uint64(len(p.unit.IncludeDirs)) {
			dir = p.unit.IncludeDirs[entry.DirIdx]
		}
	} else if regs.File != 0 {
		p.log.Debugf("file index %d out of range", regs.File)
	}

	t.Dirs = t.dirs.intern(t.Dirs, dir)
	dirIdx := t.dirs.last
	t.Files = t.files.intern(t.Files, name)
	fileIdx := t.files.last

	t.open = append(t.open, Row{
		Address:       regs.Address,
		OpIndex:       regs.OpIndex,
		Dir:           dirIdx,
		File:          fileIdx,
		Line:          regs.Line,
		Column:        regs.Column,
		EndSequence:   regs.EndSequence,
		IsStmt:        regs.IsStmt,
		BasicBlock:    regs.BasicBlock,
		PrologueEnd:   regs.PrologueEnd,
		EpilogueBegin: regs.EpilogueBegin,
		ISA:           regs.ISA,
		Discriminator: regs.Discriminator,
	})
}

// closeSequence moves the open sequence, if any, into Sequences.
func (t *Table) closeSequence() {
	if len(t.open) == 0 {
		return
	}
	seq := t.open
	t.open = nil

	sorted := true
	for i := 1; i < len(seq); i++ {
		if seq[i].Address < seq[i-1].Address {
			sorted = false
			t.log.Debugf("sequence %d is not sorted by address: %#x follows %#x", len(t.Sequences), seq[i].Address, seq[i-1].Address)
			break
		}
	}
	t.Sequences = append(t.Sequences, seq)
	t.sorted = append(t.sorted, sorted)
}

// discardOpen drops the rows of a sequence that could not be decoded
// completely.
func (t *Table) discardOpen() {
	t.open = nil
}

// Path returns the full path of the file referenced by row.
func (t *Table) Path(row Row) string {
	name := t.Files[row.File]
	if name == "" || pathIsAbs(name) {
		return name
	}
	return path.Join(t.Dirs[row.Dir], name)
}

// interner deduplicates strings. Consecutive rows almost always reference
// the same name, the last interned string is checked before the index.
type interner struct {
	last    uint32
	lastStr string
	valid   bool
	index   map[string]uint32
}

// intern appends s to tab unless it is already there, the index of s is
// left in in.last. The updated table is returned.
func (in *interner) intern(tab []string, s string) []string {
	if in.valid && in.lastStr == s {
		return tab
	}
	if in.index == nil {
		in.index = make(map[string]uint32)
	}
	idx, ok := in.index[s]
	if !ok {
		idx = uint32(len(tab))
		tab = append(tab, s)
		in.index[s] = idx
	}
	in.last, in.lastStr, in.valid = idx, s, true
	return tab
}
