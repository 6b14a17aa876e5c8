package line

import (
	"testing"

	"github.com/go-delve/dwarfline/pkg/dwarf/dwarfbuilder"
)

func lookupTable(t *testing.T) *Table {
	b := dwarfbuilder.New()
	b.BeginUnit(testHeader())
	b.SetAddress(100).Copy().
		AdvancePC(100).AdvanceLine(1).Copy().
		AdvancePC(100).AdvanceLine(1).Copy().
		EndSequence()
	b.SetAddress(1000).SetFile(2).AdvanceLine(9).Copy().
		AdvancePC(4).PrologueEnd().Copy().
		AdvancePC(4).NegateStmt().AdvanceLine(1).Copy().
		AdvancePC(4).NegateStmt().Copy().
		AdvancePC(4).EndSequence()
	return mustParse(t, b.Build())
}

func TestFind(t *testing.T) {
	tbl := lookupTable(t)

	for _, tc := range []struct {
		pc   uint64
		addr uint64
		line uint32
		ok   bool
	}{
		{50, 0, 0, false},
		{100, 100, 1, true},
		{150, 100, 1, true},
		{200, 200, 2, true},
		{299, 200, 2, true},
		{300, 300, 3, true},
		{400, 0, 0, false},
		{999, 0, 0, false},
		{1000, 1000, 10, true},
		{1007, 1004, 10, true},
		{1012, 1012, 11, true},
		{1016, 1016, 11, true},
		{1017, 0, 0, false},
	} {
		row, ok := tbl.Find(tc.pc)
		if ok != tc.ok {
			t.Errorf("Find(%d): expected found=%v", tc.pc, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if row.Address != tc.addr || row.Line != tc.line {
			t.Errorf("Find(%d): expected %d:%d got %d:%d", tc.pc, tc.addr, tc.line, row.Address, row.Line)
		}
		if row.EndSequence && tc.pc != 1016 {
			t.Errorf("Find(%d) returned the end of the sequence", tc.pc)
		}
	}

	var nilTable *Table
	if _, ok := nilTable.Find(100); ok {
		t.Fatal("nil table found an address")
	}
}

func TestFindDuplicateAddresses(t *testing.T) {
	b := dwarfbuilder.New()
	b.BeginUnit(testHeader())
	b.SetAddress(0x100).Copy().AdvanceLine(1).Copy().
		AdvancePC(0x10).AdvanceLine(1).Copy().
		EndSequence()
	tbl := mustParse(t, b.Build())

	row, ok := tbl.Find(0x100)
	if !ok || row.Line != 1 {
		t.Fatalf("expected the first row at 0x100 (line 1), got line %d", row.Line)
	}
	row, ok = tbl.Find(0x105)
	if !ok || row.Line != 2 {
		t.Fatalf("expected the last row before 0x105 (line 2), got line %d", row.Line)
	}
}

func TestFindUnsorted(t *testing.T) {
	b := dwarfbuilder.New()
	b.BeginUnit(testHeader())
	b.SetAddress(0x100).Copy().
		SetAddress(0x80).AdvanceLine(1).Copy().
		SetAddress(0x200).AdvanceLine(1).Copy().
		EndSequence()
	b.SetAddress(0x1000).Copy().EndSequence()
	tbl := mustParse(t, b.Build())

	if tbl.Sorted(0) {
		t.Fatal("unsorted sequence reported as sorted")
	}
	if !tbl.Sorted(1) {
		t.Fatal("sorted sequence reported as unsorted")
	}
	for _, tc := range []struct {
		pc   uint64
		line uint32
	}{
		{0x100, 1},
		{0x200, 3},
	} {
		row, ok := tbl.Find(tc.pc)
		if !ok || row.Line != tc.line {
			t.Errorf("Find(%#x): expected line %d got %d (%v)", tc.pc, tc.line, row.Line, ok)
		}
	}
	if _, ok := tbl.Find(0x1000); !ok {
		t.Fatal("sequence following an unsorted sequence not searchable")
	}
}

func TestPCToLine(t *testing.T) {
	tbl := lookupTable(t)

	file, line, ok := tbl.PCToLine(250)
	if !ok || file != "/src/main.go" || line != 2 {
		t.Fatalf("PCToLine(250) = %s:%d %v", file, line, ok)
	}
	file, line, ok = tbl.PCToLine(1005)
	if !ok || file != "/usr/include/stdio.h" || line != 10 {
		t.Fatalf("PCToLine(1005) = %s:%d %v", file, line, ok)
	}
	if _, _, ok := tbl.PCToLine(10); ok {
		t.Fatal("PCToLine(10) found a location")
	}
}

func TestLineToPC(t *testing.T) {
	tbl := lookupTable(t)

	pc, err := tbl.LineToPC("/src/main.go", 2)
	if err != nil || pc != 200 {
		t.Fatalf("LineToPC(main.go:2) = %d, %v", pc, err)
	}
	// the first row for line 11 is not a statement
	pc, err = tbl.LineToPC("/usr/include/stdio.h", 11)
	if err != nil || pc != 1012 {
		t.Fatalf("LineToPC(stdio.h:11) = %d, %v", pc, err)
	}
	if _, err := tbl.LineToPC("/src/main.go", 42); err != NoSourceError {
		t.Fatalf("expected NoSourceError, got %v", err)
	}
}

func TestAllPCsForFileLine(t *testing.T) {
	tbl := lookupTable(t)

	pcs := tbl.AllPCsForFileLine("/usr/include/stdio.h", 10)
	if len(pcs) != 2 || pcs[0] != 1000 || pcs[1] != 1004 {
		t.Fatalf("wrong pcs %v", pcs)
	}
	if pcs := tbl.AllPCsForFileLine("/src/main.go", 42); len(pcs) != 0 {
		t.Fatalf("expected no pcs, got %v", pcs)
	}
}

func TestPrologueEndPC(t *testing.T) {
	tbl := lookupTable(t)

	pc, file, line, ok := tbl.PrologueEndPC(1000, 1016)
	if !ok || pc != 1004 || file != "/usr/include/stdio.h" || line != 10 {
		t.Fatalf("PrologueEndPC = %d %s:%d %v", pc, file, line, ok)
	}
	if _, _, _, ok := tbl.PrologueEndPC(100, 300); ok {
		t.Fatal("found a prologue end in a range without one")
	}
}

func TestFileIndex(t *testing.T) {
	tbl := lookupTable(t)

	i, ok := tbl.FileIndex("stdio.h")
	if !ok || tbl.Files[i] != "stdio.h" {
		t.Fatalf("FileIndex(stdio.h) = %d %v", i, ok)
	}
	if _, ok := tbl.FileIndex("missing.c"); ok {
		t.Fatal("found a missing file")
	}
}

func TestFindTableLiteral(t *testing.T) {
	tbl := &Table{
		Files: []string{"main.go"},
		Dirs:  []string{"/src"},
		Sequences: [][]Row{{
			{Address: 0x100, Line: 1},
			{Address: 0x110, Line: 2},
			{Address: 0x120, Line: 2, EndSequence: true},
		}},
	}
	if tbl.Sorted(0) || tbl.Sorted(1) || tbl.Sorted(-1) {
		t.Fatal("sequence of a table literal reported as sorted")
	}
	row, ok := tbl.Find(0x115)
	if !ok || row.Line != 2 {
		t.Fatalf("Find(0x115) = line %d %v", row.Line, ok)
	}
	if _, ok := tbl.Find(0x130); ok {
		t.Fatal("found an address past the end of the table")
	}
}
