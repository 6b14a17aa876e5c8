package line

import (
	"errors"
	"sort"
)

var NoSourceError = errors.New("no source available")

// Find returns the row describing the instruction at pc. If no row has
// exactly that address the closest row preceding pc, in the same
// sequence, is returned.
// Sequences are expected to list rows in address order, well formed
// input always does. Sequences that do not are scanned linearly, see
// Table.Sorted.
func (t *Table) Find(pc uint64) (Row, bool) {
	if t == nil {
		return Row{}, false
	}
	for i, seq := range t.Sequences {
		if len(seq) == 0 || pc < seq[0].Address || pc > seq[len(seq)-1].Address {
			continue
		}
		if t.Sorted(i) {
			return findSorted(seq, pc), true
		}
		if row, ok := findLinear(seq, pc); ok {
			return row, true
		}
	}
	return Row{}, false
}

// findSorted finds pc in a sequence sorted by address that contains it.
func findSorted(seq []Row, pc uint64) Row {
	k := sort.Search(len(seq), func(i int) bool { return seq[i].Address >= pc })
	if seq[k].Address == pc {
		return seq[k]
	}
	return seq[k-1]
}

func findLinear(seq []Row, pc uint64) (Row, bool) {
	for i := range seq {
		if seq[i].Address == pc {
			return seq[i], true
		}
		if seq[i].Address > pc {
			if i == 0 {
				return Row{}, false
			}
			return seq[i-1], true
		}
	}
	return Row{}, false
}

// Sorted reports whether the addresses of the i-th sequence never
// decrease. Sequences of a Table that was not built by Parse are
// reported as unsorted.
func (t *Table) Sorted(i int) bool {
	return i >= 0 && i < len(t.sorted) && t.sorted[i]
}

// PCToLine returns the filename and line number associated with pc.
// If pc isn't found inside the table it will return the filename and
// line number associated with the closest PC address preceding pc.
func (t *Table) PCToLine(pc uint64) (string, int, bool) {
	row, ok := t.Find(pc)
	if !ok {
		return "", 0, false
	}
	return t.Path(row), int(row.Line), true
}

// LineToPC returns the first PC address associated with filename:lineno.
// Rows marked is_stmt are preferred, if there isn't one the first row
// assigned to filename:lineno is used.
func (t *Table) LineToPC(filename string, lineno int) (uint64, error) {
	if t == nil {
		return 0, NoSourceError
	}

	var (
		fallbackPC uint64
		found      bool
	)
	for _, seq := range t.Sequences {
		for _, row := range seq {
			if row.EndSequence || int(row.Line) != lineno || t.Path(row) != filename {
				continue
			}
			if row.IsStmt {
				return row.Address, nil
			}
			if !found {
				fallbackPC, found = row.Address, true
			}
		}
	}
	if !found {
		return 0, NoSourceError
	}
	return fallbackPC, nil
}

// AllPCsForFileLine returns all PC addresses marked is_stmt for
// filename:lineno.
func (t *Table) AllPCsForFileLine(filename string, lineno int) []uint64 {
	if t == nil {
		return nil
	}

	var pcs []uint64
	for _, seq := range t.Sequences {
		lastAddr := ^uint64(0)
		for _, row := range seq {
			if row.EndSequence || !row.IsStmt || row.Address == lastAddr {
				continue
			}
			if int(row.Line) == lineno && t.Path(row) == filename {
				pcs = append(pcs, row.Address)
				lastAddr = row.Address
			}
		}
	}
	return pcs
}

// PrologueEndPC returns the first PC address marked as prologue_end in the
// half open interval [start, end).
func (t *Table) PrologueEndPC(start, end uint64) (pc uint64, file string, line int, ok bool) {
	if t == nil {
		return 0, "", 0, false
	}
	for _, seq := range t.Sequences {
		for _, row := range seq {
			if row.Address >= start && row.Address < end && row.PrologueEnd && !row.EndSequence {
				return row.Address, t.Path(row), int(row.Line), true
			}
		}
	}
	return 0, "", 0, false
}

// FileIndex returns the index of name in t.Files.
func (t *Table) FileIndex(name string) (int, bool) {
	for i := range t.Files {
		if t.Files[i] == name {
			return i, true
		}
	}
	return -1, false
}
