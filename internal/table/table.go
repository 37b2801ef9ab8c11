// Package table holds the loosely typed tabular model shared by the source
// loaders, the reconciler and the star builders.
//
// A Table is positional: Rows[i][j] is the value of Columns[j]. A nil cell is
// a null. Loaders normalise empty cells to nil so downstream code only has to
// check one representation.
package table

import (
	"errors"
	"fmt"
)

// ErrMissingColumn is matched (errors.Is) by every *MissingColumnError.
var ErrMissingColumn = errors.New("missing column")

// MissingColumnError reports a required column absent from a table.
type MissingColumnError struct {
	Table  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("table %q: missing column %q", e.Table, e.Column)
}

func (e *MissingColumnError) Is(target error) bool { return target == ErrMissingColumn }

// Table is an ordered set of rows for one logical table.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// New returns an empty table with a copy of columns.
func New(name string, columns []string) *Table {
	return &Table{
		Name:    name,
		Columns: append([]string(nil), columns...),
	}
}

// Len returns the row count. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of col, or -1.
func (t *Table) Index(col string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Has reports whether col is one of the table's columns.
func (t *Table) Has(col string) bool { return t.Index(col) >= 0 }

// Require returns a *MissingColumnError for the first absent column.
func (t *Table) Require(cols ...string) error {
	for _, c := range cols {
		if !t.Has(c) {
			return &MissingColumnError{Table: t.Name, Column: c}
		}
	}
	return nil
}

// Indices resolves cols to positions. It fails like Require.
func (t *Table) Indices(cols ...string) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		ix := t.Index(c)
		if ix < 0 {
			return nil, &MissingColumnError{Table: t.Name, Column: c}
		}
		out[i] = ix
	}
	return out, nil
}

// Append adds a row. Short rows are padded with nulls; long rows are an error.
func (t *Table) Append(row []any) error {
	if len(row) > len(t.Columns) {
		return fmt.Errorf("table %q: row has %d values for %d columns", t.Name, len(row), len(t.Columns))
	}
	if len(row) < len(t.Columns) {
		padded := make([]any, len(t.Columns))
		copy(padded, row)
		row = padded
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Cell returns row[ix], or nil when ix is out of range.
func Cell(row []any, ix int) any {
	if ix < 0 || ix >= len(row) {
		return nil
	}
	return row[ix]
}

// Clone copies the table header and every row slice. Cell values are shared.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := New(t.Name, t.Columns)
	out.Rows = make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}

// Concat stacks a's rows on top of b's rows under a single header.
//
// The header is a's columns followed by b's columns that a lacks, so the
// column order of the first table wins. Cells for columns a side does not
// carry are null. Row order within each side is preserved.
func Concat(name string, a, b *Table) *Table {
	cols := append([]string(nil), a.Columns...)
	seen := make(map[string]struct{}, len(cols)+len(b.Columns))
	for _, c := range cols {
		seen[c] = struct{}{}
	}
	for _, c := range b.Columns {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}

	out := New(name, cols)
	out.Rows = make([][]any, 0, len(a.Rows)+len(b.Rows))
	out.Rows = appendAligned(out.Rows, a, out)
	out.Rows = appendAligned(out.Rows, b, out)
	return out
}

func appendAligned(dst [][]any, src *Table, target *Table) [][]any {
	pos := make([]int, len(src.Columns))
	for i, c := range src.Columns {
		pos[i] = target.Index(c)
	}
	for _, r := range src.Rows {
		row := make([]any, len(target.Columns))
		for i, v := range r {
			if i < len(pos) && pos[i] >= 0 {
				row[pos[i]] = v
			}
		}
		dst = append(dst, row)
	}
	return dst
}
