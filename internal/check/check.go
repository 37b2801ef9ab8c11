// Package check verifies a published star-schema snapshot on disk: every
// file exists with its declared columns, dimension keys are unique and fact
// foreign keys resolve.
package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"northwind/internal/export"
	csvparser "northwind/internal/parser/csv"
	"northwind/internal/table"
)

// Result is the outcome of one check.
type Result struct {
	Table  string
	Name   string
	Passed bool
	Detail string
}

// Report lists every check in execution order and the row count of each
// file that could be read.
type Report struct {
	Results []Result
	Rows    map[string]int
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failed checks.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// WriteTo renders the report as a table with one row per check.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleLight)
	t.AppendHeader(prettytable.Row{"Status", "Table", "Check", "Detail"})
	for _, res := range r.Results {
		mark := "PASS"
		if !res.Passed {
			mark = "FAIL"
		}
		t.AppendRow(prettytable.Row{mark, res.Table, res.Name, res.Detail})
	}
	passed := len(r.Results) - len(r.Failed())
	t.AppendFooter(prettytable.Row{"", "", "passed", fmt.Sprintf("%d/%d", passed, len(r.Results))})
	n, err := io.WriteString(w, t.Render()+"\n")
	return int64(n), err
}

// dimensionKeys maps each dimension file to its key column.
var dimensionKeys = map[string]string{
	export.DimTime:       "TimeKey",
	export.DimCustomer:   "CustomerKey",
	export.DimProduct:    "ProductKey",
	export.DimEmployee:   "EmployeeKey",
	export.DimShipper:    "ShipperKey",
	export.DimCategories: "CategoryID",
}

// factRefs are the fact foreign keys. Required keys must be non-empty.
var factRefs = []struct {
	column    string
	dimension string
	required  bool
}{
	{"TimeKey", export.DimTime, true},
	{"CustomerKey", export.DimCustomer, false},
	{"EmployeeKey", export.DimEmployee, false},
	{"ShipperKey", export.DimShipper, false},
}

// Run checks the snapshot in dir.
func Run(dir string) Report {
	return RunContext(context.Background(), dir)
}

// RunContext is Run with cancellation between files.
func RunContext(ctx context.Context, dir string) Report {
	rep := Report{Rows: make(map[string]int)}
	add := func(tbl, name string, passed bool, format string, args ...any) {
		rep.Results = append(rep.Results, Result{Table: tbl, Name: name, Passed: passed, Detail: fmt.Sprintf(format, args...)})
	}

	loaded := make(map[string]*table.Table, len(export.Layouts))
	for _, layout := range export.Layouts {
		if err := ctx.Err(); err != nil {
			add(layout.Name, "read", false, "%v", err)
			continue
		}
		path := filepath.Join(dir, layout.Name+".csv")
		t, bad, err := readCSV(ctx, layout.Name, path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			add(layout.Name, "exists", false, "%s not found", path)
			continue
		case err != nil:
			add(layout.Name, "read", false, "%v", err)
			continue
		}
		add(layout.Name, "exists", true, "%s", path)
		add(layout.Name, "parse", bad == 0, "%d malformed records", bad)

		var missing []string
		for _, c := range layout.ColumnNames() {
			if !t.Has(c) {
				missing = append(missing, c)
			}
		}
		if len(missing) == 0 {
			add(layout.Name, "columns", true, "%d columns", len(layout.Columns))
		} else {
			add(layout.Name, "columns", false, "missing %v", missing)
		}
		rep.Rows[layout.Name] = t.Len()
		add(layout.Name, "rows", true, "%d rows", t.Len())

		if len(missing) == 0 {
			loaded[layout.Name] = t
		}
	}

	keys := make(map[string]map[string]struct{}, len(dimensionKeys))
	for _, layout := range export.Layouts {
		col, ok := dimensionKeys[layout.Name]
		t := loaded[layout.Name]
		if !ok || t == nil {
			continue
		}
		set, dups, nulls := keySet(t, col)
		keys[layout.Name] = set
		add(layout.Name, "unique "+col, dups == 0 && nulls == 0, "%d duplicate, %d empty", dups, nulls)
	}

	fact := loaded[export.FactSales]
	if fact == nil {
		return rep
	}
	for _, ref := range factRefs {
		dim := keys[ref.dimension]
		if dim == nil {
			add(export.FactSales, ref.column+" resolves", false, "%s unavailable", ref.dimension)
			continue
		}
		orphans, empty := unresolved(fact, ref.column, dim)
		passed := orphans == 0 && (!ref.required || empty == 0)
		add(export.FactSales, ref.column+" resolves", passed, "%d orphan, %d empty", orphans, empty)
	}
	return rep
}

func readCSV(ctx context.Context, name, path string) (t *table.Table, bad int, err error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	t = table.New(name, nil)
	err = csvparser.StreamRows(ctx, fh, csvparser.Options{},
		func(header []string) error {
			t.Columns = header
			return nil
		},
		func(_ int, row []any) error {
			t.Rows = append(t.Rows, row)
			return nil
		},
		func(int, error) { bad++ },
	)
	if err != nil {
		return nil, bad, fmt.Errorf("check: %s: %w", path, err)
	}
	return t, bad, nil
}

func keySet(t *table.Table, col string) (set map[string]struct{}, dups, nulls int) {
	ix := t.Index(col)
	set = make(map[string]struct{}, t.Len())
	for _, row := range t.Rows {
		k := table.KeyString(table.Cell(row, ix))
		if k == "" {
			nulls++
			continue
		}
		if _, ok := set[k]; ok {
			dups++
			continue
		}
		set[k] = struct{}{}
	}
	return set, dups, nulls
}

func unresolved(fact *table.Table, col string, dim map[string]struct{}) (orphans, empty int) {
	ix := fact.Index(col)
	for _, row := range fact.Rows {
		k := table.KeyString(table.Cell(row, ix))
		if k == "" {
			empty++
			continue
		}
		if _, ok := dim[k]; !ok {
			orphans++
		}
	}
	return orphans, empty
}
