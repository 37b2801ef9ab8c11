// Package reconcile merges the spreadsheet and database copies of each
// logical Northwind table into one table.
//
// Spreadsheet-origin order identifiers are moved into their own key space by
// adding a fixed offset, so an order that exists in both origins produces two
// distinct rows rather than a collision. Dimension-like tables are
// deduplicated on their key columns with the spreadsheet copy winning.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"northwind/internal/source"
	"northwind/internal/table"
)

// DefaultOrderOffset is added to spreadsheet order identifiers.
const DefaultOrderOffset int64 = 200000

// ErrMissingColumn is matched by a *ConfigError caused by an absent column.
var ErrMissingColumn = table.ErrMissingColumn

// ConfigError is a fatal input-shape problem: a column the reconciliation
// policy depends on is not present.
type ConfigError struct {
	Table  string
	Origin source.Origin
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Origin != "" {
		return fmt.Sprintf("reconcile: %s (%s): %v", e.Table, e.Origin, e.Err)
	}
	return fmt.Sprintf("reconcile: %s: %v", e.Table, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Options tunes the reconciler.
type Options struct {
	// OrderOffset shifts spreadsheet order identifiers. Zero means
	// DefaultOrderOffset.
	OrderOffset int64
}

// Sources are the two origins of every logical table.
type Sources struct {
	Spreadsheet source.Loader
	Database    source.Loader
}

// TableReport is what one reconciliation did, for logs and metrics.
type TableReport struct {
	Table           string
	SpreadsheetRows int
	DatabaseRows    int
	InvalidShiftIDs int
	NullKeyRows     int
	DuplicateRows   int
	Rows            int
	Present         bool
}

// Reconciler applies policies to the configured sources.
type Reconciler struct {
	src Sources
	opt Options
	log zerolog.Logger

	mu      sync.Mutex
	reports []TableReport
}

// New returns a Reconciler. A nil loader is treated as an absent origin.
func New(src Sources, opt Options, log zerolog.Logger) *Reconciler {
	if src.Spreadsheet == nil {
		src.Spreadsheet = source.Absent{}
	}
	if src.Database == nil {
		src.Database = source.Absent{}
	}
	if opt.OrderOffset == 0 {
		opt.OrderOffset = DefaultOrderOffset
	}
	return &Reconciler{src: src, opt: opt, log: log}
}

// Reports returns the reports of every reconciliation so far, in completion
// order.
func (r *Reconciler) Reports() []TableReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TableReport(nil), r.reports...)
}

// Reconcile merges the logical table name from both origins. Order-bearing
// tables (Orders, Order Details; matched ignoring case, underscores and
// extra whitespace) get their spreadsheet OrderID shifted.
//
// It returns (nil, nil) when neither origin has the table.
func (r *Reconciler) Reconcile(ctx context.Context, name string, keyColumns []string, dedupe bool) (*table.Table, error) {
	return r.ReconcilePolicy(ctx, PolicyFor(name, keyColumns, dedupe))
}

// ReconcilePolicy is Reconcile driven by an explicit policy.
func (r *Reconciler) ReconcilePolicy(ctx context.Context, p Policy) (*table.Table, error) {
	rep := TableReport{Table: p.Table}

	sheet, err := r.src.Spreadsheet.Load(ctx, p.Table)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load %s from %s: %w", p.Table, source.OriginSpreadsheet, err)
	}
	db, err := r.src.Database.Load(ctx, p.Table)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load %s from %s: %w", p.Table, source.OriginDatabase, err)
	}
	rep.SpreadsheetRows = sheet.Len()
	rep.DatabaseRows = db.Len()

	if sheet != nil && p.ShiftColumn != "" {
		shifted, dropped, err := shift(sheet, p.ShiftColumn, r.opt.OrderOffset)
		if err != nil {
			return nil, &ConfigError{Table: p.Table, Origin: source.OriginSpreadsheet, Err: err}
		}
		sheet = shifted
		rep.InvalidShiftIDs = dropped
		if dropped > 0 {
			r.log.Warn().Str("table", p.Table).Int("rows", dropped).Str("column", p.ShiftColumn).
				Msg("dropped spreadsheet rows with non-numeric identifier")
		}
	}

	var out *table.Table
	switch {
	case sheet == nil && db == nil:
		r.record(rep)
		r.log.Warn().Str("table", p.Table).Msg("table absent from both origins")
		return nil, nil
	case db == nil:
		out = sheet
	case sheet == nil:
		out = db
	default:
		out = table.Concat(p.Table, sheet, db)
	}
	out.Name = p.Table

	if p.Dedupe {
		nulls, dups, err := dedupe(out, p.KeyColumns)
		if err != nil {
			return nil, &ConfigError{Table: p.Table, Err: err}
		}
		rep.NullKeyRows, rep.DuplicateRows = nulls, dups
	}

	rep.Rows = out.Len()
	rep.Present = true
	r.record(rep)
	r.log.Debug().Str("table", p.Table).
		Int("spreadsheet_rows", rep.SpreadsheetRows).
		Int("database_rows", rep.DatabaseRows).
		Int("rows", rep.Rows).
		Msg("reconciled")
	return out, nil
}

// ReconcileAll runs every policy concurrently. Results are returned in
// policy order; an absent table is a nil entry. The first error cancels the
// remaining work.
func (r *Reconciler) ReconcileAll(ctx context.Context, policies []Policy) ([]*table.Table, error) {
	out := make([]*table.Table, len(policies))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range policies {
		g.Go(func() error {
			t, err := r.ReconcilePolicy(gctx, p)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reconciler) record(rep TableReport) {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
}

// shift returns a copy of t whose col values are numeric identifiers plus
// offset. Rows whose identifier is null or not a number are dropped;
// fractional identifiers are truncated.
func shift(t *table.Table, col string, offset int64) (*table.Table, int, error) {
	ix := t.Index(col)
	if ix < 0 {
		return nil, 0, &table.MissingColumnError{Table: t.Name, Column: col}
	}
	out := table.New(t.Name, t.Columns)
	out.Rows = make([][]any, 0, len(t.Rows))
	dropped := 0
	for _, row := range t.Rows {
		f, ok := table.Float(table.Cell(row, ix))
		if !ok || math.Abs(f) >= 1<<53 {
			dropped++
			continue
		}
		cp := append([]any(nil), row...)
		cp[ix] = int64(math.Trunc(f)) + offset
		out.Rows = append(out.Rows, cp)
	}
	return out, dropped, nil
}

// dedupe removes, in place, rows with a null key cell and rows whose key
// repeats an earlier row. Keys are compared by their canonical string form.
func dedupe(t *table.Table, keyColumns []string) (nulls, dups int, err error) {
	if len(keyColumns) == 0 {
		return 0, 0, errors.New("dedupe requires at least one key column")
	}
	idx, err := t.Indices(keyColumns...)
	if err != nil {
		return 0, 0, err
	}

	seen := make(map[string]struct{}, len(t.Rows))
	kept := t.Rows[:0]
	var b strings.Builder
rows:
	for _, row := range t.Rows {
		b.Reset()
		for n, ix := range idx {
			v := table.Cell(row, ix)
			if table.IsNull(v) {
				nulls++
				continue rows
			}
			if n > 0 {
				b.WriteByte(0x1f)
			}
			b.WriteString(table.KeyString(v))
		}
		k := b.String()
		if _, ok := seen[k]; ok {
			dups++
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, row)
	}
	clear(t.Rows[len(kept):])
	t.Rows = kept
	return nulls, dups, nil
}
