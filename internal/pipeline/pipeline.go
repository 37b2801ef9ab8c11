// Package pipeline runs one end-to-end build: reconcile the sources, build
// the star schema, publish the CSV snapshot and, when configured, mirror it
// into a warehouse database.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"northwind/internal/config"
	"northwind/internal/export"
	"northwind/internal/metrics"
	"northwind/internal/reconcile"
	"northwind/internal/source"
	"northwind/internal/star"
	"northwind/internal/storage"
	"northwind/internal/table"
)

// Deps are the external collaborators of a Runner. Nil fields are built
// from the configuration.
type Deps struct {
	Spreadsheet source.Loader
	Database    source.Loader

	// OpenWarehouse defaults to storage.New.
	OpenWarehouse func(ctx context.Context, cfg storage.Config) (storage.SnapshotRepository, error)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner executes the pipeline for one configuration.
type Runner struct {
	cfg  *config.Config
	log  zerolog.Logger
	deps Deps
}

// Summary is the outcome of a successful run.
type Summary struct {
	Tables      []reconcile.TableReport
	Diagnostics star.Diagnostics
	Integrity   star.Integrity
	Files       []export.Result

	FactRows int
	Expected int
	Gap      int

	// Warehouse maps snapshot name to rows written; nil when disabled.
	Warehouse map[string]int64

	Duration time.Duration
}

func New(cfg *config.Config, log zerolog.Logger, deps Deps) *Runner {
	if deps.OpenWarehouse == nil {
		deps.OpenWarehouse = storage.New
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{cfg: cfg, log: log, deps: deps}
}

// Run executes every stage in order and stops at the first fatal error.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := r.deps.Now()
	sum := &Summary{}

	spreadsheet, database, closeSources := r.sources()
	defer closeSources()

	var inputs star.Inputs
	err := r.stage("reconcile", func() error {
		var err error
		inputs, sum.Tables, err = r.reconcile(ctx, spreadsheet, database)
		return err
	})
	if err != nil {
		return nil, err
	}

	var schema *star.Schema
	err = r.stage("build", func() error {
		var err error
		schema, err = r.build(inputs)
		return err
	})
	if err != nil {
		return nil, err
	}
	sum.Diagnostics = schema.Diagnostics
	sum.Integrity = schema.Integrity()
	sum.FactRows = len(schema.Sales.Rows)
	sum.Expected = schema.Sales.Expected
	sum.Gap = schema.Sales.Gap
	r.logIntegrity(sum.Integrity)

	snaps := export.FromSchema(schema)
	err = r.stage("export", func() error {
		var err error
		sum.Files, err = export.CSV{Dir: r.cfg.Output.Dir}.Write(ctx, snaps)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, f := range sum.Files {
		metrics.RecordRows(f.Name, f.Rows)
		r.log.Info().Str("stage", "export").Str("table", f.Name).Int("rows", f.Rows).
			Str("path", f.Path).Str("sha256", f.Digest).Msg("snapshot written")
	}

	if r.cfg.Warehouse.Kind != "" {
		err = r.stage("warehouse", func() error {
			var err error
			sum.Warehouse, err = r.mirror(ctx, snaps)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	sum.Duration = r.deps.Now().Sub(start)
	r.logSummary(sum)
	return sum, nil
}

// stage runs fn, records its metrics and logs its outcome.
func (r *Runner) stage(name string, fn func() error) error {
	t0 := r.deps.Now()
	err := fn()
	d := r.deps.Now().Sub(t0)
	metrics.RecordStep(name, err, d)
	if err != nil {
		r.log.Error().Str("stage", name).Dur("elapsed", d).Err(err).Msg("stage failed")
		return fmt.Errorf("pipeline: %s: %w", name, err)
	}
	r.log.Debug().Str("stage", name).Dur("elapsed", d).Msg("stage done")
	return nil
}

func (r *Runner) sources() (spreadsheet, database source.Loader, closeFn func()) {
	closeFn = func() {}

	spreadsheet = r.deps.Spreadsheet
	if spreadsheet == nil {
		sc := r.cfg.Sources.Spreadsheet
		spreadsheet = &source.Spreadsheet{
			Dir:         sc.Dir,
			CSVEncoding: sc.CSVEncoding,
			OnBadRecord: func(path string, line int, err error) {
				r.log.Warn().Str("stage", "reconcile").Str("path", path).Int("line", line).Err(err).
					Msg("skipped malformed CSV record")
				metrics.RecordDropped("spreadsheet", "malformed_record", 1)
			},
		}
	}

	database = r.deps.Database
	if database == nil {
		dc := r.cfg.Sources.Database
		db := source.NewDatabase(source.DatabaseConfig{
			Driver:         dc.Driver,
			DSN:            dc.DSN,
			ConnectTimeout: dc.ConnectTimeout,
			QueryTimeout:   dc.QueryTimeout,
		}, r.log)
		database = db
		closeFn = func() { _ = db.Close() }
	}
	return spreadsheet, database, closeFn
}

func (r *Runner) reconcile(ctx context.Context, spreadsheet, database source.Loader) (star.Inputs, []reconcile.TableReport, error) {
	rec := reconcile.New(
		reconcile.Sources{Spreadsheet: spreadsheet, Database: database},
		reconcile.Options{OrderOffset: r.cfg.Reconcile.OrderOffset},
		r.log.With().Str("stage", "reconcile").Logger(),
	)
	policies := reconcile.DefaultPolicies()
	tables, err := rec.ReconcileAll(ctx, policies)
	if err != nil {
		return star.Inputs{}, nil, err
	}

	byName := make(map[string]*table.Table, len(tables))
	for i, p := range policies {
		byName[p.Table] = tables[i]
	}

	reports := rec.Reports()
	sort.Slice(reports, func(i, j int) bool { return reports[i].Table < reports[j].Table })
	for _, rep := range reports {
		metrics.RecordRows(rep.Table, rep.Rows)
		metrics.RecordDropped(rep.Table, "invalid_order_id", rep.InvalidShiftIDs)
		metrics.RecordDropped(rep.Table, "null_key", rep.NullKeyRows)
		metrics.RecordDropped(rep.Table, "duplicate_key", rep.DuplicateRows)
		r.log.Info().Str("stage", "reconcile").Str("table", rep.Table).
			Bool("present", rep.Present).
			Int("spreadsheet_rows", rep.SpreadsheetRows).
			Int("database_rows", rep.DatabaseRows).
			Int("rows", rep.Rows).
			Int("duplicates", rep.DuplicateRows).
			Msg("table reconciled")
	}

	return star.Inputs{
		Orders:       byName[reconcile.TableOrders],
		OrderDetails: byName[reconcile.TableOrderDetails],
		Customers:    byName[reconcile.TableCustomers],
		Products:     byName[reconcile.TableProducts],
		Employees:    byName[reconcile.TableEmployees],
		Shippers:     byName[reconcile.TableShippers],
		Categories:   byName[reconcile.TableCategories],
	}, reports, nil
}

func (r *Runner) build(in star.Inputs) (*star.Schema, error) {
	fallback, err := r.cfg.FallbackDate()
	if err != nil {
		return nil, fmt.Errorf("fallback date: %w", err)
	}
	schema, err := star.Build(in, star.Options{
		FallbackDate:    fallback,
		UnknownCategory: r.cfg.Star.UnknownCategory,
	})
	if err != nil {
		return nil, err
	}

	counts := schema.Diagnostics.Counts()
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		metrics.RecordDropped("star", reason, counts[reason])
		r.log.Warn().Str("stage", "build").Str("reason", reason).Int("rows", counts[reason]).
			Msg("rows dropped or defaulted")
	}

	if schema.Sales.Gap != 0 {
		r.log.Warn().Str("stage", "build").
			Int("fact_rows", len(schema.Sales.Rows)).
			Int("expected", schema.Sales.Expected).
			Int("gap", schema.Sales.Gap).
			Msg("fact row count differs from distinct order count")
	}
	return schema, nil
}

func (r *Runner) logIntegrity(in star.Integrity) {
	if in.NullCustomerKeys > 0 {
		r.log.Warn().Str("stage", "build").Int("rows", in.NullCustomerKeys).Msg("fact rows without a customer")
	}
	if in.OK() {
		return
	}
	orphans := in.Orphans()
	dims := make([]string, 0, len(orphans))
	for dim := range orphans {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	ev := r.log.Warn().Str("stage", "build")
	for _, dim := range dims {
		ev = ev.Int("orphan_"+dim, orphans[dim])
	}
	ev.Msg("fact keys without a dimension row")
}

func (r *Runner) logSummary(s *Summary) {
	ev := r.log.Info().
		Int("tables", len(s.Tables)).
		Int("fact_rows", s.FactRows).
		Int("expected", s.Expected).
		Int("files", len(s.Files)).
		Bool("integrity_ok", s.Integrity.OK()).
		Dur("elapsed", s.Duration)
	if s.Warehouse != nil {
		ev = ev.Str("warehouse", r.cfg.Warehouse.Kind)
	}
	ev.Msg("run complete")
}
