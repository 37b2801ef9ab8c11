package pipeline

import (
	"context"
	"fmt"

	"northwind/internal/export"
	"northwind/internal/metrics"
	"northwind/internal/storage"
)

// mirror replaces every warehouse table with the snapshot just exported.
func (r *Runner) mirror(ctx context.Context, snaps []export.Snapshot) (map[string]int64, error) {
	wc := r.cfg.Warehouse
	repo, err := r.deps.OpenWarehouse(ctx, storage.Config{Kind: wc.Kind, DSN: wc.DSN})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", wc.Kind, err)
	}
	defer repo.Close()

	specs := make([]storage.TableSpec, len(snaps))
	for i, s := range snaps {
		specs[i] = TableSpec(s, wc.Schema)
	}
	if err := repo.EnsureTables(ctx, specs); err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(snaps))
	for i, s := range snaps {
		n, err := repo.ReplaceRows(ctx, specs[i], s.Rows)
		if err != nil {
			return nil, err
		}
		out[s.Name] = n
		metrics.RecordRows("warehouse_"+s.Name, int(n))
		r.log.Info().Str("stage", "warehouse").Str("table", specs[i].Name).Int64("rows", n).Msg("table replaced")
	}
	return out, nil
}

// TableSpec derives the warehouse table for a snapshot. Dimension tables are
// keyed on their first column, which must be non-null; fact_sales has no
// key and every other column is nullable. A non-empty schema qualifies the
// table name.
func TableSpec(s export.Snapshot, schema string) storage.TableSpec {
	spec := storage.TableSpec{Name: s.Name}
	if schema != "" {
		spec.Name = schema + "." + s.Name
	}
	keyed := s.Name != export.FactSales
	for i, c := range s.Columns {
		key := keyed && i == 0
		spec.Columns = append(spec.Columns, storage.ColumnSpec{
			Name:     c.Name,
			Type:     string(c.Type),
			Nullable: !key,
		})
		if key {
			spec.PrimaryKey = []string{c.Name}
		}
	}
	return spec
}
