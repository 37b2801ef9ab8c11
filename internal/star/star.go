// Package star builds the Northwind sales star schema from reconciled tables.
//
// Every builder is a pure function from loosely typed input tables to typed
// rows. Required input columns are validated up front; row-level coercion
// failures are dropped and counted in Diagnostics instead of failing the run.
package star

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"northwind/internal/table"
)

// ErrMissingDependency is returned when a table a builder needs is absent
// from both origins.
var ErrMissingDependency = errors.New("missing dependency")

// DefaultFallbackDate replaces missing or unparseable order dates.
var DefaultFallbackDate = time.Date(1996, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultUnknownCategory names products whose category does not resolve.
const DefaultUnknownCategory = "Unknown"

// Options are the schema-level defaults.
type Options struct {
	FallbackDate    time.Time
	UnknownCategory string
}

func (o Options) withDefaults() Options {
	if o.FallbackDate.IsZero() {
		o.FallbackDate = DefaultFallbackDate
	}
	if o.UnknownCategory == "" {
		o.UnknownCategory = DefaultUnknownCategory
	}
	return o
}

// Diagnostics counts rows dropped or defaulted while building.
type Diagnostics struct {
	InvalidOrderIDs     int
	DefaultedOrderDates int
	InvalidProductIDs   int
	InvalidEmployeeIDs  int
	InvalidShipperIDs   int
	InvalidCategoryIDs  int
	NullCustomerIDs     int
	SkippedDetailRows   int
}

// Counts returns the non-zero counters keyed by a stable reason name.
func (d Diagnostics) Counts() map[string]int {
	all := map[string]int{
		"invalid_order_id":     d.InvalidOrderIDs,
		"defaulted_order_date": d.DefaultedOrderDates,
		"invalid_product_id":   d.InvalidProductIDs,
		"invalid_employee_id":  d.InvalidEmployeeIDs,
		"invalid_shipper_id":   d.InvalidShipperIDs,
		"invalid_category_id":  d.InvalidCategoryIDs,
		"null_customer_id":     d.NullCustomerIDs,
		"skipped_detail_row":   d.SkippedDetailRows,
	}
	for k, v := range all {
		if v == 0 {
			delete(all, k)
		}
	}
	return all
}

func missing(name string) error {
	return fmt.Errorf("star: %s: %w", name, ErrMissingDependency)
}

// requireColumns wraps table.Require with the builder's context.
func requireColumns(t *table.Table, builder string, cols ...string) error {
	if err := t.Require(cols...); err != nil {
		return fmt.Errorf("star: %s: %w", builder, err)
	}
	return nil
}

// text returns the string form of v, or "" for null.
func text(v any) string {
	if table.IsNull(v) {
		return ""
	}
	s, _ := table.String(v)
	return s
}

// nullInt coerces v to a nullable integer.
func nullInt(v any) (n sql.NullInt64, valid bool) {
	if table.IsNull(v) {
		return sql.NullInt64{}, true
	}
	i, ok := table.Int(v)
	if !ok {
		return sql.NullInt64{}, false
	}
	return sql.NullInt64{Int64: i, Valid: true}, true
}

func nullFloat(v any) sql.NullFloat64 {
	f, ok := table.Float(v)
	return sql.NullFloat64{Float64: f, Valid: ok}
}
