package star

import (
	"database/sql"
	"time"

	"northwind/internal/table"
)

// SalesFact is one row of the sales fact table.
type SalesFact struct {
	OrderKey    int64
	OrderDate   time.Time
	TimeKey     int
	CustomerKey string
	EmployeeKey sql.NullInt64
	ShipperKey  sql.NullInt64

	DetailCount     int64
	TotalQuantity   float64
	AverageDiscount float64
	TotalLineTotal  float64
	Freight         float64
}

// FactResult carries the fact rows and the advisory row-count check.
type FactResult struct {
	Rows []SalesFact

	// Expected is the number of distinct order keys in the input.
	Expected int
	// Gap is Expected minus len(Rows). Non-zero means duplicated order
	// headers fanned out; it is reported, not fixed.
	Gap int

	// SkippedDetails counts detail lines whose OrderID is not a number.
	SkippedDetails int
}

// DetailColumns are required on the reconciled Order Details table.
var DetailColumns = []string{"OrderID", "UnitPrice", "Quantity", "Discount"}

type detailAgg struct {
	count    int64
	quantity float64
	discount float64
	total    float64
}

// BuildFact aggregates detail lines per order and joins them onto the
// normalized order headers, one fact row per header in input order.
//
// Per detail line, null or non-numeric UnitPrice, Quantity and Discount are 0
// and LineTotal = UnitPrice * Quantity * (1 - Discount). Orders with no
// detail lines get zero measures.
func BuildFact(orders []Order, details *table.Table) (FactResult, error) {
	if details == nil {
		return FactResult{}, missing("Order Details")
	}
	ix, err := details.Indices(DetailColumns...)
	if err != nil {
		return FactResult{}, requireColumns(details, "fact", DetailColumns...)
	}

	var res FactResult
	aggs := make(map[int64]*detailAgg)
	for _, row := range details.Rows {
		id, ok := table.Int(table.Cell(row, ix[0]))
		if !ok {
			res.SkippedDetails++
			continue
		}
		price := table.FloatOr(table.Cell(row, ix[1]), 0)
		qty := table.FloatOr(table.Cell(row, ix[2]), 0)
		disc := table.FloatOr(table.Cell(row, ix[3]), 0)

		a := aggs[id]
		if a == nil {
			a = &detailAgg{}
			aggs[id] = a
		}
		a.count++
		a.quantity += qty
		a.discount += disc
		a.total += price * qty * (1 - disc)
	}

	res.Rows = make([]SalesFact, 0, len(orders))
	for _, o := range orders {
		f := SalesFact{
			OrderKey:    o.Key,
			OrderDate:   o.Date,
			TimeKey:     table.DateKey(o.Date),
			CustomerKey: o.CustomerKey,
			EmployeeKey: o.EmployeeKey,
			ShipperKey:  o.ShipperKey,
			Freight:     o.Freight,
		}
		if a := aggs[o.Key]; a != nil {
			f.DetailCount = a.count
			f.TotalQuantity = a.quantity
			f.AverageDiscount = a.discount / float64(a.count)
			f.TotalLineTotal = a.total
		}
		res.Rows = append(res.Rows, f)
	}

	res.Expected = DistinctKeys(orders)
	res.Gap = res.Expected - len(res.Rows)
	return res, nil
}
