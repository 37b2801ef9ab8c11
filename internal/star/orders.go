package star

import (
	"database/sql"
	"strings"
	"time"

	"northwind/internal/table"
)

// Order is one reconciled order header with its date normalized.
type Order struct {
	Key           int64
	Date          time.Time
	DateDefaulted bool
	// CustomerKey is the trimmed customer identifier; "" when null.
	CustomerKey string
	EmployeeKey sql.NullInt64
	ShipperKey  sql.NullInt64
	Freight     float64
}

// OrderSet is the result of NormalizeOrders.
type OrderSet struct {
	Orders []Order

	InvalidIDs     int
	InvalidFKs     int
	DefaultedDates int
	NullCustomers  int
}

// OrderColumns are required on the reconciled Orders table.
var OrderColumns = []string{"OrderID", "OrderDate", "CustomerID", "EmployeeID", "ShipVia", "Freight"}

// NormalizeOrders types the reconciled Orders table.
//
// Order dates are coerced to calendar dates; missing or unparseable dates are
// replaced by opt.FallbackDate. Orders whose identifier is not a number are
// dropped. Non-numeric employee or ship-via identifiers become null.
// Freight defaults to 0.
func NormalizeOrders(orders *table.Table, opt Options) (OrderSet, error) {
	opt = opt.withDefaults()
	if orders == nil {
		return OrderSet{}, missing("Orders")
	}
	ix, err := orders.Indices(OrderColumns...)
	if err != nil {
		return OrderSet{}, requireColumns(orders, "orders", OrderColumns...)
	}
	iID, iDate, iCust, iEmp, iShip, iFreight := ix[0], ix[1], ix[2], ix[3], ix[4], ix[5]

	var out OrderSet
	out.Orders = make([]Order, 0, orders.Len())
	for _, row := range orders.Rows {
		id, ok := table.Int(table.Cell(row, iID))
		if !ok {
			out.InvalidIDs++
			continue
		}
		o := Order{Key: id}

		if d, ok := table.Date(table.Cell(row, iDate)); ok {
			o.Date = d
		} else {
			o.Date = opt.FallbackDate
			o.DateDefaulted = true
			out.DefaultedDates++
		}

		o.CustomerKey = strings.TrimSpace(text(table.Cell(row, iCust)))
		if o.CustomerKey == "" {
			out.NullCustomers++
		}

		var valid bool
		if o.EmployeeKey, valid = nullInt(table.Cell(row, iEmp)); !valid {
			out.InvalidFKs++
		}
		if o.ShipperKey, valid = nullInt(table.Cell(row, iShip)); !valid {
			out.InvalidFKs++
		}
		o.Freight = table.FloatOr(table.Cell(row, iFreight), 0)

		out.Orders = append(out.Orders, o)
	}
	return out, nil
}

// DistinctKeys counts distinct order keys.
func DistinctKeys(orders []Order) int {
	seen := make(map[int64]struct{}, len(orders))
	for _, o := range orders {
		seen[o.Key] = struct{}{}
	}
	return len(seen)
}
