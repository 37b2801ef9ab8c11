package star

import (
	"strconv"

	"northwind/internal/table"
)

// Inputs are the reconciled tables the schema is built from. A nil field
// means the table was absent from both origins.
type Inputs struct {
	Orders       *table.Table
	OrderDetails *table.Table
	Customers    *table.Table
	Products     *table.Table
	Employees    *table.Table
	Shippers     *table.Table
	Categories   *table.Table
}

// Schema is the complete star schema of one run.
type Schema struct {
	Time       []TimeRow
	Customers  []CustomerRow
	Products   []ProductRow
	Employees  []EmployeeRow
	Shippers   []ShipperRow
	Categories []CategoryRow
	Sales      FactResult

	Diagnostics Diagnostics
}

// Build runs every builder. The first missing dependency or missing column
// aborts the build.
func Build(in Inputs, opt Options) (*Schema, error) {
	opt = opt.withDefaults()
	s := &Schema{}

	orders, err := NormalizeOrders(in.Orders, opt)
	if err != nil {
		return nil, err
	}
	s.Diagnostics.InvalidOrderIDs = orders.InvalidIDs
	s.Diagnostics.DefaultedOrderDates = orders.DefaultedDates
	s.Diagnostics.NullCustomerIDs = orders.NullCustomers

	s.Time = BuildTime(orders.Orders)

	if s.Customers, _, err = BuildCustomers(in.Customers); err != nil {
		return nil, err
	}
	if s.Categories, s.Diagnostics.InvalidCategoryIDs, err = BuildCategories(in.Categories); err != nil {
		return nil, err
	}
	if s.Products, s.Diagnostics.InvalidProductIDs, err = BuildProducts(in.Products, s.Categories, opt.UnknownCategory); err != nil {
		return nil, err
	}
	if s.Employees, s.Diagnostics.InvalidEmployeeIDs, err = BuildEmployees(in.Employees); err != nil {
		return nil, err
	}
	if s.Shippers, s.Diagnostics.InvalidShipperIDs, err = BuildShippers(in.Shippers); err != nil {
		return nil, err
	}

	if s.Sales, err = BuildFact(orders.Orders, in.OrderDetails); err != nil {
		return nil, err
	}
	s.Diagnostics.SkippedDetailRows = s.Sales.SkippedDetails
	return s, nil
}

// Integrity lists fact foreign keys that do not resolve to a dimension row.
type Integrity struct {
	OrphanTimeKeys     []int
	OrphanCustomerKeys []string
	OrphanEmployeeKeys []int64
	OrphanShipperKeys  []int64
	// NullCustomerKeys counts fact rows without a customer.
	NullCustomerKeys int
}

// OK reports whether every non-null fact key resolves.
func (i Integrity) OK() bool {
	return len(i.OrphanTimeKeys) == 0 &&
		len(i.OrphanCustomerKeys) == 0 &&
		len(i.OrphanEmployeeKeys) == 0 &&
		len(i.OrphanShipperKeys) == 0
}

// Orphans returns the orphan count per dimension, for logging.
func (i Integrity) Orphans() map[string]int {
	return map[string]int{
		"time":     len(i.OrphanTimeKeys),
		"customer": len(i.OrphanCustomerKeys),
		"employee": len(i.OrphanEmployeeKeys),
		"shipper":  len(i.OrphanShipperKeys),
	}
}

// Integrity checks referential completeness of the fact table. Each orphan
// key is listed once, in first-seen order. Null employee and shipper keys
// are allowed.
func (s *Schema) Integrity() Integrity {
	times := make(map[int]struct{}, len(s.Time))
	for _, r := range s.Time {
		times[r.Key] = struct{}{}
	}
	customers := make(map[string]struct{}, len(s.Customers))
	for _, r := range s.Customers {
		customers[r.Key] = struct{}{}
	}
	employees := make(map[int64]struct{}, len(s.Employees))
	for _, r := range s.Employees {
		employees[r.Key] = struct{}{}
	}
	shippers := make(map[int64]struct{}, len(s.Shippers))
	for _, r := range s.Shippers {
		shippers[r.Key] = struct{}{}
	}

	var out Integrity
	reported := make(map[string]struct{})
	once := func(kind, key string) bool {
		k := kind + ":" + key
		if _, ok := reported[k]; ok {
			return false
		}
		reported[k] = struct{}{}
		return true
	}
	for _, f := range s.Sales.Rows {
		if _, ok := times[f.TimeKey]; !ok && once("t", strconv.Itoa(f.TimeKey)) {
			out.OrphanTimeKeys = append(out.OrphanTimeKeys, f.TimeKey)
		}
		if f.CustomerKey == "" {
			out.NullCustomerKeys++
		} else if _, ok := customers[f.CustomerKey]; !ok && once("c", f.CustomerKey) {
			out.OrphanCustomerKeys = append(out.OrphanCustomerKeys, f.CustomerKey)
		}
		if f.EmployeeKey.Valid {
			if _, ok := employees[f.EmployeeKey.Int64]; !ok && once("e", strconv.FormatInt(f.EmployeeKey.Int64, 10)) {
				out.OrphanEmployeeKeys = append(out.OrphanEmployeeKeys, f.EmployeeKey.Int64)
			}
		}
		if f.ShipperKey.Valid {
			if _, ok := shippers[f.ShipperKey.Int64]; !ok && once("s", strconv.FormatInt(f.ShipperKey.Int64, 10)) {
				out.OrphanShipperKeys = append(out.OrphanShipperKeys, f.ShipperKey.Int64)
			}
		}
	}
	return out
}
