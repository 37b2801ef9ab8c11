package reconcile

import (
	"strings"

	"golang.org/x/text/cases"
)

// Policy describes how one logical table is merged across origins.
type Policy struct {
	// Table is the logical table name ("Orders", "Order Details", ...).
	Table string

	// KeyColumns identify a row for deduplication.
	KeyColumns []string

	// Dedupe drops null-key rows and later duplicates when true.
	Dedupe bool

	// ShiftColumn, when set, is the spreadsheet-origin identifier column
	// shifted by Options.OrderOffset. The column is required on the
	// spreadsheet side.
	ShiftColumn string
}

// Logical table names.
const (
	TableOrders       = "Orders"
	TableOrderDetails = "Order Details"
	TableCustomers    = "Customers"
	TableProducts     = "Products"
	TableEmployees    = "Employees"
	TableShippers     = "Shippers"
	TableCategories   = "Categories"
)

// DefaultPolicies returns the policy table for the Northwind tables.
func DefaultPolicies() []Policy {
	return []Policy{
		{Table: TableOrders, KeyColumns: []string{"OrderID"}, Dedupe: false, ShiftColumn: "OrderID"},
		{Table: TableOrderDetails, KeyColumns: []string{"OrderID", "ProductID"}, Dedupe: false, ShiftColumn: "OrderID"},
		{Table: TableCustomers, KeyColumns: []string{"CustomerID"}, Dedupe: true},
		{Table: TableProducts, KeyColumns: []string{"ProductID"}, Dedupe: true},
		{Table: TableEmployees, KeyColumns: []string{"EmployeeID"}, Dedupe: true},
		{Table: TableShippers, KeyColumns: []string{"ShipperID"}, Dedupe: true},
		{Table: TableCategories, KeyColumns: []string{"CategoryID"}, Dedupe: true},
	}
}

// canonicalName folds case, maps underscores to spaces and collapses runs of
// whitespace, so "ORDER_DETAILS " and "Order Details" compare equal.
func canonicalName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// orderBearing reports whether name is one of the tables whose spreadsheet
// identifiers share the order key space.
func orderBearing(name string) bool {
	switch canonicalName(name) {
	case canonicalName(TableOrders), canonicalName(TableOrderDetails):
		return true
	}
	return false
}

// PolicyFor builds the policy used by Reconcile for an ad hoc call.
func PolicyFor(name string, keyColumns []string, dedupe bool) Policy {
	p := Policy{Table: name, KeyColumns: keyColumns, Dedupe: dedupe}
	if orderBearing(name) {
		p.ShiftColumn = "OrderID"
	}
	return p
}
