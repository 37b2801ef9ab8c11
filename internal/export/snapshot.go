// Package export turns a star schema into named snapshot tables and writes
// them out as CSV files with a fixed column order.
package export

import (
	"database/sql"
	"time"

	"northwind/internal/star"
)

// ColumnType is the logical type of a snapshot column.
type ColumnType string

const (
	TypeInt   ColumnType = "int"
	TypeText  ColumnType = "text"
	TypeFloat ColumnType = "float"
	TypeBool  ColumnType = "bool"
	TypeDate  ColumnType = "date"
)

// Column is one snapshot column.
type Column struct {
	Name string
	Type ColumnType
}

// Snapshot is one exported table. Cells hold int64, float64, string, bool,
// time.Time or nil.
type Snapshot struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

// ColumnNames returns the header row.
func (s Snapshot) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Snapshot table names, in export order.
const (
	DimTime       = "dim_time"
	DimCustomer   = "dim_customer"
	DimProduct    = "dim_product"
	DimEmployee   = "dim_employee"
	DimShipper    = "dim_shipper"
	DimCategories = "dim_categories"
	FactSales     = "fact_sales"
)

// Layouts declares the column set of every snapshot table in export order.
var Layouts = []Snapshot{
	{Name: DimTime, Columns: []Column{
		{"TimeKey", TypeInt}, {"date", TypeDate}, {"year", TypeInt}, {"month", TypeInt}, {"day", TypeInt}, {"year_month", TypeText},
	}},
	{Name: DimCustomer, Columns: []Column{
		{"CustomerKey", TypeText}, {"CustomerName", TypeText}, {"CustomerCity", TypeText}, {"CustomerCountry", TypeText}, {"Phone", TypeText},
	}},
	{Name: DimProduct, Columns: []Column{
		{"ProductKey", TypeInt}, {"ProductName", TypeText}, {"UnitPrice", TypeFloat}, {"CategoryName", TypeText}, {"Discontinued", TypeBool},
	}},
	{Name: DimEmployee, Columns: []Column{
		{"EmployeeKey", TypeInt}, {"EmployeeFullName", TypeText}, {"FirstName", TypeText}, {"LastName", TypeText}, {"Title", TypeText}, {"City", TypeText}, {"Country", TypeText},
	}},
	{Name: DimShipper, Columns: []Column{
		{"ShipperKey", TypeInt}, {"ShipperName", TypeText}, {"Phone", TypeText},
	}},
	{Name: DimCategories, Columns: []Column{
		{"CategoryID", TypeInt}, {"CategoryName", TypeText},
	}},
	{Name: FactSales, Columns: []Column{
		{"OrderKey", TypeInt}, {"OrderDate", TypeDate}, {"TimeKey", TypeInt}, {"CustomerKey", TypeText},
		{"EmployeeKey", TypeInt}, {"ShipperKey", TypeInt},
		{"DetailCount", TypeInt}, {"TotalQuantity", TypeFloat}, {"AverageDiscount", TypeFloat},
		{"TotalLineTotal", TypeFloat}, {"Freight", TypeFloat},
	}},
}

// Layout returns the declared layout of name.
func Layout(name string) (Snapshot, bool) {
	for _, l := range Layouts {
		if l.Name == name {
			return l, true
		}
	}
	return Snapshot{}, false
}

func str(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n sql.NullInt64) any {
	if !n.Valid {
		return nil
	}
	return n.Int64
}

func nullFloat(n sql.NullFloat64) any {
	if !n.Valid {
		return nil
	}
	return n.Float64
}

func date(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// FromSchema builds the seven snapshots in Layouts order.
func FromSchema(s *star.Schema) []Snapshot {
	out := make([]Snapshot, len(Layouts))
	copy(out, Layouts)

	for i := range out {
		switch out[i].Name {
		case DimTime:
			for _, r := range s.Time {
				out[i].Rows = append(out[i].Rows, []any{
					int64(r.Key), date(r.Date), int64(r.Year), int64(r.Month), int64(r.Day), str(r.YearMonth),
				})
			}
		case DimCustomer:
			for _, r := range s.Customers {
				out[i].Rows = append(out[i].Rows, []any{
					r.Key, str(r.Name), str(r.City), str(r.Country), str(r.Phone),
				})
			}
		case DimProduct:
			for _, r := range s.Products {
				out[i].Rows = append(out[i].Rows, []any{
					r.Key, str(r.Name), nullFloat(r.UnitPrice), str(r.CategoryName), r.Discontinued,
				})
			}
		case DimEmployee:
			for _, r := range s.Employees {
				out[i].Rows = append(out[i].Rows, []any{
					r.Key, str(r.FullName), str(r.FirstName), str(r.LastName), str(r.Title), str(r.City), str(r.Country),
				})
			}
		case DimShipper:
			for _, r := range s.Shippers {
				out[i].Rows = append(out[i].Rows, []any{r.Key, str(r.Name), str(r.Phone)})
			}
		case DimCategories:
			for _, r := range s.Categories {
				out[i].Rows = append(out[i].Rows, []any{r.ID, str(r.Name)})
			}
		case FactSales:
			for _, f := range s.Sales.Rows {
				out[i].Rows = append(out[i].Rows, []any{
					f.OrderKey, date(f.OrderDate), int64(f.TimeKey), str(f.CustomerKey),
					nullInt(f.EmployeeKey), nullInt(f.ShipperKey),
					f.DetailCount, f.TotalQuantity, f.AverageDiscount, f.TotalLineTotal, f.Freight,
				})
			}
		}
	}
	return out
}
