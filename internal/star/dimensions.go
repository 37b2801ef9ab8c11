package star

import (
	"database/sql"
	"sort"
	"time"

	"northwind/internal/table"
)

// TimeRow is one calendar day on which at least one order was placed.
type TimeRow struct {
	Key       int
	Date      time.Time
	Year      int
	Month     int
	Day       int
	YearMonth string
}

// BuildTime returns one row per distinct order date, sorted by date.
// Fallback dates are included, so every fact TimeKey resolves.
func BuildTime(orders []Order) []TimeRow {
	seen := make(map[int]struct{}, len(orders))
	out := make([]TimeRow, 0, len(orders))
	for _, o := range orders {
		k := table.DateKey(o.Date)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		y, m, d := o.Date.Date()
		out = append(out, TimeRow{
			Key:       k,
			Date:      o.Date,
			Year:      y,
			Month:     int(m),
			Day:       d,
			YearMonth: o.Date.Format("2006-01"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// CustomerRow is a customer dimension row. Empty strings are nulls.
type CustomerRow struct {
	Key     string
	Name    string
	City    string
	Country string
	Phone   string
}

// BuildCustomers projects Customers. Rows with a blank CustomerID are
// dropped; the first row per key wins.
func BuildCustomers(t *table.Table) ([]CustomerRow, int, error) {
	if t == nil {
		return nil, 0, missing("Customers")
	}
	ix, err := t.Indices("CustomerID", "CompanyName", "City", "Country", "Phone")
	if err != nil {
		return nil, 0, requireColumns(t, "customers", "CustomerID", "CompanyName", "City", "Country", "Phone")
	}
	seen := make(map[string]struct{}, t.Len())
	out := make([]CustomerRow, 0, t.Len())
	dropped := 0
	for _, row := range t.Rows {
		k := table.KeyString(table.Cell(row, ix[0]))
		if k == "" {
			dropped++
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, CustomerRow{
			Key:     k,
			Name:    text(table.Cell(row, ix[1])),
			City:    text(table.Cell(row, ix[2])),
			Country: text(table.Cell(row, ix[3])),
			Phone:   text(table.Cell(row, ix[4])),
		})
	}
	return out, dropped, nil
}

// CategoryRow is a product category.
type CategoryRow struct {
	ID   int64
	Name string
}

// BuildCategories types Categories. Non-numeric ids are dropped and counted.
func BuildCategories(t *table.Table) ([]CategoryRow, int, error) {
	if t == nil {
		return nil, 0, missing("Categories")
	}
	ix, err := t.Indices("CategoryID", "CategoryName")
	if err != nil {
		return nil, 0, requireColumns(t, "categories", "CategoryID", "CategoryName")
	}
	seen := make(map[int64]struct{}, t.Len())
	out := make([]CategoryRow, 0, t.Len())
	invalid := 0
	for _, row := range t.Rows {
		id, ok := table.Int(table.Cell(row, ix[0]))
		if !ok {
			invalid++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, CategoryRow{ID: id, Name: text(table.Cell(row, ix[1]))})
	}
	return out, invalid, nil
}

// ProductRow is a product dimension row.
type ProductRow struct {
	Key          int64
	Name         string
	UnitPrice    sql.NullFloat64
	CategoryName string
	Discontinued bool
}

// BuildProducts types Products and resolves each product's category name.
// Products with a non-numeric ProductID are dropped and counted. A category
// that does not resolve is named unknownCategory. Discontinued is false when
// null or unrecognised.
func BuildProducts(t *table.Table, categories []CategoryRow, unknownCategory string) ([]ProductRow, int, error) {
	if t == nil {
		return nil, 0, missing("Products")
	}
	cols := []string{"ProductID", "ProductName", "UnitPrice", "CategoryID", "Discontinued"}
	ix, err := t.Indices(cols...)
	if err != nil {
		return nil, 0, requireColumns(t, "products", cols...)
	}
	if unknownCategory == "" {
		unknownCategory = DefaultUnknownCategory
	}
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	seen := make(map[int64]struct{}, t.Len())
	out := make([]ProductRow, 0, t.Len())
	invalid := 0
	for _, row := range t.Rows {
		id, ok := table.Int(table.Cell(row, ix[0]))
		if !ok {
			invalid++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		category := unknownCategory
		if cid, ok := table.Int(table.Cell(row, ix[3])); ok {
			if n, found := names[cid]; found && n != "" {
				category = n
			}
		}
		disc, _ := table.Bool(table.Cell(row, ix[4]))

		out = append(out, ProductRow{
			Key:          id,
			Name:         text(table.Cell(row, ix[1])),
			UnitPrice:    nullFloat(table.Cell(row, ix[2])),
			CategoryName: category,
			Discontinued: disc,
		})
	}
	return out, invalid, nil
}

// EmployeeRow is an employee dimension row.
type EmployeeRow struct {
	Key       int64
	FullName  string
	FirstName string
	LastName  string
	Title     string
	City      string
	Country   string
}

// BuildEmployees types Employees. FullName is "First Last", or empty when
// either part is missing.
func BuildEmployees(t *table.Table) ([]EmployeeRow, int, error) {
	if t == nil {
		return nil, 0, missing("Employees")
	}
	cols := []string{"EmployeeID", "FirstName", "LastName", "Title", "City", "Country"}
	ix, err := t.Indices(cols...)
	if err != nil {
		return nil, 0, requireColumns(t, "employees", cols...)
	}
	seen := make(map[int64]struct{}, t.Len())
	out := make([]EmployeeRow, 0, t.Len())
	invalid := 0
	for _, row := range t.Rows {
		id, ok := table.Int(table.Cell(row, ix[0]))
		if !ok {
			invalid++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		e := EmployeeRow{
			Key:       id,
			FirstName: text(table.Cell(row, ix[1])),
			LastName:  text(table.Cell(row, ix[2])),
			Title:     text(table.Cell(row, ix[3])),
			City:      text(table.Cell(row, ix[4])),
			Country:   text(table.Cell(row, ix[5])),
		}
		if e.FirstName != "" && e.LastName != "" {
			e.FullName = e.FirstName + " " + e.LastName
		}
		out = append(out, e)
	}
	return out, invalid, nil
}

// ShipperRow is a shipper dimension row.
type ShipperRow struct {
	Key   int64
	Name  string
	Phone string
}

// BuildShippers types Shippers. Rows whose ShipperID is null or not a number
// are dropped and counted.
func BuildShippers(t *table.Table) ([]ShipperRow, int, error) {
	if t == nil {
		return nil, 0, missing("Shippers")
	}
	ix, err := t.Indices("ShipperID", "CompanyName", "Phone")
	if err != nil {
		return nil, 0, requireColumns(t, "shippers", "ShipperID", "CompanyName", "Phone")
	}
	seen := make(map[int64]struct{}, t.Len())
	out := make([]ShipperRow, 0, t.Len())
	invalid := 0
	for _, row := range t.Rows {
		id, ok := table.Int(table.Cell(row, ix[0]))
		if !ok {
			invalid++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, ShipperRow{
			Key:   id,
			Name:  text(table.Cell(row, ix[1])),
			Phone: text(table.Cell(row, ix[2])),
		})
	}
	return out, invalid, nil
}
