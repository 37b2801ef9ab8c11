package star

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"northwind/internal/table"
)

func tbl(name string, cols []string, rows ...[]any) *table.Table {
	t := table.New(name, cols)
	t.Rows = rows
	return t
}

func ordersTable(rows ...[]any) *table.Table {
	return tbl("Orders", OrderColumns, rows...)
}

func detailsTable(rows ...[]any) *table.Table {
	return tbl("Order Details", []string{"OrderID", "ProductID", "UnitPrice", "Quantity", "Discount"}, rows...)
}

// fixture is a small consistent Northwind extract where every fact key
// resolves.
func fixture() Inputs {
	return Inputs{
		Orders: ordersTable(
			[]any{int64(10248), "1996-07-04", "VINET", int64(5), int64(3), "32.38"},
			[]any{int64(200005), nil, " ALFKI ", "1", "2", nil},
			[]any{int64(10250), 35254.0, "VINET", nil, nil, 65.83},
		),
		OrderDetails: detailsTable(
			[]any{int64(10248), int64(11), 14.0, int64(12), 0.0},
			[]any{int64(10248), int64(42), 9.8, int64(10), nil},
			[]any{"200005", "72", "34.8", "5", "0.1"},
		),
		Customers: tbl("Customers", []string{"CustomerID", "CompanyName", "City", "Country", "Phone"},
			[]any{"VINET", "Vins et alcools Chevalier", "Reims", "France", "26.47.15.10"},
			[]any{"ALFKI", "Alfreds Futterkiste", "Berlin", "Germany", nil},
			[]any{nil, "Orphan", nil, nil, nil},
		),
		Products: tbl("Products", []string{"ProductID", "ProductName", "UnitPrice", "CategoryID", "Discontinued"},
			[]any{int64(11), "Queso Cabrales", 21.0, int64(4), int64(0)},
			[]any{"42", "Singaporean Hokkien Fried Mee", "14", "5", "True"},
			[]any{"x", "Broken", nil, nil, nil},
			[]any{int64(72), "Mozzarella di Giovanni", 34.8, int64(99), nil},
		),
		Employees: tbl("Employees", []string{"EmployeeID", "FirstName", "LastName", "Title", "City", "Country"},
			[]any{int64(5), "Steven", "Buchanan", "Sales Manager", "London", "UK"},
			[]any{"1", "Nancy", nil, "Sales Representative", "Seattle", "USA"},
		),
		Shippers: tbl("Shippers", []string{"ShipperID", "CompanyName", "Phone"},
			[]any{int64(2), "United Package", "(503) 555-3199"},
			[]any{int64(3), "Federal Shipping", "(503) 555-9931"},
			[]any{"n/a", "Nobody", nil},
		),
		Categories: tbl("Categories", []string{"CategoryID", "CategoryName"},
			[]any{int64(4), "Dairy Products"},
			[]any{int64(5), "Grains/Cereals"},
		),
	}
}

func TestBuild_EndToEndFixture(t *testing.T) {
	s, err := Build(fixture(), Options{})
	require.NoError(t, err)

	require.Len(t, s.Sales.Rows, 3)
	assert.Equal(t, 3, s.Sales.Expected)
	assert.Equal(t, 0, s.Sales.Gap)

	assert.Len(t, s.Customers, 2)
	assert.Len(t, s.Products, 3)
	assert.Equal(t, 1, s.Diagnostics.InvalidProductIDs)
	assert.Equal(t, 1, s.Diagnostics.InvalidShipperIDs)
	assert.Equal(t, 1, s.Diagnostics.DefaultedOrderDates)

	integ := s.Integrity()
	assert.True(t, integ.OK(), "%+v", integ)
	assert.Zero(t, integ.NullCustomerKeys)
}

func TestBuildFact_AggregatesDetailLines(t *testing.T) {
	orders, err := NormalizeOrders(ordersTable(
		[]any{int64(1), "1997-01-01", "C1", nil, nil, nil},
	), Options{})
	require.NoError(t, err)

	res, err := BuildFact(orders.Orders, detailsTable(
		[]any{int64(1), int64(100), 10.0, 1.0, 0.1},
		[]any{int64(1), int64(101), 5.0, 2.0, 0.0},
	))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	f := res.Rows[0]
	assert.Equal(t, int64(2), f.DetailCount)
	assert.Equal(t, 3.0, f.TotalQuantity)
	assert.InDelta(t, 0.05, f.AverageDiscount, 1e-12)
	assert.InDelta(t, 19.0, f.TotalLineTotal, 1e-12)
	assert.Equal(t, 0.0, f.Freight)
}

func TestBuildFact_TwoLineOrderScenario(t *testing.T) {
	orders, err := NormalizeOrders(ordersTable(
		[]any{int64(1), "1997-02-03", "C1", int64(1), int64(1), "4.5"},
	), Options{})
	require.NoError(t, err)
	res, err := BuildFact(orders.Orders, detailsTable(
		[]any{int64(1), nil, 10.0, 2.0, 0.0},
		[]any{int64(1), nil, 5.0, 1.0, 0.1},
	))
	require.NoError(t, err)

	f := res.Rows[0]
	assert.Equal(t, int64(2), f.DetailCount)
	assert.Equal(t, 3.0, f.TotalQuantity)
	assert.InDelta(t, 0.05, f.AverageDiscount, 1e-12)
	assert.InDelta(t, 24.5, f.TotalLineTotal, 1e-12)
	assert.Equal(t, 4.5, f.Freight)
	assert.Equal(t, 19970203, f.TimeKey)
}

func TestBuildFact_NullDetailMeasuresAreZero(t *testing.T) {
	orders, err := NormalizeOrders(ordersTable(
		[]any{int64(1), "1997-01-01", "C1", nil, nil, nil},
	), Options{})
	require.NoError(t, err)

	res, err := BuildFact(orders.Orders, detailsTable(
		[]any{int64(1), int64(1), 12.0, 2.0, 0.5},
		[]any{int64(1), int64(2), 24.5, 1.0, 0.0},
	))
	require.NoError(t, err)
	f := res.Rows[0]
	assert.Equal(t, int64(2), f.DetailCount)
	assert.Equal(t, 3.0, f.TotalQuantity)
	assert.InDelta(t, 0.25, f.AverageDiscount, 1e-12)
	assert.InDelta(t, 12+24.5, f.TotalLineTotal, 1e-12)

	res, err = BuildFact(orders.Orders, detailsTable(
		[]any{int64(1), int64(1), nil, "abc", nil},
	))
	require.NoError(t, err)
	f = res.Rows[0]
	assert.Equal(t, int64(1), f.DetailCount)
	assert.Zero(t, f.TotalQuantity)
	assert.Zero(t, f.TotalLineTotal)
}

func TestBuildFact_OrdersWithoutDetailsGetZeroMeasures(t *testing.T) {
	orders, err := NormalizeOrders(ordersTable(
		[]any{int64(1), "1997-01-01", "C1", nil, nil, "8"},
		[]any{int64(2), "1997-01-02", "C1", nil, nil, nil},
	), Options{})
	require.NoError(t, err)

	res, err := BuildFact(orders.Orders, detailsTable())
	require.NoError(t, err)
	for _, f := range res.Rows {
		assert.Zero(t, f.DetailCount)
		assert.Zero(t, f.TotalQuantity)
		assert.Zero(t, f.AverageDiscount)
		assert.Zero(t, f.TotalLineTotal)
		assert.False(t, math.IsNaN(f.AverageDiscount))
	}
	assert.Equal(t, 8.0, res.Rows[0].Freight)
}

func TestBuildFact_DuplicateHeadersReportGap(t *testing.T) {
	orders, err := NormalizeOrders(ordersTable(
		[]any{int64(1), "1997-01-01", "C1", nil, nil, nil},
		[]any{int64(1), "1997-01-01", "C1", nil, nil, nil},
	), Options{})
	require.NoError(t, err)

	res, err := BuildFact(orders.Orders, detailsTable())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expected)
	assert.Equal(t, -1, res.Gap)
}

func TestBuildFact_MissingDetails(t *testing.T) {
	_, err := BuildFact(nil, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = BuildFact(nil, tbl("Order Details", []string{"OrderID"}))
	assert.ErrorIs(t, err, table.ErrMissingColumn)
}

func TestNormalizeOrders_MissingDateFallsBack(t *testing.T) {
	set, err := NormalizeOrders(ordersTable(
		[]any{int64(1), nil, "C1", nil, nil, nil},
		[]any{int64(2), "garbage", "C1", nil, nil, nil},
		[]any{"nope", "1997-01-01", "C1", nil, nil, nil},
	), Options{})
	require.NoError(t, err)

	require.Len(t, set.Orders, 2)
	assert.Equal(t, 2, set.DefaultedDates)
	assert.Equal(t, 1, set.InvalidIDs)

	res, err := BuildFact(set.Orders, detailsTable())
	require.NoError(t, err)
	for _, f := range res.Rows {
		assert.Equal(t, 19960101, f.TimeKey)
	}

	tm := BuildTime(set.Orders)
	require.Len(t, tm, 1)
	assert.Equal(t, 19960101, tm[0].Key)
}

func TestNormalizeOrders_CustomFallbackAndKeys(t *testing.T) {
	fb := time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC)
	set, err := NormalizeOrders(ordersTable(
		[]any{"7", nil, "  BONAP ", "x", 3.0, "1,5"},
	), Options{FallbackDate: fb})
	require.NoError(t, err)

	o := set.Orders[0]
	assert.Equal(t, int64(7), o.Key)
	assert.True(t, o.Date.Equal(fb))
	assert.Equal(t, "BONAP", o.CustomerKey)
	assert.False(t, o.EmployeeKey.Valid)
	assert.Equal(t, int64(3), o.ShipperKey.Int64)
	assert.True(t, o.ShipperKey.Valid)
	assert.Zero(t, o.Freight)
	assert.Equal(t, 1, set.InvalidFKs)
}

func TestNormalizeOrders_RequiresColumns(t *testing.T) {
	_, err := NormalizeOrders(tbl("Orders", []string{"OrderID", "OrderDate"}), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, table.ErrMissingColumn)
	assert.Contains(t, err.Error(), "CustomerID")

	_, err = NormalizeOrders(nil, Options{})
	assert.True(t, errors.Is(err, ErrMissingDependency))
}

func TestBuildTime_UniqueSortedWithYearMonth(t *testing.T) {
	d := func(s string) Order {
		tm, _ := time.Parse("2006-01-02", s)
		return Order{Date: tm}
	}
	rows := BuildTime([]Order{d("1997-03-02"), d("1996-07-04"), d("1997-03-02")})
	require.Len(t, rows, 2)
	assert.Equal(t, 19960704, rows[0].Key)
	assert.Equal(t, "1996-07", rows[0].YearMonth)
	assert.Equal(t, 1997, rows[1].Year)
	assert.Equal(t, 3, rows[1].Month)
	assert.Equal(t, 2, rows[1].Day)
}

func TestBuildCustomers_RenamesTrimsDedupes(t *testing.T) {
	rows, dropped, err := BuildCustomers(tbl("Customers", []string{"CustomerID", "CompanyName", "City", "Country", "Phone"},
		[]any{" ALFKI", "Alfreds", "Berlin", "Germany", "030-0074321"},
		[]any{"ALFKI", "Alfreds again", nil, nil, nil},
		[]any{"", "No key", nil, nil, nil},
	))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, CustomerRow{Key: "ALFKI", Name: "Alfreds", City: "Berlin", Country: "Germany", Phone: "030-0074321"}, rows[0])
}

func TestBuildCustomers_NumericLookingIDsKeptVerbatim(t *testing.T) {
	rows, _, err := BuildCustomers(tbl("Customers", []string{"CustomerID", "CompanyName", "City", "Country", "Phone"},
		[]any{"007", "Bond", nil, nil, nil},
		[]any{"7", "Other", nil, nil, nil},
		[]any{"1.0", "X", nil, nil, nil},
	))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"007", "7", "1.0"}, []string{rows[0].Key, rows[1].Key, rows[2].Key})
	assert.Equal(t, "Other", rows[1].Name)

	set, err := NormalizeOrders(ordersTable(
		[]any{int64(1), "1996-07-04", " 007 ", nil, nil, nil},
	), Options{})
	require.NoError(t, err)
	assert.Equal(t, "007", set.Orders[0].CustomerKey)
}

func TestBuildProducts_UnknownCategoryAndDiscontinued(t *testing.T) {
	cats := []CategoryRow{{ID: 1, Name: "Beverages"}}
	rows, invalid, err := BuildProducts(tbl("Products", []string{"ProductID", "ProductName", "UnitPrice", "CategoryID", "Discontinued"},
		[]any{"1", "Chai", "18", "1", "0"},
		[]any{"2", "Chang", nil, nil, "1"},
		[]any{"2", "Chang dup", nil, nil, nil},
		[]any{"", "No id", nil, nil, nil},
	), cats, "")
	require.NoError(t, err)
	assert.Equal(t, 1, invalid)
	require.Len(t, rows, 2)

	assert.Equal(t, "Beverages", rows[0].CategoryName)
	assert.False(t, rows[0].Discontinued)
	assert.Equal(t, 18.0, rows[0].UnitPrice.Float64)

	assert.Equal(t, "Unknown", rows[1].CategoryName)
	assert.True(t, rows[1].Discontinued)
	assert.False(t, rows[1].UnitPrice.Valid)
}

func TestBuildEmployees_FullNameNullWhenPartMissing(t *testing.T) {
	rows, invalid, err := BuildEmployees(tbl("Employees", []string{"EmployeeID", "FirstName", "LastName", "Title", "City", "Country"},
		[]any{int64(1), "Nancy", "Davolio", nil, nil, nil},
		[]any{int64(2), "Andrew", nil, nil, nil, nil},
		[]any{"boss", "Some", "One", nil, nil, nil},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, invalid)
	require.Len(t, rows, 2)
	assert.Equal(t, "Nancy Davolio", rows[0].FullName)
	assert.Empty(t, rows[1].FullName)
}

func TestBuilders_MissingDependencyAndColumns(t *testing.T) {
	_, _, err := BuildCustomers(nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, _, err = BuildShippers(tbl("Shippers", []string{"ShipperID"}))
	assert.ErrorIs(t, err, table.ErrMissingColumn)
	_, _, err = BuildEmployees(tbl("Employees", []string{"EmployeeID", "FirstName"}))
	assert.ErrorContains(t, err, "LastName")

	in := fixture()
	in.Categories = nil
	_, err = Build(in, Options{})
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.ErrorContains(t, err, "Categories")
}

func TestSchema_DimensionKeysAreUnique(t *testing.T) {
	in := fixture()
	in.Customers.Rows = append(in.Customers.Rows, in.Customers.Rows...)
	in.Products.Rows = append(in.Products.Rows, in.Products.Rows...)
	s, err := Build(in, Options{})
	require.NoError(t, err)

	seenC := map[string]bool{}
	for _, c := range s.Customers {
		assert.False(t, seenC[c.Key], c.Key)
		assert.NotEmpty(t, c.Key)
		seenC[c.Key] = true
	}
	seenP := map[int64]bool{}
	for _, p := range s.Products {
		assert.False(t, seenP[p.Key])
		seenP[p.Key] = true
	}
	seenT := map[int]bool{}
	for _, r := range s.Time {
		assert.False(t, seenT[r.Key])
		seenT[r.Key] = true
	}
}

func TestSchema_IntegrityReportsOrphans(t *testing.T) {
	in := fixture()
	in.Orders.Rows = append(in.Orders.Rows,
		[]any{int64(10300), "1997-01-01", "NOBODY", int64(42), int64(9), nil},
		[]any{int64(10301), "1997-01-02", "NOBODY", int64(42), nil, nil},
		[]any{int64(10302), "1997-01-03", nil, nil, nil, nil},
	)
	s, err := Build(in, Options{})
	require.NoError(t, err)

	integ := s.Integrity()
	assert.False(t, integ.OK())
	assert.Empty(t, integ.OrphanTimeKeys)
	assert.Equal(t, []string{"NOBODY"}, integ.OrphanCustomerKeys)
	assert.Equal(t, []int64{42}, integ.OrphanEmployeeKeys)
	assert.Equal(t, []int64{9}, integ.OrphanShipperKeys)
	assert.Equal(t, 1, integ.NullCustomerKeys)
	assert.Equal(t, 1, s.Diagnostics.NullCustomerIDs)
}

func TestDiagnostics_CountsOmitZero(t *testing.T) {
	d := Diagnostics{InvalidProductIDs: 2}
	assert.Equal(t, map[string]int{"invalid_product_id": 2}, d.Counts())
}
