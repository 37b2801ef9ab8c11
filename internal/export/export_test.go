package export

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"northwind/internal/star"
)

func sampleSchema() *star.Schema {
	d := time.Date(1996, 7, 4, 0, 0, 0, 0, time.UTC)
	return &star.Schema{
		Time:      []star.TimeRow{{Key: 19960704, Date: d, Year: 1996, Month: 7, Day: 4, YearMonth: "1996-07"}},
		Customers: []star.CustomerRow{{Key: "VINET", Name: "Vins et alcools Chevalier", City: "Reims", Country: "France"}},
		Products: []star.ProductRow{
			{Key: 11, Name: "Queso Cabrales", UnitPrice: sql.NullFloat64{Float64: 21, Valid: true}, CategoryName: "Dairy Products"},
			{Key: 42, Name: "Mee, \"fried\"", CategoryName: "Unknown", Discontinued: true},
		},
		Employees:  []star.EmployeeRow{{Key: 5, FullName: "Steven Buchanan", FirstName: "Steven", LastName: "Buchanan"}},
		Shippers:   []star.ShipperRow{{Key: 3, Name: "Federal Shipping", Phone: "(503) 555-9931"}},
		Categories: []star.CategoryRow{{ID: 4, Name: "Dairy Products"}},
		Sales: star.FactResult{Rows: []star.SalesFact{{
			OrderKey: 10248, OrderDate: d, TimeKey: 19960704, CustomerKey: "VINET",
			EmployeeKey: sql.NullInt64{Int64: 5, Valid: true},
			DetailCount: 2, TotalQuantity: 22, AverageDiscount: 0, TotalLineTotal: 266, Freight: 32.38,
		}}},
	}
}

func TestFromSchema_FixedOrderAndColumns(t *testing.T) {
	snaps := FromSchema(sampleSchema())
	require.Len(t, snaps, 7)

	names := make([]string, len(snaps))
	for i, s := range snaps {
		names[i] = s.Name
		for _, r := range s.Rows {
			require.Len(t, r, len(s.Columns), s.Name)
		}
	}
	assert.Equal(t, []string{DimTime, DimCustomer, DimProduct, DimEmployee, DimShipper, DimCategories, FactSales}, names)
	assert.Equal(t,
		[]string{"OrderKey", "OrderDate", "TimeKey", "CustomerKey", "EmployeeKey", "ShipperKey",
			"DetailCount", "TotalQuantity", "AverageDiscount", "TotalLineTotal", "Freight"},
		snaps[6].ColumnNames())

	fact := snaps[6].Rows[0]
	assert.Nil(t, fact[5], "null shipper stays null")
	assert.Equal(t, int64(5), fact[4])
}

func TestCSVWrite_ContentAndFormatting(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "processed")
	res, err := CSV{Dir: dir}.Write(context.Background(), FromSchema(sampleSchema()))
	require.NoError(t, err)
	require.Len(t, res, 7)

	fact, err := os.ReadFile(filepath.Join(dir, "fact_sales.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"OrderKey,OrderDate,TimeKey,CustomerKey,EmployeeKey,ShipperKey,DetailCount,TotalQuantity,AverageDiscount,TotalLineTotal,Freight\n"+
			"10248,1996-07-04,19960704,VINET,5,,2,22,0,266,32.38\n",
		string(fact))

	prod, err := os.ReadFile(filepath.Join(dir, "dim_product.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"ProductKey,ProductName,UnitPrice,CategoryName,Discontinued\n"+
			"11,Queso Cabrales,21,Dairy Products,False\n"+
			"42,\"Mee, \"\"fried\"\"\",,Unknown,True\n",
		string(prod))

	tm, err := os.ReadFile(filepath.Join(dir, "dim_time.csv"))
	require.NoError(t, err)
	assert.Equal(t, "TimeKey,date,year,month,day,year_month\n19960704,1996-07-04,1996,7,4,1996-07\n", string(tm))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestCSVWrite_IdempotentAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	w := CSV{Dir: dir}

	first, err := w.Write(context.Background(), FromSchema(sampleSchema()))
	require.NoError(t, err)
	before := map[string][]byte{}
	for _, r := range first {
		b, err := os.ReadFile(r.Path)
		require.NoError(t, err)
		before[r.Name] = b
	}

	second, err := w.Write(context.Background(), FromSchema(sampleSchema()))
	require.NoError(t, err)
	for i, r := range second {
		b, err := os.ReadFile(r.Path)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(before[r.Name], b), r.Name)
		assert.Equal(t, first[i].Digest, r.Digest)
	}
}

func TestCSVWrite_OverwritesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dim_shipper.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0o644))

	s, _ := Layout(DimShipper)
	_, err := CSV{Dir: dir}.Write(context.Background(), []Snapshot{s})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ShipperKey,ShipperName,Phone\n", string(b))
}

func TestCSVWrite_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := CSV{Dir: t.TempDir()}.Write(ctx, FromSchema(sampleSchema()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res)
}

func TestDigest_DistinguishesNullFromEmpty(t *testing.T) {
	cols := []Column{{"a", TypeText}}
	a := Snapshot{Name: "x", Columns: cols, Rows: [][]any{{nil}}}
	b := Snapshot{Name: "x", Columns: cols, Rows: [][]any{{""}}}
	assert.NotEqual(t, Digest(a), Digest(b))
	assert.Equal(t, Digest(a), Digest(Snapshot{Name: "y", Columns: cols, Rows: [][]any{{nil}}}))

	literal := Snapshot{Name: "x", Columns: cols, Rows: [][]any{{"null"}}}
	assert.NotEqual(t, Digest(a), Digest(literal))
}

func TestDigest_CellBoundariesMatter(t *testing.T) {
	cols := []Column{{"a", TypeText}, {"b", TypeText}}
	a := Snapshot{Name: "x", Columns: cols, Rows: [][]any{{"ab", "c"}}}
	b := Snapshot{Name: "x", Columns: cols, Rows: [][]any{{"a", "bc"}}}
	assert.NotEqual(t, Digest(a), Digest(b))
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{int64(-3), "-3"},
		{24.5, "24.5"},
		{1e21, "1000000000000000000000"},
		{true, "True"},
		{time.Date(1996, 1, 1, 13, 0, 0, 0, time.UTC), "1996-01-01"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatCell(tc.in))
	}
}
