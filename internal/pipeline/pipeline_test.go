package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"northwind/internal/config"
	"northwind/internal/export"
	"northwind/internal/reconcile"
	"northwind/internal/star"
	"northwind/internal/storage"
	"northwind/internal/table"
)

type mapLoader map[string]*table.Table

func (m mapLoader) Load(_ context.Context, name string) (*table.Table, error) {
	t, ok := m[name]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func tbl(name string, cols []string, rows ...[]any) *table.Table {
	t := table.New(name, cols)
	t.Rows = rows
	return t
}

var (
	orderCols  = []string{"OrderID", "OrderDate", "CustomerID", "EmployeeID", "ShipVia", "Freight"}
	detailCols = []string{"OrderID", "ProductID", "UnitPrice", "Quantity", "Discount"}
)

func spreadsheetOrigin() mapLoader {
	return mapLoader{
		"Orders": tbl("Orders", orderCols,
			[]any{"5", "1996-07-05", "ALFKI", "5", "3", "11.61"},
		),
		"Order Details": tbl("Order Details", detailCols,
			[]any{"5", "11", "10", "2", "0"},
			[]any{"5", "42", "5", "3", "0.5"},
		),
		"Customers": tbl("Customers", []string{"CustomerID", "CompanyName", "City", "Country", "Phone"},
			[]any{"ALFKI", "Alfreds Futterkiste", "Berlin", "Germany", "030-0074321"},
		),
	}
}

func databaseOrigin() mapLoader {
	return mapLoader{
		"Orders": tbl("Orders", orderCols,
			[]any{int64(10248), "1996-07-04", "VINET", int64(5), int64(3), 32.38},
		),
		"Order Details": tbl("Order Details", detailCols,
			[]any{int64(10248), int64(11), 14.0, int64(12), 0.0},
		),
		"Customers": tbl("Customers", []string{"CustomerID", "CompanyName", "City", "Country", "Phone"},
			[]any{"ALFKI", "Alfreds (db copy)", "Berlin", "Germany", nil},
			[]any{"VINET", "Vins et alcools Chevalier", "Reims", "France", nil},
		),
		"Products": tbl("Products", []string{"ProductID", "ProductName", "UnitPrice", "CategoryID", "Discontinued"},
			[]any{int64(11), "Queso Cabrales", 21.0, int64(4), false},
			[]any{int64(42), "Singaporean Hokkien Fried Mee", 14.0, int64(5), true},
		),
		"Employees": tbl("Employees", []string{"EmployeeID", "FirstName", "LastName", "Title", "City", "Country"},
			[]any{int64(5), "Steven", "Buchanan", "Sales Manager", "London", "UK"},
		),
		"Shippers": tbl("Shippers", []string{"ShipperID", "CompanyName", "Phone"},
			[]any{int64(3), "Federal Shipping", "(503) 555-9931"},
		),
		"Categories": tbl("Categories", []string{"CategoryID", "CategoryName"},
			[]any{int64(4), "Dairy Products"},
			[]any{int64(5), "Grains/Cereals"},
		),
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func newRunner(cfg *config.Config, deps Deps) *Runner {
	if deps.Spreadsheet == nil {
		deps.Spreadsheet = spreadsheetOrigin()
	}
	if deps.Database == nil {
		deps.Database = databaseOrigin()
	}
	return New(cfg, zerolog.Nop(), deps)
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)

	sum, err := newRunner(cfg, Deps{}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, sum.Tables, 7)
	assert.Equal(t, 2, sum.FactRows)
	assert.Equal(t, 2, sum.Expected)
	assert.Zero(t, sum.Gap)
	assert.True(t, sum.Integrity.OK(), "%+v", sum.Integrity)
	assert.Nil(t, sum.Warehouse)

	require.Len(t, sum.Files, len(export.Layouts))
	for i, f := range sum.Files {
		assert.Equal(t, export.Layouts[i].Name, f.Name)
		assert.FileExists(t, f.Path)
	}

	fact, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "fact_sales.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(fact)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, string(fact), "200005,1996-07-05,19960705,ALFKI,5,3,2,5,0.25,27.5,11.61")
	assert.Contains(t, string(fact), "10248,1996-07-04,19960704,VINET,5,3,1,12,0,168,32.38")

	cust, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "dim_customer.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(cust), "Alfreds Futterkiste", "spreadsheet copy wins")
	assert.NotContains(t, string(cust), "db copy")
}

func TestRun_IsIdempotent(t *testing.T) {
	cfg := testConfig(t)

	first, err := newRunner(cfg, Deps{}).Run(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "fact_sales.csv"))
	require.NoError(t, err)

	second, err := newRunner(cfg, Deps{}).Run(context.Background())
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "fact_sales.csv"))
	require.NoError(t, err)

	assert.Equal(t, before, after)
	for i := range first.Files {
		assert.Equal(t, first.Files[i].Digest, second.Files[i].Digest, first.Files[i].Name)
	}
}

func TestRun_MissingDependencyIsFatal(t *testing.T) {
	cfg := testConfig(t)
	db := databaseOrigin()
	delete(db, "Shippers")

	_, err := newRunner(cfg, Deps{Database: db}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, star.ErrMissingDependency)
	assert.Contains(t, err.Error(), "Shippers")
	assert.NoFileExists(t, filepath.Join(cfg.Output.Dir, "fact_sales.csv"))
}

func TestRun_MissingOrderIDIsConfigError(t *testing.T) {
	cfg := testConfig(t)
	sheet := spreadsheetOrigin()
	sheet["Orders"] = tbl("Orders", []string{"OrderDate", "CustomerID"}, []any{"1996-07-05", "ALFKI"})

	_, err := newRunner(cfg, Deps{Spreadsheet: sheet}).Run(context.Background())
	var cerr *reconcile.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Orders", cerr.Table)
}

type fakeRepo struct {
	ensured  []storage.TableSpec
	replaced map[string]int
	closed   bool
	failOn   string
}

func (f *fakeRepo) Close() { f.closed = true }

func (f *fakeRepo) EnsureTables(_ context.Context, specs []storage.TableSpec) error {
	f.ensured = append(f.ensured, specs...)
	return nil
}

func (f *fakeRepo) ReplaceRows(_ context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if spec.Name == f.failOn {
		return 0, errors.New("disk full")
	}
	if _, err := storage.BindRows(spec, rows); err != nil {
		return 0, err
	}
	if f.replaced == nil {
		f.replaced = map[string]int{}
	}
	f.replaced[spec.Name] = len(rows)
	return int64(len(rows)), nil
}

func TestRun_MirrorsIntoWarehouse(t *testing.T) {
	cfg := testConfig(t)
	cfg.Warehouse.Kind = "sqlite"
	cfg.Warehouse.DSN = "ignored"
	cfg.Warehouse.Schema = "nw"

	repo := &fakeRepo{}
	var opened storage.Config
	deps := Deps{OpenWarehouse: func(_ context.Context, c storage.Config) (storage.SnapshotRepository, error) {
		opened = c
		return repo, nil
	}}

	sum, err := newRunner(cfg, deps).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, storage.Config{Kind: "sqlite", DSN: "ignored"}, opened)
	assert.True(t, repo.closed)
	assert.Len(t, repo.ensured, len(export.Layouts))
	assert.Equal(t, 2, repo.replaced["nw.fact_sales"])
	assert.Equal(t, int64(2), sum.Warehouse[export.FactSales])
	assert.Equal(t, int64(2), sum.Warehouse[export.DimCustomer])
}

func TestRun_WarehouseFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Warehouse.Kind = "sqlite"

	repo := &fakeRepo{failOn: "dim_time"}
	deps := Deps{OpenWarehouse: func(context.Context, storage.Config) (storage.SnapshotRepository, error) {
		return repo, nil
	}}

	_, err := newRunner(cfg, deps).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: warehouse:")
	assert.True(t, repo.closed)
	// The CSV snapshot is already published.
	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "fact_sales.csv"))
}

func TestRun_WarehouseOpenError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Warehouse.Kind = "postgres"

	deps := Deps{OpenWarehouse: func(context.Context, storage.Config) (storage.SnapshotRepository, error) {
		return nil, errors.New("connection refused")
	}}
	_, err := newRunner(cfg, deps).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open postgres")
}

func TestTableSpec(t *testing.T) {
	dim, ok := export.Layout(export.DimCustomer)
	require.True(t, ok)
	spec := TableSpec(dim, "")
	require.NoError(t, spec.Validate())
	assert.Equal(t, "dim_customer", spec.Name)
	assert.Equal(t, []string{"CustomerKey"}, spec.PrimaryKey)
	assert.False(t, spec.Columns[0].Nullable)
	assert.True(t, spec.Columns[1].Nullable)
	assert.Equal(t, storage.TypeText, spec.Columns[0].Type)

	fact, _ := export.Layout(export.FactSales)
	spec = TableSpec(fact, "wh")
	assert.Equal(t, "wh.fact_sales", spec.Name)
	assert.Empty(t, spec.PrimaryKey)
	for _, c := range spec.Columns {
		assert.True(t, c.Nullable, c.Name)
	}
}
