package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"northwind/internal/table"
)

// Supported database/sql driver names.
const (
	DriverSQLServer = "sqlserver"
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite"
)

// Database loads whole tables with SELECT * from a relational source.
//
// The connection is opened lazily on the first Load and shared by every
// later call. If opening or pinging fails, the database is treated as absent
// for the rest of the run: every Load returns (nil, nil) and the failure is
// logged once. A query that fails (typically a missing table) makes only that
// table absent.
type Database struct {
	driver         string
	dsn            string
	connectTimeout time.Duration
	queryTimeout   time.Duration
	log            zerolog.Logger

	// openDB is a seam for tests.
	openDB func(driver, dsn string) (*sql.DB, error)

	once    sync.Once
	db      *sql.DB
	connErr error
}

// DatabaseConfig configures NewDatabase.
type DatabaseConfig struct {
	Driver         string
	DSN            string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

// NewDatabase returns a lazily connecting loader. An empty DSN yields a
// loader for which every table is absent.
func NewDatabase(cfg DatabaseConfig, log zerolog.Logger) *Database {
	return &Database{
		driver:         cfg.Driver,
		dsn:            cfg.DSN,
		connectTimeout: cfg.ConnectTimeout,
		queryTimeout:   cfg.QueryTimeout,
		log:            log.With().Str("origin", string(OriginDatabase)).Logger(),
		openDB:         sql.Open,
	}
}

// Close releases the shared connection pool, if one was opened.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Available connects if needed and reports whether the database can serve
// queries.
func (d *Database) Available(ctx context.Context) bool {
	if d == nil || d.dsn == "" {
		return false
	}
	d.once.Do(func() { d.connect(ctx) })
	return d.connErr == nil
}

func (d *Database) connect(ctx context.Context) {
	db, err := d.openDB(d.driver, d.dsn)
	if err != nil {
		d.connErr = fmt.Errorf("source: open %s: %w", d.driver, err)
		d.log.Warn().Err(d.connErr).Msg("database unavailable; every table from this origin is absent")
		return
	}
	pctx := ctx
	if d.connectTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, d.connectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		d.connErr = fmt.Errorf("source: connect %s: %w", d.driver, err)
		d.log.Warn().Err(d.connErr).Msg("database unavailable; every table from this origin is absent")
		return
	}
	d.db = db
}

// Load implements Loader.
func (d *Database) Load(ctx context.Context, name string) (*table.Table, error) {
	if !d.Available(ctx) {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qctx := ctx
	if d.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, d.queryTimeout)
		defer cancel()
	}

	q := "SELECT * FROM " + quoteIdent(d.driver, name)
	rows, err := d.db.QueryContext(qctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.log.Warn().Err(err).Str("table", name).Msg("table unavailable in database")
		return nil, nil
	}
	defer rows.Close()

	t, err := scanTable(name, rows)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", name, err)
	}
	return t, nil
}

func scanTable(name string, rows *sql.Rows) (*table.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	for i := range cols {
		cols[i] = cleanHeader(cols[i])
	}
	out := table.New(name, cols)

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			// Drivers return text, decimal and money columns as []byte.
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, rows.Err()
}

// quoteIdent quotes a table name for driver. SQL Server uses brackets,
// MySQL backticks and everything else ANSI double quotes.
func quoteIdent(driver, name string) string {
	switch driver {
	case DriverSQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	case DriverMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
