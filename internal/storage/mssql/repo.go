package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"northwind/internal/storage"
)

// SQL Server accepts at most 2100 parameters per request and 1000 row value
// expressions per INSERT ... VALUES.
const (
	maxParams = 2000
	maxRows   = 1000
)

// Repo implements storage.SnapshotRepository for Microsoft SQL Server.
//
// ReplaceRows deletes and re-inserts inside one transaction. Inserts are
// split into batches that respect the parameter and row-value limits above.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens a "sqlserver" database/sql handle and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.SnapshotRepository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates each table guarded by OBJECT_ID, so it is safe to run
// on every invocation.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ReplaceRows deletes every row of the table and inserts rows in batches,
// in one transaction.
func (r *Repo) ReplaceRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	bound, err := storage.BindRows(spec, rows)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+mssqlTableIdent(spec.Name)); err != nil {
		return 0, fmt.Errorf("mssql: clear %s: %w", spec.Name, err)
	}

	cols := spec.ColumnNames()
	var n int64
	for _, chunk := range storage.Chunks(bound, len(cols), maxParams, maxRows) {
		q, args := buildBulkInsertSQL(spec.Name, cols, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert %s: %w", spec.Name, err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			n += affected
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit %s: %w", spec.Name, err)
	}
	committed = true
	return n, nil
}

func mssqlType(c storage.ColumnSpec, key bool) (string, error) {
	switch c.Type {
	case storage.TypeInt:
		return "BIGINT", nil
	case storage.TypeFloat:
		return "FLOAT", nil
	case storage.TypeText:
		// Index keys are limited to 900 bytes.
		if key {
			return "NVARCHAR(450)", nil
		}
		return "NVARCHAR(MAX)", nil
	case storage.TypeBool:
		return "BIT", nil
	case storage.TypeDate:
		return "DATE", nil
	}
	return "", fmt.Errorf("mssql: unsupported column type %q", c.Type)
}

// buildCreateSQL returns a guarded CREATE TABLE statement for t.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		typ, err := mssqlType(c, t.IsKey(c.Name))
		if err != nil {
			return "", err
		}
		def := mssqlIdent(c.Name) + " " + typ
		if c.Nullable {
			def += " NULL"
		} else {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		keys := make([]string, len(t.PrimaryKey))
		for i, k := range t.PrimaryKey {
			keys[i] = mssqlIdent(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows
// using @pN placeholders.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.dim_time" -> [dbo].[dim_time]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// dbConn is the subset of *sql.DB this package uses, so tests can record
// statements without a server.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the subset of *sql.Tx this package uses.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
