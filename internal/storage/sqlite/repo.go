package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"northwind/internal/storage"
)

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER of older builds.
const maxParams = 999

// Repo implements storage.SnapshotRepository for SQLite.
//
// SQLite has no DATE type; dates are stored as YYYY-MM-DD text so they sort
// and compare correctly. Booleans are stored as 0/1 integers.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.SnapshotRepository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables runs CREATE TABLE IF NOT EXISTS for every spec.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ReplaceRows deletes the current rows and inserts the snapshot in one
// transaction.
func (r *Repo) ReplaceRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	bound, err := storage.BindRows(spec, rows)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(spec.Name)); err != nil {
		return 0, fmt.Errorf("sqlite: clear %s: %w", spec.Name, err)
	}

	cols := spec.ColumnNames()
	var n int64
	for _, chunk := range storage.Chunks(bound, len(cols), maxParams, 0) {
		q, args := buildInsertSQL(spec.Name, cols, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return n, fmt.Errorf("sqlite: insert %s: %w", spec.Name, err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit %s: %w", spec.Name, err)
	}
	return n, nil
}

// sqlIdent double-quotes an identifier, escaping embedded quotes.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqliteType(typ string) (string, error) {
	switch typ {
	case storage.TypeInt, storage.TypeBool:
		return "INTEGER", nil
	case storage.TypeFloat:
		return "REAL", nil
	case storage.TypeText, storage.TypeDate:
		return "TEXT", nil
	}
	return "", fmt.Errorf("sqlite: unsupported column type %q", typ)
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", err
		}
		def := sqlIdent(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		keys := make([]string, len(t.PrimaryKey))
		for i, k := range t.PrimaryKey {
			keys[i] = sqlIdent(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(defs, ", ")), nil
}

// buildInsertSQL builds one multi-row INSERT with positional placeholders.
// Dates are rendered as YYYY-MM-DD text.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	ph := "(" + strings.TrimRight(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
		for _, v := range row {
			if t, ok := v.(time.Time); ok {
				v = t.Format("2006-01-02")
			}
			args = append(args, v)
		}
	}
	return b.String(), args
}
