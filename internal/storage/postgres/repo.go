package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"northwind/internal/storage"
)

/*
Repo implements storage.SnapshotRepository for Postgres.

Tables are replaced with TRUNCATE + COPY inside a single transaction, so
readers see either the previous snapshot or the new one.
*/
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.SnapshotRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates missing schemas and tables.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("postgres: create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ReplaceRows truncates the table and streams the snapshot with COPY.
func (r *Repo) ReplaceRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	bound, err := storage.BindRows(spec, rows)
	if err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+pgTableIdent(spec.Name)); err != nil {
		return 0, fmt.Errorf("postgres: truncate %s: %w", spec.Name, err)
	}
	n, err := tx.CopyFrom(ctx, copyIdentifier(spec.Name), spec.ColumnNames(), pgx.CopyFromRows(bound))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy %s: %w", spec.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit %s: %w", spec.Name, err)
	}
	return n, nil
}

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

// splitQualifiedName splits "schema.table". A bare name has no schema.
func splitQualifiedName(name string) (schema string, table string) {
	if i := strings.Index(name, "."); i >= 0 {
		return strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:])
	}
	return "", strings.TrimSpace(name)
}

func copyIdentifier(name string) pgx.Identifier {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgx.Identifier{table}
	}
	return pgx.Identifier{schema, table}
}

func pgTableIdent(name string) string {
	return copyIdentifier(name).Sanitize()
}

func pgType(typ string) (string, error) {
	switch typ {
	case storage.TypeInt:
		return "bigint", nil
	case storage.TypeFloat:
		return "double precision", nil
	case storage.TypeText:
		return "text", nil
	case storage.TypeBool:
		return "boolean", nil
	case storage.TypeDate:
		return "date", nil
	}
	return "", fmt.Errorf("postgres: unsupported column type %q", typ)
}

// buildCreateSQL returns an optional CREATE SCHEMA statement and the
// CREATE TABLE IF NOT EXISTS statement for t.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}
	schema, _ := splitQualifiedName(t.Name)
	if schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schema)
	}

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		typ, err := pgType(c.Type)
		if err != nil {
			return "", "", err
		}
		def := pgIdent(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		keys := make([]string, len(t.PrimaryKey))
		for i, k := range t.PrimaryKey {
			keys[i] = pgIdent(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", pgTableIdent(t.Name), strings.Join(defs, ",\n  "))
	return schemaSQL, tableSQL, nil
}
