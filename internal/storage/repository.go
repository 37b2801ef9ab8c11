// Package storage mirrors published snapshot tables into a relational
// warehouse. Backends live in subpackages and register themselves by kind
// from init().
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
//
// Edge cases:
//   - Kind must match a registered backend ("sqlite", "postgres", "mssql").
//   - DSN is passed through to the backend; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// SnapshotRepository replaces whole tables with a new snapshot.
//
// Each backend implements the semantics in its own idiom (Postgres COPY,
// SQL Server parameter-limited batches, SQLite multi-row inserts).
type SnapshotRepository interface {
	// Close releases backend resources. Treat it as "call once".
	Close()

	// EnsureTables creates missing tables. It is idempotent and never alters
	// an existing table.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// ReplaceRows deletes every row of spec's table and inserts rows, in one
	// transaction. rows are positional in spec.Columns order.
	ReplaceRows(ctx context.Context, spec TableSpec, rows [][]any) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (SnapshotRepository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New constructs a repository using the registered backend for cfg.Kind.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the backend factory returns.
func New(ctx context.Context, cfg Config) (SnapshotRepository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
