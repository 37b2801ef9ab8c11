package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Each backend maps them to a native type.
const (
	TypeInt   = "int"
	TypeText  = "text"
	TypeFloat = "float"
	TypeBool  = "bool"
	TypeDate  = "date"
)

// TableSpec describes one warehouse table.
type TableSpec struct {
	// Name may be schema-qualified ("warehouse.dim_time") on backends that
	// support schemas.
	Name    string
	Columns []ColumnSpec

	// PrimaryKey lists key columns. Empty means no key constraint.
	PrimaryKey []string
}

// ColumnSpec is one column of a TableSpec.
type ColumnSpec struct {
	Name     string
	Type     string
	Nullable bool
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// IsKey reports whether col is part of the primary key.
func (t TableSpec) IsKey(col string) bool {
	for _, k := range t.PrimaryKey {
		if k == col {
			return true
		}
	}
	return false
}

// Validate checks names, types and key references.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("storage: table %s has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		n := strings.ToLower(strings.TrimSpace(c.Name))
		if n == "" {
			return fmt.Errorf("storage: table %s: empty column name", t.Name)
		}
		if seen[n] {
			return fmt.Errorf("storage: table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[n] = true
		switch c.Type {
		case TypeInt, TypeText, TypeFloat, TypeBool, TypeDate:
		default:
			return fmt.Errorf("storage: table %s: column %s: unknown type %q", t.Name, c.Name, c.Type)
		}
	}
	for _, k := range t.PrimaryKey {
		if !seen[strings.ToLower(k)] {
			return fmt.Errorf("storage: table %s: primary key column %s not declared", t.Name, k)
		}
	}
	return nil
}
