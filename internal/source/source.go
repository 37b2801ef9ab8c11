// Package source loads raw Northwind tables from the two origins the pipeline
// reconciles: a directory of spreadsheet exports and a relational database.
//
// A loader returns (nil, nil) when the table is absent from its origin.
// Absence is a normal outcome; only malformed inputs are errors.
package source

import (
	"context"
	"strings"

	"northwind/internal/table"
)

// Loader fetches one logical table from one origin.
type Loader interface {
	Load(ctx context.Context, name string) (*table.Table, error)
}

// Origin names where a raw table came from. It is used in logs and metrics.
type Origin string

const (
	OriginSpreadsheet Origin = "spreadsheet"
	OriginDatabase    Origin = "database"
)

// Absent is a Loader for an origin that is not configured.
type Absent struct{}

func (Absent) Load(context.Context, string) (*table.Table, error) { return nil, nil }

// cleanHeader removes every whitespace rune from a column name, so
// "Order ID" and "OrderID " both become "OrderID".
func cleanHeader(h string) string {
	return strings.Join(strings.Fields(h), "")
}

// fileStems lists the file names tried for a logical table: the name as is,
// then with spaces replaced by underscores ("Order Details" -> "Order_Details").
func fileStems(name string) []string {
	stems := []string{name}
	if u := strings.ReplaceAll(name, " ", "_"); u != name {
		stems = append(stems, u)
	}
	return stems
}
