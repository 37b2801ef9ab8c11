package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"northwind/internal/logging"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the dotted configuration key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	databaseDrivers = []string{"sqlserver", "mysql", "sqlite"}
	warehouseKinds  = []string{"sqlite", "postgres", "mssql"}
	metricsBackends = []string{"none", "datadog"}
)

// Validate checks c and returns every issue found, errors and warnings
// mixed, in key order.
func (c *Config) Validate() []Issue {
	var out []Issue
	errorf := func(path, format string, args ...any) {
		out = append(out, Issue{SeverityError, path, fmt.Sprintf(format, args...)})
	}
	warnf := func(path, format string, args ...any) {
		out = append(out, Issue{SeverityWarning, path, fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.Sources.Spreadsheet.Dir) == "" {
		errorf("sources.spreadsheet.dir", "must not be empty")
	}
	if enc := strings.TrimSpace(c.Sources.Spreadsheet.CSVEncoding); enc != "" {
		if _, err := htmlindex.Get(enc); err != nil {
			errorf("sources.spreadsheet.csv_encoding", "unknown encoding %q", enc)
		}
	}

	db := c.Sources.Database
	if strings.TrimSpace(db.DSN) == "" {
		warnf("sources.database.dsn", "empty; the database origin is disabled")
	} else if !oneOf(db.Driver, databaseDrivers) {
		errorf("sources.database.driver", "unsupported driver %q (want one of %s)", db.Driver, strings.Join(databaseDrivers, ", "))
	}
	if db.ConnectTimeout <= 0 {
		errorf("sources.database.connect_timeout", "must be positive")
	}
	if db.QueryTimeout <= 0 {
		errorf("sources.database.query_timeout", "must be positive")
	}

	if c.Reconcile.OrderOffset <= 0 {
		errorf("reconcile.order_offset", "must be positive so spreadsheet and database order keys stay apart")
	}

	if _, err := c.FallbackDate(); err != nil {
		errorf("star.fallback_date", "want YYYY-MM-DD, got %q", c.Star.FallbackDate)
	}
	if strings.TrimSpace(c.Star.UnknownCategory) == "" {
		warnf("star.unknown_category", "empty; products without a category get an empty name")
	}

	if strings.TrimSpace(c.Output.Dir) == "" {
		errorf("output.dir", "must not be empty")
	}

	if kind := c.Warehouse.Kind; kind != "" {
		if !oneOf(kind, warehouseKinds) {
			errorf("warehouse.kind", "unsupported kind %q (want one of %s)", kind, strings.Join(warehouseKinds, ", "))
		}
		if strings.TrimSpace(c.Warehouse.DSN) == "" {
			errorf("warehouse.dsn", "required when warehouse.kind is set")
		}
	}

	switch b := c.Metrics.Backend; {
	case b == "" || b == "none":
	case !oneOf(b, metricsBackends):
		errorf("metrics.backend", "unsupported backend %q (want one of %s)", b, strings.Join(metricsBackends, ", "))
	case c.Metrics.FlushEvery <= 0:
		errorf("metrics.flush_every", "must be positive")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errorf("log.level", "unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		errorf("log.format", "unknown format %q", c.Log.Format)
	}

	return out
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
