// Package config loads the run configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML file,
// NORTHWIND_* environment variables, then flags the user actually set.
// Environment keys use "__" for nesting, e.g.
// NORTHWIND_SOURCES__DATABASE__DSN sets sources.database.dsn.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"northwind/internal/logging"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "NORTHWIND_"

type Config struct {
	Job       string          `koanf:"job"`
	Sources   Sources         `koanf:"sources"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	Star      StarConfig      `koanf:"star"`
	Output    OutputConfig    `koanf:"output"`
	Warehouse WarehouseConfig `koanf:"warehouse"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       logging.Config  `koanf:"log"`
}

type Sources struct {
	Spreadsheet SpreadsheetConfig `koanf:"spreadsheet"`
	Database    DatabaseConfig    `koanf:"database"`
}

type SpreadsheetConfig struct {
	Dir         string `koanf:"dir"`
	CSVEncoding string `koanf:"csv_encoding"`
}

// DatabaseConfig configures the relational origin. An empty DSN disables it.
type DatabaseConfig struct {
	Driver         string        `koanf:"driver"`
	DSN            string        `koanf:"dsn"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	QueryTimeout   time.Duration `koanf:"query_timeout"`
}

type ReconcileConfig struct {
	OrderOffset int64 `koanf:"order_offset"`
}

type StarConfig struct {
	FallbackDate    string `koanf:"fallback_date"`
	UnknownCategory string `koanf:"unknown_category"`
}

type OutputConfig struct {
	Dir string `koanf:"dir"`
}

// WarehouseConfig configures the optional database mirror. An empty Kind
// disables it. Schema, when set, qualifies every table name.
type WarehouseConfig struct {
	Kind   string `koanf:"kind"`
	DSN    string `koanf:"dsn"`
	Schema string `koanf:"schema"`
}

type MetricsConfig struct {
	Backend    string        `koanf:"backend"`
	Tags       string        `koanf:"tags"`
	FlushEvery time.Duration `koanf:"flush_every"`
}

// Defaults returns the built-in configuration as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"job":                              "northwind",
		"sources.spreadsheet.dir":          "data/excel",
		"sources.spreadsheet.csv_encoding": "",
		"sources.database.driver":          "sqlserver",
		"sources.database.dsn":             "",
		"sources.database.connect_timeout": "5s",
		"sources.database.query_timeout":   "60s",
		"reconcile.order_offset":           200000,
		"star.fallback_date":               "1996-01-01",
		"star.unknown_category":            "Unknown",
		"output.dir":                       "data/processed",
		"warehouse.kind":                   "",
		"warehouse.dsn":                    "",
		"warehouse.schema":                 "",
		"metrics.backend":                  "none",
		"metrics.tags":                     "",
		"metrics.flush_every":              "60s",
		"log.level":                        "info",
		"log.format":                       "console",
	}
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"job":              "job",
	"spreadsheet-dir":  "sources.spreadsheet.dir",
	"csv-encoding":     "sources.spreadsheet.csv_encoding",
	"db-driver":        "sources.database.driver",
	"db-dsn":           "sources.database.dsn",
	"order-offset":     "reconcile.order_offset",
	"output-dir":       "output.dir",
	"warehouse-kind":   "warehouse.kind",
	"warehouse-dsn":    "warehouse.dsn",
	"warehouse-schema": "warehouse.schema",
	"metrics-backend":  "metrics.backend",
	"metrics-tags":     "metrics.tags",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// RegisterFlags adds the overridable settings to fs. Flag defaults are
// informational only; unset flags never override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	str := func(name, usage string) {
		fs.String(name, fmt.Sprint(d[flagKeys[name]]), usage)
	}
	str("job", "job name used in logs and metric tags")
	str("spreadsheet-dir", "directory holding <Table>.xlsx / <Table>.csv exports")
	str("csv-encoding", "legacy encoding of CSV exports (e.g. windows-1252)")
	str("db-driver", "database source driver (sqlserver, mysql, sqlite)")
	str("db-dsn", "database source DSN; empty disables the database origin")
	fs.Int64("order-offset", 200000, "offset added to spreadsheet order ids")
	str("output-dir", "directory receiving the star-schema CSV files")
	str("warehouse-kind", "optional warehouse mirror (sqlite, postgres, mssql)")
	str("warehouse-dsn", "warehouse DSN")
	str("warehouse-schema", "schema qualifying warehouse table names")
	str("metrics-backend", "metrics backend (none, datadog)")
	str("metrics-tags", "extra metric tags, comma separated")
	str("log-level", "log level (trace, debug, info, warn, error)")
	str("log-format", "log format (console, json)")
}

// Load reads configuration from defaults, path (optional), the environment
// and the changed flags in fs (may be nil).
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// envKey maps NORTHWIND_SOURCES__DATABASE__DSN to sources.database.dsn.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// FallbackDate parses Star.FallbackDate.
func (c *Config) FallbackDate() (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(c.Star.FallbackDate))
}
