// Package am loads strata configuration ("am" = how the deployment is).
//
// Values merge in precedence order: built-in defaults, /etc/strata/am.toml,
// ~/.strata/am.toml, the nearest project am.toml, then STRATA_* environment
// variables. A .env file in the working directory is loaded first so
// warehouse credentials can live outside am.toml.
package am

// Config represents the strata configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database" toml:"database" yaml:"database"`
	Warehouse   WarehouseConfig   `mapstructure:"warehouse" toml:"warehouse" yaml:"warehouse"`
	Freshness   FreshnessConfig   `mapstructure:"freshness" toml:"freshness" yaml:"freshness"`
	Pulse       PulseConfig       `mapstructure:"pulse" toml:"pulse" yaml:"pulse"`
	Definitions DefinitionsConfig `mapstructure:"definitions" toml:"definitions" yaml:"definitions"`
	Transform   TransformConfig   `mapstructure:"transform" toml:"transform" yaml:"transform"`
	Sensor      SensorConfig      `mapstructure:"sensor" toml:"sensor" yaml:"sensor"`
}

// DatabaseConfig configures the SQLite run ledger
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
}

// WarehouseConfig configures the analytics warehouse queried by computed assets and checks
type WarehouseConfig struct {
	Driver              string  `mapstructure:"driver" toml:"driver" yaml:"driver"` // sqlite3 or pgx
	DSN                 string  `mapstructure:"dsn" toml:"dsn" yaml:"dsn"`          // Full connection string; overrides the fields below
	Account             string  `mapstructure:"account" toml:"account" yaml:"account"`
	User                string  `mapstructure:"user" toml:"user" yaml:"user"`
	Password            string  `mapstructure:"password" toml:"password" yaml:"password"`
	Database            string  `mapstructure:"database" toml:"database" yaml:"database"`
	Schema              string  `mapstructure:"schema" toml:"schema" yaml:"schema"`
	Role                string  `mapstructure:"role" toml:"role" yaml:"role"`
	QueryTimeoutSeconds int     `mapstructure:"query_timeout_seconds" toml:"query_timeout_seconds" yaml:"query_timeout_seconds"`
	MaxQueriesPerSecond float64 `mapstructure:"max_queries_per_second" toml:"max_queries_per_second" yaml:"max_queries_per_second"` // 0 = unlimited
}

// FreshnessConfig is the default policy applied to assets without their own
type FreshnessConfig struct {
	WarnWindow string `mapstructure:"warn_window" toml:"warn_window" yaml:"warn_window"` // Go duration, e.g. "24h"
	FailWindow string `mapstructure:"fail_window" toml:"fail_window" yaml:"fail_window"`
}

// PulseConfig configures trigger evaluation and run execution
type PulseConfig struct {
	Workers               int `mapstructure:"workers" toml:"workers" yaml:"workers"`                                     // Concurrent run workers (0 = ticker only)
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds" toml:"ticker_interval_seconds" yaml:"ticker_interval_seconds"` // How often RUNNING triggers are evaluated
	DedupCacheSize        int `mapstructure:"dedup_cache_size" toml:"dedup_cache_size" yaml:"dedup_cache_size"`          // Run keys remembered in memory
}

// DefinitionsConfig locates declarative definition files
type DefinitionsConfig struct {
	Paths []string `mapstructure:"paths" toml:"paths" yaml:"paths"` // Files or directories searched for *.strata.toml
	Watch bool     `mapstructure:"watch" toml:"watch" yaml:"watch"` // Reload when a definitions file changes
}

// TransformConfig configures the external build tool
type TransformConfig struct {
	Manifest   string `mapstructure:"manifest" toml:"manifest" yaml:"manifest"`          // YAML manifest describing models
	Command    string `mapstructure:"command" toml:"command" yaml:"command"`             // {select} is replaced by the model list
	ProjectDir string `mapstructure:"project_dir" toml:"project_dir" yaml:"project_dir"` // Working directory for Command
}

// SensorConfig configures the business-hours sensor
type SensorConfig struct {
	BusinessHoursStart int    `mapstructure:"business_hours_start" toml:"business_hours_start" yaml:"business_hours_start"` // Inclusive, 0..23
	BusinessHoursEnd   int    `mapstructure:"business_hours_end" toml:"business_hours_end" yaml:"business_hours_end"`       // Inclusive, 0..23
	Timezone           string `mapstructure:"timezone" toml:"timezone" yaml:"timezone"`                                     // IANA name
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
