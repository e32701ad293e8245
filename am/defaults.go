package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/freshness"
	"github.com/teranos/strata/warehouse"
)

// Default values shared between SetDefaults and the zero-value getters.
const (
	DefaultDatabasePath          = "strata.db"
	DefaultTickerIntervalSeconds = 30
	DefaultDedupCacheSize        = 4096
	DefaultWarnWindow            = "24h"
	DefaultFailWindow            = "48h"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Ledger
	v.SetDefault("database.path", DefaultDatabasePath)

	// Warehouse: a local SQLite file until credentials are configured
	v.SetDefault("warehouse.driver", warehouse.DriverSQLite)
	v.SetDefault("warehouse.dsn", "warehouse.db")
	v.SetDefault("warehouse.query_timeout_seconds", 60)
	v.SetDefault("warehouse.max_queries_per_second", 0.0)

	// Default freshness for assets that declare none
	v.SetDefault("freshness.warn_window", DefaultWarnWindow)
	v.SetDefault("freshness.fail_window", DefaultFailWindow)

	// Pulse
	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.ticker_interval_seconds", DefaultTickerIntervalSeconds)
	v.SetDefault("pulse.dedup_cache_size", DefaultDedupCacheSize)

	// Definitions
	v.SetDefault("definitions.paths", []string{"definitions"})
	v.SetDefault("definitions.watch", false)

	// Transform
	v.SetDefault("transform.manifest", "transform/manifest.yml")
	v.SetDefault("transform.command", "dbt build --select {select}")
	v.SetDefault("transform.project_dir", "transform")

	// Business-hours sensor
	v.SetDefault("sensor.business_hours_start", 9)
	v.SetDefault("sensor.business_hours_end", 18)
	v.SetDefault("sensor.timezone", "UTC")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("warehouse.password", "STRATA_WAREHOUSE_PASSWORD")
	v.BindEnv("warehouse.user", "STRATA_WAREHOUSE_USER")
	v.BindEnv("warehouse.account", "STRATA_WAREHOUSE_ACCOUNT")
	v.BindEnv("warehouse.dsn", "STRATA_WAREHOUSE_DSN")

	// Database path
	v.BindEnv("database.path", "STRATA_DATABASE_PATH")
}

// GetDatabasePath returns the configured ledger path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// TickerInterval returns the ticker interval (default: 30s)
func (c *Config) TickerInterval() time.Duration {
	if c.Pulse.TickerIntervalSeconds <= 0 {
		return DefaultTickerIntervalSeconds * time.Second
	}
	return time.Duration(c.Pulse.TickerIntervalSeconds) * time.Second
}

// DedupCacheSize returns the run-key cache size
func (c *Config) DedupCacheSize() int {
	if c.Pulse.DedupCacheSize <= 0 {
		return DefaultDedupCacheSize
	}
	return c.Pulse.DedupCacheSize
}

// DefaultFreshness parses the default freshness windows
func (c *Config) DefaultFreshness() (freshness.Policy, error) {
	warn, fail := c.Freshness.WarnWindow, c.Freshness.FailWindow
	if warn == "" {
		warn = DefaultWarnWindow
	}
	if fail == "" {
		fail = DefaultFailWindow
	}
	p, err := freshness.ParsePolicy(warn, fail)
	if err != nil {
		return freshness.Policy{}, errors.Wrap(err, "freshness")
	}
	return p, nil
}

// SensorLocation resolves sensor.timezone (default: UTC)
func (c *Config) SensorLocation() (*time.Location, error) {
	if c.Sensor.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Sensor.Timezone)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "sensor.timezone %q", c.Sensor.Timezone),
			"use an IANA name such as UTC or Europe/Amsterdam",
		)
	}
	return loc, nil
}

// WarehouseConfig returns the warehouse credentials as the value the
// warehouse package is opened with.
func (c *Config) WarehouseConfig() warehouse.Config {
	w := c.Warehouse
	return warehouse.Config{
		Driver:              w.Driver,
		DSN:                 w.DSN,
		Account:             w.Account,
		User:                w.User,
		Password:            w.Password,
		Database:            w.Database,
		Schema:              w.Schema,
		Role:                w.Role,
		QueryTimeout:        time.Duration(w.QueryTimeoutSeconds) * time.Second,
		MaxQueriesPerSecond: w.MaxQueriesPerSecond,
	}
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Warehouse: %s, Pulse: {Workers: %d, Interval: %s}}",
		c.GetDatabasePath(), c.WarehouseConfig().Redacted(), c.Pulse.Workers, c.TickerInterval())
}
