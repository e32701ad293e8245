package am

import "github.com/teranos/strata/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to strata.db

	if _, err := c.DefaultFreshness(); err != nil {
		return err
	}

	// Pulse workers: 0 = ticker only, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.TickerIntervalSeconds <= 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be > 0, got %d", c.Pulse.TickerIntervalSeconds)
	}
	if c.Pulse.DedupCacheSize < 0 {
		return errors.Newf("pulse.dedup_cache_size must be >= 0, got %d", c.Pulse.DedupCacheSize)
	}

	if err := c.WarehouseConfig().Validate(); err != nil {
		return errors.Wrap(err, "warehouse")
	}
	if c.Warehouse.MaxQueriesPerSecond < 0 {
		return errors.Newf("warehouse.max_queries_per_second must be >= 0, got %f", c.Warehouse.MaxQueriesPerSecond)
	}

	start, end := c.Sensor.BusinessHoursStart, c.Sensor.BusinessHoursEnd
	if start < 0 || end > 23 || start > end {
		return errors.WithHint(
			errors.Newf("sensor business hours %d..%d out of range", start, end),
			"both bounds are inclusive hours in 0..23 with start <= end",
		)
	}
	if _, err := c.SensorLocation(); err != nil {
		return err
	}

	if c.Transform.Command == "" {
		return errors.New("transform.command cannot be empty")
	}

	return nil
}
