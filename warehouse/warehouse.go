// Package warehouse is the query collaborator used by computed assets and
// checks. It only issues read/aggregate statements and hands back raw rows;
// callers interpret the first row and column.
package warehouse

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/strata/errors"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config carries warehouse credentials. It is passed explicitly to Open; the
// package never reads the environment itself.
type Config struct {
	Driver   string
	DSN      string
	Account  string
	User     string
	Password string
	Database string
	Schema   string
	Role     string

	QueryTimeout        time.Duration
	MaxQueriesPerSecond float64
}

// Validate checks the driver and that a connection target is present.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.WithHint(
			errors.Newf("unknown warehouse driver %q", c.Driver),
			"use sqlite3 or pgx",
		)
	}
	if c.DSN == "" && c.Account == "" {
		return errors.New("warehouse dsn or account is required")
	}
	if c.QueryTimeout < 0 {
		return errors.New("warehouse query timeout must be >= 0")
	}
	return nil
}

// DataSourceName returns DSN if set, otherwise assembles one from the
// individual credential fields.
func (c Config) DataSourceName() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Driver == DriverSQLite {
		return c.Account
	}

	u := url.URL{Scheme: "postgres", Host: c.Account, Path: "/" + c.Database}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	if c.Schema != "" {
		q.Set("search_path", c.Schema)
	}
	if c.Role != "" {
		q.Set("application_name", c.Role)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns the connection target with the password masked, for logs.
func (c Config) Redacted() string {
	dsn := c.DataSourceName()
	if c.Password != "" {
		dsn = strings.ReplaceAll(dsn, url.QueryEscape(c.Password), "xxxxx")
		dsn = strings.ReplaceAll(dsn, c.Password, "xxxxx")
	}
	return dsn
}

// Row is one result row, with driver byte slices converted to strings.
type Row []any

// Querier executes a read query and returns its rows.
type Querier interface {
	Query(ctx context.Context, query string) ([]Row, error)
}

// Warehouse is a rate-limited Querier over database/sql.
type Warehouse struct {
	db      *sql.DB
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// Open connects to the configured warehouse and pings it.
func Open(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Warehouse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DataSourceName())
	if err != nil {
		return nil, errors.Wrapf(err, "open warehouse %s", cfg.Driver)
	}

	pingCtx := ctx
	if cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.QueryTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping warehouse %s", cfg.Redacted())
	}

	if log != nil {
		log.Infow("Warehouse connected", "driver", cfg.Driver, "target", cfg.Redacted())
	}
	return New(db, cfg, log), nil
}

// New wraps an existing handle. A zero MaxQueriesPerSecond disables limiting.
func New(db *sql.DB, cfg Config, log *zap.SugaredLogger) *Warehouse {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	limit := rate.Inf
	if cfg.MaxQueriesPerSecond > 0 {
		limit = rate.Limit(cfg.MaxQueriesPerSecond)
	}
	return &Warehouse{
		db:      db,
		limiter: rate.NewLimiter(limit, 1),
		timeout: cfg.QueryTimeout,
		logger:  log,
	}
}

// Query runs query and materializes every row.
func (w *Warehouse) Query(ctx context.Context, query string) ([]Row, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "warehouse rate limit")
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "warehouse query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "warehouse columns")
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "warehouse scan")
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, Row(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "warehouse rows")
	}

	w.logger.Debugw("Warehouse query",
		"rows", len(out),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Close releases the underlying handle.
func (w *Warehouse) Close() error { return w.db.Close() }

// DB exposes the handle for callers that seed local warehouses.
func (w *Warehouse) DB() *sql.DB { return w.db }
