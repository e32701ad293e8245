package commands

import (
	"context"
	"database/sql"
	"os"

	"go.uber.org/zap"

	"github.com/teranos/strata/am"
	"github.com/teranos/strata/catalog"
	"github.com/teranos/strata/db"
	"github.com/teranos/strata/definitions"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/job"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/pulse"
	"github.com/teranos/strata/transform"
	"github.com/teranos/strata/warehouse"
)

// loadConfig loads and validates the effective configuration.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// catalogOptions derives the built-in catalog's tuning from cfg. A missing
// manifest file falls back to the embedded one.
func catalogOptions(cfg *am.Config, log *zap.SugaredLogger) (catalog.Options, error) {
	opts := catalog.DefaultOptions()
	opts.Logger = log.Named("catalog")
	opts.BusinessHoursStart = cfg.Sensor.BusinessHoursStart
	opts.BusinessHoursEnd = cfg.Sensor.BusinessHoursEnd

	loc, err := cfg.SensorLocation()
	if err != nil {
		return opts, err
	}
	opts.Location = loc

	if path := cfg.Transform.Manifest; path != "" {
		if _, err := os.Stat(path); err == nil {
			m, err := transform.LoadManifest(path)
			if err != nil {
				return opts, err
			}
			opts.Manifest = m
		} else {
			log.Debugw("Transform manifest not found, using built-in models", logger.FieldPath, path)
		}
	}
	return opts, nil
}

// loadDefinitions merges the built-in catalog with every definitions file.
func loadDefinitions(cfg *am.Config, log *zap.SugaredLogger) (*definitions.Definitions, error) {
	opts, err := catalogOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	d, err := catalog.Definitions(opts)
	if err != nil {
		return nil, err
	}
	files, err := definitions.LoadPaths(cfg.Definitions.Paths)
	if err != nil {
		return nil, err
	}
	if err := d.Merge(files); err != nil {
		return nil, err
	}
	return d, nil
}

// buildRepository loads and validates every definition.
func buildRepository(cfg *am.Config, log *zap.SugaredLogger) (*definitions.Repository, error) {
	d, err := loadDefinitions(cfg, log)
	if err != nil {
		return nil, err
	}
	return buildFrom(cfg, d)
}

func buildFrom(cfg *am.Config, d *definitions.Definitions) (*definitions.Repository, error) {
	policy, err := cfg.DefaultFreshness()
	if err != nil {
		return nil, err
	}
	repo, err := definitions.Build(d, policy)
	if err != nil {
		return nil, errors.Wrap(err, "invalid definitions")
	}
	return repo, nil
}

// openLedger opens and migrates the run ledger.
func openLedger(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	conn, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open run ledger at %s", path)
	}
	return conn, nil
}

// restoreState loads the last materialization time of every asset from the
// ledger into repo's registry.
func restoreState(ctx context.Context, repo *definitions.Repository, store *pulse.Store) error {
	n, err := store.RestoreMaterializations(ctx, repo.Registry)
	if err != nil {
		return err
	}
	logger.Debugw("Restored materializations", logger.FieldCount, n)
	return nil
}

// newExecutor wires a job runner over the warehouse, the transform tool and
// the ledger.
func newExecutor(cfg *am.Config, repo *definitions.Repository, wh warehouse.Querier, store *pulse.Store, log *zap.SugaredLogger) (*job.Runner, error) {
	builder, err := transform.NewCommandBuilder(cfg.Transform.Command, cfg.Transform.ProjectDir, log.Named("transform"))
	if err != nil {
		return nil, err
	}
	return job.NewRunner(job.RunnerConfig{
		Graph:     repo.Graph,
		Compute:   repo.Compute,
		Checks:    repo.Checks,
		Builder:   builder,
		Warehouse: wh,
		Metadata:  store,
		Recorder:  store,
	}, log.Named("job")), nil
}

// session is everything a run-executing command holds open.
type session struct {
	cfg       *am.Config
	repo      *definitions.Repository
	db        *sql.DB
	store     *pulse.Store
	triggers  *pulse.TriggerStore
	queue     *pulse.Queue
	warehouse *warehouse.Warehouse
	executor  *job.Runner
}

// openSession loads everything needed to execute runs. withWarehouse=false
// skips the warehouse connection for commands that only enqueue.
func openSession(ctx context.Context, withWarehouse bool) (*session, error) {
	log := logger.Logger
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	repo, err := buildRepository(cfg, log)
	if err != nil {
		return nil, err
	}
	conn, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:      cfg,
		repo:     repo,
		db:       conn,
		store:    pulse.NewStore(conn),
		triggers: pulse.NewTriggerStore(conn),
	}
	if s.queue, err = pulse.NewQueue(s.store, cfg.DedupCacheSize(), nil, log.Named("queue")); err != nil {
		s.Close()
		return nil, err
	}
	if err := restoreState(ctx, repo, s.store); err != nil {
		s.Close()
		return nil, err
	}
	if !withWarehouse {
		return s, nil
	}

	if s.warehouse, err = warehouse.Open(ctx, cfg.WarehouseConfig(), log.Named("warehouse")); err != nil {
		s.Close()
		return nil, err
	}
	if s.executor, err = newExecutor(cfg, repo, s.warehouse, s.store, log); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the warehouse and the ledger.
func (s *session) Close() {
	if s.warehouse != nil {
		s.warehouse.Close()
	}
	s.db.Close()
}
