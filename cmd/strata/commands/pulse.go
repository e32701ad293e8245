package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/strata/am"
	"github.com/teranos/strata/catalog"
	"github.com/teranos/strata/definitions"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/pulse"
	"github.com/teranos/strata/sym"
)

// PulseCmd represents the pulse command - the trigger ticker and run workers
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the Pulse daemon (trigger ticker + run workers)",
	Long: sym.Pulse + ` Pulse daemon - evaluates triggers and executes queued runs.

The Pulse daemon provides:
- A ticker evaluating every RUNNING schedule and sensor
- A worker pool executing queued runs against the warehouse
- Hot reload of definitions files and am.toml

Example:
  strata pulse start              # Start daemon in foreground
  strata pulse start --workers 3  # Start with 3 concurrent workers
  strata pulse start --watch      # Reload definitions when files change`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

Runs left 'running' by a crash are requeued on startup. The daemon runs until
interrupted (Ctrl+C); in-flight runs are given time to finish.`,
	RunE: runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Int("workers", 0, "Number of concurrent workers (default: pulse.workers from config)")
	PulseStartCmd.Flags().Bool("watch", false, "Reload definitions and config on change (default: definitions.watch)")
	PulseCmd.AddCommand(PulseStartCmd)
}

// reloader rebuilds the repository after a definitions or config change and
// swaps it into the running ticker and worker pool. A rejected reload keeps
// the previous definitions in force.
type reloader struct {
	mu     sync.Mutex
	ctx    context.Context
	s      *session
	ticker *pulse.Ticker
	pool   *pulse.WorkerPool
	log    *zap.SugaredLogger
}

// fromFiles handles a definitions watcher reload.
func (r *reloader) fromFiles(files *definitions.Definitions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	opts, err := catalogOptions(r.s.cfg, r.log)
	if err != nil {
		return err
	}
	d, err := catalog.Definitions(opts)
	if err != nil {
		return err
	}
	if err := d.Merge(files); err != nil {
		return err
	}
	repo, err := buildFrom(r.s.cfg, d)
	if err != nil {
		return err
	}
	return r.apply(r.s.cfg, repo)
}

// fromConfig handles an am.toml reload. The ledger and warehouse
// connections are kept; changing them needs a restart.
func (r *reloader) fromConfig(cfg *am.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := buildRepository(cfg, r.log)
	if err != nil {
		return err
	}
	if err := r.apply(cfg, repo); err != nil {
		return err
	}
	r.log.Infow("Config applied; database and warehouse settings take effect on restart")
	return nil
}

func (r *reloader) apply(cfg *am.Config, repo *definitions.Repository) error {
	if err := restoreState(r.ctx, repo, r.s.store); err != nil {
		return err
	}
	executor, err := newExecutor(cfg, repo, r.s.warehouse, r.s.store, r.log)
	if err != nil {
		return err
	}
	r.ticker.SetTriggers(repo.Triggers)
	r.pool.SetJobs(repo.Jobs, executor)
	r.s.cfg, r.s.repo, r.s.executor = cfg, repo, executor

	r.log.Infow("Definitions swapped in",
		"assets", repo.Registry.Len(),
		"jobs", len(repo.Jobs.Names()),
		"triggers", len(repo.Triggers.All()))
	return nil
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = s.cfg.Pulse.Workers
	}
	watch := s.cfg.Definitions.Watch
	if cmd.Flags().Changed("watch") {
		watch, _ = cmd.Flags().GetBool("watch")
	}

	fmt.Printf("%s Starting Pulse daemon with %d worker(s)...\n", sym.PulseOpen, workers)

	log := logger.ComponentLogger("pulse")
	poolCfg := pulse.DefaultWorkerPoolConfig()
	poolCfg.Workers = workers
	pool := pulse.NewWorkerPool(ctx, s.store, s.repo.Jobs, s.executor, poolCfg, nil, log)
	if workers > 0 {
		pool.Start()
	}

	tickerCfg := pulse.TickerConfig{Interval: s.cfg.TickerInterval()}
	ticker := pulse.NewTicker(ctx, s.repo.Triggers, s.triggers, s.queue, tickerCfg, nil, log)
	ticker.Start()

	if watch {
		r := &reloader{ctx: ctx, s: s, ticker: ticker, pool: pool, log: logger.ComponentLogger("reload")}
		stopWatchers, err := startWatchers(s.cfg, r)
		if err != nil {
			ticker.Stop()
			pool.Stop()
			return err
		}
		defer stopWatchers()
	}

	fmt.Printf("%s Pulse daemon started\n", sym.Pulse)
	fmt.Printf("  Workers: %d\n", workers)
	fmt.Printf("  Poll interval: %v\n", poolCfg.PollInterval)
	fmt.Printf("  Ticker interval: %v\n", tickerCfg.Interval)
	fmt.Printf("  Triggers: %d\n", len(s.repo.Triggers.All()))
	fmt.Printf("  Watching: %v\n", watch)
	fmt.Printf("  Log level: %s\n", logger.LevelName(verbosity(cmd)))
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Shutting down...\n", sym.Pulse)

	// reverse order of startup; each component manages its own context
	ticker.Stop()
	pool.Stop()
	cancel()

	stats := ticker.GetStats()
	fmt.Printf("%s Pulse daemon stopped (%v ticks, %d runs)\n", sym.PulseClose, stats["ticks_since_start"], pool.RunsProcessed())
	return nil
}

// startWatchers watches definitions paths and the project am.toml.
func startWatchers(cfg *am.Config, r *reloader) (func(), error) {
	var stops []func()
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}

	if len(cfg.Definitions.Paths) > 0 {
		dw, err := definitions.NewWatcher(cfg.Definitions.Paths, r.fromFiles, r.log)
		if err != nil {
			return nil, err
		}
		dw.Start()
		stops = append(stops, func() { dw.Stop() })
	}

	if path := am.ProjectConfigPath(); path != "" {
		cw, err := am.NewConfigWatcher(path)
		if err != nil {
			stopAll()
			return nil, err
		}
		cw.OnReload(r.fromConfig)
		am.SetGlobalWatcher(cw)
		cw.Start()
		stops = append(stops, func() {
			am.SetGlobalWatcher(nil)
			cw.Stop()
		})
	}
	return stopAll, nil
}

func verbosity(cmd *cobra.Command) int {
	v, _ := cmd.Flags().GetCount("verbose")
	return v
}
