package pulse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/strata/check"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/job"
	"github.com/teranos/strata/logger"
)

// JobExecutor runs one job for a claimed run.
type JobExecutor interface {
	Run(ctx context.Context, runID string, j job.Job) (*job.Report, error)
}

// WorkerPoolConfig contains worker pool settings
type WorkerPoolConfig struct {
	Workers      int           // Number of concurrent workers (default: 1)
	PollInterval time.Duration // How often an idle worker checks the queue (default: 1 second)
	StopTimeout  time.Duration // How long Stop waits for in-flight runs (default: 30 seconds)
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: time.Second,
		StopTimeout:  30 * time.Second,
	}
}

// WorkerPool claims queued runs from the ledger and executes them.
type WorkerPool struct {
	store    *Store
	jobs     *job.Set
	executor JobExecutor
	cfg      WorkerPoolConfig
	now      func() time.Time

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	pulseLog  *zap.SugaredLogger

	mu            sync.Mutex
	runsProcessed int
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(ctx context.Context, store *Store, jobs *job.Set, executor JobExecutor, cfg WorkerPoolConfig, now func() time.Time, log *zap.SugaredLogger) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WorkerPool{
		store:     store,
		jobs:      jobs,
		executor:  executor,
		cfg:       cfg,
		now:       now,
		parentCtx: ctx,
		logger:    log,
		pulseLog:  logger.PulseLogger(log),
	}
}

// Start requeues runs orphaned by a previous crash and launches the workers.
func (wp *WorkerPool) Start() {
	wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)

	if n, err := wp.store.RequeueOrphaned(wp.ctx); err != nil {
		wp.pulseLog.Warnw("Failed to recover orphaned runs", logger.FieldError, err)
	} else if n > 0 {
		wp.pulseLog.Infow("Recovered orphaned runs", logger.FieldCount, n)
	}

	wp.pulseLog.Infow("Starting worker pool", "workers", wp.cfg.Workers)
	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels the workers and waits for in-flight runs.
func (wp *WorkerPool) Stop() {
	if wp.cancel == nil {
		return
	}
	wp.pulseLog.Infow("Stopping worker pool")
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.pulseLog.Infow("Worker pool stopped")
	case <-time.After(wp.cfg.StopTimeout):
		wp.pulseLog.Warnw("Worker pool stop timed out", "timeout", wp.cfg.StopTimeout)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveErrors := 0
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			for {
				processed, err := wp.ProcessNext(wp.ctx)
				if err != nil {
					if wp.ctx.Err() != nil {
						return
					}
					consecutiveErrors++
					wp.pulseLog.Errorw("Worker failed to process run",
						"worker_id", id, "consecutive_errors", consecutiveErrors, logger.FieldError, err)
					if consecutiveErrors >= 3 {
						select {
						case <-wp.ctx.Done():
							return
						case <-time.After(backoffDuration):
						}
						backoffDuration = min(backoffDuration*2, maxBackoff)
					}
					break
				}
				consecutiveErrors = 0
				backoffDuration = time.Second
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessNext claims and executes one queued run. It reports false when the
// queue was empty.
func (wp *WorkerPool) ProcessNext(ctx context.Context) (bool, error) {
	run, err := wp.store.ClaimNext(ctx, wp.now())
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}

	return true, wp.process(ctx, run)
}

// ProcessRun claims and executes one specific queued run, for operator
// launched runs that should not wait behind the queue.
func (wp *WorkerPool) ProcessRun(ctx context.Context, id string) (*Run, error) {
	claimed, err := wp.store.ClaimRun(ctx, id, wp.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, errors.Newf("run %s is not queued", id)
	}
	run, err := wp.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := wp.process(ctx, run); err != nil {
		return nil, err
	}
	return wp.store.GetRun(context.WithoutCancel(ctx), id)
}

func (wp *WorkerPool) process(ctx context.Context, run *Run) error {
	log := logger.PulseLogger(wp.logger.With(logger.FieldRunID, run.ID, logger.FieldJob, run.Job))
	status, outcome, runErr := wp.execute(logger.WithComponent(ctx, "pulse.worker"), run)

	if err := wp.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, outcome, runErr, wp.now()); err != nil {
		return errors.Wrapf(err, "finish run %s", run.ID)
	}

	wp.mu.Lock()
	wp.runsProcessed++
	wp.mu.Unlock()

	if status == RunStatusFailed {
		log.Warnw("Run FAILED", logger.FieldRunKey, run.RunKey, logger.FieldStatus, outcome, logger.FieldError, runErr)
	} else {
		log.Infow("Run completed", logger.FieldRunKey, run.RunKey, logger.FieldStatus, outcome)
	}
	return nil
}

func (wp *WorkerPool) execute(ctx context.Context, run *Run) (status RunStatus, outcome string, runErr error) {
	defer func() {
		if p := recover(); p != nil {
			status, outcome = RunStatusFailed, string(job.OutcomeFailure)
			runErr = errors.Newf("run panicked: %v", p)
		}
	}()

	wp.mu.Lock()
	jobs, executor := wp.jobs, wp.executor
	wp.mu.Unlock()

	j, err := jobs.Get(run.Job)
	if err != nil {
		return RunStatusFailed, string(job.OutcomeFailure), err
	}
	report, err := executor.Run(ctx, run.ID, j)
	if err != nil {
		return RunStatusFailed, string(job.OutcomeFailure), err
	}
	if report.Outcome == job.OutcomeFailure {
		return RunStatusFailed, string(report.Outcome), failureSummary(report)
	}
	return RunStatusCompleted, string(report.Outcome), nil
}

// SetJobs swaps the job definitions and executor used for runs claimed from
// now on. In-flight runs finish with what they started with.
func (wp *WorkerPool) SetJobs(jobs *job.Set, executor JobExecutor) {
	wp.mu.Lock()
	wp.jobs, wp.executor = jobs, executor
	wp.mu.Unlock()
}

// failureSummary describes failed assets and error checks in one line.
func failureSummary(r *job.Report) error {
	var parts []string
	for _, f := range r.Failed {
		if f.Skipped {
			parts = append(parts, fmt.Sprintf("%s skipped", f.AssetKey))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", f.AssetKey, f.Err))
	}
	for _, c := range r.Checks {
		if !c.Passed && c.Severity == check.SeverityError {
			parts = append(parts, fmt.Sprintf("check %s failed", c.CheckKey))
		}
	}
	if len(parts) == 0 {
		return errors.New("run failed")
	}
	return errors.New(strings.Join(parts, "; "))
}

// RunsProcessed returns how many runs this pool has finished.
func (wp *WorkerPool) RunsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.runsProcessed
}
