package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/transform"
	"github.com/teranos/strata/warehouse"
)

// ComputeFunc materializes an in-process asset and returns its metadata.
type ComputeFunc func(ctx context.Context, q warehouse.Querier) (asset.Metadata, error)

// Recorder persists what a run produced.
type Recorder interface {
	RecordMaterialization(ctx context.Context, runID string, m Materialization) error
	RecordCheckResult(ctx context.Context, runID string, r check.Result) error
}

// RunnerConfig wires the collaborators a run needs.
type RunnerConfig struct {
	Graph     *asset.Graph
	Compute   map[string]ComputeFunc
	Checks    *check.Set
	Builder   transform.Builder
	Warehouse warehouse.Querier
	Metadata  check.MetadataSource
	Recorder  Recorder
	Now       func() time.Time
}

// Runner executes job plans: delegated assets through the transform builder,
// computed assets in-process, then checks.
type Runner struct {
	cfg    RunnerConfig
	checks *check.Runner
	logger *zap.SugaredLogger
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig, log *zap.SugaredLogger) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Checks == nil {
		cfg.Checks = check.NewSet()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	env := check.Env{Warehouse: cfg.Warehouse, Metadata: cfg.Metadata, Now: cfg.Now}
	return &Runner{
		cfg:    cfg,
		checks: check.NewRunner(env, log.Named("check")),
		logger: log,
	}
}

// Run executes j. Asset and check failures are reported, not returned; the
// error is reserved for a plan that cannot be resolved.
func (r *Runner) Run(ctx context.Context, runID string, j Job) (*Report, error) {
	plan, err := j.Resolve(r.cfg.Graph)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx, r.logger).With(logger.FieldJob, j.Name)
	report := &Report{RunID: runID, Job: j.Name, StartedAt: r.cfg.Now()}
	log.Infow("Run started", "assets", len(plan.Assets), "checks", len(plan.Checks))

	failed := make(map[string]bool)
	built := make(map[string]bool)

	// Consecutive delegated assets go to the builder in one invocation.
	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.buildDelegated(ctx, log, runID, batch, report, failed, built)
		batch = nil
	}

	for _, key := range plan.Assets {
		node, _ := r.cfg.Graph.Registry().Node(key)
		if !node.Delegated() {
			flush()
		}

		if up := r.failedUpstream(key, failed); up != "" {
			failed[key] = true
			report.Failed = append(report.Failed, AssetFailure{
				AssetKey: key,
				Skipped:  true,
				Err:      errors.Newf("upstream asset %s failed", up),
			})
			log.Warnw("Asset skipped", logger.FieldAsset, key, "upstream", up)
			continue
		}

		if node.Delegated() {
			batch = append(batch, key)
			continue
		}
		r.compute(ctx, log, runID, node, report, failed, built)
	}
	flush()

	for _, spec := range r.checksFor(plan, built) {
		var res check.Result
		if failed[spec.Asset] {
			res = r.targetFailed(spec)
			log.Warnw("Check not evaluated", logger.FieldCheck, spec.Key, logger.FieldAsset, spec.Asset)
		} else {
			res = r.checks.Run(ctx, spec)
		}
		report.Checks = append(report.Checks, res)
		if r.cfg.Recorder != nil {
			if err := r.cfg.Recorder.RecordCheckResult(ctx, runID, res); err != nil {
				log.Warnw("Failed to record check result", logger.FieldCheck, res.CheckKey, logger.FieldError, err)
			}
		}
	}

	report.CompletedAt = r.cfg.Now()
	report.Finalize()
	log.Infow("Run finished",
		logger.FieldStatus, report.Outcome,
		logger.FieldSeverity, report.WorstSeverity.String(),
		"materialized", len(report.Materialized),
		"failed", len(report.Failed),
		logger.FieldDurationMS, report.Duration().Milliseconds())
	return report, nil
}

// failedUpstream returns a failed direct upstream of key, if any. Skips
// propagate because skipped assets are marked failed too.
func (r *Runner) failedUpstream(key string, failed map[string]bool) string {
	for _, up := range r.cfg.Graph.Upstream(key) {
		if failed[up] {
			return up
		}
	}
	return ""
}

func (r *Runner) buildDelegated(ctx context.Context, log *zap.SugaredLogger, runID string, keys []string, report *Report, failed, built map[string]bool) {
	if r.cfg.Builder == nil {
		err := errors.New("no transform builder configured")
		for _, k := range keys {
			failed[k] = true
			report.Failed = append(report.Failed, AssetFailure{AssetKey: k, Err: err})
		}
		log.Errorw("Delegated assets cannot be built", "assets", keys, logger.FieldError, err)
		return
	}

	res, err := r.cfg.Builder.Build(ctx, keys)
	if err != nil {
		for _, k := range keys {
			failed[k] = true
			report.Failed = append(report.Failed, AssetFailure{AssetKey: k, Err: err})
		}
		log.Errorw("Transform build failed", "assets", keys, logger.FieldError, err)
		return
	}

	at := r.cfg.Now()
	for _, k := range keys {
		md := asset.Metadata{"build_duration_ms": asset.Int(res.Duration.Milliseconds())}
		r.materialized(ctx, log, runID, Materialization{AssetKey: k, Delegated: true, MaterializedAt: at, Metadata: md}, report, built)
	}
}

func (r *Runner) compute(ctx context.Context, log *zap.SugaredLogger, runID string, node *asset.Node, report *Report, failed, built map[string]bool) {
	key := node.Key()
	fn, ok := r.cfg.Compute[key]
	if !ok {
		failed[key] = true
		report.Failed = append(report.Failed, AssetFailure{AssetKey: key, Err: errors.Newf("no computation registered for asset %s", key)})
		log.Errorw("Asset has no computation", logger.FieldAsset, key)
		return
	}

	md, err := r.safeCompute(ctx, fn)
	if err != nil {
		failed[key] = true
		report.Failed = append(report.Failed, AssetFailure{AssetKey: key, Err: err})
		log.Errorw("Asset materialization failed", logger.FieldAsset, key, logger.FieldError, err)
		return
	}
	r.materialized(ctx, log, runID, Materialization{AssetKey: key, MaterializedAt: r.cfg.Now(), Metadata: md}, report, built)
}

func (r *Runner) safeCompute(ctx context.Context, fn ComputeFunc) (md asset.Metadata, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("panic: %v", p)
		}
	}()
	return fn(ctx, r.cfg.Warehouse)
}

func (r *Runner) materialized(ctx context.Context, log *zap.SugaredLogger, runID string, m Materialization, report *Report, built map[string]bool) {
	if node, ok := r.cfg.Graph.Registry().Node(m.AssetKey); ok {
		node.MarkMaterialized(m.MaterializedAt)
	}
	built[m.AssetKey] = true
	report.Materialized = append(report.Materialized, m)
	if r.cfg.Recorder != nil {
		if err := r.cfg.Recorder.RecordMaterialization(ctx, runID, m); err != nil {
			log.Warnw("Failed to record materialization", logger.FieldAsset, m.AssetKey, logger.FieldError, err)
		}
	}
	log.Infow("Asset materialized", logger.FieldAsset, m.AssetKey, "delegated", m.Delegated, "metadata", len(m.Metadata))
}

// checksFor returns the selected checks plus the checks of every asset built
// in this run, in registration order.
func (r *Runner) checksFor(plan Plan, built map[string]bool) []check.Spec {
	want := make(map[string]bool, len(plan.Checks))
	for _, c := range plan.Checks {
		want[c] = true
	}
	reg := r.cfg.Graph.Registry()
	for k := range built {
		if n, ok := reg.Node(k); ok {
			for _, c := range n.Checks() {
				want[c] = true
			}
		}
	}

	var specs []check.Spec
	for _, c := range reg.CheckKeys() {
		if !want[c] {
			continue
		}
		spec, ok := r.cfg.Checks.Get(c)
		if !ok {
			target, _ := reg.CheckTarget(c)
			spec = check.Spec{Key: c, Asset: target, Eval: missingCheck(c)}
		}
		specs = append(specs, spec)
	}
	return specs
}

// targetFailed is the result of a check whose asset failed or was skipped in
// this run. The asset holds stale data, so the check is not evaluated.
func (r *Runner) targetFailed(spec check.Spec) check.Result {
	err := errors.Newf("target asset %s failed in this run", spec.Asset)
	return check.Result{
		CheckKey:    spec.Key,
		AssetKey:    spec.Asset,
		Severity:    check.SeverityError,
		Description: err.Error(),
		Err:         err,
		EvaluatedAt: r.cfg.Now(),
	}
}

func missingCheck(key string) check.EvalFunc {
	return func(context.Context, check.Env) (check.Outcome, error) {
		return check.Outcome{}, errors.Newf("no evaluation registered for check %s", key)
	}
}
