package check

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
)

// Runner invokes checks and records their results.
type Runner struct {
	env    Env
	logger *zap.SugaredLogger
}

// NewRunner creates a runner. A nil clock means time.Now.
func NewRunner(env Env, log *zap.SugaredLogger) *Runner {
	if env.Now == nil {
		env.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{env: env, logger: log}
}

// Run evaluates one check. It never returns an error: a failing collaborator
// or a panicking evaluation becomes a failed ERROR result.
func (r *Runner) Run(ctx context.Context, spec Spec) (res Result) {
	res = Result{CheckKey: spec.Key, AssetKey: spec.Asset}

	defer func() {
		if p := recover(); p != nil {
			res = r.failed(spec, errors.Newf("panic: %v", p))
		}
		res.EvaluatedAt = r.env.Now()
		r.log(res)
	}()

	out, err := spec.Eval(ctx, r.env)
	if err != nil {
		return r.failed(spec, err)
	}

	res.Passed = out.Passed
	res.Severity = out.Severity
	res.Description = out.Description
	res.Metadata = out.Metadata
	if res.Passed {
		res.Severity = SeverityNone
	} else if res.Severity == SeverityNone {
		res.Severity = SeverityError
	}
	return res
}

// RunAll evaluates specs in order. One check's failure does not stop the rest.
func (r *Runner) RunAll(ctx context.Context, specs []Spec) []Result {
	out := make([]Result, 0, len(specs))
	for _, s := range specs {
		out = append(out, r.Run(ctx, s))
	}
	return out
}

func (r *Runner) failed(spec Spec, err error) Result {
	// Marked so callers can classify with errors.Is(err, errors.ErrCheckExecution)
	// while the collaborator's cause stays in the chain.
	execErr := errors.Mark(errors.Wrapf(err, "check %s", spec.Key), errors.ErrCheckExecution)
	return Result{
		CheckKey:    spec.Key,
		AssetKey:    spec.Asset,
		Passed:      false,
		Severity:    SeverityError,
		Description: fmt.Sprintf("Check execution failed: %v", err),
		Err:         execErr,
	}
}

func (r *Runner) log(res Result) {
	fields := []any{
		logger.FieldCheck, res.CheckKey,
		logger.FieldAsset, res.AssetKey,
		logger.FieldSeverity, res.Severity.String(),
	}
	switch {
	case res.Err != nil:
		r.logger.Errorw("Check execution failed", append(fields, logger.FieldError, res.Err)...)
	case !res.Passed:
		r.logger.Warnw("Check failed", append(fields, "description", res.Description)...)
	default:
		r.logger.Debugw("Check passed", fields...)
	}
}

// Worst returns the highest severity among results.
func Worst(results []Result) Severity {
	worst := SeverityNone
	for _, r := range results {
		if r.Severity.rank() > worst.rank() {
			worst = r.Severity
		}
	}
	return worst
}
