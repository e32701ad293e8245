package pulse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/trigger"
)

// TickerConfig contains configuration for the Pulse ticker
type TickerConfig struct {
	Interval time.Duration // How often RUNNING triggers are evaluated (default: 30 seconds)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: 30 * time.Second}
}

// Ticker evaluates every RUNNING trigger once per interval. Triggers are
// evaluated one after another, so no trigger is ever evaluated concurrently
// with itself, and one trigger's failure never stops the others.
type Ticker struct {
	triggers *trigger.Set
	states   *TriggerStore
	queue    *Queue
	interval time.Duration
	now      func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	evalMu   sync.Mutex
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
}

// NewTicker creates a ticker with a parent context.
func NewTicker(ctx context.Context, triggers *trigger.Set, states *TriggerStore, queue *Queue, cfg TickerConfig, now func() time.Time, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ticker{
		triggers: triggers,
		states:   states,
		queue:    queue,
		interval: cfg.Interval,
		now:      now,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   log,
		pulseLog: logger.PulseLogger(log),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow("Pulse ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.pulseLog.Infow("Pulse ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.Tick(t.ctx, t.now())
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.Tick(t.ctx, t.now())
		}
	}
}

// SetTriggers replaces the evaluated trigger set from the next tick on.
// Persisted status and watermarks carry over by trigger name.
func (t *Ticker) SetTriggers(triggers *trigger.Set) {
	t.mu.Lock()
	t.triggers = triggers
	t.mu.Unlock()
}

// Tick evaluates every RUNNING trigger at now and returns what happened.
func (t *Ticker) Tick(ctx context.Context, now time.Time) []TickRecord {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	tickNo := t.ticksSinceStart
	t.mu.Unlock()

	t.mu.Lock()
	triggers := t.triggers
	t.mu.Unlock()

	var out []TickRecord
	for _, tr := range triggers.All() {
		select {
		case <-ctx.Done():
			return out
		default:
		}

		status, err := t.states.EffectiveStatus(ctx, tr)
		if err != nil {
			t.pulseLog.Warnw("Pulse failed to load trigger status",
				logger.FieldTrigger, tr.Name(), logger.FieldError, err)
			continue
		}
		if status != trigger.StatusRunning {
			continue
		}
		out = append(out, t.Evaluate(ctx, tr, now))
	}

	fired := 0
	for _, rec := range out {
		if rec.Outcome == TickFired {
			fired++
		}
	}
	t.pulseLog.Debugw("Pulse tick", logger.FieldTick, tickNo, "evaluated", len(out), "fired", fired)
	return out
}

// Evaluate runs one trigger at now regardless of its status, submits any run
// request, advances the watermark and records the tick. Errors and panics are
// captured in the returned record.
func (t *Ticker) Evaluate(ctx context.Context, tr trigger.Trigger, now time.Time) (rec TickRecord) {
	t.evalMu.Lock()
	defer t.evalMu.Unlock()

	rec = TickRecord{Trigger: tr.Name(), TickAt: now}
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			rec.Outcome = TickError
			rec.Reason = fmt.Sprintf("panic: %v", p)
			rec.RunKey = ""
		}
		if rec.Outcome == TickError {
			t.pulseLog.Errorw("Pulse trigger evaluation FAILED",
				logger.FieldTrigger, tr.Name(),
				logger.FieldJob, tr.Job(),
				logger.FieldReason, rec.Reason,
				logger.FieldDurationMS, time.Since(start).Milliseconds())
		}
		if err := t.states.RecordTick(ctx, rec); err != nil {
			t.pulseLog.Warnw("Failed to record tick", logger.FieldTrigger, tr.Name(), logger.FieldError, err)
		}
	}()

	status, err := t.states.EffectiveStatus(ctx, tr)
	if err != nil {
		rec.Outcome, rec.Reason = TickError, err.Error()
		return rec
	}
	st, _, err := t.states.State(ctx, tr.Name())
	if err != nil {
		rec.Outcome, rec.Reason = TickError, err.Error()
		return rec
	}
	watermark := st.Watermark
	if watermark.IsZero() {
		watermark = now.Add(-t.interval)
	}

	ev, err := tr.Evaluate(ctx, trigger.Tick{Now: now, Watermark: watermark})
	if err != nil {
		rec.Outcome, rec.Reason = TickError, err.Error()
		return rec
	}

	if ev.Fired() {
		req := *ev.Request
		if req.Job == "" {
			req.Job = tr.Job()
		}
		rec.RunKey = req.RunKey
		runID, created, err := t.queue.Submit(ctx, req, tr.Name())
		if err != nil {
			// Watermark stays put so the same tick is offered again.
			rec.Outcome, rec.Reason = TickError, errors.Wrap(err, "submit run request").Error()
			return rec
		}
		if created {
			rec.Outcome = TickFired
			t.pulseLog.Infow("Pulse OK",
				logger.FieldTrigger, tr.Name(),
				logger.FieldJob, req.Job,
				logger.FieldRunKey, req.RunKey,
				logger.FieldRunID, runID,
				logger.FieldDurationMS, time.Since(start).Milliseconds())
		} else {
			rec.Outcome = TickDuplicate
		}
	} else {
		rec.Outcome, rec.Reason = TickSkipped, ev.SkipReason
	}

	if err := t.states.AdvanceWatermark(ctx, tr.Name(), status, now); err != nil {
		t.pulseLog.Warnw("Failed to advance watermark", logger.FieldTrigger, tr.Name(), logger.FieldError, err)
	}
	return rec
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
