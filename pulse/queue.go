package pulse

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/trigger"
)

// DefaultDedupCacheSize bounds the in-memory run key cache.
const DefaultDedupCacheSize = 4096

// Queue accepts run requests. Duplicates are dropped first by an LRU of
// recently seen (job, run key) pairs, then by the ledger's unique constraint.
type Queue struct {
	store  *Store
	seen   *lru.Cache[string, string]
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewQueue creates a queue over store.
func NewQueue(store *Store, cacheSize int, now func() time.Time, log *zap.SugaredLogger) (*Queue, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultDedupCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create dedup cache")
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Queue{store: store, seen: cache, now: now, logger: log}, nil
}

func dedupKey(jobName, runKey string) string { return jobName + "\x00" + runKey }

// Submit enqueues req. created is false when the request duplicates an
// earlier one; the returned run ID is then the original run's when known.
func (q *Queue) Submit(ctx context.Context, req trigger.RunRequest, triggerName string) (runID string, created bool, err error) {
	if req.Job == "" || req.RunKey == "" {
		return "", false, errors.NewInvalidRequestError("run request needs a job and a run key")
	}
	key := dedupKey(req.Job, req.RunKey)
	if id, ok := q.seen.Get(key); ok {
		q.logger.Debugw("Dropping duplicate run request (cached)",
			logger.FieldJob, req.Job, logger.FieldRunKey, req.RunKey)
		return id, false, nil
	}

	run := &Run{
		ID:        NewRunID(),
		Job:       req.Job,
		RunKey:    req.RunKey,
		Trigger:   triggerName,
		Tags:      req.Tags,
		Status:    RunStatusQueued,
		CreatedAt: q.now(),
	}
	if err := q.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, ErrDuplicateRun) {
			q.seen.Add(key, "")
			q.logger.Debugw("Dropping duplicate run request",
				logger.FieldJob, req.Job, logger.FieldRunKey, req.RunKey)
			return "", false, nil
		}
		return "", false, errors.WithDetailf(err, "Job: %s, run key: %s", req.Job, req.RunKey)
	}
	q.seen.Add(key, run.ID)

	q.logger.Infow("Run queued",
		logger.FieldRunID, run.ID,
		logger.FieldJob, run.Job,
		logger.FieldRunKey, run.RunKey,
		logger.FieldTrigger, triggerName)
	return run.ID, true, nil
}

// SubmitManual enqueues an operator-launched run of jobName.
func (q *Queue) SubmitManual(ctx context.Context, jobName string, tags map[string]string) (string, error) {
	id := NewRunID()
	run := &Run{
		ID:        id,
		Job:       jobName,
		RunKey:    ManualRunKey(id),
		Tags:      tags,
		Status:    RunStatusQueued,
		CreatedAt: q.now(),
	}
	if err := q.store.CreateRun(ctx, run); err != nil {
		return "", err
	}
	q.logger.Infow("Manual run queued", logger.FieldRunID, id, logger.FieldJob, jobName)
	return id, nil
}

// Store exposes the ledger behind the queue.
func (q *Queue) Store() *Store { return q.store }
