package pulse

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
	"github.com/teranos/strata/db"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/job"
)

// ErrDuplicateRun is returned when (job, run key) was already accepted.
var ErrDuplicateRun = errors.New("duplicate run request")

// Store is the run ledger.
type Store struct {
	db *sql.DB
}

// NewStore creates a ledger store over a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRun inserts a queued run. A repeated (job, run key) yields ErrDuplicateRun.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	tags, err := json.Marshal(run.Tags)
	if err != nil {
		return errors.Wrap(err, "encode run tags")
	}
	if run.Tags == nil {
		tags = []byte("{}")
	}

	var trigger any
	if run.Trigger != "" {
		trigger = run.Trigger
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, job, run_key, trigger_name, tags, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Job, run.RunKey, trigger, string(tags), run.Status, formatTime(run.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicateRun, "job %s run key %s", run.Job, run.RunKey)
		}
		return errors.Wrap(err, "failed to create run")
	}
	return nil
}

// HasRun reports whether (job, run key) was already accepted.
func (s *Store) HasRun(ctx context.Context, jobName, runKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM runs WHERE job = ? AND run_key = ?)", jobName, runKey,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to look up run key")
	}
	return exists, nil
}

const runColumns = `id, job, run_key, trigger_name, tags, status, outcome, error_message,
	created_at, started_at, completed_at, duration_ms`

func scanRun(scan func(...any) error) (*Run, error) {
	var r Run
	var trigger, outcome, errMsg, startedAt, completedAt sql.NullString
	var tags, createdAt string
	var duration sql.NullInt64

	if err := scan(&r.ID, &r.Job, &r.RunKey, &trigger, &tags, &r.Status, &outcome, &errMsg,
		&createdAt, &startedAt, &completedAt, &duration); err != nil {
		return nil, err
	}

	r.Trigger = trigger.String
	r.Outcome = outcome.String
	r.Error = errMsg.String
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return nil, errors.Wrapf(err, "decode tags of run %s", r.ID)
	}
	if len(r.Tags) == 0 {
		r.Tags = nil
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at of run %s", r.ID)
	}
	if startedAt.Valid {
		t, err := parseTime(startedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse started_at of run %s", r.ID)
		}
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse completed_at of run %s", r.ID)
		}
		r.CompletedAt = &t
	}
	if duration.Valid {
		d := duration.Int64
		r.DurationMs = &d
	}
	return &r, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("run %s", id)
		}
		return nil, errors.Wrap(err, "failed to get run")
	}
	return r, nil
}

// ListRuns returns runs, newest first, optionally filtered by status.
func (s *Store) ListRuns(ctx context.Context, status *RunStatus, limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)
	return s.queryRuns(ctx, query, args...)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClaimNext marks the oldest queued run as running and returns it, or nil when
// the queue is empty. The conditional update makes concurrent claims safe.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (*Run, error) {
	for {
		var id string
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM runs WHERE status = ? ORDER BY created_at, id LIMIT 1", RunStatusQueued,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to find queued run")
		}

		res, err := s.db.ExecContext(ctx,
			"UPDATE runs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
			RunStatusRunning, formatTime(now), id, RunStatusQueued)
		if err != nil {
			return nil, errors.Wrap(err, "failed to claim run")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to check rows affected")
		}
		if n == 1 {
			return s.GetRun(ctx, id)
		}
		// Another worker claimed it first.
	}
}

// ClaimRun marks the queued run id as running. It reports false when the run
// is not queued, for example because a worker already claimed it.
func (s *Store) ClaimRun(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		RunStatusRunning, formatTime(now), id, RunStatusQueued)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n == 1, nil
}

// FinishRun records a terminal status.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, outcome string, runErr error, now time.Time) error {
	var errMsg any
	if runErr != nil {
		errMsg = runErr.Error()
	}
	var out any
	if outcome != "" {
		out = outcome
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?,
		    outcome = ?,
		    error_message = ?,
		    completed_at = ?,
		    duration_ms = CAST((julianday(?) - julianday(COALESCE(started_at, created_at))) * 86400000 AS INTEGER)
		WHERE id = ?
	`, status, out, errMsg, formatTime(now), formatTime(now), id)
	if err != nil {
		return errors.Wrap(err, "failed to finish run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("run %s", id)
	}
	return nil
}

// RequeueOrphaned puts runs left running by a crash back in the queue.
func (s *Store) RequeueOrphaned(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, started_at = NULL WHERE status = ?",
		RunStatusQueued, RunStatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to requeue orphaned runs")
	}
	return res.RowsAffected()
}

// QueueStats counts runs by status.
type QueueStats struct {
	Queued    int
	Running   int
	Completed int
	Failed    int
}

// Stats counts runs by status.
func (s *Store) Stats(ctx context.Context) (*QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, errors.Wrap(err, "failed to count runs")
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status RunStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan run count")
		}
		switch status {
		case RunStatusQueued:
			stats.Queued = n
		case RunStatusRunning:
			stats.Running = n
		case RunStatusCompleted:
			stats.Completed = n
		case RunStatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// RecordMaterialization implements job.Recorder.
func (s *Store) RecordMaterialization(ctx context.Context, runID string, m job.Materialization) error {
	md, err := json.Marshal(m.Metadata)
	if err != nil {
		return errors.Wrapf(err, "encode metadata of %s", m.AssetKey)
	}
	if m.Metadata == nil {
		md = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO materializations (run_id, asset_key, delegated, materialized_at, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, runID, m.AssetKey, m.Delegated, formatTime(m.MaterializedAt), string(md))
	if err != nil {
		return errors.Wrapf(err, "failed to record materialization of %s", m.AssetKey)
	}
	return nil
}

// RecordCheckResult implements job.Recorder.
func (s *Store) RecordCheckResult(ctx context.Context, runID string, r check.Result) error {
	md, err := json.Marshal(r.Metadata)
	if err != nil {
		return errors.Wrapf(err, "encode metadata of %s", r.CheckKey)
	}
	if r.Metadata == nil {
		md = []byte("{}")
	}
	var errMsg any
	if r.Err != nil {
		errMsg = r.Err.Error()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO check_results (run_id, check_key, asset_key, passed, severity, description, error_message, metadata, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, r.CheckKey, r.AssetKey, r.Passed, r.Severity.String(), r.Description, errMsg, string(md), formatTime(r.EvaluatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to record check result %s", r.CheckKey)
	}
	return nil
}

// CheckRecord is a persisted check result.
type CheckRecord struct {
	CheckKey    string
	AssetKey    string
	Passed      bool
	Severity    string
	Description string
	Error       string
	EvaluatedAt time.Time
}

// CheckResults returns the check results recorded for a run.
func (s *Store) CheckResults(ctx context.Context, runID string) ([]CheckRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT check_key, asset_key, passed, severity, description, error_message, evaluated_at
		FROM check_results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list check results")
	}
	defer rows.Close()

	var out []CheckRecord
	for rows.Next() {
		var c CheckRecord
		var errMsg sql.NullString
		var at string
		if err := rows.Scan(&c.CheckKey, &c.AssetKey, &c.Passed, &c.Severity, &c.Description, &errMsg, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan check result")
		}
		c.Error = errMsg.String
		if c.EvaluatedAt, err = parseTime(at); err != nil {
			return nil, errors.Wrap(err, "parse evaluated_at")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestMetadata implements check.MetadataSource.
func (s *Store) LatestMetadata(ctx context.Context, assetKey string) (asset.Metadata, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT metadata FROM materializations
		WHERE asset_key = ?
		ORDER BY materialized_at DESC, id DESC
		LIMIT 1
	`, assetKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to load metadata of %s", assetKey)
	}
	var md asset.Metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, false, errors.Wrapf(err, "decode metadata of %s", assetKey)
	}
	return md, true, nil
}

// LatestMaterializations returns the newest materialization time per asset.
func (s *Store) LatestMaterializations(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT asset_key, MAX(materialized_at) FROM materializations GROUP BY asset_key")
	if err != nil {
		return nil, errors.Wrap(err, "failed to load materializations")
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var key, at string
		if err := rows.Scan(&key, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan materialization")
		}
		t, err := parseTime(at)
		if err != nil {
			return nil, errors.Wrapf(err, "parse materialized_at of %s", key)
		}
		out[key] = t
	}
	return out, rows.Err()
}

// RestoreMaterializations copies persisted timestamps into the registry.
func (s *Store) RestoreMaterializations(ctx context.Context, r *asset.Registry) (int, error) {
	latest, err := s.LatestMaterializations(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for key, at := range latest {
		if node, ok := r.Node(key); ok {
			node.MarkMaterialized(at)
			n++
		}
	}
	return n, nil
}
