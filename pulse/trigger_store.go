package pulse

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/trigger"
)

// TickOutcome is what one trigger evaluation did.
type TickOutcome string

const (
	TickFired     TickOutcome = "fired"
	TickDuplicate TickOutcome = "duplicate"
	TickSkipped   TickOutcome = "skipped"
	TickError     TickOutcome = "error"
)

// TickRecord is one row of trigger tick history.
type TickRecord struct {
	Trigger string
	TickAt  time.Time
	Outcome TickOutcome
	RunKey  string
	Reason  string
}

// TriggerState is the persisted operator state of a trigger.
type TriggerState struct {
	Name      string
	Status    trigger.Status
	Watermark time.Time
	UpdatedAt time.Time
}

// TriggerStore persists trigger status, schedule watermarks and tick history.
type TriggerStore struct {
	db *sql.DB
}

// NewTriggerStore creates a trigger store.
func NewTriggerStore(db *sql.DB) *TriggerStore {
	return &TriggerStore{db: db}
}

// State returns the persisted state, or ok=false when the trigger has never
// been started, stopped or evaluated.
func (s *TriggerStore) State(ctx context.Context, name string) (TriggerState, bool, error) {
	var st TriggerState
	var watermark sql.NullString
	var updated string
	err := s.db.QueryRowContext(ctx,
		"SELECT name, status, watermark, updated_at FROM trigger_state WHERE name = ?", name,
	).Scan(&st.Name, &st.Status, &watermark, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return TriggerState{}, false, nil
	}
	if err != nil {
		return TriggerState{}, false, errors.Wrapf(err, "failed to load trigger %s", name)
	}
	if watermark.Valid {
		if st.Watermark, err = parseTime(watermark.String); err != nil {
			return TriggerState{}, false, errors.Wrapf(err, "parse watermark of %s", name)
		}
	}
	if st.UpdatedAt, err = parseTime(updated); err != nil {
		return TriggerState{}, false, errors.Wrapf(err, "parse updated_at of %s", name)
	}
	return st, true, nil
}

// EffectiveStatus is the persisted status, falling back to the trigger's default.
func (s *TriggerStore) EffectiveStatus(ctx context.Context, t trigger.Trigger) (trigger.Status, error) {
	st, ok, err := s.State(ctx, t.Name())
	if err != nil {
		return "", err
	}
	if !ok {
		return t.DefaultStatus(), nil
	}
	return st.Status, nil
}

// SetStatus records an operator start/stop. Starting a trigger resets its
// watermark so a long-stopped schedule does not fire for the stopped period.
func (s *TriggerStore) SetStatus(ctx context.Context, name string, status trigger.Status, now time.Time) error {
	var watermark any
	if status == trigger.StatusRunning {
		watermark = formatTime(now)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_state (name, status, watermark, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			status = excluded.status,
			watermark = excluded.watermark,
			updated_at = excluded.updated_at
	`, name, status, watermark, formatTime(now))
	if err != nil {
		return errors.Wrapf(err, "failed to set status of trigger %s", name)
	}
	return nil
}

// AdvanceWatermark stores the end of the last evaluated window.
func (s *TriggerStore) AdvanceWatermark(ctx context.Context, name string, status trigger.Status, watermark time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_state (name, status, watermark, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			watermark = excluded.watermark,
			updated_at = excluded.updated_at
	`, name, status, formatTime(watermark), formatTime(watermark))
	if err != nil {
		return errors.Wrapf(err, "failed to advance watermark of trigger %s", name)
	}
	return nil
}

// RecordTick appends to a trigger's tick history.
func (s *TriggerStore) RecordTick(ctx context.Context, rec TickRecord) error {
	var runKey, reason any
	if rec.RunKey != "" {
		runKey = rec.RunKey
	}
	if rec.Reason != "" {
		reason = rec.Reason
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO trigger_ticks (trigger_name, tick_at, outcome, run_key, reason) VALUES (?, ?, ?, ?, ?)",
		rec.Trigger, formatTime(rec.TickAt), rec.Outcome, runKey, reason)
	if err != nil {
		return errors.Wrapf(err, "failed to record tick of trigger %s", rec.Trigger)
	}
	return nil
}

// Ticks returns a trigger's most recent ticks, newest first.
func (s *TriggerStore) Ticks(ctx context.Context, name string, limit int) ([]TickRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trigger_name, tick_at, outcome, run_key, reason
		FROM trigger_ticks WHERE trigger_name = ?
		ORDER BY id DESC LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ticks")
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var rec TickRecord
		var at string
		var runKey, reason sql.NullString
		if err := rows.Scan(&rec.Trigger, &at, &rec.Outcome, &runKey, &reason); err != nil {
			return nil, errors.Wrap(err, "failed to scan tick")
		}
		if rec.TickAt, err = parseTime(at); err != nil {
			return nil, errors.Wrap(err, "parse tick_at")
		}
		rec.RunKey = runKey.String
		rec.Reason = reason.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
