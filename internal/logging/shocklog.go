package logging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/densityaware/shockharness/internal/pipeline"
	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/session"
)

// #region log-event
// LogEvent writes a shock lifecycle entry to the shock_log table.
func LogEvent(db *sql.DB, entry ShockEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO shock_log (rollout_id, step, cycle, transition, status, value, vehicles, warnings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RolloutID,
		entry.Step,
		entry.Cycle,
		entry.Transition,
		entry.Status,
		entry.Value,
		nullIfEmpty(entry.Vehicles),
		nullIfEmpty(entry.Warnings),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// #endregion log-event

// #region tick-conversion
// NewTickRecord flattens a pipeline tick into its logged form.
func NewTickRecord(rollout string, res pipeline.TickResult) TickRecord {
	return TickRecord{
		RolloutID:  rollout,
		Step:       res.Step,
		Cycle:      res.Session.Cycle,
		Transition: res.Session.Edges(),
		Status:     string(res.Session.Status),
		Value:      res.Session.Value,
		Elapsed:    res.Session.Elapsed,
		AppliedTo:  handleIDs(res.Session.AppliedTo),
		Selected:   handleIDs(res.Session.Selected),
		Fired:      res.Fired,
		Gaps:       res.Control.Gaps,
		Warnings:   append(append([]string(nil), res.Session.Warnings...), res.Control.Warnings...),
	}
}

// Notable reports whether a tick is worth persisting: any transition other than a
// plain hold, a control-law swap, or a warning.
func Notable(res pipeline.TickResult) bool {
	t := res.Session.Transition
	return (t != session.NoOp && t != session.ActiveToActive) || res.Fired ||
		len(res.Session.Warnings) > 0 || len(res.Control.Warnings) > 0
}

func handleIDs(hs []registry.VehicleHandle) []string {
	if len(hs) == 0 {
		return nil
	}
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.ID
	}
	return out
}

// #endregion tick-conversion

// #region sink
// DBSink persists notable ticks into shock_log. It satisfies pipeline.Sink.
type DBSink struct {
	DB *sql.DB
}

func (s DBSink) Record(_ context.Context, rollout string, res pipeline.TickResult) error {
	if !Notable(res) {
		return nil
	}
	rec := NewTickRecord(rollout, res)
	vehicles := rec.AppliedTo
	if len(vehicles) == 0 {
		vehicles = rec.Selected
	}
	transition := rec.Transition
	if transition == "" && rec.Fired {
		transition = "LAW_SWAP"
	}
	return LogEvent(s.DB, ShockEntry{
		RolloutID:  rollout,
		Step:       rec.Step,
		Cycle:      rec.Cycle,
		Transition: transition,
		Status:     rec.Status,
		Value:      rec.Value,
		Vehicles:   strings.Join(vehicles, ","),
		Warnings:   strings.Join(rec.Warnings, "\n"),
	})
}

// #endregion sink

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
