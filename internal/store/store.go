package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/densityaware/shockharness/internal/logging"
	"github.com/densityaware/shockharness/internal/schedule"
	"github.com/densityaware/shockharness/internal/shock"
	"github.com/densityaware/shockharness/internal/stability"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS rollouts (
	rollout_id    TEXT PRIMARY KEY,
	experiment    TEXT NOT NULL,
	seed          INTEGER NOT NULL,
	model_id      INTEGER NOT NULL,
	model_json    TEXT NOT NULL,
	schedule_json TEXT NOT NULL,
	status        TEXT NOT NULL,
	error         TEXT,
	steps         INTEGER NOT NULL DEFAULT 0,
	cycles        INTEGER NOT NULL DEFAULT 0,
	active_steps  INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE TABLE IF NOT EXISTS shock_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	rollout_id    TEXT NOT NULL,
	step          INTEGER NOT NULL,
	cycle         INTEGER NOT NULL,
	transition    TEXT NOT NULL,
	status        TEXT NOT NULL,
	value         REAL,
	vehicles      TEXT,
	warnings      TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (rollout_id) REFERENCES rollouts(rollout_id)
);

CREATE TABLE IF NOT EXISTS damping_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	experiment    TEXT NOT NULL,
	rollout       TEXT NOT NULL,
	ratio         REAL,
	leader_min    REAL,
	follower_min  REAL,
	error         TEXT,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store keeps rollouts, their shock lifecycle and damping results in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region rollouts
// CreateRollout registers a rollout before its first step and returns its new id.
func (s *Store) CreateRollout(experiment string, seed int64, model shock.Model, sched schedule.Schedule) (RolloutRecord, error) {
	modelJSON, err := json.Marshal(model)
	if err != nil {
		return RolloutRecord{}, fmt.Errorf("marshal model: %w", err)
	}
	schedJSON, err := json.Marshal(sched.Windows)
	if err != nil {
		return RolloutRecord{}, fmt.Errorf("marshal schedule: %w", err)
	}
	rec := RolloutRecord{
		RolloutID:    uuid.New().String(),
		Experiment:   experiment,
		Seed:         seed,
		ModelID:      model.ID,
		ModelJSON:    string(modelJSON),
		ScheduleJSON: string(schedJSON),
		Status:       StatusRunning,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT INTO rollouts (rollout_id, experiment, seed, model_id, model_json, schedule_json, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RolloutID, rec.Experiment, rec.Seed, rec.ModelID, rec.ModelJSON, rec.ScheduleJSON,
		rec.Status, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RolloutRecord{}, fmt.Errorf("insert rollout: %w", err)
	}
	return rec, nil
}

// FinishRollout records the final counters. A non-nil runErr marks the rollout aborted.
func (s *Store) FinishRollout(id string, stats RolloutStats, runErr error) error {
	status, errText := StatusDone, ""
	if runErr != nil {
		status, errText = StatusAborted, runErr.Error()
	}
	res, err := s.db.Exec(
		`UPDATE rollouts SET status = ?, error = ?, steps = ?, cycles = ?, active_steps = ?, finished_at = ?
		 WHERE rollout_id = ?`,
		status, nullIfEmpty(errText), stats.Steps, stats.Cycles, stats.ActiveSteps,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("finish rollout: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rollout %s not found", id)
	}
	return nil
}

// GetRollout retrieves one rollout by id.
func (s *Store) GetRollout(id string) (RolloutRecord, error) {
	row := s.db.QueryRow(
		`SELECT rollout_id, experiment, seed, model_id, model_json, schedule_json, status, error,
		        steps, cycles, active_steps, created_at, finished_at
		 FROM rollouts WHERE rollout_id = ?`, id,
	)
	rec, err := scanRollout(row)
	if err != nil {
		return RolloutRecord{}, fmt.Errorf("get rollout %s: %w", id, err)
	}
	return rec, nil
}

// ListRollouts returns the most recent rollouts.
func (s *Store) ListRollouts(limit int) ([]RolloutRecord, error) {
	rows, err := s.db.Query(
		`SELECT rollout_id, experiment, seed, model_id, model_json, schedule_json, status, error,
		        steps, cycles, active_steps, created_at, finished_at
		 FROM rollouts ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list rollouts: %w", err)
	}
	defer rows.Close()

	var records []RolloutRecord
	for rows.Next() {
		rec, err := scanRollout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRollout(sc scanner) (RolloutRecord, error) {
	var rec RolloutRecord
	var errText, finished sql.NullString
	var created string
	err := sc.Scan(&rec.RolloutID, &rec.Experiment, &rec.Seed, &rec.ModelID, &rec.ModelJSON, &rec.ScheduleJSON,
		&rec.Status, &errText, &rec.Steps, &rec.Cycles, &rec.ActiveSteps, &created, &finished)
	if err != nil {
		return RolloutRecord{}, err
	}
	rec.Error = errText.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if finished.Valid {
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	return rec, nil
}

// #endregion rollouts

// #region shock-log
// ShockEvents returns the logged lifecycle of one rollout in step order.
func (s *Store) ShockEvents(rolloutID string) ([]logging.ShockEntry, error) {
	rows, err := s.db.Query(
		`SELECT rollout_id, step, cycle, transition, status, value, vehicles, warnings, created_at
		 FROM shock_log WHERE rollout_id = ? ORDER BY step, id`, rolloutID,
	)
	if err != nil {
		return nil, fmt.Errorf("shock events: %w", err)
	}
	defer rows.Close()

	var out []logging.ShockEntry
	for rows.Next() {
		var e logging.ShockEntry
		var value sql.NullFloat64
		var vehicles, warnings sql.NullString
		var created string
		if err := rows.Scan(&e.RolloutID, &e.Step, &e.Cycle, &e.Transition, &e.Status, &value, &vehicles, &warnings, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Value = value.Float64
		e.Vehicles = vehicles.String
		e.Warnings = warnings.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion shock-log

// #region damping
// SaveDamping stores the analysis outcome of one rollout. Non-finite ratios are stored
// as NULL with the reason in error.
func (s *Store) SaveDamping(experiment string, o stability.Outcome) error {
	var ratio interface{}
	errText := ""
	switch {
	case o.Err != nil:
		errText = o.Err.Error()
	case math.IsNaN(o.Result.Ratio) || math.IsInf(o.Result.Ratio, 0):
		errText = "non-finite ratio"
	default:
		ratio = o.Result.Ratio
	}
	_, err := s.db.Exec(
		`INSERT INTO damping_results (experiment, rollout, ratio, leader_min, follower_min, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		experiment, o.Rollout, ratio, o.Result.LeaderMin, o.Result.FollowerMin, nullIfEmpty(errText),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save damping: %w", err)
	}
	return nil
}

// ListDamping returns the stored results of one experiment in insertion order.
func (s *Store) ListDamping(experiment string) ([]DampingRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, experiment, rollout, ratio, leader_min, follower_min, error, created_at
		 FROM damping_results WHERE experiment = ? ORDER BY id`, experiment,
	)
	if err != nil {
		return nil, fmt.Errorf("list damping: %w", err)
	}
	defer rows.Close()

	var out []DampingRecord
	for rows.Next() {
		var r DampingRecord
		var ratio, leader, follower sql.NullFloat64
		var errText sql.NullString
		var created string
		if err := rows.Scan(&r.ID, &r.Experiment, &r.Rollout, &ratio, &leader, &follower, &errText, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if ratio.Valid {
			v := ratio.Float64
			r.Ratio = &v
		}
		r.LeaderMin = leader.Float64
		r.FollowerMin = follower.Float64
		r.Error = errText.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion damping

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
