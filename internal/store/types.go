package store

import "time"

// #region rollout-record
// Rollout status values.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusAborted = "aborted"
)

// RolloutRecord is one row of the rollouts table.
type RolloutRecord struct {
	RolloutID    string
	Experiment   string
	Seed         int64
	ModelID      int
	ModelJSON    string
	ScheduleJSON string
	Status       string
	Error        string
	Steps        int
	Cycles       int
	ActiveSteps  int
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// RolloutStats are the counters written when a rollout ends.
type RolloutStats struct {
	Steps       int
	Cycles      int
	ActiveSteps int
}

// #endregion rollout-record

// #region damping-record
// DampingRecord is one row of the damping_results table. Ratio is nil when the
// rollout's analysis failed; Error then says why.
type DampingRecord struct {
	ID          int64
	Experiment  string
	Rollout     string
	Ratio       *float64
	LeaderMin   float64
	FollowerMin float64
	Error       string
	CreatedAt   time.Time
}

// #endregion damping-record
