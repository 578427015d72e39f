package logging

import "time"

// #region shock-entry
// ShockEntry is a single row in the shock_log table: one session transition.
type ShockEntry struct {
	RolloutID  string
	Step       int
	Cycle      int
	Transition string // "IDLE->ARMED" | "ARMED->ACTIVE" | ...
	Status     string
	Value      float64
	Vehicles   string // comma-separated vehicle ids the transition touched
	Warnings   string // newline-separated
	CreatedAt  time.Time
}

// #endregion shock-entry

// #region tick-record
// TickRecord is the JSON shape of one logged tick. It is what the event stream carries
// and what fixtures store as expected output.
type TickRecord struct {
	RolloutID  string   `json:"rollout_id"`
	Step       int      `json:"step"`
	Cycle      int      `json:"cycle"`
	Transition string   `json:"transition,omitempty"`
	Status     string   `json:"status"`
	Value      float64  `json:"value,omitempty"`
	Elapsed    float64  `json:"elapsed,omitempty"`
	AppliedTo  []string `json:"applied_to,omitempty"`
	Selected   []string `json:"selected,omitempty"`
	Fired      bool     `json:"fired,omitempty"`
	Gaps       []string `json:"gaps,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// #endregion tick-record
