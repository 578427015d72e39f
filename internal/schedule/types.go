package schedule

import (
	"errors"
	"fmt"
)

// #region window
// Window is a closed step interval [Start, End] during which one disturbance cycle may
// run. Cycle is the model index whose intensity and duration the window carries.
type Window struct {
	Cycle int
	Start int
	End   int
}

// Len is the number of steps between Start and End.
func (w Window) Len() int { return w.End - w.Start }

// Overlaps reports whether w and o share at least one step.
func (w Window) Overlaps(o Window) bool {
	return w.Start <= o.End && o.Start <= w.End
}

// Contains reports whether step lies inside the closed window.
func (w Window) Contains(step int) bool {
	return step >= w.Start && step <= w.End
}

// #endregion window

// #region policy
// OverlapPolicy decides what happens to windows that overlap an earlier one.
type OverlapPolicy string

const (
	// PolicyMerge keeps overlapping windows; their disturbance effect merges.
	PolicyMerge OverlapPolicy = "merge"
	// PolicyQueue delays a window until the previous one has ended.
	PolicyQueue OverlapPolicy = "queue"
	// PolicyDrop discards a window that overlaps its predecessor.
	PolicyDrop OverlapPolicy = "drop"
)

// Valid reports whether p is a known policy.
func (p OverlapPolicy) Valid() bool {
	switch p {
	case PolicyMerge, PolicyQueue, PolicyDrop:
		return true
	}
	return false
}

// #endregion policy

// #region warnings
// OverlapWarning reports two windows sharing steps. It never stops a rollout.
type OverlapWarning struct {
	First      int // index of the earlier window as built
	Second     int // index of the later window as built
	Step       int // first shared step
	Shared     int // number of shared steps
	Resolution OverlapPolicy
}

func (w OverlapWarning) Error() string {
	return fmt.Sprintf("shock windows %d and %d overlap by %d steps from step %d (%s)",
		w.First, w.Second, w.Shared, w.Step, w.Resolution)
}

// ClipWarning reports a duration that did not fit the activation span.
type ClipWarning struct {
	Requested int
	Clipped   int
}

func (w ClipWarning) Error() string {
	return fmt.Sprintf("shock duration %d steps clipped to %d", w.Requested, w.Clipped)
}

// #endregion warnings

// #region schedule
// Schedule is an ordered window sequence for one rollout.
type Schedule struct {
	Windows  []Window
	Overlaps []OverlapWarning
	Clips    []ClipWarning
}

// Len is the number of windows, i.e. the number of cycles the session will run.
func (s Schedule) Len() int { return len(s.Windows) }

// Warnings flattens all non-fatal findings, clips first.
func (s Schedule) Warnings() []error {
	out := make([]error, 0, len(s.Clips)+len(s.Overlaps))
	for _, c := range s.Clips {
		out = append(out, c)
	}
	for _, o := range s.Overlaps {
		out = append(out, o)
	}
	return out
}

// ErrInvalidSpan is returned when the activation window is empty or reversed.
var ErrInvalidSpan = errors.New("invalid shock activation span")

// #endregion schedule
