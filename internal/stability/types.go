package stability

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// #region series
// Series maps a vehicle id to its speed samples, one per recorded step, in order.
type Series map[string][]float64

// IDs returns the recorded vehicle ids, sorted.
func (s Series) IDs() []string {
	ids := lo.Keys(s)
	sort.Strings(ids)
	return ids
}

// Window selects samples [Start, End) of every series by position, not by the time
// column: sample 0 must be simulation step 0, so emissions have to be recorded from the
// first step. End past the recorded range is truncated; a window that selects nothing
// yields EmptySeriesError.
type Window struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// DefaultLookout is how many samples before the first shock the analysis starts.
const DefaultLookout = 200

// DefaultWindow covers the ring stability run: 200 samples before the shock window
// opens until 2000 samples before it closes.
func DefaultWindow(shockStart, shockEnd int) Window {
	return Window{Start: shockStart - DefaultLookout, End: shockEnd - 10*DefaultLookout}
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.Start, w.End)
}

// #endregion series

// #region roles
// RoleConfig names which recorded vehicle plays which part in the damping ratio.
// Ordered lists the platoon from the leader backwards and is used for summaries only.
type RoleConfig struct {
	Leader    string   `json:"leader" yaml:"leader"`
	Reference string   `json:"reference" yaml:"reference"` // follower whose minimum is compared
	Ordered   []string `json:"ordered,omitempty" yaml:"ordered,omitempty"`
}

// #endregion roles

// #region results
// Result is the damping ratio of one rollout.
type Result struct {
	Ratio       float64
	LeaderMin   float64
	FollowerMin float64
	Warnings    []string
}

// EmptySeriesError means a role has no samples inside the analysis window.
type EmptySeriesError struct {
	Role   string
	ID     string
	Window Window
}

func (e *EmptySeriesError) Error() string {
	return fmt.Sprintf("empty series for %s %q in window %s", e.Role, e.ID, e.Window)
}

// Outcome is the analysis of one rollout, successful or not. The speed summary is
// computed over the whole recording even when the damping ratio fails.
type Outcome struct {
	Rollout   string
	Result    Result
	Err       error
	SpeedMean float64 // NaN for an empty recording
	SpeedStd  float64
}

// Summary aggregates damping ratios over a batch of rollouts.
type Summary struct {
	Ratios   []float64 // finite ratios, in rollout order
	Mean     float64
	Std      float64 // population standard deviation
	Failed   map[string]error
	Warnings []string
}

// #endregion results
