package session

import (
	"strings"

	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/selector"
)

// #region status
// Status is the lifecycle position of the current disturbance cycle.
type Status string

const (
	Idle     Status = "IDLE"
	Armed    Status = "ARMED"
	Active   Status = "ACTIVE"
	Cooldown Status = "COOLDOWN"
)

// Transition names the edge taken by one Advance call. NoOp means nothing changed.
type Transition string

const (
	NoOp           Transition = ""
	IdleToArmed    Transition = "IDLE->ARMED"
	ArmedToActive  Transition = "ARMED->ACTIVE"
	ActiveToActive Transition = "ACTIVE->ACTIVE"
	ActiveToCool   Transition = "ACTIVE->COOLDOWN"
	CoolToArmed    Transition = "COOLDOWN->ARMED"
	CoolToIdle     Transition = "COOLDOWN->IDLE"
)

// #endregion status

// #region config
// Config holds the per-experiment shock parameters.
type Config struct {
	Enabled        bool
	GlobalStart    int // first step a disturbance may be active
	GlobalEnd      int // last step a disturbance may be active
	ArmStep        int // step at which the first targets are chosen
	StepsPerSecond float64
	Kind           registry.OverrideKind
	Rule           selector.Rule
	SampleSize     int
}

// DefaultConfig matches the ring stability evaluation (10 steps per second,
// shocks between steps 8000 and 11500, one vehicle at a time). Warmup ends on the step
// before the window opens, so the first cycle goes active on step 8000.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		GlobalStart:    8000,
		GlobalEnd:      11500,
		ArmStep:        7999,
		StepsPerSecond: 10,
		Kind:           registry.OverrideAccel,
		Rule:           selector.RingRule("idm"),
		SampleSize:     1,
	}
}

// #endregion config

// #region state
// State is everything a session carries between steps. It is a value: Advance returns
// a new State and never mutates the one passed in.
type State struct {
	Status        Status
	CycleIndex    int
	DurationSteps int                      // steps the current cycle has been applied
	Targets       []registry.VehicleHandle // chosen for the armed or running cycle
	Active        []registry.VehicleHandle // non-empty only while ACTIVE
	Overridden    []registry.VehicleHandle // vehicles whose override was turned on last step
	Seed          int64                    // seed of the next selection
}

// NewState starts an idle session whose first selection uses seed.
func NewState(seed int64) State {
	return State{Status: Idle, Seed: seed}
}

// DurationCounter is the elapsed duration of the current cycle in seconds.
// It is reported on every StepResult as Elapsed.
func (s State) DurationCounter(stepsPerSecond float64) float64 {
	if stepsPerSecond <= 0 {
		return 0
	}
	return float64(s.DurationSteps) / stepsPerSecond
}

func (s State) clone() State {
	s.Targets = append([]registry.VehicleHandle(nil), s.Targets...)
	s.Active = append([]registry.VehicleHandle(nil), s.Active...)
	s.Overridden = append([]registry.VehicleHandle(nil), s.Overridden...)
	return s
}

// #endregion state

// #region step-result
// StepResult describes what one Advance call did.
type StepResult struct {
	Step       int
	Status     Status
	Transition Transition               // last edge taken
	Path       []Transition             // every edge taken, in order
	Cycle      int                      // cycle the step acted on
	Elapsed    float64                  // seconds the running cycle has been applied
	Value      float64                  // override value while ACTIVE
	AppliedTo  []registry.VehicleHandle // overrides turned on this step
	Cleared    []registry.VehicleHandle // overrides turned off this step
	Selected   []registry.VehicleHandle // targets chosen this step, if any
	Warnings   []string
}

// Edges renders Path as a comma separated list, or the single Transition when no path
// was recorded.
func (r StepResult) Edges() string {
	if len(r.Path) == 0 {
		return string(r.Transition)
	}
	out := make([]string, len(r.Path))
	for i, t := range r.Path {
		out[i] = string(t)
	}
	return strings.Join(out, ",")
}

func (r *StepResult) take(t Transition) {
	r.Transition = t
	r.Path = append(r.Path, t)
}

// #endregion step-result
