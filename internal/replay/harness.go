package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/densityaware/shockharness/internal/control"
	"github.com/densityaware/shockharness/internal/pipeline"
	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/session"
)

// #region types
// StepResult is the replayed outcome of one step.
type StepResult struct {
	Step       int
	Transition string
	Status     string
	Cycle      int
	Shocked    []string
	Fired      bool
	Warnings   []string
}

// Report is everything one replay produced.
type Report struct {
	Steps   []StepResult
	Rollout pipeline.Summary
	Final   []registry.Vehicle // network after the last step
}

// ReplaySummary counts transitions across a replay.
type ReplaySummary struct {
	TotalSteps  int
	ActiveSteps int
	Transitions map[string]int
	Warnings    int
}

// Mismatch is one expected field that the replay did not reproduce.
type Mismatch struct {
	Step  int
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("step %d: %s want %s, got %s", m.Step, m.Field, m.Want, m.Got)
}

// #endregion types

// #region scripted
// scripted is an in-memory simulator whose network only changes through fixture events.
type scripted struct {
	*registry.Memory
	events map[int][]FixtureEvent
}

func (s *scripted) at(step int) {
	for _, e := range s.events[step] {
		e.apply(s.Memory)
	}
	s.SetStep(step)
}

func (s *scripted) Advance(_ context.Context, _ []control.Command) error {
	s.at(s.CurrentStep() + 1)
	return nil
}

// #endregion scripted

// #region replay
// Replay runs the fixture's experiment through the full pipeline over a scripted
// network: transition, session, control, then the fixture events of the next step.
// Operates entirely in-memory.
func Replay(ctx context.Context, f *Fixture, log *slog.Logger) (Report, error) {
	sim := &scripted{
		Memory: registry.NewMemory(),
		events: lo.GroupBy(f.Events, func(e FixtureEvent) int { return e.Step }),
	}
	for _, v := range f.Vehicles {
		sim.Put(v.ID, v.State())
	}
	sim.at(f.StartStep)

	var rep Report
	collect := pipeline.SinkFunc(func(_ context.Context, _ string, res pipeline.TickResult) error {
		rep.Steps = append(rep.Steps, StepResult{
			Step:       res.Step,
			Transition: res.Session.Edges(),
			Status:     string(res.Session.Status),
			Cycle:      res.Session.Cycle,
			Shocked:    res.Control.Shocked(),
			Fired:      res.Fired,
			Warnings:   append(append([]string(nil), res.Session.Warnings...), res.Control.Warnings...),
		})
		return nil
	})

	sum, err := pipeline.Run(ctx, sim, nil, f.Experiment.RolloutConfig(), "replay", f.Seed, log, collect)
	rep.Rollout = sum
	if err != nil {
		return rep, err
	}
	rep.Final, err = registry.Snapshot(sim)
	return rep, err
}

// Compare checks every expected step against the replay.
func Compare(steps []StepResult, expected []FixtureExpected) []Mismatch {
	byStep := lo.KeyBy(steps, func(s StepResult) int { return s.Step })
	var out []Mismatch
	for _, e := range expected {
		got, ok := byStep[e.Step]
		if !ok {
			out = append(out, Mismatch{Step: e.Step, Field: "step", Want: "replayed", Got: "missing"})
			continue
		}
		if got.Transition != e.Transition {
			out = append(out, Mismatch{Step: e.Step, Field: "transition", Want: e.Transition, Got: got.Transition})
		}
		if got.Status != e.Status {
			out = append(out, Mismatch{Step: e.Step, Field: "status", Want: e.Status, Got: got.Status})
		}
		if e.ShockedCount != nil && len(got.Shocked) != *e.ShockedCount {
			out = append(out, Mismatch{Step: e.Step, Field: "shocked_count",
				Want: fmt.Sprint(*e.ShockedCount), Got: fmt.Sprint(len(got.Shocked))})
		}
		if e.Fired != nil && got.Fired != *e.Fired {
			out = append(out, Mismatch{Step: e.Step, Field: "fired", Want: fmt.Sprint(*e.Fired), Got: fmt.Sprint(got.Fired)})
		}
		if e.Warned != nil && (len(got.Warnings) > 0) != *e.Warned {
			out = append(out, Mismatch{Step: e.Step, Field: "warned", Want: fmt.Sprint(*e.Warned), Got: fmt.Sprint(len(got.Warnings) > 0)})
		}
	}
	return out
}

// Summarize computes aggregate stats from replayed steps.
func Summarize(steps []StepResult) ReplaySummary {
	s := ReplaySummary{TotalSteps: len(steps), Transitions: map[string]int{}}
	for _, r := range steps {
		if r.Transition != "" {
			for _, t := range strings.Split(r.Transition, ",") {
				s.Transitions[t]++
			}
		}
		if r.Status == string(session.Active) {
			s.ActiveSteps++
		}
		s.Warnings += len(r.Warnings)
	}
	return s
}

// TransitionNames lists the transitions seen in s, sorted.
func (s ReplaySummary) TransitionNames() []string {
	names := lo.Keys(s.Transitions)
	sort.Strings(names)
	return names
}

// #endregion replay
