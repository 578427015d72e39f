package replay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/densityaware/shockharness/internal/config"
	"github.com/densityaware/shockharness/internal/selector"
)

// helper: fixture over a ring of n default-law vehicles with the default experiment.
func ringFixture(n, start, horizon int) *Fixture {
	f := &Fixture{Seed: 1, StartStep: start, Experiment: config.Default()}
	f.Experiment.Horizon = horizon
	for i := 0; i < n; i++ {
		f.Vehicles = append(f.Vehicles, FixtureVehicle{ID: fmt.Sprintf("human_%d", i), Edge: "bottom", Speed: 4, Law: "idm"})
	}
	return f
}

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

// 1. A reset mid-cycle makes the armed handles stale; the cycle retires with a warning.
func TestReplay_ResetInvalidatesTargets(t *testing.T) {
	f := ringFixture(3, 7998, 8010)
	f.Events = []FixtureEvent{{Step: 8002, Reset: true, Add: []FixtureVehicle{
		{ID: "human_0", Law: "idm"}, {ID: "human_1", Law: "idm"}, {ID: "human_2", Law: "idm"},
	}}}

	rep, err := Replay(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	mm := Compare(rep.Steps, []FixtureExpected{
		{Step: 8001, Transition: "ACTIVE->ACTIVE", Status: "ACTIVE", ShockedCount: intp(1)},
		{Step: 8002, Transition: "ACTIVE->COOLDOWN", Status: "COOLDOWN", Warned: boolp(true)},
	})
	for _, m := range mm {
		t.Error(m)
	}
}

// 2. No eligible vehicle at arming aborts the replay with the selection error.
func TestReplay_NoEligibleVehicles(t *testing.T) {
	f := ringFixture(0, 7998, 8010)
	f.Vehicles = []FixtureVehicle{{ID: "bcm_0", Law: "bcm"}}

	rep, err := Replay(context.Background(), f, nil)
	if !errors.Is(err, selector.ErrNoEligibleVehicles) {
		t.Fatalf("expected ErrNoEligibleVehicles, got %v", err)
	}
	if rep.Rollout.Steps != 1 {
		t.Fatalf("expected abort on the arming step, got %d steps", rep.Rollout.Steps)
	}
}

// 3. Compare reports every drifted field and missing steps.
func TestCompare_Mismatches(t *testing.T) {
	steps := []StepResult{{Step: 10, Transition: "IDLE->ARMED", Status: "ARMED", Fired: true}}
	mm := Compare(steps, []FixtureExpected{
		{Step: 10, Transition: "ARMED->ACTIVE", Status: "ACTIVE", ShockedCount: intp(1), Fired: boolp(false)},
		{Step: 11},
	})
	fields := map[string]bool{}
	for _, m := range mm {
		fields[m.Field] = true
	}
	for _, want := range []string{"transition", "status", "shocked_count", "fired", "step"} {
		if !fields[want] {
			t.Errorf("expected mismatch on %s, got %v", want, mm)
		}
	}
	if got := mm[0].String(); got != "step 10: transition want ARMED->ACTIVE, got IDLE->ARMED" {
		t.Errorf("unexpected mismatch text %q", got)
	}
}

// 4. Summarize counts every transition edge.
func TestSummarize(t *testing.T) {
	f := ringFixture(5, 7995, 8015)
	rep, err := Replay(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	s := Summarize(rep.Steps)
	if s.TotalSteps != 20 || s.ActiveSteps != 10 {
		t.Fatalf("unexpected summary %+v", s)
	}
	want := map[string]int{"IDLE->ARMED": 1, "ARMED->ACTIVE": 1, "ACTIVE->ACTIVE": 9, "ACTIVE->COOLDOWN": 1, "COOLDOWN->IDLE": 1}
	for k, v := range want {
		if s.Transitions[k] != v {
			t.Errorf("%s: expected %d, got %d", k, v, s.Transitions[k])
		}
	}
	if names := s.TransitionNames(); len(names) != 5 || names[0] != "ACTIVE->ACTIVE" {
		t.Fatalf("unexpected transition names %v", names)
	}
}
