package session

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/schedule"
	"github.com/densityaware/shockharness/internal/selector"
	"github.com/densityaware/shockharness/internal/shock"
)

// helper: ring of n human vehicles all driven by idm.
func ring(n int) *registry.Memory {
	m := registry.NewMemory()
	for i := 0; i < n; i++ {
		m.Put(fmt.Sprintf("human_%d", i), registry.VehicleState{
			Edge: "bottom", Position: float64(i) * 10, Speed: 4, Law: "idm",
		})
	}
	return m
}

func stabilityModel() shock.Model {
	return shock.Model{ID: -1, Intensities: []float64{3}, Durations: []float64{1}, RepeatCount: 1}
}

func newSession(t *testing.T, cfg Config, model shock.Model, reg registry.Registry) *Session {
	t.Helper()
	sched, err := schedule.Build(cfg.GlobalStart, cfg.GlobalEnd,
		model.DurationSteps(0, cfg.StepsPerSecond), model.RepeatCount, schedule.PolicyMerge)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s, err := New(cfg, model, sched, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestEndToEndSingleStabilityShock(t *testing.T) {
	reg := ring(22)
	cfg := DefaultConfig()
	cfg.Kind = registry.OverrideMaxSpeed
	s := newSession(t, cfg, stabilityModel(), reg)

	st := NewState(11)
	var activeSteps []int
	for step := 7990; step <= 8100; step++ {
		reg.SetStep(step)
		next, res, err := s.Advance(st, step)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if res.Status == Active {
			activeSteps = append(activeSteps, step)
			if res.Value != 3 {
				t.Fatalf("step %d: expected override value 3, got %f", step, res.Value)
			}
		}
		st = next
	}

	if len(activeSteps) != 10 {
		t.Fatalf("expected 10 active steps, got %d: %v", len(activeSteps), activeSteps)
	}
	if activeSteps[0] != 8000 || activeSteps[9] != 8009 {
		t.Fatalf("expected active steps 8000..8009, got %v", activeSteps)
	}
	if st.CycleIndex != 1 {
		t.Fatalf("expected cycle index 1, got %d", st.CycleIndex)
	}
	if !s.Terminal(st) {
		t.Fatal("expected terminal session")
	}
	if st.Status != Idle {
		t.Fatalf("expected IDLE after cooldown, got %s", st.Status)
	}
	if got := reg.ActiveOverrides(); len(got) != 0 {
		t.Fatalf("expected no active overrides after the cycle, got %v", got)
	}
}

func TestTransitionsSequence(t *testing.T) {
	reg := ring(5)
	cfg := DefaultConfig()
	cfg.ArmStep = 7995
	s := newSession(t, cfg, stabilityModel(), reg)

	st := NewState(1)
	var seq []Transition
	for step := 7990; step <= 8020; step++ {
		next, res, err := s.Advance(st, step)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if res.Transition != NoOp && res.Transition != ActiveToActive {
			seq = append(seq, res.Transition)
		}
		st = next
	}
	want := []Transition{IdleToArmed, ArmedToActive, ActiveToCool, CoolToIdle}
	if !reflect.DeepEqual(seq, want) {
		t.Fatalf("expected %v, got %v", want, seq)
	}
}

func TestRepeatedCyclesReselect(t *testing.T) {
	reg := ring(22)
	cfg := DefaultConfig()
	cfg.GlobalStart = 100
	cfg.GlobalEnd = 400
	cfg.ArmStep = 100
	model := shock.Model{
		ID:          2,
		Intensities: []float64{-1, -1.5, -2},
		Durations:   []float64{2, 2, 2},
		RepeatCount: 3,
	}
	s := newSession(t, cfg, model, reg)

	st := NewState(2024)
	selections := 0
	values := map[float64]int{}
	for step := 0; step <= 450; step++ {
		next, res, err := s.Advance(st, step)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if res.Selected != nil {
			selections++
		}
		if res.Status == Active {
			values[res.Value]++
		}
		if next.CycleIndex > s.RepeatCount() {
			t.Fatalf("cycle index %d exceeds repeat count", next.CycleIndex)
		}
		st = next
	}
	// one at arming plus one after each non-final cycle
	if selections != 3 {
		t.Fatalf("expected 3 selections, got %d", selections)
	}
	for _, v := range model.Intensities {
		if values[v] != 20 {
			t.Errorf("intensity %v: expected 20 active steps, got %d", v, values[v])
		}
	}
	if st.CycleIndex != 3 {
		t.Fatalf("expected 3 completed cycles, got %d", st.CycleIndex)
	}
}

// Closely spaced windows: each cycle starts as soon as its window is open and the
// previous cycle has retired, and runs its full duration unless the window is clipped.
func TestCloselySpacedCyclesRunFullDuration(t *testing.T) {
	cases := []struct {
		name       string
		end        int
		policy     schedule.OverlapPolicy
		wantFirst  []int
		wantActive []int
	}{
		{"disjoint windows", 43, schedule.PolicyMerge, []int{0, 11, 22, 33}, []int{10, 10, 10, 10}},
		{"touching windows merged", 40, schedule.PolicyMerge, []int{0, 10, 20, 30}, []int{10, 10, 10, 10}},
		{"touching windows queued", 40, schedule.PolicyQueue, []int{0, 11, 22, 33}, []int{10, 10, 10, 8}},
		{"touching windows dropped", 40, schedule.PolicyDrop, []int{0, 20}, []int{10, 10}},
	}
	model := shock.Model{
		ID:          3,
		Intensities: []float64{-1, -1.5, -2, -2.5},
		Durations:   []float64{1, 1, 1, 1},
		RepeatCount: 4,
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := ring(22)
			cfg := DefaultConfig()
			cfg.GlobalStart, cfg.GlobalEnd, cfg.ArmStep = 0, tc.end, -1
			sched, err := schedule.Build(cfg.GlobalStart, cfg.GlobalEnd, 10, model.RepeatCount, tc.policy)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			s, err := New(cfg, model, sched, reg, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			n := s.RepeatCount()
			first := make([]int, n)
			active := make([]int, n)
			retired := make([]int, n)
			for i := range first {
				first[i] = -1
			}
			st := NewState(9)
			for step := -1; step <= tc.end+5; step++ {
				next, res, err := s.Advance(st, step)
				if err != nil {
					t.Fatalf("step %d: %v", step, err)
				}
				for _, e := range res.Path {
					if e == ActiveToCool {
						retired[st.CycleIndex] = step
					}
				}
				if res.Status == Active {
					if first[res.Cycle] < 0 {
						first[res.Cycle] = step
						if res.Elapsed != 0.1 {
							t.Fatalf("step %d: expected 0.1s elapsed on activation, got %v", step, res.Elapsed)
						}
					}
					active[res.Cycle]++
				}
				st = next
			}

			if !reflect.DeepEqual(first, tc.wantFirst) {
				t.Fatalf("first active steps: expected %v, got %v", tc.wantFirst, first)
			}
			if !reflect.DeepEqual(active, tc.wantActive) {
				t.Fatalf("active step counts: expected %v, got %v", tc.wantActive, active)
			}
			for k := 1; k < n; k++ {
				if want := max(sched.Windows[k].Start, retired[k-1]); first[k] != want {
					t.Errorf("cycle %d: expected first active step %d, got %d", k, want, first[k])
				}
			}
			if !s.Terminal(st) || st.Status != Idle {
				t.Fatalf("expected terminal IDLE session, got %+v", st)
			}
			if got := reg.ActiveOverrides(); len(got) != 0 {
				t.Fatalf("overrides left on: %v", got)
			}
		})
	}
}

func TestRetirementChainsIntoNextActivation(t *testing.T) {
	reg := ring(22)
	cfg := DefaultConfig()
	cfg.GlobalStart, cfg.GlobalEnd, cfg.ArmStep = 0, 40, -1
	model := shock.Model{Intensities: []float64{-1, -2}, Durations: []float64{1, 1}, RepeatCount: 2}
	sched, _ := schedule.Build(0, 20, 10, 2, schedule.PolicyMerge)
	s, err := New(cfg, model, sched, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	st := NewState(4)
	var res StepResult
	for step := -1; step <= 10; step++ {
		if st, res, err = s.Advance(st, step); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
	}
	want := []Transition{ActiveToCool, CoolToArmed, ArmedToActive}
	if !reflect.DeepEqual(res.Path, want) {
		t.Fatalf("expected path %v, got %v", want, res.Path)
	}
	if res.Transition != ArmedToActive || res.Cycle != 1 || res.Value != -2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := res.Edges(); got != "ACTIVE->COOLDOWN,COOLDOWN->ARMED,ARMED->ACTIVE" {
		t.Fatalf("unexpected edges %q", got)
	}
	if len(res.Selected) != 1 || len(res.AppliedTo) != 1 || res.AppliedTo[0] != res.Selected[0] {
		t.Fatalf("expected the reselected target to be shocked at once: %+v", res)
	}
}

func TestAdvanceDeterministic(t *testing.T) {
	run := func() []StepResult {
		reg := ring(22)
		cfg := DefaultConfig()
		cfg.GlobalStart, cfg.GlobalEnd, cfg.ArmStep = 10, 200, 10
		cfg.SampleSize = 3
		model := shock.Model{Intensities: []float64{-1, -1}, Durations: []float64{1.5, 1.5}, RepeatCount: 2}
		s := newSession(t, cfg, model, reg)
		st := NewState(77)
		var out []StepResult
		for step := 0; step <= 220; step++ {
			next, res, err := s.Advance(st, step)
			if err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
			out = append(out, res)
			st = next
		}
		return out
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Fatal("two runs with the same seed diverged")
	}
}

func TestStateInvariants(t *testing.T) {
	reg := ring(10)
	cfg := DefaultConfig()
	cfg.GlobalStart, cfg.GlobalEnd, cfg.ArmStep = 50, 150, 40
	model := shock.Model{Intensities: []float64{-2, -2}, Durations: []float64{3, 3}, RepeatCount: 2}
	s := newSession(t, cfg, model, reg)

	st := NewState(5)
	for step := 0; step <= 200; step++ {
		next, res, err := s.Advance(st, step)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		switch next.Status {
		case Idle, Cooldown:
			if len(next.Active) != 0 {
				t.Fatalf("step %d: %s with active vehicles %v", step, next.Status, next.Active)
			}
		case Active:
			if len(next.Active) == 0 {
				t.Fatalf("step %d: ACTIVE without vehicles", step)
			}
		}
		// default-off: outside an active step no vehicle keeps its override
		if res.Status != Active {
			if got := reg.ActiveOverrides(); len(got) != 0 {
				t.Fatalf("step %d (%s): overrides still on for %v", step, res.Status, got)
			}
		}
		st = next
	}
}

func TestOutOfRangeIsNoOp(t *testing.T) {
	reg := ring(3)
	cfg := DefaultConfig()
	s := newSession(t, cfg, stabilityModel(), reg)

	st := NewState(1)
	next, res, err := s.Advance(st, 100)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if res.Transition != NoOp {
		t.Fatalf("expected no-op, got %s", res.Transition)
	}
	if !reflect.DeepEqual(next, st) {
		t.Fatalf("state changed on a no-op step: %+v", next)
	}
}

func TestDisabledNeverArms(t *testing.T) {
	reg := ring(3)
	cfg := DefaultConfig()
	cfg.Enabled = false
	s := newSession(t, cfg, stabilityModel(), reg)

	st := NewState(1)
	for step := 7999; step <= 8020; step++ {
		next, res, err := s.Advance(st, step)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if res.Transition != NoOp {
			t.Fatalf("step %d: disabled session moved: %s", step, res.Transition)
		}
		st = next
	}
}

func TestNoEligibleVehiclesAbortsRollout(t *testing.T) {
	reg := ring(3)
	cfg := DefaultConfig()
	cfg.Rule = selector.RingRule("bcm")
	s := newSession(t, cfg, stabilityModel(), reg)

	_, _, err := s.Advance(NewState(1), cfg.ArmStep)
	if !errors.Is(err, selector.ErrNoEligibleVehicles) {
		t.Fatalf("expected ErrNoEligibleVehicles, got %v", err)
	}
}

func TestTargetLeavingNetworkRetiresCycle(t *testing.T) {
	reg := ring(1)
	cfg := DefaultConfig()
	model := shock.Model{Intensities: []float64{-1}, Durations: []float64{5}, RepeatCount: 1}
	s := newSession(t, cfg, model, reg)

	st := NewState(1)
	st, _, err := s.Advance(st, cfg.ArmStep)
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	st, res, err := s.Advance(st, cfg.GlobalStart)
	if err != nil || res.Transition != ArmedToActive {
		t.Fatalf("activate: %v %s", err, res.Transition)
	}
	reg.Remove("human_0")
	st, res, err = s.Advance(st, cfg.GlobalStart+1)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if res.Transition != ActiveToCool {
		t.Fatalf("expected retirement, got %s", res.Transition)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning about the vanished vehicle")
	}
	if !s.Terminal(st) {
		t.Fatal("expected terminal session")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	reg := ring(1)
	sched, _ := schedule.Build(0, 10, 1, 1, schedule.PolicyMerge)
	cfg := DefaultConfig()
	cfg.StepsPerSecond = 0
	if _, err := New(cfg, stabilityModel(), sched, reg, nil); err == nil {
		t.Fatal("expected error for zero steps per second")
	}
	cfg = DefaultConfig()
	cfg.Kind = "brake"
	if _, err := New(cfg, stabilityModel(), sched, reg, nil); err == nil {
		t.Fatal("expected error for unknown override kind")
	}
	cfg = DefaultConfig()
	if _, err := New(cfg, shock.Model{}, sched, reg, nil); err == nil {
		t.Fatal("expected error for windows without model cycles")
	}
}
