package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/schedule"
	"github.com/densityaware/shockharness/internal/selector"
	"github.com/densityaware/shockharness/internal/shock"
)

// #region session
// Session drives disturbance cycles for one rollout. It holds only immutable inputs;
// all mutable data lives in the State passed through Advance.
type Session struct {
	cfg   Config
	model shock.Model
	sched schedule.Schedule
	reg   registry.Registry
	log   *slog.Logger
}

// New validates the inputs and creates a session. log may be nil.
func New(cfg Config, model shock.Model, sched schedule.Schedule, reg registry.Registry, log *slog.Logger) (*Session, error) {
	if reg == nil {
		return nil, errors.New("session: nil registry")
	}
	if cfg.StepsPerSecond <= 0 {
		return nil, fmt.Errorf("session: steps per second %v", cfg.StepsPerSecond)
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("session: unknown override kind %q", cfg.Kind)
	}
	if cfg.GlobalEnd <= cfg.GlobalStart {
		return nil, fmt.Errorf("session: %w: [%d, %d]", schedule.ErrInvalidSpan, cfg.GlobalStart, cfg.GlobalEnd)
	}
	if cfg.ArmStep > cfg.GlobalEnd {
		return nil, fmt.Errorf("session: arm step %d after activation end %d", cfg.ArmStep, cfg.GlobalEnd)
	}
	for _, w := range sched.Windows {
		if w.Cycle < 0 || w.Cycle >= len(model.Intensities) || w.Cycle >= len(model.Durations) {
			return nil, fmt.Errorf("session: window cycle %d outside model of %d cycles", w.Cycle, model.RepeatCount)
		}
	}
	if cfg.Enabled && sched.Len() > 0 {
		if err := cfg.Rule.Validate(); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{cfg: cfg, model: model, sched: sched, reg: reg, log: log}, nil
}

// RepeatCount is the number of cycles this session will run.
func (s *Session) RepeatCount() int { return s.sched.Len() }

// Terminal reports whether every cycle has completed.
func (s *Session) Terminal(st State) bool { return st.CycleIndex >= s.sched.Len() }

// Kind is the override the session writes.
func (s *Session) Kind() registry.OverrideKind { return s.cfg.Kind }

// Schedule returns the windows the session runs against.
func (s *Session) Schedule() schedule.Schedule { return s.sched }

// #endregion session

// #region advance
// Advance moves the session through one simulation step.
//
// Overrides written on the previous step are always turned off first; only vehicles
// that are ACTIVE on this step get their override turned back on. Apart from arming and
// that cleanup, steps outside [GlobalStart, GlobalEnd] are no-ops. A cycle that retires
// with cycles remaining re-arms on the same step and activates at once if the next
// window is already open. Errors are fatal to the rollout.
func (s *Session) Advance(prev State, step int) (State, StepResult, error) {
	st := prev.clone()
	res := StepResult{Step: step, Cycle: st.CycleIndex}

	if len(st.Overridden) > 0 {
		cleared, err := s.clear(st.Overridden)
		if err != nil {
			return prev, res, fmt.Errorf("step %d cycle %d: clear overrides: %w", step, st.CycleIndex, err)
		}
		res.Cleared = cleared
		st.Overridden = nil
	}

	inRange := step >= s.cfg.GlobalStart && step <= s.cfg.GlobalEnd

	var err error
	switch st.Status {
	case Idle:
		if s.cfg.Enabled && step == s.cfg.ArmStep && !s.Terminal(st) {
			st, res, err = s.arm(st, res)
		}
	case Armed:
		if inRange && step >= s.window(st).Start {
			st, res, err = s.activate(st, res)
		}
	case Active:
		st, res, err = s.hold(st, res, step)
		if err == nil && st.Status == Cooldown && !s.Terminal(st) {
			st, res, err = s.rearm(st, res, step, inRange)
		}
	case Cooldown:
		if s.Terminal(st) {
			st.Status = Idle
			res.take(CoolToIdle)
		} else {
			st, res, err = s.rearm(st, res, step, inRange)
		}
	}
	if err != nil {
		return prev, res, fmt.Errorf("step %d cycle %d: %w", step, st.CycleIndex, err)
	}

	res.Status = st.Status
	res.Elapsed = st.DurationCounter(s.cfg.StepsPerSecond)
	if res.Transition != NoOp && res.Transition != ActiveToActive {
		s.log.Info("shock transition", "step", step, "transition", res.Edges(),
			"cycle", res.Cycle, "vehicles", len(res.AppliedTo), "elapsed", res.Elapsed)
	}
	for _, w := range res.Warnings {
		s.log.Warn(w, "step", step, "cycle", res.Cycle)
	}
	return st, res, nil
}

// #endregion advance

// #region stages
func (s *Session) arm(st State, res StepResult) (State, StepResult, error) {
	targets, err := s.selectTargets(&st)
	if err != nil {
		return st, res, err
	}
	st.Targets = targets
	st.Status = Armed
	res.Selected = targets
	res.take(IdleToArmed)
	return st, res, nil
}

func (s *Session) activate(st State, res StepResult) (State, StepResult, error) {
	value := s.model.Intensities[s.window(st).Cycle]
	applied, warnings, err := s.apply(st.Targets, value)
	if err != nil {
		return st, res, err
	}
	res.Warnings = append(res.Warnings, warnings...)
	if len(applied) == 0 {
		// every armed target left the network before its window opened
		targets, err := s.selectTargets(&st)
		if err != nil {
			return st, res, err
		}
		st.Targets = targets
		res.Selected = targets
		applied, warnings, err = s.apply(targets, value)
		if err != nil {
			return st, res, err
		}
		res.Warnings = append(res.Warnings, warnings...)
		if len(applied) == 0 {
			return st, res, selector.ErrNoEligibleVehicles
		}
	}
	st.Active = applied
	st.Overridden = applied
	st.DurationSteps = 1
	st.Status = Active
	res.Cycle = st.CycleIndex
	res.AppliedTo = applied
	res.Value = value
	res.take(ArmedToActive)
	return st, res, nil
}

func (s *Session) hold(st State, res StepResult, step int) (State, StepResult, error) {
	w := s.window(st)
	need := s.model.DurationSteps(w.Cycle, s.cfg.StepsPerSecond)
	if st.DurationSteps >= need || step > w.End {
		if st.DurationSteps < need {
			res.Warnings = append(res.Warnings, fmt.Sprintf("window ended after %d of %d steps", st.DurationSteps, need))
		}
		return s.retire(st, res)
	}

	value := s.model.Intensities[w.Cycle]
	applied, warnings, err := s.apply(st.Active, value)
	if err != nil {
		return st, res, err
	}
	res.Warnings = append(res.Warnings, warnings...)
	if len(applied) == 0 {
		res.Warnings = append(res.Warnings, "all shocked vehicles left the network")
		return s.retire(st, res)
	}
	st.Active = applied
	st.Overridden = applied
	st.DurationSteps++
	res.AppliedTo = applied
	res.Value = value
	res.take(ActiveToActive)
	return st, res, nil
}

func (s *Session) retire(st State, res StepResult) (State, StepResult, error) {
	st.CycleIndex++
	st.DurationSteps = 0
	st.Active = nil
	st.Targets = nil
	st.Status = Cooldown
	res.take(ActiveToCool)
	if !s.Terminal(st) {
		targets, err := s.selectTargets(&st)
		if err != nil {
			return st, res, err
		}
		st.Targets = targets
		res.Selected = targets
	}
	return st, res, nil
}

// rearm leaves COOLDOWN for the next cycle and activates on the same step once that
// cycle's window has opened, so no step of the window is lost to bookkeeping.
func (s *Session) rearm(st State, res StepResult, step int, inRange bool) (State, StepResult, error) {
	st.Status = Armed
	res.take(CoolToArmed)
	if inRange && step >= s.window(st).Start {
		return s.activate(st, res)
	}
	return st, res, nil
}

// #endregion stages

// #region registry-io
func (s *Session) window(st State) schedule.Window {
	return s.sched.Windows[st.CycleIndex]
}

func (s *Session) selectTargets(st *State) ([]registry.VehicleHandle, error) {
	snap, err := registry.Snapshot(s.reg)
	if err != nil {
		return nil, err
	}
	targets, err := selector.Select(snap, s.cfg.Rule, s.cfg.SampleSize, st.Seed)
	st.Seed = selector.NextSeed(st.Seed)
	if err != nil {
		return nil, fmt.Errorf("select targets: %w", err)
	}
	return targets, nil
}

// apply turns the override on for every handle that still resolves.
func (s *Session) apply(hs []registry.VehicleHandle, value float64) ([]registry.VehicleHandle, []string, error) {
	applied := make([]registry.VehicleHandle, 0, len(hs))
	var warnings []string
	for _, h := range hs {
		err := s.reg.SetOverride(h, s.cfg.Kind, value, true)
		if registry.IsGone(err) {
			warnings = append(warnings, fmt.Sprintf("vehicle %s gone, dropped from cycle", h.ID))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("set override %s: %w", h, err)
		}
		if err := s.reg.SetMarker(h, registry.ShockColor); err != nil {
			s.log.Debug("set marker failed", "vehicle", h.ID, "err", err)
		}
		applied = append(applied, h)
	}
	return applied, warnings, nil
}

// clear turns the override off. Vehicles that are gone need no clearing.
func (s *Session) clear(hs []registry.VehicleHandle) ([]registry.VehicleHandle, error) {
	cleared := make([]registry.VehicleHandle, 0, len(hs))
	for _, h := range hs {
		err := s.reg.SetOverride(h, s.cfg.Kind, 0, false)
		if registry.IsGone(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", h, err)
		}
		cleared = append(cleared, h)
	}
	return cleared, nil
}

// #endregion registry-io
