package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/densityaware/shockharness/internal/control"
	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/session"
	"github.com/densityaware/shockharness/internal/transition"
)

// #region types
// Stages bundles the per-rollout components evaluated on every step, in order:
// control-law transition, shock session, then control resolution.
type Stages struct {
	Transition transition.Transition
	Method     string // law swapped in at warmup; targets resolved from ids when Transition.Targets is empty
	DefaultLaw string
	Session    *session.Session
	Controller control.Controller // nil leaves every vehicle on the simulator's own law
	Limits     control.Limits
}

// TickState is the explicit state carried between steps.
type TickState struct {
	Transition transition.State
	Session    session.State
}

// NewTickState starts a rollout whose first selection uses seed.
func NewTickState(seed int64) TickState {
	return TickState{Session: session.NewState(seed)}
}

// TickResult captures the outcome of one step through every stage.
type TickResult struct {
	Step    int
	Fired   bool
	Session session.StepResult
	Control control.Result
}

// #endregion types

// #region tick
// Pipeline runs the stages against one registry.
type Pipeline struct {
	stages Stages
	reg    registry.Registry
	log    *slog.Logger
}

// New creates a pipeline. log may be nil.
func New(stages Stages, reg registry.Registry, log *slog.Logger) (*Pipeline, error) {
	if stages.Session == nil {
		return nil, fmt.Errorf("pipeline: nil session")
	}
	if reg == nil {
		return nil, fmt.Errorf("pipeline: nil registry")
	}
	if stages.Limits == (control.Limits{}) {
		stages.Limits = control.DefaultLimits()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{stages: stages, reg: reg, log: log}, nil
}

// Tick advances every stage by one step. The control law swap is written before the
// session reads law identity, and overrides are written before commands are read.
func (p *Pipeline) Tick(st TickState, step int) (TickState, TickResult, error) {
	res := TickResult{Step: step}

	// 1. Transition
	tr := p.stages.Transition
	if st.Transition.Pending() && step == tr.WarmupStep && len(tr.Targets) == 0 {
		snap, err := registry.Snapshot(p.reg)
		if err != nil {
			return st, res, fmt.Errorf("tick %d: transition targets: %w", step, err)
		}
		tr.Targets = transition.MatchTargets(snap, p.stages.Method, p.stages.DefaultLaw)
		if tr.Law == "" {
			tr.Law = p.stages.Method
		}
	}
	trState, fired, err := tr.MaybeFire(p.reg, st.Transition, step)
	if err != nil {
		return st, res, fmt.Errorf("tick %d: %w", step, err)
	}
	res.Fired = fired
	if fired {
		p.log.Info("control law transition", "step", step, "law", tr.Law, "vehicles", len(tr.Targets))
	}

	// 2. Session
	sessState, sessRes, err := p.stages.Session.Advance(st.Session, step)
	if err != nil {
		return st, res, fmt.Errorf("tick %d: %w", step, err)
	}
	res.Session = sessRes

	// 3. Control
	snap, err := registry.Snapshot(p.reg)
	if err != nil {
		return st, res, fmt.Errorf("tick %d: snapshot: %w", step, err)
	}
	overrides := Overrides(sessRes, p.stages.Session.Kind())
	if p.stages.Controller == nil {
		res.Control = control.ResolveNative(snap, overrides)
	} else {
		nominal, err := p.stages.Controller.Commands(step, snap)
		if err != nil {
			return st, res, fmt.Errorf("tick %d: controller: %w", step, err)
		}
		res.Control = control.Resolve(snap, nominal, overrides, p.stages.Limits)
	}
	for _, w := range res.Control.Warnings {
		p.log.Warn(w, "step", step)
	}

	return TickState{Transition: trState, Session: sessState}, res, nil
}

// Overrides turns the overrides a session step left on into the form control.Resolve reads.
func Overrides(res session.StepResult, kind registry.OverrideKind) map[string]registry.Override {
	if len(res.AppliedTo) == 0 {
		return nil
	}
	out := make(map[string]registry.Override, len(res.AppliedTo))
	for _, h := range res.AppliedTo {
		out[h.ID] = registry.Override{Kind: kind, Value: res.Value, Active: true}
	}
	return out
}

// #endregion tick
