package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/densityaware/shockharness/internal/control"
	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/schedule"
	"github.com/densityaware/shockharness/internal/selector"
	"github.com/densityaware/shockharness/internal/session"
	"github.com/densityaware/shockharness/internal/shock"
	"github.com/densityaware/shockharness/internal/transition"
)

// #region rollout-types
// Simulator is a registry that can also be stepped forward.
type Simulator interface {
	registry.Registry
	Advance(ctx context.Context, cmds []control.Command) error
}

// Sink receives every tick of a rollout.
type Sink interface {
	Record(ctx context.Context, rollout string, res TickResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rollout string, res TickResult) error

func (f SinkFunc) Record(ctx context.Context, rollout string, res TickResult) error {
	return f(ctx, rollout, res)
}

// RolloutConfig describes one experiment; every rollout of a batch shares it.
type RolloutConfig struct {
	Horizon    int // last step, exclusive
	ModelID    int
	Shaping    shock.Shaping
	Session    session.Config
	Policy     schedule.OverlapPolicy
	WarmupStep int
	Method     string // control law swapped in at warmup; the default law means none
	DefaultLaw string
	LawParams  map[string]float64
	Limits     control.Limits
}

// DefaultRolloutConfig is the ring stability evaluation with the default law everywhere.
func DefaultRolloutConfig() RolloutConfig {
	sess := session.DefaultConfig()
	sess.Kind = registry.OverrideMaxSpeed
	return RolloutConfig{
		Horizon:    11500,
		ModelID:    shock.StabilityModelID,
		Shaping:    shock.DefaultShaping(),
		Session:    sess,
		Policy:     schedule.PolicyMerge,
		WarmupStep: sess.ArmStep,
		Method:     "idm",
		DefaultLaw: "idm",
		Limits:     control.DefaultLimits(),
	}
}

// ErrLateStart reports a simulator that is already past the step at which the rollout
// arms its first shock or swaps control laws.
var ErrLateStart = errors.New("simulator started after the arming step")

// ErrNoDisturbance reports a rollout that reached its horizon without applying any shock.
var ErrNoDisturbance = errors.New("horizon reached without a disturbance")

// Summary describes a finished (or aborted) rollout.
type Summary struct {
	Rollout     string
	Seed        int64
	Model       shock.Model
	Schedule    schedule.Schedule
	Steps       int
	Cycles      int
	ActiveSteps int
	Warnings    int
	Fired       bool
	Incomplete  bool // horizon reached before every cycle ran
}

// #endregion rollout-types

// #region prepare
// Prepare draws the model and builds the schedule of one rollout. The model stream and
// the selection stream both derive from seed but never share draws.
func Prepare(cfg RolloutConfig, seed int64) (shock.Model, schedule.Schedule, error) {
	model, err := shock.Generate(cfg.ModelID, cfg.Shaping, rand.New(rand.NewSource(seed)))
	if err != nil {
		return shock.Model{}, schedule.Schedule{}, fmt.Errorf("prepare: %w", err)
	}
	if !cfg.Session.Enabled || !model.Enabled() {
		return model, schedule.Schedule{}, nil
	}
	sched, err := schedule.Build(cfg.Session.GlobalStart, cfg.Session.GlobalEnd,
		model.MaxDurationSteps(cfg.Session.StepsPerSecond), model.RepeatCount, cfg.Policy)
	if err != nil {
		return shock.Model{}, schedule.Schedule{}, fmt.Errorf("prepare: %w", err)
	}
	return model, sched, nil
}

// #endregion prepare

// #region run
// Run drives one rollout from the simulator's current step to cfg.Horizon.
//
// Every step goes through Tick, then every sink, then the simulator. Any error aborts
// the rollout; the summary up to that point is still returned.
func Run(ctx context.Context, sim Simulator, ctrl control.Controller, cfg RolloutConfig, id string, seed int64, log *slog.Logger, sinks ...Sink) (Summary, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("rollout", id)
	sum := Summary{Rollout: id, Seed: seed}

	model, sched, err := Prepare(cfg, seed)
	if err != nil {
		return sum, fmt.Errorf("rollout %s: %w", id, err)
	}
	sum.Model, sum.Schedule = model, sched
	schedule.LogWarnings(log, sched)

	sess, err := session.New(cfg.Session, model, sched, sim, log)
	if err != nil {
		return sum, fmt.Errorf("rollout %s: %w", id, err)
	}
	p, err := New(Stages{
		Transition: transition.Transition{WarmupStep: cfg.WarmupStep, Law: cfg.Method, Params: cfg.LawParams},
		Method:     cfg.Method,
		DefaultLaw: cfg.DefaultLaw,
		Session:    sess,
		Controller: ctrl,
		Limits:     cfg.Limits,
	}, sim, log)
	if err != nil {
		return sum, fmt.Errorf("rollout %s: %w", id, err)
	}

	shocks := cfg.Session.Enabled && sched.Len() > 0
	start := sim.CurrentStep()
	if err := checkStart(cfg, shocks, start); err != nil {
		return sum, fmt.Errorf("rollout %s: %w", id, err)
	}

	st := NewTickState(selector.NextSeed(seed))
	for step := start; step < cfg.Horizon; step++ {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("rollout %s: step %d: %w", id, step, err)
		}
		next, res, err := p.Tick(st, step)
		if err != nil {
			return sum, fmt.Errorf("rollout %s: %w", id, err)
		}
		st = next
		sum.Steps++
		sum.Cycles = st.Session.CycleIndex
		sum.Fired = sum.Fired || res.Fired
		sum.Warnings += len(res.Session.Warnings) + len(res.Control.Warnings)
		if res.Session.Status == session.Active {
			sum.ActiveSteps++
		}

		var sinkErr error
		for _, s := range sinks {
			sinkErr = errors.Join(sinkErr, s.Record(ctx, id, res))
		}
		if sinkErr != nil {
			return sum, fmt.Errorf("rollout %s: step %d: record: %w", id, step, sinkErr)
		}
		if err := sim.Advance(ctx, res.Control.Commands); err != nil {
			return sum, fmt.Errorf("rollout %s: step %d: advance simulator: %w", id, step, err)
		}
	}
	if shocks && !sess.Terminal(st.Session) {
		if sum.ActiveSteps == 0 {
			return sum, fmt.Errorf("rollout %s: %w (%d cycles scheduled)", id, ErrNoDisturbance, sess.RepeatCount())
		}
		sum.Incomplete = true
		sum.Warnings++
		log.Warn("horizon reached before every shock cycle ran", "cycles", sum.Cycles, "repeat_count", sess.RepeatCount())
	}
	log.Info("rollout finished", "steps", sum.Steps, "cycles", sum.Cycles, "active_steps", sum.ActiveSteps)
	return sum, nil
}

// checkStart rejects a simulator that would skip arming or the control-law swap.
func checkStart(cfg RolloutConfig, shocks bool, start int) error {
	if shocks && start > cfg.Session.ArmStep {
		return fmt.Errorf("%w: step %d, shocks arm at %d", ErrLateStart, start, cfg.Session.ArmStep)
	}
	if cfg.Method != "" && cfg.Method != cfg.DefaultLaw && start > cfg.WarmupStep {
		return fmt.Errorf("%w: step %d, %s takes over at %d", ErrLateStart, start, cfg.Method, cfg.WarmupStep)
	}
	return nil
}

// #endregion run
