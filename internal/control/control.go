package control

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/densityaware/shockharness/internal/registry"
)

// #region types
// Controller produces the nominal acceleration command of every vehicle it drives.
// A vehicle it has no answer for is simply absent from the map.
type Controller interface {
	Commands(step int, snapshot []registry.Vehicle) (map[string]float64, error)
}

// Func adapts a plain function to Controller.
type Func func(step int, snapshot []registry.Vehicle) (map[string]float64, error)

func (f Func) Commands(step int, snapshot []registry.Vehicle) (map[string]float64, error) {
	return f(step, snapshot)
}

// Relax drives every vehicle toward target speed with time constant tau seconds.
// It is the nominal law of the offline kinematic ring, where there is no car following.
func Relax(target, tau float64) Controller {
	return Func(func(_ int, snapshot []registry.Vehicle) (map[string]float64, error) {
		if tau <= 0 {
			return nil, fmt.Errorf("relax: tau %v must be positive", tau)
		}
		out := make(map[string]float64, len(snapshot))
		for _, v := range snapshot {
			out[v.Handle.ID] = (target - v.State.Speed) / tau
		}
		return out, nil
	})
}

// Limits bound nominal commands. Shock overrides are passed through unclamped.
type Limits struct {
	MaxAccel float64 // m/s^2, > 0
	MaxDecel float64 // m/s^2, > 0, applied as -MaxDecel
}

// DefaultLimits uses the simulator's default car-following bounds.
func DefaultLimits() Limits {
	return Limits{MaxAccel: 2.6, MaxDecel: 7.5}
}

// Command is the resolved command for one vehicle on one step.
type Command struct {
	ID       string
	Accel    float64
	MaxSpeed float64 // 0 means no speed cap this step
	Shocked  bool
	Native   bool // no nominal command: the simulator's own law drives the vehicle and Accel is unset
}

// Result is the resolved command set for one step, in snapshot order.
type Result struct {
	Commands []Command
	Gaps     []string // ids whose controller returned nothing; they get 0
	Warnings []string
}

// #endregion types

// #region resolve
// Resolve merges nominal commands with the overrides the shock session left on.
//
// An active accel override replaces the nominal command; an active max_speed override
// keeps the nominal command and caps speed. Missing or non-finite nominal commands are
// replaced by zero and reported, never dropped silently.
func Resolve(snapshot []registry.Vehicle, nominal map[string]float64, overrides map[string]registry.Override, limits Limits) Result {
	var res Result
	for _, v := range snapshot {
		id := v.Handle.ID
		cmd := Command{ID: id}

		a, ok := nominal[id]
		if !ok || math.IsNaN(a) || math.IsInf(a, 0) {
			res.Gaps = append(res.Gaps, id)
			res.Warnings = append(res.Warnings, fmt.Sprintf("no command for %s, using 0", id))
			a = 0
		}
		cmd.Accel = lo.Clamp(a, -limits.MaxDecel, limits.MaxAccel)

		if o, ok := overrides[id]; ok && o.Active {
			cmd.Shocked = true
			switch o.Kind {
			case registry.OverrideAccel:
				cmd.Accel = o.Value
			case registry.OverrideMaxSpeed:
				cmd.MaxSpeed = o.Value
			}
		}
		res.Commands = append(res.Commands, cmd)
	}
	return res
}

// ResolveNative builds the command set when no controller runs outside the simulator.
// Vehicles keep their native law; only an active accel override sets an acceleration,
// and a max_speed override caps the native law.
func ResolveNative(snapshot []registry.Vehicle, overrides map[string]registry.Override) Result {
	var res Result
	for _, v := range snapshot {
		cmd := Command{ID: v.Handle.ID, Native: true}
		if o, ok := overrides[v.Handle.ID]; ok && o.Active {
			cmd.Shocked = true
			switch o.Kind {
			case registry.OverrideAccel:
				cmd.Accel = o.Value
				cmd.Native = false
			case registry.OverrideMaxSpeed:
				cmd.MaxSpeed = o.Value
			}
		}
		res.Commands = append(res.Commands, cmd)
	}
	return res
}

// Shocked lists the ids whose command carried an override, sorted.
func (r Result) Shocked() []string {
	ids := lo.FilterMap(r.Commands, func(c Command, _ int) (string, bool) { return c.ID, c.Shocked })
	sort.Strings(ids)
	return ids
}

// #endregion resolve
