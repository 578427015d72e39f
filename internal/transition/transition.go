package transition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/densityaware/shockharness/internal/registry"
)

// #region types
// Transition swaps the control law of Targets to Law at WarmupStep.
type Transition struct {
	WarmupStep int
	Targets    []registry.VehicleHandle
	Law        string
	Params     map[string]float64 // law-specific parameters, passed through untouched
}

// State records whether the swap already happened.
type State struct {
	Fired bool
}

// Pending reports whether the transition has yet to fire.
func (s State) Pending() bool { return !s.Fired }

// #endregion types

// #region fire
// MaybeFire performs the swap when step == WarmupStep and it has not fired yet.
// Once fired, every later call is a no-op. Targets that have left the network are
// skipped; any other registry error leaves the state pending so the caller can abort.
func (t Transition) MaybeFire(reg registry.Registry, st State, step int) (State, bool, error) {
	if st.Fired || step != t.WarmupStep {
		return st, false, nil
	}
	if reg == nil {
		return st, false, errors.New("transition: nil registry")
	}
	for _, h := range t.Targets {
		err := reg.SetControlLaw(h, t.Law, t.Params)
		if registry.IsGone(err) {
			continue
		}
		if err != nil {
			return st, false, fmt.Errorf("transition: set law %s on %s: %w", t.Law, h, err)
		}
	}
	return State{Fired: true}, true, nil
}

// #endregion fire

// #region targets
// MatchTargets picks the vehicles whose id contains method. An empty method, or the
// default law itself, matches nothing: the whole fleet keeps its nominal law.
func MatchTargets(snapshot []registry.Vehicle, method, defaultLaw string) []registry.VehicleHandle {
	if method == "" || method == defaultLaw {
		return nil
	}
	var out []registry.VehicleHandle
	for _, v := range snapshot {
		if strings.Contains(v.Handle.ID, method) {
			out = append(out, v.Handle)
		}
	}
	return out
}

// #endregion targets
