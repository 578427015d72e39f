package selector

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/densityaware/shockharness/internal/registry"
)

// ErrNoEligibleVehicles means a disturbance cycle has nowhere to go. It aborts the rollout.
var ErrNoEligibleVehicles = errors.New("no eligible vehicles")

// InsufficientEligibleError is returned when fewer vehicles qualify than were requested.
// It matches ErrNoEligibleVehicles under errors.Is.
type InsufficientEligibleError struct {
	Want int
	Have int
}

func (e *InsufficientEligibleError) Error() string {
	return fmt.Sprintf("insufficient eligible vehicles: want %d, have %d", e.Want, e.Have)
}

func (e *InsufficientEligibleError) Unwrap() error { return ErrNoEligibleVehicles }

// #region select
// Select draws sampleSize handles uniformly without replacement from the vehicles of
// snapshot that pass rule. The draw depends only on the filtered order and seed.
func Select(snapshot []registry.Vehicle, rule Rule, sampleSize int, seed int64) ([]registry.VehicleHandle, error) {
	if sampleSize < 1 {
		return nil, &RuleError{Reason: fmt.Sprintf("sample size %d", sampleSize)}
	}
	eligible := rule.Filter(snapshot)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleVehicles
	}
	if sampleSize > len(eligible) {
		return nil, &InsufficientEligibleError{Want: sampleSize, Have: len(eligible)}
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(eligible))
	out := make([]registry.VehicleHandle, sampleSize)
	for i := range out {
		out[i] = eligible[perm[i]].Handle
	}
	return out, nil
}

// #endregion select

// #region seeds
// NextSeed advances a selection seed (splitmix64 step). Sessions call it after every
// selection so each cycle draws from a fresh but reproducible stream.
func NextSeed(seed int64) int64 {
	z := uint64(seed) + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// RolloutSeed derives the seed of rollout i from the experiment seed.
func RolloutSeed(base int64, rollout int) int64 {
	s := base
	for i := 0; i <= rollout; i++ {
		s = NextSeed(s)
	}
	return s
}

// #endregion seeds
