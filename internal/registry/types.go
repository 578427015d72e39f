package registry

import (
	"errors"
	"fmt"
)

// #region handle
// VehicleHandle identifies a vehicle for the lifetime of one registry generation.
// A reset bumps the generation, so handles taken before the reset stop resolving.
type VehicleHandle struct {
	ID         string
	Generation uint64
}

func (h VehicleHandle) String() string {
	return fmt.Sprintf("%s@%d", h.ID, h.Generation)
}

// #endregion handle

// #region vehicle-state
// VehicleState is a point-in-time snapshot of one vehicle.
type VehicleState struct {
	Edge     string
	Position float64
	Speed    float64
	Law      string // control law currently driving the vehicle
}

// Vehicle pairs a handle with its snapshot.
type Vehicle struct {
	Handle VehicleHandle
	State  VehicleState
}

// #endregion vehicle-state

// #region override
// OverrideKind selects which command a shock overrides.
type OverrideKind string

const (
	OverrideAccel    OverrideKind = "accel"
	OverrideMaxSpeed OverrideKind = "max_speed"
)

// Valid reports whether k is a known override kind.
func (k OverrideKind) Valid() bool {
	return k == OverrideAccel || k == OverrideMaxSpeed
}

// Color is an RGB marker color.
type Color [3]uint8

// ShockColor marks vehicles while a disturbance is applied to them.
var ShockColor = Color{255, 0, 255}

// #endregion override

// #region errors
var (
	// ErrUnknownVehicle is returned when a vehicle has left the network.
	ErrUnknownVehicle = errors.New("unknown vehicle")
	// ErrStaleHandle is returned for handles taken before the last reset.
	ErrStaleHandle = errors.New("stale vehicle handle")
)

// #endregion errors

// #region registry
// Registry is the simulator-side vehicle registry the engine reads from and writes
// overrides into. Overrides do not persist across steps; callers re-apply them.
type Registry interface {
	CurrentStep() int
	VehicleIDs() ([]VehicleHandle, error)
	VehicleState(h VehicleHandle) (VehicleState, error)
	SetOverride(h VehicleHandle, kind OverrideKind, value float64, active bool) error
	SetControlLaw(h VehicleHandle, law string, params map[string]float64) error
	SetMarker(h VehicleHandle, c Color) error
}

// Snapshot reads every vehicle in registry order.
// Vehicles that disappear between the id query and the state query are skipped.
func Snapshot(r Registry) ([]Vehicle, error) {
	ids, err := r.VehicleIDs()
	if err != nil {
		return nil, fmt.Errorf("vehicle ids: %w", err)
	}
	out := make([]Vehicle, 0, len(ids))
	for _, h := range ids {
		st, err := r.VehicleState(h)
		if errors.Is(err, ErrUnknownVehicle) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("vehicle state %s: %w", h, err)
		}
		out = append(out, Vehicle{Handle: h, State: st})
	}
	return out, nil
}

// IsGone reports whether err means the handle no longer resolves to a vehicle.
func IsGone(err error) bool {
	return errors.Is(err, ErrUnknownVehicle) || errors.Is(err, ErrStaleHandle)
}

// #endregion registry
