package registry

import (
	"fmt"
	"sort"
)

// #region memory-types
// Override is the last override written for a vehicle.
type Override struct {
	Kind   OverrideKind
	Value  float64
	Active bool
}

// LawAssignment records one SetControlLaw call.
type LawAssignment struct {
	Law    string
	Params map[string]float64
}

// Memory is an in-process registry. It backs fixture replay and tests, and stands in
// for the simulator when no remote one is configured.
type Memory struct {
	step       int
	generation uint64
	order      []string
	vehicles   map[string]VehicleState
	overrides  map[string]Override
	markers    map[string]Color
	laws       map[string][]LawAssignment
}

// NewMemory creates an empty registry at generation 1.
func NewMemory() *Memory {
	m := &Memory{}
	m.Reset()
	return m
}

// #endregion memory-types

// #region memory-lifecycle
// Reset clears all vehicles and invalidates previously issued handles.
func (m *Memory) Reset() {
	m.generation++
	m.step = 0
	m.order = nil
	m.vehicles = make(map[string]VehicleState)
	m.overrides = make(map[string]Override)
	m.markers = make(map[string]Color)
	m.laws = make(map[string][]LawAssignment)
}

// SetStep moves the registry clock.
func (m *Memory) SetStep(step int) {
	m.step = step
}

// Put inserts or updates a vehicle. New vehicles are appended to the id order.
func (m *Memory) Put(id string, st VehicleState) {
	if _, ok := m.vehicles[id]; !ok {
		m.order = append(m.order, id)
	}
	m.vehicles[id] = st
}

// Remove deletes a vehicle (it left the network).
func (m *Memory) Remove(id string) {
	if _, ok := m.vehicles[id]; !ok {
		return
	}
	delete(m.vehicles, id)
	delete(m.overrides, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Handle returns the current-generation handle for id.
func (m *Memory) Handle(id string) VehicleHandle {
	return VehicleHandle{ID: id, Generation: m.generation}
}

// #endregion memory-lifecycle

// #region memory-registry
func (m *Memory) CurrentStep() int { return m.step }

func (m *Memory) VehicleIDs() ([]VehicleHandle, error) {
	out := make([]VehicleHandle, len(m.order))
	for i, id := range m.order {
		out[i] = m.Handle(id)
	}
	return out, nil
}

func (m *Memory) VehicleState(h VehicleHandle) (VehicleState, error) {
	if err := m.check(h); err != nil {
		return VehicleState{}, err
	}
	return m.vehicles[h.ID], nil
}

func (m *Memory) SetOverride(h VehicleHandle, kind OverrideKind, value float64, active bool) error {
	if err := m.check(h); err != nil {
		return err
	}
	m.overrides[h.ID] = Override{Kind: kind, Value: value, Active: active}
	return nil
}

func (m *Memory) SetControlLaw(h VehicleHandle, law string, params map[string]float64) error {
	if err := m.check(h); err != nil {
		return err
	}
	st := m.vehicles[h.ID]
	st.Law = law
	m.vehicles[h.ID] = st
	m.laws[h.ID] = append(m.laws[h.ID], LawAssignment{Law: law, Params: params})
	return nil
}

func (m *Memory) SetMarker(h VehicleHandle, c Color) error {
	if err := m.check(h); err != nil {
		return err
	}
	m.markers[h.ID] = c
	return nil
}

func (m *Memory) check(h VehicleHandle) error {
	if h.Generation != m.generation {
		return fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	if _, ok := m.vehicles[h.ID]; !ok {
		return fmt.Errorf("%s: %w", h.ID, ErrUnknownVehicle)
	}
	return nil
}

// #endregion memory-registry

// #region memory-inspection
// OverrideOf returns the last override written for id.
func (m *Memory) OverrideOf(id string) (Override, bool) {
	o, ok := m.overrides[id]
	return o, ok
}

// ActiveOverrides lists ids whose override is currently on, sorted.
func (m *Memory) ActiveOverrides() []string {
	var ids []string
	for id, o := range m.overrides {
		if o.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MarkerOf returns the marker color last set on id.
func (m *Memory) MarkerOf(id string) (Color, bool) {
	c, ok := m.markers[id]
	return c, ok
}

// LawHistory returns every control law assignment made to id.
func (m *Memory) LawHistory(id string) []LawAssignment {
	return m.laws[id]
}

// #endregion memory-inspection
