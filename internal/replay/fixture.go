package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/densityaware/shockharness/internal/config"
	"github.com/densityaware/shockharness/internal/registry"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a scripted network,
// an experiment and the lifecycle it must produce.
type Fixture struct {
	Description string            `json:"description"`
	Seed        int64             `json:"seed"`
	StartStep   int               `json:"start_step"`
	Experiment  config.Experiment `json:"experiment"`
	Vehicles    []FixtureVehicle  `json:"vehicles"`
	Events      []FixtureEvent    `json:"events"`
	Expected    []FixtureExpected `json:"expected"`
}

// FixtureVehicle is one vehicle of the scripted network.
type FixtureVehicle struct {
	ID       string  `json:"id"`
	Edge     string  `json:"edge"`
	Position float64 `json:"position"`
	Speed    float64 `json:"speed"`
	Law      string  `json:"law"`
}

// FixtureEvent changes the network at the start of Step, before the pipeline reads it.
type FixtureEvent struct {
	Step   int              `json:"step"`
	Reset  bool             `json:"reset,omitempty"`
	Remove []string         `json:"remove,omitempty"`
	Add    []FixtureVehicle `json:"add,omitempty"`
}

// FixtureExpected is the expected outcome of one step. Optional fields are only
// checked when present.
type FixtureExpected struct {
	Step         int    `json:"step"`
	Transition   string `json:"transition"`
	Status       string `json:"status"`
	ShockedCount *int   `json:"shocked_count,omitempty"`
	Fired        *bool  `json:"fired,omitempty"`
	Warned       *bool  `json:"warned,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file. The experiment is decoded over
// config.Default and validated.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f := Fixture{Experiment: config.Default()}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if err := f.Experiment.Validate(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

// State converts a FixtureVehicle to a registry snapshot.
func (v FixtureVehicle) State() registry.VehicleState {
	return registry.VehicleState{Edge: v.Edge, Position: v.Position, Speed: v.Speed, Law: v.Law}
}

// apply runs the event against the registry.
func (e FixtureEvent) apply(m *registry.Memory) {
	if e.Reset {
		m.Reset()
	}
	for _, id := range e.Remove {
		m.Remove(id)
	}
	for _, v := range e.Add {
		m.Put(v.ID, v.State())
	}
}

// #endregion fixture-loader
