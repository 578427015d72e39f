package registry

import (
	"errors"
	"testing"
)

func TestMemorySnapshotOrder(t *testing.T) {
	m := NewMemory()
	m.Put("human_0", VehicleState{Edge: "bottom", Position: 1})
	m.Put("human_1", VehicleState{Edge: "bottom", Position: 5})
	m.Put("bcm_0", VehicleState{Edge: "right", Position: 2})

	snap, err := Snapshot(m)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 3 {
		t.Fatalf("expected 3 vehicles, got %d", len(snap))
	}
	want := []string{"human_0", "human_1", "bcm_0"}
	for i, v := range snap {
		if v.Handle.ID != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], v.Handle.ID)
		}
	}
}

func TestMemoryResetInvalidatesHandles(t *testing.T) {
	m := NewMemory()
	m.Put("human_0", VehicleState{})
	h := m.Handle("human_0")

	m.Reset()
	m.Put("human_0", VehicleState{})

	err := m.SetOverride(h, OverrideAccel, -1, true)
	if !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("expected ErrStaleHandle, got %v", err)
	}
	if !IsGone(err) {
		t.Fatal("stale handle should count as gone")
	}
	if err := m.SetOverride(m.Handle("human_0"), OverrideAccel, -1, true); err != nil {
		t.Fatalf("fresh handle: %v", err)
	}
}

func TestMemoryRemovedVehicle(t *testing.T) {
	m := NewMemory()
	m.Put("flow_00.1", VehicleState{})
	h := m.Handle("flow_00.1")
	m.Remove("flow_00.1")

	if _, err := m.VehicleState(h); !errors.Is(err, ErrUnknownVehicle) {
		t.Fatalf("expected ErrUnknownVehicle, got %v", err)
	}
	ids, _ := m.VehicleIDs()
	if len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}

func TestMemorySetControlLawUpdatesState(t *testing.T) {
	m := NewMemory()
	m.Put("bcm_0", VehicleState{Law: "idm"})
	h := m.Handle("bcm_0")

	if err := m.SetControlLaw(h, "bcm", map[string]float64{"k_d": 1}); err != nil {
		t.Fatalf("SetControlLaw: %v", err)
	}
	st, _ := m.VehicleState(h)
	if st.Law != "bcm" {
		t.Fatalf("expected law bcm, got %s", st.Law)
	}
	if len(m.LawHistory("bcm_0")) != 1 {
		t.Fatalf("expected one assignment, got %d", len(m.LawHistory("bcm_0")))
	}
}
