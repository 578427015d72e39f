package transition

import (
	"testing"

	"github.com/densityaware/shockharness/internal/registry"
)

func fleet() *registry.Memory {
	m := registry.NewMemory()
	m.Put("human_0", registry.VehicleState{Law: "idm"})
	m.Put("bcm_0", registry.VehicleState{Law: "idm"})
	m.Put("human_1", registry.VehicleState{Law: "idm"})
	m.Put("bcm_1", registry.VehicleState{Law: "idm"})
	return m
}

func TestMaybeFireOnlyAtWarmupStep(t *testing.T) {
	reg := fleet()
	snap, _ := registry.Snapshot(reg)
	tr := Transition{
		WarmupStep: 100,
		Targets:    MatchTargets(snap, "bcm", "idm"),
		Law:        "bcm",
		Params:     map[string]float64{"k_d": 1, "k_v": 1, "k_c": 1},
	}

	st := State{}
	st, fired, err := tr.MaybeFire(reg, st, 99)
	if err != nil || fired {
		t.Fatalf("fired early: %v %v", fired, err)
	}
	st, fired, err = tr.MaybeFire(reg, st, 100)
	if err != nil || !fired {
		t.Fatalf("expected fire at warmup step: %v %v", fired, err)
	}
	if st.Pending() {
		t.Fatal("state should no longer be pending")
	}
	for _, id := range []string{"bcm_0", "bcm_1"} {
		hist := reg.LawHistory(id)
		if len(hist) != 1 || hist[0].Law != "bcm" || hist[0].Params["k_d"] != 1 {
			t.Fatalf("%s: unexpected law history %+v", id, hist)
		}
	}
	if len(reg.LawHistory("human_0")) != 0 {
		t.Fatal("human vehicles must keep their law")
	}
}

func TestMaybeFireIdempotent(t *testing.T) {
	reg := fleet()
	snap, _ := registry.Snapshot(reg)
	tr := Transition{WarmupStep: 5, Targets: MatchTargets(snap, "bcm", "idm"), Law: "bcm"}

	st, _, _ := tr.MaybeFire(reg, State{}, 5)
	for _, step := range []int{5, 6, 500} {
		var fired bool
		var err error
		st, fired, err = tr.MaybeFire(reg, st, step)
		if err != nil || fired {
			t.Fatalf("step %d: second fire %v %v", step, fired, err)
		}
	}
	if got := len(reg.LawHistory("bcm_0")); got != 1 {
		t.Fatalf("expected exactly one law assignment, got %d", got)
	}
}

func TestMaybeFireSkipsVanishedTargets(t *testing.T) {
	reg := fleet()
	snap, _ := registry.Snapshot(reg)
	tr := Transition{WarmupStep: 1, Targets: MatchTargets(snap, "bcm", "idm"), Law: "bcm"}
	reg.Remove("bcm_0")

	st, fired, err := tr.MaybeFire(reg, State{}, 1)
	if err != nil || !fired || !st.Fired {
		t.Fatalf("expected fire despite vanished target: %v %v", fired, err)
	}
	if got := reg.LawHistory("bcm_1"); len(got) != 1 {
		t.Fatalf("remaining target not switched: %+v", got)
	}
}

func TestMaybeFireStaleHandleIsGone(t *testing.T) {
	reg := fleet()
	snap, _ := registry.Snapshot(reg)
	tr := Transition{WarmupStep: 1, Targets: MatchTargets(snap, "bcm", "idm"), Law: "bcm"}
	reg.Reset()

	_, fired, err := tr.MaybeFire(reg, State{}, 1)
	if err != nil || !fired {
		t.Fatalf("stale handles should be skipped: %v %v", fired, err)
	}
}

func TestMatchTargetsDefaultLawMatchesNothing(t *testing.T) {
	snap, _ := registry.Snapshot(fleet())
	if got := MatchTargets(snap, "idm", "idm"); got != nil {
		t.Fatalf("expected no targets for the default law, got %v", got)
	}
	if got := MatchTargets(snap, "", "idm"); got != nil {
		t.Fatalf("expected no targets for empty method, got %v", got)
	}
	if got := MatchTargets(snap, "bcm", "idm"); len(got) != 2 {
		t.Fatalf("expected 2 targets, got %v", got)
	}
}
