package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/densityaware/shockharness/internal/control"
	"github.com/densityaware/shockharness/internal/registry"
	"github.com/densityaware/shockharness/internal/stability"
)

// #region kinematic
// Kinematic steps an in-process registry with point-mass kinematics. It is the offline
// stand-in for the remote simulator: no car following, no lane changes.
type Kinematic struct {
	*registry.Memory
	DT         float64 // seconds per step
	EdgeLength float64 // positions wrap at this length; 0 disables wrapping
}

// NewKinematic wraps reg with a step length of 1/stepsPerSecond.
func NewKinematic(reg *registry.Memory, stepsPerSecond float64) *Kinematic {
	return &Kinematic{Memory: reg, DT: 1 / stepsPerSecond}
}

// Advance integrates every command over one step and moves the clock. The ring has no
// car-following law of its own, so a native command coasts.
func (k *Kinematic) Advance(ctx context.Context, cmds []control.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, c := range cmds {
		h := k.Handle(c.ID)
		st, err := k.VehicleState(h)
		if registry.IsGone(err) {
			continue
		}
		if err != nil {
			return err
		}
		if !c.Native {
			st.Speed = math.Max(0, st.Speed+c.Accel*k.DT)
		}
		if c.MaxSpeed > 0 {
			st.Speed = math.Min(st.Speed, c.MaxSpeed)
		}
		st.Position += st.Speed * k.DT
		if k.EdgeLength > 0 {
			st.Position = math.Mod(st.Position, k.EdgeLength)
		}
		k.Put(c.ID, st)
	}
	k.SetStep(k.CurrentStep() + 1)
	return nil
}

// RingLength is the circumference of the stability ring, in meters.
const RingLength = 260.0

// NewRing places nHuman default-law vehicles then nControlled vehicles named
// "<method>_i" evenly around a ring of the given length, all at speed and all on
// defaultLaw until the warmup transition.
func NewRing(nHuman, nControlled int, method, defaultLaw string, length, speed float64) *registry.Memory {
	m := registry.NewMemory()
	n := nHuman + nControlled
	gap := length / math.Max(1, float64(n))
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("human_%d", i)
		if i >= nHuman {
			id = fmt.Sprintf("%s_%d", method, i-nHuman)
		}
		m.Put(id, registry.VehicleState{Edge: "ring", Position: float64(i) * gap, Speed: speed, Law: defaultLaw})
	}
	return m
}

// #endregion kinematic

// #region recorder
// Recorder is a Sink that keeps the speed of every vehicle after each step, in the
// shape the stability analysis reads.
type Recorder struct {
	reg    registry.Registry
	Series stability.Series
}

// NewRecorder records from reg.
func NewRecorder(reg registry.Registry) *Recorder {
	return &Recorder{reg: reg, Series: stability.Series{}}
}

func (r *Recorder) Record(_ context.Context, _ string, _ TickResult) error {
	snap, err := registry.Snapshot(r.reg)
	if err != nil {
		return err
	}
	for _, v := range snap {
		r.Series[v.Handle.ID] = append(r.Series[v.Handle.ID], v.State.Speed)
	}
	return nil
}

// #endregion recorder
