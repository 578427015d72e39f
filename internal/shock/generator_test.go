package shock

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func TestGenerateStabilityModel(t *testing.T) {
	m, err := Generate(StabilityModelID, DefaultShaping(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m.RepeatCount != 1 {
		t.Fatalf("expected 1 repeat, got %d", m.RepeatCount)
	}
	if m.Intensities[0] != 3 || m.Durations[0] != 1 {
		t.Fatalf("unexpected stability model %+v", m)
	}
	if got := m.DurationSteps(0, 10); got != 10 {
		t.Fatalf("expected 10 steps, got %d", got)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a, err := Generate(2, DefaultShaping(), rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, _ := Generate(2, DefaultShaping(), rand.New(rand.NewSource(42)))
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different models:\n%+v\n%+v", a, b)
	}
}

func TestGenerateShaping(t *testing.T) {
	m, err := Generate(1, Shaping{NetworkScaler: 3}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m.RepeatCount != 6 {
		t.Fatalf("expected 2*3 repeats, got %d", m.RepeatCount)
	}
	if len(m.Intensities) != 6 || len(m.Durations) != 6 {
		t.Fatalf("expected 6 pairs, got %d/%d", len(m.Intensities), len(m.Durations))
	}
	for i, v := range m.Intensities {
		if v > -0.5 || v < -1.0 {
			t.Errorf("cycle %d intensity %f outside family range", i, v)
		}
	}

	fast, _ := Generate(1, Shaping{NetworkScaler: 1, HighSpeed: true}, rand.New(rand.NewSource(7)))
	for i, v := range fast.Intensities {
		if v > -0.75 || v < -1.5 {
			t.Errorf("high speed cycle %d intensity %f outside scaled range", i, v)
		}
	}
}

func TestGenerateBidirectionalProducesBothSigns(t *testing.T) {
	m, _ := Generate(4, Shaping{NetworkScaler: 10, Bidirectional: true}, rand.New(rand.NewSource(3)))
	var pos, neg int
	for _, v := range m.Intensities {
		if v > 0 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		t.Fatalf("expected both signs over 50 cycles, got pos=%d neg=%d", pos, neg)
	}
}

func TestGenerateInvalidModel(t *testing.T) {
	_, err := Generate(99, DefaultShaping(), rand.New(rand.NewSource(1)))
	var invalid *InvalidModelError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidModelError, got %v", err)
	}
	if invalid.ID != 99 {
		t.Fatalf("expected id 99, got %d", invalid.ID)
	}
}

func TestKnownModels(t *testing.T) {
	ids := KnownModels()
	if ids[0] != StabilityModelID {
		t.Fatalf("expected stability model first, got %v", ids)
	}
	if len(ids) != 5 {
		t.Fatalf("expected 5 models, got %v", ids)
	}
}

func TestDurationStepsNeverZero(t *testing.T) {
	m := Model{Durations: []float64{0}}
	if got := m.DurationSteps(0, 10); got != 1 {
		t.Fatalf("expected zero duration clipped to 1 step, got %d", got)
	}
}
