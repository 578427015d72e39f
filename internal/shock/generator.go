package shock

import (
	"math"
	"math/rand"
	"sort"
)

// #region families
// family is a parameterized disturbance distribution. Intensity is a deceleration
// (negative acceleration, m/s^2) and durations are in seconds.
type family struct {
	intensity [2]float64
	duration  [2]float64
	repeats   int
}

var families = map[int]family{
	1: {intensity: [2]float64{-1.0, -0.5}, duration: [2]float64{1, 2}, repeats: 2},
	2: {intensity: [2]float64{-1.5, -1.0}, duration: [2]float64{2, 3}, repeats: 3},
	3: {intensity: [2]float64{-2.0, -1.5}, duration: [2]float64{2, 4}, repeats: 4},
	4: {intensity: [2]float64{-2.5, -2.0}, duration: [2]float64{3, 5}, repeats: 5},
}

const highSpeedFactor = 1.5

// KnownModels lists generator ids in ascending order, stability model first.
func KnownModels() []int {
	ids := []int{StabilityModelID}
	for id := range families {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// #endregion families

// #region generate
// Generate draws a Model. The stability model is a fixed point (speed cap 3 m/s for one
// second, once) and ignores shaping. Other models draw one intensity/duration pair per
// cycle from rng; the same rng seed always yields the same model.
func Generate(id int, shaping Shaping, rng *rand.Rand) (Model, error) {
	if id == StabilityModelID {
		return Model{
			ID:          id,
			Intensities: []float64{3},
			Durations:   []float64{1},
			RepeatCount: 1,
		}, nil
	}

	f, ok := families[id]
	if !ok {
		return Model{}, &InvalidModelError{ID: id}
	}

	scaler := shaping.NetworkScaler
	if scaler < 1 {
		scaler = 1
	}
	n := f.repeats * scaler

	m := Model{
		ID:          id,
		Intensities: make([]float64, n),
		Durations:   make([]float64, n),
		RepeatCount: n,
	}
	for i := 0; i < n; i++ {
		mag := uniform(rng, f.intensity)
		if shaping.HighSpeed {
			mag *= highSpeedFactor
		}
		if shaping.Bidirectional && rng.Intn(2) == 1 {
			mag = -mag
		}
		m.Intensities[i] = round(mag, 2)
		// durations are quantized to 0.1 s so they land on step boundaries
		m.Durations[i] = round(uniform(rng, f.duration), 1)
	}
	return m, nil
}

// #endregion generate

// #region helpers
func uniform(rng *rand.Rand, r [2]float64) float64 {
	return r[0] + rng.Float64()*(r[1]-r[0])
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func toSteps(seconds, stepsPerSecond float64) int {
	n := int(math.Round(seconds * stepsPerSecond))
	if n < 1 {
		return 1
	}
	return n
}

// #endregion helpers
