package shock

import "fmt"

// StabilityModelID selects the fixed stability-test disturbance.
const StabilityModelID = -1

// #region model
// Model describes one disturbance family for a rollout. Intensities and Durations are
// indexed by cycle and have RepeatCount entries each. Durations are in seconds.
type Model struct {
	ID          int
	Intensities []float64
	Durations   []float64
	RepeatCount int
}

// Enabled reports whether the model produces any disturbance.
func (m Model) Enabled() bool {
	return m.RepeatCount > 0
}

// MaxDuration is the longest cycle duration in seconds.
func (m Model) MaxDuration() float64 {
	var max float64
	for _, d := range m.Durations {
		if d > max {
			max = d
		}
	}
	return max
}

// MaxDurationSteps is MaxDuration in whole steps (at least one).
func (m Model) MaxDurationSteps(stepsPerSecond float64) int {
	return toSteps(m.MaxDuration(), stepsPerSecond)
}

// DurationSteps converts the duration of cycle i to whole steps (at least one).
func (m Model) DurationSteps(i int, stepsPerSecond float64) int {
	return toSteps(m.Durations[i], stepsPerSecond)
}

// #endregion model

// #region shaping
// Shaping adjusts a generated model.
type Shaping struct {
	NetworkScaler int  // multiplies the repeat count (values < 1 are treated as 1)
	Bidirectional bool // allow positive intensities, sign drawn per cycle
	HighSpeed     bool // scale magnitudes for high-speed regimes
}

// DefaultShaping matches the evaluation setup of the intersection scenario.
func DefaultShaping() Shaping {
	return Shaping{NetworkScaler: 3}
}

// #endregion shaping

// #region errors
// InvalidModelError is returned for unknown model identifiers.
type InvalidModelError struct {
	ID int
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid shock model %d", e.ID)
}

// #endregion errors
