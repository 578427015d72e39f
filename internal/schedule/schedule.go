package schedule

import (
	"fmt"
	"log/slog"
	"math"
)

// #region build
// Build spreads repeatCount windows of durationSteps over [globalStart, globalEnd].
// Starts are linearly spaced over [globalStart, globalEnd-duration] and every window ends
// duration steps later (clipped to globalEnd), so windows are sorted and equal length.
// Overlaps are detected afterwards and resolved according to policy.
func Build(globalStart, globalEnd, durationSteps, repeatCount int, policy OverlapPolicy) (Schedule, error) {
	if globalEnd <= globalStart {
		return Schedule{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidSpan, globalStart, globalEnd)
	}
	if repeatCount < 0 {
		return Schedule{}, fmt.Errorf("negative repeat count %d", repeatCount)
	}
	if policy == "" {
		policy = PolicyMerge
	}
	if !policy.Valid() {
		return Schedule{}, fmt.Errorf("unknown overlap policy %q", policy)
	}

	var s Schedule
	if repeatCount == 0 {
		return s, nil
	}

	d := durationSteps
	if d < 1 {
		s.Clips = append(s.Clips, ClipWarning{Requested: durationSteps, Clipped: 1})
		d = 1
	}
	if span := globalEnd - globalStart; d > span {
		s.Clips = append(s.Clips, ClipWarning{Requested: d, Clipped: span})
		d = span
	}

	starts := linspace(float64(globalStart), float64(globalEnd-d), repeatCount)
	built := make([]Window, repeatCount)
	for i, st := range starts {
		end := st + d
		if end > globalEnd {
			end = globalEnd
		}
		built[i] = Window{Cycle: i, Start: st, End: end}
	}

	s.Overlaps = detectOverlaps(built, policy)
	s.Windows = resolve(built, policy, globalEnd)
	return s, nil
}

// LogWarnings writes every schedule warning at warn level.
func LogWarnings(log *slog.Logger, s Schedule) {
	if log == nil {
		log = slog.Default()
	}
	for _, c := range s.Clips {
		log.Warn("shock duration clipped", "requested", c.Requested, "clipped", c.Clipped)
	}
	for _, o := range s.Overlaps {
		log.Warn("shock windows overlap",
			"step", o.Step, "first", o.First, "second", o.Second,
			"shared", o.Shared, "policy", string(o.Resolution))
	}
}

// #endregion build

// #region overlap
func detectOverlaps(ws []Window, policy OverlapPolicy) []OverlapWarning {
	var out []OverlapWarning
	for j := 1; j < len(ws); j++ {
		for i := 0; i < j; i++ {
			if !ws[i].Overlaps(ws[j]) {
				continue
			}
			first := max(ws[i].Start, ws[j].Start)
			last := min(ws[i].End, ws[j].End)
			out = append(out, OverlapWarning{
				First:      i,
				Second:     j,
				Step:       first,
				Shared:     last - first + 1,
				Resolution: policy,
			})
		}
	}
	return out
}

func resolve(ws []Window, policy OverlapPolicy, globalEnd int) []Window {
	if policy == PolicyMerge {
		return ws
	}
	out := make([]Window, 0, len(ws))
	for _, w := range ws {
		if len(out) == 0 {
			out = append(out, w)
			continue
		}
		prev := out[len(out)-1]
		if !prev.Overlaps(w) {
			out = append(out, w)
			continue
		}
		if policy == PolicyDrop {
			continue
		}
		// queue: slide past the previous window, keep the length, clip to the span
		shift := prev.End + 1 - w.Start
		w.Start += shift
		w.End += shift
		if w.End > globalEnd {
			w.End = globalEnd
		}
		if w.Start >= w.End {
			continue
		}
		out = append(out, w)
	}
	return out
}

// #endregion overlap

// #region helpers
// linspace mirrors an evenly spaced integer grid with truncation toward zero.
func linspace(a, b float64, n int) []int {
	out := make([]int, n)
	if n == 1 {
		out[0] = int(math.Trunc(a))
		return out
	}
	step := (b - a) / float64(n-1)
	for i := 0; i < n; i++ {
		v := a + float64(i)*step
		if i == n-1 {
			v = b
		}
		out[i] = int(math.Trunc(v))
	}
	return out
}

// #endregion helpers
