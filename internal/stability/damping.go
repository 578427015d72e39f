package stability

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// #region damping
// ComputeDamping returns min(leader) / min(reference) over the window. A ratio above 1
// means the disturbance grew on its way back through the platoon.
func ComputeDamping(series Series, roles RoleConfig, w Window) (Result, error) {
	lead, err := windowed(series, "leader", roles.Leader, w)
	if err != nil {
		return Result{}, err
	}
	follow, err := windowed(series, "reference", roles.Reference, w)
	if err != nil {
		return Result{}, err
	}

	res := Result{LeaderMin: floats.Min(lead), FollowerMin: floats.Min(follow)}
	switch {
	case res.FollowerMin == 0 && res.LeaderMin == 0:
		res.Ratio = math.NaN()
		res.Warnings = append(res.Warnings, "leader and reference both stopped, ratio undefined")
	case res.FollowerMin == 0:
		res.Ratio = math.Inf(1)
		res.Warnings = append(res.Warnings, fmt.Sprintf("reference %s stopped, ratio unbounded", roles.Reference))
	default:
		res.Ratio = res.LeaderMin / res.FollowerMin
	}
	return res, nil
}

func windowed(series Series, role, id string, w Window) ([]float64, error) {
	s := series[id]
	start := max(w.Start, 0)
	end := min(w.End, len(s))
	if id == "" || start >= end {
		return nil, &EmptySeriesError{Role: role, ID: id, Window: w}
	}
	return s[start:end], nil
}

// #endregion damping

// #region batch
// Aggregate reduces per-rollout outcomes. Failed rollouts and non-finite ratios are
// reported but left out of the mean and population standard deviation.
func Aggregate(outcomes []Outcome) Summary {
	sum := Summary{Failed: map[string]error{}}
	for _, o := range outcomes {
		if o.Err != nil {
			sum.Failed[o.Rollout] = o.Err
			continue
		}
		for _, w := range o.Result.Warnings {
			sum.Warnings = append(sum.Warnings, o.Rollout+": "+w)
		}
		if math.IsNaN(o.Result.Ratio) || math.IsInf(o.Result.Ratio, 0) {
			sum.Warnings = append(sum.Warnings, o.Rollout+": non-finite ratio excluded")
			continue
		}
		sum.Ratios = append(sum.Ratios, o.Result.Ratio)
	}
	if len(sum.Ratios) > 0 {
		mean, variance := stat.PopMeanVariance(sum.Ratios, nil)
		sum.Mean = mean
		sum.Std = math.Sqrt(variance)
	} else {
		sum.Mean, sum.Std = math.NaN(), math.NaN()
	}
	return sum
}

// Analyze computes the damping ratio of every rollout independently.
func Analyze(rollouts map[string]Series, order []string, roles func(Series) (RoleConfig, error), w Window) []Outcome {
	out := make([]Outcome, 0, len(order))
	for _, name := range order {
		o := Outcome{Rollout: name}
		o.SpeedMean, o.SpeedStd = SpeedSummary(rollouts[name])
		rc, err := roles(rollouts[name])
		if err != nil {
			o.Err = fmt.Errorf("rollout %s: %w", name, err)
			out = append(out, o)
			continue
		}
		o.Result, err = ComputeDamping(rollouts[name], rc, w)
		if err != nil {
			o.Err = fmt.Errorf("rollout %s: %w", name, err)
		}
		out = append(out, o)
	}
	return out
}

// #endregion batch

// #region speeds
// AverageSpeed is the per-sample mean speed across every vehicle of one rollout,
// truncated to the shortest series.
func AverageSpeed(series Series) []float64 {
	n := -1
	for _, s := range series {
		if n < 0 || len(s) < n {
			n = len(s)
		}
	}
	if n <= 0 {
		return nil
	}
	ids := series.IDs()
	out := make([]float64, n)
	col := make([]float64, len(ids))
	for i := range out {
		for j, id := range ids {
			col[j] = series[id][i]
		}
		out[i] = stat.Mean(col, nil)
	}
	return out
}

// SpeedBand is the per-sample mean and population std of average speed across rollouts.
func SpeedBand(averages [][]float64) (mean, std []float64) {
	n := -1
	for _, a := range averages {
		if n < 0 || len(a) < n {
			n = len(a)
		}
	}
	if n <= 0 {
		return nil, nil
	}
	mean = make([]float64, n)
	std = make([]float64, n)
	col := make([]float64, len(averages))
	for i := 0; i < n; i++ {
		for r, a := range averages {
			col[r] = a[i]
		}
		m, v := stat.PopMeanVariance(col, nil)
		mean[i], std[i] = m, math.Sqrt(v)
	}
	return mean, std
}

// SpeedSummary is the mean and population std over time of the fleet average speed.
func SpeedSummary(series Series) (mean, std float64) {
	avg := AverageSpeed(series)
	if len(avg) == 0 {
		return math.NaN(), math.NaN()
	}
	m, v := stat.PopMeanVariance(avg, nil)
	return m, math.Sqrt(v)
}

// Bands averages the fleet speed of every rollout, then reduces across rollouts per sample.
func Bands(rollouts map[string]Series, order []string) (mean, std []float64) {
	averages := make([][]float64, 0, len(order))
	for _, name := range order {
		if avg := AverageSpeed(rollouts[name]); len(avg) > 0 {
			averages = append(averages, avg)
		}
	}
	return SpeedBand(averages)
}

// #endregion speeds
