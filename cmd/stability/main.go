package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/densityaware/shockharness/internal/config"
	"github.com/densityaware/shockharness/internal/stability"
	"github.com/densityaware/shockharness/internal/store"
)

// #region main

func main() {
	cfgPath := flag.String("config", "", "experiment file (YAML or JSON)")
	pattern := flag.String("emissions", "", "glob of emission CSVs (overrides the experiment's)")
	save := flag.Bool("save", false, "store per-rollout results in the experiment database")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	bandPath := flag.String("band", "", "write the per-sample speed band across rollouts to this CSV")
	flag.Parse()

	exp := config.Default()
	if *cfgPath != "" {
		var err error
		if exp, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(2)
		}
	}
	exp.ApplyEnv(os.Getenv)
	if *pattern != "" {
		exp.Stability.Emissions = *pattern
	}

	rollouts, order, err := stability.LoadRollouts(exp.Stability.Emissions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load emissions: %v\n", err)
		os.Exit(2)
	}

	w := exp.AnalysisWindow()
	outcomes := stability.Analyze(rollouts, order, exp.Roles(), w)
	sum := stability.Aggregate(outcomes)

	if *bandPath != "" {
		if err := saveBand(*bandPath, rollouts, order); err != nil {
			fmt.Fprintf(os.Stderr, "band: %v\n", err)
			os.Exit(1)
		}
	}
	if *save {
		if err := saveOutcomes(exp, outcomes); err != nil {
			fmt.Fprintf(os.Stderr, "save: %v\n", err)
			os.Exit(1)
		}
	}

	if *jsonOut {
		if err := printJSON(outcomes, sum, w); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	} else {
		printTable(outcomes, sum, w)
	}
	if len(sum.Ratios) == 0 {
		os.Exit(1)
	}
}

// #endregion main

// #region output

func saveOutcomes(exp config.Experiment, outcomes []stability.Outcome) error {
	st, err := store.NewStore(exp.Runtime.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	for _, o := range outcomes {
		if err := st.SaveDamping(exp.Name, o); err != nil {
			return err
		}
	}
	return nil
}

func saveBand(path string, rollouts map[string]stability.Series, order []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	mean, std := stability.Bands(rollouts, order)
	if err := stability.WriteBand(f, mean, std); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printTable(outcomes []stability.Outcome, sum stability.Summary, w stability.Window) {
	fmt.Printf("Window %s\n\n", w)
	fmt.Printf("%-28s| %10s| %10s| %10s| %10s| %10s\n", "Rollout", "Ratio", "Leader", "Follower", "Speed", "Speed std")
	fmt.Printf("%-28s+%11s+%11s+%11s+%11s+%s\n", "----------------------------", "-----------", "-----------", "-----------", "-----------", "-----------")
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("%-28s| %s\n", o.Rollout, o.Err)
			continue
		}
		fmt.Printf("%-28s| %10.4f| %10.4f| %10.4f| %10.4f| %10.4f\n", o.Rollout, o.Result.Ratio,
			o.Result.LeaderMin, o.Result.FollowerMin, o.SpeedMean, o.SpeedStd)
	}
	for _, warn := range sum.Warnings {
		fmt.Printf("warning: %s\n", warn)
	}
	fmt.Printf("\nDamping ratio: mean %.4f, std %.4f over %d rollouts (%d failed)\n",
		sum.Mean, sum.Std, len(sum.Ratios), len(sum.Failed))
}

type jsonRow struct {
	Rollout     string   `json:"rollout"`
	Ratio       *float64 `json:"ratio,omitempty"`
	LeaderMin   float64  `json:"leader_min"`
	FollowerMin float64  `json:"follower_min"`
	SpeedMean   *float64 `json:"speed_mean,omitempty"`
	SpeedStd    *float64 `json:"speed_std,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func printJSON(outcomes []stability.Outcome, sum stability.Summary, w stability.Window) error {
	rows := make([]jsonRow, len(outcomes))
	for i, o := range outcomes {
		rows[i] = jsonRow{Rollout: o.Rollout, LeaderMin: o.Result.LeaderMin, FollowerMin: o.Result.FollowerMin}
		if !math.IsNaN(o.SpeedMean) {
			m, sd := o.SpeedMean, o.SpeedStd
			rows[i].SpeedMean, rows[i].SpeedStd = &m, &sd
		}
		switch {
		case o.Err != nil:
			rows[i].Error = o.Err.Error()
		case math.IsNaN(o.Result.Ratio) || math.IsInf(o.Result.Ratio, 0):
			rows[i].Error = "non-finite ratio"
		default:
			r := o.Result.Ratio
			rows[i].Ratio = &r
		}
	}
	out := struct {
		Window   stability.Window `json:"window"`
		Rollouts []jsonRow        `json:"rollouts"`
		Mean     *float64         `json:"mean,omitempty"`
		Std      *float64         `json:"std,omitempty"`
		Warnings []string         `json:"warnings,omitempty"`
	}{Window: w, Rollouts: rows, Warnings: sum.Warnings}
	if len(sum.Ratios) > 0 {
		out.Mean, out.Std = &sum.Mean, &sum.Std
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// #endregion output
