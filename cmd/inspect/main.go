package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/densityaware/shockharness/internal/logging"
	"github.com/densityaware/shockharness/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the shock harness database")
	last := flag.Int("last", 20, "show N most recent rollouts")
	rollout := flag.String("rollout", "", "show the shock lifecycle of one rollout (id or prefix)")
	experiment := flag.String("damping", "", "show stored damping results of an experiment")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/shockharness.db [--last N] [--rollout id] [--damping experiment] [--json]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	switch {
	case *rollout != "":
		err = runDetailMode(st, *rollout, *last, *jsonOut)
	case *experiment != "":
		err = runDampingMode(st, *experiment, *jsonOut)
	default:
		err = runListMode(st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RolloutID   string `json:"rollout_id"`
	Experiment  string `json:"experiment"`
	Seed        int64  `json:"seed"`
	Model       int    `json:"model"`
	Status      string `json:"status"`
	Steps       int    `json:"steps"`
	Cycles      int    `json:"cycles"`
	ActiveSteps int    `json:"active_steps"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toRow(r store.RolloutRecord) listRow {
	return listRow{
		RolloutID:   r.RolloutID,
		Experiment:  r.Experiment,
		Seed:        r.Seed,
		Model:       r.ModelID,
		Status:      r.Status,
		Steps:       r.Steps,
		Cycles:      r.Cycles,
		ActiveSteps: r.ActiveSteps,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	recs, err := st.ListRollouts(last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no rollouts found")
		return nil
	}

	// store returns DESC, reverse for chronological
	rows := make([]listRow, len(recs))
	for i, r := range recs {
		rows[len(recs)-1-i] = toRow(r)
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-18s  %6s  %5s  %-8s  %6s  %6s  %6s  %s\n",
		"Rollout", "Experiment", "Seed", "Model", "Status", "Steps", "Cycles", "Active", "Time")
	for _, r := range rows {
		fmt.Printf("%-10s  %-18s  %6d  %5d  %-8s  %6d  %6d  %6d  %s\n",
			shortID(r.RolloutID), r.Experiment, r.Seed, r.Model, r.Status, r.Steps, r.Cycles, r.ActiveSteps, r.CreatedAt)
		if r.Error != "" {
			fmt.Printf("            error: %s\n", r.Error)
		}
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Rollout listRow              `json:"rollout"`
	Windows json.RawMessage      `json:"windows"`
	Model   json.RawMessage      `json:"model"`
	Events  []logging.ShockEntry `json:"events"`
}

func runDetailMode(st *store.Store, id string, last int, jsonOut bool) error {
	rec, err := resolveRollout(st, id, last)
	if err != nil {
		return err
	}
	events, err := st.ShockEvents(rec.RolloutID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(detailOutput{
			Rollout: toRow(rec),
			Windows: json.RawMessage(rec.ScheduleJSON),
			Model:   json.RawMessage(rec.ModelJSON),
			Events:  events,
		})
	}

	fmt.Printf("Rollout:  %s (%s)\n", rec.RolloutID, rec.Status)
	fmt.Printf("Seed:     %d\n", rec.Seed)
	fmt.Printf("Model:    %s\n", rec.ModelJSON)
	fmt.Printf("Windows:  %s\n", rec.ScheduleJSON)
	if rec.Error != "" {
		fmt.Printf("Error:    %s\n", rec.Error)
	}
	fmt.Printf("\n%-8s  %-5s  %-18s  %-9s  %7s  %s\n", "Step", "Cycle", "Transition", "Status", "Value", "Vehicles")
	for _, e := range events {
		fmt.Printf("%-8d  %-5d  %-18s  %-9s  %7.3f  %s\n", e.Step, e.Cycle, e.Transition, e.Status, e.Value, e.Vehicles)
		for _, w := range strings.Split(e.Warnings, "\n") {
			if w != "" {
				fmt.Printf("          warning: %s\n", w)
			}
		}
	}
	return nil
}

// resolveRollout accepts a full id or a unique prefix among the recent rollouts.
func resolveRollout(st *store.Store, id string, last int) (store.RolloutRecord, error) {
	if rec, err := st.GetRollout(id); err == nil {
		return rec, nil
	}
	recs, err := st.ListRollouts(max(last, 100))
	if err != nil {
		return store.RolloutRecord{}, err
	}
	var match []store.RolloutRecord
	for _, r := range recs {
		if strings.HasPrefix(r.RolloutID, id) {
			match = append(match, r)
		}
	}
	switch len(match) {
	case 0:
		return store.RolloutRecord{}, fmt.Errorf("rollout %s not found", id)
	case 1:
		return match[0], nil
	default:
		return store.RolloutRecord{}, fmt.Errorf("rollout prefix %s is ambiguous (%d matches)", id, len(match))
	}
}

// #endregion detail-mode

// #region damping-mode

func runDampingMode(st *store.Store, experiment string, jsonOut bool) error {
	recs, err := st.ListDamping(experiment)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(recs)
	}
	if len(recs) == 0 {
		fmt.Fprintf(os.Stderr, "no damping results for %s\n", experiment)
		return nil
	}
	fmt.Printf("%-28s  %10s  %10s  %10s  %s\n", "Rollout", "Ratio", "Leader", "Follower", "Error")
	for _, r := range recs {
		ratio := "-"
		if r.Ratio != nil {
			ratio = fmt.Sprintf("%.4f", *r.Ratio)
		}
		fmt.Printf("%-28s  %10s  %10.4f  %10.4f  %s\n", r.Rollout, ratio, r.LeaderMin, r.FollowerMin, r.Error)
	}
	return nil
}

// #endregion damping-mode

// #region helpers

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
