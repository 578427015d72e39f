package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/densityaware/shockharness/internal/logging"
	"github.com/densityaware/shockharness/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	verbose := flag.Bool("v", false, "log session transitions while replaying")
	all := flag.Bool("all", false, "print every step, not only the expected ones")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [-v] [-all]")
		os.Exit(2)
	}
	os.Exit(run(*fixturePath, *verbose, *all))
}

// #endregion main

// #region output

func run(path string, verbose, all bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		l, closer, err := logging.NewLogger("", slog.LevelInfo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			return 2
		}
		defer closer.Close()
		log = l
	}

	rep, err := replay.Replay(context.Background(), f, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay aborted after %d steps: %v\n", rep.Rollout.Steps, err)
		return 1
	}

	expected := map[int]replay.FixtureExpected{}
	for _, e := range f.Expected {
		expected[e.Step] = e
	}
	mismatched := map[int]bool{}
	mismatches := replay.Compare(rep.Steps, f.Expected)
	for _, m := range mismatches {
		mismatched[m.Step] = true
	}

	fmt.Printf("%s\n\n", f.Description)
	fmt.Printf("%-8s| %-18s| %-18s| %-9s| %s\n", "Step", "Expected", "Replayed", "Status", "Match")
	fmt.Printf("%-8s+%-19s+%-19s+%-10s+%s\n", "--------", "-------------------", "-------------------", "----------", "------")
	for _, s := range rep.Steps {
		e, ok := expected[s.Step]
		if !ok && !all {
			continue
		}
		want, match := "", ""
		if ok {
			want, match = e.Transition, "OK"
			if mismatched[s.Step] {
				match = "DIFF"
			}
		}
		fmt.Printf("%-8d| %-18s| %-18s| %-9s| %s\n", s.Step, want, s.Transition, s.Status, match)
	}
	for _, m := range mismatches {
		fmt.Printf("  %s\n", m)
	}

	sum := replay.Summarize(rep.Steps)
	fmt.Printf("\nSummary: %d steps, %d active, %d warnings\n", sum.TotalSteps, sum.ActiveSteps, sum.Warnings)
	for _, name := range sum.TransitionNames() {
		fmt.Printf("  %-18s %d\n", name, sum.Transitions[name])
	}
	fmt.Printf("%d expected, %d diverge\n", len(f.Expected), len(mismatched))

	if len(mismatches) > 0 {
		return 1
	}
	return 0
}

// #endregion output
