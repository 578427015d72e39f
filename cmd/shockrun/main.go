package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/densityaware/shockharness/internal/config"
	"github.com/densityaware/shockharness/internal/control"
	"github.com/densityaware/shockharness/internal/eventbus"
	"github.com/densityaware/shockharness/internal/logging"
	"github.com/densityaware/shockharness/internal/pipeline"
	"github.com/densityaware/shockharness/internal/selector"
	"github.com/densityaware/shockharness/internal/simclient"
	"github.com/densityaware/shockharness/internal/stability"
	"github.com/densityaware/shockharness/internal/store"
)

// #region main
func main() {
	cfgPath := flag.String("config", "", "experiment file (YAML or JSON); defaults to the ring stability evaluation")
	humans := flag.Int("humans", 22, "default-law vehicles on the offline ring")
	controlled := flag.Int("controlled", 0, "vehicles named after the control method on the offline ring")
	speed := flag.Float64("speed", 4, "initial and target speed on the offline ring, m/s")
	emissions := flag.String("emissions", "emissions", "directory for per-rollout emission CSVs (offline ring only)")
	streamAll := flag.Bool("stream-all", false, "publish every tick to Kafka, not only transitions")
	flag.Parse()

	exp := config.Default()
	if *cfgPath != "" {
		var err error
		if exp, err = config.Load(*cfgPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	exp.ApplyEnv(os.Getenv)
	if err := exp.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger, logCloser, err := logging.NewLogger(exp.Runtime.LogFile, logging.ParseLevel(exp.Runtime.LogLevel))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logCloser.Close()

	// Initialize rollout store
	st, err := store.NewStore(exp.Runtime.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	sinks := []pipeline.Sink{logging.DBSink{DB: st.DB()}}
	if len(exp.Runtime.KafkaBrokers) > 0 {
		pub, err := eventbus.NewPublisher(exp.Runtime.KafkaBrokers, exp.Runtime.KafkaTopic, logger)
		if err != nil {
			log.Fatalf("event bus: %v", err)
		}
		defer pub.Close()
		pub.All = *streamAll
		sinks = append(sinks, pub)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Shock harness: %s, %d rollouts\n", exp.Name, exp.Rollouts)
	fmt.Printf("  DB: %s | Sim: %s\n", exp.Runtime.DBPath, orOffline(exp.Runtime.SimAddr))

	failed := 0
	for i := 0; i < exp.Rollouts; i++ {
		seed := selector.RolloutSeed(exp.Seed, i)
		var runErr error
		if exp.Runtime.SimAddr != "" {
			runErr = runRemote(ctx, exp, st, seed, logger, sinks)
		} else {
			runErr = runOffline(ctx, exp, st, seed, logger, sinks, ringOptions{
				humans: *humans, controlled: *controlled, speed: *speed,
				emission: filepath.Join(*emissions, fmt.Sprintf("%s-%03d.csv", exp.Name, i)),
			})
		}
		if runErr != nil {
			failed++
			logger.Error("rollout failed", "index", i, "seed", seed, "err", runErr)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d rollouts failed", failed, exp.Rollouts)
	}
}

// #endregion main

// #region rollouts
type ringOptions struct {
	humans, controlled int
	speed              float64
	emission           string
}

// runOffline drives one rollout on the in-process kinematic ring and writes its
// emission file for the stability analysis.
func runOffline(ctx context.Context, exp config.Experiment, st *store.Store, seed int64, logger *slog.Logger, sinks []pipeline.Sink, opt ringOptions) error {
	reg := pipeline.NewRing(opt.humans, opt.controlled, exp.Control.Method, exp.Control.DefaultLaw, pipeline.RingLength, opt.speed)
	sim := pipeline.NewKinematic(reg, exp.StepsPerSecond)
	sim.EdgeLength = pipeline.RingLength
	rec := pipeline.NewRecorder(sim)

	if err := record(ctx, exp, st, sim, control.Relax(opt.speed, 2), seed, logger, append(sinks[:len(sinks):len(sinks)], rec)); err != nil {
		return err
	}
	if err := stability.SaveEmission(opt.emission, rec.Series, 0, 1/exp.StepsPerSecond); err != nil {
		return fmt.Errorf("write emission: %w", err)
	}
	logger.Info("emission written", "path", opt.emission)
	return nil
}

// runRemote drives one rollout against the gRPC simulator. The simulator writes its
// own emission files.
func runRemote(ctx context.Context, exp config.Experiment, st *store.Store, seed int64, logger *slog.Logger, sinks []pipeline.Sink) error {
	client, err := simclient.NewClient(exp.Runtime.SimAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to simulator at %s: %w", exp.Runtime.SimAddr, err)
	}
	defer client.Close()
	if err := client.Sync(ctx); err != nil {
		return fmt.Errorf("sync simulator: %w", err)
	}
	return record(ctx, exp, st, client, nil, seed, logger, sinks)
}

// record registers the rollout, runs it and stores the outcome.
func record(ctx context.Context, exp config.Experiment, st *store.Store, sim pipeline.Simulator, ctrl control.Controller, seed int64, logger *slog.Logger, sinks []pipeline.Sink) error {
	cfg := exp.RolloutConfig()
	model, sched, err := pipeline.Prepare(cfg, seed)
	if err != nil {
		return err
	}
	rec, err := st.CreateRollout(exp.Name, seed, model, sched)
	if err != nil {
		return err
	}
	sum, runErr := pipeline.Run(ctx, sim, ctrl, cfg, rec.RolloutID, seed, logger, sinks...)
	if err := st.FinishRollout(rec.RolloutID, store.RolloutStats{Steps: sum.Steps, Cycles: sum.Cycles, ActiveSteps: sum.ActiveSteps}, runErr); err != nil {
		logger.Error("finish rollout", "rollout", rec.RolloutID, "err", err)
	}
	fmt.Printf("[%s] seed=%d model=%d steps=%d cycles=%d active=%d warnings=%d incomplete=%t\n",
		shortID(rec.RolloutID), seed, sum.Model.ID, sum.Steps, sum.Cycles, sum.ActiveSteps, sum.Warnings, sum.Incomplete)
	return runErr
}

// #endregion rollouts

// #region helpers
func orOffline(addr string) string {
	if addr == "" {
		return "offline ring"
	}
	return addr
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ pipeline.Simulator = (*simclient.Client)(nil)

// #endregion helpers
