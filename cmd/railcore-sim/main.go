// Command railcore-sim replays a YAML scenario through the dispatch core and
// serves metrics, health probes and diagnostics while it runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/claimstore"
	"github.com/dd0wney/cluso-dispatch/pkg/config"
	"github.com/dd0wney/cluso-dispatch/pkg/diagnostics"
	"github.com/dd0wney/cluso-dispatch/pkg/dispatch"
	"github.com/dd0wney/cluso-dispatch/pkg/health"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/scenario"
	"github.com/dd0wney/cluso-dispatch/pkg/server"
	"github.com/dd0wney/cluso-dispatch/pkg/snapshot"
)

type options struct {
	configPath   string
	scenarioPath string
	addr         string
	interval     time.Duration
	databaseURL  string
	snapshotPath string
	linger       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Configuration file (defaults when empty)")
	flag.StringVar(&opts.scenarioPath, "scenario", "", "Scenario file (required)")
	flag.StringVar(&opts.addr, "addr", ":9090", "Address for /metrics, /health and /graphql (empty disables)")
	flag.DurationVar(&opts.interval, "interval", 500*time.Millisecond, "Wall-clock time per tick (0 runs flat out)")
	flag.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL for claim checkpoints (in-memory when empty)")
	flag.StringVar(&opts.snapshotPath, "snapshot", "", "Write the final graph snapshot to this file")
	flag.BoolVar(&opts.linger, "linger", false, "Keep serving after the scenario ends")
	flag.Parse()

	if opts.scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "railcore-sim: -scenario is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		logging.DefaultLogger().Error("simulation failed", logging.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func run(ctx context.Context, opts options) error {
	logger := logging.DefaultLogger()
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	sc, err := scenario.Load(opts.scenarioPath)
	if err != nil {
		return err
	}
	g, err := sc.BuildGraph()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	started := time.Now()
	core, err := dispatch.New(dispatch.Options{
		Config: cfg,
		Graph:  g,
		Callback: func(train string, a occupancy.Aspect) error {
			logger.Info("signal", logging.TrainID(train), logging.Aspect(a))
			return nil
		},
		Logger:  logger,
		Metrics: reg,
	})
	if err != nil {
		return err
	}
	defer core.Close()

	store, err := openStore(ctx, opts.databaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if _, err := claimstore.Restore(ctx, store, core.Manager(), logger); err != nil {
		return err
	}

	janitor, err := health.NewClaimJanitor(core.Manager(), core.Fleet(), health.JanitorOptions{
		Timeout: cfg.Health.ClaimTimeout,
		Logger:  logger,
		Metrics: reg,
	})
	if err != nil {
		return err
	}
	if cfg.Health.JanitorInterval > 0 {
		go func() {
			if err := janitor.Run(ctx, cfg.Health.JanitorInterval); err != nil && ctx.Err() == nil {
				logger.Error("janitor stopped", logging.Error(err))
			}
		}()
	}

	if opts.addr != "" {
		gs, err := newServer(opts.addr, core, store, janitor, reg, logger)
		if err != nil {
			return err
		}
		gs.SetReloadFunc(func() error {
			fresh, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			logger.SetLevel(logging.ParseLevel(fresh.Logging.Level))
			return nil
		})
		go watchReload(ctx, gs)
		go func() {
			if err := gs.ListenAndServe(ctx, 10*time.Second); err != nil {
				logger.Error("http server failed", logging.Error(err))
			}
		}()
	}

	logger.Info("scenario starting",
		logging.String("name", sc.Name),
		logging.Count(len(sc.Trains)),
		logging.Int("max_ticks", sc.MaxTicks))

	summary, err := simulate(ctx, scenario.NewRunner(core, sc, logger), opts.interval, func() {
		if _, err := claimstore.Checkpoint(ctx, store, core.Manager()); err != nil {
			logger.Warn("checkpoint failed", logging.Error(err))
		}
		reg.UpdateSystemMetrics(started)
	})
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("scenario interrupted", logging.Int("tick", summary.Ticks))
	case err != nil:
		return err
	}
	logger.Info("scenario finished",
		logging.Int("ticks", summary.Ticks),
		logging.Int("arrived", len(summary.Arrivals)),
		logging.Bool("stalled", summary.Stalled))

	if opts.snapshotPath != "" {
		if err := writeSnapshot(opts.snapshotPath, core); err != nil {
			return err
		}
		logger.Info("snapshot written", logging.String("path", opts.snapshotPath))
	}

	if opts.linger && opts.addr != "" {
		<-ctx.Done()
	}
	return nil
}

// simulate steps the runner, pacing ticks by interval, and calls after
// once per tick.
func simulate(ctx context.Context, r *scenario.Runner, interval time.Duration, after func()) (scenario.Summary, error) {
	var pace <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		pace = t.C
	}
	return r.Run(ctx, func(scenario.StepReport) {
		after()
		if pace == nil {
			return
		}
		select {
		case <-pace:
		case <-ctx.Done():
		}
	})
}

func openStore(ctx context.Context, url string) (claimstore.Store, error) {
	if url == "" {
		return claimstore.NewMemoryStore(), nil
	}
	return claimstore.NewPGStore(ctx, url)
}

func newServer(addr string, core *dispatch.Core, store claimstore.Store, janitor *health.ClaimJanitor,
	reg *metrics.Registry, logger logging.Logger) (*server.GracefulServer, error) {
	hc := health.NewHealthChecker(nil)
	hc.RegisterReadinessCheck("graph", health.GraphCheck(core.Snapshot))
	hc.RegisterReadinessCheck("claim_store", health.StoreCheck(store.Ping, 2*time.Second))
	hc.RegisterLivenessCheck("memory", health.MemoryCheck())
	hc.RegisterCheck("wait_queues", health.WaitQueueCheck(core.Manager().SnapshotQueues, 32))
	hc.RegisterCheck("deadlocks", health.DeadlockCheck(core.Deadlocks().LockCount))
	hc.RegisterCheck("janitor", janitor.Check())

	schema, err := diagnostics.NewSchema(core)
	if err != nil {
		return nil, err
	}
	mux := server.NewMux(server.Routes{
		Metrics:     reg,
		Health:      hc,
		Schema:      schema,
		Diagnostics: true,
		Logger:      logger,
	})
	return server.NewGracefulServer(addr, mux, logger), nil
}

func watchReload(ctx context.Context, gs *server.GracefulServer) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-hup:
			_ = gs.Reload()
		case <-ctx.Done():
			return
		}
	}
}

func writeSnapshot(path string, core *dispatch.Core) error {
	data, err := snapshot.Marshal(snapshot.Capture(core.Snapshot(), time.Now()))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
