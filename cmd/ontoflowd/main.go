// ontoflowd is the ontoflow process entrypoint: it loads configuration,
// wires the ontology store, invariant engine, case-lifecycle manager,
// pattern engine, telemetry, and the Cold-tier Temporal worker, then
// serves the HTTP management surface until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tclient "go.temporal.io/sdk/client"

	"github.com/antigravity-dev/ontoflow/internal/api"
	"github.com/antigravity-dev/ontoflow/internal/caselife"
	"github.com/antigravity-dev/ontoflow/internal/coldengine"
	"github.com/antigravity-dev/ontoflow/internal/config"
	"github.com/antigravity-dev/ontoflow/internal/health"
	"github.com/antigravity-dev/ontoflow/internal/invariant"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
	"github.com/antigravity-dev/ontoflow/internal/pattern"
	"github.com/antigravity-dev/ontoflow/internal/receipt"
	"github.com/antigravity-dev/ontoflow/internal/scheduler"
	"github.com/antigravity-dev/ontoflow/internal/sweep"
	"github.com/antigravity-dev/ontoflow/internal/telemetry"
	"github.com/antigravity-dev/ontoflow/internal/workflowspec"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "ontoflow.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	temporalAddr := flag.String("temporal", "", "Temporal frontend host:port; empty runs the Cold loop in-process with no durable worker")
	dockerImage := flag.String("shape-validator-image", "", "Docker image used for sandboxed shape validation; empty disables sandboxing")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	bootLogger.Info("ontoflowd starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	lockPath := "/tmp/ontoflowd.lock"
	if cfg.General.LockFile != "" {
		lockPath = cfg.General.LockFile
	}
	lockFile, err := health.AcquireFlock(lockPath)
	if err != nil {
		logger.Error("failed to acquire lock", "error", err)
		os.Exit(1)
	}
	defer health.ReleaseFlock(lockFile)

	store, closeStore, err := openStore(cfg.Snapshot.Backend, cfg.General.StateDB)
	if err != nil {
		logger.Error("failed to open ontology store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	receipts, closeReceipts, err := openReceiptLog(cfg.General.StateDB)
	if err != nil {
		logger.Error("failed to open receipt log", "error", err)
		os.Exit(1)
	}
	defer closeReceipts()

	inv := invariant.New(store, 64)

	sched := scheduler.New(
		logger.With("component", "scheduler"),
		cfg.Scheduler.Cores,
		cfg.Scheduler.RingCapacity,
		cfg.Tiers.ColdWorkerPoolSize,
		cfg.Scheduler.WatchdogPoll.Duration,
	)

	cases := caselife.NewManager(receipts, logger.With("component", "caselife"), sched)

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	go func() {
		if err := sched.Run(schedCtx); err != nil && err != context.Canceled {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	graph, err := bootstrapGraph(store)
	if err != nil {
		logger.Error("failed to compile bootstrap pattern graph", "error", err)
		os.Exit(1)
	}
	engine := pattern.NewEngine(cases, graph, pattern.NewRegistry(), logger.With("component", "pattern"))

	sweeper := sweep.New(store, inv, logger.With("component", "sweep"), cfg.General.SweepPeriod.Duration)
	sweeper.Start()
	defer sweeper.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewProvider(ctx, telemetry.ProviderConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
		})
		if err != nil {
			logger.Error("failed to start telemetry provider", "error", err)
			os.Exit(1)
		}
		defer provider.Shutdown(context.Background())

		emitter, err := telemetry.NewEmitter(
			provider.Tracer("ontoflowd"),
			provider.Meter("ontoflowd"),
			telemetry.NewSchema(),
		)
		if err != nil {
			logger.Error("failed to build telemetry emitter", "error", err)
			os.Exit(1)
		}
		cases.SetEmitter(emitter)
	}

	var temporalClient tclient.Client
	if *temporalAddr != "" {
		temporalClient, err = tclient.Dial(tclient.Options{HostPort: *temporalAddr})
		if err != nil {
			logger.Error("failed to dial temporal, falling back to in-process cold transforms", "error", err)
			temporalClient = nil
		} else {
			defer temporalClient.Close()

			var sandbox *coldengine.DockerShapeValidator
			if *dockerImage != "" {
				sandbox = coldengine.NewDockerShapeValidator(*dockerImage)
			}
			go func() {
				logger.Info("starting cold-tier temporal worker", "temporal", *temporalAddr)
				if err := coldengine.StartWorker(*temporalAddr, store, inv, sandbox); err != nil {
					logger.Error("cold-tier temporal worker stopped", "error", err)
				}
			}()
		}
	}

	apiSrv, err := api.NewServer(cfg, store, inv, cases, engine, receipts, temporalClient, logger.With("component", "api"))
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		os.Exit(1)
	}
	defer apiSrv.Close()

	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("ontoflowd running", "bind", cfg.API.Bind, "snapshot_backend", cfg.Snapshot.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	shutdownStart := time.Now()
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("ontoflowd stopped", "shutdown_duration", time.Since(shutdownStart).String())
}

// bootstrapGraph compiles the pattern graph for the store's current
// snapshot at process start. Workflow-spec documents registered later
// through POST /workflows are staged through the Cold transform loop and
// promoted into new snapshots, but the running engine's graph is fixed at
// construction — picking up a newly promoted graph requires a restart in
// this reference implementation (see DESIGN.md).
func bootstrapGraph(store ontology.Store) (pattern.Graph, error) {
	snap, err := store.Load(store.Current())
	if err != nil {
		return nil, fmt.Errorf("load current snapshot: %w", err)
	}
	return workflowspec.CompileGraph(snap.Triples)
}

func openStore(backend, stateDB string) (ontology.Store, func(), error) {
	switch backend {
	case "memory":
		root := ontology.NewSnapshot("", ontology.SnapshotMeta{Version: "v1"}, nil)
		return ontology.NewMemoryStore(root), func() {}, nil
	default:
		path := stateDB
		if path == "" {
			path = "ontoflow.db"
		}
		s, err := ontology.OpenSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		root := ontology.NewSnapshot("", ontology.SnapshotMeta{Version: "v1"}, nil)
		if err := s.Seed(root); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("seed root snapshot: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
}

func openReceiptLog(stateDB string) (receipt.Log, func(), error) {
	path := strings.TrimSuffix(stateDB, ".db") + "-receipts.db"
	if stateDB == "" {
		path = "ontoflow-receipts.db"
	}
	l, err := receipt.OpenSQLiteLog(path)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { l.Close() }, nil
}
