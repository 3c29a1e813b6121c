package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tideline-labs/tideline-go/internal/deployfile"
	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/metrics"
	"github.com/tideline-labs/tideline-go/internal/orchestration"
	"github.com/tideline-labs/tideline-go/internal/platform/env"
	"github.com/tideline-labs/tideline-go/internal/platform/httpserver"
	"github.com/tideline-labs/tideline-go/internal/platform/objectstore"
	"github.com/tideline-labs/tideline-go/internal/platform/postgres"
	pgrepo "github.com/tideline-labs/tideline-go/internal/repo/postgres"
	"github.com/tideline-labs/tideline-go/internal/service/lateruns"
	"github.com/tideline-labs/tideline-go/internal/service/loop"
	"github.com/tideline-labs/tideline-go/internal/service/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("TIDELINE_OPS_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("TIDELINE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	concurrencyRetryAfter, err := env.Duration("TIDELINE_CONCURRENCY_RETRY_AFTER", 30*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var results orchestration.StateDataStore
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	if storeCfg.Enabled {
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBucket(startupCtx, client, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		results = objectstore.NewStateDataStore(client, storeCfg)
	}

	meters := metrics.New(prometheus.DefaultRegisterer)
	store := pgrepo.NewStore(db)

	core, err := orchestration.CorePolicy(orchestration.CoreConfig{ConcurrencyRetryAfter: concurrencyRetryAfter})
	if err != nil {
		logger.Error("core policy init failed", "error", err)
		os.Exit(2)
	}
	aux, err := orchestration.AuxiliaryPolicy(results, &logNotifier{logger: logger}, logger)
	if err != nil {
		logger.Error("auxiliary policy init failed", "error", err)
		os.Exit(2)
	}
	engine := orchestration.NewEngine(store, core, aux, logger, meters)
	if engine == nil {
		logger.Error("engine init failed")
		os.Exit(2)
	}

	if path := env.String("TIDELINE_DEPLOY_FILE", ""); path != "" {
		file, err := deployfile.Load(path)
		if err != nil {
			logger.Error("invalid deploy file", "path", path, "error", err)
			os.Exit(2)
		}
		if err := deployfile.Apply(ctx, store, file); err != nil {
			logger.Error("applying deploy file failed", "path", path, "error", err)
			os.Exit(1)
		}
		logger.Info("deploy file applied", "path", path, "deployments", len(file.Deployments))
	}

	schedulerCfg, err := scheduler.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid scheduler config", "error", err)
		os.Exit(2)
	}
	lateCfg, err := lateruns.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid late-runs config", "error", err)
		os.Exit(2)
	}

	schedulerSvc := scheduler.New(store, store, schedulerCfg, logger, meters)
	lateSvc := lateruns.New(store, engine, lateCfg, logger)
	if schedulerSvc == nil || lateSvc == nil {
		logger.Error("service init failed")
		os.Exit(2)
	}

	var wg sync.WaitGroup
	startLoop := func(name string, interval time.Duration, fn func(context.Context) error) {
		l, err := loop.New(name, interval, logger, meters)
		if err != nil {
			logger.Error("loop init failed", "loop", name, "error", err)
			os.Exit(2)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(ctx, fn)
		}()
	}
	startLoop("scheduler", schedulerCfg.Interval, schedulerSvc.RunOnce)
	startLoop("late-runs", lateCfg.Interval, lateSvc.RunOnce)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("tideline"))
	mux.HandleFunc("/readyz", httpserver.Readyz("tideline", httpserver.ReadinessCheck{
		Name: "database",
		Check: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	}))
	mux.Handle("/metrics", promhttp.Handler())

	serverCfg := httpserver.Config{Service: "tideline", Addr: addr, ShutdownTimeout: shutdownTimeout}
	if err := httpserver.Run(ctx, logger, serverCfg, mux); err != nil {
		logger.Error("http server failed", "error", err)
		stop()
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()
	logger.Info("shutdown complete")
}

// logNotifier is the default transition fan-out: structured log lines that
// downstream collectors can consume.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) NotifyTransition(ctx context.Context, run domain.Run, from, to domain.State) error {
	n.logger.Info("run transition",
		"run_id", run.ID,
		"deployment_id", run.DeploymentID,
		"from", string(from.Type),
		"to", string(to.Type),
		"state_name", to.Name,
		"run_count", run.RunCount,
	)
	return nil
}
