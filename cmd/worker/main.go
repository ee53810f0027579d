// Package main provides a standalone benchmark worker. Running it
// separately from the API server lets long benchmark runs scale out on
// a shared PostgreSQL queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/garyzero/gary-zero/internal/benchmark"
	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/providers"
	"github.com/garyzero/gary-zero/internal/queue"
	pgqueue "github.com/garyzero/gary-zero/internal/queue/postgres"
	queuesqlite "github.com/garyzero/gary-zero/internal/queue/sqlite"
	"github.com/garyzero/gary-zero/internal/settings"
	"github.com/garyzero/gary-zero/internal/shutdown"
	"github.com/garyzero/gary-zero/internal/store"
	"github.com/garyzero/gary-zero/internal/store/postgres"
	"github.com/garyzero/gary-zero/internal/store/sqlite"
	"github.com/garyzero/gary-zero/pkg/config"
	"github.com/garyzero/gary-zero/pkg/logger"
)

func main() {
	log := logger.New(slog.LevelInfo, true)

	cfg := config.LoadWithDefaults()

	st, q, err := openStore(cfg, log.Logger)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	cipher, err := settings.NewCipher(settings.CipherConfig{
		AgePublicKey:  cfg.Secrets.AgePublicKey,
		AgePrivateKey: cfg.Secrets.AgePrivateKey,
	}, log.Logger)
	if err != nil {
		log.Error("failed to initialize settings cipher", "error", err)
		os.Exit(1)
	}
	settingsSvc, err := settings.NewService(cfg.DataDir, cipher, cfg.Providers, log.Logger)
	if err != nil {
		log.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	events := eventlog.NewService(st, eventlog.Config{
		BufferSize:      cfg.EventLog.BufferSize,
		Retention:       cfg.EventLog.Retention,
		JanitorInterval: cfg.EventLog.JanitorInterval,
	}, log.Logger)

	registry := providers.NewRegistry(settingsSvc, cfg.Providers, log.Logger)

	suites := benchmark.NewRegistry()
	if cfg.Benchmark.SuiteDir != "" {
		loaded, err := benchmark.LoadSuiteDir(cfg.Benchmark.SuiteDir, suites, registry)
		if err != nil {
			log.Error("failed to load benchmark suites", "dir", cfg.Benchmark.SuiteDir, "error", err)
		} else {
			log.Info("benchmark suites loaded", "files", loaded, "suites", suites.Suites())
		}
	}

	benchLog := log.WithComponent("benchmark")
	harness := benchmark.NewHarness(benchmark.HarnessConfig{
		Concurrency: cfg.Benchmark.MaxConcurrency,
		TaskTimeout: cfg.Benchmark.TaskTimeout,
	}, benchLog.Logger)
	benchSvc := benchmark.NewService(st, q, suites, harness, events, cfg.Benchmark.PollInterval, benchLog.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	coord := shutdown.NewCoordinator(
		shutdown.WithLogger(log.Logger),
		shutdown.WithTimeout(cfg.Benchmark.TaskTimeout+10*time.Second),
	)
	coord.Register(shutdown.NewCloserComponent("store", st))
	coord.Register(shutdown.NewFuncComponent("benchmark-worker", func(sctx context.Context) error {
		cancel()
		select {
		case <-workerDone:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	}))

	log.Info("benchmark worker starting", "poll_interval", cfg.Benchmark.PollInterval)
	go func() {
		benchSvc.RunWorker(ctx)
		close(workerDone)
	}()

	coord.WaitForSignal()
	if code := coord.ExitCode(); code != 0 {
		os.Exit(code)
	}
	log.Info("benchmark worker stopped")
}

func openStore(cfg *config.Config, log *slog.Logger) (store.Store, queue.Queue, error) {
	if cfg.DatabaseDSN != "" {
		st, err := postgres.NewPostgresStore(postgres.DefaultConfig(cfg.DatabaseDSN), log)
		if err != nil {
			return nil, nil, err
		}
		return st, pgqueue.NewPostgresQueue(st.DB(), log), nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, err
	}
	st, err := sqlite.NewSQLiteStore(filepath.Join(cfg.DataDir, "gary-zero.db"), log)
	if err != nil {
		return nil, nil, err
	}
	return st, queuesqlite.NewSQLiteQueue(st.DB(), log), nil
}
