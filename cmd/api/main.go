// Package main provides the entry point for the Gary-Zero server.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/garyzero/gary-zero/internal/agent"
	"github.com/garyzero/gary-zero/internal/api"
	"github.com/garyzero/gary-zero/internal/auth"
	"github.com/garyzero/gary-zero/internal/benchmark"
	"github.com/garyzero/gary-zero/internal/configmgr"
	"github.com/garyzero/gary-zero/internal/deploy"
	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/flags"
	"github.com/garyzero/gary-zero/internal/monitor"
	"github.com/garyzero/gary-zero/internal/providers"
	"github.com/garyzero/gary-zero/internal/queue"
	pgqueue "github.com/garyzero/gary-zero/internal/queue/postgres"
	queuesqlite "github.com/garyzero/gary-zero/internal/queue/sqlite"
	"github.com/garyzero/gary-zero/internal/security"
	"github.com/garyzero/gary-zero/internal/settings"
	"github.com/garyzero/gary-zero/internal/shutdown"
	"github.com/garyzero/gary-zero/internal/store"
	"github.com/garyzero/gary-zero/internal/store/postgres"
	"github.com/garyzero/gary-zero/internal/store/sqlite"
	"github.com/garyzero/gary-zero/internal/ws"
	"github.com/garyzero/gary-zero/pkg/config"
	"github.com/garyzero/gary-zero/pkg/logger"
)

func main() {
	log := logger.New(slog.LevelInfo, true)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	st, q, err := openStore(cfg, log.Logger)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	// Settings with encrypted API keys
	cipher, err := settings.NewCipher(settings.CipherConfig{
		AgePublicKey:  cfg.Secrets.AgePublicKey,
		AgePrivateKey: cfg.Secrets.AgePrivateKey,
	}, log.Logger)
	if err != nil {
		log.Error("failed to initialize settings cipher", "error", err)
		os.Exit(1)
	}
	if !cipher.CanEncrypt() {
		log.Warn("no age public key configured, API keys will be stored unencrypted")
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
	}, log.WithComponent("eventlog").Logger)

	flagSvc := flags.NewService(st, cfg.Environment, log.Logger)
	configSvc := configmgr.NewService(st, events, log.Logger)

	deployLog := log.WithComponent("deploy")
	applier := deploy.NewHTTPApplier(cfg.Deploy.AgentPort, cfg.Deploy.RequestTimeout, deployLog.Logger)
	deployMgr := deploy.NewManager(st, events, applier, deployLog.Logger)

	collector := monitor.NewCollector()
	registry := providers.NewRegistry(settingsSvc, cfg.Providers, log.Logger)
	validator := security.NewValidator(log.Logger)
	agentSvc := agent.NewService(st, registry, settingsSvc, flagSvc, events, validator, collector, log.Logger)

	// Benchmarks: registry, suite files, queue-backed worker
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

	var alerts *monitor.AlertManager
	if cfg.AlertRulesPath != "" {
		rules, err := monitor.LoadRules(cfg.AlertRulesPath)
		if err != nil {
			log.Error("failed to load alert rules", "path", cfg.AlertRulesPath, "error", err)
		} else {
			alerts = monitor.NewAlertManager(collector, rules, events, log.Logger)
		}
	}

	keyStore := auth.NewMemoryKeyStore()
	authSvc := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, keyStore, log.Logger)

	server := api.NewServer(cfg, st, api.Services{
		Auth:      authSvc,
		Keys:      keyStore,
		Agent:     agentSvc,
		Settings:  settingsSvc,
		Flags:     flagSvc,
		Config:    configSvc,
		Deploy:    deployMgr,
		Events:    events,
		Benchmark: benchSvc,
		Suites:    suites,
		Collector: collector,
		Alerts:    alerts,
		Hub:       ws.NewHub(log.Logger),
	}, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background workers
	go events.RunJanitor(ctx)
	go benchSvc.RunWorker(ctx)
	if alerts != nil {
		go alerts.Run(ctx)
	}

	// Teardown order is the reverse of registration: the HTTP server
	// drains first, then in-flight deployments, the store last.
	serverDone := make(chan error, 1)
	coord := shutdown.NewCoordinator(
		shutdown.WithLogger(log.Logger),
		shutdown.WithTimeout(cfg.Deploy.RequestTimeout+30*time.Second),
	)
	coord.Register(shutdown.NewCloserComponent("store", st))
	coord.Register(shutdown.NewFuncComponent("deploy-manager", func(context.Context) error {
		deployMgr.Close()
		deployMgr.Wait()
		return nil
	}))
	coord.Register(shutdown.NewFuncComponent("api-server", func(sctx context.Context) error {
		cancel()
		select {
		case err := <-serverDone:
			return err
		case <-sctx.Done():
			return sctx.Err()
		}
	}))

	log.Info("starting server",
		"host", cfg.APIHost,
		"port", cfg.APIPort,
		"environment", cfg.Environment,
	)

	go func() {
		serverDone <- server.Start(ctx)
		coord.Shutdown()
	}()
	go coord.WaitForSignal()

	coord.Wait()
	if code := coord.ExitCode(); code != 0 {
		os.Exit(code)
	}
	log.Info("server stopped")
}

// openStore selects PostgreSQL when DATABASE_URL is set, otherwise a
// SQLite file under the data directory.
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
