// Package api provides the HTTP API server.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/garyzero/gary-zero/internal/agent"
	"github.com/garyzero/gary-zero/internal/api/handlers"
	"github.com/garyzero/gary-zero/internal/api/health"
	"github.com/garyzero/gary-zero/internal/api/middleware"
	"github.com/garyzero/gary-zero/internal/auth"
	"github.com/garyzero/gary-zero/internal/benchmark"
	"github.com/garyzero/gary-zero/internal/configmgr"
	"github.com/garyzero/gary-zero/internal/deploy"
	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/flags"
	"github.com/garyzero/gary-zero/internal/monitor"
	"github.com/garyzero/gary-zero/internal/settings"
	"github.com/garyzero/gary-zero/internal/store"
	"github.com/garyzero/gary-zero/internal/ws"
	"github.com/garyzero/gary-zero/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Services bundles the domain services the API exposes.
type Services struct {
	Auth      *auth.Service
	Keys      auth.APIKeyStore
	Agent     *agent.Service
	Settings  *settings.Service
	Flags     *flags.Service
	Config    *configmgr.Service
	Deploy    *deploy.Manager
	Events    *eventlog.Service
	Benchmark *benchmark.Service
	Suites    *benchmark.Registry
	Collector *monitor.Collector
	Alerts    *monitor.AlertManager
	Hub       *ws.Hub
}

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	store         store.Store
	services      Services
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, st store.Store, services Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:    st,
		services: services,
		config:   cfg,
		logger:   logger,
	}

	s.healthChecker = health.NewChecker(Version)
	s.healthChecker.Register("database", st)
	s.healthChecker.RegisterOptional("providers", health.PingerFunc(func(ctx context.Context) error {
		for _, provider := range []string{
			settings.ProviderOpenAI,
			settings.ProviderAnthropic,
			settings.ProviderGoogle,
			settings.ProviderGroq,
		} {
			if services.Settings.HasAPIKey(provider) {
				return nil
			}
		}
		return fmt.Errorf("no provider API key configured")
	}))

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger, s.services.Collector))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(120 * time.Second))

	// Health check endpoint (no auth required)
	r.Get("/health", s.healthChecker.Handler())
	r.Get("/ready", s.healthChecker.Handler())

	// Metrics exposition (no auth required)
	statsHandler := handlers.NewStatsHandler(s.store, s.services.Collector, s.services.Alerts, s.logger)
	r.Get("/metrics", statsHandler.Metrics)

	// Auth routes (no auth required)
	authHandler := handlers.NewAuthHandler(s.store, s.services.Auth, s.services.Keys, s.logger)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/can-register", authHandler.CanRegister)
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		authMiddleware := middleware.NewAuthMiddleware(s.services.Auth, s.store, s.config.APIKeyHeader, s.logger)
		r.Use(authMiddleware.Authenticate)

		r.Get("/auth/me", authHandler.Me)
		r.Route("/auth/api-keys", func(r chi.Router) {
			r.Post("/", authHandler.CreateAPIKey)
			r.Get("/", authHandler.ListAPIKeys)
			r.Delete("/{keyID}", authHandler.DeleteAPIKey)
		})

		// User management (admin only)
		r.Route("/users", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.PermissionManageUsers, s.logger))
			r.Get("/", authHandler.ListUsers)
			r.Post("/", authHandler.CreateUser)
			r.Delete("/{userID}", authHandler.DeleteUser)
		})

		// Chat sessions
		sessionHandler := handlers.NewSessionHandler(s.store, s.services.Agent, s.logger)
		wsHandler := handlers.NewWSHandler(ws.NewChatStream(s.services.Agent, s.logger), s.services.Hub, s.services.Agent, s.services.Settings, s.logger)
		r.Route("/sessions", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.PermissionChat, s.logger))
			r.Post("/", sessionHandler.Create)
			r.Get("/", sessionHandler.List)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Get("/messages", sessionHandler.Messages)
				r.Post("/messages", sessionHandler.Send)
				r.Get("/ws", wsHandler.Chat)
			})
		})

		// Agent-to-agent hub
		r.Route("/a2a", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.PermissionChat, s.logger))
			r.Get("/stream", wsHandler.Agents)
			r.Get("/agents", wsHandler.AgentList)
		})

		// Runtime settings (admin only)
		settingsHandler := handlers.NewSettingsHandler(s.services.Settings, s.logger)
		r.Route("/settings", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.PermissionManageSettings, s.logger))
			r.Get("/", settingsHandler.Get)
			r.Patch("/", settingsHandler.Update)
			r.Get("/providers", settingsHandler.Providers)
		})

		// Feature flags
		flagHandler := handlers.NewFlagHandler(s.services.Flags, s.logger)
		r.Route("/flags", func(r chi.Router) {
			r.Get("/", flagHandler.List)
			r.Get("/{key}", flagHandler.Get)
			r.Get("/{key}/evaluate", flagHandler.Evaluate)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(auth.PermissionManageFlags, s.logger))
				r.Post("/", flagHandler.Create)
				r.Put("/{key}", flagHandler.Update)
				r.Delete("/{key}", flagHandler.Delete)
			})
		})

		// Versioned configuration
		configHandler := handlers.NewConfigHandler(s.services.Config, s.logger)
		r.Route("/config", func(r chi.Router) {
			r.Get("/", configHandler.List)
			r.Get("/{key}", configHandler.Get)
			r.Get("/{key}/history", configHandler.History)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(auth.PermissionManageConfig, s.logger))
				r.Put("/{key}", configHandler.Set)
				r.Post("/{key}/rollback", configHandler.Rollback)
				r.Delete("/{key}", configHandler.Delete)
			})
		})

		// Deployments
		deploymentHandler := handlers.NewDeploymentHandler(s.services.Deploy, s.logger)
		r.Route("/deployments", func(r chi.Router) {
			r.Get("/", deploymentHandler.List)
			r.Get("/{deploymentID}", deploymentHandler.Get)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(auth.PermissionDeploy, s.logger))
				r.Post("/", deploymentHandler.Trigger)
				r.Post("/rollback", deploymentHandler.Rollback)
			})
		})

		// Unified event log
		logHandler := handlers.NewLogHandler(s.services.Events, s.logger)
		r.Route("/logs", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.PermissionViewLogs, s.logger))
			r.Get("/", logHandler.Query)
			r.Get("/recent", logHandler.Recent)
			r.Get("/counts", logHandler.Counts)
			r.Get("/stream", logHandler.Stream)
		})

		// Benchmarks
		benchmarkHandler := handlers.NewBenchmarkHandler(s.store, s.services.Benchmark, s.services.Suites, s.logger)
		r.Route("/benchmarks", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.PermissionRunBenchmarks, s.logger))
			r.Get("/suites", benchmarkHandler.Suites)
			r.Post("/runs", benchmarkHandler.Enqueue)
			r.Get("/runs", benchmarkHandler.ListRuns)
			r.Route("/runs/{runID}", func(r chi.Router) {
				r.Get("/", benchmarkHandler.GetRun)
				r.Get("/results", benchmarkHandler.Results)
				r.Get("/summary", benchmarkHandler.Summary)
			})
		})

		// Dashboard statistics and alerts
		r.Get("/stats", statsHandler.Dashboard)
		r.Get("/alerts", statsHandler.Alerts)
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
