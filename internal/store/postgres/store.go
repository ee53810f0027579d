// Package postgres provides the PostgreSQL implementation of the store
// interfaces, for shared multi-instance deployments.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/garyzero/gary-zero/internal/store"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger

	users       *UserStore
	sessions    *SessionStore
	messages    *MessageStore
	events      *EventStore
	flags       *FlagStore
	deployments *DeploymentStore
	configs     *ConfigStore
	benchmarks  *BenchmarkStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// NewPostgresStore creates a new PostgreSQL store with the given configuration.
func NewPostgresStore(cfg *Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	s.users = &UserStore{db: db, logger: logger}
	s.sessions = &SessionStore{db: db, logger: logger}
	s.messages = &MessageStore{db: db, logger: logger}
	s.events = &EventStore{db: db, logger: logger}
	s.flags = &FlagStore{db: db, logger: logger}
	s.deployments = &DeploymentStore{db: db, logger: logger}
	s.configs = &ConfigStore{db: db, logger: logger}
	s.benchmarks = &BenchmarkStore{db: db, logger: logger}

	logger.Info("connected to PostgreSQL database")
	return s, nil
}

// ensureSchema creates the tables if they don't exist.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            UUID PRIMARY KEY,
			email         VARCHAR(255) NOT NULL UNIQUE,
			name          VARCHAR(255) NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role          VARCHAR(20) NOT NULL CHECK (role IN ('admin', 'member')),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         UUID PRIMARY KEY,
			user_id    VARCHAR(255) NOT NULL,
			agent_name VARCHAR(255) NOT NULL DEFAULT '',
			title      TEXT NOT NULL DEFAULT '',
			provider   VARCHAR(63) NOT NULL DEFAULT '',
			model      VARCHAR(255) NOT NULL DEFAULT '',
			status     VARCHAR(20) NOT NULL CHECK (status IN ('active', 'idle', 'archived')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id         UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       VARCHAR(20) NOT NULL,
			content    TEXT NOT NULL,
			tool_name  VARCHAR(255),
			tokens_in  INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS events (
			id         UUID PRIMARY KEY,
			type       VARCHAR(32) NOT NULL,
			level      VARCHAR(16) NOT NULL,
			component  VARCHAR(63) NOT NULL DEFAULT '',
			session_id VARCHAR(63),
			user_id    VARCHAR(63),
			message    TEXT NOT NULL,
			metadata   JSONB,
			timestamp  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);

		CREATE TABLE IF NOT EXISTS flags (
			key          VARCHAR(255) PRIMARY KEY,
			description  TEXT NOT NULL DEFAULT '',
			type         VARCHAR(20) NOT NULL CHECK (type IN ('boolean', 'percentage', 'targeted')),
			enabled      BOOLEAN NOT NULL DEFAULT FALSE,
			percentage   INTEGER NOT NULL DEFAULT 0,
			targets      TEXT[],
			environments TEXT[],
			updated_by   VARCHAR(255) NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS deployments (
			id               UUID PRIMARY KEY,
			app_name         VARCHAR(255) NOT NULL,
			version          VARCHAR(255) NOT NULL,
			environment      VARCHAR(63) NOT NULL,
			strategy         VARCHAR(20) NOT NULL CHECK (strategy IN (
				'immediate', 'rolling', 'canary', 'blue_green'
			)),
			status           VARCHAR(20) NOT NULL CHECK (status IN (
				'pending', 'in_progress', 'completed', 'failed', 'rolled_back'
			)),
			hosts            TEXT[],
			progress         INTEGER NOT NULL DEFAULT 0,
			canary_percent   INTEGER NOT NULL DEFAULT 0,
			rolled_back_from UUID,
			error            TEXT NOT NULL DEFAULT '',
			triggered_by     VARCHAR(255) NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at       TIMESTAMPTZ,
			finished_at      TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_deployments_app ON deployments(app_name, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status);

		CREATE TABLE IF NOT EXISTS config_entries (
			key         VARCHAR(255) NOT NULL,
			version     INTEGER NOT NULL,
			value       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			updated_by  VARCHAR(255) NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (key, version)
		);

		CREATE TABLE IF NOT EXISTS benchmark_runs (
			id          UUID PRIMARY KEY,
			suite       VARCHAR(255) NOT NULL,
			status      VARCHAR(20) NOT NULL CHECK (status IN (
				'queued', 'running', 'completed', 'failed'
			)),
			tasks       INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at  TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS benchmark_results (
			id          UUID PRIMARY KEY,
			run_id      UUID NOT NULL REFERENCES benchmark_runs(id) ON DELETE CASCADE,
			task_name   VARCHAR(255) NOT NULL,
			attempt     INTEGER NOT NULL DEFAULT 1,
			success     BOOLEAN NOT NULL DEFAULT FALSE,
			duration_ns BIGINT NOT NULL DEFAULT 0,
			score       DOUBLE PRECISION NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_benchmark_results_run ON benchmark_results(run_id);

		CREATE TABLE IF NOT EXISTS benchmark_queue (
			id         UUID PRIMARY KEY,
			job_data   JSONB NOT NULL,
			status     VARCHAR(20) NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ
		);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Users returns the UserStore.
func (s *PostgresStore) Users() store.UserStore { return s.users }

// Sessions returns the SessionStore.
func (s *PostgresStore) Sessions() store.SessionStore { return s.sessions }

// Messages returns the MessageStore.
func (s *PostgresStore) Messages() store.MessageStore { return s.messages }

// Events returns the EventStore.
func (s *PostgresStore) Events() store.EventStore { return s.events }

// Flags returns the FlagStore.
func (s *PostgresStore) Flags() store.FlagStore { return s.flags }

// Deployments returns the DeploymentStore.
func (s *PostgresStore) Deployments() store.DeploymentStore { return s.deployments }

// Configs returns the ConfigStore.
func (s *PostgresStore) Configs() store.ConfigStore { return s.configs }

// Benchmarks returns the BenchmarkStore.
func (s *PostgresStore) Benchmarks() store.BenchmarkStore { return s.benchmarks }

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes the given function within a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txs := &txStore{tx: tx, logger: s.logger}

	if err := fn(txs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL connection")
	return s.db.Close()
}

// DB returns the underlying database connection. This is useful for
// components that need direct database access, such as the queue.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// txStore wraps a transaction and implements the Store interface.
type txStore struct {
	tx     *sql.Tx
	logger *slog.Logger

	users       *UserStore
	sessions    *SessionStore
	messages    *MessageStore
	events      *EventStore
	flags       *FlagStore
	deployments *DeploymentStore
	configs     *ConfigStore
	benchmarks  *BenchmarkStore
}

func (s *txStore) Users() store.UserStore {
	if s.users == nil {
		s.users = &UserStore{tx: s.tx, logger: s.logger}
	}
	return s.users
}

func (s *txStore) Sessions() store.SessionStore {
	if s.sessions == nil {
		s.sessions = &SessionStore{tx: s.tx, logger: s.logger}
	}
	return s.sessions
}

func (s *txStore) Messages() store.MessageStore {
	if s.messages == nil {
		s.messages = &MessageStore{tx: s.tx, logger: s.logger}
	}
	return s.messages
}

func (s *txStore) Events() store.EventStore {
	if s.events == nil {
		s.events = &EventStore{tx: s.tx, logger: s.logger}
	}
	return s.events
}

func (s *txStore) Flags() store.FlagStore {
	if s.flags == nil {
		s.flags = &FlagStore{tx: s.tx, logger: s.logger}
	}
	return s.flags
}

func (s *txStore) Deployments() store.DeploymentStore {
	if s.deployments == nil {
		s.deployments = &DeploymentStore{tx: s.tx, logger: s.logger}
	}
	return s.deployments
}

func (s *txStore) Configs() store.ConfigStore {
	if s.configs == nil {
		s.configs = &ConfigStore{tx: s.tx, logger: s.logger}
	}
	return s.configs
}

func (s *txStore) Benchmarks() store.BenchmarkStore {
	if s.benchmarks == nil {
		s.benchmarks = &BenchmarkStore{tx: s.tx, logger: s.logger}
	}
	return s.benchmarks
}

func (s *txStore) Ping(ctx context.Context) error { return nil }

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txStore) Close() error {
	// No-op for transaction store
	return nil
}

// queryable is an interface that both *sql.DB and *sql.Tx implement.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
