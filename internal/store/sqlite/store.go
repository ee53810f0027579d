// Package sqlite provides the SQLite implementation of the store interfaces.
// It is the default backend; the database lives in a single file under the
// configured data directory.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/garyzero/gary-zero/internal/store"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
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

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist. Parent directories are
// created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.users = &UserStore{db: db, logger: logger}
	s.sessions = &SessionStore{db: db, logger: logger}
	s.messages = &MessageStore{db: db, logger: logger}
	s.events = &EventStore{db: db, logger: logger}
	s.flags = &FlagStore{db: db, logger: logger}
	s.deployments = &DeploymentStore{db: db, logger: logger}
	s.configs = &ConfigStore{db: db, logger: logger}
	s.benchmarks = &BenchmarkStore{db: db, logger: logger}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL,
			created_at    DATETIME NOT NULL,

			CHECK (role IN ('admin', 'member'))
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			title      TEXT NOT NULL DEFAULT '',
			provider   TEXT NOT NULL DEFAULT '',
			model      TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,

			CHECK (status IN ('active', 'idle', 'archived'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user
			ON sessions(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			tool_name  TEXT,
			tokens_in  INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			level      TEXT NOT NULL,
			component  TEXT NOT NULL DEFAULT '',
			session_id TEXT,
			user_id    TEXT,
			message    TEXT NOT NULL,
			metadata   TEXT,
			timestamp  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);

		CREATE TABLE IF NOT EXISTS flags (
			key          TEXT PRIMARY KEY,
			description  TEXT NOT NULL DEFAULT '',
			type         TEXT NOT NULL,
			enabled      INTEGER NOT NULL DEFAULT 0,
			percentage   INTEGER NOT NULL DEFAULT 0,
			targets      TEXT,
			environments TEXT,
			updated_by   TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL,

			CHECK (type IN ('boolean', 'percentage', 'targeted'))
		);

		CREATE TABLE IF NOT EXISTS deployments (
			id               TEXT PRIMARY KEY,
			app_name         TEXT NOT NULL,
			version          TEXT NOT NULL,
			environment      TEXT NOT NULL,
			strategy         TEXT NOT NULL,
			status           TEXT NOT NULL,
			hosts            TEXT,
			progress         INTEGER NOT NULL DEFAULT 0,
			canary_percent   INTEGER NOT NULL DEFAULT 0,
			rolled_back_from TEXT,
			error            TEXT NOT NULL DEFAULT '',
			triggered_by     TEXT NOT NULL DEFAULT '',
			created_at       DATETIME NOT NULL,
			updated_at       DATETIME NOT NULL,
			started_at       DATETIME,
			finished_at      DATETIME,

			CHECK (strategy IN ('immediate', 'rolling', 'canary', 'blue_green')),
			CHECK (status IN ('pending', 'in_progress', 'completed', 'failed', 'rolled_back'))
		);

		CREATE INDEX IF NOT EXISTS idx_deployments_app
			ON deployments(app_name, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status);

		CREATE TABLE IF NOT EXISTS config_entries (
			key         TEXT NOT NULL,
			version     INTEGER NOT NULL,
			value       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			updated_by  TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL,

			PRIMARY KEY (key, version)
		);

		CREATE TABLE IF NOT EXISTS benchmark_runs (
			id          TEXT PRIMARY KEY,
			suite       TEXT NOT NULL,
			status      TEXT NOT NULL,
			tasks       INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL,
			started_at  DATETIME,
			finished_at DATETIME,

			CHECK (status IN ('queued', 'running', 'completed', 'failed'))
		);

		CREATE TABLE IF NOT EXISTS benchmark_results (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			task_name   TEXT NOT NULL,
			attempt     INTEGER NOT NULL DEFAULT 1,
			success     INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			score       REAL NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL,
			FOREIGN KEY (run_id) REFERENCES benchmark_runs(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_benchmark_results_run
			ON benchmark_results(run_id);

		CREATE TABLE IF NOT EXISTS benchmark_queue (
			id         TEXT PRIMARY KEY,
			job_data   TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			started_at DATETIME
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Users returns the UserStore.
func (s *SQLiteStore) Users() store.UserStore { return s.users }

// Sessions returns the SessionStore.
func (s *SQLiteStore) Sessions() store.SessionStore { return s.sessions }

// Messages returns the MessageStore.
func (s *SQLiteStore) Messages() store.MessageStore { return s.messages }

// Events returns the EventStore.
func (s *SQLiteStore) Events() store.EventStore { return s.events }

// Flags returns the FlagStore.
func (s *SQLiteStore) Flags() store.FlagStore { return s.flags }

// Deployments returns the DeploymentStore.
func (s *SQLiteStore) Deployments() store.DeploymentStore { return s.deployments }

// Configs returns the ConfigStore.
func (s *SQLiteStore) Configs() store.ConfigStore { return s.configs }

// Benchmarks returns the BenchmarkStore.
func (s *SQLiteStore) Benchmarks() store.BenchmarkStore { return s.benchmarks }

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes the given function within a database transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
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
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// DB returns the underlying database connection. This is useful for
// components that need direct database access, such as the queue.
func (s *SQLiteStore) DB() *sql.DB {
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
