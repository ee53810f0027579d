// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/garyzero/gary-zero/internal/models"
)

// Common store errors. Backends translate driver errors into these.
var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateKey is returned when attempting to create a resource with a duplicate key.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store is the main interface for database operations.
type Store interface {
	// Users returns the UserStore for user operations.
	Users() UserStore
	// Sessions returns the SessionStore for chat session operations.
	Sessions() SessionStore
	// Messages returns the MessageStore for chat message operations.
	Messages() MessageStore
	// Events returns the EventStore for unified log event operations.
	Events() EventStore
	// Flags returns the FlagStore for feature flag operations.
	Flags() FlagStore
	// Deployments returns the DeploymentStore for deployment operations.
	Deployments() DeploymentStore
	// Configs returns the ConfigStore for versioned config entries.
	Configs() ConfigStore
	// Benchmarks returns the BenchmarkStore for benchmark runs and results.
	Benchmarks() BenchmarkStore

	// Ping verifies connectivity to the underlying database.
	Ping(ctx context.Context) error

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Close closes the database connection.
	Close() error
}

// Role represents a user's role in the system.
type Role string

const (
	// RoleAdmin has full access including user and flag management.
	RoleAdmin Role = "admin"
	// RoleMember has standard access without admin functions.
	RoleMember Role = "member"
)

// User represents a user in the system.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore defines operations for user management.
type UserStore interface {
	// Create creates a new user with a hashed password.
	Create(ctx context.Context, email, password string, role Role) (*User, error)
	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*User, error)
	// Authenticate verifies credentials and returns the user.
	Authenticate(ctx context.Context, email, password string) (*User, error)
	// List retrieves all users.
	List(ctx context.Context) ([]*User, error)
	// Delete removes a user by ID.
	Delete(ctx context.Context, id string) error
	// Count returns the total number of users.
	Count(ctx context.Context) (int, error)
}

// SessionStore defines operations for chat session management.
type SessionStore interface {
	// Create creates a new chat session.
	Create(ctx context.Context, session *models.ChatSession) error
	// Get retrieves a session by ID.
	Get(ctx context.Context, id string) (*models.ChatSession, error)
	// List retrieves all sessions for a user, ordered by updated_at DESC.
	List(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error)
	// Update updates an existing session.
	Update(ctx context.Context, session *models.ChatSession) error
	// Delete removes a session and its messages.
	Delete(ctx context.Context, id string) error
	// Touch bumps the session's updated_at timestamp.
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageStore defines operations for chat message management.
type MessageStore interface {
	// Create appends a message to a session.
	Create(ctx context.Context, msg *models.Message) error
	// List retrieves messages for a session in chronological order.
	List(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
	// CountBySession returns the number of messages in a session.
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// EventStore defines operations for unified log events.
type EventStore interface {
	// Create persists a log event.
	Create(ctx context.Context, event *models.LogEvent) error
	// List retrieves events matching the filter, newest first.
	List(ctx context.Context, filter models.EventFilter) ([]*models.LogEvent, error)
	// DeleteOlderThan removes events older than the given time.
	// Returns the number of events removed.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	// CountByLevel returns event counts grouped by level.
	CountByLevel(ctx context.Context) (map[models.EventLevel]int, error)
}

// FlagStore defines operations for feature flag management.
type FlagStore interface {
	// Create creates a new feature flag.
	Create(ctx context.Context, flag *models.FeatureFlag) error
	// Get retrieves a flag by key.
	Get(ctx context.Context, key string) (*models.FeatureFlag, error)
	// List retrieves all flags.
	List(ctx context.Context) ([]*models.FeatureFlag, error)
	// Update updates an existing flag.
	Update(ctx context.Context, flag *models.FeatureFlag) error
	// Delete removes a flag by key.
	Delete(ctx context.Context, key string) error
}

// DeploymentStore defines operations for deployment management.
type DeploymentStore interface {
	// Create creates a new deployment record.
	Create(ctx context.Context, deployment *models.Deployment) error
	// Get retrieves a deployment by ID.
	Get(ctx context.Context, id string) (*models.Deployment, error)
	// List retrieves deployments for an app, ordered by created_at DESC.
	List(ctx context.Context, appName string, limit int) ([]*models.Deployment, error)
	// ListByStatus retrieves all deployments with a given status.
	ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error)
	// Update updates an existing deployment.
	Update(ctx context.Context, deployment *models.Deployment) error
	// GetLatestCompleted retrieves the most recent completed deployment for
	// an app and environment, used as the rollback target.
	GetLatestCompleted(ctx context.Context, appName, environment string) (*models.Deployment, error)
}

// ConfigStore defines operations for versioned configuration entries.
type ConfigStore interface {
	// Set appends a new version for the key and returns the stored entry.
	// The first version of a key is 1.
	Set(ctx context.Context, entry *models.ConfigEntry) (*models.ConfigEntry, error)
	// Get retrieves the latest version of a key.
	Get(ctx context.Context, key string) (*models.ConfigEntry, error)
	// GetVersion retrieves a specific version of a key.
	GetVersion(ctx context.Context, key string, version int) (*models.ConfigEntry, error)
	// History retrieves all versions of a key, newest first.
	History(ctx context.Context, key string, limit int) ([]*models.ConfigEntry, error)
	// List retrieves the latest version of every key.
	List(ctx context.Context) ([]*models.ConfigEntry, error)
	// Delete removes a key and all its versions.
	Delete(ctx context.Context, key string) error
}

// BenchmarkStore defines operations for benchmark runs and results.
type BenchmarkStore interface {
	// CreateRun creates a new benchmark run record.
	CreateRun(ctx context.Context, run *models.BenchmarkRun) error
	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*models.BenchmarkRun, error)
	// ListRuns retrieves recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*models.BenchmarkRun, error)
	// UpdateRun updates an existing run.
	UpdateRun(ctx context.Context, run *models.BenchmarkRun) error
	// CreateResult persists a single task result.
	CreateResult(ctx context.Context, result *models.BenchmarkResult) error
	// ListResults retrieves all results for a run.
	ListResults(ctx context.Context, runID string) ([]*models.BenchmarkResult, error)
}
