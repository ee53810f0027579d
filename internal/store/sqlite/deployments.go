package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// DeploymentStore implements store.DeploymentStore using SQLite.
type DeploymentStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *DeploymentStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const deploymentColumns = `id, app_name, version, environment, strategy, status, hosts,
	progress, canary_percent, rolled_back_from, error, triggered_by,
	created_at, updated_at, started_at, finished_at`

// Create creates a new deployment record.
func (s *DeploymentStore) Create(ctx context.Context, d *models.Deployment) error {
	if err := d.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	var hosts any
	if len(d.Hosts) > 0 {
		data, err := json.Marshal(d.Hosts)
		if err != nil {
			return fmt.Errorf("marshaling deployment hosts: %w", err)
		}
		hosts = string(data)
	}

	var rolledBackFrom any
	if d.RolledBackFrom != "" {
		rolledBackFrom = d.RolledBackFrom
	}

	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn().ExecContext(ctx, query,
		d.ID, d.AppName, d.Version, d.Environment, string(d.Strategy),
		string(d.Status), hosts, d.Progress, d.CanaryPercent, rolledBackFrom,
		d.Error, d.TriggeredBy, d.CreatedAt, d.UpdatedAt,
		nullTime(d.StartedAt), nullTime(d.FinishedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("inserting deployment: %w", err)
	}

	return nil
}

// Get retrieves a deployment by ID.
func (s *DeploymentStore) Get(ctx context.Context, id string) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`

	row := s.conn().QueryRowContext(ctx, query, id)
	d, err := scanDeployment(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying deployment: %w", err)
	}
	return d, nil
}

// List retrieves deployments for an app, ordered by created_at DESC.
func (s *DeploymentStore) List(ctx context.Context, appName string, limit int) ([]*models.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE app_name = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.conn().QueryContext(ctx, query, appName, limit)
	if err != nil {
		return nil, fmt.Errorf("querying deployments: %w", err)
	}
	defer rows.Close()

	return scanDeployments(rows)
}

// ListByStatus retrieves all deployments with a given status.
func (s *DeploymentStore) ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE status = ?
		ORDER BY created_at DESC`

	rows, err := s.conn().QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("querying deployments by status: %w", err)
	}
	defer rows.Close()

	return scanDeployments(rows)
}

// Update updates an existing deployment.
func (s *DeploymentStore) Update(ctx context.Context, d *models.Deployment) error {
	d.UpdatedAt = time.Now().UTC()

	var hosts any
	if len(d.Hosts) > 0 {
		data, err := json.Marshal(d.Hosts)
		if err != nil {
			return fmt.Errorf("marshaling deployment hosts: %w", err)
		}
		hosts = string(data)
	}

	var rolledBackFrom any
	if d.RolledBackFrom != "" {
		rolledBackFrom = d.RolledBackFrom
	}

	query := `
		UPDATE deployments
		SET status = ?, hosts = ?, progress = ?, rolled_back_from = ?, error = ?,
			updated_at = ?, started_at = ?, finished_at = ?
		WHERE id = ?`

	res, err := s.conn().ExecContext(ctx, query,
		string(d.Status), hosts, d.Progress, rolledBackFrom, d.Error,
		d.UpdatedAt, nullTime(d.StartedAt), nullTime(d.FinishedAt), d.ID)
	if err != nil {
		return fmt.Errorf("updating deployment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	return nil
}

// GetLatestCompleted retrieves the most recent completed deployment for an
// app and environment.
func (s *DeploymentStore) GetLatestCompleted(ctx context.Context, appName, environment string) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE app_name = ? AND environment = ? AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT 1`

	row := s.conn().QueryRowContext(ctx, query, appName, environment)
	d, err := scanDeployment(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying latest completed deployment: %w", err)
	}
	return d, nil
}

// scanDeployment scans a deployment from a row scan function.
func scanDeployment(scan func(dest ...any) error) (*models.Deployment, error) {
	d := &models.Deployment{}
	var strategy, status string
	var hosts, rolledBackFrom sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := scan(
		&d.ID, &d.AppName, &d.Version, &d.Environment, &strategy, &status,
		&hosts, &d.Progress, &d.CanaryPercent, &rolledBackFrom, &d.Error,
		&d.TriggeredBy, &d.CreatedAt, &d.UpdatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	d.Strategy = models.DeploymentStrategy(strategy)
	d.Status = models.DeploymentStatus(status)
	d.RolledBackFrom = rolledBackFrom.String
	if hosts.Valid && hosts.String != "" {
		if err := json.Unmarshal([]byte(hosts.String), &d.Hosts); err != nil {
			return nil, fmt.Errorf("unmarshaling deployment hosts: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		d.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		d.FinishedAt = &t
	}

	return d, nil
}

// scanDeployments scans multiple deployment rows.
func scanDeployments(rows *sql.Rows) ([]*models.Deployment, error) {
	var deployments []*models.Deployment

	for rows.Next() {
		d, err := scanDeployment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment row: %w", err)
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployment rows: %w", err)
	}

	return deployments, nil
}

// nullTime converts an optional time to a driver value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
