package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// FlagStore implements store.FlagStore using PostgreSQL.
type FlagStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *FlagStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create creates a new feature flag.
func (s *FlagStore) Create(ctx context.Context, flag *models.FeatureFlag) error {
	if err := flag.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = now
	}
	flag.UpdatedAt = now

	query := `
		INSERT INTO flags (key, description, type, enabled, percentage, targets, environments, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.conn().ExecContext(ctx, query,
		flag.Key, flag.Description, string(flag.Type), flag.Enabled,
		flag.Percentage, pq.Array(flag.Targets), pq.Array(flag.Environments),
		flag.UpdatedBy, flag.CreatedAt, flag.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("inserting flag: %w", err)
	}

	return nil
}

// Get retrieves a flag by key.
func (s *FlagStore) Get(ctx context.Context, key string) (*models.FeatureFlag, error) {
	query := `
		SELECT key, description, type, enabled, percentage, targets, environments, updated_by, created_at, updated_at
		FROM flags WHERE key = $1`

	row := s.conn().QueryRowContext(ctx, query, key)
	flag, err := scanFlag(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying flag: %w", err)
	}
	return flag, nil
}

// List retrieves all flags.
func (s *FlagStore) List(ctx context.Context) ([]*models.FeatureFlag, error) {
	query := `
		SELECT key, description, type, enabled, percentage, targets, environments, updated_by, created_at, updated_at
		FROM flags ORDER BY key`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying flags: %w", err)
	}
	defer rows.Close()

	var flags []*models.FeatureFlag
	for rows.Next() {
		flag, err := scanFlag(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning flag row: %w", err)
		}
		flags = append(flags, flag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flag rows: %w", err)
	}

	return flags, nil
}

// Update updates an existing flag.
func (s *FlagStore) Update(ctx context.Context, flag *models.FeatureFlag) error {
	if err := flag.Validate(); err != nil {
		return err
	}

	flag.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE flags
		SET description = $1, type = $2, enabled = $3, percentage = $4, targets = $5, environments = $6, updated_by = $7, updated_at = $8
		WHERE key = $9`

	res, err := s.conn().ExecContext(ctx, query,
		flag.Description, string(flag.Type), flag.Enabled, flag.Percentage,
		pq.Array(flag.Targets), pq.Array(flag.Environments),
		flag.UpdatedBy, flag.UpdatedAt, flag.Key)
	if err != nil {
		return fmt.Errorf("updating flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	return nil
}

// Delete removes a flag by key.
func (s *FlagStore) Delete(ctx context.Context, key string) error {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM flags WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// scanFlag scans a flag from a row scan function.
func scanFlag(scan func(dest ...any) error) (*models.FeatureFlag, error) {
	flag := &models.FeatureFlag{}
	var typ string
	var targets, environments pq.StringArray

	err := scan(
		&flag.Key, &flag.Description, &typ, &flag.Enabled, &flag.Percentage,
		&targets, &environments, &flag.UpdatedBy, &flag.CreatedAt, &flag.UpdatedAt)
	if err != nil {
		return nil, err
	}

	flag.Type = models.FlagType(typ)
	flag.Targets = []string(targets)
	flag.Environments = []string(environments)

	return flag, nil
}
