package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// ConfigStore implements store.ConfigStore using PostgreSQL.
// Every write appends a new (key, version) row; history is never mutated.
type ConfigStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *ConfigStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Set appends a new version for the key and returns the stored entry.
func (s *ConfigStore) Set(ctx context.Context, entry *models.ConfigEntry) (*models.ConfigEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	stored := *entry
	stored.CreatedAt = time.Now().UTC()

	// COALESCE handles the first version of a key.
	query := `
		INSERT INTO config_entries (key, version, value, description, updated_by, created_at)
		VALUES (
			$1,
			COALESCE((SELECT MAX(version) FROM config_entries WHERE key = $1), 0) + 1,
			$2, $3, $4, $5
		)
		RETURNING version`

	err := s.conn().QueryRowContext(ctx, query,
		stored.Key, stored.Value, stored.Description,
		stored.UpdatedBy, stored.CreatedAt).Scan(&stored.Version)
	if err != nil {
		return nil, fmt.Errorf("inserting config entry: %w", err)
	}

	return &stored, nil
}

// Get retrieves the latest version of a key.
func (s *ConfigStore) Get(ctx context.Context, key string) (*models.ConfigEntry, error) {
	query := `
		SELECT key, version, value, description, updated_by, created_at
		FROM config_entries
		WHERE key = $1
		ORDER BY version DESC
		LIMIT 1`

	return s.scanEntry(s.conn().QueryRowContext(ctx, query, key))
}

// GetVersion retrieves a specific version of a key.
func (s *ConfigStore) GetVersion(ctx context.Context, key string, version int) (*models.ConfigEntry, error) {
	query := `
		SELECT key, version, value, description, updated_by, created_at
		FROM config_entries
		WHERE key = $1 AND version = $2`

	return s.scanEntry(s.conn().QueryRowContext(ctx, query, key, version))
}

// History retrieves all versions of a key, newest first.
func (s *ConfigStore) History(ctx context.Context, key string, limit int) ([]*models.ConfigEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT key, version, value, description, updated_by, created_at
		FROM config_entries
		WHERE key = $1
		ORDER BY version DESC
		LIMIT $2`

	rows, err := s.conn().QueryContext(ctx, query, key, limit)
	if err != nil {
		return nil, fmt.Errorf("querying config history: %w", err)
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// List retrieves the latest version of every key.
func (s *ConfigStore) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	query := `
		SELECT DISTINCT ON (key) key, version, value, description, updated_by, created_at
		FROM config_entries
		ORDER BY key, version DESC`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying config entries: %w", err)
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// Delete removes a key and all its versions.
func (s *ConfigStore) Delete(ctx context.Context, key string) error {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM config_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting config entries: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// scanEntry scans a single config entry row.
func (s *ConfigStore) scanEntry(row *sql.Row) (*models.ConfigEntry, error) {
	entry := &models.ConfigEntry{}
	err := row.Scan(
		&entry.Key, &entry.Version, &entry.Value, &entry.Description,
		&entry.UpdatedBy, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning config entry: %w", err)
	}
	return entry, nil
}

// scanEntries scans multiple config entry rows.
func (s *ConfigStore) scanEntries(rows *sql.Rows) ([]*models.ConfigEntry, error) {
	var entries []*models.ConfigEntry

	for rows.Next() {
		entry := &models.ConfigEntry{}
		if err := rows.Scan(
			&entry.Key, &entry.Version, &entry.Value, &entry.Description,
			&entry.UpdatedBy, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning config entry row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating config entry rows: %w", err)
	}

	return entries, nil
}
