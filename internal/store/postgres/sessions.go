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

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *SessionStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create creates a new chat session.
func (s *SessionStore) Create(ctx context.Context, session *models.ChatSession) error {
	if err := session.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	query := `
		INSERT INTO sessions (id, user_id, agent_name, title, provider, model, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.conn().ExecContext(ctx, query,
		session.ID, session.UserID, session.AgentName, session.Title,
		session.Provider, session.Model, string(session.Status),
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.ChatSession, error) {
	query := `
		SELECT id, user_id, agent_name, title, provider, model, status, created_at, updated_at
		FROM sessions WHERE id = $1`

	session := &models.ChatSession{}
	var status string
	err := s.conn().QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.UserID, &session.AgentName, &session.Title,
		&session.Provider, &session.Model, &status,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}
	session.Status = models.SessionStatus(status)

	return session, nil
}

// List retrieves all sessions for a user, ordered by updated_at DESC.
func (s *SessionStore) List(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, agent_name, title, provider, model, status, created_at, updated_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.conn().QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ChatSession
	for rows.Next() {
		session := &models.ChatSession{}
		var status string
		if err := rows.Scan(
			&session.ID, &session.UserID, &session.AgentName, &session.Title,
			&session.Provider, &session.Model, &status,
			&session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		session.Status = models.SessionStatus(status)
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// Update updates an existing session.
func (s *SessionStore) Update(ctx context.Context, session *models.ChatSession) error {
	if err := session.Validate(); err != nil {
		return err
	}

	session.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE sessions
		SET agent_name = $1, title = $2, provider = $3, model = $4, status = $5, updated_at = $6
		WHERE id = $7`

	res, err := s.conn().ExecContext(ctx, query,
		session.AgentName, session.Title, session.Provider, session.Model,
		string(session.Status), session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	return nil
}

// Delete removes a session and its messages.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Touch bumps the session's updated_at timestamp.
func (s *SessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.conn().ExecContext(ctx,
		`UPDATE sessions SET updated_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}
