package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// MessageStore implements store.MessageStore using PostgreSQL.
type MessageStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *MessageStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create appends a message to a session.
func (s *MessageStore) Create(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (id, session_id, role, content, tool_name, tokens_in, tokens_out, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.conn().ExecContext(ctx, query,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content,
		nullString(msg.ToolName), msg.TokensIn, msg.TokensOut, msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

// List retrieves messages for a session in chronological order.
func (s *MessageStore) List(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT id, session_id, role, content, tool_name, tokens_in, tokens_out, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.conn().QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var role string
		var toolName sql.NullString
		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &role, &msg.Content, &toolName,
			&msg.TokensIn, &msg.TokensOut, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.Role = models.MessageRole(role)
		msg.ToolName = toolName.String
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// CountBySession returns the number of messages in a session.
func (s *MessageStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}
