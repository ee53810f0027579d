package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/models"
)

// EventStore implements store.EventStore using SQLite.
type EventStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *EventStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create persists a log event.
func (s *EventStore) Create(ctx context.Context, event *models.LogEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadata any
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling event metadata: %w", err)
		}
		metadata = string(data)
	}

	var sessionID, userID any
	if event.SessionID != "" {
		sessionID = event.SessionID
	}
	if event.UserID != "" {
		userID = event.UserID
	}

	query := `
		INSERT INTO events (id, type, level, component, session_id, user_id, message, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn().ExecContext(ctx, query,
		event.ID, string(event.Type), string(event.Level), event.Component,
		sessionID, userID, event.Message, metadata, event.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

// List retrieves events matching the filter, newest first.
func (s *EventStore) List(ctx context.Context, filter models.EventFilter) ([]*models.LogEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.Component != "" {
		conditions = append(conditions, "component = ?")
		args = append(args, filter.Component)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp > ?")
		args = append(args, filter.Since.UTC())
	}

	query := `
		SELECT id, type, level, component, session_id, user_id, message, metadata, timestamp
		FROM events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// DeleteOlderThan removes events older than the given time.
func (s *EventStore) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.conn().ExecContext(ctx,
		`DELETE FROM events WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting old events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// CountByLevel returns event counts grouped by level.
func (s *EventStore) CountByLevel(ctx context.Context) (map[models.EventLevel]int, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT level, COUNT(*) FROM events GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("counting events by level: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventLevel]int)
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[models.EventLevel(level)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating count rows: %w", err)
	}

	return counts, nil
}

// scanEvents scans multiple event rows.
func (s *EventStore) scanEvents(rows *sql.Rows) ([]*models.LogEvent, error) {
	var events []*models.LogEvent

	for rows.Next() {
		event := &models.LogEvent{}
		var typ, level string
		var sessionID, userID, metadata sql.NullString

		err := rows.Scan(
			&event.ID, &typ, &level, &event.Component,
			&sessionID, &userID, &event.Message, &metadata, &event.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		event.Type = models.EventType(typ)
		event.Level = models.EventLevel(level)
		event.SessionID = sessionID.String
		event.UserID = userID.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling event metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}
