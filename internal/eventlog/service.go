package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// Service is the unified event log. Every event is sanitized, buffered
// for fast recent-history reads, fanned out to live subscribers, and
// persisted.
type Service struct {
	store           store.Store
	broker          *Broker
	buffer          *Buffer
	retention       time.Duration
	janitorInterval time.Duration
	logger          *slog.Logger
}

// Config holds event log settings.
type Config struct {
	BufferSize      int
	Retention       time.Duration
	JanitorInterval time.Duration
}

// NewService creates a new event log service.
func NewService(st store.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Hour
	}
	return &Service{
		store:           st,
		broker:          NewBroker(logger),
		buffer:          NewBuffer(cfg.BufferSize),
		retention:       cfg.Retention,
		janitorInterval: cfg.JanitorInterval,
		logger:          logger,
	}
}

// Log records an event: sanitize, buffer, fan out, persist.
// Sanitization happens before any other processing so no consumer ever
// sees raw credentials.
func (s *Service) Log(ctx context.Context, event *models.LogEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = models.EventLevelInfo
	}

	Sanitize(event)

	s.buffer.Add(event)
	s.broker.Publish(event)

	if err := s.store.Events().Create(ctx, event); err != nil {
		return fmt.Errorf("persisting event: %w", err)
	}

	return nil
}

// Query retrieves persisted events matching the filter, newest first.
func (s *Service) Query(ctx context.Context, filter models.EventFilter) ([]*models.LogEvent, error) {
	return s.store.Events().List(ctx, filter)
}

// Recent returns the last n events from the in-memory buffer.
func (s *Service) Recent(n int) []*models.LogEvent {
	return s.buffer.GetLast(n)
}

// Subscribe registers a live subscriber for events matching the filter.
func (s *Service) Subscribe(ctx context.Context, filter models.EventFilter) *Subscriber {
	return s.broker.Subscribe(ctx, filter)
}

// Unsubscribe removes a live subscriber.
func (s *Service) Unsubscribe(sub *Subscriber) {
	s.broker.Unsubscribe(sub)
}

// CountByLevel returns persisted event counts grouped by level.
func (s *Service) CountByLevel(ctx context.Context) (map[models.EventLevel]int, error) {
	return s.store.Events().CountByLevel(ctx)
}

// RunJanitor periodically deletes events older than the retention
// window. It blocks until the context is cancelled.
func (s *Service) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	s.logger.Info("event log janitor started",
		"retention", s.retention.String(),
		"interval", s.janitorInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event log janitor stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.retention)
			removed, err := s.store.Events().DeleteOlderThan(ctx, cutoff)
			if err != nil {
				s.logger.Error("event retention cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("expired events removed", "count", removed)
			}
		}
	}
}
