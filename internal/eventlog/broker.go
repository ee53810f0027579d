// Package eventlog provides the unified event log: sanitization,
// in-memory buffering, real-time fan-out, and persistence.
package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/models"
)

// Subscriber represents a live event stream subscriber.
type Subscriber struct {
	ID        string
	Type      models.EventType
	Level     models.EventLevel
	Component string
	SessionID string
	Ch        chan *models.LogEvent
	CreatedAt time.Time
}

// Broker manages event subscriptions and publishing.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe creates a new subscription for log events. Empty filter
// fields match everything.
func (b *Broker) Subscribe(ctx context.Context, filter models.EventFilter) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.New().String(),
		Type:      filter.Type,
		Level:     filter.Level,
		Component: filter.Component,
		SessionID: filter.SessionID,
		Ch:        make(chan *models.LogEvent, 100),
		CreatedAt: time.Now(),
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added",
		"subscriber_id", sub.ID,
		"type", string(filter.Type),
		"component", filter.Component,
	)

	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends an event to all matching subscribers.
func (b *Broker) Publish(event *models.LogEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if b.matches(sub, event) {
			select {
			case sub.Ch <- event:
				// Successfully sent
			default:
				// Channel full, skip this event for this subscriber
				b.logger.Warn("subscriber channel full, dropping event",
					"subscriber_id", sub.ID,
					"event_id", event.ID,
				)
			}
		}
	}
}

// matches checks if an event matches a subscriber's filters.
func (b *Broker) matches(sub *Subscriber, event *models.LogEvent) bool {
	if sub.Type != "" && sub.Type != event.Type {
		return false
	}
	if sub.Level != "" && sub.Level != event.Level {
		return false
	}
	if sub.Component != "" && sub.Component != event.Component {
		return false
	}
	if sub.SessionID != "" && sub.SessionID != event.SessionID {
		return false
	}
	return true
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
