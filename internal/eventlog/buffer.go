package eventlog

import (
	"sync"

	"github.com/garyzero/gary-zero/internal/models"
)

const (
	// DefaultMaxEvents is the default maximum number of events to keep in memory.
	DefaultMaxEvents = 5000
)

// Buffer maintains a bounded in-memory collection of recent events.
// It automatically removes the oldest entries when the limit is exceeded.
type Buffer struct {
	mu        sync.RWMutex
	events    []*models.LogEvent
	maxEvents int
}

// NewBuffer creates a new event buffer with the specified capacity.
func NewBuffer(maxEvents int) *Buffer {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Buffer{
		events:    make([]*models.LogEvent, 0, maxEvents),
		maxEvents: maxEvents,
	}
}

// Add adds an event to the buffer.
// If the buffer is at capacity, the oldest events are removed.
func (b *Buffer) Add(event *models.LogEvent) {
	if event == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) >= b.maxEvents {
		// Remove the oldest 10% to avoid frequent removals
		removeCount := b.maxEvents / 10
		if removeCount < 1 {
			removeCount = 1
		}
		b.events = b.events[removeCount:]
	}

	b.events = append(b.events, event)
}

// GetLast returns the last n events.
func (b *Buffer) GetLast(n int) []*models.LogEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || len(b.events) == 0 {
		return nil
	}

	if n > len(b.events) {
		n = len(b.events)
	}

	start := len(b.events) - n
	result := make([]*models.LogEvent, n)
	copy(result, b.events[start:])
	return result
}

// Clear removes all events from the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
}

// Len returns the number of events in the buffer.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// MaxEvents returns the buffer capacity.
func (b *Buffer) MaxEvents() int {
	return b.maxEvents
}
