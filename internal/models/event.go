package models

import "time"

// EventLevel represents the severity of a log event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "debug"
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// EventType categorizes log events by subsystem activity.
type EventType string

const (
	EventTypeMessage    EventType = "message"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeProvider   EventType = "provider"
	EventTypeDeployment EventType = "deployment"
	EventTypeConfig     EventType = "config"
	EventTypeFlag       EventType = "flag"
	EventTypeBenchmark  EventType = "benchmark"
	EventTypeSecurity   EventType = "security"
	EventTypeSystem     EventType = "system"
)

// LogEvent represents a single entry in the unified event log.
// Messages and metadata are sanitized before persistence.
type LogEvent struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Level     EventLevel        `json:"level"`
	Component string            `json:"component"`
	SessionID string            `json:"session_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EventFilter narrows event log queries.
type EventFilter struct {
	Type      EventType
	Level     EventLevel
	Component string
	SessionID string
	Since     time.Time
	Limit     int
}
