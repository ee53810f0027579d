package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/models"
)

// LogHandler handles unified event log endpoints, including the
// real-time Server-Sent Events stream.
type LogHandler struct {
	events *eventlog.Service
	logger *slog.Logger
}

// NewLogHandler creates a new log handler.
func NewLogHandler(events *eventlog.Service, logger *slog.Logger) *LogHandler {
	return &LogHandler{events: events, logger: logger}
}

// Query returns persisted events matching the filter query parameters.
func (h *LogHandler) Query(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.events.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query events", "error", err)
		WriteInternalError(w, "Failed to query events")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Recent returns the most recent events from the in-memory buffer.
func (h *LogHandler) Recent(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"events": h.events.Recent(parseLimit(r, 100))})
}

// Counts returns event counts grouped by level.
func (h *LogHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.events.CountByLevel(r.Context())
	if err != nil {
		h.logger.Error("failed to count events", "error", err)
		WriteInternalError(w, "Failed to count events")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

// Stream delivers matching events in real time via Server-Sent Events.
func (h *LogHandler) Stream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternalError(w, "Streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sub := h.events.Subscribe(r.Context(), filter)
	defer h.events.Unsubscribe(sub)

	h.logger.Debug("event stream started", "subscriber_id", sub.ID)

	h.sendEvent(w, flusher, "connected", map[string]string{"subscriber_id": sub.ID})

	pingTicker := time.NewTicker(5 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed by client", "subscriber_id", sub.ID)
			return
		case <-pingTicker.C:
			h.sendEvent(w, flusher, "ping", map[string]int64{"time": time.Now().Unix()})
		case event, open := <-sub.Ch:
			if !open {
				return
			}
			h.sendEvent(w, flusher, "log", event)
		}
	}
}

func (h *LogHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal event data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Type:      models.EventType(q.Get("type")),
		Level:     models.EventLevel(q.Get("level")),
		Component: q.Get("component"),
		SessionID: q.Get("session_id"),
		Limit:     parseLimit(r, 100),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("since must be an RFC 3339 timestamp")
		}
		filter.Since = since
	}
	return filter, nil
}
