package handlers

import (
	"log/slog"
	"net/http"

	"github.com/garyzero/gary-zero/internal/monitor"
	"github.com/garyzero/gary-zero/internal/store"
)

// StatsHandler exposes metrics and dashboard statistics.
type StatsHandler struct {
	store     store.Store
	collector *monitor.Collector
	alerts    *monitor.AlertManager
	logger    *slog.Logger
}

// NewStatsHandler creates a new stats handler. The alert manager is
// optional.
func NewStatsHandler(st store.Store, collector *monitor.Collector, alerts *monitor.AlertManager, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		store:     st,
		collector: collector,
		alerts:    alerts,
		logger:    logger,
	}
}

// Metrics serves the collector in text exposition format.
func (h *StatsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := h.collector.WriteText(w); err != nil {
		h.logger.Error("failed to write metrics", "error", err)
	}
}

// Dashboard returns a snapshot of operational counters for the UI.
func (h *StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userCount, err := h.store.Users().Count(ctx)
	if err != nil {
		h.logger.Error("failed to count users", "error", err)
		WriteInternalError(w, "Failed to load stats")
		return
	}

	runs, err := h.store.Benchmarks().ListRuns(ctx, 10)
	if err != nil {
		h.logger.Error("failed to list benchmark runs", "error", err)
		WriteInternalError(w, "Failed to load stats")
		return
	}

	response := map[string]any{
		"users":         userCount,
		"metrics":       h.collector.Snapshot(),
		"recent_runs":   runs,
		"active_alerts": []any{},
	}
	if h.alerts != nil {
		response["active_alerts"] = h.alerts.Active()
	}

	WriteJSON(w, http.StatusOK, response)
}

// Alerts returns currently firing alerts.
func (h *StatsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"alerts": []any{}})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"alerts": h.alerts.Active()})
}
