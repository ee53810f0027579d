package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/garyzero/gary-zero/internal/benchmark"
	"github.com/garyzero/gary-zero/internal/store"
)

// BenchmarkHandler handles benchmark endpoints.
type BenchmarkHandler struct {
	store     store.Store
	benchmark *benchmark.Service
	registry  *benchmark.Registry
	logger    *slog.Logger
}

// NewBenchmarkHandler creates a new benchmark handler.
func NewBenchmarkHandler(st store.Store, svc *benchmark.Service, registry *benchmark.Registry, logger *slog.Logger) *BenchmarkHandler {
	return &BenchmarkHandler{
		store:     st,
		benchmark: svc,
		registry:  registry,
		logger:    logger,
	}
}

// Suites returns the registered suite names.
func (h *BenchmarkHandler) Suites(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"suites": h.registry.Suites()})
}

// Enqueue schedules a benchmark run. The worker picks it up
// asynchronously.
func (h *BenchmarkHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Suite string   `json:"suite"`
		Tags  []string `json:"tags,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Suite == "" {
		WriteBadRequest(w, "Suite name is required")
		return
	}

	run, err := h.benchmark.Enqueue(r.Context(), req.Suite, req.Tags)
	if err != nil {
		if errors.Is(err, benchmark.ErrSuiteNotFound) {
			WriteNotFound(w, "Suite not found")
			return
		}
		h.logger.Error("failed to enqueue benchmark run", "suite", req.Suite, "error", err)
		WriteBadRequest(w, "Failed to enqueue run: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, run)
}

// ListRuns returns recent runs, newest first.
func (h *BenchmarkHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.Benchmarks().ListRuns(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.Error("failed to list benchmark runs", "error", err)
		WriteInternalError(w, "Failed to list runs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun returns one run.
func (h *BenchmarkHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	run, err := h.store.Benchmarks().GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Run not found")
			return
		}
		h.logger.Error("failed to load benchmark run", "run_id", id, "error", err)
		WriteInternalError(w, "Failed to load run")
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// Results returns a run's per-attempt results.
func (h *BenchmarkHandler) Results(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	results, err := h.store.Benchmarks().ListResults(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list benchmark results", "run_id", id, "error", err)
		WriteInternalError(w, "Failed to list results")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Summary returns a run's aggregate statistics.
func (h *BenchmarkHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if _, err := h.store.Benchmarks().GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Run not found")
			return
		}
		h.logger.Error("failed to load benchmark run", "run_id", id, "error", err)
		WriteInternalError(w, "Failed to load run")
		return
	}

	summary, err := h.benchmark.Summary(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to summarize benchmark run", "run_id", id, "error", err)
		WriteInternalError(w, "Failed to summarize run")
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
