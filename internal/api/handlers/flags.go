package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/garyzero/gary-zero/internal/api/middleware"
	"github.com/garyzero/gary-zero/internal/flags"
	"github.com/garyzero/gary-zero/internal/models"
)

// FlagHandler handles feature flag endpoints.
type FlagHandler struct {
	flags  *flags.Service
	logger *slog.Logger
}

// NewFlagHandler creates a new flag handler.
func NewFlagHandler(svc *flags.Service, logger *slog.Logger) *FlagHandler {
	return &FlagHandler{flags: svc, logger: logger}
}

// List returns all flags.
func (h *FlagHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.flags.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list flags", "error", err)
		WriteInternalError(w, "Failed to list flags")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"flags": all})
}

// Get returns one flag.
func (h *FlagHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	flag, err := h.flags.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, flags.ErrFlagNotFound) {
			WriteNotFound(w, "Flag not found")
			return
		}
		h.logger.Error("failed to load flag", "key", key, "error", err)
		WriteInternalError(w, "Failed to load flag")
		return
	}
	WriteJSON(w, http.StatusOK, flag)
}

// Create adds a new flag.
func (h *FlagHandler) Create(w http.ResponseWriter, r *http.Request) {
	var flag models.FeatureFlag
	if err := json.NewDecoder(r.Body).Decode(&flag); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	flag.UpdatedBy = middleware.GetUserEmail(r.Context())

	if err := flag.Validate(); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := h.flags.Create(r.Context(), &flag); err != nil {
		h.logger.Error("failed to create flag", "key", flag.Key, "error", err)
		WriteConflict(w, "Flag already exists or could not be created")
		return
	}
	WriteJSON(w, http.StatusCreated, flag)
}

// Update replaces a flag's configuration.
func (h *FlagHandler) Update(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var flag models.FeatureFlag
	if err := json.NewDecoder(r.Body).Decode(&flag); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	flag.Key = key
	flag.UpdatedBy = middleware.GetUserEmail(r.Context())

	if err := flag.Validate(); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := h.flags.Update(r.Context(), &flag); err != nil {
		if errors.Is(err, flags.ErrFlagNotFound) {
			WriteNotFound(w, "Flag not found")
			return
		}
		h.logger.Error("failed to update flag", "key", key, "error", err)
		WriteInternalError(w, "Failed to update flag")
		return
	}
	WriteJSON(w, http.StatusOK, flag)
}

// Delete removes a flag.
func (h *FlagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.flags.Delete(r.Context(), key); err != nil {
		if errors.Is(err, flags.ErrFlagNotFound) {
			WriteNotFound(w, "Flag not found")
			return
		}
		h.logger.Error("failed to delete flag", "key", key, "error", err)
		WriteInternalError(w, "Failed to delete flag")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Evaluate reports whether a flag is enabled for the caller.
func (h *FlagHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		subject = middleware.GetUserID(r.Context())
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"subject": subject,
		"enabled": h.flags.IsEnabled(r.Context(), key, subject),
	})
}
