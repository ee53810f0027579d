package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/garyzero/gary-zero/internal/api/middleware"
	"github.com/garyzero/gary-zero/internal/configmgr"
	"github.com/garyzero/gary-zero/internal/models"
)

// ConfigHandler handles versioned configuration endpoints.
type ConfigHandler struct {
	config *configmgr.Service
	logger *slog.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(svc *configmgr.Service, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{config: svc, logger: logger}
}

// List returns the latest version of every key.
func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.config.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list config", "error", err)
		WriteInternalError(w, "Failed to list config")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Get returns the latest version of a key, or a specific version when
// the version query parameter is set.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var entry *models.ConfigEntry
	var err error
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, parseErr := strconv.Atoi(raw)
		if parseErr != nil || version < 1 {
			WriteBadRequest(w, "Version must be a positive integer")
			return
		}
		entry, err = h.config.GetVersion(r.Context(), key, version)
	} else {
		entry, err = h.config.Get(r.Context(), key)
	}

	if err != nil {
		if errors.Is(err, configmgr.ErrKeyNotFound) || errors.Is(err, configmgr.ErrVersionNotFound) {
			WriteNotFound(w, "Config entry not found")
			return
		}
		h.logger.Error("failed to load config", "key", key, "error", err)
		WriteInternalError(w, "Failed to load config")
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// Set writes a new version of a key.
func (h *ConfigHandler) Set(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req struct {
		Value       string `json:"value"`
		Description string `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	entry := &models.ConfigEntry{
		Key:         key,
		Value:       req.Value,
		Description: req.Description,
		UpdatedBy:   middleware.GetUserEmail(r.Context()),
	}
	if err := entry.Validate(); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	saved, err := h.config.Set(r.Context(), entry)
	if err != nil {
		h.logger.Error("failed to set config", "key", key, "error", err)
		WriteInternalError(w, "Failed to set config")
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

// History returns a key's versions, newest first.
func (h *ConfigHandler) History(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entries, err := h.config.History(r.Context(), key, parseLimit(r, 20))
	if err != nil {
		if errors.Is(err, configmgr.ErrKeyNotFound) {
			WriteNotFound(w, "Config entry not found")
			return
		}
		h.logger.Error("failed to load config history", "key", key, "error", err)
		WriteInternalError(w, "Failed to load config history")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// Rollback re-publishes an older version of a key as a new version.
func (h *ConfigHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req struct {
		Version int `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Version < 1 {
		WriteBadRequest(w, "Version must be a positive integer")
		return
	}

	entry, err := h.config.Rollback(r.Context(), key, req.Version, middleware.GetUserEmail(r.Context()))
	if err != nil {
		if errors.Is(err, configmgr.ErrKeyNotFound) || errors.Is(err, configmgr.ErrVersionNotFound) {
			WriteNotFound(w, "Config version not found")
			return
		}
		h.logger.Error("failed to roll back config", "key", key, "version", req.Version, "error", err)
		WriteInternalError(w, "Failed to roll back config")
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// Delete removes a key and its history.
func (h *ConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.config.Delete(r.Context(), key); err != nil {
		if errors.Is(err, configmgr.ErrKeyNotFound) {
			WriteNotFound(w, "Config entry not found")
			return
		}
		h.logger.Error("failed to delete config", "key", key, "error", err)
		WriteInternalError(w, "Failed to delete config")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
