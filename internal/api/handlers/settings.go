package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/garyzero/gary-zero/internal/settings"
)

// SettingsHandler handles runtime settings endpoints. Responses always
// carry redacted API keys; callers echo the mask back to keep a stored
// key unchanged.
type SettingsHandler struct {
	settings *settings.Service
	logger   *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(svc *settings.Service, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: svc, logger: logger}
}

// Get returns the current settings with API keys masked.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.settings.Get())
}

// Update applies a partial settings change and returns the redacted
// result. Decoding over the current redacted snapshot keeps omitted
// fields intact; masked key values carry the stored keys through.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	incoming := h.settings.Get()
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	updated, err := h.settings.Update(incoming)
	if err != nil {
		h.logger.Error("failed to update settings", "error", err)
		WriteInternalError(w, "Failed to update settings")
		return
	}

	WriteJSON(w, http.StatusOK, updated)
}

// Providers reports which providers have a usable API key, without
// revealing the keys.
func (h *SettingsHandler) Providers(w http.ResponseWriter, r *http.Request) {
	providers := []string{
		settings.ProviderOpenAI,
		settings.ProviderAnthropic,
		settings.ProviderGoogle,
		settings.ProviderGroq,
	}
	configured := make(map[string]bool, len(providers))
	for _, p := range providers {
		configured[p] = h.settings.HasAPIKey(p)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"providers": configured})
}
