package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/garyzero/gary-zero/internal/agent"
	"github.com/garyzero/gary-zero/internal/api/middleware"
	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// SessionHandler handles chat session endpoints.
type SessionHandler struct {
	store    store.Store
	agentSvc *agent.Service
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(st store.Store, agentSvc *agent.Service, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		store:    st,
		agentSvc: agentSvc,
		logger:   logger,
	}
}

// Create starts a new chat session for the authenticated user.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentName string `json:"agent_name,omitempty"`
		Title     string `json:"title,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	session, err := h.agentSvc.CreateSession(r.Context(), middleware.GetUserID(r.Context()), req.AgentName, req.Title)
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		WriteInternalError(w, "Failed to create session")
		return
	}

	WriteJSON(w, http.StatusCreated, session)
}

// List returns the authenticated user's sessions, most recent first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	sessions, err := h.store.Sessions().List(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		WriteInternalError(w, "Failed to list sessions")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

// Delete removes a session and its messages.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.store.Sessions().Delete(r.Context(), session.ID); err != nil {
		h.logger.Error("failed to delete session", "session_id", session.ID, "error", err)
		WriteInternalError(w, "Failed to delete session")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Messages returns a session's message history in chronological order.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	messages, err := h.store.Messages().List(r.Context(), session.ID, parseLimit(r, 200))
	if err != nil {
		h.logger.Error("failed to list messages", "session_id", session.ID, "error", err)
		WriteInternalError(w, "Failed to list messages")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Send posts a user message and runs one full agent exchange, returning
// the final assistant message. Clients wanting streamed chunks use the
// websocket endpoint instead.
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Content == "" {
		WriteBadRequest(w, "Message content is required")
		return
	}

	reply, err := h.agentSvc.SendMessage(r.Context(), session.ID, middleware.GetUserID(r.Context()), req.Content)
	if err != nil {
		h.logger.Error("exchange failed", "session_id", session.ID, "error", err)
		WriteError(w, http.StatusBadGateway, "provider_error", "Exchange failed: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, reply)
}

// loadOwned fetches the session from the URL and enforces ownership.
// Admins can read any session.
func (h *SessionHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*models.ChatSession, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		WriteBadRequest(w, "Session ID is required")
		return nil, false
	}

	session, err := h.agentSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, agent.ErrSessionNotFound) {
			WriteNotFound(w, "Session not found")
			return nil, false
		}
		h.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		WriteInternalError(w, "Failed to load session")
		return nil, false
	}

	userID := middleware.GetUserID(r.Context())
	if session.UserID != userID && middleware.GetUserRole(r.Context()) != store.RoleAdmin {
		WriteNotFound(w, "Session not found")
		return nil, false
	}

	return session, true
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
