package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/garyzero/gary-zero/internal/agent"
	"github.com/garyzero/gary-zero/internal/api/middleware"
	"github.com/garyzero/gary-zero/internal/settings"
	"github.com/garyzero/gary-zero/internal/store"
	"github.com/garyzero/gary-zero/internal/ws"
)

// WSHandler upgrades HTTP connections for chat streaming and the
// agent-to-agent hub.
type WSHandler struct {
	chat     *ws.ChatStream
	hub      *ws.Hub
	agentSvc *agent.Service
	settings *settings.Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(chat *ws.ChatStream, hub *ws.Hub, agentSvc *agent.Service, settingsSvc *settings.Service, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		chat:     chat,
		hub:      hub,
		agentSvc: agentSvc,
		settings: settingsSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth happens before the upgrade; browser clients
			// connect from any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Chat handles GET /v1/sessions/{sessionID}/ws and streams one
// session's exchanges over a websocket.
func (h *WSHandler) Chat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		WriteBadRequest(w, "Session ID is required")
		return
	}

	// Same ownership rule as the REST session endpoints: strangers see
	// 404, admins can attach to any session.
	session, err := h.agentSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, agent.ErrSessionNotFound) {
			WriteNotFound(w, "Session not found")
			return
		}
		h.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		WriteInternalError(w, "Failed to load session")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if session.UserID != userID && middleware.GetUserRole(r.Context()) != store.RoleAdmin {
		WriteNotFound(w, "Session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if err := h.chat.Handle(r.Context(), sessionID, userID, conn); err != nil {
		h.logger.Debug("chat stream ended", "session_id", sessionID, "error", err)
	}
}

// Agents handles GET /v1/a2a/stream and joins an agent to the
// agent-to-agent message hub.
func (h *WSHandler) Agents(w http.ResponseWriter, r *http.Request) {
	if !h.settings.Get().A2AEnabled {
		WriteForbidden(w, "Agent-to-agent streaming is disabled")
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = middleware.GetUserID(r.Context())
	}
	if agentID == "" {
		WriteBadRequest(w, "agent_id is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if err := h.hub.HandleAgent(agentID, conn); err != nil {
		h.logger.Debug("agent stream ended", "agent_id", agentID, "error", err)
	}
}

// AgentList returns the currently connected agents.
func (h *WSHandler) AgentList(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"agents": h.hub.Agents(),
		"count":  h.hub.AgentCount(),
	})
}
