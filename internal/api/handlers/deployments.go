package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/garyzero/gary-zero/internal/api/middleware"
	"github.com/garyzero/gary-zero/internal/deploy"
	"github.com/garyzero/gary-zero/internal/store"
)

// DeploymentHandler handles deployment endpoints.
type DeploymentHandler struct {
	manager *deploy.Manager
	logger  *slog.Logger
}

// NewDeploymentHandler creates a new deployment handler.
func NewDeploymentHandler(manager *deploy.Manager, logger *slog.Logger) *DeploymentHandler {
	return &DeploymentHandler{manager: manager, logger: logger}
}

// Trigger starts a deployment. The rollout runs asynchronously; the
// returned record reflects the initial pending state.
func (h *DeploymentHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req deploy.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	req.TriggeredBy = middleware.GetUserEmail(r.Context())

	deployment, err := h.manager.Trigger(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to trigger deployment", "app", req.AppName, "error", err)
		WriteBadRequest(w, "Failed to trigger deployment: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, deployment)
}

// List returns recent deployments, optionally filtered by app.
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	appName := r.URL.Query().Get("app")
	deployments, err := h.manager.List(r.Context(), appName, parseLimit(r, 50))
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		WriteInternalError(w, "Failed to list deployments")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

// Get returns one deployment.
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deploymentID")
	deployment, err := h.manager.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Deployment not found")
			return
		}
		h.logger.Error("failed to load deployment", "deployment_id", id, "error", err)
		WriteInternalError(w, "Failed to load deployment")
		return
	}
	WriteJSON(w, http.StatusOK, deployment)
}

// Rollback redeploys the previous completed version of an app.
func (h *DeploymentHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppName     string `json:"app_name"`
		Environment string `json:"environment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.AppName == "" || req.Environment == "" {
		WriteBadRequest(w, "app_name and environment are required")
		return
	}

	deployment, err := h.manager.Rollback(r.Context(), req.AppName, req.Environment, middleware.GetUserEmail(r.Context()))
	if err != nil {
		if errors.Is(err, deploy.ErrNoRollbackTarget) {
			WriteNotFound(w, "No completed deployment to roll back to")
			return
		}
		h.logger.Error("failed to roll back", "app", req.AppName, "error", err)
		WriteInternalError(w, "Failed to roll back: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, deployment)
}
