// Package handlers provides HTTP handlers for the API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/api/middleware"
	"github.com/garyzero/gary-zero/internal/auth"
	"github.com/garyzero/gary-zero/internal/store"
)

// AuthHandler handles authentication and user management endpoints.
type AuthHandler struct {
	store       store.Store
	authService *auth.Service
	rbacService *auth.RBACService
	keyStore    auth.APIKeyStore
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(st store.Store, authSvc *auth.Service, keyStore auth.APIKeyStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		store:       st,
		authService: authSvc,
		rbacService: auth.NewRBACService(st, logger),
		keyStore:    keyStore,
		logger:      logger,
	}
}

// CanRegister returns whether public registration is open. It is open
// only while no users exist.
func (h *AuthHandler) CanRegister(w http.ResponseWriter, r *http.Request) {
	canRegister, err := h.rbacService.CanRegister(r.Context())
	if err != nil {
		h.logger.Error("failed to check registration status", "error", err)
		WriteInternalError(w, "Failed to check registration status")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"can_register": canRegister})
}

// Register creates the first user. The first registered user becomes
// the admin; afterwards registration is closed and admins add users.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteBadRequest(w, "Email and password are required")
		return
	}
	if len(req.Password) < 8 {
		WriteBadRequest(w, "Password must be at least 8 characters")
		return
	}

	ctx := r.Context()
	canRegister, err := h.rbacService.CanRegister(ctx)
	if err != nil {
		h.logger.Error("failed to check registration status", "error", err)
		WriteInternalError(w, "Failed to check registration status")
		return
	}
	if !canRegister {
		WriteForbidden(w, "Registration is closed; ask an admin to create your account")
		return
	}

	user, err := h.store.Users().Create(ctx, req.Email, req.Password, store.RoleAdmin)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			WriteConflict(w, "Email already registered")
			return
		}
		h.logger.Error("failed to create user", "error", err)
		WriteInternalError(w, "Failed to create user")
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err)
		WriteInternalError(w, "Failed to generate token")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
		"token":   token,
	})
}

// Login authenticates a user and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteBadRequest(w, "Email and password are required")
		return
	}

	user, err := h.store.Users().Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteUnauthorized(w, "Invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err)
		WriteInternalError(w, "Failed to generate token")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
		"token":   token,
	})
}

// Me returns the authenticated principal.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id": middleware.GetUserID(r.Context()),
		"email":   middleware.GetUserEmail(r.Context()),
		"role":    middleware.GetUserRole(r.Context()),
	})
}

// CreateUser adds a user with an explicit role. Admin only.
func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string     `json:"email"`
		Password string     `json:"password"`
		Role     store.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Email == "" || len(req.Password) < 8 {
		WriteBadRequest(w, "Email and a password of at least 8 characters are required")
		return
	}
	if req.Role == "" {
		req.Role = store.RoleMember
	}
	if req.Role != store.RoleAdmin && req.Role != store.RoleMember {
		WriteBadRequest(w, "Role must be admin or member")
		return
	}

	user, err := h.store.Users().Create(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			WriteConflict(w, "Email already registered")
			return
		}
		h.logger.Error("failed to create user", "error", err)
		WriteInternalError(w, "Failed to create user")
		return
	}

	WriteJSON(w, http.StatusCreated, user)
}

// ListUsers returns all users. Admin only.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.Users().List(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		WriteInternalError(w, "Failed to list users")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

// DeleteUser removes a user. The last admin cannot be removed.
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		WriteBadRequest(w, "User ID is required")
		return
	}

	if err := h.rbacService.RemoveUser(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			WriteNotFound(w, "User not found")
		case errors.Is(err, auth.ErrCannotRemoveAdmin):
			WriteConflict(w, "Cannot remove the only admin")
		default:
			h.logger.Error("failed to remove user", "user_id", userID, "error", err)
			WriteInternalError(w, "Failed to remove user")
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreateAPIKey issues a new API key for the authenticated user. The raw
// key is returned once and only its hash is kept.
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		ExpiresIn string `json:"expires_in,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Name == "" {
		WriteBadRequest(w, "Key name is required")
		return
	}

	var expiresAt time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			WriteBadRequest(w, "expires_in must be a positive duration")
			return
		}
		expiresAt = time.Now().Add(d)
	}

	rawKey, err := auth.GenerateAPIKey()
	if err != nil {
		h.logger.Error("failed to generate API key", "error", err)
		WriteInternalError(w, "Failed to generate API key")
		return
	}

	key := &auth.APIKey{
		ID:        uuid.New().String(),
		UserID:    middleware.GetUserID(r.Context()),
		KeyHash:   auth.HashAPIKey(rawKey),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := h.keyStore.Create(r.Context(), key); err != nil {
		h.logger.Error("failed to store API key", "error", err)
		WriteInternalError(w, "Failed to store API key")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"id":   key.ID,
		"name": key.Name,
		"key":  rawKey,
	})
}

// ListAPIKeys returns the authenticated user's API keys.
func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keyStore.ListByUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.Error("failed to list API keys", "error", err)
		WriteInternalError(w, "Failed to list API keys")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// DeleteAPIKey revokes one of the authenticated user's API keys.
func (h *AuthHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if keyID == "" {
		WriteBadRequest(w, "Key ID is required")
		return
	}

	keys, err := h.keyStore.ListByUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.Error("failed to list API keys", "error", err)
		WriteInternalError(w, "Failed to revoke API key")
		return
	}
	for _, key := range keys {
		if key.ID == keyID {
			if err := h.keyStore.Delete(r.Context(), keyID); err != nil {
				h.logger.Error("failed to delete API key", "key_id", keyID, "error", err)
				WriteInternalError(w, "Failed to revoke API key")
				return
			}
			WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
			return
		}
	}
	WriteNotFound(w, "API key not found")
}
