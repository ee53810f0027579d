package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/garyzero/gary-zero/internal/auth"
	"github.com/garyzero/gary-zero/internal/store"
)

// Context keys for the authenticated principal.
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// UserEmailKey is the context key for the authenticated user email.
	UserEmailKey contextKey = "user_email"
	// UserRoleKey is the context key for the authenticated user role.
	UserRoleKey contextKey = "user_role"
)

// GetUserID extracts the user ID from the request context.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetUserEmail extracts the user email from the request context.
func GetUserEmail(ctx context.Context) string {
	if v := ctx.Value(UserEmailKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetUserRole extracts the user role from the request context.
func GetUserRole(ctx context.Context) store.Role {
	if v := ctx.Value(UserRoleKey); v != nil {
		return v.(store.Role)
	}
	return ""
}

// AuthMiddleware handles JWT and API key authentication.
type AuthMiddleware struct {
	authService  *auth.Service
	store        store.Store
	apiKeyHeader string
	logger       *slog.Logger
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(authService *auth.Service, st store.Store, apiKeyHeader string, logger *slog.Logger) *AuthMiddleware {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		authService:  authService,
		store:        st,
		apiKeyHeader: apiKeyHeader,
		logger:       logger,
	}
}

// Authenticate validates a JWT bearer token or API key and places the
// principal in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userID, email string
		var role store.Role

		apiKey := r.Header.Get(m.apiKeyHeader)
		if apiKey != "" {
			user, err := m.authService.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				m.logger.Debug("API key validation failed", "error", err)
				writeUnauthorized(w, "Invalid API key")
				return
			}
			userID = user.ID
			email = user.Email
			role = user.Role

			// API keys carry no role; resolve it from the user record.
			if role == "" {
				stored, err := m.store.Users().GetByID(r.Context(), userID)
				if err != nil {
					m.logger.Debug("API key user lookup failed", "user_id", userID, "error", err)
					writeUnauthorized(w, "Invalid API key")
					return
				}
				email = stored.Email
				role = stored.Role
			}
		} else {
			token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeUnauthorized(w, "Missing authentication")
				return
			}

			claims, err := m.authService.ValidateToken(token)
			if err != nil {
				m.logger.Debug("JWT validation failed", "error", err)
				if err == auth.ErrExpiredToken {
					writeUnauthorized(w, "Token has expired")
					return
				}
				writeUnauthorized(w, "Invalid token")
				return
			}
			userID = claims.UserID
			email = claims.Email
			role = claims.Role
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		ctx = context.WithValue(ctx, UserEmailKey, email)
		ctx = context.WithValue(ctx, UserRoleKey, role)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission returns a middleware that rejects requests whose
// authenticated role lacks the permission.
func RequirePermission(permission auth.Permission, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetUserRole(r.Context())
			if role == "" {
				writeUnauthorized(w, "Authentication required")
				return
			}
			if err := auth.CheckRolePermission(role, permission); err != nil {
				logger.Debug("permission denied",
					"user_id", GetUserID(r.Context()),
					"role", role,
					"permission", permission,
				)
				writeForbidden(w, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":"unauthorized","message":"` + escapeJSON(message) + `"}`))
}

func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"code":"forbidden","message":"` + escapeJSON(message) + `"}`))
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
