// Package auth provides authentication and authorization services.
package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/garyzero/gary-zero/internal/store"
)

// RBAC errors.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidRole       = errors.New("invalid role")
	ErrCannotRemoveAdmin = errors.New("cannot remove the only admin")
	ErrUserNotFound      = errors.New("user not found")
)

// Permission represents an action that can be performed.
type Permission string

const (
	// PermissionManageUsers allows managing users.
	PermissionManageUsers Permission = "manage_users"
	// PermissionManageSettings allows changing runtime settings.
	PermissionManageSettings Permission = "manage_settings"
	// PermissionManageFlags allows creating and updating feature flags.
	PermissionManageFlags Permission = "manage_flags"
	// PermissionManageConfig allows writing versioned configuration.
	PermissionManageConfig Permission = "manage_config"
	// PermissionDeploy allows triggering and rolling back deployments.
	PermissionDeploy Permission = "deploy"
	// PermissionViewLogs allows reading the unified event log.
	PermissionViewLogs Permission = "view_logs"
	// PermissionChat allows using chat sessions and agent tools.
	PermissionChat Permission = "chat"
	// PermissionRunBenchmarks allows starting benchmark runs.
	PermissionRunBenchmarks Permission = "run_benchmarks"
)

// rolePermissions defines which permissions each role has.
var rolePermissions = map[store.Role][]Permission{
	store.RoleAdmin: {
		PermissionManageUsers,
		PermissionManageSettings,
		PermissionManageFlags,
		PermissionManageConfig,
		PermissionDeploy,
		PermissionViewLogs,
		PermissionChat,
		PermissionRunBenchmarks,
	},
	store.RoleMember: {
		PermissionViewLogs,
		PermissionChat,
		PermissionRunBenchmarks,
	},
}

// RBACService provides role-based access control functionality.
type RBACService struct {
	store  store.Store
	logger *slog.Logger
}

// NewRBACService creates a new RBAC service.
func NewRBACService(st store.Store, logger *slog.Logger) *RBACService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RBACService{
		store:  st,
		logger: logger,
	}
}

// CanRegister checks if public registration is allowed.
// Returns true only while no users exist; the first registered user
// becomes the admin.
func (s *RBACService) CanRegister(ctx context.Context) (bool, error) {
	count, err := s.store.Users().Count(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// CheckPermission verifies a user has permission for an action.
func (s *RBACService) CheckPermission(ctx context.Context, userID string, permission Permission) error {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return CheckRolePermission(user.Role, permission)
}

// CheckRolePermission checks if a role has a specific permission.
func CheckRolePermission(role store.Role, permission Permission) error {
	permissions, ok := rolePermissions[role]
	if !ok {
		return ErrPermissionDenied
	}
	for _, p := range permissions {
		if p == permission {
			return nil
		}
	}
	return ErrPermissionDenied
}

// RemoveUser removes a user from the system. The last admin cannot be
// removed.
func (s *RBACService) RemoveUser(ctx context.Context, userID string) error {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if user.Role == store.RoleAdmin {
		users, err := s.store.Users().List(ctx)
		if err != nil {
			return err
		}
		admins := 0
		for _, u := range users {
			if u.Role == store.RoleAdmin {
				admins++
			}
		}
		if admins <= 1 {
			return ErrCannotRemoveAdmin
		}
	}

	return s.store.Users().Delete(ctx, userID)
}
