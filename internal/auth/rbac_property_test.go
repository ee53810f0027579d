package auth

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/garyzero/gary-zero/internal/store"
)

// **Feature: gary-zero, Property 3: First user becomes admin**
// For any system state where at least one user exists, public registration
// SHALL be rejected; an empty system allows it.

// mockUserStoreRBAC is a simple in-memory implementation for testing.
type mockUserStoreRBAC struct {
	users []*store.User
}

func (m *mockUserStoreRBAC) Create(ctx context.Context, email, password string, role store.Role) (*store.User, error) {
	return nil, nil
}

func (m *mockUserStoreRBAC) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockUserStoreRBAC) GetByID(ctx context.Context, id string) (*store.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockUserStoreRBAC) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (m *mockUserStoreRBAC) List(ctx context.Context) ([]*store.User, error) {
	return m.users, nil
}

func (m *mockUserStoreRBAC) Delete(ctx context.Context, id string) error {
	return nil
}

func (m *mockUserStoreRBAC) Count(ctx context.Context) (int, error) {
	return len(m.users), nil
}

// mockStoreRBAC wraps mockUserStoreRBAC to implement store.Store partially.
type mockStoreRBAC struct {
	userStore *mockUserStoreRBAC
}

func (m *mockStoreRBAC) Users() store.UserStore { return m.userStore }

// Stub implementations for other store methods (not used in these tests).
func (m *mockStoreRBAC) Sessions() store.SessionStore                                 { return nil }
func (m *mockStoreRBAC) Messages() store.MessageStore                                 { return nil }
func (m *mockStoreRBAC) Events() store.EventStore                                     { return nil }
func (m *mockStoreRBAC) Flags() store.FlagStore                                       { return nil }
func (m *mockStoreRBAC) Deployments() store.DeploymentStore                           { return nil }
func (m *mockStoreRBAC) Configs() store.ConfigStore                                   { return nil }
func (m *mockStoreRBAC) Benchmarks() store.BenchmarkStore                             { return nil }
func (m *mockStoreRBAC) WithTx(ctx context.Context, fn func(store.Store) error) error { return nil }
func (m *mockStoreRBAC) Close() error                                                 { return nil }
func (m *mockStoreRBAC) Ping(ctx context.Context) error                               { return nil }

// genRBACUserID generates a valid user ID.
func genRBACUserID() gopter.Gen {
	return gen.Identifier().Map(func(s string) string {
		if len(s) == 0 {
			return "user1"
		}
		if len(s) > 36 {
			return s[:36]
		}
		return s
	})
}

// genUserList generates a list of users with mixed roles.
func genUserList() gopter.Gen {
	return gen.IntRange(1, 6).Map(func(numUsers int) []*store.User {
		users := make([]*store.User, 0, numUsers)
		for i := 0; i < numUsers; i++ {
			role := store.RoleMember
			if i == 0 {
				role = store.RoleAdmin
			}
			users = append(users, &store.User{
				ID:    "user_" + string(rune('a'+i)),
				Email: "user" + string(rune('a'+i)) + "@example.com",
				Role:  role,
			})
		}
		return users
	})
}

func TestRegistrationGating(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("When any user exists, public registration is blocked", prop.ForAll(
		func(users []*store.User) bool {
			mockUsers := &mockUserStoreRBAC{users: users}
			mockSt := &mockStoreRBAC{userStore: mockUsers}
			rbac := NewRBACService(mockSt, nil)

			canRegister, err := rbac.CanRegister(context.Background())
			if err != nil {
				return false
			}

			return canRegister == (len(users) == 0)
		},
		genUserList(),
	))

	properties.Property("Empty system allows registration", prop.ForAll(
		func(_ bool) bool {
			mockUsers := &mockUserStoreRBAC{}
			mockSt := &mockStoreRBAC{userStore: mockUsers}
			rbac := NewRBACService(mockSt, nil)

			canRegister, err := rbac.CanRegister(context.Background())
			return err == nil && canRegister
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// **Feature: gary-zero, Property 4: RBAC permission enforcement**
// For any user with the member role attempting an admin action (user, flag,
// config, or deployment management), the request SHALL be rejected.

// genAdminPermission generates admin-only permissions.
func genAdminPermission() gopter.Gen {
	return gen.OneConstOf(
		PermissionManageUsers,
		PermissionManageSettings,
		PermissionManageFlags,
		PermissionManageConfig,
		PermissionDeploy,
	)
}

// genMemberPermission generates permissions that members have.
func genMemberPermission() gopter.Gen {
	return gen.OneConstOf(
		PermissionViewLogs,
		PermissionChat,
		PermissionRunBenchmarks,
	)
}

// genAnyPermission generates any permission.
func genAnyPermission() gopter.Gen {
	return gen.OneConstOf(
		PermissionManageUsers,
		PermissionManageSettings,
		PermissionManageFlags,
		PermissionManageConfig,
		PermissionDeploy,
		PermissionViewLogs,
		PermissionChat,
		PermissionRunBenchmarks,
	)
}

func TestRBACPermissionEnforcement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Members are denied admin permissions", prop.ForAll(
		func(permission Permission) bool {
			err := CheckRolePermission(store.RoleMember, permission)
			return err == ErrPermissionDenied
		},
		genAdminPermission(),
	))

	properties.Property("Members have basic permissions", prop.ForAll(
		func(permission Permission) bool {
			err := CheckRolePermission(store.RoleMember, permission)
			return err == nil
		},
		genMemberPermission(),
	))

	properties.Property("Admins have all permissions", prop.ForAll(
		func(permission Permission) bool {
			err := CheckRolePermission(store.RoleAdmin, permission)
			return err == nil
		},
		genAnyPermission(),
	))

	properties.Property("Invalid roles are denied all permissions", prop.ForAll(
		func(permission Permission) bool {
			err := CheckRolePermission(store.Role("invalid"), permission)
			return err == ErrPermissionDenied
		},
		genAnyPermission(),
	))

	properties.TestingRun(t)
}

func TestRBACServicePermissionCheck(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Service enforcement matches role table for members", prop.ForAll(
		func(userID string, permission Permission) bool {
			memberUser := &store.User{
				ID:    userID,
				Email: userID + "@example.com",
				Role:  store.RoleMember,
			}

			mockUsers := &mockUserStoreRBAC{users: []*store.User{memberUser}}
			mockSt := &mockStoreRBAC{userStore: mockUsers}
			rbac := NewRBACService(mockSt, nil)

			err := rbac.CheckPermission(context.Background(), userID, permission)
			expectedErr := CheckRolePermission(store.RoleMember, permission)

			if expectedErr == nil {
				return err == nil
			}
			return err != nil
		},
		genRBACUserID(),
		genAnyPermission(),
	))

	properties.Property("Admins pass every service-level check", prop.ForAll(
		func(userID string, permission Permission) bool {
			adminUser := &store.User{
				ID:    userID,
				Email: userID + "@example.com",
				Role:  store.RoleAdmin,
			}

			mockUsers := &mockUserStoreRBAC{users: []*store.User{adminUser}}
			mockSt := &mockStoreRBAC{userStore: mockUsers}
			rbac := NewRBACService(mockSt, nil)

			err := rbac.CheckPermission(context.Background(), userID, permission)
			return err == nil
		},
		genRBACUserID(),
		genAnyPermission(),
	))

	properties.TestingRun(t)
}
