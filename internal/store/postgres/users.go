package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/garyzero/gary-zero/internal/store"
)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *UserStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create creates a new user with a hashed password.
func (s *UserStore) Create(ctx context.Context, email, password string, role store.Role) (*store.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO users (id, email, name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.conn().ExecContext(ctx, query,
		user.ID, user.Email, user.Name, string(hash), string(user.Role), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateKey
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	return user, nil
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	query := `
		SELECT id, email, name, role, created_at
		FROM users WHERE email = $1`

	return s.scanUser(s.conn().QueryRowContext(ctx, query, email))
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, email, name, role, created_at
		FROM users WHERE id = $1`

	return s.scanUser(s.conn().QueryRowContext(ctx, query, id))
}

// Authenticate verifies credentials and returns the user.
func (s *UserStore) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	query := `
		SELECT id, email, name, role, created_at, password_hash
		FROM users WHERE email = $1`

	user := &store.User{}
	var role, hash string
	err := s.conn().QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.Name, &role, &user.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	user.Role = store.Role(role)

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, store.ErrNotFound
	}

	return user, nil
}

// List retrieves all users.
func (s *UserStore) List(ctx context.Context) ([]*store.User, error) {
	query := `
		SELECT id, email, name, role, created_at
		FROM users ORDER BY created_at`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user := &store.User{}
		var role string
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		user.Role = store.Role(role)
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}

// Delete removes a user by ID.
func (s *UserStore) Delete(ctx context.Context, id string) error {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Count returns the total number of users.
func (s *UserStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// scanUser scans a single user row.
func (s *UserStore) scanUser(row *sql.Row) (*store.User, error) {
	user := &store.User{}
	var role string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	user.Role = store.Role(role)
	return user, nil
}
