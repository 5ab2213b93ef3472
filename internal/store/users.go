package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials indicates a failed username/password check.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRecord is the host-side view of a core user, credentials included.
// Only id, username, and display name ever reach pack code, and only via
// the sandbox façade.
type UserRecord struct {
	ID           int64
	Username     string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// CreateUser inserts a user with a bcrypt-hashed password and returns the
// new row id. An empty role defaults to member; an empty display name is
// stored as NULL so the façade's username fallback applies.
func (s *Store) CreateUser(ctx context.Context, username, displayName, email, password, role string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	if role == "" {
		role = "member"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, email, password_hash, role)
		VALUES (?, ?, ?, ?, ?)`,
		username, nullable(displayName), email, string(hash), role)
	if err != nil {
		return 0, fmt.Errorf("create user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create user %q: %w", username, err)
	}
	return id, nil
}

// UserByID returns the full record for id, or nil when no such user
// exists.
func (s *Store) UserByID(ctx context.Context, id int64) (*UserRecord, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, email, password_hash, role, created_at
		FROM users WHERE id = ?`, id))
}

// UserByUsername returns the full record for username, or nil when no
// such user exists.
func (s *Store) UserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, email, password_hash, role, created_at
		FROM users WHERE username = ?`, username))
}

// Authenticate checks username and password, returning the user on
// success and ErrInvalidCredentials otherwise. A missing user and a wrong
// password are indistinguishable to the caller.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*UserRecord, error) {
	u, err := s.UserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name, email, password_hash, role, created_at
		FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []UserRecord
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CountUsers reports how many users exist.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *Store) scanUser(row *sql.Row) (*UserRecord, error) {
	var (
		u       UserRecord
		display sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &display, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	u.DisplayName = display.String
	return &u, nil
}

func scanUserRow(rows *sql.Rows) (UserRecord, error) {
	var (
		u       UserRecord
		display sql.NullString
	)
	err := rows.Scan(&u.ID, &u.Username, &display, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		return UserRecord{}, err
	}
	u.DisplayName = display.String
	return u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
