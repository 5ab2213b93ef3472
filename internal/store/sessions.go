package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL applies when a session is created without an explicit
// lifetime.
const DefaultSessionTTL = 24 * time.Hour

// Session is one authenticated catalogue session.
type Session struct {
	Token     string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateSession mints an opaque session token for userID. A non-positive
// ttl falls back to DefaultSessionTTL.
func (s *Store) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now().UTC()
	sess := &Session{
		Token:     uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		sess.Token, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("create session for user %d: %w", userID, err)
	}
	return sess, nil
}

// SessionUser resolves a live session token to its user. Expired or
// unknown tokens return nil, not an error.
func (s *Store) SessionUser(ctx context.Context, token string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.email, u.password_hash, u.role, u.created_at
		FROM sessions se
		INNER JOIN users u ON u.id = se.user_id
		WHERE se.token = ? AND se.expires_at > ?`,
		token, time.Now().UTC())

	u, err := s.scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return u, nil
}

// DeleteSession removes one session. Deleting an unknown token is not an
// error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PruneSessions removes expired sessions and reports how many went.
func (s *Store) PruneSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return n, nil
}
