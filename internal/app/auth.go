package app

import (
	"context"
	"sync"

	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/store"
)

// SessionAuth resolves the current user from a catalogue session token.
// It is the host's AuthProvider: pack hooks that ask for the current
// user get the minimized member shape for whoever owns the session the
// host is executing on behalf of, never the full store record.
//
// The token is mutable so the host can scope successive hook runs to
// different sessions. No token means no current user, which packs see
// as nil rather than an error.
type SessionAuth struct {
	mu    sync.RWMutex
	store *store.Store
	token string
}

// NewSessionAuth creates a session-backed auth provider.
func NewSessionAuth(st *store.Store) *SessionAuth {
	return &SessionAuth{store: st}
}

// SetToken scopes subsequent lookups to the given session token.
func (a *SessionAuth) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

// ClearToken removes the current session scope.
func (a *SessionAuth) ClearToken() {
	a.SetToken("")
}

// Token returns the current session token.
func (a *SessionAuth) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// CurrentUser resolves the session to its owner. An absent, unknown, or
// expired session yields (nil, nil).
func (a *SessionAuth) CurrentUser(ctx context.Context) (*sandbox.User, error) {
	token := a.Token()
	if token == "" {
		return nil, nil
	}

	rec, err := a.store.SessionUser(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	u := &sandbox.User{
		ID:          rec.ID,
		Username:    rec.Username,
		DisplayName: rec.DisplayName,
	}
	if u.DisplayName == "" {
		u.DisplayName = rec.Username
	}
	return u, nil
}
