package sandbox

import (
	"context"
	"database/sql"
	"sync"
)

// PackStorage is the mutable half of a pack context: statements over the
// pack's own isolated artifact. Run and Exec mutate and are quota-gated;
// Get and All read and never are.
type PackStorage interface {
	Run(ctx context.Context, stmt string, args ...any) (RunResult, error)
	Get(ctx context.Context, query string, args ...any) (map[string]any, error)
	All(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	Exec(ctx context.Context, script string) error
}

// CoreFacade is the read-only view onto core user data available to pack
// code. Implementations parameterize every query and project results down
// to the User shape before returning them.
type CoreFacade interface {
	GetUser(ctx context.Context, id any) (*User, error)
	GetUsers(ctx context.Context, ids []any) ([]User, error)
	GetUsernameMap(ctx context.Context, ids []any) (map[int64]string, error)
	UserExists(ctx context.Context, id any) (bool, error)
}

// ContextState tracks a pack context through its lifecycle.
type ContextState int

const (
	// ContextUnopened - assembled, storage handle not opened yet.
	ContextUnopened ContextState = iota
	// ContextActive - storage handle open, operations permitted.
	ContextActive
	// ContextClosed - torn down, every operation fails.
	ContextClosed
)

// String returns a human-readable state name.
func (s ContextState) String() string {
	switch s {
	case ContextUnopened:
		return "unopened"
	case ContextActive:
		return "active"
	case ContextClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Context is the single capability object a pack receives at activation:
// its own storage plus the core façade. The core database handle itself
// never appears here, only the façade already bound to it, so pack code
// has no path back to raw core data.
type Context struct {
	identifier string
	token      string
	quota      QuotaConfig

	mgr  *StorageManager
	core CoreFacade

	mu    sync.Mutex
	state ContextState
	store *PackStore
}

// NewContext assembles a sandbox context for one pack. The identifier is
// sanitized exactly once, here; everything downstream sees only the
// token. A zero quota falls back to the 50 MiB default. The storage
// handle opens lazily on the first storage operation, so assembling a
// context touches no files.
func NewContext(identifier string, core *sql.DB, mgr *StorageManager, quota QuotaConfig) *Context {
	c := &Context{
		identifier: identifier,
		token:      SanitizeToken(identifier),
		quota:      QuotaConfig{MaxSizeBytes: quota.limit()},
		mgr:        mgr,
	}
	if core != nil {
		c.core = NewCoreFacade(core)
	}
	return c
}

// Identifier returns the original pack identifier.
func (c *Context) Identifier() string {
	return c.identifier
}

// Token returns the sanitized storage token.
func (c *Context) Token() string {
	return c.token
}

// Quota returns the storage ceiling applied to this context's mutations.
func (c *Context) Quota() QuotaConfig {
	return c.quota
}

// State returns the current lifecycle state.
func (c *Context) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Storage returns the pack-scoped storage interface. The handle behind it
// opens on first use.
func (c *Context) Storage() PackStorage {
	return &contextStorage{c: c}
}

// Users returns the read-only core façade, guarded by this context's
// lifecycle.
func (c *Context) Users() CoreFacade {
	return &guardedFacade{c: c}
}

// Open eagerly opens the storage handle. Calling it is optional; any
// storage operation opens on demand.
func (c *Context) Open(ctx context.Context) error {
	_, err := c.handle(ctx)
	return err
}

// Close tears the context down. The storage handle is returned to the
// manager and every later operation fails with ErrContextClosed. Close is
// idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == ContextClosed {
		return nil
	}
	wasActive := c.state == ContextActive
	c.state = ContextClosed
	c.store = nil
	if wasActive {
		return c.mgr.Close(c.token)
	}
	return nil
}

// handle returns the open storage handle, transitioning Unopened to
// Active on first use.
func (c *Context) handle(ctx context.Context) (*PackStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ContextClosed:
		return nil, ErrContextClosed
	case ContextActive:
		return c.store, nil
	}

	st, err := c.mgr.Open(ctx, c.token, c.identifier)
	if err != nil {
		return nil, err
	}
	c.store = st
	c.state = ContextActive
	return st, nil
}

// checkOpen gates façade calls, which need the lifecycle but not the
// storage handle.
func (c *Context) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ContextClosed {
		return ErrContextClosed
	}
	return nil
}

// facade returns the core façade after the lifecycle check, or
// ErrNoCoreAccess when the context was assembled without a core handle.
func (c *Context) facade() (CoreFacade, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.core == nil {
		return nil, ErrNoCoreAccess
	}
	return c.core, nil
}

// contextStorage binds PackStorage operations to one context, opening the
// handle on demand and applying the context's quota to mutations.
type contextStorage struct {
	c *Context
}

func (s *contextStorage) Run(ctx context.Context, stmt string, args ...any) (RunResult, error) {
	st, err := s.c.handle(ctx)
	if err != nil {
		return RunResult{}, err
	}
	return st.Run(ctx, s.c.quota, stmt, args...)
}

func (s *contextStorage) Get(ctx context.Context, query string, args ...any) (map[string]any, error) {
	st, err := s.c.handle(ctx)
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, query, args...)
}

func (s *contextStorage) All(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	st, err := s.c.handle(ctx)
	if err != nil {
		return nil, err
	}
	return st.All(ctx, query, args...)
}

func (s *contextStorage) Exec(ctx context.Context, script string) error {
	st, err := s.c.handle(ctx)
	if err != nil {
		return err
	}
	return st.Exec(ctx, s.c.quota, script)
}

// guardedFacade applies the context lifecycle to façade calls: a closed
// context refuses core reads just like storage operations.
type guardedFacade struct {
	c *Context
}

func (f *guardedFacade) GetUser(ctx context.Context, id any) (*User, error) {
	core, err := f.c.facade()
	if err != nil {
		return nil, err
	}
	return core.GetUser(ctx, id)
}

func (f *guardedFacade) GetUsers(ctx context.Context, ids []any) ([]User, error) {
	core, err := f.c.facade()
	if err != nil {
		return nil, err
	}
	return core.GetUsers(ctx, ids)
}

func (f *guardedFacade) GetUsernameMap(ctx context.Context, ids []any) (map[int64]string, error) {
	core, err := f.c.facade()
	if err != nil {
		return nil, err
	}
	return core.GetUsernameMap(ctx, ids)
}

func (f *guardedFacade) UserExists(ctx context.Context, id any) (bool, error) {
	core, err := f.c.facade()
	if err != nil {
		return false, err
	}
	return core.UserExists(ctx, id)
}
