package pack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/parlor/internal/pack/api"
	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/pack/security"
)

// ManagerConfig configures the pack manager.
type ManagerConfig struct {
	// PackPaths are directories to search for packs
	PackPaths []string

	// AutoActivate activates packs immediately after loading
	AutoActivate bool

	// Limits is the resource profile applied to every pack
	Limits security.ResourceLimits

	// PackConfigs holds per-pack configuration passed to setup()
	PackConfigs map[string]map[string]any
}

// DefaultManagerConfig returns the default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PackPaths:    DefaultPackPaths(),
		AutoActivate: true,
		Limits:       security.DefaultResourceLimits(),
		PackConfigs:  make(map[string]map[string]any),
	}
}

// EventType identifies a pack lifecycle event.
type EventType int

const (
	EventPackLoaded EventType = iota
	EventPackUnloaded
	EventPackActivated
	EventPackDeactivated
	EventPackReloaded
	EventPackError
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventPackLoaded:
		return "loaded"
	case EventPackUnloaded:
		return "unloaded"
	case EventPackActivated:
		return "activated"
	case EventPackDeactivated:
		return "deactivated"
	case EventPackReloaded:
		return "reloaded"
	case EventPackError:
		return "error"
	default:
		return "unknown"
	}
}

// ManagerEvent is a pack lifecycle notification.
type ManagerEvent struct {
	Type EventType
	Pack string
	Err  error
}

// EventHandler receives pack lifecycle events.
type EventHandler func(ManagerEvent)

// Manager owns the pack hosts and their shared wiring. Every host gets
// the same storage manager and core handle; isolation between packs
// comes from the per-pack sandbox context each host assembles.
type Manager struct {
	mu sync.RWMutex

	config ManagerConfig
	loader *Loader
	hosts  map[string]*Host

	// Shared wiring handed to every host
	storage *sandbox.StorageManager
	core    *sql.DB
	auth    api.AuthProvider
	logger  api.Logger

	handlersMu sync.RWMutex
	handlers   []EventHandler
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerStorage sets the storage manager packs persist through.
func WithManagerStorage(mgr *sandbox.StorageManager) ManagerOption {
	return func(m *Manager) {
		m.storage = mgr
	}
}

// WithManagerCoreDB sets the core database the user façade reads.
func WithManagerCoreDB(db *sql.DB) ManagerOption {
	return func(m *Manager) {
		m.core = db
	}
}

// WithManagerAuth sets the session provider behind parlor.auth.
func WithManagerAuth(auth api.AuthProvider) ManagerOption {
	return func(m *Manager) {
		m.auth = auth
	}
}

// WithManagerLogger sets the logger for manager and pack messages.
func WithManagerLogger(logger api.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new pack manager.
func NewManager(config ManagerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		config: config,
		loader: NewLoader(WithPaths(config.PackPaths...)),
		hosts:  make(map[string]*Host),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Loader returns the loader backing this manager. The catalogue
// registry shares it so slug resolution sees the same discovery cache.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// Discover finds packs in the configured paths.
func (m *Manager) Discover() ([]*PackInfo, error) {
	return m.loader.Discover()
}

// Load loads a pack by name.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.mu.RLock()
	_, exists := m.hosts[name]
	m.mu.RUnlock()
	if exists {
		return ErrAlreadyLoaded
	}

	info, err := m.loader.FindPack(name)
	if err != nil {
		m.emitEvent(ManagerEvent{Type: EventPackError, Pack: name, Err: err})
		return err
	}

	host, err := NewHost(info.Manifest, m.hostOptions(name)...)
	if err != nil {
		m.emitEvent(ManagerEvent{Type: EventPackError, Pack: name, Err: err})
		return err
	}

	if err := host.Load(ctx); err != nil {
		m.warnf("pack %s failed to load: %v", name, err)
		m.emitEvent(ManagerEvent{Type: EventPackError, Pack: name, Err: err})
		return err
	}

	m.mu.Lock()
	if _, exists := m.hosts[name]; exists {
		// Another goroutine loaded it while we were working
		m.mu.Unlock()
		_ = host.Unload(ctx)
		return ErrAlreadyLoaded
	}
	m.hosts[name] = host
	m.mu.Unlock()

	m.infof("loaded pack %s", name)
	m.emitEvent(ManagerEvent{Type: EventPackLoaded, Pack: name})

	if m.config.AutoActivate {
		if err := m.Activate(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// hostOptions assembles the wiring options for one pack host.
func (m *Manager) hostOptions(name string) []HostOption {
	opts := []HostOption{
		WithHostLimits(m.config.Limits),
		WithHostStorage(m.storage),
		WithHostCoreDB(m.core),
		WithHostAuth(m.auth),
		WithHostLogger(m.logger),
	}
	if config, ok := m.config.PackConfigs[name]; ok {
		opts = append(opts, WithHostConfig(config))
	}
	return opts
}

// LoadAll discovers and loads every pack found in the configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	if _, err := m.loader.Discover(); err != nil {
		return err
	}

	var errs []error
	for _, name := range m.loader.ListNames() {
		if err := m.Load(ctx, name); err != nil {
			if errors.Is(err, ErrAlreadyLoaded) {
				continue
			}
			errs = append(errs, fmt.Errorf("pack %s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to load %d packs: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Unload unloads a pack by name.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	host, exists := m.hosts[name]
	if !exists {
		m.mu.Unlock()
		return ErrPackNotFound
	}
	delete(m.hosts, name)
	m.mu.Unlock()

	err := host.Unload(ctx)
	m.infof("unloaded pack %s", name)
	m.emitEvent(ManagerEvent{Type: EventPackUnloaded, Pack: name, Err: err})
	return err
}

// UnloadAll unloads every pack in reverse load order.
func (m *Manager) UnloadAll(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.hosts))
	for name := range m.hosts {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		if err := m.Unload(ctx, names[i]); err != nil && !errors.Is(err, ErrPackNotFound) {
			errs = append(errs, fmt.Errorf("pack %s: %w", names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Activate activates a loaded pack.
func (m *Manager) Activate(ctx context.Context, name string) error {
	host, err := m.Get(name)
	if err != nil {
		return err
	}

	if err := host.Activate(ctx); err != nil {
		m.warnf("pack %s failed to activate: %v", name, err)
		m.emitEvent(ManagerEvent{Type: EventPackError, Pack: name, Err: err})
		return err
	}

	m.infof("activated pack %s", name)
	m.emitEvent(ManagerEvent{Type: EventPackActivated, Pack: name})
	return nil
}

// ActivateAll activates every loaded pack.
func (m *Manager) ActivateAll(ctx context.Context) error {
	var errs []error
	for _, host := range m.List() {
		if host.State() != StateLoaded {
			continue
		}
		if err := m.Activate(ctx, host.Name()); err != nil {
			errs = append(errs, fmt.Errorf("pack %s: %w", host.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Deactivate deactivates an active pack. Its data context closes; the
// storage artifact stays on disk for the next activation.
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	host, err := m.Get(name)
	if err != nil {
		return err
	}

	if err := host.Deactivate(ctx); err != nil {
		m.emitEvent(ManagerEvent{Type: EventPackError, Pack: name, Err: err})
		return err
	}

	m.infof("deactivated pack %s", name)
	m.emitEvent(ManagerEvent{Type: EventPackDeactivated, Pack: name})
	return nil
}

// DeactivateAll deactivates every active pack.
func (m *Manager) DeactivateAll(ctx context.Context) error {
	active := m.ListActive()

	var errs []error
	for i := len(active) - 1; i >= 0; i-- {
		if err := m.Deactivate(ctx, active[i].Name()); err != nil {
			errs = append(errs, fmt.Errorf("pack %s: %w", active[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Reload refreshes a pack from disk and reloads it. The pack is torn
// down and rebuilt from a fresh manifest, so capability and quota changes
// in pack.json take effect, not just code changes.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.RLock()
	host, exists := m.hosts[name]
	m.mu.RUnlock()
	if !exists {
		return ErrPackNotFound
	}
	wasActive := host.State() == StateActive

	if err := m.Unload(ctx, name); err != nil {
		return err
	}

	if _, err := m.loader.Refresh(); err != nil {
		m.emitEvent(ManagerEvent{Type: EventPackError, Pack: name, Err: err})
		return err
	}

	if err := m.Load(ctx, name); err != nil {
		m.warnf("pack %s failed to reload: %v", name, err)
		return err
	}

	if wasActive && !m.config.AutoActivate {
		if err := m.Activate(ctx, name); err != nil {
			return err
		}
	}

	m.infof("reloaded pack %s", name)
	m.emitEvent(ManagerEvent{Type: EventPackReloaded, Pack: name})
	return nil
}

// Get returns a loaded pack host by name.
func (m *Manager) Get(name string) (*Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	host, exists := m.hosts[name]
	if !exists {
		return nil, ErrPackNotFound
	}
	return host, nil
}

// List returns all loaded pack hosts.
func (m *Manager) List() []*Host {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hosts := make([]*Host, 0, len(m.hosts))
	for _, host := range m.hosts {
		hosts = append(hosts, host)
	}
	return hosts
}

// ListActive returns all active pack hosts.
func (m *Manager) ListActive() []*Host {
	return m.ListByState(StateActive)
}

// ListByState returns pack hosts in the given state.
func (m *Manager) ListByState(state State) []*Host {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hosts []*Host
	for _, host := range m.hosts {
		if host.State() == state {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// CallHook calls a hook function in a loaded pack.
func (m *Manager) CallHook(ctx context.Context, name, fn string, args ...any) ([]any, error) {
	host, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return host.CallHook(ctx, fn, args...)
}

// Count returns the number of loaded packs.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hosts)
}

// CountActive returns the number of active packs.
func (m *Manager) CountActive() int {
	return len(m.ListActive())
}

// HasErrors returns true if any pack is in an error state.
func (m *Manager) HasErrors() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, host := range m.hosts {
		if host.State() == StateError {
			return true
		}
	}
	return false
}

// Errors returns the errors of packs in an error state.
func (m *Manager) Errors() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := make(map[string]error)
	for name, host := range m.hosts {
		if host.State() == StateError {
			errs[name] = host.Error()
		}
	}
	return errs
}

// Subscribe registers an event handler and returns an unsubscribe
// function. The handler slot is cleared rather than spliced so earlier
// unsubscribes never shift later ones.
func (m *Manager) Subscribe(handler EventHandler) func() {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()

	m.handlers = append(m.handlers, handler)
	index := len(m.handlers) - 1

	return func() {
		m.handlersMu.Lock()
		defer m.handlersMu.Unlock()
		if index < len(m.handlers) {
			m.handlers[index] = nil
		}
	}
}

// emitEvent notifies all handlers. Handlers run outside the manager
// locks so they can call back into the manager.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.handlersMu.RLock()
	handlers := make([]EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.handlersMu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.warnf("pack event handler panicked: %v", r)
				}
			}()
			handler(event)
		}()
	}
}

func (m *Manager) infof(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}

func (m *Manager) warnf(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
