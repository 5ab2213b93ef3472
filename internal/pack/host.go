package pack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/parlor/internal/pack/api"
	plua "github.com/dshills/parlor/internal/pack/lua"
	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/pack/security"
)

// Host manages a single pack's Lua state, permissions, and data context.
//
// The pack's code only ever sees the parlor API modules; the sandbox
// context behind them is assembled here and never handed to Lua directly.
type Host struct {
	mu sync.Mutex

	// Identity
	name     string
	manifest *Manifest

	// Lua runtime
	state  *plua.State
	bridge *plua.Bridge

	// State
	packState State
	err       error

	// Configuration passed to setup()
	config map[string]any

	// Sandbox wiring
	storage  *sandbox.StorageManager
	core     *sql.DB
	sctx     *sandbox.Context
	checker  *security.PermissionChecker
	monitor  *security.ResourceMonitor
	apiCtx   *api.Context
	registry *api.Registry

	// External providers
	auth   api.AuthProvider
	logger api.Logger

	limits security.ResourceLimits
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLimits sets the resource limits profile for the pack.
func WithHostLimits(limits security.ResourceLimits) HostOption {
	return func(h *Host) {
		h.limits = limits
	}
}

// WithHostConfig sets the configuration table passed to setup().
func WithHostConfig(config map[string]any) HostOption {
	return func(h *Host) {
		h.config = config
	}
}

// WithHostStorage sets the storage manager backing the pack's artifact.
func WithHostStorage(mgr *sandbox.StorageManager) HostOption {
	return func(h *Host) {
		h.storage = mgr
	}
}

// WithHostCoreDB sets the core database handle the user façade reads.
// The handle itself is never reachable from pack code.
func WithHostCoreDB(db *sql.DB) HostOption {
	return func(h *Host) {
		h.core = db
	}
}

// WithHostAuth sets the session provider behind parlor.auth.
func WithHostAuth(auth api.AuthProvider) HostOption {
	return func(h *Host) {
		h.auth = auth
	}
}

// WithHostLogger sets the logger behind parlor.log and host messages.
func WithHostLogger(logger api.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// NewHost creates a new pack host for the given manifest.
func NewHost(manifest *Manifest, opts ...HostOption) (*Host, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}

	h := &Host{
		name:      manifest.Name,
		manifest:  manifest,
		packState: StateUnloaded,
		config:    make(map[string]any),
		limits:    security.DefaultResourceLimits(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Name returns the pack name.
func (h *Host) Name() string {
	return h.name
}

// Manifest returns the pack manifest.
func (h *Host) Manifest() *Manifest {
	return h.manifest
}

// State returns the current pack state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.packState
}

// Error returns any error that occurred.
func (h *Host) Error() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Token returns the storage token the pack's artifact lives under.
func (h *Host) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sctx != nil {
		return h.sctx.Token()
	}
	return sandbox.SanitizeToken(h.name)
}

// Config returns a copy of the pack configuration.
func (h *Host) Config() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	config := make(map[string]any, len(h.config))
	for k, v := range h.config {
		config[k] = v
	}
	return config
}

// SetConfig sets a configuration value.
func (h *Host) SetConfig(key string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config[key] = value
}

// Usage returns a snapshot of the pack's resource consumption.
func (h *Host) Usage() security.ResourceUsage {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.monitor == nil {
		return security.ResourceUsage{}
	}
	return h.monitor.GetUsage()
}

// Load initializes the Lua state, grants the manifest's capabilities,
// assembles the data context, and runs the pack's entry file.
func (h *Host) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.packState != StateUnloaded {
		return ErrAlreadyLoaded
	}

	state, err := plua.NewState(
		plua.WithMemoryLimit(h.limits.MemoryLimit),
		plua.WithExecutionTimeout(h.limits.ExecutionTimeout),
		plua.WithInstructionLimit(h.limits.InstructionLimit),
	)
	if err != nil {
		h.packState = StateError
		h.err = err
		return err
	}
	h.state = state
	h.bridge = plua.NewBridge(state.LuaState())

	// Grant the manifest's capabilities to both layers: the permission
	// checker decides which modules are injected at all, the Lua sandbox
	// records the grant for require-time checks.
	h.checker = security.NewPermissionChecker(h.name)
	for _, cap := range h.manifest.Capabilities {
		h.checker.Grant(cap)
		h.state.Sandbox().Grant(plua.Capability(cap))
	}
	h.monitor = security.NewResourceMonitor(h.limits)

	h.apiCtx = &api.Context{
		Auth:    h.auth,
		Monitor: h.monitor,
	}
	if h.logger != nil {
		h.apiCtx.Log = &packLogger{base: h.logger, pack: h.name}
	}
	h.openDataContext()

	registry, err := api.DefaultRegistry(h.apiCtx)
	if err != nil {
		h.closeRuntime()
		h.packState = StateError
		h.err = err
		return err
	}
	h.registry = registry

	// Inject with a real checker: a pack that never requested storage
	// does not get a parlor.storage table to poke at.
	if err := registry.InjectAll(state.LuaState(), h.checker); err != nil {
		h.closeRuntime()
		h.packState = StateError
		h.err = err
		return err
	}

	entry := h.manifest.EntryPath()
	if err := h.runWithDeadline(ctx, func() error { return h.state.DoFile(entry) }); err != nil {
		h.closeRuntime()
		h.packState = StateError
		h.err = fmt.Errorf("failed to load pack: %w", err)
		return h.err
	}

	h.packState = StateLoaded
	h.err = nil
	return nil
}

// Activate calls the pack's setup and activate functions.
func (h *Host) Activate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.packState != StateLoaded {
		return ErrNotLoaded
	}

	h.packState = StateActivating

	// A previous deactivation closed the data context; assemble a fresh
	// one before pack code runs again.
	h.openDataContext()

	if err := h.callSetup(ctx); err != nil {
		h.packState = StateError
		h.err = err
		return err
	}

	if err := h.callActivate(ctx); err != nil {
		h.packState = StateError
		h.err = err
		return err
	}

	h.packState = StateActive
	h.err = nil
	return nil
}

// callSetup calls the pack's setup function with configuration.
func (h *Host) callSetup(ctx context.Context) error {
	L := h.state.LuaState()
	setup := L.GetGlobal("setup")
	if setup == lua.LNil || setup.Type() != lua.LTFunction {
		return nil // setup is optional
	}

	configTable := h.bridge.ToLuaValue(h.config)
	return h.runWithDeadline(ctx, func() error {
		_, err := h.state.Call("setup", configTable)
		return err
	})
}

// callActivate calls the pack's activate function.
func (h *Host) callActivate(ctx context.Context) error {
	L := h.state.LuaState()
	activate := L.GetGlobal("activate")
	if activate == lua.LNil || activate.Type() != lua.LTFunction {
		return nil // activate is optional
	}

	return h.runWithDeadline(ctx, func() error {
		_, err := h.state.Call("activate")
		return err
	})
}

// Deactivate calls the pack's deactivate function and closes the data
// context. The pack's storage artifact stays on disk; only the handle is
// released.
func (h *Host) Deactivate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.packState != StateActive {
		return nil // Nothing to deactivate
	}

	h.packState = StateDeactivating

	if err := h.callDeactivate(ctx); err != nil {
		// Record but continue with teardown
		h.err = err
	}

	err := h.closeDataContext()
	h.packState = StateLoaded
	return err
}

// callDeactivate calls the pack's deactivate function.
func (h *Host) callDeactivate(ctx context.Context) error {
	L := h.state.LuaState()
	deactivate := L.GetGlobal("deactivate")
	if deactivate == lua.LNil || deactivate.Type() != lua.LTFunction {
		return nil // deactivate is optional
	}

	return h.runWithDeadline(ctx, func() error {
		_, err := h.state.Call("deactivate")
		return err
	})
}

// Unload closes the Lua state and releases the data context.
func (h *Host) Unload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.packState == StateUnloaded {
		return nil
	}

	// Deactivate first if active
	if h.packState == StateActive {
		h.packState = StateDeactivating
		_ = h.callDeactivate(ctx)
	}

	err := h.closeRuntime()
	h.packState = StateUnloaded
	h.err = nil
	return err
}

// Reload unloads and reloads the pack.
func (h *Host) Reload(ctx context.Context) error {
	wasActive := h.State() == StateActive

	if err := h.Unload(ctx); err != nil {
		return err
	}

	if err := h.Load(ctx); err != nil {
		return err
	}

	if wasActive {
		return h.Activate(ctx)
	}

	return nil
}

// CallHook calls a global Lua function in the pack, converting arguments
// and results across the bridge. Hooks are the host-driven entry points
// for game turns, page renders, and similar events.
func (h *Host) CallHook(ctx context.Context, fn string, args ...any) ([]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return nil, ErrNotLoaded
	}

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = h.bridge.ToLuaValue(arg)
	}

	var results []lua.LValue
	err := h.runWithDeadline(ctx, func() error {
		var callErr error
		results, callErr = h.state.Call(fn, luaArgs...)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	goResults := make([]any, len(results))
	for i, result := range results {
		goResults[i] = h.bridge.ToGoValue(result)
	}
	return goResults, nil
}

// HasFunction returns true if the pack has the named global function.
func (h *Host) HasFunction(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return false
	}

	v := h.state.GetGlobal(name)
	return v != nil && v.Type() == lua.LTFunction
}

// GetGlobal returns a global variable value.
func (h *Host) GetGlobal(name string) any {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return nil
	}

	return h.bridge.ToGoValue(h.state.GetGlobal(name))
}

// SetGlobal sets a global variable.
func (h *Host) SetGlobal(name string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return
	}

	h.state.SetGlobal(name, h.bridge.ToLuaValue(value))
}

// DoString executes Lua code in the pack context.
func (h *Host) DoString(code string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return ErrNotLoaded
	}

	return h.state.DoString(code)
}

// DataContext returns the pack's sandbox context, or nil before load.
func (h *Host) DataContext() *sandbox.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sctx
}

// openDataContext assembles the sandbox context when storage is wired and
// no open context exists. The storage handle itself opens lazily on the
// first statement.
// Must be called with mu held.
func (h *Host) openDataContext() {
	if h.storage == nil {
		return
	}
	if h.sctx != nil && h.sctx.State() != sandbox.ContextClosed {
		return
	}

	quota := sandbox.QuotaConfig{MaxSizeBytes: h.manifest.EffectiveQuota(h.quotaCeiling())}
	h.sctx = sandbox.NewContext(h.name, h.core, h.storage, quota)
	h.apiCtx.Storage = h.sctx.Storage()
	if h.core != nil {
		h.apiCtx.Users = h.sctx.Users()
	}
}

// quotaCeiling resolves the host-side artifact ceiling from the limits
// profile. Zero falls back to the sandbox default so an unset profile
// never means unlimited.
func (h *Host) quotaCeiling() int64 {
	if h.limits.StorageQuotaBytes == 0 {
		return sandbox.DefaultMaxArtifactSize
	}
	return h.limits.StorageQuotaBytes
}

// closeDataContext closes the sandbox context. The api modules keep their
// references; operations on them now fail with the context-closed error
// until a fresh context is assembled.
// Must be called with mu held.
func (h *Host) closeDataContext() error {
	if h.sctx == nil {
		return nil
	}
	return h.sctx.Close()
}

// closeRuntime tears down the Lua state and the data context.
// Must be called with mu held.
func (h *Host) closeRuntime() error {
	var errs []error
	if h.state != nil {
		errs = append(errs, h.state.Close())
		h.state = nil
	}
	errs = append(errs, h.closeDataContext())
	h.sctx = nil
	h.bridge = nil
	h.registry = nil
	h.apiCtx = nil
	return errors.Join(errs...)
}

// runWithDeadline binds a deadline to the interpreter for one execution.
// gopher-lua checks the bound context between instructions, which makes
// the execution timeout real rather than advisory: a pack stuck in a loop
// is aborted when the deadline passes.
// Must be called with mu held.
func (h *Host) runWithDeadline(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	L := h.state.LuaState()
	if h.limits.ExecutionTimeout > 0 {
		tctx, cancel := context.WithTimeout(ctx, h.limits.ExecutionTimeout)
		defer cancel()
		L.SetContext(tctx)
	} else {
		L.SetContext(ctx)
	}
	defer L.RemoveContext()

	return fn()
}

// Stats returns runtime statistics for the pack.
func (h *Host) Stats() HostStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HostStats{
		Name:     h.name,
		State:    h.packState,
		HasError: h.err != nil,
	}
	if h.monitor != nil {
		usage := h.monitor.GetUsage()
		stats.Instructions = usage.InstructionCount
		stats.LogBytes = usage.LogBytes
	}
	if h.sctx != nil {
		stats.Token = h.sctx.Token()
	}
	return stats
}

// HostStats contains runtime statistics for a pack host.
type HostStats struct {
	Name         string
	State        State
	Token        string
	Instructions int64
	LogBytes     int64
	HasError     bool
}

// packLogger prefixes every message with the pack name so interleaved
// pack output stays attributable. Pack names cannot contain format verbs,
// so the prefix is safe to prepend to the message.
type packLogger struct {
	base api.Logger
	pack string
}

func (l *packLogger) Debug(msg string, args ...any) { l.base.Debug("["+l.pack+"] "+msg, args...) }
func (l *packLogger) Info(msg string, args ...any)  { l.base.Info("["+l.pack+"] "+msg, args...) }
func (l *packLogger) Warn(msg string, args ...any)  { l.base.Warn("["+l.pack+"] "+msg, args...) }
func (l *packLogger) Error(msg string, args ...any) { l.base.Error("["+l.pack+"] "+msg, args...) }
