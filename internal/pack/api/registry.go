package api

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/pack/security"
)

// API version constants reported to pack scripts.
const (
	// Version is the parlor API version string.
	Version = "0.1.0"

	// APIVersion is the numeric API generation, bumped on breaking changes.
	APIVersion = 1
)

// Module represents a Lua API module that can be exposed to packs.
type Module interface {
	// Name returns the module name (e.g., "storage", "users", "log").
	Name() string

	// RequiredCapability returns the capability required to use this module.
	// Returns empty string if no capability is required.
	RequiredCapability() security.Capability

	// Register registers the module functions into the Lua state.
	// The module should register itself under the _parlor_<name> global.
	Register(L *lua.LState) error
}

// AuthProvider resolves the member the current hook execution runs for.
// Implementations are request-scoped; a nil user means no active session.
type AuthProvider interface {
	CurrentUser(ctx context.Context) (*sandbox.User, error)
}

// Logger is the slice of the host logger pack messages flow through.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Context provides API modules with their host-side surfaces. One Context
// is built per pack: Storage and Users come from that pack's sandbox
// context, Log is the host logger already scoped to the pack, and Monitor
// (optional) applies the pack's rate limits.
type Context struct {
	// Storage is the pack's own isolated database.
	Storage sandbox.PackStorage

	// Users is the read-only member directory facade.
	Users sandbox.CoreFacade

	// Auth resolves the current session member.
	Auth AuthProvider

	// Log receives pack log output.
	Log Logger

	// Monitor rate limits storage statements, member lookups, and log
	// output when set.
	Monitor *security.ResourceMonitor
}

// Registry manages API modules and their registration.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a new API registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// Register adds a module to the registry.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}

	r.modules[mod.Name()] = mod
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	return mod, ok
}

// List returns all registered module names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InjectAll registers all modules into the Lua state, checking capabilities.
// Modules the pack lacks a capability for are skipped silently, so an
// ungranted module simply does not exist in that pack's namespace. If
// checker is nil, only capability-free modules are injected.
func (r *Registry) InjectAll(L *lua.LState, checker *security.PermissionChecker) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, mod := range r.modules {
		reqCap := mod.RequiredCapability()
		if reqCap != "" {
			if checker == nil || !checker.HasCapability(reqCap) {
				continue
			}
		}

		if err := mod.Register(L); err != nil {
			return fmt.Errorf("failed to register module %q: %w", name, err)
		}
	}

	if err := r.installParlorLoader(L); err != nil {
		return fmt.Errorf("failed to install parlor loader: %w", err)
	}

	return nil
}

// Inject registers specific modules into the Lua state.
// Unlike InjectAll, this returns an error if a module requires a capability
// that the checker doesn't have (or if checker is nil and one is required).
func (r *Registry) Inject(L *lua.LState, checker *security.PermissionChecker, moduleNames ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range moduleNames {
		mod, ok := r.modules[name]
		if !ok {
			return fmt.Errorf("module %q not found", name)
		}

		reqCap := mod.RequiredCapability()
		if reqCap != "" {
			if checker == nil {
				return fmt.Errorf("pack lacks capability %q for module %q (no permission checker)", reqCap, name)
			}
			if !checker.HasCapability(reqCap) {
				return fmt.Errorf("pack lacks capability %q for module %q", reqCap, name)
			}
		}

		if err := mod.Register(L); err != nil {
			return fmt.Errorf("failed to register module %q: %w", name, err)
		}
	}

	return nil
}

// installParlorLoader installs the parlor module that aggregates all
// injected API modules, and preloads each submodule under its dotted name
// so require("parlor.storage") resolves the same table as parlor.storage.
func (r *Registry) installParlorLoader(L *lua.LState) error {
	parlorModule := L.NewTable()

	for name := range r.modules {
		globalName := "_parlor_" + name
		val := L.GetGlobal(globalName)
		if val == lua.LNil {
			continue
		}
		L.SetField(parlorModule, name, val)
		L.SetGlobal(globalName, lua.LNil)

		sub := val
		L.PreloadModule("parlor."+name, func(L *lua.LState) int {
			L.Push(sub)
			return 1
		})
	}

	L.SetField(parlorModule, "version", lua.LString(Version))
	L.SetField(parlorModule, "api_version", lua.LNumber(APIVersion))

	L.PreloadModule("parlor", func(L *lua.LState) int {
		L.Push(parlorModule)
		return 1
	})

	return nil
}

// DefaultRegistry creates a registry with all standard pack modules.
// Returns an error if any module registration fails (which should never
// happen with standard modules unless there's a programming error).
func DefaultRegistry(ctx *Context) (*Registry, error) {
	r := NewRegistry()

	modules := []Module{
		NewStorageModule(ctx),
		NewUsersModule(ctx),
		NewAuthModule(ctx),
		NewLogModule(ctx),
		NewUtilModule(),
	}

	for _, mod := range modules {
		if err := r.Register(mod); err != nil {
			return nil, fmt.Errorf("failed to register module %q: %w", mod.Name(), err)
		}
	}

	return r, nil
}

// callContext returns the context bound to the Lua state for the current
// hook execution, or Background when the host did not set one.
func callContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
