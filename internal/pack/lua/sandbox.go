package lua

import (
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Capability is a permission a pack manifest can request. Capabilities
// gate which parlor modules the host preloads; none of them unlock the
// Lua io/os/debug libraries, which stay shut for every pack.
type Capability string

// Available capabilities.
const (
	// CapabilityStorage grants the pack its isolated storage module.
	CapabilityStorage Capability = "storage"
	// CapabilityUsersRead grants the read-only core user façade.
	CapabilityUsersRead Capability = "users.read"
	// CapabilityLog grants structured logging through the host.
	CapabilityLog Capability = "log"
)

// Sandbox restricts what a pack interpreter can reach.
type Sandbox struct {
	L *lua.LState

	instructionLimit int64
	instructionCount int64

	capabilities map[Capability]bool
}

// NewSandbox creates a sandbox for the Lua state.
func NewSandbox(L *lua.LState, instructionLimit int64) *Sandbox {
	return &Sandbox{
		L:                L,
		instructionLimit: instructionLimit,
		capabilities:     make(map[Capability]bool),
	}
}

// Install applies the restrictions: code loaders removed, module search
// paths cleared, require replaced with a whitelist.
func (s *Sandbox) Install() {
	// Remove the globals that load code from strings or files.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installGuardedRequire()
}

// installGuardedRequire replaces require with a whitelist resolver. Only
// the safe built-ins and the preloaded parlor modules resolve; everything
// else raises. package.path and package.cpath are cleared so nothing can
// be pulled from disk, and package.loaded is scrubbed of anything but the
// safe built-ins.
func (s *Sandbox) installGuardedRequire() {
	safeLoaded := map[string]bool{
		"_G": true, "string": true, "table": true, "math": true,
		"package": true,
	}

	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))

		if loaded, ok := s.L.GetField(pkg, "loaded").(*lua.LTable); ok {
			var stale []string
			loaded.ForEach(func(k, _ lua.LValue) {
				if ks, ok := k.(lua.LString); ok && !safeLoaded[string(ks)] {
					stale = append(stale, string(ks))
				}
			})
			for _, key := range stale {
				loaded.RawSetString(key, lua.LNil)
			}
		}
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		if safeModules[modName] || allowedPackModule(modName) {
			L.Push(originalRequire)
			L.Push(lua.LString(modName))
			L.Call(1, 1)
			return 1
		}

		switch modName {
		case "io", "os", "debug":
			L.RaiseError("module %q is not available to packs", modName)
		}

		// Unknown modules never load from disk; only preloads resolve.
		L.RaiseError("module %q is not available", modName)
		return 0 // unreachable, required by the compiler
	}))
}

// allowedPackModule reports whether modName is the parlor module or one of
// its submodules; those resolve via PreloadModule when the host has
// granted the matching capability.
func allowedPackModule(modName string) bool {
	if modName == "parlor" {
		return true
	}
	return len(modName) > len("parlor.") && modName[:len("parlor.")] == "parlor."
}

// ResetInstructionCount resets the instruction counter.
func (s *Sandbox) ResetInstructionCount() {
	atomic.StoreInt64(&s.instructionCount, 0)
}

// InstructionCount returns the current instruction count.
func (s *Sandbox) InstructionCount() int64 {
	return atomic.LoadInt64(&s.instructionCount)
}

// IncrementInstructions adds to the count and reports whether the limit
// has been exceeded. A non-positive limit disables the check.
func (s *Sandbox) IncrementInstructions(n int64) bool {
	if s.instructionLimit <= 0 {
		return false
	}
	return atomic.AddInt64(&s.instructionCount, n) > s.instructionLimit
}

// Grant enables a capability.
func (s *Sandbox) Grant(cap Capability) {
	s.capabilities[cap] = true
}

// Revoke disables a capability. Modules already preloaded stay reachable
// until the state is rebuilt.
func (s *Sandbox) Revoke(cap Capability) {
	delete(s.capabilities, cap)
}

// HasCapability reports whether the capability is granted.
func (s *Sandbox) HasCapability(cap Capability) bool {
	return s.capabilities[cap]
}

// Capabilities returns all granted capabilities.
func (s *Sandbox) Capabilities() []Capability {
	caps := make([]Capability, 0, len(s.capabilities))
	for cap, granted := range s.capabilities {
		if granted {
			caps = append(caps, cap)
		}
	}
	return caps
}

// CheckCapability returns a CapabilityError if cap is not granted.
func (s *Sandbox) CheckCapability(cap Capability) error {
	if !s.capabilities[cap] {
		return &CapabilityError{Capability: cap}
	}
	return nil
}

// CapabilityError is returned when a pack uses a module whose capability
// its manifest never requested.
type CapabilityError struct {
	Capability Capability
}

func (e *CapabilityError) Error() string {
	return "capability not granted: " + string(e.Capability)
}
