package lua

import (
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Default limits for a pack interpreter.
const (
	DefaultMemoryLimit      = 10 * 1024 * 1024 // advisory, not enforced by gopher-lua
	DefaultExecutionTimeout = 5 * time.Second  // best-effort, checked at call boundaries
	DefaultInstructionLimit = 10_000_000
)

// State is one sandboxed Lua interpreter for one pack.
//
// gopher-lua's LState is not goroutine-safe. The mutex here serializes
// every method that touches the interpreter, so concurrent hook calls
// queue rather than corrupt the state.
type State struct {
	L *lua.LState

	mu sync.Mutex

	memoryLimit      int64 // advisory only
	executionTimeout time.Duration
	instructionLimit int64

	sandbox *Sandbox

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithMemoryLimit records a memory ceiling for the interpreter. gopher-lua
// cannot enforce it; the value is advisory.
func WithMemoryLimit(bytes int64) StateOption {
	return func(s *State) {
		s.memoryLimit = bytes
	}
}

// WithExecutionTimeout sets the per-call execution budget. Lua code that
// never yields cannot be interrupted mid-run, so this is best-effort.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// WithInstructionLimit caps instructions per execution.
func WithInstructionLimit(limit int64) StateOption {
	return func(s *State) {
		s.instructionLimit = limit
	}
}

// NewState creates a sandboxed interpreter: safe libraries only, loaders
// stripped, require whitelisted.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		memoryLimit:      DefaultMemoryLimit,
		executionTimeout: DefaultExecutionTimeout,
		instructionLimit: DefaultInstructionLimit,
	}
	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	state.L = L

	openSafeLibraries(L)

	state.sandbox = NewSandbox(L, state.instructionLimit)
	state.sandbox.Install()

	return state, nil
}

// openSafeLibraries opens only the libraries a game script legitimately
// needs. io, os, and debug stay shut; there is no capability that opens
// them. The package library must open first so require and the preload
// table exist; the sandbox then clears its search paths so nothing loads
// from disk.
func openSafeLibraries(L *lua.LState) {
	lua.OpenPackage(L)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// DoFile executes a Lua file synchronously.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	s.sandbox.ResetInstructionCount()
	return s.doWithRecovery(func() error {
		return s.L.DoFile(path)
	})
}

// DoString executes Lua source synchronously.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	s.sandbox.ResetInstructionCount()
	return s.doWithRecovery(func() error {
		return s.L.DoString(code)
	})
}

func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Call invokes a global Lua function. It returns an empty slice, not nil,
// when the function returns no values.
func (s *State) Call(fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	s.sandbox.ResetInstructionCount()

	fnVal := s.L.GetGlobal(fn)
	if fnVal == lua.LNil {
		return nil, fmt.Errorf("function %q not found", fn)
	}
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%q is not a function (got %s)", fn, fnVal.Type())
	}

	stackTop := s.L.GetTop()
	s.L.Push(fnVal)
	for _, arg := range args {
		s.L.Push(arg)
	}

	var callErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("lua panic: %v", r)
			}
		}()
		callErr = s.L.PCall(len(args), lua.MultRet, nil)
	}()
	if callErr != nil {
		return nil, callErr
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)
	return results, nil
}

// GetGlobal returns a global value, or LNil on a closed state.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// SetGlobal sets a global value. No-op on a closed state.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// RegisterFunc installs a Go function as a global.
func (s *State) RegisterFunc(name string, fn lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.L.NewFunction(fn))
}

// RegisterModule installs a table of Go functions as a global module.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	s.L.SetGlobal(name, mod)
}

// LuaState exposes the raw interpreter. It bypasses the mutex and the
// sandbox bookkeeping; callers own the synchronization.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// Sandbox returns the capability sandbox shared with this state.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed reports whether Close has run.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the interpreter. Later calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
