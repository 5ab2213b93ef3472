package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/parlor/internal/pack/security"
)

// LogModule implements the parlor.log API module. Messages flow into the
// host logger the Context carries, which the host has already scoped to
// the pack, so pack output is attributable in the shared stream.
type LogModule struct {
	ctx *Context
}

// NewLogModule creates a new log module.
func NewLogModule(ctx *Context) *LogModule {
	return &LogModule{ctx: ctx}
}

// Name returns the module name.
func (m *LogModule) Name() string {
	return "log"
}

// RequiredCapability returns the capability required for this module.
func (m *LogModule) RequiredCapability() security.Capability {
	return security.CapabilityLog
}

// Register registers the module into the Lua state.
func (m *LogModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(m.debug))
	L.SetField(mod, "info", L.NewFunction(m.info))
	L.SetField(mod, "warn", L.NewFunction(m.warn))
	L.SetField(mod, "error", L.NewFunction(m.logError))

	L.SetGlobal("_parlor_log", mod)
	return nil
}

// debug(msg)
func (m *LogModule) debug(L *lua.LState) int {
	msg := m.message(L)
	if m.ctx.Log != nil {
		m.ctx.Log.Debug(msg)
	}
	return 0
}

// info(msg)
func (m *LogModule) info(L *lua.LState) int {
	msg := m.message(L)
	if m.ctx.Log != nil {
		m.ctx.Log.Info(msg)
	}
	return 0
}

// warn(msg)
func (m *LogModule) warn(L *lua.LState) int {
	msg := m.message(L)
	if m.ctx.Log != nil {
		m.ctx.Log.Warn(msg)
	}
	return 0
}

// error(msg)
func (m *LogModule) logError(L *lua.LState) int {
	msg := m.message(L)
	if m.ctx.Log != nil {
		m.ctx.Log.Error(msg)
	}
	return 0
}

// message reads the log message and charges it against the pack's log
// output ceiling. Pack text is never treated as a format string.
func (m *LogModule) message(L *lua.LState) string {
	msg := L.CheckString(1)
	if m.ctx.Monitor != nil && m.ctx.Monitor.AddLogOutput(int64(len(msg))) {
		L.RaiseError("log: output limit exceeded")
	}
	return msg
}
