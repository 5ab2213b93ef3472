package api

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/parlor/internal/pack/lua"
	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/pack/security"
)

// StorageModule implements the parlor.storage API module. Every statement
// runs against the pack's own isolated artifact; there is no way to name
// another pack's data through this surface.
type StorageModule struct {
	ctx    *Context
	bridge *plua.Bridge
}

// NewStorageModule creates a new storage module.
func NewStorageModule(ctx *Context) *StorageModule {
	return &StorageModule{ctx: ctx}
}

// Name returns the module name.
func (m *StorageModule) Name() string {
	return "storage"
}

// RequiredCapability returns the capability required for this module.
func (m *StorageModule) RequiredCapability() security.Capability {
	return security.CapabilityStorage
}

// Register registers the module into the Lua state.
func (m *StorageModule) Register(L *lua.LState) error {
	m.bridge = plua.NewBridge(L)

	mod := L.NewTable()
	L.SetField(mod, "run", L.NewFunction(m.run))
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "all", L.NewFunction(m.all))
	L.SetField(mod, "exec", L.NewFunction(m.exec))

	L.SetGlobal("_parlor_storage", mod)
	return nil
}

// run(stmt, ...) -> {rows_affected, last_insert_id}
// Executes a mutating statement with bound parameters.
func (m *StorageModule) run(L *lua.LState) int {
	stmt := L.CheckString(1)
	if m.ctx.Storage == nil {
		L.RaiseError("run: storage not available")
		return 0
	}
	m.allowStorageOp(L)

	res, err := m.ctx.Storage.Run(callContext(L), stmt, m.statementArgs(L, 2)...)
	if err != nil {
		m.raiseStorageError(L, "run", err)
		return 0
	}

	tbl := L.NewTable()
	L.SetField(tbl, "rows_affected", lua.LNumber(res.RowsAffected))
	L.SetField(tbl, "last_insert_id", lua.LNumber(res.LastInsertID))
	L.Push(tbl)
	return 1
}

// get(query, ...) -> row or nil
// Returns the first matching row as a table keyed by column name.
func (m *StorageModule) get(L *lua.LState) int {
	query := L.CheckString(1)
	if m.ctx.Storage == nil {
		L.RaiseError("get: storage not available")
		return 0
	}
	m.allowStorageOp(L)

	row, err := m.ctx.Storage.Get(callContext(L), query, m.statementArgs(L, 2)...)
	if err != nil {
		L.RaiseError("get: %v", err)
		return 0
	}
	if row == nil {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(m.bridge.ToLuaValue(row))
	return 1
}

// all(query, ...) -> {rows}
// Returns every matching row; an empty result is an empty table.
func (m *StorageModule) all(L *lua.LState) int {
	query := L.CheckString(1)
	if m.ctx.Storage == nil {
		L.RaiseError("all: storage not available")
		return 0
	}
	m.allowStorageOp(L)

	rows, err := m.ctx.Storage.All(callContext(L), query, m.statementArgs(L, 2)...)
	if err != nil {
		L.RaiseError("all: %v", err)
		return 0
	}

	L.Push(m.bridge.ToLuaValue(rows))
	return 1
}

// exec(script) -> true
// Executes a multi-statement script, typically schema setup.
func (m *StorageModule) exec(L *lua.LState) int {
	script := L.CheckString(1)
	if m.ctx.Storage == nil {
		L.RaiseError("exec: storage not available")
		return 0
	}
	m.allowStorageOp(L)

	if err := m.ctx.Storage.Exec(callContext(L), script); err != nil {
		m.raiseStorageError(L, "exec", err)
		return 0
	}

	L.Push(lua.LTrue)
	return 1
}

// statementArgs collects the variadic bind parameters after the statement.
func (m *StorageModule) statementArgs(L *lua.LState, from int) []any {
	top := L.GetTop()
	if top < from {
		return nil
	}
	args := make([]any, 0, top-from+1)
	for i := from; i <= top; i++ {
		args = append(args, m.bridge.ToGoValue(L.Get(i)))
	}
	return args
}

// allowStorageOp consults the pack's rate limiter before a statement.
func (m *StorageModule) allowStorageOp(L *lua.LState) {
	if m.ctx.Monitor != nil && !m.ctx.Monitor.TryStorageOp() {
		L.RaiseError("storage: rate limit exceeded")
	}
}

// raiseStorageError surfaces a write failure to Lua. Quota refusals are
// also logged host-side so operators see a full pack even when the pack
// swallows the error.
func (m *StorageModule) raiseStorageError(L *lua.LState, op string, err error) {
	var qerr *sandbox.QuotaError
	if errors.As(err, &qerr) && m.ctx.Log != nil {
		m.ctx.Log.Warn("storage quota refused a write: %v", err)
	}
	L.RaiseError("%s: %v", op, err)
}
