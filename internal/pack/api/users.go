package api

import (
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/parlor/internal/pack/lua"
	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/pack/security"
)

// UsersModule implements the parlor.users API module. It surfaces only
// the minimized member shape (id, username, display_name) that the
// directory facade projects; nothing else ever crosses here.
type UsersModule struct {
	ctx    *Context
	bridge *plua.Bridge
}

// NewUsersModule creates a new users module.
func NewUsersModule(ctx *Context) *UsersModule {
	return &UsersModule{ctx: ctx}
}

// Name returns the module name.
func (m *UsersModule) Name() string {
	return "users"
}

// RequiredCapability returns the capability required for this module.
func (m *UsersModule) RequiredCapability() security.Capability {
	return security.CapabilityUsersRead
}

// Register registers the module into the Lua state.
func (m *UsersModule) Register(L *lua.LState) error {
	m.bridge = plua.NewBridge(L)

	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "get_many", L.NewFunction(m.getMany))
	L.SetField(mod, "username_map", L.NewFunction(m.usernameMap))
	L.SetField(mod, "exists", L.NewFunction(m.exists))

	L.SetGlobal("_parlor_users", mod)
	return nil
}

// get(id) -> user or nil
// Looks up one member; unknown or malformed ids yield nil, never an error.
func (m *UsersModule) get(L *lua.LState) int {
	id := m.bridge.ToGoValue(L.Get(1))
	if m.ctx.Users == nil {
		L.Push(lua.LNil)
		return 1
	}
	m.allowLookup(L)

	u, err := m.ctx.Users.GetUser(callContext(L), id)
	if err != nil {
		L.RaiseError("get: %v", err)
		return 0
	}
	if u == nil {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(userTable(L, *u))
	return 1
}

// get_many(ids) -> {users}
// Looks up several members at once; absent ids are simply missing from
// the result.
func (m *UsersModule) getMany(L *lua.LState) int {
	ids := m.idList(L, 1)
	if m.ctx.Users == nil {
		L.Push(L.NewTable())
		return 1
	}
	m.allowLookup(L)

	users, err := m.ctx.Users.GetUsers(callContext(L), ids)
	if err != nil {
		L.RaiseError("get_many: %v", err)
		return 0
	}

	tbl := L.NewTable()
	for i, u := range users {
		tbl.RawSetInt(i+1, userTable(L, u))
	}
	L.Push(tbl)
	return 1
}

// username_map(ids) -> {[id] = username}
// Returns display-ready names keyed by member id, for score tables and
// lobby lists.
func (m *UsersModule) usernameMap(L *lua.LState) int {
	ids := m.idList(L, 1)
	if m.ctx.Users == nil {
		L.Push(L.NewTable())
		return 1
	}
	m.allowLookup(L)

	names, err := m.ctx.Users.GetUsernameMap(callContext(L), ids)
	if err != nil {
		L.RaiseError("username_map: %v", err)
		return 0
	}

	L.Push(m.bridge.ToLuaValue(names))
	return 1
}

// exists(id) -> bool
func (m *UsersModule) exists(L *lua.LState) int {
	id := m.bridge.ToGoValue(L.Get(1))
	if m.ctx.Users == nil {
		L.Push(lua.LFalse)
		return 1
	}
	m.allowLookup(L)

	ok, err := m.ctx.Users.UserExists(callContext(L), id)
	if err != nil {
		L.RaiseError("exists: %v", err)
		return 0
	}

	L.Push(lua.LBool(ok))
	return 1
}

// idList reads the id table argument into facade-ready values.
func (m *UsersModule) idList(L *lua.LState, arg int) []any {
	tbl := L.OptTable(arg, nil)
	if tbl == nil {
		return nil
	}
	ids := make([]any, 0, tbl.Len())
	tbl.ForEach(func(_, v lua.LValue) {
		ids = append(ids, m.bridge.ToGoValue(v))
	})
	return ids
}

// allowLookup consults the pack's rate limiter before hitting the
// directory facade.
func (m *UsersModule) allowLookup(L *lua.LState) {
	if m.ctx.Monitor != nil && !m.ctx.Monitor.TryUserLookup() {
		L.RaiseError("users: rate limit exceeded")
	}
}

// userTable builds the Lua view of one member.
func userTable(L *lua.LState, u sandbox.User) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LNumber(u.ID))
	L.SetField(tbl, "username", lua.LString(u.Username))
	L.SetField(tbl, "display_name", lua.LString(u.DisplayName))
	return tbl
}
