package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/parlor/internal/pack/security"
)

// AuthModule implements the parlor.auth API module. It answers exactly one
// question: who is the current hook running for. The answer is the same
// minimized member shape the users module returns, limited to the session
// owner, which is why no capability is required.
type AuthModule struct {
	ctx *Context
}

// NewAuthModule creates a new auth module.
func NewAuthModule(ctx *Context) *AuthModule {
	return &AuthModule{ctx: ctx}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// RequiredCapability returns the capability required for this module.
// The session owner's own identity requires none.
func (m *AuthModule) RequiredCapability() security.Capability {
	return ""
}

// Register registers the module into the Lua state.
func (m *AuthModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "current_user", L.NewFunction(m.currentUser))

	L.SetGlobal("_parlor_auth", mod)
	return nil
}

// current_user() -> user or nil
// Returns the member the current execution runs for, or nil outside a
// session.
func (m *AuthModule) currentUser(L *lua.LState) int {
	if m.ctx.Auth == nil {
		L.Push(lua.LNil)
		return 1
	}

	u, err := m.ctx.Auth.CurrentUser(callContext(L))
	if err != nil {
		L.RaiseError("current_user: %v", err)
		return 0
	}
	if u == nil {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(userTable(L, *u))
	return 1
}
