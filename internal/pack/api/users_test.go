package api

import (
	"context"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/pack/security"
)

// fakeUsers is an in-memory directory facade for module tests.
type fakeUsers struct {
	users map[int64]sandbox.User
}

func (f *fakeUsers) GetUser(_ context.Context, id any) (*sandbox.User, error) {
	n, ok := id.(int64)
	if !ok {
		return nil, nil
	}
	u, ok := f.users[n]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeUsers) GetUsers(_ context.Context, ids []any) ([]sandbox.User, error) {
	var out []sandbox.User
	for _, id := range ids {
		if u, err := f.GetUser(nil, id); err == nil && u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsers) GetUsernameMap(_ context.Context, ids []any) (map[int64]string, error) {
	out := make(map[int64]string)
	for _, id := range ids {
		if u, err := f.GetUser(nil, id); err == nil && u != nil {
			name := u.DisplayName
			if name == "" {
				name = u.Username
			}
			out[u.ID] = name
		}
	}
	return out, nil
}

func (f *fakeUsers) UserExists(_ context.Context, id any) (bool, error) {
	u, err := f.GetUser(nil, id)
	return u != nil, err
}

func setupUsersTest(t *testing.T, monitor *security.ResourceMonitor) *lua.LState {
	t.Helper()

	facade := &fakeUsers{users: map[int64]sandbox.User{
		1: {ID: 1, Username: "ada", DisplayName: "Ada L."},
		2: {ID: 2, Username: "grace", DisplayName: ""},
	}}

	mod := NewUsersModule(&Context{
		Users:   facade,
		Monitor: monitor,
	})

	L := lua.NewState()
	t.Cleanup(func() { L.Close() })

	if err := mod.Register(L); err != nil {
		t.Fatalf("Register error = %v", err)
	}
	return L
}

func TestUsersModuleName(t *testing.T) {
	mod := NewUsersModule(&Context{})
	if mod.Name() != "users" {
		t.Errorf("Name() = %q, want %q", mod.Name(), "users")
	}
	if mod.RequiredCapability() != security.CapabilityUsersRead {
		t.Errorf("RequiredCapability() = %q, want %q", mod.RequiredCapability(), security.CapabilityUsersRead)
	}
}

func TestUsersGet(t *testing.T) {
	L := setupUsersTest(t, nil)

	err := L.DoString(`
		local u = _parlor_users.get(1)
		id = u.id
		username = u.username
		display_name = u.display_name

		missing = _parlor_users.get(99)
		missing_is_nil = (missing == nil)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if n := L.GetGlobal("id"); n.(lua.LNumber) != 1 {
		t.Errorf("user.id = %v, want 1", n)
	}
	if s := L.GetGlobal("username"); s.String() != "ada" {
		t.Errorf("user.username = %q, want %q", s.String(), "ada")
	}
	if s := L.GetGlobal("display_name"); s.String() != "Ada L." {
		t.Errorf("user.display_name = %q, want %q", s.String(), "Ada L.")
	}
	if b := L.GetGlobal("missing_is_nil"); b != lua.LTrue {
		t.Error("unknown id should yield nil, not an error")
	}
}

func TestUsersGetMany(t *testing.T) {
	L := setupUsersTest(t, nil)

	err := L.DoString(`
		local users = _parlor_users.get_many({1, 99, 2})
		count = #users
		first = users[1].username
		second = users[2].username
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if n := L.GetGlobal("count"); n.(lua.LNumber) != 2 {
		t.Errorf("get_many returned %v users, want 2", n)
	}
	if s := L.GetGlobal("first"); s.String() != "ada" {
		t.Errorf("users[1].username = %q, want %q", s.String(), "ada")
	}
	if s := L.GetGlobal("second"); s.String() != "grace" {
		t.Errorf("users[2].username = %q, want %q", s.String(), "grace")
	}
}

func TestUsersUsernameMap(t *testing.T) {
	L := setupUsersTest(t, nil)

	err := L.DoString(`
		local names = _parlor_users.username_map({1, 2, 99})
		name_one = names[1]
		name_two = names[2]
		name_missing = names[99]
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if s := L.GetGlobal("name_one"); s.String() != "Ada L." {
		t.Errorf("names[1] = %q, want %q", s.String(), "Ada L.")
	}
	// Empty display name falls back to the username.
	if s := L.GetGlobal("name_two"); s.String() != "grace" {
		t.Errorf("names[2] = %q, want %q", s.String(), "grace")
	}
	if v := L.GetGlobal("name_missing"); v != lua.LNil {
		t.Errorf("names[99] = %v, want nil", v)
	}
}

func TestUsersExists(t *testing.T) {
	L := setupUsersTest(t, nil)

	err := L.DoString(`
		known = _parlor_users.exists(1)
		unknown = _parlor_users.exists(99)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if b := L.GetGlobal("known"); b != lua.LTrue {
		t.Error("exists(1) = false, want true")
	}
	if b := L.GetGlobal("unknown"); b != lua.LFalse {
		t.Error("exists(99) = true, want false")
	}
}

func TestUsersRateLimit(t *testing.T) {
	monitor := security.NewResourceMonitor(security.ResourceLimits{UserLookupsPerSecond: 2})
	L := setupUsersTest(t, monitor)

	err := L.DoString(`
		_parlor_users.get(1)
		_parlor_users.get(2)

		ok, errmsg = pcall(function() _parlor_users.get(1) end)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if ok := L.GetGlobal("ok"); ok != lua.LFalse {
		t.Fatal("third lookup should be rate limited")
	}
	if msg := L.GetGlobal("errmsg").String(); !strings.Contains(msg, "rate limit") {
		t.Errorf("error message = %q, should mention the rate limit", msg)
	}
}

func TestUsersWithoutProvider(t *testing.T) {
	mod := NewUsersModule(&Context{})
	L := lua.NewState()
	defer L.Close()
	if err := mod.Register(L); err != nil {
		t.Fatalf("Register error = %v", err)
	}

	err := L.DoString(`
		got_nil = (_parlor_users.get(1) == nil)
		many = #_parlor_users.get_many({1})
		got_false = (_parlor_users.exists(1) == false)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if b := L.GetGlobal("got_nil"); b != lua.LTrue {
		t.Error("get without a provider should return nil")
	}
	if n := L.GetGlobal("many"); n.(lua.LNumber) != 0 {
		t.Errorf("get_many without a provider returned %v users, want 0", n)
	}
	if b := L.GetGlobal("got_false"); b != lua.LTrue {
		t.Error("exists without a provider should return false")
	}
}
