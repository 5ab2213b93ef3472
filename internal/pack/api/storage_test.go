package api

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/pack/security"
)

// setupStorageTest wires a real sandbox context into the storage module.
func setupStorageTest(t *testing.T, quota sandbox.QuotaConfig, monitor *security.ResourceMonitor) *lua.LState {
	t.Helper()

	mgr := sandbox.NewStorageManager(t.TempDir())
	t.Cleanup(func() { mgr.CloseAll() })

	sctx := sandbox.NewContext("api-test-pack", nil, mgr, quota)
	t.Cleanup(func() { sctx.Close() })

	mod := NewStorageModule(&Context{
		Storage: sctx.Storage(),
		Monitor: monitor,
	})

	L := lua.NewState()
	t.Cleanup(func() { L.Close() })

	if err := mod.Register(L); err != nil {
		t.Fatalf("Register error = %v", err)
	}
	return L
}

func TestStorageModuleName(t *testing.T) {
	mod := NewStorageModule(&Context{})
	if mod.Name() != "storage" {
		t.Errorf("Name() = %q, want %q", mod.Name(), "storage")
	}
	if mod.RequiredCapability() != security.CapabilityStorage {
		t.Errorf("RequiredCapability() = %q, want %q", mod.RequiredCapability(), security.CapabilityStorage)
	}
}

func TestStorageRunAndGet(t *testing.T) {
	L := setupStorageTest(t, sandbox.QuotaConfig{}, nil)

	err := L.DoString(`
		_parlor_storage.exec([[
			CREATE TABLE scores (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				player TEXT NOT NULL,
				points INTEGER NOT NULL
			);
		]])

		local res = _parlor_storage.run("INSERT INTO scores(player, points) VALUES (?, ?)", "ada", 100)
		rows_affected = res.rows_affected
		last_id = res.last_insert_id

		local row = _parlor_storage.get("SELECT player, points FROM scores WHERE id = ?", last_id)
		got_player = row.player
		got_points = row.points
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if n := L.GetGlobal("rows_affected"); n.(lua.LNumber) != 1 {
		t.Errorf("rows_affected = %v, want 1", n)
	}
	if n := L.GetGlobal("last_id"); n.(lua.LNumber) != 1 {
		t.Errorf("last_insert_id = %v, want 1", n)
	}
	if s := L.GetGlobal("got_player"); s.String() != "ada" {
		t.Errorf("row.player = %q, want %q", s.String(), "ada")
	}
	if n := L.GetGlobal("got_points"); n.(lua.LNumber) != 100 {
		t.Errorf("row.points = %v, want 100", n)
	}
}

func TestStorageGetMissingRowIsNil(t *testing.T) {
	L := setupStorageTest(t, sandbox.QuotaConfig{}, nil)

	err := L.DoString(`
		_parlor_storage.exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
		row = _parlor_storage.get("SELECT * FROM t WHERE id = ?", 42)
		is_nil = (row == nil)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if b := L.GetGlobal("is_nil"); b != lua.LTrue {
		t.Error("get on a missing row should return nil")
	}
}

func TestStorageAll(t *testing.T) {
	L := setupStorageTest(t, sandbox.QuotaConfig{}, nil)

	err := L.DoString(`
		_parlor_storage.exec("CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")
		_parlor_storage.run("INSERT INTO t(name) VALUES (?)", "one")
		_parlor_storage.run("INSERT INTO t(name) VALUES (?)", "two")

		local rows = _parlor_storage.all("SELECT name FROM t ORDER BY id")
		count = #rows
		first = rows[1].name
		second = rows[2].name

		local empty = _parlor_storage.all("SELECT name FROM t WHERE id > 99")
		empty_count = #empty
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if n := L.GetGlobal("count"); n.(lua.LNumber) != 2 {
		t.Errorf("all returned %v rows, want 2", n)
	}
	if s := L.GetGlobal("first"); s.String() != "one" {
		t.Errorf("rows[1].name = %q, want %q", s.String(), "one")
	}
	if s := L.GetGlobal("second"); s.String() != "two" {
		t.Errorf("rows[2].name = %q, want %q", s.String(), "two")
	}
	if n := L.GetGlobal("empty_count"); n.(lua.LNumber) != 0 {
		t.Errorf("all on empty result returned %v rows, want 0", n)
	}
}

func TestStorageSyntaxErrorRaises(t *testing.T) {
	L := setupStorageTest(t, sandbox.QuotaConfig{}, nil)

	err := L.DoString(`
		ok, errmsg = pcall(function()
			_parlor_storage.run("NOT REAL SQL")
		end)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if ok := L.GetGlobal("ok"); ok != lua.LFalse {
		t.Fatal("run with invalid SQL should raise")
	}
	if msg := L.GetGlobal("errmsg").String(); !strings.Contains(msg, "run:") {
		t.Errorf("error message = %q, should carry the run prefix", msg)
	}
}

func TestStorageQuotaErrorReachesLua(t *testing.T) {
	// One byte of budget: the first statement lands while the artifact is
	// still empty, the second finds it over the ceiling.
	L := setupStorageTest(t, sandbox.QuotaConfig{MaxSizeBytes: 1}, nil)

	err := L.DoString(`
		_parlor_storage.exec("CREATE TABLE t (id INTEGER PRIMARY KEY, blob TEXT)")

		ok, errmsg = pcall(function()
			_parlor_storage.run("INSERT INTO t(blob) VALUES (?)", "payload")
		end)

		-- Reads still work after a refused write
		rows = _parlor_storage.all("SELECT * FROM t")
		read_count = #rows
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if ok := L.GetGlobal("ok"); ok != lua.LFalse {
		t.Fatal("over-quota write should raise")
	}
	if msg := L.GetGlobal("errmsg").String(); !strings.Contains(msg, "storage quota exceeded") {
		t.Errorf("error message = %q, should carry the quota text", msg)
	}
	if n := L.GetGlobal("read_count"); n.(lua.LNumber) != 0 {
		t.Errorf("read after refusal returned %v rows, want 0", n)
	}
}

func TestStorageRateLimit(t *testing.T) {
	monitor := security.NewResourceMonitor(security.ResourceLimits{StorageOpsPerSecond: 2})
	L := setupStorageTest(t, sandbox.QuotaConfig{}, monitor)

	err := L.DoString(`
		_parlor_storage.exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
		_parlor_storage.run("INSERT INTO t DEFAULT VALUES")

		ok, errmsg = pcall(function()
			_parlor_storage.run("INSERT INTO t DEFAULT VALUES")
		end)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if ok := L.GetGlobal("ok"); ok != lua.LFalse {
		t.Fatal("third statement should be rate limited")
	}
	if msg := L.GetGlobal("errmsg").String(); !strings.Contains(msg, "rate limit") {
		t.Errorf("error message = %q, should mention the rate limit", msg)
	}
	if !monitor.IsExceeded() {
		t.Error("monitor should record the exceeded state")
	}
}

func TestStorageWithoutProviderRaises(t *testing.T) {
	mod := NewStorageModule(&Context{})
	L := lua.NewState()
	defer L.Close()
	if err := mod.Register(L); err != nil {
		t.Fatalf("Register error = %v", err)
	}

	err := L.DoString(`
		ok = pcall(function() _parlor_storage.run("SELECT 1") end)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}
	if ok := L.GetGlobal("ok"); ok != lua.LFalse {
		t.Error("storage call without a provider should raise")
	}
}
