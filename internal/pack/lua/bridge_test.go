package lua

import (
	"reflect"
	"testing"

	glua "github.com/yuin/gopher-lua"
)

func newBridge(t *testing.T) (*Bridge, *glua.LState) {
	t.Helper()
	L := glua.NewState()
	t.Cleanup(L.Close)
	return NewBridge(L), L
}

func TestToGoValueScalars(t *testing.T) {
	b, _ := newBridge(t)

	tests := []struct {
		name string
		in   glua.LValue
		want any
	}{
		{"bool", glua.LTrue, true},
		{"integer number", glua.LNumber(42), int64(42)},
		{"fractional number", glua.LNumber(1.5), 1.5},
		{"string", glua.LString("hello"), "hello"},
		{"nil", glua.LNil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.ToGoValue(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToGoValue(%v) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestToGoValueArrayTable(t *testing.T) {
	b, L := newBridge(t)

	tbl := L.NewTable()
	tbl.RawSetInt(1, glua.LString("a"))
	tbl.RawSetInt(2, glua.LString("b"))
	tbl.RawSetInt(3, glua.LString("c"))

	got := b.ToGoValue(tbl)
	want := []any{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGoValue(array table) = %v, want %v", got, want)
	}
}

func TestToGoValueMapTable(t *testing.T) {
	b, L := newBridge(t)

	tbl := L.NewTable()
	tbl.RawSetString("name", glua.LString("chess"))
	tbl.RawSetString("players", glua.LNumber(2))

	got := b.ToGoValue(tbl)
	want := map[string]any{"name": "chess", "players": int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGoValue(map table) = %v, want %v", got, want)
	}
}

func TestToGoValueSparseTableIsMap(t *testing.T) {
	b, L := newBridge(t)

	tbl := L.NewTable()
	tbl.RawSetInt(1, glua.LString("a"))
	tbl.RawSetInt(3, glua.LString("c"))

	got := b.ToGoValue(tbl)
	if _, ok := got.(map[string]any); !ok {
		t.Errorf("sparse table converted to %T, want map[string]any", got)
	}
}

func TestToGoValueCircularTable(t *testing.T) {
	b, L := newBridge(t)

	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	got := b.ToGoValue(tbl)
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("circular table converted to %T, want map", got)
	}
	if m["self"] != nil {
		t.Errorf("circular reference = %v, want nil", m["self"])
	}
}

func TestToLuaValueRoundTrip(t *testing.T) {
	b, _ := newBridge(t)

	tests := []struct {
		name string
		in   any
	}{
		{"bool", true},
		{"int64", int64(7)},
		{"float", 1.25},
		{"string", "hello"},
		{"slice", []any{int64(1), "two", true}},
		{"map", map[string]any{"k": "v", "n": int64(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.ToGoValue(b.ToLuaValue(tt.in))
			if !reflect.DeepEqual(got, tt.in) {
				t.Errorf("round trip = %v (%T), want %v (%T)", got, got, tt.in, tt.in)
			}
		})
	}
}

func TestToLuaValueRows(t *testing.T) {
	b, _ := newBridge(t)

	rows := []map[string]any{
		{"id": int64(1), "word": "alpha"},
		{"id": int64(2), "word": "beta"},
	}
	lv := b.ToLuaValue(rows)
	tbl, ok := lv.(*glua.LTable)
	if !ok {
		t.Fatalf("rows converted to %T, want *LTable", lv)
	}
	if tbl.Len() != 2 {
		t.Fatalf("rows table length = %d, want 2", tbl.Len())
	}
	first, ok := tbl.RawGetInt(1).(*glua.LTable)
	if !ok {
		t.Fatalf("first row is %T, want *LTable", tbl.RawGetInt(1))
	}
	if first.RawGetString("word").String() != "alpha" {
		t.Errorf("first row word = %v, want alpha", first.RawGetString("word"))
	}
}

func TestToLuaValueUsernameMap(t *testing.T) {
	b, _ := newBridge(t)

	lv := b.ToLuaValue(map[int64]string{1: "ada", 2: "grace"})
	tbl, ok := lv.(*glua.LTable)
	if !ok {
		t.Fatalf("username map converted to %T, want *LTable", lv)
	}
	if tbl.RawGet(glua.LNumber(1)).String() != "ada" {
		t.Errorf("map[1] = %v, want ada", tbl.RawGet(glua.LNumber(1)))
	}
}

func TestToLuaValueStructUsesJSONTags(t *testing.T) {
	b, _ := newBridge(t)

	in := struct {
		ID          int64  `json:"id"`
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
		hidden      string
	}{ID: 1, Username: "ada", DisplayName: "Ada Lovelace", hidden: "x"}

	lv := b.ToLuaValue(in)
	tbl, ok := lv.(*glua.LTable)
	if !ok {
		t.Fatalf("struct converted to %T, want *LTable", lv)
	}
	if tbl.RawGetString("username").String() != "ada" {
		t.Errorf("username field = %v, want ada", tbl.RawGetString("username"))
	}
	if tbl.RawGetString("displayName").String() != "Ada Lovelace" {
		t.Errorf("displayName field = %v, want Ada Lovelace", tbl.RawGetString("displayName"))
	}
	if tbl.RawGetString("hidden") != glua.LNil {
		t.Error("unexported field leaked into Lua table")
	}
}

func TestCallFunc(t *testing.T) {
	b, L := newBridge(t)

	if err := L.DoString(`function concat(a, b) return a .. "-" .. b end`); err != nil {
		t.Fatalf("define function: %v", err)
	}
	fn, ok := L.GetGlobal("concat").(*glua.LFunction)
	if !ok {
		t.Fatal("concat is not a function")
	}

	results, err := b.CallFunc(fn, "left", "right")
	if err != nil {
		t.Fatalf("CallFunc failed: %v", err)
	}
	if len(results) != 1 || results[0] != "left-right" {
		t.Errorf("CallFunc = %v, want [left-right]", results)
	}
}

func TestWrapGoFunc(t *testing.T) {
	b, L := newBridge(t)

	L.SetGlobal("double", L.NewFunction(b.WrapGoFunc(func(args []any) (any, error) {
		n, _ := args[0].(int64)
		return n * 2, nil
	})))

	if err := L.DoString(`result = double(21)`); err != nil {
		t.Fatalf("call wrapped func: %v", err)
	}
	if got := L.GetGlobal("result"); got.String() != "42" {
		t.Errorf("double(21) = %v, want 42", got)
	}
}

func TestGetTableHelpers(t *testing.T) {
	b, L := newBridge(t)

	if err := L.DoString(`
		hooks = {
			name = "chess",
			rounds = 3,
			ranked = true,
			setup = function() end,
			meta = { version = 1 },
		}
	`); err != nil {
		t.Fatalf("build table: %v", err)
	}
	tbl := L.GetGlobal("hooks").(*glua.LTable)

	if s, ok := b.GetTableString(tbl, "name"); !ok || s != "chess" {
		t.Errorf("GetTableString = %q, %v", s, ok)
	}
	if n, ok := b.GetTableInt(tbl, "rounds"); !ok || n != 3 {
		t.Errorf("GetTableInt = %d, %v", n, ok)
	}
	if v, ok := b.GetTableBool(tbl, "ranked"); !ok || !v {
		t.Errorf("GetTableBool = %v, %v", v, ok)
	}
	if _, ok := b.GetTableFunc(tbl, "setup"); !ok {
		t.Error("GetTableFunc did not find setup")
	}
	if _, ok := b.GetTableTable(tbl, "meta"); !ok {
		t.Error("GetTableTable did not find meta")
	}
	if _, ok := b.GetTableString(tbl, "missing"); ok {
		t.Error("GetTableString found a missing key")
	}
}
