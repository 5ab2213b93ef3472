package api

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func setupUtilTest(t *testing.T) *lua.LState {
	t.Helper()

	mod := NewUtilModule()

	L := lua.NewState()
	t.Cleanup(func() { L.Close() })

	if err := mod.Register(L); err != nil {
		t.Fatalf("Register error = %v", err)
	}
	return L
}

func TestUtilModuleName(t *testing.T) {
	mod := NewUtilModule()
	if mod.Name() != "util" {
		t.Errorf("Name() = %q, want %q", mod.Name(), "util")
	}
	if mod.RequiredCapability() != "" {
		t.Errorf("RequiredCapability() = %q, want none", mod.RequiredCapability())
	}
}

func TestUtilSplit(t *testing.T) {
	L := setupUtilTest(t)

	err := L.DoString(`
		local parts = _parlor_util.split("a,b,c", ",")
		count = #parts
		first = parts[1]
		last = parts[3]
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if n := L.GetGlobal("count"); n.(lua.LNumber) != 3 {
		t.Errorf("split returned %v parts, want 3", n)
	}
	if s := L.GetGlobal("first"); s.String() != "a" {
		t.Errorf("parts[1] = %q, want %q", s.String(), "a")
	}
	if s := L.GetGlobal("last"); s.String() != "c" {
		t.Errorf("parts[3] = %q, want %q", s.String(), "c")
	}
}

func TestUtilTrim(t *testing.T) {
	L := setupUtilTest(t)

	err := L.DoString(`trimmed = _parlor_util.trim("  hello  ")`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if s := L.GetGlobal("trimmed"); s.String() != "hello" {
		t.Errorf("trim = %q, want %q", s.String(), "hello")
	}
}

func TestUtilStringPredicates(t *testing.T) {
	L := setupUtilTest(t)

	err := L.DoString(`
		sw = _parlor_util.starts_with("scoreboard", "score")
		ew = _parlor_util.ends_with("scoreboard", "board")
		ct = _parlor_util.contains("scoreboard", "reb")
		no = _parlor_util.contains("scoreboard", "xyz")
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	for _, tt := range []struct {
		global string
		want   lua.LValue
	}{
		{"sw", lua.LTrue},
		{"ew", lua.LTrue},
		{"ct", lua.LTrue},
		{"no", lua.LFalse},
	} {
		if got := L.GetGlobal(tt.global); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.global, got, tt.want)
		}
	}
}

func TestUtilJoin(t *testing.T) {
	L := setupUtilTest(t)

	err := L.DoString(`joined = _parlor_util.join({"a", "b", "c"}, "-")`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if s := L.GetGlobal("joined"); s.String() != "a-b-c" {
		t.Errorf("join = %q, want %q", s.String(), "a-b-c")
	}
}

func TestUtilTableHelpers(t *testing.T) {
	L := setupUtilTest(t)

	err := L.DoString(`
		key_count = #_parlor_util.keys({a = 1, b = 2})
		value_count = #_parlor_util.values({a = 1, b = 2, c = 3})

		local merged = _parlor_util.merge({a = 1, b = 2}, {b = 20, c = 30})
		merged_a = merged.a
		merged_b = merged.b
		merged_c = merged.c

		map_len = _parlor_util.len({x = 1, y = 2, z = 3})
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if n := L.GetGlobal("key_count"); n.(lua.LNumber) != 2 {
		t.Errorf("keys count = %v, want 2", n)
	}
	if n := L.GetGlobal("value_count"); n.(lua.LNumber) != 3 {
		t.Errorf("values count = %v, want 3", n)
	}
	if n := L.GetGlobal("merged_a"); n.(lua.LNumber) != 1 {
		t.Errorf("merged.a = %v, want 1", n)
	}
	// Later tables win on key collisions.
	if n := L.GetGlobal("merged_b"); n.(lua.LNumber) != 20 {
		t.Errorf("merged.b = %v, want 20", n)
	}
	if n := L.GetGlobal("merged_c"); n.(lua.LNumber) != 30 {
		t.Errorf("merged.c = %v, want 30", n)
	}
	if n := L.GetGlobal("map_len"); n.(lua.LNumber) != 3 {
		t.Errorf("len = %v, want 3", n)
	}
}

func TestUtilClamp(t *testing.T) {
	L := setupUtilTest(t)

	err := L.DoString(`
		below = _parlor_util.clamp(-5, 0, 10)
		inside = _parlor_util.clamp(7, 0, 10)
		above = _parlor_util.clamp(15, 0, 10)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if n := L.GetGlobal("below"); n.(lua.LNumber) != 0 {
		t.Errorf("clamp(-5, 0, 10) = %v, want 0", n)
	}
	if n := L.GetGlobal("inside"); n.(lua.LNumber) != 7 {
		t.Errorf("clamp(7, 0, 10) = %v, want 7", n)
	}
	if n := L.GetGlobal("above"); n.(lua.LNumber) != 10 {
		t.Errorf("clamp(15, 0, 10) = %v, want 10", n)
	}
}

func TestUtilRound(t *testing.T) {
	L := setupUtilTest(t)

	err := L.DoString(`
		down = _parlor_util.round(2.4)
		up = _parlor_util.round(2.5)
		neg = _parlor_util.round(-2.5)
	`)
	if err != nil {
		t.Fatalf("DoString error = %v", err)
	}

	if n := L.GetGlobal("down"); n.(lua.LNumber) != 2 {
		t.Errorf("round(2.4) = %v, want 2", n)
	}
	if n := L.GetGlobal("up"); n.(lua.LNumber) != 3 {
		t.Errorf("round(2.5) = %v, want 3", n)
	}
	if n := L.GetGlobal("neg"); n.(lua.LNumber) != -3 {
		t.Errorf("round(-2.5) = %v, want -3", n)
	}
}

func TestUtilFormatPoints(t *testing.T) {
	L := setupUtilTest(t)

	tests := []struct {
		input string
		want  string
	}{
		{"0", "0"},
		{"7", "7"},
		{"999", "999"},
		{"1000", "1,000"},
		{"1234567", "1,234,567"},
		{"-45678", "-45,678"},
		{"1234.6", "1,235"},
	}

	for _, tt := range tests {
		if err := L.DoString(`got = _parlor_util.format_points(` + tt.input + `)`); err != nil {
			t.Fatalf("DoString(%s) error = %v", tt.input, err)
		}
		if s := L.GetGlobal("got"); s.String() != tt.want {
			t.Errorf("format_points(%s) = %q, want %q", tt.input, s.String(), tt.want)
		}
	}
}
