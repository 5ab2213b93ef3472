package api

import (
	"math"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/parlor/internal/pack/security"
)

// UtilModule implements the parlor.util API module.
// This provides string, table, and score formatting helpers.
type UtilModule struct{}

// NewUtilModule creates a new util module.
func NewUtilModule() *UtilModule {
	return &UtilModule{}
}

// Name returns the module name.
func (m *UtilModule) Name() string {
	return "util"
}

// RequiredCapability returns the capability required for this module.
// Utility functions require no special capability.
func (m *UtilModule) RequiredCapability() security.Capability {
	return ""
}

// Register registers the module into the Lua state.
func (m *UtilModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	// String utilities
	L.SetField(mod, "split", L.NewFunction(m.split))
	L.SetField(mod, "trim", L.NewFunction(m.trim))
	L.SetField(mod, "starts_with", L.NewFunction(m.startsWith))
	L.SetField(mod, "ends_with", L.NewFunction(m.endsWith))
	L.SetField(mod, "contains", L.NewFunction(m.contains))
	L.SetField(mod, "join", L.NewFunction(m.join))

	// Table utilities
	L.SetField(mod, "keys", L.NewFunction(m.keys))
	L.SetField(mod, "values", L.NewFunction(m.values))
	L.SetField(mod, "merge", L.NewFunction(m.merge))
	L.SetField(mod, "len", L.NewFunction(m.tableLen))

	// Score helpers
	L.SetField(mod, "clamp", L.NewFunction(m.clamp))
	L.SetField(mod, "round", L.NewFunction(m.round))
	L.SetField(mod, "format_points", L.NewFunction(m.formatPoints))

	L.SetGlobal("_parlor_util", mod)
	return nil
}

// split(str, sep) -> {parts}
// Splits a string by separator.
func (m *UtilModule) split(L *lua.LState) int {
	str := L.CheckString(1)
	sep := L.CheckString(2)

	parts := strings.Split(str, sep)
	tbl := L.NewTable()
	for i, part := range parts {
		tbl.RawSetInt(i+1, lua.LString(part))
	}

	L.Push(tbl)
	return 1
}

// trim(str) -> string
// Trims whitespace from both ends of a string.
func (m *UtilModule) trim(L *lua.LState) int {
	str := L.CheckString(1)
	L.Push(lua.LString(strings.TrimSpace(str)))
	return 1
}

// starts_with(str, prefix) -> bool
func (m *UtilModule) startsWith(L *lua.LState) int {
	str := L.CheckString(1)
	prefix := L.CheckString(2)
	L.Push(lua.LBool(strings.HasPrefix(str, prefix)))
	return 1
}

// ends_with(str, suffix) -> bool
func (m *UtilModule) endsWith(L *lua.LState) int {
	str := L.CheckString(1)
	suffix := L.CheckString(2)
	L.Push(lua.LBool(strings.HasSuffix(str, suffix)))
	return 1
}

// contains(str, substr) -> bool
func (m *UtilModule) contains(L *lua.LState) int {
	str := L.CheckString(1)
	substr := L.CheckString(2)
	L.Push(lua.LBool(strings.Contains(str, substr)))
	return 1
}

// join(tbl, sep) -> string
// Joins table elements with a separator.
func (m *UtilModule) join(L *lua.LState) int {
	tbl := L.CheckTable(1)
	sep := L.OptString(2, "")

	var parts []string
	tbl.ForEach(func(_, value lua.LValue) {
		if str, ok := value.(lua.LString); ok {
			parts = append(parts, string(str))
		} else {
			parts = append(parts, value.String())
		}
	})

	L.Push(lua.LString(strings.Join(parts, sep)))
	return 1
}

// keys(tbl) -> {keys}
// Returns the keys of a table.
func (m *UtilModule) keys(L *lua.LState) int {
	tbl := L.CheckTable(1)

	result := L.NewTable()
	i := 1
	tbl.ForEach(func(key, _ lua.LValue) {
		result.RawSetInt(i, key)
		i++
	})

	L.Push(result)
	return 1
}

// values(tbl) -> {values}
// Returns the values of a table.
func (m *UtilModule) values(L *lua.LState) int {
	tbl := L.CheckTable(1)

	result := L.NewTable()
	i := 1
	tbl.ForEach(func(_, value lua.LValue) {
		result.RawSetInt(i, value)
		i++
	})

	L.Push(result)
	return 1
}

// merge(tbl1, tbl2, ...) -> merged
// Merges multiple tables into one. Later values override earlier ones.
func (m *UtilModule) merge(L *lua.LState) int {
	result := L.NewTable()

	for i := 1; i <= L.GetTop(); i++ {
		tbl := L.CheckTable(i)
		tbl.ForEach(func(key, value lua.LValue) {
			L.RawSet(result, key, value)
		})
	}

	L.Push(result)
	return 1
}

// len(tbl) -> number
// Returns the number of elements in a table, counting non-array keys.
func (m *UtilModule) tableLen(L *lua.LState) int {
	tbl := L.CheckTable(1)

	count := 0
	tbl.ForEach(func(_, _ lua.LValue) {
		count++
	})

	L.Push(lua.LNumber(count))
	return 1
}

// clamp(n, lo, hi) -> number
// Clamps a number into [lo, hi].
func (m *UtilModule) clamp(L *lua.LState) int {
	n := float64(L.CheckNumber(1))
	lo := float64(L.CheckNumber(2))
	hi := float64(L.CheckNumber(3))

	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	L.Push(lua.LNumber(n))
	return 1
}

// round(n) -> number
// Rounds to the nearest integer, halves away from zero.
func (m *UtilModule) round(L *lua.LState) int {
	n := float64(L.CheckNumber(1))
	L.Push(lua.LNumber(math.Round(n)))
	return 1
}

// format_points(n) -> string
// Formats a point total with thousands separators, e.g. 1234567 ->
// "1,234,567". Fractions are rounded first; scores are whole numbers.
func (m *UtilModule) formatPoints(L *lua.LState) int {
	n := int64(math.Round(float64(L.CheckNumber(1))))

	neg := n < 0
	if neg {
		n = -n
	}

	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}

	out := b.String()
	if neg {
		out = "-" + out
	}
	L.Push(lua.LString(out))
	return 1
}
