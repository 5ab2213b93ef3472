package lua

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Bridge converts values between Go and Lua. Storage rows cross it on the
// way into scripts, hook arguments on the way in, and hook results on the
// way out.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value. Tables become either
// []any (contiguous 1-based integer keys) or map[string]any; circular
// references collapse to nil instead of recursing forever.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGoValue(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGoValue(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return b.tableToGo(v, visited)
	case *lua.LNilType:
		return nil
	case *lua.LFunction:
		return nil
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func (b *Bridge) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	// Array shape: contiguous integer keys from 1.
	isArray := true
	maxN := 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})
	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = b.toGoValue(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = b.toGoValue(v, visited)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value. The explicit cases cover
// what actually crosses the pack boundary: scalars, storage rows, row
// sets, id lists, and username maps. Structs fall through to reflection
// and use their json tags for field names.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case map[string]any:
		return b.rowToTable(val)
	case []map[string]any:
		t := b.L.NewTable()
		for i, row := range val {
			t.RawSetInt(i+1, b.rowToTable(row))
		}
		return t
	case []any:
		t := b.L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, b.ToLuaValue(item))
		}
		return t
	case []string:
		t := b.L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case []int64:
		t := b.L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, lua.LNumber(item))
		}
		return t
	case map[int64]string:
		t := b.L.NewTable()
		for k, item := range val {
			t.RawSet(lua.LNumber(k), lua.LString(item))
		}
		return t
	case lua.LValue:
		return val
	default:
		return b.reflectToLua(v)
	}
}

// rowToTable converts one storage row into a Lua table keyed by column.
func (b *Bridge) rowToTable(row map[string]any) *lua.LTable {
	t := b.L.NewTable()
	for k, v := range row {
		t.RawSetString(k, b.ToLuaValue(v))
	}
	return t
}

func (b *Bridge) reflectToLua(v any) lua.LValue {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return lua.LNil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.reflectToLua(rv.Elem().Interface())

	case reflect.Slice, reflect.Array:
		t := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return t

	case reflect.Map:
		t := b.L.NewTable()
		for _, key := range rv.MapKeys() {
			t.RawSet(b.ToLuaValue(key.Interface()), b.ToLuaValue(rv.MapIndex(key).Interface()))
		}
		return t

	case reflect.Struct:
		return b.structToTable(rv)

	default:
		ud := b.L.NewUserData()
		ud.Value = v
		return ud
	}
}

// structToTable flattens an exported struct into a table. json tags win
// over field names so script-visible keys match the wire shape.
func (b *Bridge) structToTable(rv reflect.Value) *lua.LTable {
	t := b.L.NewTable()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" && tag != "-" {
			for j := 0; j < len(tag); j++ {
				if tag[j] == ',' {
					tag = tag[:j]
					break
				}
			}
			if tag != "" {
				name = tag
			}
		}
		t.RawSetString(name, b.ToLuaValue(rv.Field(i).Interface()))
	}
	return t
}

// GetTableString reads a string field from a table.
func (b *Bridge) GetTableString(t *lua.LTable, key string) (string, bool) {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s), true
	}
	return "", false
}

// GetTableInt reads an int field from a table.
func (b *Bridge) GetTableInt(t *lua.LTable, key string) (int, bool) {
	if n, ok := t.RawGetString(key).(lua.LNumber); ok {
		return int(n), true
	}
	return 0, false
}

// GetTableBool reads a bool field from a table.
func (b *Bridge) GetTableBool(t *lua.LTable, key string) (bool, bool) {
	if v, ok := t.RawGetString(key).(lua.LBool); ok {
		return bool(v), true
	}
	return false, false
}

// GetTableFunc reads a function field from a table.
func (b *Bridge) GetTableFunc(t *lua.LTable, key string) (*lua.LFunction, bool) {
	if f, ok := t.RawGetString(key).(*lua.LFunction); ok {
		return f, true
	}
	return nil, false
}

// GetTableTable reads a nested table field.
func (b *Bridge) GetTableTable(t *lua.LTable, key string) (*lua.LTable, bool) {
	if nested, ok := t.RawGetString(key).(*lua.LTable); ok {
		return nested, true
	}
	return nil, false
}

// CallFunc calls a Lua function with Go arguments and converts the
// results back to Go values.
func (b *Bridge) CallFunc(fn *lua.LFunction, args ...any) ([]any, error) {
	stackTop := b.L.GetTop()

	b.L.Push(fn)
	for _, arg := range args {
		b.L.Push(b.ToLuaValue(arg))
	}

	if err := b.L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	nRet := b.L.GetTop() - stackTop
	if nRet <= 0 {
		return nil, nil
	}
	results := make([]any, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = b.ToGoValue(b.L.Get(stackTop + i + 1))
	}
	b.L.Pop(nRet)
	return results, nil
}

// WrapGoFunc adapts a plain Go function into an LGFunction. Errors raise
// in Lua space so pcall can observe them.
func (b *Bridge) WrapGoFunc(fn func(args []any) (any, error)) lua.LGFunction {
	return func(L *lua.LState) int {
		nArgs := L.GetTop()
		args := make([]any, nArgs)
		for i := 1; i <= nArgs; i++ {
			args[i-1] = b.ToGoValue(L.Get(i))
		}

		result, err := fn(args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if result == nil {
			return 0
		}
		L.Push(b.ToLuaValue(result))
		return 1
	}
}
