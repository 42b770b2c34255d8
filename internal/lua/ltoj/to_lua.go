package ltoj

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

var (
	stringSliceType  = reflect.TypeOf([]string(nil))
	floatSliceType   = reflect.TypeOf([]float64(nil))
	booleanSliceType = reflect.TypeOf([]bool(nil))
)

// ToLuaValue takes a decoded JSON document (usually the claims returned by
// an identity provider) and turns it into a Lua table.
//
// Values that cannot be represented as Lua objects are converted to their
// string form, this function is not a generic mapping of any Go value to
// any Lua value.
func ToLuaValue(L *lua.LState, val map[string]interface{}) *lua.LTable {
	if val == nil {
		return L.NewTable()
	}
	return toLuaMap(L, reflect.ValueOf(val))
}

func toLuaMap(L *lua.LState, val reflect.Value) *lua.LTable {
	t := L.NewTable()
	iter := val.MapRange()
	for iter.Next() {
		L.SetTable(t, toLuaValue(L, iter.Key()), toLuaValue(L, iter.Value()))
	}
	return t
}

func toLuaSlice(L *lua.LState, val reflect.Value) *lua.LTable {
	t := L.NewTable()
	switch val.Type() {
	case stringSliceType:
		for i, v := range val.Interface().([]string) {
			L.RawSetInt(t, i+1, lua.LString(v))
		}
	case floatSliceType:
		for i, v := range val.Interface().([]float64) {
			L.RawSetInt(t, i+1, lua.LNumber(v))
		}
	case booleanSliceType:
		for i, v := range val.Interface().([]bool) {
			L.RawSetInt(t, i+1, lua.LBool(v))
		}
	default:
		for i := 0; i < val.Len(); i++ {
			L.RawSetInt(t, i+1, toLuaValue(L, val.Index(i)))
		}
	}
	return t
}

func toLuaValue(L *lua.LState, v reflect.Value) lua.LValue {
	if !v.IsValid() {
		return lua.LNil
	}
	switch v.Kind() {
	case reflect.Float64, reflect.Float32:
		return lua.LNumber(v.Float())
	case reflect.Int, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(float64(v.Int()))
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(float64(v.Uint()))
	case reflect.String:
		return lua.LString(v.String())
	case reflect.Bool:
		return lua.LBool(v.Bool())
	case reflect.Map:
		return toLuaMap(L, v)
	case reflect.Slice:
		return toLuaSlice(L, v)
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return lua.LNil
		}
		return toLuaValue(L, v.Elem())
	}
	return lua.LString(v.String())
}
