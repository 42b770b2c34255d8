package ltoj

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"
)

// ModuleName is the name used by scripts to require this module.
const ModuleName = "json"

// OpenModule exposes encode/decode helpers so mapper scripts can unpack
// claims that providers ship as JSON strings.
func OpenModule() lua.LGFunction {
	return func(L *lua.LState) int {
		module := L.NewTable()
		L.SetField(module, "encode", L.NewFunction(func(L *lua.LState) int {
			buf, err := json.Marshal(ToJSONValue(L.CheckAny(1)))
			if err != nil {
				L.RaiseError("unable to encode object to JSON, %v", err)
			}
			L.Push(lua.LString(string(buf)))
			return 1
		}))
		L.SetField(module, "decode", L.NewFunction(func(L *lua.LState) int {
			var obj map[string]interface{}
			err := json.Unmarshal([]byte(L.CheckString(1)), &obj)
			if err != nil {
				L.RaiseError("unable to decode object from JSON, %v", err)
			}
			L.Push(ToLuaValue(L, obj))
			return 1
		}))
		L.Push(module)
		return 1
	}
}
