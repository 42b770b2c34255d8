package ltoj

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ToJSONValue takes a given lua.LValue and returns a Go value that is known
// to be encodable to a JSON document.
//
// Tables without array items become map[string]interface{}, everything
// else becomes []interface{}.
func ToJSONValue(lv lua.LValue) interface{} {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case *lua.LTable:
		maxn := v.MaxN()
		if maxn == 0 {
			ret := make(map[string]interface{})
			v.ForEach(func(key, value lua.LValue) {
				ret[fmt.Sprint(ToJSONValue(key))] = ToJSONValue(value)
			})
			return ret
		}
		ret := make([]interface{}, 0, maxn)
		for i := 1; i <= maxn; i++ {
			ret = append(ret, ToJSONValue(v.RawGetInt(i)))
		}
		return ret
	default:
		return v.String()
	}
}
