package identity

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/internal/lua/luadefaults"
	"github.com/andrebq/doorman/internal/lua/ltoj"
	"github.com/andrebq/doorman/ledger"
	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

type (
	// LuaMapper runs a Lua chunk for every federated profile. The chunk
	// receives two tables (profile, user) and may return a table with
	// username and/or email to override the canonical record. Returning
	// nil keeps the record as is.
	LuaMapper struct {
		name  string
		proto *lua.FunctionProto
	}

	mappedUser struct {
		Username string
		Email    string
	}
)

// LoadLuaMapper compiles the script stored at file.
func LoadLuaMapper(file string) (*LuaMapper, error) {
	code, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read profile mapper %v, cause %w", file, err)
	}
	return CompileLuaMapper(file, string(code))
}

func CompileLuaMapper(name, code string) (*LuaMapper, error) {
	chunk, err := parse.Parse(strings.NewReader(code), name)
	if err != nil {
		return nil, fmt.Errorf("unable to parse profile mapper %v, cause %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("unable to compile profile mapper %v, cause %w", name, err)
	}
	return &LuaMapper{name: name, proto: proto}, nil
}

func (m *LuaMapper) Map(ctx context.Context, p Profile, u *ledger.User) error {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	luadefaults.InjectMapperLibs(L)
	L.PreloadModule(ltoj.ModuleName, ltoj.OpenModule())
	L.SetContext(ctx)

	profile := ltoj.ToLuaValue(L, map[string]interface{}{
		"provider":     string(p.Provider),
		"subject":      p.Subject,
		"display_name": p.DisplayName,
		"emails":       p.Emails,
		"claims":       p.Claims,
	})
	user := ltoj.ToLuaValue(L, map[string]interface{}{
		"username": u.Username,
		"email":    u.Email,
	})

	L.Push(L.NewFunctionFromProto(m.proto))
	L.Push(profile)
	L.Push(user)
	if err := L.PCall(2, 1, nil); err != nil {
		return fmt.Errorf("profile mapper %v failed, cause %w", m.name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	switch ret := ret.(type) {
	case *lua.LNilType:
		return nil
	case *lua.LTable:
		var out mappedUser
		if err := gluamapper.Map(ret, &out); err != nil {
			return fmt.Errorf("profile mapper %v returned an invalid table, cause %w", m.name, err)
		}
		if out.Username != "" {
			u.Username = out.Username
		}
		if out.Email != "" {
			u.Email = out.Email
		}
		log := logutil.GetOrDefault(ctx)
		log.Debug().Str("mapper", m.name).Str("provider", string(p.Provider)).Str("email", u.Email).Msg("Profile remapped")
		return nil
	default:
		return fmt.Errorf("profile mapper %v must return a table or nil, got %v", m.name, ret.Type())
	}
}
