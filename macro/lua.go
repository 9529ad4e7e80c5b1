package macro

import (
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

// LuaShifter runs a user provided Lua script as a dateshifter hook.
// The script MUST define a function named `shift_date` taking the current
// timestamp as an RFC3339 string and returning the shifted timestamp as an
// RFC3339 string. The script can access a JSON helper with
// `local json = require("json")`.
type LuaShifter struct {
	scriptPath string
	pool       *sync.Pool
}

// NewLuaShifter loads the script once to validate it, then keeps a pool of
// sandboxed VMs around so concurrent compiles don't contend on one state.
func NewLuaShifter(scriptPath string) (*LuaShifter, error) {
	pool := &sync.Pool{
		New: func() any {
			L := lua.NewState(lua.Options{
				SkipOpenLibs: true, // Don't load anything by default
			})

			// Manually open only the safe libraries.
			// We skip 'os' and 'io' to prevent system commands/file access.
			for _, lib := range []struct {
				name string
				fn   lua.LGFunction
			}{
				{lua.LoadLibName, lua.OpenPackage},
				{lua.BaseLibName, lua.OpenBase},
				{lua.TabLibName, lua.OpenTable},
				{lua.StringLibName, lua.OpenString},
			} {
				L.Push(L.NewFunction(lib.fn))
				L.Push(lua.LString(lib.name))
				L.Call(1, 0)
			}

			luajson.Preload(L)

			if err := L.DoFile(scriptPath); err != nil {
				L.Close()
				return err
			}

			return L
		},
	}

	// Build one state eagerly so a broken script fails at construction,
	// not in the middle of a compile.
	first := pool.Get()
	if err, ok := first.(error); ok {
		return nil, fmt.Errorf("cannot load lua shifter script: %w", err)
	}
	pool.Put(first)

	return &LuaShifter{scriptPath: scriptPath, pool: pool}, nil
}

// Shift satisfies the Shifter signature.
func (ls *LuaShifter) Shift(t time.Time) (time.Time, error) {
	v := ls.pool.Get()
	if err, ok := v.(error); ok {
		return time.Time{}, fmt.Errorf("cannot load lua shifter script: %w", err)
	}
	L := v.(*lua.LState)
	defer ls.pool.Put(L)

	err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("shift_date"),
		NRet:    1,
		Protect: true,
	}, lua.LString(t.Format(time.RFC3339)))
	if err != nil {
		return time.Time{}, fmt.Errorf("lua script error: %w", err)
	}

	raw := L.ToString(-1)
	L.Pop(1)

	shifted, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse shifted timestamp %q: %w", raw, err)
	}

	return shifted, nil
}
