// Package lua runs the optional hook script. A script may define
// label(marker), returning the text a view shows for a marker, and
// open(marker), opening the marker's document in an editor.
package lua

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/marker"
)

// ErrNoHook is returned when the script does not define the called hook.
var ErrNoHook = errors.New("hook not defined")

// WorkItem represents a unit of work for the executor.
type WorkItem struct {
	fn     func() (interface{}, error)
	result chan WorkResult
}

// WorkResult holds the result of a work item.
type WorkResult struct {
	Value interface{}
	Err   error
}

// Runtime owns one Lua state. Every call into the state runs on the
// runtime's executor goroutine.
type Runtime struct {
	State        *lua.LState
	path         string
	executorChan chan WorkItem
	done         chan struct{}
	config       *config.Config
	closeOnce    sync.Once
}

// NewRuntime creates a runtime and loads the script at path.
func NewRuntime(cfg *config.Config, path string) (*Runtime, error) {
	r := &Runtime{
		State:        lua.NewState(),
		path:         path,
		executorChan: make(chan WorkItem, 100),
		done:         make(chan struct{}),
		config:       cfg,
	}
	r.registerMarkitModule()
	r.startExecutor()
	if err := r.Reload(); err != nil {
		r.Shutdown()
		return nil, err
	}
	return r, nil
}

// Path returns the script path.
func (r *Runtime) Path() string {
	return r.path
}

// Log logs through the runtime's config.
func (r *Runtime) Log(level int, format string, args ...interface{}) {
	r.config.Log(level, "lua: "+format, args...)
}

// registerMarkitModule exposes host helpers to the script as the global
// table markit.
func (r *Runtime) registerMarkitModule() {
	L := r.State
	mod := L.NewTable()
	L.SetField(mod, "log", L.NewFunction(func(L *lua.LState) int {
		level := L.OptInt(2, 1)
		r.Log(level, "%s", L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "basename", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(filepath.Base(L.CheckString(1))))
		return 1
	}))
	L.SetField(mod, "dirname", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(filepath.Dir(L.CheckString(1))))
		return 1
	}))
	L.SetGlobal("markit", mod)
}

// startExecutor creates the goroutine that processes work items.
func (r *Runtime) startExecutor() {
	go func() {
		for {
			select {
			case <-r.done:
				return
			case work := <-r.executorChan:
				result, err := work.fn()
				work.result <- WorkResult{Value: result, Err: err}
			}
		}
	}()
}

// execute queues a function on the executor and blocks until complete.
func (r *Runtime) execute(fn func() (interface{}, error)) (interface{}, error) {
	result := make(chan WorkResult, 1)
	select {
	case r.executorChan <- WorkItem{fn: fn, result: result}:
	case <-r.done:
		return nil, errors.New("lua runtime shut down")
	}
	res := <-result
	return res.Value, res.Err
}

// Reload re-runs the script, replacing the hooks it defines.
func (r *Runtime) Reload() error {
	_, err := r.execute(func() (interface{}, error) {
		L := r.State
		L.SetGlobal("label", lua.LNil)
		L.SetGlobal("open", lua.LNil)
		if err := L.DoFile(r.path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", r.path, err)
		}
		return nil, nil
	})
	if err == nil {
		r.Log(1, "loaded %s", r.path)
	}
	return err
}

// Has reports whether the script defines the global function name.
func (r *Runtime) Has(name string) bool {
	v, _ := r.execute(func() (interface{}, error) {
		_, ok := r.State.GetGlobal(name).(*lua.LFunction)
		return ok, nil
	})
	ok, _ := v.(bool)
	return ok
}

// Call invokes the global function name with one argument and returns its
// first result converted to Go.
func (r *Runtime) Call(name string, arg any) (interface{}, error) {
	return r.execute(func() (interface{}, error) {
		L := r.State
		fn, ok := L.GetGlobal(name).(*lua.LFunction)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoHook, name)
		}
		L.Push(fn)
		L.Push(r.GoToLua(arg))
		if err := L.PCall(1, 1, nil); err != nil {
			return nil, err
		}
		result := L.Get(-1)
		L.Pop(1)
		return LuaToGo(result), nil
	})
}

// Label implements view.Labeler. Without a label hook, or when the hook
// fails, the marker's content is used.
func (r *Runtime) Label(m *marker.Marker) string {
	v, err := r.Call("label", markerValue(m))
	if err != nil {
		if !errors.Is(err, ErrNoHook) {
			r.Log(0, "label %s: %v", m.ID, err)
		}
		return m.Content
	}
	s, ok := v.(string)
	if !ok {
		return m.Content
	}
	return s
}

// Open implements navigate.Navigator by calling the open hook. A hook
// returning false or a string reports failure.
func (r *Runtime) Open(fileName string, rng marker.Range) error {
	v, err := r.Call("open", markerValue(&marker.Marker{FileName: fileName, Range: rng}))
	if err != nil {
		return err
	}
	switch res := v.(type) {
	case bool:
		if !res {
			return fmt.Errorf("open hook declined %s", fileName)
		}
	case string:
		return errors.New(res)
	}
	return nil
}

// Shutdown stops the executor and closes the state.
func (r *Runtime) Shutdown() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.State.Close()
	})
}

// markerValue is the table shape hooks receive.
func markerValue(m *marker.Marker) map[string]interface{} {
	pos := func(p marker.Position) map[string]interface{} {
		return map[string]interface{}{"line": p.Line, "character": p.Character}
	}
	return map[string]interface{}{
		"id":       m.ID,
		"content":  m.Content,
		"fileName": m.FileName,
		"isRoot":   m.IsRoot,
		"parentId": m.ParentID,
		"range": map[string]interface{}{
			"start": pos(m.Range.Start),
			"end":   pos(m.Range.End),
		},
	}
}

// GoToLua converts a Go value to Lua.
func (r *Runtime) GoToLua(val any) lua.LValue {
	if val == nil {
		return lua.LNil
	}

	switch v := val.(type) {
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(float64(v))
	case int64:
		return lua.LNumber(float64(v))
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		tbl := r.State.NewTable()
		for i, item := range v {
			r.State.RawSetInt(tbl, i+1, r.GoToLua(item))
		}
		return tbl
	case map[string]interface{}:
		tbl := r.State.NewTable()
		for k, item := range v {
			r.State.SetField(tbl, k, r.GoToLua(item))
		}
		return tbl
	default:
		r.Log(4, "converting %T with fmt", val)
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// LuaToGo converts a Lua value to Go.
// Fields prefixed with "_" are skipped (internal/private fields).
func LuaToGo(val lua.LValue) interface{} {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		hasNumericKeys := false
		hasStringKeys := false
		maxN := 0
		v.ForEach(func(key, _ lua.LValue) {
			if n, ok := key.(lua.LNumber); ok {
				hasNumericKeys = true
				if int(n) > maxN {
					maxN = int(n)
				}
			} else if ks, ok := key.(lua.LString); ok {
				if !strings.HasPrefix(string(ks), "_") {
					hasStringKeys = true
				}
			}
		})

		if hasNumericKeys && !hasStringKeys && maxN > 0 {
			arr := make([]interface{}, maxN)
			for i := 1; i <= maxN; i++ {
				arr[i-1] = LuaToGo(v.RawGetInt(i))
			}
			return arr
		}

		m := make(map[string]interface{})
		v.ForEach(func(key, value lua.LValue) {
			if ks, ok := key.(lua.LString); ok {
				keyStr := string(ks)
				if !strings.HasPrefix(keyStr, "_") {
					m[keyStr] = LuaToGo(value)
				}
			}
		})
		return m
	default:
		return nil
	}
}
