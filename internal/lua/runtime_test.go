package lua

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/marker"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Logging.Verbosity = 0 // Quiet for tests
	return cfg
}

func writeScript(t *testing.T, dir, code string) string {
	t.Helper()
	path := filepath.Join(dir, "markit.lua")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func newRuntime(t *testing.T, code string) *Runtime {
	t.Helper()
	r, err := NewRuntime(testConfig(), writeScript(t, t.TempDir(), code))
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r
}

func TestLabelHook(t *testing.T) {
	r := newRuntime(t, `
function label(m)
  return markit.basename(m.fileName) .. ":" .. (m.range.start.line + 1)
end
`)
	m := &marker.Marker{ID: "a", Content: "foo", FileName: "/src/a.go", Range: marker.Range{Start: marker.Position{Line: 4}}}
	if got := r.Label(m); got != "a.go:5" {
		t.Errorf("Expected a.go:5, got %q", got)
	}
	if !r.Has("label") || r.Has("open") {
		t.Error("Unexpected hook detection")
	}
}

func TestLabelFallsBackToContent(t *testing.T) {
	m := &marker.Marker{ID: "a", Content: "foo"}

	r := newRuntime(t, `-- no hooks`)
	if got := r.Label(m); got != "foo" {
		t.Errorf("Expected content without hook, got %q", got)
	}

	r = newRuntime(t, `function label(m) error("boom") end`)
	if got := r.Label(m); got != "foo" {
		t.Errorf("Expected content on error, got %q", got)
	}

	r = newRuntime(t, `function label(m) return 42 end`)
	if got := r.Label(m); got != "foo" {
		t.Errorf("Expected content on non-string, got %q", got)
	}
}

func TestOpenHook(t *testing.T) {
	r := newRuntime(t, `
opened = {}
function open(m)
  if m.fileName == "deny.go" then return false end
  if m.fileName == "err.go" then return "no editor" end
  opened[#opened + 1] = m.fileName .. "@" .. m.range["end"].character
end
`)
	rng := marker.Range{End: marker.Position{Line: 1, Character: 7}}
	if err := r.Open("a.go", rng); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	v, _ := r.execute(func() (interface{}, error) {
		return LuaToGo(r.State.GetGlobal("opened")), nil
	})
	if list, ok := v.([]interface{}); !ok || len(list) != 1 || list[0] != "a.go@7" {
		t.Errorf("Unexpected opened list %#v", v)
	}

	if err := r.Open("deny.go", rng); err == nil {
		t.Error("Expected failure when hook returns false")
	}
	if err := r.Open("err.go", rng); err == nil || err.Error() != "no editor" {
		t.Errorf("Expected hook message, got %v", err)
	}
}

func TestOpenWithoutHook(t *testing.T) {
	r := newRuntime(t, `x = 1`)
	if err := r.Open("a.go", marker.Range{}); !errors.Is(err, ErrNoHook) {
		t.Errorf("Expected ErrNoHook, got %v", err)
	}
}

func TestLoadError(t *testing.T) {
	path := writeScript(t, t.TempDir(), `this is not lua`)
	if _, err := NewRuntime(testConfig(), path); err == nil {
		t.Error("Expected load error")
	}
}

func TestLuaToGo(t *testing.T) {
	r := newRuntime(t, `value = {1, 2, {name = "x", _hidden = true}}`)
	v, _ := r.execute(func() (interface{}, error) {
		return LuaToGo(r.State.GetGlobal("value")), nil
	})
	list, ok := v.([]interface{})
	if !ok || len(list) != 3 {
		t.Fatalf("Expected array of 3, got %#v", v)
	}
	obj, ok := list[2].(map[string]interface{})
	if !ok || obj["name"] != "x" {
		t.Errorf("Unexpected object %#v", list[2])
	}
	if _, hidden := obj["_hidden"]; hidden {
		t.Error("Underscore fields should be skipped")
	}
}

func TestHotLoaderReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, `function label(m) return "old" end`)
	r, err := NewRuntime(testConfig(), path)
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}
	defer r.Shutdown()

	reloaded := make(chan struct{}, 1)
	h, err := NewHotLoader(testConfig(), r, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewHotLoader failed: %v", err)
	}
	h.debounceDelay = 10 * time.Millisecond
	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	writeScript(t, dir, `function label(m) return "new" end`)
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
	if got := r.Label(&marker.Marker{}); got != "new" {
		t.Errorf("Expected new label, got %q", got)
	}
}
