package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zot/markit/internal/config"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()

	if _, ok, err := kv.Get("markit:markers"); err != nil || ok {
		t.Fatalf("Expected empty slot, got ok=%v err=%v", ok, err)
	}

	if err := kv.Set("markit:markers", []byte(`{"markers":[]}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := kv.Set("markit:markers", []byte(`{"markers":[],"activeMarkerId":null}`)); err != nil {
		t.Fatalf("Second Set failed: %v", err)
	}

	value, ok, err := kv.Get("markit:markers")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(value) != `{"markers":[],"activeMarkerId":null}` {
		t.Errorf("Expected replaced value, got %s", value)
	}

	if _, ok, _ := kv.Get("other"); ok {
		t.Error("Keys should be independent")
	}
}

func TestMemoryStorage(t *testing.T) {
	m := NewMemoryStorage()
	exerciseKV(t, m)

	if m.Count() != 1 {
		t.Errorf("Expected 1 key, got %d", m.Count())
	}

	// Callers must not be able to mutate stored bytes.
	value, _, _ := m.Get("markit:markers")
	value[0] = 'X'
	again, _, _ := m.Get("markit:markers")
	if again[0] != '{' {
		t.Error("Get should return a copy")
	}

	m.Close()
	if err := m.Set("k", nil); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestFileStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	f, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}
	exerciseKV(t, f)

	if filepath.Base(f.Path("markit:markers")) != "markit_markers.json" {
		t.Errorf("Unexpected file name %s", f.Path("markit:markers"))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected a single file without temporaries, got %d", len(entries))
	}
}

func TestFileStorageWatch(t *testing.T) {
	f, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}
	f.debounceDelay = 10 * time.Millisecond
	if err := f.Set("slot", []byte("one")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	changed := make(chan string, 4)
	stop, err := f.Watch(func(key string) { changed <- key })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stop()

	// Our own writes are not reported.
	if err := f.Set("slot", []byte("two")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	select {
	case key := <-changed:
		t.Fatalf("Unexpected change for own write: %s", key)
	case <-time.After(200 * time.Millisecond):
	}

	if err := os.WriteFile(f.Path("slot"), []byte("edited"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	select {
	case key := <-changed:
		if key != "slot" {
			t.Errorf("Expected slot, got %s", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for external change")
	}
}

func TestSQLiteStorage(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "markit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	defer s.Close()
	exerciseKV(t, s)
}

func TestPostgresStorage(t *testing.T) {
	url := os.Getenv("MARKIT_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("MARKIT_TEST_POSTGRES_URL not set")
	}
	s, err := NewPostgresStorage(url)
	if err != nil {
		t.Fatalf("NewPostgresStorage failed: %v", err)
	}
	defer s.Close()
	s.db.Exec("DELETE FROM markit_slots")
	exerciseKV(t, s)
}

func TestOpen(t *testing.T) {
	kv, err := Open(config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	if _, ok := kv.(*MemoryStorage); !ok {
		t.Errorf("Expected MemoryStorage, got %T", kv)
	}

	kv, err = Open(config.StorageConfig{Type: "file", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open file failed: %v", err)
	}
	if _, ok := kv.(Watcher); !ok {
		t.Error("File storage should support watching")
	}

	if _, err := Open(config.StorageConfig{Type: "postgres"}); err == nil {
		t.Error("Postgres without url should fail")
	}
	if _, err := Open(config.StorageConfig{Type: "etcd"}); err == nil {
		t.Error("Unknown type should fail")
	}
}
