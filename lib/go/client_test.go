package markitclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/marker"
	"github.com/zot/markit/internal/server"
	"github.com/zot/markit/internal/storage"
	"github.com/zot/markit/internal/view"
)

func startHost(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "memory"
	s, err := server.NewWithStorage(cfg, storage.NewMemoryStorage())
	if err != nil {
		t.Fatalf("NewWithStorage failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
	})
	return ts
}

func TestViewURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://127.0.0.1:7317", "ws://127.0.0.1:7317/ws"},
		{"https://host/markit/", "wss://host/markit/ws"},
		{"ws://host/ws", "ws://host/ws"},
	}
	for _, tt := range tests {
		got, err := ViewURL(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ViewURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := ViewURL("ftp://host"); err == nil {
		t.Error("Expected error for ftp scheme")
	}
}

func TestClientAPI(t *testing.T) {
	ts := startHost(t)
	c := NewClient(ts.URL)

	root, err := c.Mark("/src/a.go", marker.Range{End: marker.Position{Line: 2}}, "a")
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	child, err := c.Mark("/src/b.go", marker.Range{}, "b")
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if child.ParentID != root.ID {
		t.Errorf("Expected child of %s, got %q", root.ID, child.ParentID)
	}

	if err := c.Activate(root.ID); err != nil {
		t.Errorf("Activate failed: %v", err)
	}
	if err := c.Open(child.ID); err != nil {
		t.Errorf("Open failed: %v", err)
	}
	snap, err := c.Markers()
	if err != nil || len(snap.Markers) != 2 || snap.Active() != root.ID {
		t.Errorf("Unexpected snapshot %+v, %v", snap, err)
	}

	if err := c.Remove("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := c.Remove(child.ID); err != nil {
		t.Errorf("Remove failed: %v", err)
	}

	svg, err := c.Canvas()
	if err != nil || !bytes.Contains(svg, []byte("<svg")) {
		t.Errorf("Canvas failed: %v", err)
	}

	if err := c.Clear(); err != nil {
		t.Errorf("Clear failed: %v", err)
	}
	if snap, _ := c.Markers(); len(snap.Markers) != 0 {
		t.Error("Clear should empty the tree")
	}
}

// waitFor polls cond on the viewer queue until it holds.
func waitFor(t *testing.T, updates <-chan struct{}, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-updates:
		case <-deadline:
			t.Fatal("Timed out waiting for the viewer")
		}
	}
}

func TestViewerMirrorsHost(t *testing.T) {
	ts := startHost(t)
	api := NewClient(ts.URL)
	root, _ := api.Mark("/src/a.go", marker.Range{}, "a")

	conn, err := Dial(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	cfg := config.DefaultConfig()
	v := NewViewer(cfg, conn, view.OptionsFromConfig(cfg))

	var mu sync.Mutex
	var active string
	var count int
	updates := make(chan struct{}, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- v.Run(ctx, func(c *view.Canvas) {
			mu.Lock()
			active = c.Tree().ActiveID()
			count = c.Tree().Len()
			mu.Unlock()
			select {
			case updates <- struct{}{}:
			default:
			}
		})
	}()
	state := func() (string, int) {
		mu.Lock()
		defer mu.Unlock()
		return active, count
	}

	waitFor(t, updates, func() bool { _, n := state(); return n == 1 })

	child, _ := api.Mark("/src/b.go", marker.Range{}, "b")
	waitFor(t, updates, func() bool { a, n := state(); return n == 2 && a == child.ID })

	if err := v.Click(root.ID); err != nil {
		t.Fatalf("Click failed: %v", err)
	}
	waitFor(t, updates, func() bool { a, _ := state(); return a == root.ID })

	if err := v.ClickRemove(child.ID); err != nil {
		t.Fatalf("ClickRemove failed: %v", err)
	}
	waitFor(t, updates, func() bool { _, n := state(); return n == 1 })

	var buf bytes.Buffer
	if err := v.Render(&buf); err != nil || !strings.Contains(buf.String(), fmt.Sprintf(`data-id="%s"`, root.ID)) {
		t.Errorf("Render failed: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if conn.IsConnected() {
		t.Error("Connection should be closed after Run")
	}
}
