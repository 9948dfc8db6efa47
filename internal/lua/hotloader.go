package lua

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zot/markit/internal/config"
)

// HotLoader watches the hook script and reloads it when it changes.
type HotLoader struct {
	config   *config.Config
	runtime  *Runtime
	watcher  *fsnotify.Watcher
	onReload func() // called after a successful reload

	// Debouncing
	pending       time.Time
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	done chan struct{}
}

// NewHotLoader creates a hot loader for r's script. onReload may be nil.
func NewHotLoader(cfg *config.Config, r *Runtime, onReload func()) (*HotLoader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &HotLoader{
		config:        cfg,
		runtime:       r,
		watcher:       watcher,
		onReload:      onReload,
		debounceDelay: 100 * time.Millisecond,
		done:          make(chan struct{}),
	}, nil
}

// Start begins watching the script's directory. Editors often replace files
// instead of writing them, so the directory is watched rather than the file.
func (h *HotLoader) Start() error {
	dir := filepath.Dir(h.runtime.Path())
	if err := h.watcher.Add(dir); err != nil {
		return err
	}
	go h.eventLoop()
	go h.debounceLoop()
	h.config.Log(1, "HotLoader: watching %s", h.runtime.Path())
	return nil
}

// Stop stops the hot loader.
func (h *HotLoader) Stop() error {
	close(h.done)
	return h.watcher.Close()
}

// eventLoop processes file system events.
func (h *HotLoader) eventLoop() {
	for {
		select {
		case <-h.done:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.handleEvent(event)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.config.Log(1, "HotLoader: watcher error: %v", err)
		}
	}
}

func (h *HotLoader) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(h.runtime.Path()) {
		return
	}
	h.config.Log(3, "HotLoader: event %s on %s", event.Op, event.Name)
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		h.debounceMu.Lock()
		h.pending = time.Now()
		h.debounceMu.Unlock()
	}
}

// debounceLoop reloads once the script has been quiet for debounceDelay.
func (h *HotLoader) debounceLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.debounceMu.Lock()
			due := !h.pending.IsZero() && time.Since(h.pending) >= h.debounceDelay
			if due {
				h.pending = time.Time{}
			}
			h.debounceMu.Unlock()
			if due {
				h.reload()
			}
		}
	}
}

// reload wraps the reload in panic recovery so a bad script cannot take the
// host down.
func (h *HotLoader) reload() {
	defer func() {
		if r := recover(); r != nil {
			h.config.Log(0, "HotLoader: PANIC reloading %s: %v", h.runtime.Path(), r)
		}
	}()
	if err := h.runtime.Reload(); err != nil {
		h.config.Log(0, "HotLoader: %v", err)
		return
	}
	if h.onReload != nil {
		h.onReload()
	}
}
