package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileStorage keeps one JSON file per key in a directory. Files may be edited
// by hand; Watch reports such edits.
type FileStorage struct {
	dir           string
	written       map[string][]byte // key -> last value written by this process
	keys          map[string]string // file name -> key
	debounceDelay time.Duration
	mu            sync.Mutex
}

// NewFileStorage creates the directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("file storage requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{
		dir:           dir,
		written:       make(map[string][]byte),
		keys:          make(map[string]string),
		debounceDelay: 100 * time.Millisecond,
	}, nil
}

// fileName maps a key onto a safe file name.
func fileName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String() + ".json"
}

// Path returns the file holding key.
func (f *FileStorage) Path(key string) string {
	return filepath.Join(f.dir, fileName(key))
}

func (f *FileStorage) remember(key string) {
	f.keys[fileName(key)] = key
}

// Get reads the file for key.
func (f *FileStorage) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	f.remember(key)
	f.mu.Unlock()

	data, err := os.ReadFile(f.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set writes the file for key through a temporary file and a rename.
func (f *FileStorage) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remember(key)

	path := f.Path(key)
	tmp, err := os.CreateTemp(f.dir, ".markit-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	f.written[key] = append([]byte(nil), value...)
	return nil
}

// Close is a no-op for file storage.
func (f *FileStorage) Close() error {
	return nil
}

// Watch reports external changes to known keys. Writes made through Set are
// not reported.
func (f *FileStorage) Watch(onChange func(key string)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	var timersMu sync.Mutex
	timers := make(map[string]*time.Timer)

	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				f.mu.Lock()
				key, known := f.keys[filepath.Base(event.Name)]
				f.mu.Unlock()
				if !known {
					continue
				}
				timersMu.Lock()
				if t, ok := timers[key]; ok {
					t.Stop()
				}
				timers[key] = time.AfterFunc(f.debounceDelay, func() {
					if f.changedExternally(key) {
						onChange(key)
					}
				})
				timersMu.Unlock()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	stop := func() error {
		close(done)
		timersMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timersMu.Unlock()
		return watcher.Close()
	}
	return stop, nil
}

// changedExternally compares the file with the last value this process wrote.
func (f *FileStorage) changedExternally(key string) bool {
	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.written[key]
	if ok && bytes.Equal(last, data) {
		return false
	}
	f.written[key] = data
	return true
}
