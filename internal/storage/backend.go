// Package storage implements the key-value slots the store persists its
// snapshot into.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zot/markit/internal/config"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage closed")

// KV is a persistent key-value primitive.
type KV interface {
	// Get returns the value stored under key; ok is false when nothing is stored.
	Get(key string) (value []byte, ok bool, err error)

	// Set replaces the value stored under key.
	Set(key string, value []byte) error

	// Close releases the backend.
	Close() error
}

// Watcher is implemented by backends whose values can change outside the
// process (for example hand edits of a file).
type Watcher interface {
	// Watch calls onChange with the key whenever the stored value changes
	// externally. The returned function stops watching.
	Watch(onChange func(key string)) (stop func() error, err error)
}

// Open creates the backend selected by cfg.
func Open(cfg config.StorageConfig) (KV, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory", "mem":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path)
	case "sqlite", "sqlite3":
		return NewSQLiteStorage(cfg.Path)
	case "postgres", "postgresql":
		if cfg.URL == "" {
			return nil, errors.New("postgresql storage requires a url")
		}
		return NewPostgresStorage(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
