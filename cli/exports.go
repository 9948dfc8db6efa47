// Package cli provides the command-line interface for markit.
// This file re-exports internal packages for embedding the host.
package cli

import (
	"github.com/zot/markit/internal/marker"
	"github.com/zot/markit/internal/server"
	"github.com/zot/markit/internal/storage"
)

// Re-export host types for embedding
type (
	Server   = server.Server
	Markers  = server.Markers
	Marker   = marker.Marker
	Range    = marker.Range
	Position = marker.Position
	Snapshot = marker.Snapshot
	KV       = storage.KV
)

// Re-export host constructors
var (
	NewServer            = server.New
	NewServerWithStorage = server.NewWithStorage
	OpenStorage          = storage.Open
)
