// Package cli provides the command-line interface for markit.
// This file re-exports config types from internal/config for public API.
package cli

import (
	"github.com/zot/markit/internal/config"
)

// Re-export config types for public API
type (
	Config        = config.Config
	ServerConfig  = config.ServerConfig
	StorageConfig = config.StorageConfig
	LayoutConfig  = config.LayoutConfig
	LuaConfig     = config.LuaConfig
	MCPConfig     = config.MCPConfig
	EditorConfig  = config.EditorConfig
	LoggingConfig = config.LoggingConfig
)

// Re-export config functions for public API
var (
	DefaultConfig = config.DefaultConfig
	Load          = config.Load
)
