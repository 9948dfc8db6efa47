// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for markit.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Layout  LayoutConfig  `toml:"layout"`
	Lua     LuaConfig     `toml:"lua"`
	MCP     MCPConfig     `toml:"mcp"`
	Editor  EditorConfig  `toml:"editor"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds host-related settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	URL  string `toml:"url"` // Host URL used by client commands
}

// StorageConfig holds storage-related settings.
type StorageConfig struct {
	Type string `toml:"type"` // "memory", "file", "sqlite", "postgresql"
	Path string `toml:"path"` // Directory for file storage, database file for sqlite
	URL  string `toml:"url"`  // PostgreSQL connection URL
	Key  string `toml:"key"`  // Slot holding the marker snapshot
}

// LayoutConfig holds the geometry used by the layout engine and connectors.
type LayoutConfig struct {
	NodeWidth   float64 `toml:"node_width"`
	NodeHeight  float64 `toml:"node_height"`
	Gap         float64 `toml:"gap"`
	CurveOffset float64 `toml:"curve_offset"`
	ArrowSize   float64 `toml:"arrow_size"`
}

// LuaConfig holds script hook settings.
type LuaConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // Script defining label(marker) and/or open(marker)
}

// MCPConfig holds MCP server settings.
type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// EditorConfig holds the open-at-range command.
type EditorConfig struct {
	Command string `toml:"command"` // e.g. "code -g {file}:{line}:{col}"
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level"`     // "debug", "info", "warn", "error"
	Verbosity int    `toml:"verbosity"` // 0=none, 1=connections, 2=messages, 3=tree, 4=payloads
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7317,
			URL:  "http://127.0.0.1:7317",
		},
		Storage: StorageConfig{
			Type: "file",
			Path: ".markit",
			Key:  "markit:markers",
		},
		Layout: LayoutConfig{
			NodeWidth:   120,
			NodeHeight:  46,
			Gap:         20,
			CurveOffset: 24,
			ArrowSize:   5,
		},
		Lua: LuaConfig{
			Enabled: false,
			Path:    "markit.lua",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Verbosity: 0,
		},
	}
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults.
// Arguments that are not flags are returned for the calling command. extra
// registers command-specific flags on the same flag set.
func Load(name string, args []string, extra ...func(*flag.FlagSet)) (*Config, []string, error) {
	cfg := DefaultConfig()
	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "config/config.toml", "TOML configuration file")

	host := fs.String("host", "", "Listen address")
	port := fs.Int("port", 0, "Listen port")
	url := fs.String("url", "", "Host URL for client commands")

	storage := fs.String("storage", "", "Storage type: memory, file, sqlite, postgresql")
	storagePath := fs.String("storage-path", "", "Storage directory or SQLite database path")
	storageURL := fs.String("storage-url", "", "PostgreSQL connection URL")

	luaPath := fs.String("lua-path", "", "Lua hook script (enables Lua hooks)")
	mcpEnabled := fs.Bool("mcp", false, "Serve MCP tools on stdio")
	editor := fs.String("editor", "", "Open-at-range command template")

	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")
	for _, register := range extra {
		register(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if err := cfg.loadTOML(*configPath); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config %s: %w", *configPath, err)
	}

	cfg.applyEnv()

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *url != "" {
		cfg.Server.URL = *url
	}
	if *storage != "" {
		cfg.Storage.Type = *storage
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *storageURL != "" {
		cfg.Storage.URL = *storageURL
	}
	if *luaPath != "" {
		cfg.Lua.Enabled = true
		cfg.Lua.Path = *luaPath
	}
	if *mcpEnabled {
		cfg.MCP.Enabled = true
	}
	if *editor != "" {
		cfg.Editor.Command = *editor
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	return cfg, fs.Args(), nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("MARKIT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("MARKIT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("MARKIT_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("MARKIT_STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("MARKIT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("MARKIT_STORAGE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := os.Getenv("MARKIT_LUA_PATH"); v != "" {
		c.Lua.Enabled = true
		c.Lua.Path = v
	}
	if v := os.Getenv("MARKIT_MCP"); v != "" {
		c.MCP.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MARKIT_EDITOR"); v != "" {
		c.Editor.Command = v
	}
	if v := os.Getenv("MARKIT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MARKIT_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// Log writes a message when the configured verbosity is at least level.
// Level 0 messages are always written.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if c == nil {
		return
	}
	if level > 0 && c.Logging.Verbosity < level {
		return
	}
	if level > 0 {
		format = fmt.Sprintf("[v%d] ", level) + format
	}
	log.Printf(format, args...)
}
