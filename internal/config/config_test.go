package config

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// TestExpandVerbosityFlags verifies -vvv expansion
func TestExpandVerbosityFlags(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"-vvv"}, []string{"-v", "-v", "-v"}},
		{[]string{"-v", "-port", "1"}, []string{"-v", "-port", "1"}},
		{[]string{"-version"}, []string{"-version"}},
		{[]string{"--vv"}, []string{"--vv"}},
	}
	for _, tt := range tests {
		got := expandVerbosityFlags(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("expandVerbosityFlags(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestLoadPriority verifies flags > env > file > defaults
func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
port = 9000
host = "0.0.0.0"

[storage]
type = "sqlite"
path = "from-file.db"

[layout]
gap = 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARKIT_STORAGE_PATH", "from-env.db")
	t.Setenv("MARKIT_HOST", "10.0.0.1")

	cfg, rest, err := Load("serve", []string{"-config", path, "-host", "localhost", "-vv", "extra"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000 from file", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("host = %q, want flag value", cfg.Server.Host)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("storage type = %q, want sqlite", cfg.Storage.Type)
	}
	if cfg.Storage.Path != "from-env.db" {
		t.Errorf("storage path = %q, want env value", cfg.Storage.Path)
	}
	if cfg.Layout.Gap != 30 {
		t.Errorf("gap = %v, want 30", cfg.Layout.Gap)
	}
	if cfg.Layout.NodeWidth != 120 {
		t.Errorf("node width = %v, want default 120", cfg.Layout.NodeWidth)
	}
	if cfg.Verbosity() != 2 {
		t.Errorf("verbosity = %d, want 2", cfg.Verbosity())
	}
	if len(rest) != 1 || rest[0] != "extra" {
		t.Errorf("remaining args = %v, want [extra]", rest)
	}
}

// TestLoadMissingFile verifies a missing config file is not an error
func TestLoadMissingFile(t *testing.T) {
	cfg, _, err := Load("serve", []string{"-config", filepath.Join(t.TempDir(), "none.toml")})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Key != "markit:markers" {
		t.Errorf("storage key = %q", cfg.Storage.Key)
	}
}

// TestLoadLuaFlagEnables verifies -lua-path turns hooks on
func TestLoadLuaFlagEnables(t *testing.T) {
	cfg, _, err := Load("serve", []string{"-config", filepath.Join(t.TempDir(), "none.toml"), "-lua-path", "hooks.lua"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Lua.Enabled || cfg.Lua.Path != "hooks.lua" {
		t.Errorf("lua = %+v", cfg.Lua)
	}
}

// TestLoadExtraFlags verifies command flags share the flag set
func TestLoadExtraFlags(t *testing.T) {
	var out string
	cfg, rest, err := Load("view", []string{"-config", filepath.Join(t.TempDir(), "none.toml"), "-o", "tree.svg", "-port", "9000", "extra"},
		func(fs *flag.FlagSet) { fs.StringVar(&out, "o", "", "output") })
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out != "tree.svg" || cfg.Server.Port != 9000 {
		t.Errorf("out = %q, port = %d", out, cfg.Server.Port)
	}
	if !reflect.DeepEqual(rest, []string{"extra"}) {
		t.Errorf("rest = %v", rest)
	}
}
