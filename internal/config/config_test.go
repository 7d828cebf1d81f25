package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileGetsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.TmuxPrefix != DefaultTmuxPrefix {
		t.Errorf("TmuxPrefix = %q, want %q", cfg.TmuxPrefix, DefaultTmuxPrefix)
	}
	if cfg.MaxSessions != DefaultMaxSessions {
		t.Errorf("MaxSessions = %d, want %d", cfg.MaxSessions, DefaultMaxSessions)
	}
}

func TestLoad_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
addr = "0.0.0.0:9000"
auth_token = "secret"
cli_binary = "claude"
max_sessions = 3
default_cols = 120
default_rows = 40

[[project_roots]]
label = "work"
path = "/home/me/work"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.MaxSessions != 3 {
		t.Errorf("MaxSessions = %d", cfg.MaxSessions)
	}
	if len(cfg.ProjectRoots) != 1 || cfg.ProjectRoots[0].Label != "work" {
		t.Errorf("ProjectRoots = %+v", cfg.ProjectRoots)
	}
	// Unset fields still get defaults.
	if cfg.HeartbeatIntervalMs != DefaultHeartbeatIntervalMs {
		t.Errorf("HeartbeatIntervalMs = %d", cfg.HeartbeatIntervalMs)
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("addr = [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{AuthToken: "secret"}
		c.ApplyDefaults()
		return c
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	c := base()
	c.AuthToken = ""
	c.AuthTokenHash = ""
	if err := c.Validate(); err == nil {
		t.Error("expected error when no auth token is configured")
	}

	c = base()
	c.AuthToken = ""
	c.AuthTokenHash = "$2a$10$abcdefghijklmnopqrstuv"
	if err := c.Validate(); err != nil {
		t.Errorf("hash-only auth rejected: %v", err)
	}

	c = base()
	c.MaxSessions = -1
	if err := c.Validate(); err == nil {
		t.Error("expected error for negative max_sessions")
	}

	c = base()
	c.ProjectRoots = []ProjectRoot{{Label: "w", Path: "relative/path"}}
	if err := c.Validate(); err == nil {
		t.Error("expected error for relative project root")
	}
}
