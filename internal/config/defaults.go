package config

import (
	"os"
	"path/filepath"
)

// Default values applied to any config field left at its zero value.
const (
	DefaultAddr                = "127.0.0.1:8722"
	DefaultCLIBinary           = "claude"
	DefaultTmuxPrefix          = "relay"
	DefaultMaxSessions         = 10
	DefaultCols                = 200
	DefaultRows                = 50
	DefaultHeartbeatIntervalMs = 30000
	DefaultHeartbeatMaxMissed  = 2
	DefaultLogLevel            = "info"
)

// ApplyDefaults fills in zero-valued fields with their defaults.
// Path defaults depend on the user's home directory; when it cannot be
// determined those fields stay empty and Validate reports the problem later.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.CLIBinary == "" {
		c.CLIBinary = DefaultCLIBinary
	}
	if c.TmuxPrefix == "" {
		c.TmuxPrefix = DefaultTmuxPrefix
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.DefaultCols == 0 {
		c.DefaultCols = DefaultCols
	}
	if c.DefaultRows == 0 {
		c.DefaultRows = DefaultRows
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if c.HeartbeatMaxMissed == 0 {
		c.HeartbeatMaxMissed = DefaultHeartbeatMaxMissed
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(home, ".claude", "projects")
	}
	if c.AuditDB == "" {
		c.AuditDB = filepath.Join(home, ".termrelay", "audit.db")
	}
	if c.CacheFile == "" {
		c.CacheFile = filepath.Join(home, ".termrelay", "sessions.json")
	}
}
