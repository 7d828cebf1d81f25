// Package config provides TOML configuration file loading for the relay daemon.
// The configuration file lives at ~/.termrelay/config.toml by default, but can
// be overridden with the --config flag. CLI flags always take precedence over
// file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ProjectRoot is a labeled directory under which new sessions may be created.
// The label groups directories in the /api/directories listing.
type ProjectRoot struct {
	// Label is the group name shown to clients (e.g., "work", "personal").
	Label string `toml:"label"`

	// Path is the absolute directory path.
	Path string `toml:"path"`
}

// Config represents the relay daemon configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port the HTTP server binds to.
	// Default: 127.0.0.1:8722
	Addr string `toml:"addr"`

	// AuthToken is the pre-shared key required on all authenticated routes.
	// Ignored when AuthTokenHash is set.
	AuthToken string `toml:"auth_token"`

	// AuthTokenHash is an optional bcrypt hash of the pre-shared key.
	// When set, the config file does not need to contain the secret itself.
	AuthTokenHash string `toml:"auth_token_hash"`

	// CLIBinary is the assistant CLI started inside new tmux windows.
	// Default: claude
	CLIBinary string `toml:"cli_binary"`

	// LogDir is the CLI conversation log directory that discovery watches.
	// Default: ~/.claude/projects
	LogDir string `toml:"log_dir"`

	// TmuxPrefix is the window-name prefix for daemon-owned tmux sessions.
	// Default: relay
	TmuxPrefix string `toml:"tmux_prefix"`

	// MaxSessions caps the number of concurrent daemon-owned tmux windows.
	// Default: 10
	MaxSessions int `toml:"max_sessions"`

	// DefaultCols and DefaultRows size newly created tmux windows.
	// Defaults: 200x50
	DefaultCols int `toml:"default_cols"`
	DefaultRows int `toml:"default_rows"`

	// ProjectRoots are the labeled directories new sessions may be created in.
	ProjectRoots []ProjectRoot `toml:"project_roots"`

	// HeartbeatIntervalMs is the WebSocket ping interval in milliseconds.
	// Default: 30000
	HeartbeatIntervalMs int `toml:"heartbeat_interval_ms"`

	// HeartbeatMaxMissed is how many unanswered pings terminate a socket.
	// Default: 2
	HeartbeatMaxMissed int `toml:"heartbeat_max_missed"`

	// AuditDB is the path to the SQLite attach-audit database.
	// Default: ~/.termrelay/audit.db
	AuditDB string `toml:"audit_db"`

	// CacheFile is the path of the persistent session metadata cache.
	// Default: ~/.termrelay/sessions.json
	CacheFile string `toml:"cache_file"`

	// MdnsEnabled enables mDNS/Bonjour service advertisement.
	// Discovery only reveals presence; the PSK is still required to connect.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// LogLevel names a logging verbosity: debug, info, warn, error.
	// It is parsed and defaulted but not read by the daemon; log output is
	// not filtered by level.
	// Default: info
	LogLevel string `toml:"log_level"`
}

// DefaultConfigPath returns the default config file location:
// ~/.termrelay/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".termrelay", "config.toml"), nil
}

// DefaultConfigDir returns the daemon state directory (~/.termrelay),
// creating it with 0700 permissions if missing.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".termrelay")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return dir, nil
}

// Load reads and parses the config file at the given path.
//
// Behavior:
//   - If the file does not exist, returns a Config with defaults applied
//     (missing config is not an error; flags may supply everything).
//   - Parse errors are returned as-is so the operator sees the TOML position.
//   - Defaults are applied to any field left at its zero value.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// Validate checks invariants that cannot be defaulted away.
// It is called after flags are merged, just before the daemon starts.
func (c *Config) Validate() error {
	if c.AuthToken == "" && c.AuthTokenHash == "" {
		return fmt.Errorf("auth_token (or auth_token_hash) is required")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.DefaultCols <= 0 || c.DefaultRows <= 0 {
		return fmt.Errorf("default_cols/default_rows must be positive, got %dx%d", c.DefaultCols, c.DefaultRows)
	}
	if c.LogDir == "" || c.AuditDB == "" || c.CacheFile == "" {
		return fmt.Errorf("log_dir, audit_db and cache_file must be set (no home directory to default them from)")
	}
	for _, root := range c.ProjectRoots {
		if !filepath.IsAbs(root.Path) {
			return fmt.Errorf("project root %q must be an absolute path", root.Path)
		}
	}
	return nil
}
