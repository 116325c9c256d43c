// Package config loads and persists the Adjutant server configuration.
//
// Configuration lives in a TOML file under the state directory
// (~/.adjutant/config.toml by default). The ADJUTANT_CONFIG environment
// variable overrides the path. Unknown keys are tolerated so older binaries
// can read newer files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultStateDirName is the per-user state directory under $HOME.
const DefaultStateDirName = ".adjutant"

// EnvConfigPath overrides the config file location when set.
const EnvConfigPath = "ADJUTANT_CONFIG"

// Config is the full server configuration. Zero values are filled from
// Default() on load, so a partial file is valid.
type Config struct {
	// APIKey authenticates WebSocket and REST clients. Required for every
	// path not covered by MCPPublicPrefixes.
	APIKey string `toml:"api_key"`

	// MCPPublicPrefixes lists URL prefixes that skip API-key enforcement.
	MCPPublicPrefixes []string `toml:"mcp_public_prefixes"`

	// ListenAddr is the host:port the HTTP server binds.
	ListenAddr string `toml:"listen_addr"`

	// WorkspaceRoot is the base directory scanned for beads databases.
	WorkspaceRoot string `toml:"workspace_root"`

	// ProjectsStateDir holds the registry JSON files, the message store,
	// logs, and the instance lock.
	ProjectsStateDir string `toml:"projects_state_dir"`

	BDTimeoutMS            int `toml:"bd_timeout_ms"`
	PrefixMapRefreshMS     int `toml:"prefix_map_refresh_ms"`
	WSReplayBufferSize     int `toml:"ws_replay_buffer_size"`
	SessionOutputRingLines int `toml:"session_output_ring_lines"`
	MaxTerminalSessions    int `toml:"max_terminal_sessions"`

	// LogMaxSizeMB and LogMaxBackups bound the rotating server log.
	LogMaxSizeMB  int `toml:"log_max_size_mb"`
	LogMaxBackups int `toml:"log_max_backups"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		MCPPublicPrefixes:      []string{"/mcp"},
		ListenAddr:             ":8377",
		WorkspaceRoot:          home,
		ProjectsStateDir:       filepath.Join(home, DefaultStateDirName),
		BDTimeoutMS:            10000,
		PrefixMapRefreshMS:     30000,
		WSReplayBufferSize:     1024,
		SessionOutputRingLines: 1000,
		MaxTerminalSessions:    10,
		LogMaxSizeMB:           10,
		LogMaxBackups:          3,
	}
}

// DefaultPath returns the config file location, honoring ADJUTANT_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, DefaultStateDirName, "config.toml")
}

// Load reads the config at path, filling unset fields from Default().
// A missing file returns Default() with no error so the server can start
// before `adjutant init` has run.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores documented defaults for fields a file set to zero.
func (c *Config) fillDefaults() {
	d := Default()
	if len(c.MCPPublicPrefixes) == 0 {
		c.MCPPublicPrefixes = d.MCPPublicPrefixes
	}
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = d.WorkspaceRoot
	}
	if c.ProjectsStateDir == "" {
		c.ProjectsStateDir = d.ProjectsStateDir
	}
	if c.BDTimeoutMS <= 0 {
		c.BDTimeoutMS = d.BDTimeoutMS
	}
	if c.PrefixMapRefreshMS <= 0 {
		c.PrefixMapRefreshMS = d.PrefixMapRefreshMS
	}
	if c.WSReplayBufferSize <= 0 {
		c.WSReplayBufferSize = d.WSReplayBufferSize
	}
	if c.SessionOutputRingLines <= 0 {
		c.SessionOutputRingLines = d.SessionOutputRingLines
	}
	if c.MaxTerminalSessions <= 0 {
		c.MaxTerminalSessions = d.MaxTerminalSessions
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = d.LogMaxSizeMB
	}
	if c.LogMaxBackups <= 0 {
		c.LogMaxBackups = d.LogMaxBackups
	}
}

// Save writes the config to path atomically (temp file + rename), creating
// parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(c); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// BDTimeout returns the bd subprocess deadline as a duration.
func (c *Config) BDTimeout() time.Duration {
	return time.Duration(c.BDTimeoutMS) * time.Millisecond
}

// PrefixMapRefresh returns the prefix map refresh interval as a duration.
func (c *Config) PrefixMapRefresh() time.Duration {
	return time.Duration(c.PrefixMapRefreshMS) * time.Millisecond
}

// StorePath returns the message store database location.
func (c *Config) StorePath() string {
	return filepath.Join(c.ProjectsStateDir, "messages.db")
}

// ProjectsPath returns the project registry JSON location.
func (c *Config) ProjectsPath() string {
	return filepath.Join(c.ProjectsStateDir, "projects.json")
}

// SessionsPath returns the terminal-session registry JSON location.
func (c *Config) SessionsPath() string {
	return filepath.Join(c.ProjectsStateDir, "sessions.json")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.ProjectsStateDir, "adjutant.lock")
}

// LogPath returns the rotating server log location.
func (c *Config) LogPath() string {
	return filepath.Join(c.ProjectsStateDir, "adjutant.log")
}
