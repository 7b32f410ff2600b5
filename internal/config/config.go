// Package config loads and persists the user-facing TOML configuration
// from the awm home directory (~/.awm, overridable with AWM_HOME).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file for user preferences.
const FileName = "config.toml"

// EnvHome overrides the awm home directory when set.
const EnvHome = "AWM_HOME"

// Config is the full user-facing configuration.
type Config struct {
	// UI controls monitor display defaults.
	UI UISettings `toml:"ui"`

	// Probe controls session discovery.
	Probe ProbeSettings `toml:"probe"`

	// Agents adds or overrides recognized agent CLIs.
	// Example:
	//
	//	[agents.crush]
	//	binaries = ["crush"]
	//	icon = "✦"
	//	color = "#f7768e"
	Agents map[string]AgentDef `toml:"agents"`

	// Ingest controls the event ingestion endpoint.
	Ingest IngestSettings `toml:"ingest"`

	// Notify controls event notification templates.
	Notify NotifySettings `toml:"notify"`

	// Log controls file logging.
	Log LogSettings `toml:"log"`
}

// UISettings holds startup defaults for the monitor view. Each toggle can
// still be flipped live with its key binding.
type UISettings struct {
	// ShowLastLine shows the selected session's last pane output line.
	// Default: true
	ShowLastLine *bool `toml:"show_last_line"`

	// ShowStats shows aggregated cpu/mem per session. Default: false
	ShowStats bool `toml:"show_stats"`

	// AgentsOnly hides sessions without a detected agent. Default: false
	AgentsOnly bool `toml:"agents_only"`

	// ExpandAll renders windows and panes for every session, not just the
	// selected one. Default: false
	ExpandAll bool `toml:"expand_all"`

	// RefreshIntervalSeconds is the poll cadence. Default: 2
	RefreshIntervalSeconds int `toml:"refresh_interval_seconds"`

	// Theme sets the color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`
}

// GetShowLastLine returns the last-line toggle, defaulting to true.
func (u UISettings) GetShowLastLine() bool {
	if u.ShowLastLine == nil {
		return true
	}
	return *u.ShowLastLine
}

// GetRefreshInterval returns the poll cadence, defaulting to 2s.
func (u UISettings) GetRefreshInterval() time.Duration {
	if u.RefreshIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(u.RefreshIntervalSeconds) * time.Second
}

// GetTheme returns the theme name, defaulting to "dark".
func (u UISettings) GetTheme() string {
	switch u.Theme {
	case "dark", "light", "system":
		return u.Theme
	}
	return "dark"
}

// ProbeSettings controls which tmux sessions the monitor considers.
type ProbeSettings struct {
	// SessionPrefix limits monitoring to sessions whose name starts with
	// this prefix. Empty watches every session.
	SessionPrefix string `toml:"session_prefix"`
}

// AgentDef customizes one agent entry. A name matching a built-in agent
// replaces its binary list; a new name extends the set.
type AgentDef struct {
	// Binaries are the process names that identify this agent.
	Binaries []string `toml:"binaries"`

	// Icon is the glyph shown next to sessions running this agent.
	Icon string `toml:"icon"`

	// Color is a hex color for the agent badge.
	Color string `toml:"color"`
}

// IngestSettings configures the HTTP event endpoint.
type IngestSettings struct {
	// Listen is the address for the embedded event endpoint when running
	// the TUI (e.g. "127.0.0.1:8377"). Empty disables it; `awm serve`
	// runs the endpoint standalone regardless.
	Listen string `toml:"listen"`

	// ForwardURLs receive a fire-and-forget copy of every ingested event.
	ForwardURLs []string `toml:"forward_urls"`

	// RatePerSec caps ingested events per second. Default: 10
	RatePerSec float64 `toml:"rate_per_sec"`

	// RateBurst is the limiter burst size. Default: 20
	RateBurst int `toml:"rate_burst"`
}

// GetRate returns the ingest rate limit, applying defaults.
func (i IngestSettings) GetRate() (perSec float64, burst int) {
	perSec, burst = i.RatePerSec, i.RateBurst
	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return perSec, burst
}

// NotifySettings configures push notifications for ingested events.
type NotifySettings struct {
	// Enabled turns on web push dispatch for ingested events.
	Enabled bool `toml:"enabled"`

	// Templates maps an event kind to a notification template. Unknown
	// kinds fall back to the "default" entry.
	// Placeholders: {session}, {kind}, {time}, {id}, and any payload key.
	Templates map[string]string `toml:"templates"`
}

// LogSettings configures the rotating log file.
type LogSettings struct {
	// Dir is the log directory. Empty means <awm home>/logs.
	Dir string `toml:"dir"`

	// Level is the minimum level: debug, info, warn, error. Default: info
	Level string `toml:"level"`

	// Format is "text" (default) or "json".
	Format string `toml:"format"`

	// MaxSizeMB rotates the log past this size. Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups keeps this many rotated files. Default: 5
	MaxBackups int `toml:"max_backups"`

	// MaxAgeDays prunes rotated files older than this. Default: 10
	MaxAgeDays int `toml:"max_age_days"`

	// Compress gzips rotated files. Default: false
	Compress bool `toml:"compress"`

	// Debug forces logging on even without an explicit dir.
	Debug bool `toml:"debug"`
}

// Default returns a fresh config with empty maps, ready for defaults to
// apply through the Get accessors.
func Default() *Config {
	return &Config{
		Agents: make(map[string]AgentDef),
		Notify: NotifySettings{Templates: make(map[string]string)},
	}
}

// Dir returns the awm home directory, honoring AWM_HOME.
func Dir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".awm"), nil
}

// Path returns the config file path inside the awm home directory.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// LogDir returns the effective log directory for a loaded config.
func (c *Config) LogDir() string {
	if c.Log.Dir != "" {
		return c.Log.Dir
	}
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "logs")
}

// Manager owns the cached config and its file path.
type Manager struct {
	path string

	mu  sync.RWMutex
	cur *Config
}

// NewManager creates a manager for an explicit config path. Most callers
// want NewDefaultManager.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// NewDefaultManager creates a manager rooted at the awm home directory.
func NewDefaultManager() (*Manager, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return NewManager(path), nil
}

// Path returns the config file path this manager reads and writes.
func (m *Manager) Path() string {
	return m.path
}

// Load returns the cached config, reading the file on first call. A
// missing file is not an error; a malformed file returns defaults plus
// the parse error so the caller can surface it once.
func (m *Manager) Load() (*Config, error) {
	m.mu.RLock()
	if m.cur != nil {
		defer m.mu.RUnlock()
		return m.cur, nil
	}
	m.mu.RUnlock()
	return m.Reload()
}

// Reload re-reads the file, replacing the cache.
func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		m.cur = Default()
		return m.cur, nil
	}

	cfg := Default()
	if _, err := toml.DecodeFile(m.path, cfg); err != nil {
		// Cache defaults so one bad file does not trigger a reparse on
		// every poll tick.
		m.cur = Default()
		return m.cur, fmt.Errorf("%s parse error: %w", FileName, err)
	}
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]AgentDef)
	}
	if cfg.Notify.Templates == nil {
		cfg.Notify.Templates = make(map[string]string)
	}
	m.cur = cfg
	return m.cur, nil
}

// Current returns the cached config without touching the filesystem,
// or defaults when nothing has loaded yet.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return Default()
	}
	return m.cur
}

// Save writes the config atomically: encode to memory, write a temp file,
// fsync, then rename over the final path.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# awm configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	_ = syncFile(tmpPath) // best effort; the rename is the atomic step
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config into place: %w", err)
	}

	m.mu.Lock()
	m.cur = cfg
	m.mu.Unlock()
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
