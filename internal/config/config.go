// Package config loads and saves the hegelpm TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all hegelpm configuration.
type Config struct {
	Discovery DiscoveryConfig `toml:"discovery"`
	Server    ServerConfig    `toml:"server"`
	Worker    WorkerConfig    `toml:"worker"`
	Log       LogConfig       `toml:"log"`
}

// DiscoveryConfig controls where and how projects are found.
type DiscoveryConfig struct {
	Roots      []string `toml:"roots"`
	MaxDepth   int      `toml:"max_depth"`
	Exclusions []string `toml:"exclusions"`
	Marker     string   `toml:"marker"`
	// LoadConcurrency bounds parallel project loads in the aggregate view.
	// Zero means GOMAXPROCS.
	LoadConcurrency int `toml:"load_concurrency,omitempty"`
}

// ServerConfig holds web API settings.
type ServerConfig struct {
	Addr           string        `toml:"addr"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	Watch          bool          `toml:"watch"`
	WatchDebounce  time.Duration `toml:"watch_debounce"`
}

// WorkerConfig sizes the request channel of the worker pool.
type WorkerConfig struct {
	ChannelBuffer int `toml:"channel_buffer"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Discovery: DiscoveryConfig{
			Roots:      []string{filepath.Join(home, "Code")},
			MaxDepth:   10,
			Exclusions: []string{"node_modules", "target", ".git", "vendor"},
			Marker:     ".hegel",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:3030",
			RequestTimeout: 30 * time.Second,
			WatchDebounce:  250 * time.Millisecond,
		},
		Worker: WorkerConfig{
			ChannelBuffer: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hegelpm")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "hegelpm")
}

// ConfigPath returns the full path to the config file. HEGELPM_CONFIG
// overrides the default location.
func ConfigPath() string {
	if p := os.Getenv("HEGELPM_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// CacheDir returns the XDG-compliant directory for runtime state such as
// the benchmark history database and the server PID file.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "hegelpm")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "hegelpm")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config at path, returning defaults if it doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	//nolint:gosec // config path is chosen by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	for i, r := range cfg.Discovery.Roots {
		cfg.Discovery.Roots[i] = ExpandHome(r)
	}
	return cfg, nil
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes the config to path.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	//nolint:gosec // config path is chosen by the local user
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return toml.NewEncoder(f).Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// LogLevel returns the log level from HEGELPM_LOG_LEVEL or config, in that order.
func LogLevel(cfg Config) string {
	if lvl := os.Getenv("HEGELPM_LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return cfg.Log.Level
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Concurrency returns the effective load concurrency.
func (d DiscoveryConfig) Concurrency() int {
	if d.LoadConcurrency > 0 {
		return d.LoadConcurrency
	}
	return max(runtime.GOMAXPROCS(0), 1)
}

// Validate checks that every root is a readable directory and that the
// walk bounds are sane.
func (d DiscoveryConfig) Validate() error {
	if len(d.Roots) == 0 {
		return errors.New("at least one discovery root is required")
	}
	if d.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be at least 1, got %d", d.MaxDepth)
	}
	if d.LoadConcurrency < 0 {
		return fmt.Errorf("load_concurrency must not be negative, got %d", d.LoadConcurrency)
	}
	for _, root := range d.Roots {
		info, err := os.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("discovery root %s does not exist", root)
			}
			return fmt.Errorf("discovery root %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("discovery root %s is not a directory", root)
		}
		//nolint:gosec // roots are chosen by the local user
		f, err := os.Open(root)
		if err != nil {
			return fmt.Errorf("discovery root %s is not readable: %w", root, err)
		}
		_ = f.Close()
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if c.Worker.ChannelBuffer < 1 {
		return fmt.Errorf("worker channel_buffer must be at least 1, got %d", c.Worker.ChannelBuffer)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server request_timeout must not be negative")
	}
	return nil
}
