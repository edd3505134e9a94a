package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/metmac/config.yaml"

// Overflow policies for a buffer that has reached max_pending.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowRejectNew  = "reject_new"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Config holds all metmac configuration.
type Config struct {
	Buffer  BufferConfig  `yaml:"buffer"`
	Storage StorageConfig `yaml:"storage"`
	Capture CaptureConfig `yaml:"capture"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type BufferConfig struct {
	FlushThreshold       int    `yaml:"flush_threshold"`
	FlushIntervalSeconds int    `yaml:"flush_interval_seconds"`
	MaxPending           int    `yaml:"max_pending"`
	OverflowPolicy       string `yaml:"overflow_policy"`
}

type StorageConfig struct {
	Path          string `yaml:"path"`
	Driver        string `yaml:"driver"`
	SQLiteFile    string `yaml:"sqlite_file"`
	BoltFile      string `yaml:"bolt_file"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

type CaptureConfig struct {
	Input           string   `yaml:"input"`
	WindowCommand   []string `yaml:"window_command"`
	WindowTimeoutMS int      `yaml:"window_timeout_ms"`
	DenylistWindows []string `yaml:"denylist_windows"`
	DenylistRegex   []string `yaml:"denylist_regex"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Stdout bool `yaml:"stdout"`
}

// FlushInterval returns the buffer's time trigger as a duration.
func (b BufferConfig) FlushInterval() time.Duration {
	return time.Duration(b.FlushIntervalSeconds) * time.Second
}

// WindowTimeout returns the focused-window lookup timeout.
func (c CaptureConfig) WindowTimeout() time.Duration {
	return time.Duration(c.WindowTimeoutMS) * time.Millisecond
}

// Addr returns the dashboard listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabasePath returns the expanded path of the file backing the
// configured storage driver.
func (s StorageConfig) DatabasePath() (string, error) {
	dir, err := expandPath(s.Path)
	if err != nil {
		return "", err
	}
	if s.Driver == DriverBolt {
		return filepath.Join(dir, s.BoltFile), nil
	}
	return filepath.Join(dir, s.SQLiteFile), nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	b := c.Buffer
	if b.FlushThreshold <= 0 {
		return fmt.Errorf("buffer.flush_threshold must be positive, got %d", b.FlushThreshold)
	}
	if b.FlushIntervalSeconds <= 0 {
		return fmt.Errorf("buffer.flush_interval_seconds must be positive, got %d", b.FlushIntervalSeconds)
	}
	if b.MaxPending < 0 || (b.MaxPending > 0 && b.MaxPending < b.FlushThreshold) {
		return fmt.Errorf("buffer.max_pending must be 0 (unbounded) or >= flush_threshold, got %d", b.MaxPending)
	}
	switch b.OverflowPolicy {
	case OverflowDropOldest, OverflowRejectNew:
	default:
		return fmt.Errorf("buffer.overflow_policy must be %q or %q, got %q", OverflowDropOldest, OverflowRejectNew, b.OverflowPolicy)
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverBolt:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverSQLite, DriverBolt, c.Storage.Driver)
	}
	if c.Storage.MaxOpenConns <= 0 {
		return fmt.Errorf("storage.max_open_conns must be positive, got %d", c.Storage.MaxOpenConns)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML, or
// holds invalid values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}

	return cfg, nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
