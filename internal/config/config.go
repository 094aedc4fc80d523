package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Queue    QueueConfig   `yaml:"queue"`
	Scan     ScanConfig    `yaml:"scan"`
	Publish  PublishConfig `yaml:"publish"`
}

// QueueConfig holds operation engine settings.
type QueueConfig struct {
	Size           int           `yaml:"size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`
}

// ScanConfig holds passive scanning settings.
type ScanConfig struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
	Pause   time.Duration `yaml:"pause"`
}

// PublishConfig holds result publishing settings.
type PublishConfig struct {
	Topic            string        `yaml:"topic"`
	Output           string        `yaml:"output"` // "-" for stdout, otherwise a file path
	Advertisements   bool          `yaml:"advertisements"`
	AdvertsPerSecond float64       `yaml:"adverts_per_second"`
	AdvertBurst      int           `yaml:"advert_burst"`
	SeenCacheSize    int           `yaml:"seen_cache_size"`
	RepeatInterval   time.Duration `yaml:"repeat_interval"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blemux")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Queue: QueueConfig{
			Size:           16,
			ConnectTimeout: 10 * time.Second,
			NotifyTimeout:  10 * time.Second,
		},
		Scan: ScanConfig{
			Enabled: true,
			Window:  20 * time.Second,
			Pause:   time.Second,
		},
		Publish: PublishConfig{
			Topic:            "tele/blemux/SENSOR",
			Output:           "-",
			Advertisements:   true,
			AdvertsPerSecond: 5,
			AdvertBurst:      10,
			SeenCacheSize:    256,
			RepeatInterval:   time.Minute,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in publish.output is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Publish.Output = expandTilde(cfg.Publish.Output)

	return cfg, nil
}

const defaultHeader = `# blemux configuration
# Durations use Go syntax: 500ms, 10s, 1m.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config file already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue.size must be > 0")
	}
	if c.Queue.ConnectTimeout <= 0 {
		return fmt.Errorf("queue.connect_timeout must be > 0")
	}
	if c.Queue.NotifyTimeout <= 0 {
		return fmt.Errorf("queue.notify_timeout must be > 0")
	}

	if c.Scan.Enabled {
		if c.Scan.Window <= 0 {
			return fmt.Errorf("scan.window must be > 0")
		}
		if c.Scan.Pause < 0 {
			return fmt.Errorf("scan.pause must not be negative")
		}
	}

	if c.Publish.Topic == "" {
		return fmt.Errorf("publish.topic must not be empty")
	}
	if c.Publish.Output == "" {
		return fmt.Errorf("publish.output must not be empty, use \"-\" for stdout")
	}
	if c.Publish.Advertisements {
		if c.Publish.AdvertsPerSecond < 0 {
			return fmt.Errorf("publish.adverts_per_second must not be negative")
		}
		if c.Publish.AdvertBurst <= 0 {
			return fmt.Errorf("publish.advert_burst must be > 0")
		}
		if c.Publish.SeenCacheSize <= 0 {
			return fmt.Errorf("publish.seen_cache_size must be > 0")
		}
		if c.Publish.RepeatInterval < 0 {
			return fmt.Errorf("publish.repeat_interval must not be negative")
		}
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
