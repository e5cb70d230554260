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

	"github.com/chaz8081/watchy-server/internal/ble"
)

// Config holds all application configuration. The GATT service and
// characteristic UUIDs are fixed and deliberately absent.
type Config struct {
	Adapter       string              `yaml:"adapter"`
	Advertise     AdvertiseConfig     `yaml:"advertise"`
	Notifications NotificationsConfig `yaml:"notifications"`
	LogLevel      string              `yaml:"log_level"`
}

// AdvertiseConfig holds advertising radio settings. The payload itself
// always carries only the service UUID.
type AdvertiseConfig struct {
	Mode        string `yaml:"mode"`     // "low_power", "balanced" or "low_latency"
	TxPower     string `yaml:"tx_power"` // "ultra_low", "low", "medium" or "high"
	Connectable bool   `yaml:"connectable"`
	Timeout     int    `yaml:"timeout_ms"` // 0 = advertise until stopped
}

// NotificationsConfig holds desktop notification capture settings.
type NotificationsConfig struct {
	Enabled   bool `yaml:"enabled"`
	CacheSize int  `yaml:"cache_size"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "watchy-server")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Adapter: "hci0",
		Advertise: AdvertiseConfig{
			Mode:        "balanced",
			TxPower:     "medium",
			Connectable: true,
		},
		Notifications: NotificationsConfig{
			Enabled:   true,
			CacheSize: 64,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Adapter == "" {
		return fmt.Errorf("adapter must not be empty")
	}

	if _, err := c.AdvertiseMode(); err != nil {
		return err
	}
	if _, err := c.TxPowerLevel(); err != nil {
		return err
	}

	if c.Advertise.Timeout < 0 || c.Advertise.Timeout > 180000 {
		return fmt.Errorf("advertise.timeout_ms must be between 0 and 180000, got %d", c.Advertise.Timeout)
	}

	if c.Notifications.CacheSize <= 0 {
		return fmt.Errorf("notifications.cache_size must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// AdvertiseMode maps advertise.mode to its ble value.
func (c *Config) AdvertiseMode() (ble.AdvertiseMode, error) {
	switch c.Advertise.Mode {
	case "low_power":
		return ble.AdvertiseModeLowPower, nil
	case "balanced":
		return ble.AdvertiseModeBalanced, nil
	case "low_latency":
		return ble.AdvertiseModeLowLatency, nil
	default:
		return 0, fmt.Errorf("advertise.mode must be \"low_power\", \"balanced\" or \"low_latency\", got %q", c.Advertise.Mode)
	}
}

// TxPowerLevel maps advertise.tx_power to its ble value.
func (c *Config) TxPowerLevel() (ble.TxPowerLevel, error) {
	switch c.Advertise.TxPower {
	case "ultra_low":
		return ble.TxPowerUltraLow, nil
	case "low":
		return ble.TxPowerLow, nil
	case "medium":
		return ble.TxPowerMedium, nil
	case "high":
		return ble.TxPowerHigh, nil
	default:
		return 0, fmt.Errorf("advertise.tx_power must be \"ultra_low\", \"low\", \"medium\" or \"high\", got %q", c.Advertise.TxPower)
	}
}

// AdvertiseSettings builds the advertising settings. Call Validate first;
// invalid values fall back to the defaults.
func (c *Config) AdvertiseSettings() ble.AdvertiseSettings {
	s := ble.DefaultAdvertiseSettings()
	if mode, err := c.AdvertiseMode(); err == nil {
		s.Mode = mode
	}
	if tx, err := c.TxPowerLevel(); err == nil {
		s.TxPower = tx
	}
	s.Connectable = c.Advertise.Connectable
	s.Timeout = time.Duration(c.Advertise.Timeout) * time.Millisecond
	return s
}

// ParseLogLevel converts a log level string to slog.Level. Unknown values
// default to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

const defaultHeader = `# watchy-server configuration
#
# The Watchy service and characteristic UUIDs are fixed and cannot be set here.
# advertise.mode:     low_power | balanced | low_latency
# advertise.tx_power: ultra_low | low | medium | high
# log_level:          debug | info | warn | error

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
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
