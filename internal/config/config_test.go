package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/watchy-server/internal/ble"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Adapter != "hci0" {
		t.Errorf("Adapter = %q, want %q", cfg.Adapter, "hci0")
	}
	if cfg.Advertise.Mode != "balanced" {
		t.Errorf("Advertise.Mode = %q, want %q", cfg.Advertise.Mode, "balanced")
	}
	if cfg.Advertise.TxPower != "medium" {
		t.Errorf("Advertise.TxPower = %q, want %q", cfg.Advertise.TxPower, "medium")
	}
	if !cfg.Advertise.Connectable {
		t.Error("Advertise.Connectable should default to true")
	}
	if cfg.Advertise.Timeout != 0 {
		t.Errorf("Advertise.Timeout = %d, want 0", cfg.Advertise.Timeout)
	}
	if !cfg.Notifications.Enabled || cfg.Notifications.CacheSize != 64 {
		t.Errorf("Notifications = %+v, want enabled with cache_size 64", cfg.Notifications)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestDefaultMatchesBLEDefaults(t *testing.T) {
	if got := Default().AdvertiseSettings(); got != ble.DefaultAdvertiseSettings() {
		t.Errorf("AdvertiseSettings() = %+v, want %+v", got, ble.DefaultAdvertiseSettings())
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
adapter: hci1
advertise:
  mode: low_latency
  tx_power: high
  connectable: false
  timeout_ms: 30000
notifications:
  enabled: false
  cache_size: 8
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Adapter != "hci1" {
		t.Errorf("Adapter = %q, want %q", cfg.Adapter, "hci1")
	}
	if cfg.Notifications.Enabled || cfg.Notifications.CacheSize != 8 {
		t.Errorf("Notifications = %+v", cfg.Notifications)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	s := cfg.AdvertiseSettings()
	if s.Mode != ble.AdvertiseModeLowLatency || s.TxPower != ble.TxPowerHigh || s.Connectable || s.Timeout != 30*time.Second {
		t.Errorf("AdvertiseSettings() = %+v", s)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.Adapter != "hci0" || cfg.Advertise.Mode != "balanced" || !cfg.Advertise.Connectable {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if err := os.WriteFile(filepath.Join(tmpHome, "watchy.yaml"), []byte("adapter: hci2\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/watchy.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Adapter != "hci2" {
		t.Errorf("Adapter = %q, want hci2", cfg.Adapter)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Adapter != "hci0" {
		t.Errorf("LoadOrDefault() Adapter = %q, want default", cfg.Adapter)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("adapter: [unterminated\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := LoadOrDefault(bad); err == nil {
		t.Error("LoadOrDefault() should report parse errors")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty adapter",
			modify:  func(c *Config) { c.Adapter = "" },
			wantErr: true,
		},
		{
			name:    "invalid advertise mode",
			modify:  func(c *Config) { c.Advertise.Mode = "fast" },
			wantErr: true,
		},
		{
			name:    "invalid tx power",
			modify:  func(c *Config) { c.Advertise.TxPower = "max" },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			modify:  func(c *Config) { c.Advertise.Timeout = -1 },
			wantErr: true,
		},
		{
			name:    "timeout over the controller limit",
			modify:  func(c *Config) { c.Advertise.Timeout = 180001 },
			wantErr: true,
		},
		{
			name:    "zero cache size",
			modify:  func(c *Config) { c.Notifications.CacheSize = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "low power mode",
			modify:  func(c *Config) { c.Advertise.Mode = "low_power" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "watchy-server", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# watchy-server") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Advertise.Mode != "balanced" {
		t.Errorf("written config Advertise.Mode = %q, want %q", cfg.Advertise.Mode, "balanced")
	}
	if cfg.Notifications.CacheSize != 64 {
		t.Errorf("written config Notifications.CacheSize = %d, want 64", cfg.Notifications.CacheSize)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "watchy-server")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("adapter: hci3\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
