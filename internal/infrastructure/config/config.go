package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the environment variable pointing at an optional config file.
const FileEnv = "THINGHOST_CONFIG"

// Config holds all runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Apps      AppsConfig      `yaml:"apps" toml:"apps"`
	Platforms PlatformsConfig `yaml:"platforms" toml:"platforms"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Port string `envconfig:"THINGHOST_PORT" default:"8891" yaml:"port" toml:"port"`
	Host string `envconfig:"THINGHOST_HOST" default:"127.0.0.1" yaml:"host" toml:"host"`
}

// AppsConfig holds app supervision and persistence configuration.
type AppsConfig struct {
	Dir             string   `envconfig:"THINGHOST_APPS_DIR" default:"./apps" yaml:"dir" toml:"dir"`
	DataDir         string   `envconfig:"THINGHOST_DATA_DIR" default:"./data" yaml:"data_dir" toml:"data_dir"`
	ServerVersion   string   `envconfig:"THINGHOST_SERVER_VERSION" default:"0.11.0" yaml:"server_version" toml:"server_version"`
	ProtocolFloor   string   `envconfig:"THINGHOST_PROTOCOL_FLOOR" default:"0.11.0" yaml:"protocol_floor" toml:"protocol_floor"`
	DisableGrace    Duration `envconfig:"THINGHOST_DISABLE_GRACE" default:"2s" yaml:"disable_grace" toml:"disable_grace"`
	PurgeGrace      Duration `envconfig:"THINGHOST_PURGE_GRACE" default:"1s" yaml:"purge_grace" toml:"purge_grace"`
	PersistDebounce Duration `envconfig:"THINGHOST_PERSIST_DEBOUNCE" default:"500ms" yaml:"persist_debounce" toml:"persist_debounce"`
	Autostart       bool     `envconfig:"THINGHOST_AUTOSTART" default:"true" yaml:"autostart" toml:"autostart"`
}

// PlatformsConfig selects and tunes the device transports.
type PlatformsConfig struct {
	WebSocketEnabled bool     `envconfig:"THINGHOST_WS_ENABLED" default:"true" yaml:"websocket_enabled" toml:"websocket_enabled"`
	WebSocketAddr    string   `envconfig:"THINGHOST_WS_ADDR" default:"0.0.0.0:8892" yaml:"websocket_addr" toml:"websocket_addr"`
	ADBEnabled       bool     `envconfig:"THINGHOST_ADB_ENABLED" default:"false" yaml:"adb_enabled" toml:"adb_enabled"`
	ADBBinary        string   `envconfig:"THINGHOST_ADB_BINARY" default:"adb" yaml:"adb_binary" toml:"adb_binary"`
	ADBPollInterval  Duration `envconfig:"THINGHOST_ADB_POLL" default:"5s" yaml:"adb_poll_interval" toml:"adb_poll_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds HTTP API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// Duration is a time.Duration that decodes from strings such as "500ms"
// in environment variables, YAML and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load reads configuration from the environment and, when THINGHOST_CONFIG
// is set, overlays the named YAML or TOML file.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ApplyFile overlays the values present in a YAML (.yaml, .yml) or TOML
// (.toml) file onto cfg.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config file type: %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8891",
			Host: "127.0.0.1",
		},
		Apps: AppsConfig{
			Dir:             "./apps",
			DataDir:         "./data",
			ServerVersion:   "0.11.0",
			ProtocolFloor:   "0.11.0",
			DisableGrace:    Duration{2 * time.Second},
			PurgeGrace:      Duration{time.Second},
			PersistDebounce: Duration{500 * time.Millisecond},
			Autostart:       true,
		},
		Platforms: PlatformsConfig{
			WebSocketEnabled: true,
			WebSocketAddr:    "0.0.0.0:8892",
			ADBEnabled:       false,
			ADBBinary:        "adb",
			ADBPollInterval:  Duration{5 * time.Second},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
