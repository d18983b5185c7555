package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultBroadcastInterval = 5 * time.Second
	DefaultSendTimeout       = 10 * time.Second
	DefaultWebSocketPath     = "/ws/stream"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultFeedDays          = 5

	maxFeedDays = 30
)

// Config is the full contents of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Feed   FeedConfig   `yaml:"feed"`
}

// ServerConfig holds the listener and broadcast settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, metrics and WebSocket endpoint listen on.
	HTTPPort int `yaml:"http_port"`

	// BroadcastInterval is the time between broadcast ticks (default 5s).
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// SendTimeout bounds one send to one client (default 10s).
	SendTimeout time.Duration `yaml:"send_timeout"`

	// MaxConnections caps concurrent WebSocket clients. Zero means unlimited.
	MaxConnections int `yaml:"max_connections"`

	// WebSocketPath is where the WebSocket endpoint is mounted.
	WebSocketPath string `yaml:"websocket_path"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
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

// FeedConfig shapes the broadcast data.
type FeedConfig struct {
	// Days is the number of forecast entries per snapshot (1..30, default 5).
	Days int `yaml:"days"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
			SendTimeout:       DefaultSendTimeout,
			WebSocketPath:     DefaultWebSocketPath,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Feed: FeedConfig{
			Days: DefaultFeedDays,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive, got %v", s.BroadcastInterval)
	}
	if s.SendTimeout <= 0 {
		return fmt.Errorf("server.send_timeout must be positive, got %v", s.SendTimeout)
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if !strings.HasPrefix(s.WebSocketPath, "/") {
		return fmt.Errorf("server.websocket_path %q must start with /", s.WebSocketPath)
	}
	if s.WebSocketPath == "/api/" || s.WebSocketPath == "/metrics" {
		return fmt.Errorf("server.websocket_path %q collides with a built-in route", s.WebSocketPath)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	if cfg.Feed.Days < 1 || cfg.Feed.Days > maxFeedDays {
		return fmt.Errorf("feed.days %d is out of range [1, %d]", cfg.Feed.Days, maxFeedDays)
	}
	return nil
}
