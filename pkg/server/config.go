package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use "30s" / "1m" syntax.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"` // TCP bind address (e.g. ":5000")
	DBPath     string `yaml:"db_path"`     // SQLite database path

	MaxAuthAttempts          int      `yaml:"max_auth_attempts"`           // failed handshake attempts before the connection is closed
	AuthTimeout              Duration `yaml:"auth_timeout"`                // whole-handshake deadline
	WriteTimeout             Duration `yaml:"write_timeout"`               // per-frame socket write deadline
	OutboundQueueDepth       int      `yaml:"outbound_queue_depth"`        // backpressure bound per session
	IncludeSenderInBroadcast bool     `yaml:"include_sender_in_broadcast"` // echo broadcasts back to the sender
	HistoryLimit             int      `yaml:"history_limit"`               // messages replayed on login, 0 disables
	ShutdownGrace            Duration `yaml:"shutdown_grace"`              // wait for sessions to drain on shutdown

	MetricsAddr string `yaml:"metrics_addr"` // HTTP bind address for /metrics (empty = disabled)

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":5000",
		DBPath:             "chat.db",
		MaxAuthAttempts:    3,
		AuthTimeout:        Duration(60 * time.Second),
		WriteTimeout:       Duration(10 * time.Second),
		OutboundQueueDepth: 64,
		HistoryLimit:       20,
		ShutdownGrace:      Duration(5 * time.Second),
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.MaxAuthAttempts < 1 {
		return fmt.Errorf("config: max_auth_attempts must be at least 1")
	}
	if c.OutboundQueueDepth < 1 {
		return fmt.Errorf("config: outbound_queue_depth must be at least 1")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("config: auth_timeout must be positive")
	}
	return nil
}
