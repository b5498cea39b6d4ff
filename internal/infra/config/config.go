// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Client  ClientConfig  `yaml:"client"`
	Chat    ChatConfig    `yaml:"chat"`
	Logger  LoggerConfig  `yaml:"logger"`
}

// GatewayConfig identifies the gateway endpoint and credentials.
type GatewayConfig struct {
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`
	SessionKey string `yaml:"session_key"`
}

// ClientConfig holds protocol client timeouts and reconnect policy.
// Durations are strings ("30s", "1m"); empty means the client default.
type ClientConfig struct {
	RequestTimeout string `yaml:"request_timeout"`
	ConnectTimeout string `yaml:"connect_timeout"`
	ChallengeWait  string `yaml:"challenge_wait"`
	ReconnectBase  string `yaml:"reconnect_base"`
	MaxReconnects  int    `yaml:"max_reconnects"`
}

// ChatConfig holds session-layer settings.
type ChatConfig struct {
	TypingTimeout string  `yaml:"typing_timeout"` // waiting-indicator backstop
	HistoryLimit  int     `yaml:"history_limit"`
	SendsPerMin   float64 `yaml:"sends_per_min"` // outbound send throttle
	SendBurst     int     `yaml:"send_burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Gateway: GatewayConfig{
			URL:        "ws://127.0.0.1:18789",
			SessionKey: "agent:main:web",
		},
		Chat: ChatConfig{
			TypingTimeout: "90s",
			HistoryLimit:  50,
			SendsPerMin:   30,
			SendBurst:     5,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error: the defaults are returned so the CLI flags can fill in
// the rest.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field formats. URL presence is checked at startup
// after flag overrides, not here.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"client.request_timeout": c.Client.RequestTimeout,
		"client.connect_timeout": c.Client.ConnectTimeout,
		"client.challenge_wait":  c.Client.ChallengeWait,
		"client.reconnect_base":  c.Client.ReconnectBase,
		"chat.typing_timeout":    c.Chat.TypingTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.Client.MaxReconnects < 0 {
		return fmt.Errorf("config: client.max_reconnects must not be negative")
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("config: chat.history_limit must not be negative")
	}
	switch c.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: logger.format must be text or json, got %q", c.Logger.Format)
	}
	return nil
}

// Duration parses a duration string, falling back when empty or invalid.
// Validate has already rejected invalid strings from files; the
// fallback covers programmatic construction.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
