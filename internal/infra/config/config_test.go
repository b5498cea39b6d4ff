package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Gateway.URL != "ws://127.0.0.1:18789" {
		t.Errorf("Gateway.URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.SessionKey != "agent:main:web" {
		t.Errorf("Gateway.SessionKey = %q", cfg.Gateway.SessionKey)
	}
	if cfg.Chat.TypingTimeout != "90s" {
		t.Errorf("Chat.TypingTimeout = %q", cfg.Chat.TypingTimeout)
	}
	if cfg.Chat.HistoryLimit != 50 {
		t.Errorf("Chat.HistoryLimit = %d", cfg.Chat.HistoryLimit)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/tmp/nonexistent-openclaw-config-12345.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.URL != "ws://127.0.0.1:18789" {
		t.Errorf("expected defaults, got URL=%q", cfg.Gateway.URL)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
gateway:
  url: "wss://gw.example.com:18789"
  token: "secret"
  session_key: "agent:main:tty"
client:
  request_timeout: "15s"
  max_reconnects: 3
chat:
  typing_timeout: "2m"
logger:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.URL != "wss://gw.example.com:18789" {
		t.Errorf("URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.Token != "secret" {
		t.Errorf("Token = %q", cfg.Gateway.Token)
	}
	if cfg.Client.RequestTimeout != "15s" {
		t.Errorf("RequestTimeout = %q", cfg.Client.RequestTimeout)
	}
	if cfg.Client.MaxReconnects != 3 {
		t.Errorf("MaxReconnects = %d", cfg.Client.MaxReconnects)
	}
	if cfg.Chat.TypingTimeout != "2m" {
		t.Errorf("TypingTimeout = %q", cfg.Chat.TypingTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Chat.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d, want default 50", cfg.Chat.HistoryLimit)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q", cfg.Logger.Format)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("gateway: [not: a map"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"bad duration", func(c *Config) { c.Client.RequestTimeout = "thirty seconds" }, true},
		{"bad typing timeout", func(c *Config) { c.Chat.TypingTimeout = "90" }, true},
		{"negative reconnects", func(c *Config) { c.Client.MaxReconnects = -1 }, true},
		{"negative history", func(c *Config) { c.Chat.HistoryLimit = -5 }, true},
		{"bad logger format", func(c *Config) { c.Logger.Format = "xml" }, true},
		{"empty durations allowed", func(c *Config) { c.Chat.TypingTimeout = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("45s", time.Second); got != 45*time.Second {
		t.Errorf("Duration(45s) = %v", got)
	}
	if got := Duration("", 7*time.Second); got != 7*time.Second {
		t.Errorf("Duration empty = %v", got)
	}
	if got := Duration("garbage", 7*time.Second); got != 7*time.Second {
		t.Errorf("Duration garbage = %v", got)
	}
}
