package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/knightafter/openClaw-web-interface/internal/chat"
	"github.com/knightafter/openClaw-web-interface/internal/gateway"
	"github.com/knightafter/openClaw-web-interface/internal/infra/config"
	"github.com/knightafter/openClaw-web-interface/internal/infra/logger"
	"github.com/knightafter/openClaw-web-interface/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath  = flag.String("config", "config.yaml", "path to config file")
		url      = flag.String("url", "", "gateway WebSocket URL (overrides config)")
		token    = flag.String("token", "", "gateway auth token (overrides config)")
		session  = flag.String("session", "", "session key (overrides config)")
		logLevel = flag.String("log-level", "", "log level: debug, info, warn, error")
	)
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *url != "" {
		cfg.Gateway.URL = *url
	}
	if *token != "" {
		cfg.Gateway.Token = *token
	}
	if *session != "" {
		cfg.Gateway.SessionKey = *session
	}
	if tok := os.Getenv("OPENCLAW_GATEWAY_TOKEN"); tok != "" && cfg.Gateway.Token == "" {
		cfg.Gateway.Token = tok
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	// 3. Gateway client
	client := gateway.New(gateway.Config{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		SessionKey:     cfg.Gateway.SessionKey,
		RequestTimeout: config.Duration(cfg.Client.RequestTimeout, 30*time.Second),
		ConnectTimeout: config.Duration(cfg.Client.ConnectTimeout, 10*time.Second),
		ChallengeWait:  config.Duration(cfg.Client.ChallengeWait, 3*time.Second),
		ReconnectBase:  config.Duration(cfg.Client.ReconnectBase, time.Second),
		MaxReconnects:  cfg.Client.MaxReconnects,
	}, log)
	defer client.Disconnect()

	// 4. Chat session
	sess := chat.NewSession(client, chat.Config{
		TypingTimeout: config.Duration(cfg.Chat.TypingTimeout, 90*time.Second),
		HistoryLimit:  cfg.Chat.HistoryLimit,
		SendsPerMin:   cfg.Chat.SendsPerMin,
		SendBurst:     cfg.Chat.SendBurst,
	}, log)
	defer sess.Close()

	// Connect before entering the UI so an immediate auth failure is
	// visible on the terminal; transient failures are retried by the
	// client's own reconnect loop once the first dial succeeds.
	ctx, cancel := context.WithTimeout(context.Background(),
		config.Duration(cfg.Client.ConnectTimeout, 10*time.Second)+5*time.Second)
	if err := client.Connect(ctx); err != nil {
		cancel()
		log.Warn("initial connect failed", "error", err)
	} else {
		sess.LoadHistory(ctx)
		cancel()
	}

	// 5. TUI
	p := tea.NewProgram(tui.New(sess), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
