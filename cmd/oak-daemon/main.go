// ABOUTME: Entry point for the oak-daemon local process
// ABOUTME: Holds the outbound relay connection and executes tool calls locally

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/oakhq/oak-relay/internal/config"
	"github.com/oakhq/oak-relay/internal/daemon"
	"github.com/oakhq/oak-relay/internal/protocol"
	"github.com/oakhq/oak-relay/internal/tool"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the daemon config file.
// Priority: OAK_DAEMON_CONFIG env var > XDG_CONFIG_HOME/oak-relay/daemon.yaml > ~/.config/oak-relay/daemon.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OAK_DAEMON_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "daemon.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "oak-relay", "daemon.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: oak-daemon <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  connect    Connect to the relay and serve tool calls")
		fmt.Println("  status     Show whether the relay sees this project online")
		fmt.Println("  url        Print the configured relay base URL")
		fmt.Println("  version    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "connect":
		err = runConnect(ctx)
	case "status":
		err = runStatus(ctx)
	case "url":
		err = runURL()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runConnect(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.LoadDaemon(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Print("  ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("  ▶ ")
	fmt.Printf("Relay:   %s\n", cfg.BaseURL)
	green.Print("  ▶ ")
	fmt.Printf("Project: ")
	cyan.Println(cfg.Project)
	green.Print("  ▶ ")
	fmt.Printf("Tools:   %s\n", cfg.Tools.BaseURL)
	fmt.Println()

	logger.Info("starting oak-daemon",
		"config", configPath,
		"relay", cfg.BaseURL,
		"project", cfg.Project,
	)

	exec := tool.NewHTTPExecutor(cfg.Tools.BaseURL)
	dispatcher := daemon.NewDispatcher(exec, logger.With("component", "dispatcher"))

	mgr := daemon.NewManager(daemon.Config{
		BaseURL:           cfg.BaseURL,
		Project:           cfg.Project,
		RelayToken:        cfg.RelayToken,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		MissThreshold:     cfg.Relay.MissThreshold,
	}, daemon.WebsocketDialer{}, dispatcher, logger.With("component", "manager"))

	mgr.OnStateChange(func(s daemon.ConnState) {
		logger.Info("connection state changed", "state", s)
	})

	return mgr.Run(ctx)
}

// runStatus asks the edge's health endpoint whether this project's daemon is
// online. Useful from a second terminal while connect runs in the first.
func runStatus(ctx context.Context) error {
	cfg, err := config.LoadDaemon(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(protocol.HeaderProject, cfg.Project)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reaching relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var hs struct {
		Project string `json:"project"`
		Online  bool   `json:"online"`
	}
	if err := json.Unmarshal(body, &hs); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if hs.Online {
		color.New(color.FgGreen).Printf("project %q: online\n", hs.Project)
	} else {
		color.New(color.FgYellow).Printf("project %q: offline\n", hs.Project)
	}
	return nil
}

func runURL() error {
	cfg, err := config.LoadDaemon(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	fmt.Println(cfg.BaseURL)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
