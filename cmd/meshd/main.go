// ABOUTME: Entry point for the toolmesh daemon.
// ABOUTME: Serves registered tools on the configured channels until interrupted.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/tonklabs/toolmesh/internal/config"
	"github.com/tonklabs/toolmesh/internal/node"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _         _
  _ __ ___   ___  ___ ___| |__   __| |
 | '_ ' _ \ / _ \/ __/ __| '_ \ / _' |
 | | | | | |  __/\__ \__ \ | | | (_| |
 |_| |_| |_|\___||___/___/_| |_|\__,_|
`

// getConfigPath returns the path to the daemon config file.
// Priority: MESHD_CONFIG env var > XDG_CONFIG_HOME/toolmesh/meshd.yaml > ~/.config/toolmesh/meshd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MESHD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "meshd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolmesh", "meshd.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: meshd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the mesh node")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Channels: %v\n", cfg.Channels.Serve)
	fmt.Println()

	n, err := node.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	logger.Info("starting meshd",
		"config", configPath,
		"address", n.Identity().Address(),
		"channels", cfg.Channels.Serve,
	)

	return n.Run(ctx)
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
