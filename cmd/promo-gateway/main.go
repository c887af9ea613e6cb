// ABOUTME: Entry point for the promo-gateway daemon
// ABOUTME: Loads config, opens the store and runs the bot and publisher

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/enzopromo/promo-gateway/internal/catalog"
	"github.com/enzopromo/promo-gateway/internal/config"
	"github.com/enzopromo/promo-gateway/internal/intake"
	"github.com/enzopromo/promo-gateway/internal/matrix"
	"github.com/enzopromo/promo-gateway/internal/moderation"
	"github.com/enzopromo/promo-gateway/internal/scheduler"
	"github.com/enzopromo/promo-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _ __  _ __ ___  _ __ ___   ___         __ _  __ _| |_ _____      ____ _ _   _
 | '_ \| '__/ _ \| '_ ' _ \ / _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | |_) | | | (_) | | | | | | (_) |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 | .__/|_|  \___/|_| |_| |_|\___/       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
 |_|                                    |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: PROMOGW_CONFIG env var > XDG_CONFIG_HOME/promogw/gateway.yaml > ~/.config/promogw/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PROMOGW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "promogw", "gateway.yaml")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Publish:    every %s to %d room(s)\n",
		cfg.Publish.Interval, len(cfg.Publish.Destinations))
	fmt.Println()

	logger.Info("starting promo-gateway",
		"config", configPath,
		"homeserver", cfg.Matrix.Homeserver,
		"operators", len(cfg.Moderation.Operators),
	)

	// The store is the only component whose init failure is fatal.
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	if cfg.Matrix.DataDir == "" {
		cfg.Matrix.DataDir = filepath.Dir(cfg.Database.Path)
	}

	bot, err := matrix.New(cfg.Matrix, cfg.Moderation.Room, logger)
	if err != nil {
		return fmt.Errorf("creating matrix bot: %w", err)
	}

	intakeSvc := intake.New(intake.Options{
		Store:      st,
		Catalog:    cat,
		Operators:  bot,
		Payments:   cfg.Payments,
		RateWindow: cfg.Limits.Window,
		RateMax:    cfg.Limits.MaxPerWindow,
		Logger:     logger,
	})
	mod := moderation.New(st, cfg.Moderation.Operators, bot, logger)
	bot.Attach(intakeSvc, mod)

	publisher := scheduler.New(st, bot.Destinations(cfg.Publish.Destinations),
		bot, cfg.Publish.Interval, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		publisher.Run(ctx)
	}()

	err = bot.Run(ctx)
	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("running matrix bot: %w", err)
	}
	logger.Info("promo-gateway stopped")
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
