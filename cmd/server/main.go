// Package main runs the report API server: the HTTP surface, the queue
// workers that generate report files and the cleanup scheduler, all in one
// process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml if present)")
	migrateCmd := flag.String("migrate", "", "run a migration command (up, down, status, version, ...) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *migrateCmd); err != nil {
		slog.Error("report server exited with error", "error", err)
		os.Exit(1)
	}
}

// run loads configuration and either executes a migration command or runs
// the server until ctx is cancelled.
func run(ctx context.Context, configPath, migrateCmd string) error {
	cfg, err := loadAppConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := setupAppLogger(cfg)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		return handleMigrations(ctx, cfg, migrateCmd, logger)
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	app, err := newApplication(startCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}
