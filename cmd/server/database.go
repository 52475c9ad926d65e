package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/report-api/internal/config"
	"github.com/phrazzld/report-api/internal/platform/postgres"
)

// setupAppDatabase connects to Postgres and applies pending migrations when
// auto_migrate is set. It returns nil when no database URL is configured.
func setupAppDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, job records and templates are kept in memory")
		return nil, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	db, err := postgres.Open(pingCtx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// handleMigrations runs a single goose command against the configured
// database and returns.
func handleMigrations(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required to run migrations")
	}

	db, err := postgres.Open(ctx, cfg.Database.URL, 1, 1)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Error("failed to close database connection", "error", cerr)
		}
	}()

	logger.Info("Executing migrations", "command", command)
	if err := postgres.RunMigrations(ctx, db, command, logger); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	return nil
}
