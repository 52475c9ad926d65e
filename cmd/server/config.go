package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/report-api/internal/config"
)

// loadAppConfig loads the application configuration from environment
// variables and the optional config file.
func loadAppConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"queue_backend", cfg.Queue.Backend,
		"storage_backend", cfg.Storage.Backend)

	if cfg.Database.URL != "" {
		slog.Debug("Database configuration", "url_present", true)
	}
	if cfg.Source.Driver != "" {
		slog.Debug("Report source configuration", "driver", cfg.Source.Driver)
	}

	return cfg, nil
}
