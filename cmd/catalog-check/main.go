// Command catalog-check loads the report catalog and runs every report
// query once against the configured report source, so a broken catalog or
// schema drift is caught before the server starts serving it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/config"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/platform/sqlsource"
	"github.com/phrazzld/report-api/internal/redact"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	failed, err := check(ctx, cfg, l)
	if err != nil {
		l.Error("catalog check aborted", "error", redact.Error(err))
		os.Exit(1)
	}
	if failed > 0 {
		l.Error("catalog check failed", "failed_reports", failed)
		os.Exit(1)
	}
	l.Info("catalog check passed")
}

// check returns the number of report types whose query failed.
func check(ctx context.Context, cfg *config.Config, l *slog.Logger) (int, error) {
	registry, err := loadCatalog(cfg)
	if err != nil {
		return 0, err
	}
	l.Info("catalog loaded", "report_types", len(registry.Types()))

	driver, dsn := cfg.Source.Driver, cfg.Source.DSN
	if driver == "" {
		driver, dsn = sqlsource.DriverPostgres, cfg.Database.URL
	}
	if dsn == "" {
		return 0, errors.New("no report source configured: set source.dsn or database.url")
	}

	// One row is enough to prove the query runs; hitting the cap counts as success.
	src, err := sqlsource.Open(ctx, driver, dsn, sqlsource.Options{
		QueryTimeout: cfg.Source.QueryTimeout,
		MaxRows:      1,
	})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			l.Error("Error closing report source", "error", err)
		}
	}()

	failed := 0
	for _, reportType := range registry.Types() {
		def, err := registry.Get(reportType)
		if err != nil {
			return failed, err
		}

		start := time.Now()
		_, err = src.FetchRows(ctx, def, nil, "")
		log := l.With("report_type", reportType, "duration_ms", time.Since(start).Milliseconds())
		if err != nil && !errors.Is(err, sqlsource.ErrRowLimit) {
			failed++
			log.Error("report query failed", "error", redact.Error(err))
			continue
		}
		log.Info("report query ok")
	}
	return failed, nil
}

func loadCatalog(cfg *config.Config) (*catalog.Registry, error) {
	if cfg.Catalog.Path == "" {
		return catalog.LoadDefault()
	}
	registry, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", cfg.Catalog.Path, err)
	}
	return registry, nil
}
