package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"slices"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pressly/goose/v3"
)

// MigrationTableName is the goose version table.
const MigrationTableName = "schema_migrations"

//go:embed migrations/*.sql
var migrationFS embed.FS

// gooseLogger forwards goose output to slog. Fatalf does not exit; the
// error is returned to the caller instead.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// MigrationCommands lists the goose commands RunMigrations accepts.
var MigrationCommands = []string{"up", "up-by-one", "down", "redo", "reset", "status", "version"}

func configureGoose(logger *slog.Logger) (*slog.Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	goose.SetLogger(gooseLogger{logger: logger.With("component", "migrations")})
	goose.SetBaseFS(migrationFS)
	goose.SetTableName(MigrationTableName)

	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	return logger, nil
}

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	logger, err := configureGoose(logger)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("database schema is up to date", "version", version)
	return nil
}

// RunMigrations runs one of MigrationCommands against the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	if !slices.Contains(MigrationCommands, command) {
		return fmt.Errorf("unsupported migration command %q", command)
	}
	if _, err := configureGoose(logger); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, "migrations"); err != nil {
		return fmt.Errorf("migration command %s failed: %w", command, err)
	}
	return nil
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	db.SetMaxIdleConns(maxIdle)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return db, nil
}
