package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Source   SourceConfig   `mapstructure:"source"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup" validate:"required"`
	Jobs     JobsConfig     `mapstructure:"jobs" validate:"required"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig configures the Postgres database holding jobs, templates
// and the durable queue. An empty URL selects the in-memory stores.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig holds the key used to verify caller tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// QueueConfig selects the queue backend and its delivery policy.
type QueueConfig struct {
	Backend         string        `mapstructure:"backend" validate:"required,oneof=memory postgres"`
	WorkerCount     int           `mapstructure:"worker_count" validate:"gte=1,lte=64"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	Backoff         string        `mapstructure:"backoff" validate:"required,oneof=exponential fixed"`
	BaseDelay       time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	RetainCompleted int           `mapstructure:"retain_completed" validate:"gte=0"`
	RetainFailed    int           `mapstructure:"retain_failed" validate:"gte=0"`
	RecoverOrphans  bool          `mapstructure:"recover_orphans"`
	OrphanAge       time.Duration `mapstructure:"orphan_age" validate:"gt=0"`
}

// StorageConfig selects where generated files are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" validate:"required,oneof=local s3"`
	LocalRoot string `mapstructure:"local_root" validate:"required_if=Backend local"`
	S3Bucket  string `mapstructure:"s3_bucket" validate:"required_if=Backend s3"`
	S3Region  string `mapstructure:"s3_region"`
}

// SourceConfig points at the database report rows are read from. An empty
// DSN reuses the application database.
type SourceConfig struct {
	Driver       string        `mapstructure:"driver" validate:"omitempty,oneof=pgx mysql sqlite"`
	DSN          string        `mapstructure:"dsn"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" validate:"gt=0"`
	MaxRows      int           `mapstructure:"max_rows" validate:"gte=1"`
}

// CleanupConfig sets the reaper intervals and age thresholds.
type CleanupConfig struct {
	ExpiredInterval  time.Duration `mapstructure:"expired_interval" validate:"gt=0"`
	StaleInterval    time.Duration `mapstructure:"stale_interval" validate:"gt=0"`
	StaleAfter       time.Duration `mapstructure:"stale_after" validate:"gt=0"`
	TerminalInterval time.Duration `mapstructure:"terminal_interval" validate:"gt=0"`
	TerminalAge      time.Duration `mapstructure:"terminal_age" validate:"gt=0"`
}

// JobsConfig holds job record settings.
type JobsConfig struct {
	TTL                  time.Duration `mapstructure:"ttl" validate:"gt=0"`
	EnqueueRatePerMinute int           `mapstructure:"enqueue_rate_per_minute" validate:"gte=0"`
	EnqueueBurst         int           `mapstructure:"enqueue_burst" validate:"gte=0"`
	FilterCacheTTL       time.Duration `mapstructure:"filter_cache_ttl" validate:"gt=0"`
}

// CatalogConfig optionally replaces the built-in report catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}
