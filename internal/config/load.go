package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so queue.worker_count
// is read from REPORTS_QUEUE_WORKER_COUNT.
const EnvPrefix = "REPORTS"

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables take precedence over values
// from the config file. Returns a populated Config struct or an error if
// loading/validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile behaves like Load but reads the given config file instead of
// searching for config.yaml. An empty path searches the working directory.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs the struct tag rules plus the checks that span sections.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Queue.Backend == "postgres" && c.Database.URL == "" {
		return errors.New("invalid configuration: queue.backend=postgres requires database.url")
	}
	if c.Source.Driver != "" && c.Source.DSN == "" {
		return errors.New("invalid configuration: source.driver requires source.dsn")
	}
	return nil
}

// setDefaults registers a default for every key. Keys without a default are
// invisible to AutomaticEnv during Unmarshal, so empty strings are set too.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.worker_count", 4)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff", "exponential")
	v.SetDefault("queue.base_delay", 5*time.Second)
	v.SetDefault("queue.retain_completed", 100)
	v.SetDefault("queue.retain_failed", 50)
	v.SetDefault("queue.recover_orphans", false)
	v.SetDefault("queue.orphan_age", time.Minute)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_root", "./data")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "")

	v.SetDefault("source.driver", "")
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.query_timeout", 30*time.Second)
	v.SetDefault("source.max_rows", 100000)

	v.SetDefault("cleanup.expired_interval", 24*time.Hour)
	v.SetDefault("cleanup.stale_interval", 30*time.Minute)
	v.SetDefault("cleanup.stale_after", time.Hour)
	v.SetDefault("cleanup.terminal_interval", 7*24*time.Hour)
	v.SetDefault("cleanup.terminal_age", 30*24*time.Hour)

	v.SetDefault("jobs.ttl", 7*24*time.Hour)
	v.SetDefault("jobs.enqueue_rate_per_minute", 30)
	v.SetDefault("jobs.enqueue_burst", 5)
	v.SetDefault("jobs.filter_cache_ttl", time.Hour)

	v.SetDefault("catalog.path", "")
}
