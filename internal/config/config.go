// Package config assembles service configuration from defaults, an
// optional YAML file, and environment variables, in that order. The
// environment always wins, which is what deployment tooling expects.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/lifecycle"
)

// Config holds all settings for the query service.
type Config struct {
	Env       string `yaml:"env"`
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`

	Log       LogConfig        `yaml:"log"`
	Database  database.Config  `yaml:"database"`
	Lifecycle lifecycle.Config `yaml:"lifecycle"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Env:       "development",
		Port:      3000,
		StaticDir: "public",
		Log: LogConfig{
			Level: "info",
		},
		Database:  database.DefaultConfig(),
		Lifecycle: lifecycle.DefaultConfig(),
	}
}

// Load builds the service configuration. path may be empty; it falls
// back to the CONFIG_FILE environment variable, and no file at all is
// fine — the service is meant to run from environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConfigMissing, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to parse config file", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("APP_ENV", c.Env)
	c.Port = getEnvInt("PORT", c.Port)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	if c.Log.Format == "" {
		// Humans read development logs, machines read the rest.
		if c.Env == "development" {
			c.Log.Format = "console"
		} else {
			c.Log.Format = "json"
		}
	}

	c.Database = databaseFromEnv("DB", c.Database)

	c.Lifecycle.ConnectAttempts = getEnvInt("DB_CONNECT_ATTEMPTS", c.Lifecycle.ConnectAttempts)
	c.Lifecycle.ConnectRetryDelay = getEnvMS("DB_CONNECT_RETRY_DELAY_MS", c.Lifecycle.ConnectRetryDelay)
	c.Lifecycle.KeepaliveInterval = getEnvMS("DB_KEEPALIVE_INTERVAL_MS", c.Lifecycle.KeepaliveInterval)
	c.Lifecycle.ProbeTimeout = getEnvMS("DB_PROBE_TIMEOUT_MS", c.Lifecycle.ProbeTimeout)
	c.Lifecycle.DrainTimeout = getEnvMS("DB_DRAIN_TIMEOUT_MS", c.Lifecycle.DrainTimeout)
}

// databaseFromEnv overlays prefix-scoped environment variables on base.
// The server reads the DB prefix; the batch copier reads SOURCE_DB and
// TARGET_DB through the same function.
func databaseFromEnv(prefix string, base database.Config) database.Config {
	base.Driver = database.Driver(getEnv(prefix+"_DRIVER", string(base.Driver)))
	base.Host = getEnv(prefix+"_HOST", base.Host)
	base.Port = getEnvInt(prefix+"_PORT", base.Port)
	base.Name = getEnv(prefix+"_NAME", base.Name)
	base.User = getEnv(prefix+"_USER", base.User)
	base.Password = getEnv(prefix+"_PASSWORD", base.Password)
	base.SSLMode = getEnv(prefix+"_SSLMODE", base.SSLMode)

	base.MaxConns = int32(getEnvInt(prefix+"_POOL_MAX", int(base.MaxConns)))
	base.MinConns = int32(getEnvInt(prefix+"_POOL_MIN", int(base.MinConns)))
	base.MaxConnLifetime = getEnvMS(prefix+"_MAX_CONN_LIFETIME_MS", base.MaxConnLifetime)
	base.IdleTimeout = getEnvMS(prefix+"_IDLE_TIMEOUT_MS", base.IdleTimeout)
	base.ConnectTimeout = getEnvMS(prefix+"_CONNECT_TIMEOUT_MS", base.ConnectTimeout)
	base.AcquireTimeout = getEnvMS(prefix+"_ACQUIRE_TIMEOUT_MS", base.AcquireTimeout)
	base.QueryTimeout = getEnvMS(prefix+"_QUERY_TIMEOUT_MS", base.QueryTimeout)
	base.TCPKeepAlive = getEnvMS(prefix+"_TCP_KEEPALIVE_MS", base.TCPKeepAlive)

	return base
}

// Validate rejects configurations the service cannot run with. A missing
// database config is not an error — that mode runs with database
// features disabled.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("invalid port %d", c.Port))
	}
	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverMySQL:
	default:
		return errs.New(errs.ErrKindInvalidInput,
			fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errs.New(errs.ErrKindInvalidInput,
			fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Lifecycle.ConnectAttempts < 1 {
		return errs.New(errs.ErrKindInvalidInput, "connect attempts must be at least 1")
	}
	if c.Lifecycle.ConnectRetryDelay < 0 || c.Lifecycle.KeepaliveInterval <= 0 {
		return errs.New(errs.ErrKindInvalidInput, "lifecycle intervals must be positive")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// --- env helpers ---

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvMS reads a millisecond-valued variable into a Duration.
func getEnvMS(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
