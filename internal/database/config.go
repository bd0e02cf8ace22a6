package database

import "time"

// Driver identifies the database engine.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds all settings needed to connect to and pool a database.
// Credentials are discrete fields; each driver assembles its own DSN.
// A Config is immutable once loaded — lifecycle code copies it, never
// mutates it.
type Config struct {
	// Driver is the database engine (DriverPostgres or DriverMySQL).
	Driver Driver `yaml:"driver"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // 0 means the engine default (5432 / 3306)
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// SSLMode selects the TLS policy: disable, require, skip-verify.
	// Drivers translate it into their native parameter.
	SSLMode string `yaml:"sslmode"`

	// Pool tuning
	MaxConns        int32         `yaml:"max_conns"`         // pool ceiling
	MinConns        int32         `yaml:"min_conns"`         // idle connections kept warm
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"` // recycle connections older than this
	IdleTimeout     time.Duration `yaml:"idle_timeout"`      // close connections idle longer than this

	// Timeouts
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // dial + handshake limit per connection
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // wait limit for a pooled connection
	QueryTimeout   time.Duration `yaml:"query_timeout"`   // default per-query deadline

	// TCPKeepAlive enables OS-level keepalive on new connections.
	// This is transport plumbing — liveness of the pool as a whole is
	// probed separately by the lifecycle manager.
	TCPKeepAlive time.Duration `yaml:"tcp_keepalive"`
}

// DefaultConfig returns production-ready pool settings.
// Host, Name, User and Password have no defaults — a Config missing any
// of them reports false from Configured.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverPostgres,
		SSLMode:         "require",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		IdleTimeout:     30 * time.Second,
		ConnectTimeout:  5 * time.Second,
		AcquireTimeout:  5 * time.Second,
		QueryTimeout:    30 * time.Second,
		TCPKeepAlive:    30 * time.Second,
	}
}

// Configured reports whether the minimum connection settings are present.
// All four of Host, Name, User and Password are required; everything else
// has a usable default. Callers treat an unconfigured database as a
// disabled feature, not an error.
func (c Config) Configured() bool {
	return c.Host != "" && c.Name != "" && c.User != "" && c.Password != ""
}

// EffectivePort returns the configured port, or the engine default when unset.
func (c Config) EffectivePort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.Driver == DriverMySQL {
		return 3306
	}
	return 5432
}
