// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"runtime"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the document store: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`

	// WorkerCount is the number of writer lanes. Writes for one
	// transcript always land on the same lane.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds each writer lane.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize bounds the remembered idempotency keys.
	DedupeSize int `koanf:"dedupe_size"`

	TracingEnabled bool   `koanf:"tracing_enabled"`
	ServiceName    string `koanf:"service_name"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:    "info",
		Addr:        ":9080",
		StoreDriver: DriverMemory,
		SQLitePath:  "tutorlog.db",
		WorkerCount: runtime.NumCPU() * 4,
		QueueSize:   1024,
		DedupeSize:  50_000,
		ServiceName: "tutorlog",
	}
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite driver", ErrInvalidConfig)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	return nil
}
