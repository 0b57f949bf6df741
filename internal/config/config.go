// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package config provides layered configuration for Tributary using Koanf v2.
// Precedence is ENV > config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the aggregator process.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Broker    BrokerConfig    `koanf:"broker"`
	Workers   WorkerConfig    `koanf:"workers"`
	Logging   LoggingConfig   `koanf:"logging"`
	Publisher PublisherConfig `koanf:"publisher"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitPerMinute applies to the publish and query endpoints.
	// HealthRateLimitPerMinute is permissive so monitors can poll freely.
	RateLimitPerMinute       int      `koanf:"rate_limit_per_minute"`
	HealthRateLimitPerMinute int      `koanf:"health_rate_limit_per_minute"`
	CORSOrigins              []string `koanf:"cors_origins"`
}

// DatabaseConfig holds the durable store settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" opens an in-memory
	// store, used by tests.
	Path string `koanf:"path"`

	// MaxOpenConns bounds the connection pool. Sized to the worker count
	// plus API handler headroom; see database.Open.
	MaxOpenConns int `koanf:"max_open_conns"`

	// CommandTimeout is the generous per-operation ceiling. The store's
	// own deadlock detection is relied on for pathological cases.
	CommandTimeout time.Duration `koanf:"command_timeout"`

	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// BrokerConfig holds NATS JetStream queue settings.
type BrokerConfig struct {
	// URL of the NATS server. Ignored when EmbeddedServer is set, in
	// which case the embedded server's client URL is used.
	URL string `koanf:"url"`

	// EmbeddedServer runs an in-process nats-server with JetStream,
	// giving a self-contained single-binary deployment.
	EmbeddedServer bool   `koanf:"embedded_server"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	StoreDir       string `koanf:"store_dir"`

	// QueueName is the FIFO queue identifier; it doubles as the
	// JetStream subject. Default: events_queue.
	QueueName string `koanf:"queue_name"`

	// StreamName is the JetStream stream backing the queue.
	StreamName string `koanf:"stream_name"`

	// DurableName identifies the shared pull consumer all workers
	// drain from.
	DurableName string `koanf:"durable_name"`

	MaxReconnects   int           `koanf:"max_reconnects"`
	ReconnectWait   time.Duration `koanf:"reconnect_wait"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`

	// Circuit breaker around publishes (sony/gobreaker).
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerInterval    time.Duration `koanf:"breaker_interval"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// WorkerConfig holds consumer pool settings.
type WorkerConfig struct {
	// Count is the number of parallel workers draining the queue.
	Count int `koanf:"count"`

	// PopTimeout bounds each blocking pop so workers can observe
	// cancellation between attempts.
	PopTimeout time.Duration `koanf:"pop_timeout"`

	// ErrorBackoff is the pause after a transient store error.
	ErrorBackoff time.Duration `koanf:"error_backoff"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// PublisherConfig holds synthetic load generator settings (cmd/publisher).
type PublisherConfig struct {
	TotalEvents   int     `koanf:"total_events"`
	DuplicateRate float64 `koanf:"duplicate_rate"`
	SendRate      int     `koanf:"send_rate"`
}

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                     "0.0.0.0",
			Port:                     8080,
			ShutdownTimeout:          10 * time.Second,
			RateLimitPerMinute:       600,
			HealthRateLimitPerMinute: 1000,
			CORSOrigins:              []string{"*"},
		},
		Database: DatabaseConfig{
			Path:           "/data/tributary.duckdb",
			MaxOpenConns:   0, // 0 = workers.count + API headroom, clamped to [5,20]
			CommandTimeout: 60 * time.Second,
			MaxMemory:      "1GB",
			Threads:        0, // 0 = runtime.NumCPU()
		},
		Broker: BrokerConfig{
			URL:                "nats://127.0.0.1:4222",
			EmbeddedServer:     true,
			Host:               "127.0.0.1",
			Port:               4222,
			StoreDir:           "/data/nats/jetstream",
			QueueName:          "events_queue",
			StreamName:         "EVENTS",
			DurableName:        "aggregator",
			MaxReconnects:      60,
			ReconnectWait:      2 * time.Second,
			DuplicateWindow:    2 * time.Minute,
			BreakerMaxRequests: 3,
			BreakerInterval:    60 * time.Second,
			BreakerTimeout:     30 * time.Second,
		},
		Workers: WorkerConfig{
			Count:        3,
			PopTimeout:   time.Second,
			ErrorBackoff: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Publisher: PublisherConfig{
			TotalEvents:   20000,
			DuplicateRate: 0.35,
			SendRate:      100,
		},
	}
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count)
	}
	if c.Workers.PopTimeout <= 0 {
		return fmt.Errorf("workers.pop_timeout must be positive, got %s", c.Workers.PopTimeout)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Broker.QueueName == "" {
		return fmt.Errorf("broker.queue_name is required")
	}
	if c.Broker.StreamName == "" {
		return fmt.Errorf("broker.stream_name is required")
	}
	if c.Publisher.DuplicateRate < 0 || c.Publisher.DuplicateRate > 1 {
		return fmt.Errorf("publisher.duplicate_rate must be in [0, 1], got %g", c.Publisher.DuplicateRate)
	}
	return nil
}
