// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package database is the durable store behind the aggregation pipeline.
// It wraps an embedded DuckDB file and implements the idempotent commit
// protocol: exactly one events row per (topic, event_id) pair, with the
// running counters updated in the same transaction.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/logging"
)

// DB wraps the DuckDB connection and provides the store operations used by
// the workers and the query API.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// commitMu serializes commit transactions. DuckDB resolves write-write
	// conflicts optimistically, so two transactions touching the stats
	// singleton concurrently would abort one of them; serializing at this
	// level keeps every commit's counter update durable.
	commitMu sync.Mutex
}

// Open opens (or creates) the store and bootstraps the schema.
// The connection pool is sized to the worker count plus headroom for the
// API read paths, clamped to [5, 20].
func Open(cfg *config.DatabaseConfig, workers int) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists for file-backed stores.
	// Use 0750 permissions (owner: rwx, group: rx, other: none) per gosec G301.
	if !strings.HasPrefix(cfg.Path, ":memory:") {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	// Disable auto-install/auto-load to prevent hangs in restricted network
	// environments; nothing in the schema needs an extension.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn: conn,
		cfg:  cfg,
	}
	db.configureConnectionPool(workers)

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("max_open_conns", conn.Stats().MaxOpenConnections).
		Msg("Store opened")

	return db, nil
}

// configureConnectionPool sizes the pool for the worker pool plus API
// handler headroom, clamped to [5, 20].
func (db *DB) configureConnectionPool(workers int) {
	maxConns := db.cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = workers + 2
	}
	if maxConns < 5 {
		maxConns = 5
	}
	if maxConns > 20 {
		maxConns = 20
	}
	db.conn.SetMaxOpenConns(maxConns)
	db.conn.SetMaxIdleConns(maxConns)
	db.conn.SetConnMaxLifetime(time.Hour)
}

// initialize creates tables and seeds the stats singleton.
func (db *DB) initialize() error {
	ctx, cancel := db.ensureContext(context.Background())
	defer cancel()

	if err := db.createTables(ctx); err != nil {
		return err
	}
	return db.seedStats(ctx)
}

// ensureContext applies the configured command timeout when the caller's
// context carries no deadline of its own.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := db.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if ctx == nil {
		return context.WithTimeout(context.Background(), timeout)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

// Ping checks if the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// Checkpoint forces a WAL checkpoint so the database file is self-contained.
func (db *DB) Checkpoint(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Close checkpoints and closes the store. The checkpoint is best effort:
// a failure is logged and the close proceeds.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}
	cancel()

	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.cfg.Path
}

func closeQuietly(c interface{ Close() error }) {
	_ = c.Close()
}
