// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"context"
	"fmt"
	"time"
)

// createTables creates the three tables of the aggregation schema.
//
//   - events: the durable record of every unique event, keyed by a
//     sequence-assigned surrogate id. received_at is the commit time, UTC.
//   - processed_events: the deduplication ledger. The composite primary key
//     on (topic, event_id) is what makes the commit protocol idempotent:
//     the same event_id may appear under different topics, but only once
//     per topic.
//   - stats: a single-row table of running counters, seeded at bootstrap.
//
// Timestamps are native TIMESTAMP columns holding UTC wall-clock values.
func (db *DB) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS events_id_seq START 1`,

		`CREATE TABLE IF NOT EXISTS events (
			id BIGINT PRIMARY KEY DEFAULT nextval('events_id_seq'),
			topic VARCHAR NOT NULL,
			event_id VARCHAR NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			source VARCHAR NOT NULL,
			payload VARCHAR NOT NULL,
			received_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS processed_events (
			topic VARCHAR NOT NULL,
			event_id VARCHAR NOT NULL,
			PRIMARY KEY (topic, event_id)
		)`,

		`CREATE TABLE IF NOT EXISTS stats (
			id INTEGER PRIMARY KEY,
			received_count BIGINT NOT NULL DEFAULT 0,
			unique_processed_count BIGINT NOT NULL DEFAULT 0,
			duplicate_dropped_count BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			last_updated TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic)`,
		`CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// seedStats inserts the stats singleton row if it does not exist yet.
// On reopen the existing counters are preserved; started_at keeps its
// original value from the first bootstrap.
func (db *DB) seedStats(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO stats (id, received_count, unique_processed_count, duplicate_dropped_count, started_at, last_updated)
		 VALUES (1, 0, 0, 0, ?, ?)
		 ON CONFLICT DO NOTHING`,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to seed stats row: %w", err)
	}
	return nil
}
