// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
	"github.com/tomtom215/tributary/internal/models"
)

// Stats is the counter singleton as read from the store.
type Stats struct {
	Received         int64
	UniqueProcessed  int64
	DuplicateDropped int64
	StartedAt        time.Time
	LastUpdated      time.Time
}

// QueryEvents returns committed events ordered by commit time, newest first.
// An empty topic returns events across all topics. The caller is expected
// to have validated limit; values below 1 are rejected here as a backstop.
func (db *DB) QueryEvents(ctx context.Context, topic string, limit int) ([]models.StoredEvent, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d", limit)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT topic, event_id, timestamp, source, payload, received_at
		FROM events`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	query += ` ORDER BY received_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordQueryError("query_events")
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Failed to close events rows")
		}
	}()

	events := make([]models.StoredEvent, 0, limit)
	for rows.Next() {
		var ev models.StoredEvent
		var payload string
		if err := rows.Scan(&ev.Topic, &ev.EventID, &ev.Timestamp, &ev.Source, &payload, &ev.ReceivedAt); err != nil {
			metrics.RecordQueryError("query_events")
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		ev.ReceivedAt = ev.ReceivedAt.UTC()
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		metrics.RecordQueryError("query_events")
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}

// ReadStats returns the counter singleton.
func (db *DB) ReadStats(ctx context.Context) (*Stats, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var s Stats
	err := db.conn.QueryRowContext(ctx,
		`SELECT received_count, unique_processed_count, duplicate_dropped_count, started_at, last_updated
		 FROM stats WHERE id = 1`,
	).Scan(&s.Received, &s.UniqueProcessed, &s.DuplicateDropped, &s.StartedAt, &s.LastUpdated)
	if err != nil {
		metrics.RecordQueryError("read_stats")
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	s.StartedAt = s.StartedAt.UTC()
	s.LastUpdated = s.LastUpdated.UTC()
	return &s, nil
}

// ActiveTopics returns the number of distinct topics with at least one
// committed event.
func (db *DB) ActiveTopics(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(DISTINCT topic) FROM events`).Scan(&count)
	if err != nil {
		metrics.RecordQueryError("active_topics")
		return 0, fmt.Errorf("failed to count active topics: %w", err)
	}
	return count, nil
}

// CountEvents returns the total number of committed event rows.
func (db *DB) CountEvents(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	if err != nil {
		metrics.RecordQueryError("count_events")
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountProcessed returns the size of the deduplication ledger.
func (db *DB) CountProcessed(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events`).Scan(&count)
	if err != nil {
		metrics.RecordQueryError("count_processed")
		return 0, fmt.Errorf("failed to count processed events: %w", err)
	}
	return count, nil
}
