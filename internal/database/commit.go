// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
	"github.com/tomtom215/tributary/internal/models"
)

// CommitEvent runs the idempotent commit protocol for one event in a single
// transaction. It returns new=true when the event was seen for the first
// time and new=false when it was a duplicate of an already-committed
// (topic, event_id) pair.
//
// Protocol:
//  1. INSERT INTO processed_events ... ON CONFLICT DO NOTHING
//  2. Branch on RowsAffected: 0 rows means the dedup ledger already held
//     the key, so only the duplicate counter moves; 1 row means the event
//     is new, so the events row is written and the unique counter moves.
//  3. received_count and last_updated advance on both paths.
//
// All three writes commit or roll back together, so a crash mid-commit can
// never leave the counters disagreeing with the tables. Re-delivering the
// same event after a rollback replays the protocol and lands on the
// duplicate path at most once per key.
//
// The payload plays no part in deduplication: the first writer wins, and a
// later event with the same key but different payload is dropped as a
// duplicate without touching the stored row.
func (db *DB) CommitEvent(ctx context.Context, ev *models.Event) (isNew bool, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCommit(isNew, err, time.Since(start))
	}()

	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Warn().Err(rbErr).
					Str("topic", ev.Topic).
					Str("event_id", ev.EventID).
					Msg("Rollback after failed commit also failed")
			}
		}
	}()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO processed_events (topic, event_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		ev.Topic, ev.EventID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	isNew = rowsAffected > 0

	if isNew {
		receivedAt := time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (topic, event_id, timestamp, source, payload, received_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.Topic, ev.EventID, ev.Timestamp.UTC(), ev.Source, string(ev.Payload), receivedAt,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert event row: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE stats SET
				received_count = received_count + 1,
				unique_processed_count = unique_processed_count + 1,
				last_updated = ?
			 WHERE id = 1`,
			receivedAt,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE stats SET
				received_count = received_count + 1,
				duplicate_dropped_count = duplicate_dropped_count + 1,
				last_updated = ?
			 WHERE id = 1`,
			time.Now().UTC(),
		)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update stats: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return isNew, nil
}
