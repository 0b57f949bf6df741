// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/models"
)

func testConfig(path string) *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Path:           path,
		CommandTimeout: 30 * time.Second,
		MaxMemory:      "256MB",
		Threads:        2,
	}
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.duckdb")
	db, err := Open(testConfig(path), 3)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

func testEvent(topic, id string) *models.Event {
	return &models.Event{
		Topic:     topic,
		EventID:   id,
		Timestamp: time.Date(2023, 12, 6, 14, 45, 22, 0, time.UTC),
		Source:    "test-source",
		Payload:   json.RawMessage(`{"v":1}`),
	}
}

func TestCommitEventNew(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	isNew, err := db.CommitEvent(ctx, testEvent("user.login", "evt_1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Error("expected first commit to report new")
	}

	stats, err := db.ReadStats(ctx)
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if stats.Received != 1 || stats.UniqueProcessed != 1 || stats.DuplicateDropped != 0 {
		t.Errorf("unexpected counters: received=%d unique=%d dup=%d",
			stats.Received, stats.UniqueProcessed, stats.DuplicateDropped)
	}
}

func TestCommitEventIdempotence(t *testing.T) {
	// Committing the same key k times must leave exactly one events row
	// and counters k / 1 / k-1.
	db := newTestDB(t)
	ctx := context.Background()
	const k = 5

	newCount := 0
	for i := 0; i < k; i++ {
		isNew, err := db.CommitEvent(ctx, testEvent("user.login", "evt_dup"))
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		if isNew {
			newCount++
		}
	}
	if newCount != 1 {
		t.Errorf("expected exactly 1 new commit, got %d", newCount)
	}

	events, err := db.CountEvents(ctx)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Errorf("expected 1 events row, got %d", events)
	}

	stats, err := db.ReadStats(ctx)
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if stats.Received != k {
		t.Errorf("expected received=%d, got %d", k, stats.Received)
	}
	if stats.UniqueProcessed != 1 {
		t.Errorf("expected unique=1, got %d", stats.UniqueProcessed)
	}
	if stats.DuplicateDropped != k-1 {
		t.Errorf("expected dropped=%d, got %d", k-1, stats.DuplicateDropped)
	}
}

func TestCommitEventConcurrentSameKey(t *testing.T) {
	// 10 goroutines race on the same key; exactly one must win.
	db := newTestDB(t)
	ctx := context.Background()
	const n = 10

	var wg sync.WaitGroup
	results := make(chan bool, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := db.CommitEvent(ctx, testEvent("race.topic", "evt_race"))
			if err != nil {
				errs <- err
				return
			}
			results <- isNew
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent commit failed: %v", err)
	}

	newCount := 0
	for isNew := range results {
		if isNew {
			newCount++
		}
	}
	if newCount != 1 {
		t.Errorf("expected exactly 1 winner, got %d", newCount)
	}

	stats, err := db.ReadStats(ctx)
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if stats.Received != n || stats.UniqueProcessed != 1 || stats.DuplicateDropped != n-1 {
		t.Errorf("unexpected counters: received=%d unique=%d dup=%d",
			stats.Received, stats.UniqueProcessed, stats.DuplicateDropped)
	}
}

func TestCommitEventCrossTopicSharedID(t *testing.T) {
	// The same event_id under different topics is two distinct events.
	db := newTestDB(t)
	ctx := context.Background()

	for _, topic := range []string{"user.login", "user.logout"} {
		isNew, err := db.CommitEvent(ctx, testEvent(topic, "shared_id"))
		if err != nil {
			t.Fatalf("commit %s: %v", topic, err)
		}
		if !isNew {
			t.Errorf("expected %s/shared_id to be new", topic)
		}
	}

	events, err := db.CountEvents(ctx)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 2 {
		t.Errorf("expected 2 events rows, got %d", events)
	}
}

func TestCommitEventPayloadDoesNotInfluenceDedup(t *testing.T) {
	// First writer wins: a duplicate key with a different payload is
	// dropped and the stored payload is unchanged.
	db := newTestDB(t)
	ctx := context.Background()

	first := testEvent("orders", "evt_1")
	first.Payload = json.RawMessage(`{"amount":100}`)
	if _, err := db.CommitEvent(ctx, first); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	second := testEvent("orders", "evt_1")
	second.Payload = json.RawMessage(`{"amount":999}`)
	isNew, err := db.CommitEvent(ctx, second)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if isNew {
		t.Error("expected duplicate despite different payload")
	}

	events, err := db.QueryEvents(ctx, "orders", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != `{"amount":100}` {
		t.Errorf("expected first payload preserved, got %s", events[0].Payload)
	}
}

func TestCommitEventPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.duckdb")

	db, err := Open(testConfig(path), 3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if _, err := db.CommitEvent(ctx, testEvent("t", "e1")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = Open(testConfig(path), 3)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}()

	// Replaying the same event after restart must hit the duplicate path.
	isNew, err := db.CommitEvent(ctx, testEvent("t", "e1"))
	if err != nil {
		t.Fatalf("commit after reopen: %v", err)
	}
	if isNew {
		t.Error("expected duplicate after reopen")
	}

	stats, err := db.ReadStats(ctx)
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if stats.Received != 2 || stats.UniqueProcessed != 1 || stats.DuplicateDropped != 1 {
		t.Errorf("unexpected counters after reopen: received=%d unique=%d dup=%d",
			stats.Received, stats.UniqueProcessed, stats.DuplicateDropped)
	}
}

func TestCommitEventMixedWorkloadInvariants(t *testing.T) {
	// 30 unique events plus 20 replays: received must equal unique
	// processed plus duplicates dropped, and the tables must agree with
	// the counters.
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		ev := testEvent(fmt.Sprintf("topic.%d", i%3), fmt.Sprintf("evt_%d", i))
		if _, err := db.CommitEvent(ctx, ev); err != nil {
			t.Fatalf("unique commit %d: %v", i, err)
		}
	}
	for i := 0; i < 20; i++ {
		ev := testEvent(fmt.Sprintf("topic.%d", i%3), fmt.Sprintf("evt_%d", i))
		if _, err := db.CommitEvent(ctx, ev); err != nil {
			t.Fatalf("duplicate commit %d: %v", i, err)
		}
	}

	stats, err := db.ReadStats(ctx)
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if stats.Received != 50 || stats.UniqueProcessed != 30 || stats.DuplicateDropped != 20 {
		t.Errorf("unexpected counters: received=%d unique=%d dup=%d",
			stats.Received, stats.UniqueProcessed, stats.DuplicateDropped)
	}
	if stats.Received != stats.UniqueProcessed+stats.DuplicateDropped {
		t.Error("counter conservation violated")
	}

	events, err := db.CountEvents(ctx)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	processed, err := db.CountProcessed(ctx)
	if err != nil {
		t.Fatalf("count processed: %v", err)
	}
	if events != stats.UniqueProcessed {
		t.Errorf("events table (%d) disagrees with unique counter (%d)", events, stats.UniqueProcessed)
	}
	if processed != stats.UniqueProcessed {
		t.Errorf("dedup ledger (%d) disagrees with unique counter (%d)", processed, stats.UniqueProcessed)
	}

	topics, err := db.ActiveTopics(ctx)
	if err != nil {
		t.Fatalf("active topics: %v", err)
	}
	if topics != 3 {
		t.Errorf("expected 3 active topics, got %d", topics)
	}
}
