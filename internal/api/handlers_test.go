// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/models"
)

// stubQueue records published events and fails on demand.
type stubQueue struct {
	published []*models.Event
	err       error
}

func (q *stubQueue) PublishEvent(_ context.Context, ev *models.Event) error {
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, ev)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *stubQueue, *database.DB) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:           filepath.Join(t.TempDir(), "api.duckdb"),
		CommandTimeout: 30 * time.Second,
		MaxMemory:      "256MB",
	}
	db, err := database.Open(cfg, 3)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	queue := &stubQueue{}
	return NewHandler(db, queue, func() bool { return true }), queue, db
}

func eventBody(topic, eventID string) []byte {
	return []byte(fmt.Sprintf(
		`{"topic":%q,"event_id":%q,"timestamp":"2026-08-24T10:00:00Z","source":"test","payload":{"n":1}}`,
		topic, eventID))
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestPublishEvent(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		h, queue, _ := newTestHandler(t)

		rec := doJSON(t, h.PublishEvent, http.MethodPost, "/publish", eventBody("orders", "evt_1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp models.EventResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Status != "queued" || !resp.Success || resp.EventID != "evt_1" {
			t.Errorf("unexpected response: %+v", resp)
		}
		if len(queue.published) != 1 {
			t.Errorf("expected 1 published event, got %d", len(queue.published))
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		h, _, _ := newTestHandler(t)

		rec := doJSON(t, h.PublishEvent, http.MethodPost, "/publish", []byte("{not json"))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Code != "VALIDATION_ERROR" {
			t.Errorf("expected VALIDATION_ERROR, got %q", resp.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		h, queue, _ := newTestHandler(t)

		body := []byte(`{"topic":"orders","timestamp":"2026-08-24T10:00:00Z","source":"test","payload":{}}`)
		rec := doJSON(t, h.PublishEvent, http.MethodPost, "/publish", body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for missing event_id, got %d", rec.Code)
		}
		if len(queue.published) != 0 {
			t.Error("invalid event must not be enqueued")
		}
	})

	t.Run("non-object payload", func(t *testing.T) {
		h, _, _ := newTestHandler(t)

		body := []byte(`{"topic":"orders","event_id":"e1","timestamp":"2026-08-24T10:00:00Z","source":"test","payload":[1,2]}`)
		rec := doJSON(t, h.PublishEvent, http.MethodPost, "/publish", body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for array payload, got %d", rec.Code)
		}
	})

	t.Run("enqueue failure", func(t *testing.T) {
		h, queue, _ := newTestHandler(t)
		queue.err = errors.New("broker gone")

		rec := doJSON(t, h.PublishEvent, http.MethodPost, "/publish", eventBody("orders", "evt_1"))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Code != "ENQUEUE_FAILED" {
			t.Errorf("expected ENQUEUE_FAILED, got %q", resp.Code)
		}
	})
}

func batchBody(n int) []byte {
	events := make([]json.RawMessage, n)
	for i := range events {
		events[i] = eventBody("orders", fmt.Sprintf("evt_%d", i))
	}
	body, _ := json.Marshal(map[string]interface{}{"events": events})
	return body
}

func TestPublishBatch(t *testing.T) {
	t.Run("empty batch rejected", func(t *testing.T) {
		h, _, _ := newTestHandler(t)

		rec := doJSON(t, h.PublishBatch, http.MethodPost, "/publish/batch", []byte(`{"events":[]}`))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for empty batch, got %d", rec.Code)
		}
	})

	t.Run("max size accepted", func(t *testing.T) {
		h, queue, _ := newTestHandler(t)

		rec := doJSON(t, h.PublishBatch, http.MethodPost, "/publish/batch", batchBody(1000))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for 1000-event batch, got %d", rec.Code)
		}

		var resp models.BatchResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Total != 1000 || resp.Success != 1000 || resp.Failed != 0 {
			t.Errorf("unexpected counts: %+v", resp)
		}
		if len(queue.published) != 1000 {
			t.Errorf("expected 1000 enqueued, got %d", len(queue.published))
		}
	})

	t.Run("oversized batch rejected", func(t *testing.T) {
		h, queue, _ := newTestHandler(t)

		rec := doJSON(t, h.PublishBatch, http.MethodPost, "/publish/batch", batchBody(1001))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for 1001-event batch, got %d", rec.Code)
		}
		if len(queue.published) != 0 {
			t.Error("oversized batch must not be partially enqueued")
		}
	})

	t.Run("best effort per event", func(t *testing.T) {
		h, queue, _ := newTestHandler(t)

		events := []json.RawMessage{
			eventBody("orders", "good_1"),
			[]byte(`{"topic":"orders","timestamp":"2026-08-24T10:00:00Z","source":"test","payload":{}}`),
			eventBody("orders", "good_2"),
		}
		body, _ := json.Marshal(map[string]interface{}{"events": events})

		rec := doJSON(t, h.PublishBatch, http.MethodPost, "/publish/batch", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp models.BatchResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Total != 3 || resp.Success != 2 || resp.Failed != 1 {
			t.Errorf("unexpected counts: total=%d success=%d failed=%d", resp.Total, resp.Success, resp.Failed)
		}
		if len(resp.Results) != 3 {
			t.Fatalf("expected 3 result slots, got %d", len(resp.Results))
		}
		if resp.Results[1].Success || resp.Results[1].Error == "" {
			t.Error("invalid entry must carry an error in its result slot")
		}
		if len(queue.published) != 2 {
			t.Errorf("expected 2 enqueued, got %d", len(queue.published))
		}
	})
}

func commitTestEvent(t *testing.T, db *database.DB, topic, eventID string) {
	t.Helper()
	ev := &models.Event{
		Topic:     topic,
		EventID:   eventID,
		Timestamp: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		Source:    "test",
		Payload:   json.RawMessage(`{"n":1}`),
	}
	if _, err := db.CommitEvent(context.Background(), ev); err != nil {
		t.Fatalf("commit event: %v", err)
	}
}

func TestEvents(t *testing.T) {
	t.Run("limit and filter", func(t *testing.T) {
		h, _, db := newTestHandler(t)
		commitTestEvent(t, db, "orders", "e1")
		commitTestEvent(t, db, "orders", "e2")
		commitTestEvent(t, db, "payments", "e1")

		rec := doJSON(t, h.Events, http.MethodGet, "/events?topic=orders&limit=10", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp models.EventQueryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Total != 2 || resp.TopicFilter != "orders" {
			t.Errorf("unexpected response: total=%d filter=%q", resp.Total, resp.TopicFilter)
		}
		for _, ev := range resp.Events {
			if ev.Topic != "orders" {
				t.Errorf("filter leaked topic %q", ev.Topic)
			}
		}
	})

	t.Run("limit bounds", func(t *testing.T) {
		h, _, _ := newTestHandler(t)

		for _, limit := range []string{"0", "-1", "1001", "abc"} {
			rec := doJSON(t, h.Events, http.MethodGet, "/events?limit="+limit, nil)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("limit=%s: expected 422, got %d", limit, rec.Code)
			}
		}
		for _, limit := range []string{"1", "1000"} {
			rec := doJSON(t, h.Events, http.MethodGet, "/events?limit="+limit, nil)
			if rec.Code != http.StatusOK {
				t.Errorf("limit=%s: expected 200, got %d", limit, rec.Code)
			}
		}
	})

	t.Run("default limit", func(t *testing.T) {
		h, _, db := newTestHandler(t)
		commitTestEvent(t, db, "orders", "e1")

		rec := doJSON(t, h.Events, http.MethodGet, "/events", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 with no limit param, got %d", rec.Code)
		}
	})
}

func TestStats(t *testing.T) {
	h, _, db := newTestHandler(t)
	commitTestEvent(t, db, "orders", "e1")
	commitTestEvent(t, db, "orders", "e1") // duplicate
	commitTestEvent(t, db, "payments", "e1")

	rec := doJSON(t, h.Stats, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ReceivedTotal != 3 || resp.UniqueProcessed != 2 || resp.DuplicateDropped != 1 {
		t.Errorf("unexpected counters: %+v", resp)
	}
	if resp.ReceivedTotal != resp.UniqueProcessed+resp.DuplicateDropped {
		t.Errorf("counter invariant violated: %d != %d + %d",
			resp.ReceivedTotal, resp.UniqueProcessed, resp.DuplicateDropped)
	}
	if resp.ActiveTopics != 2 {
		t.Errorf("expected 2 active topics, got %d", resp.ActiveTopics)
	}
	if resp.UptimeSeconds < 0 {
		t.Errorf("negative uptime %f", resp.UptimeSeconds)
	}
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h, _, _ := newTestHandler(t)

		rec := doJSON(t, h.Health, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp models.HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Status != "healthy" || resp.Database != "connected" || resp.Broker != "connected" {
			t.Errorf("unexpected health: %+v", resp)
		}
	})

	t.Run("store down", func(t *testing.T) {
		h, _, db := newTestHandler(t)
		if err := db.Close(); err != nil {
			t.Fatalf("close database: %v", err)
		}

		rec := doJSON(t, h.Health, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 with closed store, got %d", rec.Code)
		}

		var resp models.HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Status != "unhealthy" || resp.Database != "disconnected" {
			t.Errorf("unexpected health: %+v", resp)
		}
	})

	t.Run("broker disconnected is not fatal", func(t *testing.T) {
		_, _, db := newTestHandler(t)
		h := NewHandler(db, &stubQueue{}, func() bool { return false })

		rec := doJSON(t, h.Health, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 with broker down, got %d", rec.Code)
		}

		var resp models.HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Status != "healthy" || resp.Broker != "disconnected" {
			t.Errorf("unexpected health: %+v", resp)
		}
	})
}

func TestRouterRoutes(t *testing.T) {
	h, _, db := newTestHandler(t)
	commitTestEvent(t, db, "orders", "e1")

	cfg := &config.ServerConfig{
		RateLimitPerMinute:       600,
		HealthRateLimitPerMinute: 1000,
		CORSOrigins:              []string{"*"},
	}
	srv := httptest.NewServer(NewRouter(h, cfg).Setup())
	defer srv.Close()

	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/publish", string(eventBody("orders", "r1")), http.StatusOK},
		{http.MethodPost, "/publish/batch", string(batchBody(2)), http.StatusOK},
		{http.MethodGet, "/events", "", http.StatusOK},
		{http.MethodGet, "/stats", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/publish", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("build request: %v", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.want {
				t.Errorf("expected %d, got %d", tc.want, resp.StatusCode)
			}
			if resp.Header.Get("X-Request-ID") == "" && tc.path != "/metrics" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}
