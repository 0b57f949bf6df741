// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package models

import "time"

// EventResponse reports the enqueue outcome for a single published event.
//
// Status values:
//   - "queued": the event was accepted onto the broker queue
//   - "error": the enqueue failed, see Error
type EventResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse reports per-event enqueue outcomes for a batch publish.
// Batches are best-effort: one event's failure does not abort the others.
type BatchResponse struct {
	Total   int             `json:"total"`
	Success int             `json:"success"`
	Failed  int             `json:"failed"`
	Results []EventResponse `json:"results"`
}

// EventQueryResponse wraps the result of an event query.
type EventQueryResponse struct {
	Total       int           `json:"total"`
	Events      []StoredEvent `json:"events"`
	TopicFilter string        `json:"topic_filter,omitempty"`
}

// StatsResponse reports pipeline counters and service uptime.
//
// Counter invariant: ReceivedTotal == UniqueProcessed + DuplicateDropped
// at every transaction boundary.
type StatsResponse struct {
	ReceivedTotal    int64     `json:"received_total"`
	UniqueProcessed  int64     `json:"unique_processed"`
	DuplicateDropped int64     `json:"duplicate_dropped"`
	ActiveTopics     int64     `json:"active_topics"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	StartedAt        time.Time `json:"started_at"`
	LastUpdated      time.Time `json:"last_updated"`
}

// HealthResponse reports store and broker connectivity.
type HealthResponse struct {
	Status        string  `json:"status"`
	Database      string  `json:"database"`
	Broker        string  `json:"broker"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ErrorResponse is the error body for all non-2xx API responses.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
