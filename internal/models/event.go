// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package models

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/validation"
)

// Event is the canonical event format used on the wire, in the queue,
// and as the input to the idempotent commit protocol.
//
// The pair (topic, event_id) is the deduplication key: two events with the
// same key are the same event regardless of payload. Timestamps are always
// held in UTC; see UnmarshalJSON for input normalization.
type Event struct {
	Topic     string          `json:"topic" validate:"required,max=255"`
	EventID   string          `json:"event_id" validate:"required,max=255"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source" validate:"required,max=255"`
	Payload   json.RawMessage `json:"payload"`
}

// timestampLayouts are tried in order when decoding event timestamps.
// RFC3339 covers the 'Z' suffix and explicit offsets; the remaining
// layouts accept naive inputs, which are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp decodes an ISO-8601 timestamp string and normalizes it
// to UTC. Inputs with an explicit offset are converted; naive inputs are
// interpreted as already being UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	for _, layout := range timestampLayouts {
		// time.Parse treats zoneless layouts as UTC, which is exactly the
		// naive-input policy.
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: expected ISO-8601", s)
}

// UnmarshalJSON decodes an event, accepting ISO-8601 timestamps with a 'Z'
// suffix, an explicit offset, or no zone at all (interpreted as UTC).
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := struct {
		Timestamp json.RawMessage `json:"timestamp"`
		*Alias
	}{Alias: (*Alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Timestamp) == 0 {
		return fmt.Errorf("timestamp is required")
	}

	var raw string
	if err := json.Unmarshal(aux.Timestamp, &raw); err != nil {
		return fmt.Errorf("timestamp must be an ISO-8601 string: %w", err)
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	e.Timestamp = ts
	return nil
}

// MarshalJSON encodes the event with the timestamp in UTC.
// Go renders UTC times with the 'Z' suffix, which is the stored wire form.
func (e Event) MarshalJSON() (data []byte, err error) {
	type alias Event
	e.Timestamp = e.Timestamp.UTC()
	return json.Marshal((alias)(e))
}

// Normalize strips leading and trailing whitespace from the identifier
// fields and converts the timestamp to UTC. Normalization runs before
// length validation, so "  t  " validates as "t".
func (e *Event) Normalize() {
	e.Topic = strings.TrimSpace(e.Topic)
	e.EventID = strings.TrimSpace(e.EventID)
	e.Source = strings.TrimSpace(e.Source)
	e.Timestamp = e.Timestamp.UTC()
	if len(e.Payload) == 0 {
		return
	}
	e.Payload = json.RawMessage(bytes.TrimSpace(e.Payload))
}

// Validate normalizes the event and checks all schema constraints.
// It returns a *validation.RequestValidationError for field failures so
// the API layer can translate them to the VALIDATION_ERROR response shape.
func (e *Event) Validate() error {
	e.Normalize()

	if err := validation.ValidateStruct(e); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if !json.Valid(e.Payload) || e.Payload[0] != '{' {
		return fmt.Errorf("payload must be a JSON object")
	}
	return nil
}

// DedupKey returns the topic/event_id pair as a single string.
// Used only for logging and metrics; the store keys on the pair itself.
func (e *Event) DedupKey() string {
	return e.Topic + "/" + e.EventID
}

// StoredEvent is an event as read back from the durable store,
// carrying the ingest-side commit time.
type StoredEvent struct {
	Topic      string          `json:"topic"`
	EventID    string          `json:"event_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}
