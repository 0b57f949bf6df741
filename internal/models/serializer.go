// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// SerializeEvent validates an event and marshals it to the queue wire form.
// The wire form is JSON with the timestamp rendered in UTC, canonical enough
// that a queued event deserializes back into an equal Event.
func SerializeEvent(event *Event) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// DeserializeEvent unmarshals the queue wire form back into an Event and
// re-validates it. Workers rely on the error to drive the parse-failure
// drop path; a message that fails here is never retried.
func DeserializeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}
	return &event, nil
}
