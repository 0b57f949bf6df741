// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package api provides the HTTP surface of the aggregator: event ingestion
// (enqueue only, never a direct store write), committed-event queries,
// pipeline statistics and health. Routing uses Chi.
package api

import (
	"context"
	"time"

	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/models"
)

// EventQueue is the producer side of the broker as seen by the API.
// The concrete implementation is broker.Publisher; tests substitute a stub
// to exercise enqueue failure paths.
type EventQueue interface {
	PublishEvent(ctx context.Context, ev *models.Event) error
}

// Handler holds the dependencies shared by all endpoint handlers.
//
// Write paths touch only the queue; read paths touch only the store. This
// keeps ingestion latency independent of store load and means a store
// outage degrades queries while ingestion keeps accepting events.
type Handler struct {
	db           *database.DB
	queue        EventQueue
	brokerOnline func() bool
	startTime    time.Time
}

// NewHandler creates the API handler. brokerOnline reports broker
// connectivity for /health; pass nil when no broker status is available.
func NewHandler(db *database.DB, queue EventQueue, brokerOnline func() bool) *Handler {
	return &Handler{
		db:           db,
		queue:        queue,
		brokerOnline: brokerOnline,
		startTime:    time.Now(),
	}
}
