// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package worker implements the consumer side of the pipeline: a pool of
// identical workers draining the broker queue into the durable store via
// the idempotent commit protocol. Workers share no state; the queue's
// single-delivery handoff and the store's key constraint are the only
// coordination points.
package worker

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tomtom215/tributary/internal/broker"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
	"github.com/tomtom215/tributary/internal/models"
)

// Queue is the consumer-facing broker surface.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (*broker.Delivery, error)
}

// Store is the commit surface of the durable store.
type Store interface {
	CommitEvent(ctx context.Context, ev *models.Event) (bool, error)
}

// Counters holds per-worker processing totals, updated atomically so the
// pool can be inspected while running.
type Counters struct {
	Processed    atomic.Int64
	Duplicates   atomic.Int64
	ParseErrors  atomic.Int64
	CommitErrors atomic.Int64
}

// Worker drains the queue in a loop until its context is cancelled.
// It implements suture.Service, so the supervisor restarts it if the
// loop ever returns with an unexpected error.
type Worker struct {
	id           int
	queue        Queue
	store        Store
	popTimeout   time.Duration
	errorBackoff time.Duration
	counters     Counters
}

// New creates a worker. popTimeout bounds each blocking pop so the worker
// observes cancellation between attempts; errorBackoff is the pause after
// a failed commit.
func New(id int, queue Queue, store Store, popTimeout, errorBackoff time.Duration) *Worker {
	if popTimeout <= 0 {
		popTimeout = time.Second
	}
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	return &Worker{
		id:           id,
		queue:        queue,
		store:        store,
		popTimeout:   popTimeout,
		errorBackoff: errorBackoff,
	}
}

// Counters returns the worker's running totals.
func (w *Worker) Counters() *Counters {
	return &w.counters
}

// Serve implements suture.Service. It loops pop -> deserialize -> commit
// -> ack until the context is cancelled, then returns ctx.Err() so the
// supervisor treats the stop as deliberate.
//
// Error policy, applied in order:
//   - pop timeout: not an error, loop again
//   - undecodable message: ack and drop, never retry (a replay would fail
//     the same way forever and wedge the queue)
//   - commit error: log, ack, back off, continue; the event is lost rather
//     than retried so the counters never double-count a delivery
func (w *Worker) Serve(ctx context.Context) error {
	logging.Info().Int("worker_id", w.id).Msg("Worker started")
	defer logging.Info().Int("worker_id", w.id).Msg("Worker stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delivery, err := w.queue.Pop(ctx, w.popTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logging.Warn().Err(err).Int("worker_id", w.id).Msg("Queue pop failed")
			metrics.RecordWorkerBackoff()
			w.sleep(ctx)
			continue
		}
		if delivery == nil {
			// Empty queue; go straight back to blocking.
			continue
		}

		w.process(ctx, delivery)
	}
}

// process handles one delivery end to end. The message is acknowledged on
// every path: the commit protocol's idempotence is what makes redelivery
// safe, not the ack discipline.
func (w *Worker) process(ctx context.Context, delivery *broker.Delivery) {
	ev, err := models.DeserializeEvent(delivery.Data)
	if err != nil {
		w.counters.ParseErrors.Add(1)
		metrics.RecordWorkerEvent("parse_error")
		logging.Warn().Err(err).
			Int("worker_id", w.id).
			Msg("Dropping undecodable message")
		w.ack(delivery)
		return
	}

	isNew, err := w.store.CommitEvent(ctx, ev)
	if err != nil {
		w.counters.CommitErrors.Add(1)
		metrics.RecordWorkerEvent("commit_error")
		logging.Error().Err(err).
			Int("worker_id", w.id).
			Str("topic", ev.Topic).
			Str("event_id", ev.EventID).
			Msg("Commit failed, dropping event")
		w.ack(delivery)
		metrics.RecordWorkerBackoff()
		w.sleep(ctx)
		return
	}

	w.ack(delivery)

	result := "duplicate"
	if isNew {
		result = "new"
		w.counters.Processed.Add(1)
	} else {
		w.counters.Duplicates.Add(1)
	}
	metrics.RecordWorkerEvent(result)
	logging.Debug().
		Int("worker_id", w.id).
		Str("topic", ev.Topic).
		Str("event_id", ev.EventID).
		Str("result", result).
		Msg("Event processed")
}

func (w *Worker) ack(delivery *broker.Delivery) {
	if err := delivery.Ack(); err != nil {
		logging.Warn().Err(err).Int("worker_id", w.id).Msg("Ack failed")
	}
}

// sleep pauses for the error backoff, returning early on cancellation.
func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.errorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// String implements fmt.Stringer for supervisor logging.
func (w *Worker) String() string {
	return "worker-" + strconv.Itoa(w.id)
}
