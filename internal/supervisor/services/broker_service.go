// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package services

import (
	"context"
	"errors"
	"time"
)

// BrokerRunner matches the embedded broker's lifecycle. The broker is
// started during wiring, before the tree runs, because the queue and
// publisher need its client URL; the service supervises it from there.
//
// Satisfied by *broker.EmbeddedServer.
type BrokerRunner interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// BrokerService supervises an already-running embedded broker. It
// periodically checks liveness so an unexpected broker exit surfaces as a
// service failure, and shuts the broker down when the tree stops.
type BrokerService struct {
	broker          BrokerRunner
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	name            string
}

// NewBrokerService creates a broker supervision wrapper.
func NewBrokerService(broker BrokerRunner, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{
		broker:          broker,
		checkInterval:   5 * time.Second,
		shutdownTimeout: shutdownTimeout,
		name:            "embedded-broker",
	}
}

// Serve implements suture.Service. The embedded server cannot be
// restarted in place, so a dead broker is reported as an error and left
// to the operator; suture's backoff keeps the report from spinning.
func (s *BrokerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.broker.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return ctx.Err()

		case <-ticker.C:
			if !s.broker.IsRunning() {
				return errors.New("embedded broker stopped unexpectedly")
			}
		}
	}
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *BrokerService) String() string {
	return s.name
}
