// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/tributary/internal/config"
)

// StreamManager handles JetStream stream lifecycle for the event queue.
// It ensures the stream exists with the correct configuration before
// publishers and workers start.
type StreamManager struct {
	js  jetstream.JetStream
	cfg *config.BrokerConfig
}

// NewStreamManager creates a stream manager over an established JetStream
// context.
func NewStreamManager(js jetstream.JetStream, cfg *config.BrokerConfig) (*StreamManager, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("broker config required")
	}
	return &StreamManager{js: js, cfg: cfg}, nil
}

// EnsureQueue creates or updates the work-queue stream backing the event
// queue. The operation is idempotent.
//
// WorkQueuePolicy retention gives the queue its FIFO pop semantics: a
// message is removed from the stream once a consumer acknowledges it, so
// each event is handed to exactly one worker.
func (m *StreamManager) EnsureQueue(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:       m.cfg.StreamName,
		Subjects:   []string{m.cfg.QueueName},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: m.cfg.DuplicateWindow,
		Discard:    jetstream.DiscardOld,
	}

	_, err := m.js.Stream(ctx, m.cfg.StreamName)
	if err == nil {
		stream, err := m.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", m.cfg.StreamName, err)
		}
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := m.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", m.cfg.StreamName, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", m.cfg.StreamName, err)
}

// IsHealthy checks if the stream exists and is accessible.
func (m *StreamManager) IsHealthy(ctx context.Context) bool {
	_, err := m.js.Stream(ctx, m.cfg.StreamName)
	return err == nil
}

// ProvisionStream connects to the broker, ensures the work-queue stream
// exists, and closes the provisioning connection again. Startup wiring
// calls this before the queue and publisher bind their own connections.
func ProvisionStream(ctx context.Context, cfg *config.BrokerConfig, url string) error {
	conn, err := natsgo.Connect(url, natsgo.Timeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	mgr, err := NewStreamManager(js, cfg)
	if err != nil {
		return err
	}
	if _, err := mgr.EnsureQueue(ctx); err != nil {
		return err
	}
	return nil
}
