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
	"github.com/tomtom215/tributary/internal/metrics"
)

// Delivery is one message handed to a worker. Ack must be called after the
// store commit; an unacked message is redelivered, which is safe because
// the commit protocol is idempotent.
type Delivery struct {
	Data []byte
	msg  jetstream.Msg
}

// Ack acknowledges the message, removing it from the work queue.
func (d *Delivery) Ack() error {
	return d.msg.Ack()
}

// Queue is the consumer side of the event queue: a durable pull consumer
// shared by all workers. Each Pop fetches at most one message, so a burst
// of workers drains the queue in FIFO order with single-delivery handoff.
type Queue struct {
	conn     *natsgo.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      *config.BrokerConfig
}

// NewQueue connects to the broker and binds the shared durable consumer.
// The stream must exist already (see StreamManager.EnsureQueue).
func NewQueue(ctx context.Context, cfg *config.BrokerConfig, url string) (*Queue, error) {
	conn, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       cfg.DurableName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: cfg.QueueName,
		MaxAckPending: -1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create consumer %s: %w", cfg.DurableName, err)
	}

	return &Queue{
		conn:     conn,
		js:       js,
		consumer: consumer,
		cfg:      cfg,
	}, nil
}

// JetStream returns the underlying JetStream context, used for stream
// management on the same connection.
func (q *Queue) JetStream() jetstream.JetStream {
	return q.js
}

// Pop fetches the oldest message from the queue, blocking up to timeout.
// A timeout with no message available returns (nil, nil) so callers can
// check for cancellation and try again.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(timeout))
	if err != nil {
		if errors.Is(err, natsgo.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordPopTimeout()
			return nil, nil
		}
		return nil, fmt.Errorf("fetch from queue: %w", err)
	}

	for msg := range batch.Messages() {
		return &Delivery{Data: msg.Data(), msg: msg}, nil
	}
	if err := batch.Error(); err != nil {
		if errors.Is(err, natsgo.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordPopTimeout()
			return nil, nil
		}
		return nil, fmt.Errorf("fetch from queue: %w", err)
	}

	metrics.RecordPopTimeout()
	return nil, nil
}

// Depth returns the number of messages waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (uint64, error) {
	stream, err := q.js.Stream(ctx, q.cfg.StreamName)
	if err != nil {
		return 0, fmt.Errorf("get stream %s: %w", q.cfg.StreamName, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("get stream info: %w", err)
	}
	return info.State.Msgs, nil
}

// Connected reports whether the underlying NATS connection is up.
func (q *Queue) Connected() bool {
	return q.conn != nil && q.conn.IsConnected()
}

// Close drains and closes the broker connection.
func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}
