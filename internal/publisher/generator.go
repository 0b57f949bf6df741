// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package publisher generates synthetic event traffic for exercising the
// pipeline: a configurable number of events across a fixed topic set, with
// a tunable fraction of deliberate duplicates to drive the dedup path.
package publisher

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/models"
)

// defaultTopics is the fixed topic set synthetic events are spread over.
var defaultTopics = []string{
	"orders",
	"payments",
	"inventory",
	"shipping",
	"users",
	"sessions",
	"billing",
	"notifications",
	"analytics",
	"audit",
}

// Sender is the enqueue side of the broker as seen by the generator.
// The concrete implementation is broker.Publisher.
type Sender interface {
	PublishEvent(ctx context.Context, ev *models.Event) error
}

// Summary reports what a generator run actually sent.
type Summary struct {
	Sent       int
	Duplicates int
	Errors     int
	Elapsed    time.Duration
}

// Generator produces synthetic events at a bounded rate.
type Generator struct {
	sender  Sender
	cfg     *config.PublisherConfig
	topics  []string
	rng     *rand.Rand
	limiter *rate.Limiter
}

// New creates a generator. SendRate <= 0 disables pacing entirely, which
// is what tests and burst benchmarks want.
func New(cfg *config.PublisherConfig, sender Sender) *Generator {
	var limiter *rate.Limiter
	if cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burstFor(cfg.SendRate))
	}
	return &Generator{
		sender:  sender,
		cfg:     cfg,
		topics:  defaultTopics,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		limiter: limiter,
	}
}

// burstFor allows roughly a tenth of a second of slack so the limiter
// smooths the rate without stalling on every single send.
func burstFor(sendRate int) int {
	burst := sendRate / 10
	if burst < 1 {
		burst = 1
	}
	return burst
}

// Run sends cfg.TotalEvents events and returns a summary. Individual send
// failures are counted and logged, not fatal; only context cancellation
// stops the run early.
func (g *Generator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	// Previously sent events, resampled to produce duplicates.
	sent := make([]*models.Event, 0, g.cfg.TotalEvents)

	for i := 0; i < g.cfg.TotalEvents; i++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				summary.Elapsed = time.Since(start)
				return summary, err
			}
		} else if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}

		ev, isDuplicate := g.nextEvent(sent, i)

		if err := g.sender.PublishEvent(ctx, ev); err != nil {
			summary.Errors++
			logging.Warn().Err(err).
				Str("topic", ev.Topic).
				Str("event_id", ev.EventID).
				Msg("Synthetic publish failed")
			continue
		}

		summary.Sent++
		if isDuplicate {
			summary.Duplicates++
		} else {
			sent = append(sent, ev)
		}
	}

	summary.Elapsed = time.Since(start)
	logging.Info().
		Int("sent", summary.Sent).
		Int("duplicates", summary.Duplicates).
		Int("errors", summary.Errors).
		Dur("elapsed", summary.Elapsed).
		Msg("Synthetic load complete")
	return summary, nil
}

// nextEvent resends a previously sent event with probability DuplicateRate,
// otherwise fabricates a fresh one. The first event is always fresh.
func (g *Generator) nextEvent(sent []*models.Event, seq int) (*models.Event, bool) {
	if len(sent) > 0 && g.rng.Float64() < g.cfg.DuplicateRate {
		original := sent[g.rng.Intn(len(sent))]
		// Resend with a fresh timestamp; dedup keys on (topic, event_id)
		// so the replay must still be dropped downstream.
		replay := *original
		replay.Timestamp = time.Now().UTC()
		return &replay, true
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"sequence":  seq,
		"amount":    g.rng.Intn(10000),
		"reference": fmt.Sprintf("ref-%06d", g.rng.Intn(1000000)),
	})

	return &models.Event{
		Topic:     g.topics[g.rng.Intn(len(g.topics))],
		EventID:   "evt_" + uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "synthetic-publisher",
		Payload:   payload,
	}, false
}
