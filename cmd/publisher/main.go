// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package main is the synthetic load generator for Tributary.
//
// It publishes a configurable number of events straight onto the broker
// queue, resending a fraction of them as deliberate duplicates so the
// aggregator's dedup path gets exercised under load. Pacing, volume, and
// duplicate probability come from the publisher section of the shared
// configuration:
//
//	export NATS_URL=nats://127.0.0.1:4222
//	export PUBLISHER_TOTAL_EVENTS=20000
//	export PUBLISHER_DUPLICATE_RATE=0.35
//	export PUBLISHER_SEND_RATE=100
//	./tributary-publisher
//
// The generator connects to an already-running broker; it never starts an
// embedded server of its own.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/tributary/internal/broker"
	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/publisher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("broker_url", cfg.Broker.URL).
		Int("total_events", cfg.Publisher.TotalEvents).
		Float64("duplicate_rate", cfg.Publisher.DuplicateRate).
		Int("send_rate", cfg.Publisher.SendRate).
		Msg("Starting synthetic publisher")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// The queue stream must exist before publishing; provisioning is
	// idempotent, so racing the server here is harmless.
	if err := broker.ProvisionStream(ctx, &cfg.Broker, cfg.Broker.URL); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision event queue stream")
	}

	pub, err := broker.NewPublisher(&cfg.Broker, cfg.Broker.URL, broker.NewWatermillLogger())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}()

	gen := publisher.New(&cfg.Publisher, pub)
	summary, err := gen.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Load generation aborted")
	}

	if summary.Errors > 0 {
		os.Exit(1)
	}
}
