// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package main is the entry point for the Tributary aggregator server.
//
// Tributary ingests events over HTTP, buffers them in a NATS JetStream
// work queue, and drains the queue with a pool of workers that commit each
// event idempotently into DuckDB. Duplicate events, keyed on
// (topic, event_id), are counted and dropped inside the same transaction
// that records unique events, so the running totals always satisfy
//
//	received_total == unique_processed + duplicate_dropped
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and config file (Koanf v2)
//  2. Database: DuckDB store with events, processed_events, stats tables
//  3. Broker: embedded NATS server (optional) and JetStream work queue
//  4. Publisher: circuit-breaker-wrapped Watermill producer used by the API
//  5. Workers: pull-consumer pool committing events to the store
//  6. HTTP Server: ingestion and query API (Chi)
//
// All long-running components run under a suture supervisor tree with
// broker, pipeline, and API layers, so a crashing worker is restarted
// without disturbing ingestion or queries.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (NUM_WORKERS, DATABASE_URL, NATS_URL, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete
//   - Stops the worker pool; unacked queue messages are redelivered on
//     restart and deduplicated by the commit protocol
//   - Checkpoints and closes the database
//
// # Example Usage
//
// Self-contained single binary with the embedded broker:
//
//	export DATABASE_URL=/data/tributary.duckdb
//	export NUM_WORKERS=5
//	./tributary
//
// Against an external NATS server:
//
//	export BROKER_EMBEDDED_SERVER=false
//	export NATS_URL=nats://nats:4222
//	./tributary
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/tributary/internal/api"
	"github.com/tomtom215/tributary/internal/broker"
	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/supervisor"
	"github.com/tomtom215/tributary/internal/supervisor/services"
	"github.com/tomtom215/tributary/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("workers", cfg.Workers.Count).
		Bool("embedded_broker", cfg.Broker.EmbeddedServer).
		Msg("Starting Tributary")

	// Database first: the store carries the counters and dedup index the
	// whole pipeline hangs off.
	db, err := database.Open(&cfg.Database, cfg.Workers.Count)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broker: embedded server unless pointed at an external one.
	var embedded *broker.EmbeddedServer
	brokerURL := cfg.Broker.URL
	if cfg.Broker.EmbeddedServer {
		embedded, err = broker.NewEmbeddedServer(&cfg.Broker)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded broker")
		}
		brokerURL = embedded.ClientURL()
		logging.Info().Str("url", brokerURL).Msg("Embedded broker started")
	}

	if err := broker.ProvisionStream(ctx, &cfg.Broker, brokerURL); err != nil {
		shutdownBroker(embedded)
		logging.Fatal().Err(err).Msg("Failed to provision event queue stream")
	}

	queue, err := broker.NewQueue(ctx, &cfg.Broker, brokerURL)
	if err != nil {
		shutdownBroker(embedded)
		logging.Fatal().Err(err).Msg("Failed to bind event queue consumer")
	}
	defer queue.Close()

	pub, err := broker.NewPublisher(&cfg.Broker, brokerURL, broker.NewWatermillLogger())
	if err != nil {
		shutdownBroker(embedded)
		logging.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}()
	logging.Info().
		Str("stream", cfg.Broker.StreamName).
		Str("queue", cfg.Broker.QueueName).
		Msg("Event queue ready")

	// Supervisor tree: broker, pipeline, and API layers.
	slogger := slog.New(logging.NewSlogHandler())
	tree := supervisor.NewTree(slogger, supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	if embedded != nil {
		tree.AddBrokerService(services.NewBrokerService(embedded, cfg.Server.ShutdownTimeout))
	}

	for _, w := range worker.NewPool(&cfg.Workers, queue, db) {
		tree.AddPipelineService(w)
	}
	logging.Info().Int("count", cfg.Workers.Count).Msg("Worker pool added to supervisor tree")

	handler := api.NewHandler(db, pub, queue.Connected)
	router := api.NewRouter(handler, &cfg.Server)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain remaining errors until the supervisor finishes.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}

// shutdownBroker stops an embedded broker during failed startup, before
// the supervisor tree owns its lifecycle.
func shutdownBroker(embedded *broker.EmbeddedServer) {
	if embedded == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := embedded.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("Error stopping embedded broker")
	}
}
