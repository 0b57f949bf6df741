// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package metrics provides Prometheus metrics collection for the intake
// pipeline: ingestion API throughput, broker publishes, worker commit
// outcomes, and store latency. Metrics are exposed at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Broker Metrics
	BrokerPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publishes_total",
			Help: "Total number of events pushed to the broker queue",
		},
		[]string{"outcome"}, // "ok", "error"
	)

	BrokerPopTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_pop_timeouts_total",
			Help: "Total number of queue pops that returned empty on timeout",
		},
	)

	// Worker Metrics
	WorkerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_events_total",
			Help: "Total number of events drained from the queue by workers",
		},
		[]string{"result"}, // "new", "duplicate", "parse_error", "commit_error"
	)

	WorkerBackoffsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_backoffs_total",
			Help: "Total number of 1s error backoffs taken by workers",
		},
	)

	// Store Metrics
	StoreCommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_commit_duration_seconds",
			Help:    "Duration of idempotent commit transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"}, // "new", "duplicate", "error"
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_query_errors_total",
			Help: "Total number of store query errors",
		},
		[]string{"operation"},
	)
)

// RecordAPIRequest records an HTTP request with its outcome and duration.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(active bool) {
	if active {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordPublish records a broker publish outcome.
func RecordPublish(err error) {
	if err != nil {
		BrokerPublishesTotal.WithLabelValues("error").Inc()
		return
	}
	BrokerPublishesTotal.WithLabelValues("ok").Inc()
}

// RecordPopTimeout records an empty pop.
func RecordPopTimeout() {
	BrokerPopTimeouts.Inc()
}

// RecordWorkerEvent records the outcome of one drained message.
func RecordWorkerEvent(result string) {
	WorkerEventsTotal.WithLabelValues(result).Inc()
}

// RecordWorkerBackoff records an error backoff.
func RecordWorkerBackoff() {
	WorkerBackoffsTotal.Inc()
}

// RecordCommit records an idempotent commit with its duration.
func RecordCommit(newEvent bool, err error, duration time.Duration) {
	result := "duplicate"
	switch {
	case err != nil:
		result = "error"
	case newEvent:
		result = "new"
	}
	StoreCommitDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordQueryError records a failed store query.
func RecordQueryError(operation string) {
	StoreQueryErrors.WithLabelValues(operation).Inc()
}

// StatusCodeLabel formats an HTTP status code for the status_code label.
func StatusCodeLabel(code int) string {
	return strconv.Itoa(code)
}
