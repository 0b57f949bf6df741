// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/middleware"
)

// Router wires the handler into the Chi route tree.
type Router struct {
	handler *Handler
	cfg     *config.ServerConfig
}

// NewRouter creates a router over the given handler and server config.
func NewRouter(handler *Handler, cfg *config.ServerConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup configures all HTTP routes.
//
// Rate limits: the API routes share the standard per-IP limit; /health is
// far more permissive so monitors can poll freely. /metrics carries no
// limit at all since Prometheus scrapes on its own schedule.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.rateLimit(), time.Minute))
		r.Use(middleware.PrometheusMetrics)

		r.Post("/publish", router.handler.PublishEvent)
		r.Post("/publish/batch", router.handler.PublishBatch)
		r.Get("/events", router.handler.Events)
		r.Get("/stats", router.handler.Stats)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.healthRateLimit(), time.Minute))
		r.Get("/health", router.handler.Health)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (router *Router) rateLimit() int {
	if router.cfg.RateLimitPerMinute > 0 {
		return router.cfg.RateLimitPerMinute
	}
	return 600
}

func (router *Router) healthRateLimit() int {
	if router.cfg.HealthRateLimitPerMinute > 0 {
		return router.cfg.HealthRateLimitPerMinute
	}
	return 1000
}
