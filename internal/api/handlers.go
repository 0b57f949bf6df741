// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/models"
	"github.com/tomtom215/tributary/internal/validation"
)

// maxBodyBytes bounds request bodies to keep a hostile client from
// buffering arbitrary amounts of memory. Batch size is bounded separately
// by the batchRequest validate tag.
const maxBodyBytes = 4 << 20

// PublishEvent handles POST /publish: validate, enqueue, respond. The
// event is not committed here; a 200 means "accepted onto the queue",
// deduplication happens later at the store.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.Event
	if err := decodeBody(w, r, &ev); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := ev.Validate(); err != nil {
		respondValidationError(w, err)
		return
	}

	if err := h.queue.PublishEvent(r.Context(), &ev); err != nil {
		logging.Error().Err(err).
			Str("topic", sanitizeLogValue(ev.Topic)).
			Str("event_id", sanitizeLogValue(ev.EventID)).
			Msg("Enqueue failed")
		respondError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", "Failed to enqueue event", nil)
		return
	}

	respondJSON(w, http.StatusOK, &models.EventResponse{
		EventID: ev.EventID,
		Status:  "queued",
		Success: true,
	})
}

// batchRequest is the POST /publish/batch body.
type batchRequest struct {
	Events []json.RawMessage `json:"events" validate:"required,min=1,max=1000"`
}

// PublishBatch handles POST /publish/batch. Enqueueing is best effort per
// event: a malformed or unenqueueable event is reported in its result slot
// without aborting the rest of the batch.
func (h *Handler) PublishBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		respondValidationError(w, err)
		return
	}

	resp := models.BatchResponse{
		Total:   len(req.Events),
		Results: make([]models.EventResponse, 0, len(req.Events)),
	}

	for _, raw := range req.Events {
		result := h.enqueueOne(r, raw)
		if result.Success {
			resp.Success++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, result)
	}

	respondJSON(w, http.StatusOK, &resp)
}

// enqueueOne validates and enqueues a single batch entry.
func (h *Handler) enqueueOne(r *http.Request, raw json.RawMessage) models.EventResponse {
	var ev models.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return models.EventResponse{Status: "error", Error: err.Error()}
	}
	if err := ev.Validate(); err != nil {
		return models.EventResponse{EventID: ev.EventID, Status: "error", Error: err.Error()}
	}
	if err := h.queue.PublishEvent(r.Context(), &ev); err != nil {
		logging.Error().Err(err).
			Str("topic", sanitizeLogValue(ev.Topic)).
			Str("event_id", sanitizeLogValue(ev.EventID)).
			Msg("Batch enqueue failed")
		return models.EventResponse{EventID: ev.EventID, Status: "error", Error: "failed to enqueue event"}
	}
	return models.EventResponse{EventID: ev.EventID, Status: "queued", Success: true}
}

// eventsRequest validates the GET /events query parameters.
type eventsRequest struct {
	Limit int `validate:"min=1,max=1000"`
}

// Events handles GET /events?topic=&limit=, returning committed events
// newest first.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	limit, err := getIntParam(r, "limit", 100)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if verr := validation.ValidateStruct(&eventsRequest{Limit: limit}); verr != nil {
		respondValidationError(w, verr)
		return
	}
	topic := r.URL.Query().Get("topic")

	events, err := h.db.QueryEvents(r.Context(), topic, limit)
	if err != nil {
		logging.Error().Err(err).Msg("Event query failed")
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query events", nil)
		return
	}

	respondJSON(w, http.StatusOK, &models.EventQueryResponse{
		Total:       len(events),
		Events:      events,
		TopicFilter: topic,
	})
}

// Stats handles GET /stats, reporting the pipeline counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.ReadStats(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Stats read failed")
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to read stats", nil)
		return
	}
	topics, err := h.db.ActiveTopics(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Active topics count failed")
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to read stats", nil)
		return
	}

	respondJSON(w, http.StatusOK, &models.StatsResponse{
		ReceivedTotal:    stats.Received,
		UniqueProcessed:  stats.UniqueProcessed,
		DuplicateDropped: stats.DuplicateDropped,
		ActiveTopics:     topics,
		UptimeSeconds:    time.Since(h.startTime).Seconds(),
		StartedAt:        stats.StartedAt,
		LastUpdated:      stats.LastUpdated,
	})
}

// Health handles GET /health. The store is the hard dependency: a failed
// ping degrades the service to 503. Broker state is reported but does not
// fail the check because ingestion errors already surface per request.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil

	brokerState := "unknown"
	if h.brokerOnline != nil {
		if h.brokerOnline() {
			brokerState = "connected"
		} else {
			brokerState = "disconnected"
		}
	}

	status := "healthy"
	code := http.StatusOK
	dbState := "connected"
	if !dbConnected {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		dbState = "disconnected"
	}

	respondJSON(w, code, &models.HealthResponse{
		Status:        status,
		Database:      dbState,
		Broker:        brokerState,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// decodeBody decodes a size-limited JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
