// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/models"
	"github.com/tomtom215/tributary/internal/validation"
)

// sanitizeLogValue removes control characters from strings to prevent log
// injection through attacker-controlled identifiers.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError sends an error response in the standard shape.
func respondError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	respondJSON(w, status, &models.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondValidationError translates a validation failure to the 422
// VALIDATION_ERROR response shape.
func respondValidationError(w http.ResponseWriter, err error) {
	if ve, ok := err.(*validation.RequestValidationError); ok {
		apiErr := ve.ToAPIError()
		respondError(w, http.StatusUnprocessableEntity, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}
	respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
}

// getIntParam extracts an integer query parameter, falling back to def
// when absent. A malformed value returns an error so the endpoint can
// reject it rather than silently applying the default.
func getIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
