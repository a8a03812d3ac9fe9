// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/scriptorium/internal/logging"
)

// APIError is the JSON error envelope returned by all endpoints.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse wraps an APIError for the wire.
type errorResponse struct {
	Error APIError `json:"error"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError writes a JSON error envelope with the given status code.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: APIError{Code: code, Message: message}})
}
