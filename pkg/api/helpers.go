// Package api provides standardized helper functions for HTTP API responses.
package api

import (
	"encoding/json"
	"net/http"

	appErrors "analytics-hub-backend/pkg/errors"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Type          string `json:"type,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Success sends a standardized successful HTTP response with optional JSON data.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ErrorWithCorrelation sends a standardized error response carrying the
// request's correlation id.
func ErrorWithCorrelation(w http.ResponseWriter, statusCode int, message, correlationID string) {
	write(w, statusCode, ErrorResponse{Error: message, CorrelationID: correlationID})
}

// FromError writes err with the status implied by its AppError type.
// Internal errors never expose their cause.
func FromError(w http.ResponseWriter, err error, correlationID string) {
	status := appErrors.HTTPStatus(err)
	kind := appErrors.TypeOf(err)
	msg := err.Error()
	if kind == appErrors.ErrorTypeInternal {
		msg = http.StatusText(status)
	}
	write(w, status, ErrorResponse{Error: msg, Type: string(kind), CorrelationID: correlationID})
}

func write(w http.ResponseWriter, statusCode int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
