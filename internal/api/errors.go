package api

import (
	"encoding/json"
	"net/http"

	"github.com/pro-subscriber/internal/logging"
)

// ErrorResponse is the relay's error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// Relay error messages
const (
	MsgMissingIdempotencyKey = "Missing idempotency-key header"
	MsgInvalidBody           = "Invalid request body"
	MsgSendFailed            = "Failed to send message"
	MsgUnexpected            = "Unexpected error"
	MsgUpstreamUnavailable   = "Message provider temporarily unavailable"
	MsgRateLimited           = "Rate limit exceeded. Please try again later."
	MsgInternal              = "An internal server error occurred"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.WithError(err).Warn("Failed to encode response")
		}
	}
}

// respondRaw sends an already encoded JSON body
func respondRaw(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
