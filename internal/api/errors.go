package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/controlbridge/internal/relay"
	"github.com/nerrad567/controlbridge/internal/state"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeDeviceUnreachable  = "device_unreachable"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeStateError maps a store error to a response. Range violations are
// validation errors, malformed actions are bad requests.
func writeStateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, state.ErrInvalidAction), errors.Is(err, state.ErrUnknownAction):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, "state update failed")
	}
}

// writeRelayError maps a relay error to a response.
func writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrDeviceUnreachable):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceUnreachable, err.Error())
	case errors.Is(err, relay.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "device relay is shutting down")
	default:
		writeInternalError(w, "device call failed")
	}
}
