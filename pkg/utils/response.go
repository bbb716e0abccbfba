// Package utils provides common helpers for the shell's HTTP control surface:
// request ID propagation, standardized JSON responses, client IP extraction and
// retry with exponential backoff for calls to remote services.
package utils

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID extracts the request ID from context, or "" if absent.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID returns a copy of ctx carrying the request ID.
// The logging middleware sets it for every request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ErrorResponse is the body of every non-2xx response.
//
//	{
//	  "error": "Unauthorized",
//	  "kind": "invalid_credentials",
//	  "message": "Invalid email or password",
//	  "request_id": "550e8400-e29b-41d4-a716-446655440000"
//	}
type ErrorResponse struct {
	Error     string `json:"error"`                // HTTP status text
	Kind      string `json:"kind,omitempty"`       // Auth error kind, when one applies
	Message   string `json:"message,omitempty"`    // Human readable message for the form
	RequestID string `json:"request_id,omitempty"` // Request ID for tracing
}

// SuccessResponse wraps successful payloads.
type SuccessResponse struct {
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// RespondWithError writes a JSON error without an error kind.
func RespondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	RespondWithErrorKind(w, r, statusCode, "", message)
}

// RespondWithErrorKind writes a JSON error carrying the auth error kind so the
// calling screen can pick its inline message.
//
// Example:
//
//	utils.RespondWithErrorKind(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
func RespondWithErrorKind(w http.ResponseWriter, r *http.Request, statusCode int, kind, message string) {
	requestID := GetRequestID(r.Context())
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Kind:      kind,
		Message:   message,
		RequestID: requestID,
	}
	RespondWithJSONAndRequestID(w, statusCode, response, requestID)
}

// RespondWithJSON writes data as JSON with the given status code.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	RespondWithJSONAndRequestID(w, statusCode, data, GetRequestID(r.Context()))
}

// RespondWithJSONAndRequestID is RespondWithJSON for callers that already hold the request ID.
func RespondWithJSONAndRequestID(w http.ResponseWriter, statusCode int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("Failed to encode JSON response")
	}
}

// RespondWithSuccess wraps data in a SuccessResponse with status 200.
func RespondWithSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	requestID := GetRequestID(r.Context())
	RespondWithJSONAndRequestID(w, http.StatusOK, SuccessResponse{
		Data:      data,
		RequestID: requestID,
	}, requestID)
}

// RespondWithMessage writes {"message": ...} with the given status code.
func RespondWithMessage(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	requestID := GetRequestID(r.Context())
	response := map[string]string{
		"message": message,
	}
	if requestID != "" {
		response["request_id"] = requestID
	}
	RespondWithJSONAndRequestID(w, statusCode, response, requestID)
}
