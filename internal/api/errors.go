package api

import (
	"encoding/json"
	"net/http"

	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/storage"
)

// ErrorBody is the error payload
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorBody{Code: code, Message: message, Details: details},
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CYCLE_RUNNING"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// mapError maps categorized errors to HTTP status codes.
func mapError(err error) (int, string, string) {
	if errors.Is(err, storage.ErrCacheMiss) {
		return http.StatusNotFound, ErrCodeNotFound, "Not published yet"
	}

	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest, ErrCodeInvalidInput, err.Error()
	case errors.CategoryLockContention:
		return http.StatusConflict, ErrCodeConflict, err.Error()
	case errors.CategoryCache, errors.CategoryStorage:
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Backing store unavailable"
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"
	}
}
