package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/apperrors"
)

// ApiResponse wraps data in the envelope API clients expect.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceErrorResponse maps a service-layer error to its HTTP status and
// writes the standard error body. Client-caused failures echo the error
// text; anything unrecognized becomes a 500 that logs the cause and
// returns only the fallback message.
func ServiceErrorResponse(w http.ResponseWriter, logger *zap.Logger, errorCode, fallback string, err error) {
	status := http.StatusInternalServerError
	code := errorCode
	message := err.Error()

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrSuperseded):
		status, code = http.StatusConflict, "superseded"
	case errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	default:
		logger.Error(fallback, zap.Error(err))
		message = fallback
	}

	if writeErr := ErrorResponse(w, status, code, message); writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
