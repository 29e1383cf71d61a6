package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"modelpilot/internal/manager"
	"modelpilot/internal/pipeline"
	"modelpilot/internal/processor"
	"modelpilot/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case pipeline.IsTooBusy(err):
		return http.StatusTooManyRequests
	case pipeline.IsJobNotFound(err), manager.IsModelNotFound(err):
		return http.StatusNotFound
	case processor.IsUnsupportedFormat(err):
		return http.StatusUnsupportedMediaType
	case pipeline.IsValidation(err), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrClosed), manager.IsShuttingDown(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue")
	}
	writeJSONError(w, status, err.Error())
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Error().Err(err).Msg("encode response")
	}
}
