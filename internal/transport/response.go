// Package transport contains the HTTP router, middleware chain, and the
// request handlers that expose the engine to renderers.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tabwise/datadeck/internal/orchestrate"
	"github.com/tabwise/datadeck/model"
)

// errorResponse is the JSON envelope for all error responses.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError maps an engine error to an HTTP status and error code and
// writes the JSON error envelope. Unknown errors become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	WriteJSON(w, status, errorResponse{Error: errorDetail{
		Code:    code,
		Message: err.Error(),
	}})
}

// WriteBadRequest writes a 400 error response for malformed client input.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, errorResponse{Error: errorDetail{
		Code:    "bad_request",
		Message: msg,
	}})
}

// statusFor maps the engine error taxonomy to HTTP statuses. A missing
// configuration entry is an operator mistake and surfaces as a 500; backend
// trouble surfaces as the gateway statuses so callers can tell the engine
// apart from the systems behind it.
func statusFor(err error) (int, string) {
	var (
		notFound   *model.NotFoundError
		missing    *model.ConfigurationMissingError
		badFilter  *model.TranslationError
		timeout    *model.TimeoutError
		network    *model.NetworkError
		backendErr *model.HTTPError
		breaker    *model.BreakerOpenError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &missing):
		return http.StatusInternalServerError, "configuration_missing"
	case errors.As(err, &badFilter):
		return http.StatusBadRequest, "bad_filter"
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, "backend_timeout"
	case errors.As(err, &network):
		return http.StatusBadGateway, "backend_unreachable"
	case errors.As(err, &backendErr):
		return http.StatusBadGateway, "backend_error"
	case errors.As(err, &breaker):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, orchestrate.ErrLoadInFlight):
		return http.StatusConflict, "load_in_flight"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
