// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the steward API.
package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/stewardhq/steward/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:        http.StatusBadRequest,
	model.ErrUnauthorized:      http.StatusUnauthorized,
	model.ErrNotFound:          http.StatusNotFound,
	model.ErrConflict:          http.StatusConflict,
	model.ErrThrottled:         http.StatusTooManyRequests,
	model.ErrCircuitOpen:       http.StatusServiceUnavailable,
	model.ErrTimeout:           http.StatusGatewayTimeout,
	model.ErrProviderError:     http.StatusBadGateway,
	model.ErrProviderRejected:  http.StatusBadGateway,
	model.ErrStorageError:      http.StatusInternalServerError,
	model.ErrUnknownInstance:   http.StatusNotFound,
	model.ErrInvalidTransition: http.StatusUnprocessableEntity,
	model.ErrGuardFailed:       http.StatusUnprocessableEntity,
	model.ErrInternalError:     http.StatusInternalServerError,
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

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is
// returned. Throttled and circuit-open responses carry a Retry-After header.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if ee.RetryAfter > 0 {
		seconds := int(ee.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}
