package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stewardhq/steward/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "ok"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"bad request", model.NewBadRequestError("nope"), http.StatusBadRequest},
		{"unauthorized", model.NewUnauthorizedError("nope"), http.StatusUnauthorized},
		{"not found", model.NewNotFoundError("nope"), http.StatusNotFound},
		{"conflict", model.NewConflictError("nope"), http.StatusConflict},
		{"throttled", model.NewThrottledError(2 * time.Second), http.StatusTooManyRequests},
		{"circuit open", model.NewCircuitOpenError("acme/small", 5*time.Second), http.StatusServiceUnavailable},
		{"timeout", model.NewTimeoutError("model call"), http.StatusGatewayTimeout},
		{"provider error", model.NewProviderError("upstream 500"), http.StatusBadGateway},
		{"unknown instance", model.NewUnknownInstanceError("wf-1"), http.StatusNotFound},
		{"invalid transition", model.NewInvalidTransitionError("no transition for event"), http.StatusUnprocessableEntity},
		{"guard failed", model.NewGuardFailedError("guard rejected transition"), http.StatusUnprocessableEntity},
		{"internal", model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)
			if w.Code != tc.status {
				t.Errorf("status = %d, want %d", w.Code, tc.status)
			}
		})
	}
}

func TestWriteError_envelopeBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("workflow not found"))

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error == nil {
		t.Fatal("missing error field")
	}
	if body.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q, want %q", body.Error.Code, model.ErrNotFound)
	}
	if body.Error.Message != "workflow not found" {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestWriteError_retryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewThrottledError(3*time.Second))

	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want %q", got, "3")
	}
}

func TestWriteError_retryAfterMinimumOneSecond(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewThrottledError(200*time.Millisecond))

	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
}

func TestWriteError_noRetryAfterWhenZero(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewBadRequestError("nope"))

	if got := w.Header().Get("Retry-After"); got != "" {
		t.Errorf("Retry-After = %q, want empty", got)
	}
}

func TestWriteError_nonEnvelopeError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("something exploded"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error.Code != model.ErrInternalError {
		t.Errorf("code = %q, want %q", body.Error.Code, model.ErrInternalError)
	}
}

func TestWriteNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNotFound(w, "no such route")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
