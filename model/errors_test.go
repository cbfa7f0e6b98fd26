package model

import (
	"testing"
	"time"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "definition missing"}
	want := "NOT_FOUND: definition missing"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewThrottledError(t *testing.T) {
	e := NewThrottledError(3 * time.Second)
	if e.Code != ErrThrottled {
		t.Errorf("Code = %q, want %q", e.Code, ErrThrottled)
	}
	if e.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want 3s", e.RetryAfter)
	}
}

func TestNewCircuitOpenError(t *testing.T) {
	e := NewCircuitOpenError("acme/small", 10*time.Second)
	if e.Code != ErrCircuitOpen {
		t.Errorf("Code = %q, want %q", e.Code, ErrCircuitOpen)
	}
	if e.RetryAfter != 10*time.Second {
		t.Errorf("RetryAfter = %v, want 10s", e.RetryAfter)
	}
}

func TestNewUnknownInstanceError(t *testing.T) {
	e := NewUnknownInstanceError("wf-123")
	if e.Code != ErrUnknownInstance {
		t.Errorf("Code = %q, want %q", e.Code, ErrUnknownInstance)
	}
}

func TestIsCode(t *testing.T) {
	if !IsCode(NewGuardFailedError("no"), ErrGuardFailed) {
		t.Error("IsCode should match GUARD_FAILED")
	}
	if IsCode(NewGuardFailedError("no"), ErrThrottled) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, ErrThrottled) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", NewTimeoutError("deadline"), true},
		{"provider error", NewProviderError("503"), true},
		{"circuit open", NewCircuitOpenError("k", 0), false},
		{"rejected", NewProviderRejectedError("bad auth"), false},
		{"storage", NewStorageError("down"), false},
		{"plain error", &ErrorEnvelope{Code: ErrInternalError}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWorkflowDefinition_IsTerminal(t *testing.T) {
	def := WorkflowDefinition{TerminalStates: []string{"approved", "rejected"}}
	if !def.IsTerminal("approved") {
		t.Error("approved should be terminal")
	}
	if def.IsTerminal("pending") {
		t.Error("pending should not be terminal")
	}
}
