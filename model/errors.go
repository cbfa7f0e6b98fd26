package model

import (
	"fmt"
	"time"
)

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrInternalError     = "INTERNAL_ERROR"
	ErrThrottled         = "THROTTLED"
	ErrCircuitOpen       = "CIRCUIT_OPEN"
	ErrTimeout           = "TIMEOUT"
	ErrProviderError     = "PROVIDER_ERROR"
	ErrProviderRejected  = "PROVIDER_REJECTED"
	ErrStorageError      = "STORAGE_ERROR"
	ErrUnknownInstance   = "UNKNOWN_INSTANCE"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrGuardFailed       = "GUARD_FAILED"
)

// ErrorEnvelope is the standard error shape surfaced by the service.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfter carries a concrete wait hint for THROTTLED and CIRCUIT_OPEN
	// responses so clients can back off instead of hammering.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	TraceID    string        `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	env, ok := err.(*ErrorEnvelope)
	return ok && env.Code == code
}

// Retryable reports whether the error represents a transient condition that
// may succeed on retry. Circuit-open and permanent provider rejections are
// not retryable; timeouts and generic provider errors are.
func Retryable(err error) bool {
	env, ok := err.(*ErrorEnvelope)
	if !ok {
		return false
	}
	switch env.Code {
	case ErrTimeout, ErrProviderError:
		return true
	}
	return false
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewThrottledError returns a THROTTLED error with a retry hint.
func NewThrottledError(retryAfter time.Duration) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:       ErrThrottled,
		Message:    "Rate limit exceeded. Please try again later.",
		RetryAfter: retryAfter,
	}
}

// NewCircuitOpenError returns a CIRCUIT_OPEN error for the given provider key.
func NewCircuitOpenError(key string, retryAfter time.Duration) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:       ErrCircuitOpen,
		Message:    fmt.Sprintf("model provider %q is temporarily unavailable", key),
		RetryAfter: retryAfter,
	}
}

// NewTimeoutError returns a TIMEOUT error.
func NewTimeoutError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrTimeout, Message: msg}
}

// NewProviderError returns a transient PROVIDER_ERROR.
func NewProviderError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrProviderError, Message: msg}
}

// NewProviderRejectedError returns a permanent PROVIDER_REJECTED error.
// These are never retried: the request itself is at fault (bad input, auth).
func NewProviderRejectedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrProviderRejected, Message: msg}
}

// NewStorageError wraps a repository failure. A storage error means the
// workflow step was not committed.
func NewStorageError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStorageError, Message: msg}
}

// NewUnknownInstanceError returns an UNKNOWN_INSTANCE error.
func NewUnknownInstanceError(instanceID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownInstance,
		Message: fmt.Sprintf("workflow instance %q not found", instanceID),
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewGuardFailedError returns a GUARD_FAILED error.
func NewGuardFailedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrGuardFailed, Message: msg}
}
