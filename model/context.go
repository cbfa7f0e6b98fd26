package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries identity and tracing information for the lifetime of
// an authenticated request. It is immutable after construction and safe for
// concurrent reads. ClientID is the identity the admission controller keys
// its buckets on.
type RequestContext struct {
	ClientID      string
	SubjectID     string
	Email         string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	Locale        string
}

// Validate checks that all mandatory fields are present.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.ClientID == "" {
		errs = append(errs, fmt.Errorf("ClientID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the RequestContext contains the given role.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking
// if it is not present. Safe to call in handlers guaranteed to run behind the
// authentication middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
