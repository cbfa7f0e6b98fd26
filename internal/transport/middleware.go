package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/admission"
	"github.com/stewardhq/steward/model"
)

// Context keys for middleware-injected values.
type correlationIDKey struct{}
type claimsKey struct{}

// CorrelationIDFrom extracts the correlation ID from the request context.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// WithClaims stores JWT claims in the context. Used by the auth middleware.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom extracts JWT claims from the context.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

// Recovery catches panics in downstream handlers, logs them, and returns
// a 500 JSON error response.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)
					WriteError(w, model.NewInternalError())
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID reads X-Correlation-Id from the request header or generates a
// new one, then stores it in the context and sets the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = generateID()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityHeaders sets standard security response headers on all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// BuildRequestContext constructs a model.RequestContext from JWT claims
// (stored in context by the auth middleware) and standard request headers.
// The client identity used for admission keying comes from the client_id
// claim, falling back to the subject.
func BuildRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		clientID := claimString(claims, "client_id")
		if clientID == "" {
			clientID = claimString(claims, "sub")
		}
		rctx := &model.RequestContext{
			ClientID:      clientID,
			SubjectID:     claimString(claims, "sub"),
			Email:         claimString(claims, "email"),
			Roles:         claimStringSlice(claims, "roles"),
			Claims:        claims,
			Locale:        r.Header.Get("Accept-Language"),
			CorrelationID: CorrelationIDFrom(r.Context()),
		}
		ctx := model.WithRequestContext(r.Context(), rctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Admit returns middleware that gates requests through the admission
// controller. Rejected requests get a 429 with a Retry-After hint.
func Admit(ctrl *admission.Controller) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ctrl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := model.RequestContextFrom(r.Context())
			if rctx == nil || rctx.ClientID == "" {
				WriteError(w, model.NewUnauthorizedError("missing request context"))
				return
			}

			decision := ctrl.CheckAndConsume(rctx.ClientID, 1)
			if !decision.Allowed {
				WriteError(w, model.NewThrottledError(decision.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerTimeout returns middleware that sets a context deadline on requests.
func HandlerTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogging logs each request with method, path, status, and duration.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("correlation_id", CorrelationIDFrom(r.Context())),
			)
		})
	}
}

// --- helpers ---

// statusWriter wraps http.ResponseWriter to capture the written status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

func claimString(claims map[string]any, key string) string {
	if claims == nil {
		return ""
	}
	v, _ := claims[key].(string)
	return v
}

func claimStringSlice(claims map[string]any, key string) []string {
	if claims == nil {
		return nil
	}
	raw, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
