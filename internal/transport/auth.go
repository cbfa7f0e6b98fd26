package transport

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/model"
)

// JWTAuthenticator returns middleware that verifies HMAC-signed JWT tokens
// from the Authorization header and stores verified claims in the request
// context.
func JWTAuthenticator(cfg config.IdentityConfig) func(http.Handler) http.Handler {
	key := []byte(cfg.SigningKey)
	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"HS256"}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				WriteError(w, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}
			tokenStr := auth[7:]

			token, err := jwt.Parse(tokenStr,
				func(token *jwt.Token) (any, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
					}
					return key, nil
				},
				jwt.WithValidMethods(algorithms),
				jwt.WithIssuer(cfg.Issuer),
				jwt.WithAudience(cfg.Audience),
				jwt.WithLeeway(30*time.Second),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classifyJWTError(err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "expired"):
		return "Token expired"
	case strings.Contains(s, "issuer"):
		return "Invalid token issuer"
	case strings.Contains(s, "audience"):
		return "Invalid token audience"
	case strings.Contains(s, "signing method"):
		return "Disallowed signing algorithm"
	case strings.Contains(s, "signature"):
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}
