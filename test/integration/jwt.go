package integration

import (
	"maps"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer     = "https://auth.test.steward.dev"
	testAudience   = "steward-test"
	testSigningKey = "integration-test-signing-key-0123456789"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	SubjectID string
	ClientID  string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer signs HMAC test tokens matching the harness identity config.
type tokenIssuer struct {
	key []byte
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()
	return &tokenIssuer{key: []byte(testSigningKey)}
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()

	mapClaims := jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       testAudience,
		"iat":       jwt.NewNumericDate(now),
		"exp":       jwt.NewNumericDate(now.Add(1 * time.Hour)),
		"sub":       claims.SubjectID,
		"client_id": claims.ClientID,
		"email":     claims.Email,
	}

	if len(claims.Roles) > 0 {
		// Store as []any to match JWT decode behavior.
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}

	maps.Copy(mapClaims, claims.Extra)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	signed, err := token.SignedString(ti.key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateExpiredToken creates a JWT token that expired in the past.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()

	mapClaims := jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       testAudience,
		"iat":       jwt.NewNumericDate(now.Add(-2 * time.Hour)),
		"exp":       jwt.NewNumericDate(now.Add(-1 * time.Hour)),
		"sub":       claims.SubjectID,
		"client_id": claims.ClientID,
		"email":     claims.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	signed, err := token.SignedString(ti.key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateTokenWithAudience creates a token for a different audience, for
// negative verification tests.
func (ti *tokenIssuer) GenerateTokenWithAudience(claims TestClaims, audience string) string {
	now := time.Now()

	mapClaims := jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       audience,
		"iat":       jwt.NewNumericDate(now),
		"exp":       jwt.NewNumericDate(now.Add(1 * time.Hour)),
		"sub":       claims.SubjectID,
		"client_id": claims.ClientID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	signed, err := token.SignedString(ti.key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}
