package integration

import (
	"net/http"
	"testing"

	"github.com/stewardhq/steward/model"
)

func TestSecurity_missingToken(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/v1/workflows", "")
	h.AssertErrorCode(t, resp, http.StatusUnauthorized, model.ErrUnauthorized)
}

func TestSecurity_garbageToken(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/v1/workflows", "not.a.real.token")
	h.AssertErrorCode(t, resp, http.StatusUnauthorized, model.ErrUnauthorized)
}

func TestSecurity_expiredToken(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateExpiredToken(EmployeeClaims())

	resp := h.GET("/v1/workflows", token)
	var body errorBody
	h.AssertJSON(t, resp, http.StatusUnauthorized, &body)
	if body.Error.Message != "Token expired" {
		t.Errorf("message = %q, want %q", body.Error.Message, "Token expired")
	}
}

func TestSecurity_wrongAudience(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateTokenWithAudience(EmployeeClaims(), "some-other-api")

	resp := h.GET("/v1/workflows", token)
	var body errorBody
	h.AssertJSON(t, resp, http.StatusUnauthorized, &body)
	if body.Error.Message != "Invalid token audience" {
		t.Errorf("message = %q, want %q", body.Error.Message, "Invalid token audience")
	}
}

func TestSecurity_responseHeaders(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	resp := h.GET("/v1/workflows", token)
	defer resp.Body.Close()

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for header, value := range want {
		if got := resp.Header.Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if resp.Header.Get("Strict-Transport-Security") == "" {
		t.Error("missing Strict-Transport-Security header")
	}
}

func TestSecurity_correlationIDPropagation(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	resp := h.POSTWithHeaders("/v1/workflows", map[string]any{
		"definition_id": "leave-request",
	}, token, map[string]string{
		"X-Correlation-Id": "corr-integration-1",
	})
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Correlation-Id"); got != "corr-integration-1" {
		t.Errorf("X-Correlation-Id = %q, want corr-integration-1", got)
	}

	// Without an inbound header the server generates one.
	resp = h.GET("/v1/workflows", token)
	defer resp.Body.Close()
	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("no generated X-Correlation-Id header")
	}
}

func TestSecurity_rateLimitRejects(t *testing.T) {
	h := NewTestHarness(t, WithAdmission(2, 0.001))
	token := h.GenerateToken(EmployeeClaims())

	for i := 0; i < 2; i++ {
		resp := h.GET("/v1/workflows", token)
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := h.GET("/v1/workflows", token)
	var body errorBody
	h.AssertJSON(t, resp, http.StatusTooManyRequests, &body)
	if body.Error.Code != model.ErrThrottled {
		t.Errorf("error code = %q, want %q", body.Error.Code, model.ErrThrottled)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("throttled response missing Retry-After header")
	}
}

func TestSecurity_rateLimitIsPerClient(t *testing.T) {
	h := NewTestHarness(t, WithAdmission(1, 0.001))
	portalToken := h.GenerateToken(EmployeeClaims())
	backofficeToken := h.GenerateToken(HRClaims())

	resp := h.GET("/v1/workflows", portalToken)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.GET("/v1/workflows", portalToken)
	h.AssertStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()

	// A different client has its own bucket.
	resp = h.GET("/v1/workflows", backofficeToken)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSecurity_healthBypassesAuthAndRateLimit(t *testing.T) {
	h := NewTestHarness(t, WithAdmission(1, 0.001))

	for i := 0; i < 5; i++ {
		resp := h.GET("/healthz", "")
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
}
