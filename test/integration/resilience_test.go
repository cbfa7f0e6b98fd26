package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stewardhq/steward/model"
)

// postLeaveMessage sends a message that matches the leave_request rule, so
// the only model call is the generation step.
func postLeaveMessage(t *testing.T, h *TestHarness, token string) *http.Response {
	t.Helper()
	return h.POST("/v1/messages", map[string]any{
		"text": "I want to book vacation for next month",
	}, token)
}

func TestResilience_retryRecoversTransientFailure(t *testing.T) {
	h := NewTestHarness(t, WithRetry(2))
	token := h.GenerateToken(EmployeeClaims())

	h.Provider.EnqueueStatus(http.StatusInternalServerError)
	h.Provider.EnqueueText("Booked. Enjoy your trip.")

	resp := postLeaveMessage(t, h, token)
	var body messageResponse
	h.AssertJSON(t, resp, http.StatusOK, &body)
	if body.Reply != "Booked. Enjoy your trip." {
		t.Errorf("reply = %q", body.Reply)
	}
	if h.Provider.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2 (initial + retry)", h.Provider.Calls())
	}
}

func TestResilience_overloadRetried(t *testing.T) {
	h := NewTestHarness(t, WithRetry(3))
	token := h.GenerateToken(EmployeeClaims())

	h.Provider.EnqueueStatus(http.StatusTooManyRequests)
	h.Provider.EnqueueStatus(http.StatusServiceUnavailable)
	h.Provider.EnqueueText("All sorted.")

	resp := postLeaveMessage(t, h, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	if h.Provider.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3", h.Provider.Calls())
	}
}

func TestResilience_permanentRejectionNotRetried(t *testing.T) {
	h := NewTestHarness(t, WithRetry(3))
	token := h.GenerateToken(EmployeeClaims())

	h.Provider.EnqueueStatus(http.StatusUnprocessableEntity)

	resp := postLeaveMessage(t, h, token)
	h.AssertErrorCode(t, resp, http.StatusBadGateway, model.ErrProviderRejected)

	if h.Provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry on rejection)", h.Provider.Calls())
	}
}

func TestResilience_exhaustedRetriesSurfaceProviderError(t *testing.T) {
	h := NewTestHarness(t, WithRetry(2))
	token := h.GenerateToken(EmployeeClaims())

	h.Provider.EnqueueStatus(http.StatusInternalServerError)
	h.Provider.EnqueueStatus(http.StatusInternalServerError)

	resp := postLeaveMessage(t, h, token)
	h.AssertErrorCode(t, resp, http.StatusBadGateway, model.ErrProviderError)
}

func TestResilience_breakerOpensAndShedsCalls(t *testing.T) {
	h := NewTestHarness(t, WithRetry(1), WithBreaker(2, time.Minute))
	token := h.GenerateToken(EmployeeClaims())

	h.Provider.FailAlways()

	// Two consecutive failures trip the breaker.
	for i := 0; i < 2; i++ {
		resp := postLeaveMessage(t, h, token)
		h.AssertStatus(t, resp, http.StatusBadGateway)
		resp.Body.Close()
	}
	callsWhenOpened := h.Provider.Calls()

	// Further calls are shed without touching the provider.
	resp := postLeaveMessage(t, h, token)
	h.AssertErrorCode(t, resp, http.StatusServiceUnavailable, model.ErrCircuitOpen)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("circuit-open response missing Retry-After header")
	}
	if h.Provider.Calls() != callsWhenOpened {
		t.Errorf("provider calls grew from %d to %d while open", callsWhenOpened, h.Provider.Calls())
	}
}

func TestResilience_breakerRecoversThroughHalfOpen(t *testing.T) {
	h := NewTestHarness(t, WithRetry(1), WithBreaker(2, 50*time.Millisecond))
	token := h.GenerateToken(EmployeeClaims())

	h.Provider.FailAlways()
	for i := 0; i < 2; i++ {
		resp := postLeaveMessage(t, h, token)
		resp.Body.Close()
	}

	// After the cooldown a single probe is let through; a success closes
	// the breaker again.
	h.Provider.ResetScript()
	time.Sleep(80 * time.Millisecond)

	resp := postLeaveMessage(t, h, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = postLeaveMessage(t, h, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestResilience_slowProviderTimesOut(t *testing.T) {
	h := NewTestHarness(t, WithRetry(1), WithCallTimeout(100*time.Millisecond))
	token := h.GenerateToken(EmployeeClaims())

	h.Provider.EnqueueDelay(500 * time.Millisecond)

	resp := postLeaveMessage(t, h, token)
	h.AssertErrorCode(t, resp, http.StatusGatewayTimeout, model.ErrTimeout)
}

func TestResilience_workflowsUnaffectedByModelOutage(t *testing.T) {
	h := NewTestHarness(t, WithRetry(1))
	token := h.GenerateToken(EmployeeClaims())

	h.Provider.FailAlways()

	// Workflow operations never touch the gateway unless a state binds an
	// agent; the shipped definitions do not.
	inst := startLeaveRequest(t, h, token, 5)
	var updated model.WorkflowInstance
	h.AssertJSON(t, advance(t, h, token, inst.ID, "submit"), http.StatusOK, &updated)
	if updated.CurrentState != "manager_review" {
		t.Errorf("state = %q, want manager_review", updated.CurrentState)
	}
	if h.Provider.Calls() != 0 {
		t.Errorf("provider calls = %d, want 0", h.Provider.Calls())
	}
}
