package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// providerOutcome is one scripted reply from the mock model provider.
type providerOutcome struct {
	status int
	text   string
	delay  time.Duration
}

// receivedCall captures one completion request for assertions.
type receivedCall struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

// MockProvider is a scriptable model provider endpoint speaking the gateway's
// completion wire shape. Outcomes are consumed in order; once the script is
// exhausted, every call gets the default success reply.
type MockProvider struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	script   []providerOutcome
	received []receivedCall
	calls    int

	defaultText string
}

func newMockProvider(t *testing.T) *MockProvider {
	t.Helper()

	mp := &MockProvider{
		t:           t,
		defaultText: "This is the mock model reply.",
	}
	mp.server = httptest.NewServer(http.HandlerFunc(mp.handleCompletion))
	t.Cleanup(mp.server.Close)
	return mp
}

// URL returns the mock provider's base URL.
func (mp *MockProvider) URL() string {
	return mp.server.URL
}

// EnqueueText scripts one successful completion with the given text.
func (mp *MockProvider) EnqueueText(text string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.script = append(mp.script, providerOutcome{status: http.StatusOK, text: text})
}

// EnqueueClassification scripts one classification reply in the JSON shape the
// router expects.
func (mp *MockProvider) EnqueueClassification(intent string, confidence float64) {
	data, _ := json.Marshal(map[string]any{
		"intent":     intent,
		"confidence": confidence,
	})
	mp.EnqueueText(string(data))
}

// EnqueueStatus scripts one non-200 reply with the given HTTP status.
func (mp *MockProvider) EnqueueStatus(status int) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.script = append(mp.script, providerOutcome{status: status})
}

// EnqueueDelay scripts one successful reply served after the given delay, for
// deadline tests.
func (mp *MockProvider) EnqueueDelay(d time.Duration) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.script = append(mp.script, providerOutcome{status: http.StatusOK, delay: d})
}

// FailAlways makes every remaining call return a 500 by scripting a large
// number of failures.
func (mp *MockProvider) FailAlways() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for i := 0; i < 1000; i++ {
		mp.script = append(mp.script, providerOutcome{status: http.StatusInternalServerError})
	}
}

// ResetScript drops any unconsumed outcomes.
func (mp *MockProvider) ResetScript() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.script = nil
}

// Calls returns how many completion requests the provider has served.
func (mp *MockProvider) Calls() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.calls
}

// Received returns the captured completion requests in arrival order.
func (mp *MockProvider) Received() []receivedCall {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([]receivedCall, len(mp.received))
	copy(out, mp.received)
	return out
}

func (mp *MockProvider) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/completions" {
		http.NotFound(w, r)
		return
	}

	var req receivedCall
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	mp.mu.Lock()
	mp.calls++
	mp.received = append(mp.received, req)
	outcome := providerOutcome{status: http.StatusOK, text: mp.defaultText}
	if len(mp.script) > 0 {
		outcome = mp.script[0]
		mp.script = mp.script[1:]
	}
	mp.mu.Unlock()

	if outcome.delay > 0 {
		time.Sleep(outcome.delay)
	}

	if outcome.status != http.StatusOK {
		w.WriteHeader(outcome.status)
		return
	}

	text := outcome.text
	if text == "" {
		text = mp.defaultText
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"text":        text,
		"tokens_used": len(text) / 4,
	})
}
