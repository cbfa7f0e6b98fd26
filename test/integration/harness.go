// Package integration provides a reusable test harness for end-to-end
// integration testing of the steward server. It starts a full HTTP server
// with a mock model provider, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/admission"
	"github.com/stewardhq/steward/internal/agent"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/definition"
	"github.com/stewardhq/steward/internal/gateway"
	"github.com/stewardhq/steward/internal/router"
	"github.com/stewardhq/steward/internal/transport"
	"github.com/stewardhq/steward/internal/workflow"
	"github.com/stewardhq/steward/model"
)

// TestHarness encapsulates a fully wired steward instance with a mock model
// provider for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry  *definition.Registry
	Admission *admission.Controller
	Gateway   *gateway.Gateway
	Engine    *workflow.Engine
	Store     *workflow.MemoryStore
	Provider  *MockProvider

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs   []string
	admissionCap     float64
	admissionRefill  float64
	retryMaxAttempts int
	breakerThreshold int
	breakerCooldown  time.Duration
	callTimeout      time.Duration
	handlerTimeout   time.Duration
}

// WithDefinitions sets the definition directories to load. By default the
// harness loads the definitions shipped at the repository root.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithAdmission sets the rate limit bucket capacity and refill rate.
func WithAdmission(capacity, refillPerSecond float64) HarnessOption {
	return func(c *harnessConfig) {
		c.admissionCap = capacity
		c.admissionRefill = refillPerSecond
	}
}

// WithRetry sets the gateway's maximum call attempts.
func WithRetry(maxAttempts int) HarnessOption {
	return func(c *harnessConfig) {
		c.retryMaxAttempts = maxAttempts
	}
}

// WithBreaker sets the circuit breaker failure threshold and cooldown.
func WithBreaker(threshold int, cooldown time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.breakerThreshold = threshold
		c.breakerCooldown = cooldown
	}
}

// WithCallTimeout sets the per-attempt model call deadline.
func WithCallTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.callTimeout = d
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full steward test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		admissionCap:     1000,
		admissionRefill:  1000,
		retryMaxAttempts: 2,
		breakerThreshold: 3,
		breakerCooldown:  time.Minute,
		callTimeout:      5 * time.Second,
		handlerTimeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{shippedDefinitionsDir()}
	}

	h := &TestHarness{t: t}

	// Step 1: Mock model provider and JWT issuer.
	h.Provider = newMockProvider(t)
	h.issuer = newTokenIssuer(t)

	// Step 2: Load and validate definitions.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs); len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs[0])
	}
	h.Registry = definition.NewRegistry(defs)

	// Step 3: Admission controller.
	h.Admission = admission.NewController(admission.Config{
		Capacity:            hc.admissionCap,
		RefillRatePerSecond: hc.admissionRefill,
	})

	// Step 4: Gateway against the mock provider. Backoff is kept tiny so
	// retry tests run in milliseconds.
	policy, err := gateway.NewPolicy(map[string]gateway.Route{
		model.TaskClassification: {Provider: "mock", Model: "steward-classify"},
		model.TaskGeneration:     {Provider: "mock", Model: "steward-generate"},
	}, gateway.Route{Provider: "mock", Model: "steward-generate"})
	if err != nil {
		t.Fatalf("build routing policy: %v", err)
	}
	h.Gateway = gateway.New(gateway.Options{
		Providers: []gateway.Provider{
			gateway.NewHTTPProvider("mock", h.Provider.URL(), "", hc.callTimeout),
		},
		Policy: policy,
		Retry: gateway.RetryConfig{
			MaxAttempts:       hc.retryMaxAttempts,
			BackoffInitial:    time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Millisecond,
		},
		CallTimeout:      hc.callTimeout,
		FailureThreshold: hc.breakerThreshold,
		Cooldown:         hc.breakerCooldown,
		Logger:           zap.NewNop(),
	})

	// Step 5: Router and agents.
	rt := router.New(router.Options{
		Rules:         router.NewRegistryRules(h.Registry, zap.NewNop()),
		Invoker:       h.Gateway,
		MinConfidence: 0.5,
	})

	agents := agent.NewRegistry()
	agents.Register(agent.NewGatewayAgent(model.AgentFallback, "You are a helpful HR assistant.", h.Gateway))

	// Step 6: Workflow store and engine.
	h.Store = workflow.NewMemoryStore()
	h.Engine = workflow.NewEngine(workflow.Options{
		Definitions: h.Registry,
		Store:       h.Store,
		Agents:      agents,
		Logger:      zap.NewNop(),
	})

	// Step 7: Config and HTTP router.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Identity = config.IdentityConfig{
		Issuer:     testIssuer,
		Audience:   testAudience,
		SigningKey: testSigningKey,
		Algorithms: []string{"HS256"},
	}

	httpRouter := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       zap.NewNop(),
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity),
		Admission:    h.Admission,
		Router:       rt,
		Agents:       agents,
		Engine:       h.Engine,
		Health: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		},
		Ready: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ready"}`))
		},
	})

	// Step 8: Start test server.
	h.server = httptest.NewServer(httpRouter)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GenerateTokenWithAudience creates a token for a different audience.
func (h *TestHarness) GenerateTokenWithAudience(claims TestClaims, audience string) string {
	return h.issuer.GenerateTokenWithAudience(claims, audience)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with extra headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the expected status and parses the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// errorBody is the JSON error envelope returned by the API.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// AssertErrorCode checks the expected status and error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body errorBody
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
}

// --- Default test claims ---

// EmployeeClaims returns TestClaims for a regular employee.
func EmployeeClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-employee",
		ClientID:  "hr-portal",
		Email:     "employee@acme.example.com",
		Roles:     []string{"employee"},
	}
}

// ManagerClaims returns TestClaims for a people manager.
func ManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-manager",
		ClientID:  "hr-portal",
		Email:     "manager@acme.example.com",
		Roles:     []string{"employee", "manager"},
	}
}

// HRClaims returns TestClaims for an HR operations user on a separate client.
func HRClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-hr",
		ClientID:  "hr-backoffice",
		Email:     "hr@acme.example.com",
		Roles:     []string{"hr"},
	}
}

// --- Helpers ---

// shippedDefinitionsDir returns the absolute path to the definitions shipped
// at the repository root.
func shippedDefinitionsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "definitions")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
