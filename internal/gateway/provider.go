package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/stewardhq/steward/model"
)

// Provider is a connection to one external model vendor. Complete is an
// opaque, fallible, latency-bearing operation; the gateway handles retries,
// deadlines, and circuit breaking around it.
type Provider interface {
	Name() string
	Complete(ctx context.Context, modelName string, req model.ModelRequest) (model.ModelResponse, error)
}

// HTTPProvider calls a JSON-over-HTTP completion endpoint. The wire shape is
// deliberately generic; provider-specific protocol fidelity is out of scope.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the given completion endpoint.
func NewHTTPProvider(name, baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Name returns the provider's registry key.
func (p *HTTPProvider) Name() string { return p.name }

type completionRequest struct {
	Model     string `json:"model"`
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}

// Complete posts the request to the provider's completion endpoint and
// classifies failures into the gateway error taxonomy.
func (p *HTTPProvider) Complete(ctx context.Context, modelName string, req model.ModelRequest) (model.ModelResponse, error) {
	body, err := json.Marshal(completionRequest{
		Model:     modelName,
		System:    req.System,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return model.ModelResponse{}, model.NewProviderRejectedError(
			fmt.Sprintf("marshal request: %v", err),
		)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return model.ModelResponse{}, model.NewProviderRejectedError(
			fmt.Sprintf("build request: %v", err),
		)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return model.ModelResponse{}, model.NewTimeoutError(
				fmt.Sprintf("provider %s: deadline exceeded", p.name),
			)
		}
		if isConnectionError(err) {
			return model.ModelResponse{}, model.NewProviderError(
				fmt.Sprintf("provider %s: connection failed", p.name),
			)
		}
		return model.ModelResponse{}, model.NewProviderError(
			fmt.Sprintf("provider %s: %v", p.name, err),
		)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB limit
	if err != nil {
		return model.ModelResponse{}, model.NewProviderError(
			fmt.Sprintf("provider %s: read response: %v", p.name, err),
		)
	}

	if err := classifyStatus(p.name, resp.StatusCode); err != nil {
		return model.ModelResponse{}, err
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return model.ModelResponse{}, model.NewProviderError(
			fmt.Sprintf("provider %s: malformed response body", p.name),
		)
	}

	return model.ModelResponse{
		Text:       parsed.Text,
		Provider:   p.name,
		Model:      modelName,
		LatencyMs:  time.Since(start).Milliseconds(),
		TokensUsed: parsed.TokensUsed,
	}, nil
}

// classifyStatus maps an HTTP status to the error taxonomy. Overload and
// server-side statuses are transient; everything else in 4xx means the
// request itself was rejected and retrying cannot help.
func classifyStatus(providerName string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return model.NewProviderError(
			fmt.Sprintf("provider %s: overloaded (status %d)", providerName, code),
		)
	case code >= 500:
		return model.NewProviderError(
			fmt.Sprintf("provider %s: server error (status %d)", providerName, code),
		)
	default:
		return model.NewProviderRejectedError(
			fmt.Sprintf("provider %s: rejected request (status %d)", providerName, code),
		)
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// StaticProvider returns scripted responses. For tests and local development.
type StaticProvider struct {
	name string

	mu        sync.Mutex
	responses []model.ModelResponse
	errs      []error
	calls     int
}

// NewStaticProvider creates a provider that replays the given outcomes in
// order; for each call, a non-nil error at that position wins over the
// response. The last outcome repeats once the script is exhausted.
func NewStaticProvider(name string, responses []model.ModelResponse, errs []error) *StaticProvider {
	return &StaticProvider{name: name, responses: responses, errs: errs}
}

// Name returns the provider's registry key.
func (p *StaticProvider) Name() string { return p.name }

// Calls returns how many times Complete has been invoked.
func (p *StaticProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Complete replays the next scripted outcome.
func (p *StaticProvider) Complete(_ context.Context, modelName string, _ model.ModelRequest) (model.ModelResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.calls
	p.calls++

	if len(p.errs) > 0 {
		idx := i
		if idx >= len(p.errs) {
			idx = len(p.errs) - 1
		}
		if err := p.errs[idx]; err != nil {
			return model.ModelResponse{}, err
		}
	}

	if len(p.responses) == 0 {
		return model.ModelResponse{Provider: p.name, Model: modelName}, nil
	}
	idx := i
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	resp := p.responses[idx]
	resp.Provider = p.name
	resp.Model = modelName
	return resp, nil
}
