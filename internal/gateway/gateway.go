// Package gateway wraps calls to external language model providers with task
// routing, deadlines, bounded retries, and per-(provider, model) circuit
// breaking. Transient hiccups are absorbed by retries; sustained outages are
// isolated by the breaker so retry traffic cannot amplify them.
package gateway

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/model"
)

// RetryConfig bounds the internal retry loop.
type RetryConfig struct {
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

// withDefaults fills zero fields with usable values.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 100 * time.Millisecond
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	return c
}

// Recorder receives call-outcome events for the metrics/alerting
// collaborators. Implementations must not block.
type Recorder interface {
	RecordModelCall(key, outcome string, latency time.Duration)
	RecordModelRetry(key string)
	RecordCircuitStateChange(key, from, to string)
}

// Gateway dispatches model invocations. It never mutates router or workflow
// state; its only side effects are events emitted to the recorder.
type Gateway struct {
	providers   map[string]Provider
	policy      *Policy
	breakers    *BreakerTable
	retry       RetryConfig
	callTimeout time.Duration
	recorder    Recorder
	logger      *zap.Logger

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options configures a Gateway.
type Options struct {
	Providers        []Provider
	Policy           *Policy
	Retry            RetryConfig
	CallTimeout      time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	Recorder         Recorder
	Logger           *zap.Logger
}

// New creates a Gateway from the given options.
func New(opts Options) *Gateway {
	providers := make(map[string]Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Name()] = p
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	g := &Gateway{
		providers:   providers,
		policy:      opts.Policy,
		retry:       opts.Retry.withDefaults(),
		callTimeout: callTimeout,
		recorder:    opts.Recorder,
		logger:      logger,
		sleep:       sleepCtx,
	}
	g.breakers = NewBreakerTable(opts.FailureThreshold, opts.Cooldown, func(key string, from, to BreakerState) {
		logger.Warn("circuit state changed",
			zap.String("key", key),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if g.recorder != nil {
			g.recorder.RecordCircuitStateChange(key, from.String(), to.String())
		}
	})
	return g
}

// Invoke routes the request per the task-type policy and executes it with
// deadline, retry, and circuit breaking. It fails with CIRCUIT_OPEN (never
// retried), TIMEOUT or PROVIDER_ERROR (after the retry budget is spent), or
// PROVIDER_REJECTED (immediately, the request itself is at fault).
func (g *Gateway) Invoke(ctx context.Context, req model.ModelRequest) (model.ModelResponse, error) {
	route := g.policy.Route(req.TaskType)
	key := route.Key()

	provider, ok := g.providers[route.Provider]
	if !ok {
		return model.ModelResponse{}, model.NewInternalError()
	}
	breaker := g.breakers.For(key)

	var lastErr error
	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			g.record(key, "retry", 0)
			if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
				return model.ModelResponse{}, model.NewTimeoutError("cancelled while backing off")
			}
		}

		if retryAfter, ok := breaker.Acquire(); !ok {
			// No network call is made while open, and CIRCUIT_OPEN does
			// not consume the retry budget.
			g.record(key, "circuit_open", 0)
			return model.ModelResponse{}, model.NewCircuitOpenError(key, retryAfter)
		}

		resp, err := g.callOnce(ctx, provider, route.Model, req)
		if err == nil {
			breaker.RecordSuccess()
			g.record(key, "success", time.Duration(resp.LatencyMs)*time.Millisecond)
			return resp, nil
		}

		if model.IsCode(err, model.ErrProviderRejected) {
			// Permanent: the provider answered, the request is at fault.
			// The breaker counts it as a healthy response so a rejected
			// half-open probe still releases the slot and closes the
			// circuit; no retry either way.
			breaker.RecordSuccess()
			g.record(key, "rejected", 0)
			return model.ModelResponse{}, err
		}

		breaker.RecordFailure()
		g.record(key, "failure", 0)
		lastErr = err
		g.logger.Warn("model call failed",
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", g.retry.MaxAttempts),
			zap.Error(err),
		)
	}

	return model.ModelResponse{}, lastErr
}

// callOnce executes a single provider call under the per-call deadline.
// An abandoned call (deadline expiry) is a transient failure for retry and
// breaker accounting.
func (g *Gateway) callOnce(ctx context.Context, provider Provider, modelName string, req model.ModelRequest) (model.ModelResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := provider.Complete(callCtx, modelName, req)
	if err != nil {
		if callCtx.Err() != nil && !model.IsCode(err, model.ErrProviderRejected) {
			return model.ModelResponse{}, model.NewTimeoutError("model call deadline exceeded")
		}
		return model.ModelResponse{}, err
	}
	if resp.LatencyMs == 0 {
		resp.LatencyMs = time.Since(start).Milliseconds()
	}
	return resp, nil
}

// backoff computes the delay before the given attempt (1-based) with ±25%
// jitter so synchronized callers spread out.
func (g *Gateway) backoff(attempt int) time.Duration {
	delay := g.retry.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * g.retry.BackoffMultiplier)
		if delay > g.retry.BackoffMax {
			delay = g.retry.BackoffMax
			break
		}
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}

func (g *Gateway) record(key, outcome string, latency time.Duration) {
	if g.recorder == nil {
		return
	}
	if outcome == "retry" {
		g.recorder.RecordModelRetry(key)
		return
	}
	g.recorder.RecordModelCall(key, outcome, latency)
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
