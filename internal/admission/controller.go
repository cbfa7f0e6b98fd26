// Package admission gates inbound work per client identity using token-bucket
// accounting with lazy refill and penalty escalation for clients that keep
// hammering after being throttled.
package admission

import (
	"sync"
	"time"
)

// Config holds token bucket and penalty settings.
type Config struct {
	// Capacity is the maximum number of tokens a bucket can hold.
	Capacity float64
	// RefillRatePerSecond is how many tokens are restored per second.
	RefillRatePerSecond float64
	// ViolationThreshold is how many rejections within ViolationWindow
	// activate the penalty.
	ViolationThreshold int
	// ViolationWindow is the rolling window violations are counted in.
	ViolationWindow time.Duration
	// PenaltyMultiplier scales RetryAfter while a penalty is active.
	PenaltyMultiplier float64
	// PenaltyDuration is how long a penalty stays active once triggered.
	PenaltyDuration time.Duration
	// StaleAfter is how long an idle bucket survives before the
	// housekeeping pass evicts it.
	StaleAfter time.Duration
}

// withDefaults fills zero fields with usable values.
func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 10
	}
	if c.RefillRatePerSecond <= 0 {
		c.RefillRatePerSecond = 1
	}
	if c.ViolationThreshold <= 0 {
		c.ViolationThreshold = 10
	}
	if c.ViolationWindow <= 0 {
		c.ViolationWindow = time.Minute
	}
	if c.PenaltyMultiplier < 1 {
		c.PenaltyMultiplier = 2
	}
	if c.PenaltyDuration <= 0 {
		c.PenaltyDuration = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	return c
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed         bool
	RemainingTokens float64
	// RetryAfter is a concrete wait hint, set only on rejection.
	RetryAfter time.Duration
}

// Recorder receives admission events. Implementations must not block.
type Recorder interface {
	RecordRateLimitDecision(clientID string, allowed bool)
}

// bucket holds per-client state. Each bucket has its own mutex so checks for
// different clients never contend.
type bucket struct {
	mu             sync.Mutex
	tokens         float64
	lastRefill     time.Time
	violations     int
	windowStart    time.Time
	penaltyUntil   time.Time
	lastSeen       time.Time
}

// Controller is a process-scoped table of per-client token buckets. It is
// safe for concurrent use and never fails: an unknown client is treated as a
// fresh bucket at full capacity.
type Controller struct {
	cfg      Config
	now      func() time.Time
	recorder Recorder

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRecorder attaches an event recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// NewController creates an admission controller with the given configuration.
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAndConsume admits or rejects one unit of work (or cost units) for the
// given client. Refill is lazy: tokens owed since the last check are credited
// before the decision, capped at capacity.
func (c *Controller) CheckAndConsume(clientID string, cost float64) Decision {
	if cost <= 0 {
		cost = 1
	}
	now := c.now()
	b := c.bucketFor(clientID, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	c.refillLocked(b, now)
	b.lastSeen = now

	if b.tokens >= cost {
		b.tokens -= cost
		c.record(clientID, true)
		return Decision{Allowed: true, RemainingTokens: b.tokens}
	}

	retryAfter := time.Duration(
		(cost - b.tokens) / c.cfg.RefillRatePerSecond * float64(time.Second),
	)

	// Violation accounting over a rolling window. Every rejection counts,
	// penalized or not. A penalty stretches the retry hint for clients that
	// keep retrying while throttled; once it lapses the slate is wiped
	// clean.
	if !b.penaltyUntil.IsZero() && !b.penaltyUntil.After(now) {
		b.violations = 0
		b.penaltyUntil = time.Time{}
	}
	if now.Sub(b.windowStart) > c.cfg.ViolationWindow {
		b.windowStart = now
		b.violations = 0
	}
	b.violations++
	if b.penaltyUntil.After(now) {
		retryAfter = time.Duration(float64(retryAfter) * c.cfg.PenaltyMultiplier)
	} else if b.violations >= c.cfg.ViolationThreshold {
		b.penaltyUntil = now.Add(c.cfg.PenaltyDuration)
		retryAfter = time.Duration(float64(retryAfter) * c.cfg.PenaltyMultiplier)
	}

	c.record(clientID, false)
	return Decision{
		Allowed:         false,
		RemainingTokens: b.tokens,
		RetryAfter:      retryAfter,
	}
}

// Sweep evicts buckets with no activity for the configured stale window and
// returns how many were removed. Intended to run periodically from a
// background housekeeping goroutine.
func (c *Controller) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for id, b := range c.buckets {
		b.mu.Lock()
		stale := now.Sub(b.lastSeen) > c.cfg.StaleAfter
		b.mu.Unlock()
		if stale {
			delete(c.buckets, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked buckets. For tests and diagnostics.
func (c *Controller) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buckets)
}

// bucketFor returns the client's bucket, creating a full one on first sight.
func (c *Controller) bucketFor(clientID string, now time.Time) *bucket {
	c.mu.RLock()
	b, ok := c.buckets[clientID]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok = c.buckets[clientID]; ok {
		return b
	}
	b = &bucket{
		tokens:      c.cfg.Capacity,
		lastRefill:  now,
		windowStart: now,
		lastSeen:    now,
	}
	c.buckets[clientID] = b
	return b
}

// refillLocked credits tokens owed since the last refill. Caller holds b.mu.
func (c *Controller) refillLocked(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * c.cfg.RefillRatePerSecond
	if b.tokens > c.cfg.Capacity {
		b.tokens = c.cfg.Capacity
	}
	b.lastRefill = now
}

func (c *Controller) record(clientID string, allowed bool) {
	if c.recorder != nil {
		c.recorder.RecordRateLimitDecision(clientID, allowed)
	}
}
