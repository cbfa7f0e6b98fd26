package gateway

import (
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all requests through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all requests immediately.
	BreakerOpen
	// BreakerHalfOpen allows exactly one probe request through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker implements the circuit breaker pattern for one (provider, model)
// key: Closed → Open → HalfOpen. In half-open, a single probe slot is handed
// out under the mutex; concurrent callers are rejected without consuming it.
// Safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	probeInFlight    bool

	now      func() time.Time
	onChange func(from, to BreakerState)
}

// NewBreaker creates a breaker that opens after failureThreshold consecutive
// failures and stays open for cooldown before permitting a probe. onChange,
// if non-nil, is called with the lock released on each state change.
func NewBreaker(failureThreshold int, cooldown time.Duration, onChange func(from, to BreakerState)) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
		onChange:         onChange,
	}
}

// Acquire reserves permission to make one call. It returns the remaining
// cooldown and false when the circuit rejects the caller; (0, true) when the
// call may proceed. When the cooldown has elapsed the first caller through
// becomes the half-open probe; every other caller is rejected until the probe
// reports its outcome.
func (b *Breaker) Acquire() (retryAfter time.Duration, ok bool) {
	b.mu.Lock()

	switch b.state {
	case BreakerClosed:
		b.mu.Unlock()
		return 0, true

	case BreakerOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cooldown {
			b.mu.Unlock()
			return b.cooldown - elapsed, false
		}
		from := b.state
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		b.mu.Unlock()
		b.notify(from, BreakerHalfOpen)
		return 0, true

	case BreakerHalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return b.cooldown, false
		}
		b.probeInFlight = true
		b.mu.Unlock()
		return 0, true
	}

	b.mu.Unlock()
	return 0, true
}

// RecordSuccess records a successful call. A successful probe closes the
// circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	switch b.state {
	case BreakerClosed:
		b.failures = 0
		b.mu.Unlock()
	case BreakerHalfOpen:
		from := b.state
		b.state = BreakerClosed
		b.failures = 0
		b.probeInFlight = false
		b.mu.Unlock()
		b.notify(from, BreakerClosed)
	default:
		b.mu.Unlock()
	}
}

// RecordFailure records a failed call. Reaching the threshold while closed
// opens the circuit; a failed probe reopens it and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			from := b.state
			b.state = BreakerOpen
			b.openedAt = b.now()
			b.mu.Unlock()
			b.notify(from, BreakerOpen)
			return
		}
		b.mu.Unlock()
	case BreakerHalfOpen:
		from := b.state
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probeInFlight = false
		b.mu.Unlock()
		b.notify(from, BreakerOpen)
	default:
		b.mu.Unlock()
	}
}

// State returns the current breaker state without side effects.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count. For diagnostics.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) notify(from, to BreakerState) {
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// BreakerTable is a process-scoped map of breakers keyed by provider/model.
// The key space is small and static, so entries live for the process
// lifetime. Lookup takes the table lock; breaker state transitions take only
// the per-key lock.
type BreakerTable struct {
	mu               sync.RWMutex
	breakers         map[string]*Breaker
	failureThreshold int
	cooldown         time.Duration
	onChange         func(key string, from, to BreakerState)
}

// NewBreakerTable creates an empty breaker table with shared thresholds.
func NewBreakerTable(failureThreshold int, cooldown time.Duration, onChange func(key string, from, to BreakerState)) *BreakerTable {
	return &BreakerTable{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		onChange:         onChange,
	}
}

// For returns the breaker for the given key, creating it on first use.
func (t *BreakerTable) For(key string) *Breaker {
	t.mu.RLock()
	b, ok := t.breakers[key]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok = t.breakers[key]; ok {
		return b
	}
	var onChange func(from, to BreakerState)
	if t.onChange != nil {
		k := key
		onChange = func(from, to BreakerState) { t.onChange(k, from, to) }
	}
	b = NewBreaker(t.failureThreshold, t.cooldown, onChange)
	t.breakers[key] = b
	return b
}
