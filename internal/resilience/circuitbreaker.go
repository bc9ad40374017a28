package resilience

import (
	"sync"
	"time"

	"sign-gateway/pkg/domain"
)

// BreakerState is the circuit state for one provider.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	// WindowSize is the number of recent call outcomes kept in the sliding
	// window.
	WindowSize int
	// FailureRateThreshold opens the circuit when exceeded, e.g. 0.5.
	FailureRateThreshold float64
	// MinCalls is the minimum window fill before the rate is evaluated.
	MinCalls int
	// OpenDuration is how long the circuit stays open before probing.
	OpenDuration time.Duration
	// HalfOpenMaxCalls is the number of consecutive probe successes needed
	// to close again.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig mirrors the production defaults in platform config.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:           20,
		FailureRateThreshold: 0.5,
		MinCalls:             10,
		OpenDuration:         30 * time.Second,
		HalfOpenMaxCalls:     3,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = d.FailureRateThreshold
	}
	if c.MinCalls <= 0 {
		c.MinCalls = d.MinCalls
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// EventSink receives breaker state-transition events for downstream alerting.
type EventSink func(BreakerEvent)

// CircuitBreaker tracks recent call outcomes for one provider in a
// count-based sliding window and trips when the failure rate crosses the
// threshold. All state lives behind one mutex; callers touch it from many
// goroutines concurrently.
type CircuitBreaker struct {
	mu sync.Mutex

	provider domain.ProviderType
	cfg      BreakerConfig
	sink     EventSink
	now      func() time.Time

	state    BreakerState
	outcomes []bool // true = failure; ring buffer
	idx      int
	count    int
	failures int

	openedAt          time.Time
	halfOpenSuccesses int
	halfOpenCalls     int

	// pending holds transition events staged under the mutex. They are
	// delivered to the sink only after the mutex is released, so a slow
	// sink never stalls concurrent Allow/Record calls.
	pending []BreakerEvent
}

// NewCircuitBreaker creates a closed breaker for the given provider.
func NewCircuitBreaker(provider domain.ProviderType, cfg BreakerConfig, sink EventSink) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{
		provider: provider,
		cfg:      cfg,
		sink:     sink,
		now:      time.Now,
		state:    StateClosed,
		outcomes: make([]bool, cfg.WindowSize),
	}
}

// Allow reports whether a provider call may proceed. An open circuit whose
// cooldown elapsed transitions to half-open and admits a bounded number of
// probe calls.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	var allowed bool
	switch b.state {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			allowed = true
		}
	default: // StateOpen
		if b.now().Sub(b.openedAt) >= b.cfg.OpenDuration {
			b.toHalfOpen()
			b.halfOpenCalls++
			allowed = true
		}
	}
	events := b.drain()
	b.mu.Unlock()

	b.deliver(events)
	return allowed
}

// RecordSuccess records a successful provider call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.push(false)
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
			b.toClosed(BreakerClosed)
		}
	}
	events := b.drain()
	b.mu.Unlock()

	b.deliver(events)
}

// RecordFailure records a failed provider call, potentially opening the
// circuit.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.push(true)
		if b.count >= b.cfg.MinCalls && b.failureRate() > b.cfg.FailureRateThreshold {
			b.toOpen(BreakerOpened)
		}
	case StateHalfOpen:
		// A single probe failure sends the circuit straight back to open.
		b.toOpen(BreakerRecoveryFailed)
	}
	events := b.drain()
	b.mu.Unlock()

	b.deliver(events)
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset manually closes the circuit and clears the window.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	b.toClosed(BreakerReset)
	events := b.drain()
	b.mu.Unlock()

	b.deliver(events)
}

// push records an outcome in the ring buffer. Caller holds the mutex.
func (b *CircuitBreaker) push(failure bool) {
	if b.count == len(b.outcomes) {
		if b.outcomes[b.idx] {
			b.failures--
		}
	} else {
		b.count++
	}
	b.outcomes[b.idx] = failure
	if failure {
		b.failures++
	}
	b.idx = (b.idx + 1) % len(b.outcomes)
}

func (b *CircuitBreaker) failureRate() float64 {
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.count)
}

func (b *CircuitBreaker) toOpen(eventType BreakerEventType) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.stage(eventType)
}

func (b *CircuitBreaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.stage(BreakerHalfOpen)
}

func (b *CircuitBreaker) toClosed(eventType BreakerEventType) {
	b.state = StateClosed
	b.idx = 0
	b.count = 0
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.stage(eventType)
}

// stage snapshots a transition event under the mutex. Caller holds the mutex.
func (b *CircuitBreaker) stage(eventType BreakerEventType) {
	if b.sink == nil {
		return
	}
	b.pending = append(b.pending, BreakerEvent{
		Provider:    b.provider,
		Type:        eventType,
		State:       b.state,
		FailureRate: b.failureRate(),
		Calls:       b.count,
		Failures:    b.failures,
		OccurredAt:  b.now(),
	})
}

// drain takes the staged events. Caller holds the mutex.
func (b *CircuitBreaker) drain() []BreakerEvent {
	events := b.pending
	b.pending = nil
	return events
}

// deliver invokes the sink without holding the mutex. The sink may be slow
// (the production sink writes through the outbox), so it must never run
// inside the lock.
func (b *CircuitBreaker) deliver(events []BreakerEvent) {
	if b.sink == nil {
		return
	}
	for _, e := range events {
		b.sink(e)
	}
}
