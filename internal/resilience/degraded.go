package resilience

import (
	"sync"
	"time"

	"sign-gateway/pkg/domain"
)

// DegradedConfig tunes the degraded-mode manager.
type DegradedConfig struct {
	// ErrorRateThreshold marks a provider degraded when its error rate over
	// the window meets or exceeds it, e.g. 0.8.
	ErrorRateThreshold float64
	// Window is the rolling time window outcomes are judged over.
	Window time.Duration
	// MinCalls guards against flagging on a handful of calls.
	MinCalls int
}

func (c DegradedConfig) withDefaults() DegradedConfig {
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1 {
		c.ErrorRateThreshold = 0.8
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MinCalls <= 0 {
		c.MinCalls = 5
	}
	return c
}

type outcome struct {
	at      time.Time
	failure bool
}

// DegradedManager tracks provider error rates in a rolling time window and
// reports per-provider and system-wide degradation. While the system is
// degraded, new signature requests start PENDING_DEGRADED and challenge
// sends are suppressed until the resend sweep picks them up.
type DegradedManager struct {
	mu  sync.RWMutex
	cfg DegradedConfig
	now func() time.Time

	outcomes map[domain.ProviderType][]outcome
}

// NewDegradedManager creates a manager with no recorded outcomes.
func NewDegradedManager(cfg DegradedConfig) *DegradedManager {
	return &DegradedManager{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		outcomes: make(map[domain.ProviderType][]outcome),
	}
}

// Record notes one provider call outcome.
func (m *DegradedManager) Record(provider domain.ProviderType, failure bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[provider] = m.prune(append(m.outcomes[provider], outcome{at: m.now(), failure: failure}))
}

// IsProviderDegraded reports whether the provider's recent error rate is at
// or above the degradation threshold.
func (m *DegradedManager) IsProviderDegraded(provider domain.ProviderType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls, failures := m.stats(m.outcomes[provider])
	return calls >= m.cfg.MinCalls && float64(failures)/float64(calls) >= m.cfg.ErrorRateThreshold
}

// IsSystemDegraded reports whether the aggregate error rate across all
// providers is at or above the threshold.
func (m *DegradedManager) IsSystemDegraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var calls, failures int
	for _, window := range m.outcomes {
		c, f := m.stats(window)
		calls += c
		failures += f
	}
	return calls >= m.cfg.MinCalls && float64(failures)/float64(calls) >= m.cfg.ErrorRateThreshold
}

// stats counts in-window calls and failures. Caller holds a lock.
func (m *DegradedManager) stats(window []outcome) (calls, failures int) {
	cutoff := m.now().Add(-m.cfg.Window)
	for _, o := range window {
		if o.at.Before(cutoff) {
			continue
		}
		calls++
		if o.failure {
			failures++
		}
	}
	return calls, failures
}

// prune drops outcomes older than the window. Caller holds the write lock.
func (m *DegradedManager) prune(window []outcome) []outcome {
	cutoff := m.now().Add(-m.cfg.Window)
	i := 0
	for i < len(window) && window[i].at.Before(cutoff) {
		i++
	}
	return window[i:]
}
