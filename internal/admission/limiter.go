// Package admission bounds request-creation throughput before any state is
// touched: one global limit for the whole deployment, one per customer
// pseudonym. Rejections are backpressure errors, never queues.
package admission

import (
	"context"
	"sync"
	"time"
)

// Result reports one limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Limiter answers whether one admission under the key fits the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// MemoryLimiter implements a per-key sliding window over request timestamps.
// Single-process deployments only; use the Redis limiter when running more
// than one instance.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := l.windows[key][:0]
	for _, ts := range l.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		l.windows[key] = kept
		return &Result{
			Allowed: false,
			Limit:   limit,
			ResetAt: kept[0].Add(window),
		}, nil
	}

	kept = append(kept, now)
	l.windows[key] = kept
	return &Result{
		Allowed:   true,
		Remaining: limit - len(kept),
		Limit:     limit,
		ResetAt:   kept[0].Add(window),
	}, nil
}
