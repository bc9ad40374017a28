package resilience

import (
	"time"

	"sign-gateway/pkg/domain"
)

// BreakerEventType classifies circuit state transitions.
type BreakerEventType string

const (
	BreakerOpened         BreakerEventType = "opened"
	BreakerHalfOpen       BreakerEventType = "half_open"
	BreakerClosed         BreakerEventType = "closed"
	BreakerRecoveryFailed BreakerEventType = "recovery_failed"
	BreakerReset          BreakerEventType = "reset"
)

// BreakerEvent is emitted on every circuit state transition. It carries the
// window statistics at transition time for downstream alerting.
type BreakerEvent struct {
	Provider    domain.ProviderType `json:"provider"`
	Type        BreakerEventType    `json:"type"`
	State       BreakerState        `json:"state"`
	FailureRate float64             `json:"failure_rate"`
	Calls       int                 `json:"calls"`
	Failures    int                 `json:"failures"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

func (e BreakerEvent) EventType() string     { return "circuit_breaker." + string(e.Type) }
func (e BreakerEvent) AggregateType() string { return "circuit_breaker" }
func (e BreakerEvent) AggregateID() string   { return e.Provider.String() }
