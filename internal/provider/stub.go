package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"sign-gateway/pkg/domain"
)

// Stub is an in-process provider for local deployments and tests. Deliveries
// are logged instead of sent. An optional failure hook injects delivery
// errors so resilience paths can be exercised end to end.
type Stub struct {
	providerType domain.ProviderType
	latency      time.Duration
	failHook     func(Delivery) error
	logger       *slog.Logger
}

type StubOption func(*Stub)

// WithLatency makes every Send take at least d, subject to context
// cancellation.
func WithLatency(d time.Duration) StubOption {
	return func(s *Stub) { s.latency = d }
}

// WithFailureHook injects delivery failures. A non-nil return from the hook
// is surfaced as the Send error.
func WithFailureHook(hook func(Delivery) error) StubOption {
	return func(s *Stub) { s.failHook = hook }
}

func WithStubLogger(logger *slog.Logger) StubOption {
	return func(s *Stub) { s.logger = logger }
}

// NewStub creates a stub provider for the given slot.
func NewStub(t domain.ProviderType, opts ...StubOption) *Stub {
	s := &Stub{
		providerType: t,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stub) Type() domain.ProviderType { return s.providerType }

func (s *Stub) Send(ctx context.Context, d Delivery) (Result, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	if s.failHook != nil {
		if err := s.failHook(d); err != nil {
			return Result{}, err
		}
	}

	s.logger.Info("stub delivery accepted",
		"provider", s.providerType.String(),
		"channel", d.Channel.String(),
		"challenge_id", d.ChallengeID.String(),
		"pseudonym", d.Pseudonym,
	)
	return Result{
		ProviderChallengeID: stubReference(d),
		Message:             "delivered via " + s.providerType.String(),
	}, nil
}

func (s *Stub) CheckHealth(_ context.Context) HealthStatus {
	return HealthStatus{Healthy: true, Detail: "stub", CheckedAt: time.Now()}
}

// stubReference derives a stable provider-side reference from the challenge
// identity, so repeated test runs produce predictable values.
func stubReference(d Delivery) string {
	sum := sha256.Sum256([]byte(d.ChallengeID.String()))
	return "stub-" + hex.EncodeToString(sum[:8])
}
