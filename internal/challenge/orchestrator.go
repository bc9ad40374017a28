// Package challenge orchestrates challenge creation and provider dispatch
// for a signature request: one challenge, at most one fallback hop, every
// decision recorded on the request's routing timeline.
package challenge

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sign-gateway/internal/provider"
	"sign-gateway/internal/resilience"
	resmetrics "sign-gateway/internal/resilience/metrics"
	"sign-gateway/internal/signing"
	"sign-gateway/pkg/domain"
)

const defaultProviderTimeout = 5 * time.Second

// Orchestrator creates challenges and drives delivery through the resilience
// coordinator. It mutates the aggregate in memory only; persistence is the
// caller's transaction.
type Orchestrator struct {
	registry        *provider.Registry
	coordinator     *resilience.Coordinator
	providerTimeout time.Duration
	logger          *slog.Logger
	metrics         *resmetrics.Metrics
	now             func() time.Time
	tracer          trace.Tracer
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *resmetrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithProviderTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.providerTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the orchestrator to its provider registry and
// resilience coordinator.
func NewOrchestrator(registry *provider.Registry, coordinator *resilience.Coordinator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:        registry,
		coordinator:     coordinator,
		providerTimeout: defaultProviderTimeout,
		logger:          slog.Default(),
		now:             time.Now,
		tracer:          otel.Tracer("challenge"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dispatch creates a challenge on the given channel and attempts delivery.
// Suppression (open circuit, degraded mode) leaves the challenge PENDING for
// the resend sweep. Provider failure triggers at most one fallback hop;
// exhausting it fails the challenge and the request. The aggregate reflects
// the outcome on return; only infrastructure problems surface as errors.
func (o *Orchestrator) Dispatch(ctx context.Context, req *signing.SignatureRequest, channel domain.ChannelType) error {
	ctx, span := o.tracer.Start(ctx, "challenge.dispatch",
		trace.WithAttributes(
			attribute.String("request_id", req.ID.String()),
			attribute.String("channel", channel.String()),
		))
	defer span.End()

	now := o.now()
	code, err := GenerateCode()
	if err != nil {
		return err
	}
	c := &signing.SignatureChallenge{
		ID:        domain.NewChallengeID(),
		Channel:   channel,
		Provider:  channel.Provider(),
		Status:    signing.ChallengePending,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: req.ExpiresAt,
	}
	if err := req.AttachChallenge(c); err != nil {
		return err
	}
	req.AppendTimeline(signing.RoutingEvent{
		Timestamp:  now,
		Type:       signing.RoutingChallengeCreated,
		NewChannel: channel,
	})

	if o.coordinator.IsSystemDegraded() || req.Status == signing.StatusPendingDegraded {
		o.skip(req, c, "system degraded")
		return nil
	}
	if !o.coordinator.AllowCall(c.Provider) {
		o.skip(req, c, "circuit open for "+c.Provider.String())
		return nil
	}

	if o.send(ctx, req, c) {
		return nil
	}

	fallback, ok := o.coordinator.Fallback(channel)
	if !ok || !o.coordinator.AllowCall(fallback.Provider()) {
		return o.fail(req, c)
	}
	req.AppendTimeline(signing.RoutingEvent{
		Timestamp:       o.now(),
		Type:            signing.RoutingFallbackTriggered,
		PreviousChannel: channel,
		NewChannel:      fallback,
	})
	c.Relabel(fallback)
	o.logger.Info("falling back",
		"request_id", req.ID.String(),
		"from", channel.String(),
		"to", fallback.String(),
	)

	if o.send(ctx, req, c) {
		return nil
	}
	return o.fail(req, c)
}

// Resend retries delivery for a request whose challenge was suppressed and
// is still PENDING. Used by the degraded-mode recovery sweep. Reports
// whether the challenge went out.
func (o *Orchestrator) Resend(ctx context.Context, req *signing.SignatureRequest) (bool, error) {
	c := req.ActiveChallenge()
	if c == nil || c.Status != signing.ChallengePending {
		return false, nil
	}
	if o.coordinator.IsSystemDegraded() || !o.coordinator.AllowCall(c.Provider) {
		return false, nil
	}
	return o.send(ctx, req, c), nil
}

// send attempts one provider call and records the outcome with the
// coordinator. Returns true when the challenge was accepted and marked SENT.
func (o *Orchestrator) send(ctx context.Context, req *signing.SignatureRequest, c *signing.SignatureChallenge) bool {
	p, err := o.registry.Get(c.Provider)
	if err != nil {
		o.logger.Error("no provider for channel",
			"channel", c.Channel.String(),
			"provider", c.Provider.String(),
		)
		o.coordinator.RecordFailure(c.Provider)
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()

	started := o.now()
	result, err := p.Send(callCtx, provider.Delivery{
		ChallengeID: c.ID,
		RequestID:   req.ID,
		Pseudonym:   req.CustomerPseudonym,
		Channel:     c.Channel,
		Code:        c.Code,
		ExpiresAt:   c.ExpiresAt,
	})
	if err != nil {
		o.metrics.ObserveDispatch(c.Provider.String(), "failure", o.now().Sub(started))
		o.coordinator.RecordFailure(c.Provider)
		o.logger.Warn("provider delivery failed",
			"request_id", req.ID.String(),
			"challenge_id", c.ID.String(),
			"provider", c.Provider.String(),
			"error", err,
		)
		return false
	}

	o.metrics.ObserveDispatch(c.Provider.String(), "success", o.now().Sub(started))
	o.coordinator.RecordSuccess(c.Provider)
	if err := req.MarkChallengeSent(c, result.ProviderChallengeID, o.now()); err != nil {
		o.logger.Error("marking challenge sent", "challenge_id", c.ID.String(), "error", err)
		return false
	}
	req.AppendTimeline(signing.RoutingEvent{
		Timestamp:  o.now(),
		Type:       signing.RoutingChallengeSent,
		NewChannel: c.Channel,
		Detail:     result.ProviderChallengeID,
	})
	return true
}

func (o *Orchestrator) skip(req *signing.SignatureRequest, c *signing.SignatureChallenge, reason string) {
	req.AppendTimeline(signing.RoutingEvent{
		Timestamp:  o.now(),
		Type:       signing.RoutingSendSkipped,
		NewChannel: c.Channel,
		Detail:     reason,
	})
	o.logger.Info("challenge send suppressed",
		"request_id", req.ID.String(),
		"challenge_id", c.ID.String(),
		"reason", reason,
	)
}

func (o *Orchestrator) fail(req *signing.SignatureRequest, c *signing.SignatureChallenge) error {
	if err := req.MarkChallengeFailed(c, signing.ErrorCodeDeliveryFailed); err != nil {
		return err
	}
	req.AppendTimeline(signing.RoutingEvent{
		Timestamp:  o.now(),
		Type:       signing.RoutingChallengeFailed,
		NewChannel: c.Channel,
		Detail:     signing.ErrorCodeDeliveryFailed,
	})
	return nil
}
