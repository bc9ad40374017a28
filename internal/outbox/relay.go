package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"sign-gateway/internal/outbox/metrics"
)

// Broker hands a staged event to the message bus. Keyed by aggregate id so
// the broker preserves per-aggregate ordering.
type Broker interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// Relay drains unpublished events to the broker. Events are marked published
// only after the broker accepts them, so delivery is at-least-once; the
// event id in the payload lets consumers deduplicate.
type Relay struct {
	store        Store
	broker       Broker
	topic        string
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.pollInterval = d }
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batchSize = n }
}

func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func NewRelay(store Store, broker Broker, topic string, opts ...RelayOption) *Relay {
	r := &Relay{
		store:        store,
		broker:       broker,
		topic:        topic,
		pollInterval: time.Second,
		batchSize:    100,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until the context is cancelled. Broker outages back off
// exponentially instead of hammering a down cluster every tick.
func (r *Relay) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := r.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := retry.NextBackOff()
			r.logger.Error("outbox drain failed", "error", err, "retry_in", wait.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
	}
}

// Drain publishes one batch of staged events in creation order. Stops on the
// first broker failure so ordering within an aggregate is never violated by
// skipping ahead.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	events, err := r.store.FindUnpublished(ctx, r.batchSize)
	if err != nil {
		r.metrics.RecordDrainFailure()
		return 0, err
	}
	r.metrics.SetBacklog(len(events))

	published := 0
	for _, e := range events {
		if err := r.broker.Produce(ctx, r.topic, []byte(e.AggregateID), e.Payload); err != nil {
			r.metrics.RecordDrainFailure()
			return published, err
		}
		if err := r.store.MarkPublished(ctx, e.ID, r.now()); err != nil {
			r.metrics.RecordDrainFailure()
			return published, err
		}
		published++
		r.metrics.RecordPublished(e.EventType)
		r.logger.Debug("outbox event relayed",
			"event_id", e.ID.String(),
			"event_type", e.EventType,
			"aggregate_id", e.AggregateID,
		)
	}
	return published, nil
}
