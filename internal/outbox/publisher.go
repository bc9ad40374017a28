package outbox

import (
	"context"
	"log/slog"
	"time"

	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
	"sign-gateway/pkg/platform/tx"
)

// Store persists staged events. Insert joins the transaction carried in
// context when one is present.
type Store interface {
	Insert(ctx context.Context, event *OutboxEvent) error
	FindUnpublished(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, id domain.EventID, publishedAt time.Time) error
}

// Publisher stages domain events inside the caller's transaction. Calling it
// outside a transactional scope is a programming error, not a runtime
// condition, and fails with an invariant violation.
type Publisher struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type PublisherOption func(*Publisher)

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stages one event in the caller's open transaction.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if !tx.InScope(ctx) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"outbox publish requires an open transaction")
	}
	staged, err := NewOutboxEvent(e, p.now())
	if err != nil {
		return err
	}
	if err := p.store.Insert(ctx, staged); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "staging outbox event")
	}
	p.logger.Debug("outbox event staged",
		"event_id", staged.ID.String(),
		"event_type", staged.EventType,
		"aggregate_id", staged.AggregateID,
	)
	return nil
}

// PublishAll stages events in order; the first failure aborts, relying on
// the surrounding transaction to roll back earlier inserts.
func (p *Publisher) PublishAll(ctx context.Context, events ...Event) error {
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
