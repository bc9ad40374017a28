package service

import (
	"context"
	"time"

	"sign-gateway/internal/idempotency"
	"sign-gateway/internal/outbox"
	"sign-gateway/internal/routing"
	"sign-gateway/internal/routing/condition"
	"sign-gateway/internal/signing"
	"sign-gateway/pkg/domain"
)

// RequestStore persists signature request aggregates with optimistic
// versioning; Save returns sentinel.ErrConflict when a concurrent writer won.
type RequestStore interface {
	Save(ctx context.Context, req *signing.SignatureRequest) error
	FindByID(ctx context.Context, id domain.SignatureRequestID) (*signing.SignatureRequest, error)
	FindByStatus(ctx context.Context, status signing.Status, limit, offset int) ([]*signing.SignatureRequest, error)
	FindExpired(ctx context.Context, cutoff time.Time) ([]*signing.SignatureRequest, error)
}

// Router picks the verification channel for a transaction.
type Router interface {
	Decide(ctx context.Context, txCtx condition.Context) (routing.Decision, error)
}

// Dispatcher creates and delivers challenges on the aggregate.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *signing.SignatureRequest, channel domain.ChannelType) error
	Resend(ctx context.Context, req *signing.SignatureRequest) (bool, error)
}

// EventPublisher stages domain events in the caller's transaction.
type EventPublisher interface {
	PublishAll(ctx context.Context, events ...outbox.Event) error
}

// Admitter applies rate-limit backpressure before any state mutation.
type Admitter interface {
	Admit(ctx context.Context, pseudonym string) error
}

// Pseudonymizer replaces clear customer ids before anything is persisted.
type Pseudonymizer interface {
	Pseudonymize(customerID string) (string, error)
}

// IdempotencyGuard deduplicates repeated submissions by key and payload
// hash. CheckAndStore reserves a fresh key; Release frees the reservation
// when the guarded operation fails.
type IdempotencyGuard interface {
	CheckAndStore(ctx context.Context, key, hash string) (*idempotency.Record, error)
	StoreResponse(ctx context.Context, key, hash string, status int, body []byte) error
	Release(ctx context.Context, key string) error
}

// DegradedReporter exposes the coordinator's system-wide degraded signal.
type DegradedReporter interface {
	IsSystemDegraded() bool
}

// TxRunner executes fn inside one atomic unit of work. The context passed to
// fn carries the transaction so stores and the outbox join it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}
