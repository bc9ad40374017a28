package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dErrors "sign-gateway/pkg/domainerrors"
	"sign-gateway/pkg/platform/sentinel"
)

// Store persists idempotency records. Create must be atomic: when a live
// record already holds the key it fails with sentinel.ErrConflict, making the
// store's uniqueness constraint the backstop against concurrent first use.
type Store interface {
	FindByKey(ctx context.Context, key string) (*Record, error)
	Create(ctx context.Context, record *Record) error
	Save(ctx context.Context, record *Record) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Service implements the check-then-store protocol on top of a Store.
type Service struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckAndStore decides how a submission under this key proceeds. A nil
// record means fresh: a reservation now holds the key; the caller executes
// business logic, then stores the response, or releases the key on failure.
// A non-nil record is a replay of an identical earlier submission; the
// caller must return it without re-executing. Key reuse with a different
// payload is a conflict, and so is a duplicate arriving while the first
// submission is still in flight.
func (s *Service) CheckAndStore(ctx context.Context, key, hash string) (*Record, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "idempotency key cannot be empty")
	}

	// Losing the reservation race means another goroutine just created the
	// record; one re-read settles which case applies.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.store.FindByKey(ctx, key)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			existing = nil
		case err != nil:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "looking up idempotency key")
		case existing.Expired(s.now()):
			existing = nil
		}

		if existing == nil {
			now := s.now()
			err := s.store.Create(ctx, &Record{
				Key:         key,
				RequestHash: hash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(s.ttl),
			})
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reserving idempotency key")
			}
			return nil, nil
		}

		if existing.RequestHash != hash {
			return nil, dErrors.New(dErrors.CodeIdempotencyKeyConflict,
				"idempotency key reused with a different payload")
		}
		if !existing.HasResponse() {
			return nil, dErrors.New(dErrors.CodeConflict,
				"request with this idempotency key is still in flight")
		}
		return existing, nil
	}
	return nil, dErrors.New(dErrors.CodeConflict,
		"request with this idempotency key is still in flight")
}

// StoreResponse records the outcome under the key with a fresh TTL.
func (s *Service) StoreResponse(ctx context.Context, key, hash string, status int, body []byte) error {
	now := s.now()
	record := &Record{
		Key:            key,
		RequestHash:    hash,
		ResponseStatus: status,
		ResponseBody:   body,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeIdempotencyKeyConflict,
				"idempotency key reused with a different payload")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "storing idempotency record")
	}
	return nil
}

// Release frees a reserved key after the guarded operation failed, so the
// client can retry without waiting out the TTL.
func (s *Service) Release(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "releasing idempotency key")
	}
	return nil
}

// DeleteExpired removes lapsed records. Run periodically by the sweep.
func (s *Service) DeleteExpired(ctx context.Context) (int, error) {
	deleted, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "sweeping idempotency records")
	}
	if deleted > 0 {
		s.logger.Info("idempotency sweep", "deleted", deleted)
	}
	return deleted, nil
}
