package idempotency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"sign-gateway/internal/idempotency"
	"sign-gateway/internal/platform/redis"
	dErrors "sign-gateway/pkg/domainerrors"
)

type ServiceSuite struct {
	suite.Suite

	now time.Time
	svc *idempotency.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.svc = idempotency.NewService(idempotency.NewMemoryStore(),
		idempotency.WithClock(func() time.Time { return s.now }),
	)
}

func (s *ServiceSuite) TestFreshKeyProceeds() {
	replay, err := s.svc.CheckAndStore(context.Background(), "key-1", idempotency.HashBody([]byte(`{"a":1}`)))
	s.Require().NoError(err)
	s.Nil(replay)
}

func (s *ServiceSuite) TestEmptyKeyRejected() {
	_, err := s.svc.CheckAndStore(context.Background(), "", "deadbeef")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestReplayReturnsStoredResponse() {
	ctx := context.Background()
	hash := idempotency.HashBody([]byte(`{"amount":"250.00"}`))

	s.Require().NoError(s.svc.StoreResponse(ctx, "key-1", hash, 201, []byte(`{"id":"r1"}`)))

	replay, err := s.svc.CheckAndStore(ctx, "key-1", hash)
	s.Require().NoError(err)
	s.Require().NotNil(replay)
	s.True(replay.HasResponse())
	s.Equal(201, replay.ResponseStatus)
	s.JSONEq(`{"id":"r1"}`, string(replay.ResponseBody))
}

func (s *ServiceSuite) TestKeyReuseWithDifferentPayloadConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.svc.StoreResponse(ctx, "key-1",
		idempotency.HashBody([]byte(`{"amount":"250.00"}`)), 201, nil))

	_, err := s.svc.CheckAndStore(ctx, "key-1", idempotency.HashBody([]byte(`{"amount":"999.00"}`)))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIdempotencyKeyConflict))
}

func (s *ServiceSuite) TestExpiredRecordTreatedAsAbsent() {
	ctx := context.Background()
	hash := idempotency.HashBody([]byte(`{"a":1}`))
	s.Require().NoError(s.svc.StoreResponse(ctx, "key-1", hash, 201, nil))

	s.now = s.now.Add(24*time.Hour + time.Minute)

	replay, err := s.svc.CheckAndStore(ctx, "key-1", "a-completely-different-hash")
	s.Require().NoError(err)
	s.Nil(replay, "expired record no longer conflicts")
}

func (s *ServiceSuite) TestDeleteExpiredSweeps() {
	ctx := context.Background()
	s.Require().NoError(s.svc.StoreResponse(ctx, "old", "h1", 201, nil))

	s.now = s.now.Add(25 * time.Hour)
	s.Require().NoError(s.svc.StoreResponse(ctx, "fresh", "h2", 201, nil))

	deleted, err := s.svc.DeleteExpired(ctx)
	s.Require().NoError(err)
	s.Equal(1, deleted)

	replay, err := s.svc.CheckAndStore(ctx, "fresh", "h2")
	s.Require().NoError(err)
	s.NotNil(replay)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := &redis.Client{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	store := idempotency.NewRedisStore(client)
	svc := idempotency.NewService(store)

	ctx := context.Background()
	hash := idempotency.HashBody([]byte(`{"amount":"250.00"}`))

	replay, err := svc.CheckAndStore(ctx, "key-1", hash)
	if err != nil || replay != nil {
		t.Fatalf("fresh key: replay=%v err=%v", replay, err)
	}

	if err := svc.StoreResponse(ctx, "key-1", hash, 201, []byte(`{"id":"r1"}`)); err != nil {
		t.Fatalf("store response: %v", err)
	}

	replay, err = svc.CheckAndStore(ctx, "key-1", hash)
	if err != nil {
		t.Fatalf("replay lookup: %v", err)
	}
	if replay == nil || replay.ResponseStatus != 201 {
		t.Fatalf("expected stored replay, got %+v", replay)
	}

	// Server-side TTL removes the record.
	mr.FastForward(25 * time.Hour)
	replay, err = svc.CheckAndStore(ctx, "key-1", hash)
	if err != nil || replay != nil {
		t.Fatalf("after TTL: replay=%v err=%v", replay, err)
	}
}

func (s *ServiceSuite) TestDuplicateWhileInFlightConflicts() {
	ctx := context.Background()
	hash := idempotency.HashBody([]byte(`{"amount":"250.00"}`))

	replay, err := s.svc.CheckAndStore(ctx, "key-1", hash)
	s.Require().NoError(err)
	s.Nil(replay)

	_, err = s.svc.CheckAndStore(ctx, "key-1", hash)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict),
		"a duplicate must not re-execute while the first submission runs")
}

func (s *ServiceSuite) TestReleaseFreesReservedKey() {
	ctx := context.Background()
	hash := idempotency.HashBody([]byte(`{"amount":"250.00"}`))

	replay, err := s.svc.CheckAndStore(ctx, "key-1", hash)
	s.Require().NoError(err)
	s.Nil(replay)

	s.Require().NoError(s.svc.Release(ctx, "key-1"))

	replay, err = s.svc.CheckAndStore(ctx, "key-1", hash)
	s.Require().NoError(err)
	s.Nil(replay, "a released key accepts a retry")
}

func (s *ServiceSuite) TestConcurrentFirstUseReservesOnce() {
	ctx := context.Background()
	hash := idempotency.HashBody([]byte(`{"amount":"250.00"}`))

	const callers = 8
	results := make(chan error, callers)
	for loopIdx := 0; loopIdx < callers; loopIdx++ {
		go func() {
			replay, err := s.svc.CheckAndStore(ctx, "key-1", hash)
			if err == nil && replay != nil {
				err = errors.New("unexpected replay on first use")
			}
			results <- err
		}()
	}

	fresh, conflicts := 0, 0
	for loopIdx := 0; loopIdx < callers; loopIdx++ {
		err := <-results
		switch {
		case err == nil:
			fresh++
		case dErrors.HasCode(err, dErrors.CodeConflict):
			conflicts++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, fresh, "exactly one caller wins the key")
	s.Equal(callers-1, conflicts)
}
