package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-gateway/internal/signing"
	"sign-gateway/internal/signing/store"
	"sign-gateway/pkg/domain"
	"sign-gateway/pkg/platform/sentinel"
)

func newRequest(t *testing.T, createdAt time.Time) *signing.SignatureRequest {
	t.Helper()
	txCtx, err := signing.NewTransactionContext(
		decimal.RequireFromString("99.50"), "EUR", "merchant-1", "order-1", "")
	require.NoError(t, err)
	req, err := signing.NewSignatureRequest("psy-1", txCtx, createdAt, 3*time.Minute, false)
	require.NoError(t, err)
	return req
}

func TestSaveAndFind(t *testing.T) {
	s := store.NewMemoryRequestStore()
	ctx := context.Background()
	req := newRequest(t, time.Now())

	require.NoError(t, s.Save(ctx, req))
	assert.Equal(t, int64(1), req.Version)

	loaded, err := s.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, loaded.ID)
	assert.Equal(t, signing.StatusPending, loaded.Status)
	assert.Equal(t, int64(1), loaded.Version)

	_, err = s.FindByID(ctx, domain.NewSignatureRequestID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSaveIsolatesCallerFromStore(t *testing.T) {
	s := store.NewMemoryRequestStore()
	ctx := context.Background()
	req := newRequest(t, time.Now())
	require.NoError(t, s.Save(ctx, req))

	loaded, err := s.FindByID(ctx, req.ID)
	require.NoError(t, err)
	loaded.AppendTimeline(signing.RoutingEvent{Type: signing.RoutingSendSkipped})

	again, err := s.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Timeline, "mutating a loaded copy must not leak into the store")
}

func TestVersionConflict(t *testing.T) {
	s := store.NewMemoryRequestStore()
	ctx := context.Background()
	req := newRequest(t, time.Now())
	require.NoError(t, s.Save(ctx, req))

	first, err := s.FindByID(ctx, req.ID)
	require.NoError(t, err)
	second, err := s.FindByID(ctx, req.ID)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, first))
	err = s.Save(ctx, second)
	assert.ErrorIs(t, err, sentinel.ErrConflict, "stale version must not overwrite")
}

func TestFindByStatusPaged(t *testing.T) {
	s := store.NewMemoryRequestStore()
	ctx := context.Background()
	base := time.Now()

	var ids []domain.SignatureRequestID
	for i := 0; i < 5; i++ {
		req := newRequest(t, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.Save(ctx, req))
		ids = append(ids, req.ID)
	}

	page1, err := s.FindByStatus(ctx, signing.StatusPending, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[0], page1[0].ID, "oldest first")
	assert.Equal(t, ids[1], page1[1].ID)

	page3, err := s.FindByStatus(ctx, signing.StatusPending, 2, 4)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, ids[4], page3[0].ID)

	empty, err := s.FindByStatus(ctx, signing.StatusSigned, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFindExpired(t *testing.T) {
	s := store.NewMemoryRequestStore()
	ctx := context.Background()
	base := time.Now()

	stale := newRequest(t, base.Add(-10*time.Minute))
	fresh := newRequest(t, base)
	signed := newRequest(t, base.Add(-10*time.Minute))
	_, err := signed.CompleteChallenge(domain.NewChallengeID(), "000000", base)
	require.Error(t, err, "sanity: unknown challenge")
	require.NoError(t, signed.MarkExpired(base))

	require.NoError(t, s.Save(ctx, stale))
	require.NoError(t, s.Save(ctx, fresh))
	require.NoError(t, s.Save(ctx, signed))

	expired, err := s.FindExpired(ctx, base)
	require.NoError(t, err)
	require.Len(t, expired, 1, "terminal and unexpired requests excluded")
	assert.Equal(t, stale.ID, expired[0].ID)
}
