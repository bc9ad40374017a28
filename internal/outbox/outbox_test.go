package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-gateway/internal/outbox"
	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
	"sign-gateway/pkg/platform/tx"
)

type testEvent struct {
	RequestID string `json:"request_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

func (e testEvent) EventType() string     { return "signature.signed" }
func (e testEvent) AggregateType() string { return "signature_request" }
func (e testEvent) AggregateID() string   { return e.RequestID }

func TestPublishRequiresTransactionScope(t *testing.T) {
	p := outbox.NewPublisher(outbox.NewMemoryStore())

	err := p.Publish(context.Background(), testEvent{RequestID: "r1"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestPublishStagesEvent(t *testing.T) {
	store := outbox.NewMemoryStore()
	p := outbox.NewPublisher(store)
	ctx := tx.WithScope(context.Background())

	event := testEvent{RequestID: "r1", Amount: "250.00", Currency: "EUR"}
	require.NoError(t, p.Publish(ctx, event))

	staged, err := store.FindUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, staged, 1)

	e := staged[0]
	assert.Equal(t, "signature.signed", e.EventType)
	assert.Equal(t, "signature_request", e.AggregateType)
	assert.Equal(t, "r1", e.AggregateID)
	assert.Nil(t, e.PublishedAt)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), e.PayloadHash)

	var decoded testEvent
	require.NoError(t, json.Unmarshal(e.Payload, &decoded))
	assert.Equal(t, event, decoded)
}

func TestCanonicalPayloadHashIsStable(t *testing.T) {
	event := testEvent{RequestID: "r1", Amount: "250.00", Currency: "EUR"}

	a, err := outbox.NewOutboxEvent(event, time.Now())
	require.NoError(t, err)
	b, err := outbox.NewOutboxEvent(event, time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, a.PayloadHash, b.PayloadHash)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestPublishAllRequiresScope(t *testing.T) {
	store := outbox.NewMemoryStore()
	p := outbox.NewPublisher(store)

	err := p.PublishAll(context.Background(),
		testEvent{RequestID: "r1"},
		testEvent{RequestID: "r2"},
	)
	require.Error(t, err)

	staged, err := store.FindUnpublished(tx.WithScope(context.Background()), 10)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

type fakeBroker struct {
	messages map[string][][]byte
	failNext error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{messages: make(map[string][][]byte)}
}

func (b *fakeBroker) Produce(_ context.Context, _ string, key, value []byte) error {
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	b.messages[string(key)] = append(b.messages[string(key)], value)
	return nil
}

func TestRelayDrainsInOrder(t *testing.T) {
	store := outbox.NewMemoryStore()
	p := outbox.NewPublisher(store)
	ctx := tx.WithScope(context.Background())

	require.NoError(t, p.PublishAll(ctx,
		testEvent{RequestID: "r1", Amount: "1.00"},
		testEvent{RequestID: "r1", Amount: "2.00"},
		testEvent{RequestID: "r2", Amount: "3.00"},
	))

	broker := newFakeBroker()
	relay := outbox.NewRelay(store, broker, "signing.events")

	published, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, published)

	require.Len(t, broker.messages["r1"], 2)
	var first, second testEvent
	require.NoError(t, json.Unmarshal(broker.messages["r1"][0], &first))
	require.NoError(t, json.Unmarshal(broker.messages["r1"][1], &second))
	assert.Equal(t, "1.00", first.Amount)
	assert.Equal(t, "2.00", second.Amount)

	remaining, err := store.FindUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining, "drained events are marked published")
}

func TestRelayStopsAtBrokerFailure(t *testing.T) {
	store := outbox.NewMemoryStore()
	p := outbox.NewPublisher(store)
	ctx := tx.WithScope(context.Background())

	require.NoError(t, p.PublishAll(ctx,
		testEvent{RequestID: "r1", Amount: "1.00"},
		testEvent{RequestID: "r1", Amount: "2.00"},
	))

	broker := newFakeBroker()
	broker.failNext = errors.New("broker unavailable")
	relay := outbox.NewRelay(store, broker, "signing.events")

	published, err := relay.Drain(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, published)

	remaining, err := store.FindUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2, "nothing marked published past the failure")

	// Next drain picks up from the start and preserves order.
	published, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, published)
}

// txStore buffers inserts until commit, mirroring how the Postgres store
// joins the caller's transaction.
type txStore struct {
	staged    []*outbox.OutboxEvent
	committed *outbox.MemoryStore
}

func newTxStore() *txStore {
	return &txStore{committed: outbox.NewMemoryStore()}
}

func (s *txStore) Insert(_ context.Context, event *outbox.OutboxEvent) error {
	copied := *event
	s.staged = append(s.staged, &copied)
	return nil
}

func (s *txStore) FindUnpublished(ctx context.Context, limit int) ([]*outbox.OutboxEvent, error) {
	return s.committed.FindUnpublished(ctx, limit)
}

func (s *txStore) MarkPublished(ctx context.Context, id domain.EventID, publishedAt time.Time) error {
	return s.committed.MarkPublished(ctx, id, publishedAt)
}

// runInTx runs fn in a scoped context and commits the staged inserts only
// when fn succeeds.
func (s *txStore) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if err := fn(tx.WithScope(ctx)); err != nil {
		s.staged = nil
		return err
	}
	for _, e := range s.staged {
		if err := s.committed.Insert(ctx, e); err != nil {
			return err
		}
	}
	s.staged = nil
	return nil
}

func TestRollbackDiscardsStagedEvents(t *testing.T) {
	store := newTxStore()
	p := outbox.NewPublisher(store)
	ctx := context.Background()

	errSave := errors.New("save failed")
	err := store.runInTx(ctx, func(txCtx context.Context) error {
		if err := p.Publish(txCtx, testEvent{RequestID: "r1", Amount: "10.00", Currency: "EUR"}); err != nil {
			return err
		}
		return errSave
	})
	require.ErrorIs(t, err, errSave)

	events, err := store.FindUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "an aborted unit of work leaves no events behind")

	require.NoError(t, store.runInTx(ctx, func(txCtx context.Context) error {
		return p.Publish(txCtx, testEvent{RequestID: "r1", Amount: "10.00", Currency: "EUR"})
	}))
	events, err = store.FindUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].AggregateID)
}
