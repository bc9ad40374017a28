// Package outbox implements the transactional outbox: domain events are
// inserted in the same transaction as the state change that caused them and
// relayed to the broker afterwards, giving exactly-once, aggregate-ordered
// emission without dual writes.
package outbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

// Event is the shape domain packages emit. Payloads must be JSON-marshalable.
type Event interface {
	EventType() string
	AggregateType() string
	AggregateID() string
}

// OutboxEvent is one durably staged domain event. PublishedAt stays nil
// until the relay hands it to the broker.
type OutboxEvent struct {
	ID            domain.EventID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	PayloadHash   string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// NewOutboxEvent stages a domain event: canonical JSON payload plus an
// integrity hash over it.
func NewOutboxEvent(e Event, now time.Time) (*OutboxEvent, error) {
	payload, err := canonicalJSON(e)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding outbox payload")
	}
	sum := sha256.Sum256(payload)
	return &OutboxEvent{
		ID:            domain.NewEventID(),
		AggregateType: e.AggregateType(),
		AggregateID:   e.AggregateID(),
		EventType:     e.EventType(),
		Payload:       payload,
		PayloadHash:   hex.EncodeToString(sum[:]),
		CreatedAt:     now,
	}, nil
}

// canonicalJSON marshals with lexicographically sorted object keys so the
// payload hash is stable across field reorderings.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
