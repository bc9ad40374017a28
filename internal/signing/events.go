package signing

import (
	"time"

	"sign-gateway/pkg/domain"
)

// Domain events, one per observable lifecycle outcome. They are persisted
// through the outbox publisher in the same transaction as the aggregate, so
// downstream consumers see exactly one event per state change.

const aggregateTypeSignatureRequest = "signature_request"

// SignatureRequestedEvent records creation of a signature request.
type SignatureRequestedEvent struct {
	RequestID          domain.SignatureRequestID `json:"request_id"`
	CustomerPseudonym  string                    `json:"customer_pseudonym"`
	ContextHash        string                    `json:"context_hash"`
	Channel            domain.ChannelType        `json:"channel"`
	DefaultChannelUsed bool                      `json:"default_channel_used"`
	Degraded           bool                      `json:"degraded"`
	OccurredAt         time.Time                 `json:"occurred_at"`
}

func (e SignatureRequestedEvent) EventType() string     { return "signature.requested" }
func (e SignatureRequestedEvent) AggregateType() string { return aggregateTypeSignatureRequest }
func (e SignatureRequestedEvent) AggregateID() string   { return e.RequestID.String() }

// SignatureSignedEvent records successful completion.
type SignatureSignedEvent struct {
	RequestID   domain.SignatureRequestID `json:"request_id"`
	ChallengeID domain.ChallengeID        `json:"challenge_id"`
	Channel     domain.ChannelType        `json:"channel"`
	SignedAt    time.Time                 `json:"signed_at"`
}

func (e SignatureSignedEvent) EventType() string     { return "signature.signed" }
func (e SignatureSignedEvent) AggregateType() string { return aggregateTypeSignatureRequest }
func (e SignatureSignedEvent) AggregateID() string   { return e.RequestID.String() }

// SignatureFailedEvent records terminal failure (attempt budget exhausted or
// irrecoverable delivery failure).
type SignatureFailedEvent struct {
	RequestID  domain.SignatureRequestID `json:"request_id"`
	ErrorCode  string                    `json:"error_code"`
	OccurredAt time.Time                 `json:"occurred_at"`
}

func (e SignatureFailedEvent) EventType() string     { return "signature.failed" }
func (e SignatureFailedEvent) AggregateType() string { return aggregateTypeSignatureRequest }
func (e SignatureFailedEvent) AggregateID() string   { return e.RequestID.String() }

// SignatureExpiredEvent records TTL expiry before completion.
type SignatureExpiredEvent struct {
	RequestID  domain.SignatureRequestID `json:"request_id"`
	ExpiredAt  time.Time                 `json:"expired_at"`
	Discovered string                    `json:"discovered"` // "sweep" or "completion"
}

func (e SignatureExpiredEvent) EventType() string     { return "signature.expired" }
func (e SignatureExpiredEvent) AggregateType() string { return aggregateTypeSignatureRequest }
func (e SignatureExpiredEvent) AggregateID() string   { return e.RequestID.String() }

// SignatureAbortedEvent records an explicit abort.
type SignatureAbortedEvent struct {
	RequestID  domain.SignatureRequestID `json:"request_id"`
	Reason     string                    `json:"reason"`
	AbortedAt  time.Time                 `json:"aborted_at"`
}

func (e SignatureAbortedEvent) EventType() string     { return "signature.aborted" }
func (e SignatureAbortedEvent) AggregateType() string { return aggregateTypeSignatureRequest }
func (e SignatureAbortedEvent) AggregateID() string   { return e.RequestID.String() }
