// Package domain holds identifier and enum types shared across modules.
// Construct values via the Parse/New functions at trust boundaries; direct
// casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "sign-gateway/pkg/domainerrors"
)

// SignatureRequestID identifies a signature request aggregate.
type SignatureRequestID uuid.UUID

// ChallengeID identifies a challenge owned by a signature request.
type ChallengeID uuid.UUID

// RuleID identifies a routing rule.
type RuleID uuid.UUID

// EventID identifies an outbox event.
type EventID uuid.UUID

// NewSignatureRequestID returns a time-ordered (UUIDv7) request id.
// Time-ordering keeps oldest-first scans and index locality cheap.
func NewSignatureRequestID() SignatureRequestID {
	return SignatureRequestID(uuid.Must(uuid.NewV7()))
}

// NewChallengeID returns a time-ordered challenge id.
func NewChallengeID() ChallengeID {
	return ChallengeID(uuid.Must(uuid.NewV7()))
}

// NewRuleID returns a time-ordered rule id.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()))
}

// NewEventID returns a time-ordered event id.
func NewEventID() EventID {
	return EventID(uuid.Must(uuid.NewV7()))
}

func (id SignatureRequestID) String() string { return uuid.UUID(id).String() }
func (id ChallengeID) String() string        { return uuid.UUID(id).String() }
func (id RuleID) String() string             { return uuid.UUID(id).String() }
func (id EventID) String() string            { return uuid.UUID(id).String() }

func (id SignatureRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ChallengeID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }

// ParseSignatureRequestID constructs a SignatureRequestID from external input.
func ParseSignatureRequestID(s string) (SignatureRequestID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return SignatureRequestID{}, err
	}
	return SignatureRequestID(u), nil
}

// ParseChallengeID constructs a ChallengeID from external input.
func ParseChallengeID(s string) (ChallengeID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ChallengeID{}, err
	}
	return ChallengeID(u), nil
}

// ParseRuleID constructs a RuleID from external input.
func ParseRuleID(s string) (RuleID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return RuleID{}, err
	}
	return RuleID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}
