package signing

import (
	"time"

	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

// Status is the lifecycle state of a signature request.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPendingDegraded Status = "PENDING_DEGRADED"
	StatusChallenged      Status = "CHALLENGED"
	StatusSigned          Status = "SIGNED"
	StatusFailed          Status = "FAILED"
	StatusExpired         Status = "EXPIRED"
	StatusAborted         Status = "ABORTED"
)

// legalTransitions is the single source of truth for the request state
// machine. Anything absent here is an invalid transition.
var legalTransitions = map[Status][]Status{
	StatusPending:         {StatusChallenged, StatusSigned, StatusFailed, StatusExpired, StatusAborted},
	StatusPendingDegraded: {StatusChallenged, StatusSigned, StatusFailed, StatusExpired, StatusAborted},
	StatusChallenged:      {StatusSigned, StatusFailed, StatusExpired, StatusAborted},
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// CanTransition reports whether s -> to is a legal transition.
func (s Status) CanTransition(to Status) bool {
	for _, t := range legalTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// ChallengeStatus is the lifecycle state of a single challenge.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "PENDING"
	ChallengeSent      ChallengeStatus = "SENT"
	ChallengeCompleted ChallengeStatus = "COMPLETED"
	ChallengeFailed    ChallengeStatus = "FAILED"
	ChallengeExpired   ChallengeStatus = "EXPIRED"
)

var legalChallengeTransitions = map[ChallengeStatus][]ChallengeStatus{
	ChallengePending: {ChallengeSent, ChallengeFailed, ChallengeExpired},
	ChallengeSent:    {ChallengeCompleted, ChallengeFailed, ChallengeExpired},
}

// IsActive reports whether the challenge still awaits delivery or completion.
func (s ChallengeStatus) IsActive() bool {
	return s == ChallengePending || s == ChallengeSent
}

func (s ChallengeStatus) canTransition(to ChallengeStatus) bool {
	for _, t := range legalChallengeTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// MaxCompletionAttempts caps consecutive wrong-code submissions per challenge.
const MaxCompletionAttempts = 3

// Challenge error codes, stored on the challenge when it fails.
const (
	ErrorCodeMaxAttempts    = "MAX_ATTEMPTS_EXCEEDED"
	ErrorCodeDeliveryFailed = "DELIVERY_FAILED"
	ErrorCodeAborted        = "REQUEST_ABORTED"
)

// SignatureChallenge is one verification attempt owned by a signature
// request. Mutated only through the aggregate's methods.
type SignatureChallenge struct {
	ID             domain.ChallengeID
	Channel        domain.ChannelType
	Provider       domain.ProviderType
	Status         ChallengeStatus
	Code           string
	CreatedAt      time.Time
	SentAt         *time.Time
	ExpiresAt      time.Time
	CompletedAt    *time.Time
	ProviderProof  string
	ErrorCode      string
	FailedAttempts int
}

// Relabel redirects a not-yet-sent challenge to the fallback channel.
func (c *SignatureChallenge) Relabel(channel domain.ChannelType) {
	c.Channel = channel
	c.Provider = channel.Provider()
}

func (c *SignatureChallenge) transition(to ChallengeStatus) error {
	if !c.Status.canTransition(to) {
		return dErrors.Newf(dErrors.CodeInvalidStateTransition,
			"challenge %s cannot transition from %s to %s", c.ID, c.Status, to)
	}
	c.Status = to
	return nil
}

// RoutingEventType classifies entries on the routing timeline.
type RoutingEventType string

const (
	RoutingRuleEvaluated     RoutingEventType = "RULE_EVALUATED"
	RoutingRuleMatched       RoutingEventType = "RULE_MATCHED"
	RoutingDefaultUsed       RoutingEventType = "DEFAULT_CHANNEL_USED"
	RoutingChallengeCreated  RoutingEventType = "CHALLENGE_CREATED"
	RoutingChallengeSent     RoutingEventType = "CHALLENGE_SENT"
	RoutingSendSkipped       RoutingEventType = "SEND_SKIPPED"
	RoutingFallbackTriggered RoutingEventType = "FALLBACK_TRIGGERED"
	RoutingChallengeFailed   RoutingEventType = "CHALLENGE_FAILED"
)

// RoutingEvent is an append-only audit entry on the request's routing
// timeline.
type RoutingEvent struct {
	Timestamp       time.Time          `json:"timestamp"`
	Type            RoutingEventType   `json:"type"`
	PreviousChannel domain.ChannelType `json:"previous_channel,omitempty"`
	NewChannel      domain.ChannelType `json:"new_channel,omitempty"`
	Detail          string             `json:"detail,omitempty"`
}

// SignatureRequest is the aggregate root for one transaction-confirmation
// workflow. All lifecycle invariants are enforced here; stores persist
// whatever state the aggregate reached, never mutate it.
type SignatureRequest struct {
	ID                domain.SignatureRequestID
	CustomerPseudonym string
	Context           TransactionContext
	Status            Status
	Challenges        []*SignatureChallenge
	Timeline          []RoutingEvent
	CreatedAt         time.Time
	ExpiresAt         time.Time
	SignedAt          *time.Time
	AbortedAt         *time.Time
	AbortReason       string

	// Version backs optimistic concurrency in the postgres store: concurrent
	// completion attempts against the same aggregate serialize on it.
	Version int64
}

// NewSignatureRequest builds a fresh aggregate in PENDING, or
// PENDING_DEGRADED when the coordinator reports system-wide degradation.
func NewSignatureRequest(pseudonym string, txCtx TransactionContext, now time.Time, ttl time.Duration, degraded bool) (*SignatureRequest, error) {
	if pseudonym == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "customer pseudonym is required")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "signature TTL must be positive")
	}
	status := StatusPending
	if degraded {
		status = StatusPendingDegraded
	}
	return &SignatureRequest{
		ID:                domain.NewSignatureRequestID(),
		CustomerPseudonym: pseudonym,
		Context:           txCtx,
		Status:            status,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}, nil
}

func (r *SignatureRequest) transition(to Status) error {
	if !r.Status.CanTransition(to) {
		return dErrors.Newf(dErrors.CodeInvalidStateTransition,
			"signature request %s cannot transition from %s to %s", r.ID, r.Status, to)
	}
	r.Status = to
	return nil
}

// AppendTimeline records a routing decision on the append-only timeline.
func (r *SignatureRequest) AppendTimeline(event RoutingEvent) {
	r.Timeline = append(r.Timeline, event)
}

// ActiveChallenge returns the challenge currently awaiting delivery or
// completion, if any.
func (r *SignatureRequest) ActiveChallenge() *SignatureChallenge {
	for _, c := range r.Challenges {
		if c.Status.IsActive() {
			return c
		}
	}
	return nil
}

// ChallengeByID locates a challenge by id.
func (r *SignatureRequest) ChallengeByID(id domain.ChallengeID) *SignatureChallenge {
	for _, c := range r.Challenges {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// AttachChallenge adds a new challenge, enforcing the at-most-one-active
// invariant.
func (r *SignatureRequest) AttachChallenge(c *SignatureChallenge) error {
	if r.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidStateTransition,
			"cannot attach challenge to %s request", r.Status)
	}
	if active := r.ActiveChallenge(); active != nil {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"request %s already has active challenge %s", r.ID, active.ID)
	}
	r.Challenges = append(r.Challenges, c)
	return nil
}

// MarkChallengeSent records successful provider delivery and moves the
// request to CHALLENGED.
func (r *SignatureRequest) MarkChallengeSent(c *SignatureChallenge, proof string, now time.Time) error {
	if err := c.transition(ChallengeSent); err != nil {
		return err
	}
	sentAt := now
	c.SentAt = &sentAt
	c.ProviderProof = proof
	return r.transition(StatusChallenged)
}

// MarkChallengeFailed records irrecoverable delivery failure on the
// challenge and fails the request.
func (r *SignatureRequest) MarkChallengeFailed(c *SignatureChallenge, errorCode string) error {
	if err := c.transition(ChallengeFailed); err != nil {
		return err
	}
	c.ErrorCode = errorCode
	return r.transition(StatusFailed)
}

// CompleteChallenge validates a submitted code against the identified
// challenge and drives both state machines to their outcome. Callers must
// persist the aggregate whenever the returned mutated flag is true, error or
// not: expiry discovery, wrong-code attempts, and terminal outcomes all
// change durable state.
func (r *SignatureRequest) CompleteChallenge(challengeID domain.ChallengeID, code string, now time.Time) (mutated bool, err error) {
	c := r.ChallengeByID(challengeID)
	if c == nil {
		return false, dErrors.Newf(dErrors.CodeChallengeNotFound,
			"challenge %s not found on request %s", challengeID, r.ID)
	}

	if c.Status != ChallengeSent {
		return false, dErrors.Newf(dErrors.CodeInvalidStateTransition,
			"challenge %s is %s, completion requires SENT", c.ID, c.Status)
	}

	// Expiry wins over code correctness and does not consume an attempt.
	if now.After(c.ExpiresAt) {
		c.Status = ChallengeExpired
		if terr := r.transition(StatusExpired); terr != nil {
			return true, terr
		}
		return true, dErrors.Newf(dErrors.CodeInvalidStateTransition,
			"challenge %s has expired", c.ID)
	}

	if code != c.Code {
		c.FailedAttempts++
		remaining := MaxCompletionAttempts - c.FailedAttempts
		if remaining <= 0 {
			c.Status = ChallengeFailed
			c.ErrorCode = ErrorCodeMaxAttempts
			if terr := r.transition(StatusFailed); terr != nil {
				return true, terr
			}
		}
		return true, dErrors.Newf(dErrors.CodeInvalidChallengeCode,
			"invalid challenge code for %s", c.ID).
			WithDetail("remaining_attempts", max(remaining, 0))
	}

	c.Status = ChallengeCompleted
	completedAt := now
	c.CompletedAt = &completedAt
	signedAt := now
	r.SignedAt = &signedAt
	return true, r.transition(StatusSigned)
}

// Abort terminates the request by explicit action. Legal only from
// non-terminal states; open challenges are forced to FAILED.
func (r *SignatureRequest) Abort(reason string, now time.Time) error {
	if err := r.transition(StatusAborted); err != nil {
		return err
	}
	abortedAt := now
	r.AbortedAt = &abortedAt
	r.AbortReason = reason
	for _, c := range r.Challenges {
		if c.Status.IsActive() {
			c.Status = ChallengeFailed
			c.ErrorCode = ErrorCodeAborted
		}
	}
	return nil
}

// MarkExpired transitions the request and its open challenges to EXPIRED.
// Used by the expiry sweep.
func (r *SignatureRequest) MarkExpired(now time.Time) error {
	if err := r.transition(StatusExpired); err != nil {
		return err
	}
	for _, c := range r.Challenges {
		if c.Status.IsActive() {
			c.Status = ChallengeExpired
		}
	}
	return nil
}

// MarkFailed transitions the request to FAILED after irrecoverable delivery
// failure.
func (r *SignatureRequest) MarkFailed() error {
	return r.transition(StatusFailed)
}
