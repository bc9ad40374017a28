// Package service implements the signature request use cases. Every use case
// runs as one atomic unit of work: load aggregate, mutate in memory, persist,
// stage outbox events, all or nothing.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sign-gateway/internal/idempotency"
	"sign-gateway/internal/outbox"
	"sign-gateway/internal/routing"
	"sign-gateway/internal/routing/condition"
	"sign-gateway/internal/signing"
	signingmetrics "sign-gateway/internal/signing/metrics"
	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
	"sign-gateway/pkg/platform/sentinel"
)

const defaultSignatureTTL = 3 * time.Minute

// Service orchestrates the signature request lifecycle.
type Service struct {
	store       RequestStore
	router      Router
	dispatcher  Dispatcher
	publisher   EventPublisher
	admitter    Admitter
	pseudonyms  Pseudonymizer
	idempotency IdempotencyGuard
	degraded    DegradedReporter
	txRunner    TxRunner

	ttl     time.Duration
	logger  *slog.Logger
	metrics *signingmetrics.Metrics
	now     func() time.Time
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *signingmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTxRunner(r TxRunner) Option {
	return func(s *Service) { s.txRunner = r }
}

// New wires the service to its collaborators.
func New(
	store RequestStore,
	router Router,
	dispatcher Dispatcher,
	publisher EventPublisher,
	admitter Admitter,
	pseudonyms Pseudonymizer,
	idem IdempotencyGuard,
	degraded DegradedReporter,
	opts ...Option,
) *Service {
	s := &Service{
		store:       store,
		router:      router,
		dispatcher:  dispatcher,
		publisher:   publisher,
		admitter:    admitter,
		pseudonyms:  pseudonyms,
		idempotency: idem,
		degraded:    degraded,
		txRunner:    NewMemoryTxRunner(),
		ttl:         defaultSignatureTTL,
		logger:      slog.Default(),
		now:         time.Now,
		tracer:      otel.Tracer("signing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartInput carries everything a client submits to open a signature request.
type StartInput struct {
	CustomerID     string
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	MerchantID     string
	OrderID        string
	Description    string
}

// StartResult is either a freshly created request or a replay of the stored
// response for a repeated idempotent submission.
type StartResult struct {
	Request      *signing.SignatureRequest
	Replayed     bool
	StoredStatus int
	StoredBody   []byte
}

// startResponse is the replayable outcome stored under the idempotency key.
type startResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// StartSignature admits, deduplicates, routes and persists a new signature
// request, dispatching its first challenge in the same transaction.
func (s *Service) StartSignature(ctx context.Context, in StartInput) (*StartResult, error) {
	ctx, span := s.tracer.Start(ctx, "signing.start")
	defer span.End()

	pseudonym, err := s.pseudonyms.Pseudonymize(in.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := s.admitter.Admit(ctx, pseudonym); err != nil {
		return nil, err
	}

	txCtx, err := signing.NewTransactionContext(in.Amount, in.Currency, in.MerchantID, in.OrderID, in.Description)
	if err != nil {
		return nil, err
	}

	var idemHash string
	if in.IdempotencyKey != "" {
		idemHash = idempotency.HashBody([]byte(pseudonym + ":" + txCtx.Hash))
		replay, err := s.idempotency.CheckAndStore(ctx, in.IdempotencyKey, idemHash)
		if err != nil {
			return nil, err
		}
		if replay != nil && replay.HasResponse() {
			s.logger.InfoContext(ctx, "idempotent replay", "key", in.IdempotencyKey)
			return &StartResult{
				Replayed:     true,
				StoredStatus: replay.ResponseStatus,
				StoredBody:   replay.ResponseBody,
			}, nil
		}
	}

	decision, err := s.router.Decide(ctx, condition.Context{
		Amount:      txCtx.Amount,
		Currency:    txCtx.Currency,
		MerchantID:  txCtx.MerchantID,
		OrderID:     txCtx.OrderID,
		Description: txCtx.Description,
	})
	if err != nil {
		s.releaseIdempotency(ctx, in.IdempotencyKey)
		return nil, err
	}

	now := s.now()
	degraded := s.degraded.IsSystemDegraded()
	req, err := signing.NewSignatureRequest(pseudonym, txCtx, now, s.ttl, degraded)
	if err != nil {
		s.releaseIdempotency(ctx, in.IdempotencyKey)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("request_id", req.ID.String()),
		attribute.String("channel", decision.Channel.String()),
		attribute.Bool("degraded", degraded),
	)
	s.recordDecisionTrace(req, decision, now)

	err = s.txRunner.RunInTx(ctx, func(txc context.Context) error {
		if err := s.dispatcher.Dispatch(txc, req, decision.Channel); err != nil {
			return err
		}
		if err := s.store.Save(txc, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persisting signature request")
		}
		events := s.startEvents(req, decision, now)
		return s.publisher.PublishAll(txc, events...)
	})
	if err != nil {
		s.releaseIdempotency(ctx, in.IdempotencyKey)
		return nil, err
	}

	s.metrics.RecordStarted(degraded)
	if req.Status == signing.StatusFailed {
		s.metrics.RecordOutcome("delivery_failed")
	}
	s.logger.InfoContext(ctx, "signature request started",
		"request_id", req.ID.String(),
		"channel", decision.Channel.String(),
		"status", string(req.Status),
		"degraded", degraded,
	)

	result := &StartResult{Request: req}
	if in.IdempotencyKey != "" {
		body, err := json.Marshal(startResponse{RequestID: req.ID.String(), Status: string(req.Status)})
		if err == nil {
			err = s.idempotency.StoreResponse(ctx, in.IdempotencyKey, idemHash, 201, body)
		}
		if err != nil {
			// The request exists; losing the replay record only costs a
			// future duplicate a conflict instead of a replay.
			s.logger.WarnContext(ctx, "storing idempotency response failed",
				"key", in.IdempotencyKey, "error", err)
		}
	}
	return result, nil
}

// releaseIdempotency frees the key reserved by CheckAndStore after the
// start failed, so the client's retry is not blocked for the record TTL.
func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Release(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "releasing idempotency key failed",
			"key", key, "error", err)
	}
}

// CompleteSignature validates a submitted challenge code. Wrong-code
// attempts, discovered expiry, and terminal outcomes are persisted even when
// the caller receives a typed error.
func (s *Service) CompleteSignature(ctx context.Context, requestID domain.SignatureRequestID, challengeID domain.ChallengeID, code string) (*signing.SignatureRequest, error) {
	ctx, span := s.tracer.Start(ctx, "signing.complete",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	var (
		req    *signing.SignatureRequest
		domErr error
	)
	err := s.txRunner.RunInTx(ctx, func(txc context.Context) error {
		var err error
		req, err = s.load(txc, requestID)
		if err != nil {
			return err
		}

		now := s.now()
		mutated, completeErr := req.CompleteChallenge(challengeID, code, now)
		if !mutated {
			return completeErr
		}

		if err := s.store.Save(txc, req); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "concurrent completion attempt, retry")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "persisting signature request")
		}
		if events := s.completionEvents(req, challengeID, completeErr, now); len(events) > 0 {
			if err := s.publisher.PublishAll(txc, events...); err != nil {
				return err
			}
		}
		domErr = completeErr
		return nil
	})
	if err != nil {
		return nil, err
	}
	if domErr != nil {
		return req, domErr
	}

	s.metrics.RecordOutcome("signed")
	if req.SignedAt != nil {
		s.metrics.ObserveSigningDuration(req.SignedAt.Sub(req.CreatedAt))
	}
	s.logger.InfoContext(ctx, "signature completed", "request_id", requestID.String())
	return req, nil
}

// AbortSignature terminates a non-terminal request on explicit admin action.
func (s *Service) AbortSignature(ctx context.Context, requestID domain.SignatureRequestID, reason string) (*signing.SignatureRequest, error) {
	ctx, span := s.tracer.Start(ctx, "signing.abort",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	var req *signing.SignatureRequest
	err := s.txRunner.RunInTx(ctx, func(txc context.Context) error {
		var err error
		req, err = s.load(txc, requestID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := req.Abort(reason, now); err != nil {
			return err
		}
		if err := s.store.Save(txc, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persisting signature request")
		}
		return s.publisher.PublishAll(txc, signing.SignatureAbortedEvent{
			RequestID: req.ID,
			Reason:    reason,
			AbortedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOutcome("aborted")
	s.logger.InfoContext(ctx, "signature aborted", "request_id", requestID.String(), "reason", reason)
	return req, nil
}

// GetRequest loads one aggregate for read-only callers.
func (s *Service) GetRequest(ctx context.Context, requestID domain.SignatureRequestID) (*signing.SignatureRequest, error) {
	return s.load(ctx, requestID)
}

// ExpireSweep transitions lapsed requests to EXPIRED, one transaction per
// aggregate so a single conflict does not abort the sweep.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.FindExpired(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "finding expired requests")
	}

	expired := 0
	for _, candidate := range candidates {
		err := s.txRunner.RunInTx(ctx, func(txc context.Context) error {
			req, err := s.load(txc, candidate.ID)
			if err != nil {
				return err
			}
			if req.Status.IsTerminal() {
				return nil
			}
			if err := req.MarkExpired(now); err != nil {
				return err
			}
			if err := s.store.Save(txc, req); err != nil {
				return err
			}
			return s.publisher.PublishAll(txc, signing.SignatureExpiredEvent{
				RequestID:  req.ID,
				ExpiredAt:  now,
				Discovered: "sweep",
			})
		})
		if err != nil {
			// A concurrent completion beat the sweep to this aggregate.
			s.logger.WarnContext(ctx, "expiry sweep skipped request",
				"request_id", candidate.ID.String(), "error", err)
			continue
		}
		expired++
		s.metrics.RecordOutcome("expired")
	}
	return expired, nil
}

// ResendDegraded retries suppressed challenge sends for PENDING_DEGRADED
// requests, oldest first. Returns how many challenges went out.
func (s *Service) ResendDegraded(ctx context.Context, limit int) (int, error) {
	candidates, err := s.store.FindByStatus(ctx, signing.StatusPendingDegraded, limit, 0)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "finding degraded requests")
	}

	sent := 0
	for _, candidate := range candidates {
		err := s.txRunner.RunInTx(ctx, func(txc context.Context) error {
			req, err := s.load(txc, candidate.ID)
			if err != nil {
				return err
			}
			delivered, err := s.dispatcher.Resend(txc, req)
			if err != nil || !delivered {
				return err
			}
			if err := s.store.Save(txc, req); err != nil {
				return err
			}
			sent++
			return nil
		})
		if err != nil {
			s.logger.WarnContext(ctx, "degraded resend failed",
				"request_id", candidate.ID.String(), "error", err)
		}
	}
	return sent, nil
}

func (s *Service) load(ctx context.Context, id domain.SignatureRequestID) (*signing.SignatureRequest, error) {
	req, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "signature request %s not found", id)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "loading signature request")
	}
	return req, nil
}

func (s *Service) recordDecisionTrace(req *signing.SignatureRequest, decision routing.Decision, now time.Time) {
	for _, eval := range decision.Trace {
		eventType := signing.RoutingRuleEvaluated
		if eval.Matched {
			eventType = signing.RoutingRuleMatched
		}
		req.AppendTimeline(signing.RoutingEvent{
			Timestamp:  now,
			Type:       eventType,
			NewChannel: eval.Channel,
			Detail:     eval.RuleName,
		})
	}
	if decision.DefaultChannelUsed {
		req.AppendTimeline(signing.RoutingEvent{
			Timestamp:  now,
			Type:       signing.RoutingDefaultUsed,
			NewChannel: decision.Channel,
		})
	}
}

func (s *Service) startEvents(req *signing.SignatureRequest, decision routing.Decision, now time.Time) []outbox.Event {
	events := []outbox.Event{signing.SignatureRequestedEvent{
		RequestID:          req.ID,
		CustomerPseudonym:  req.CustomerPseudonym,
		ContextHash:        req.Context.Hash,
		Channel:            decision.Channel,
		DefaultChannelUsed: decision.DefaultChannelUsed,
		Degraded:           req.Status == signing.StatusPendingDegraded,
		OccurredAt:         now,
	}}
	if req.Status == signing.StatusFailed {
		events = append(events, signing.SignatureFailedEvent{
			RequestID:  req.ID,
			ErrorCode:  signing.ErrorCodeDeliveryFailed,
			OccurredAt: now,
		})
	}
	return events
}

func (s *Service) completionEvents(req *signing.SignatureRequest, challengeID domain.ChallengeID, completeErr error, now time.Time) []outbox.Event {
	switch {
	case completeErr == nil:
		c := req.ChallengeByID(challengeID)
		return []outbox.Event{signing.SignatureSignedEvent{
			RequestID:   req.ID,
			ChallengeID: challengeID,
			Channel:     c.Channel,
			SignedAt:    now,
		}}
	case req.Status == signing.StatusExpired:
		s.metrics.RecordOutcome("expired")
		return []outbox.Event{signing.SignatureExpiredEvent{
			RequestID:  req.ID,
			ExpiredAt:  now,
			Discovered: "completion",
		}}
	case req.Status == signing.StatusFailed:
		s.metrics.RecordOutcome("max_attempts")
		return []outbox.Event{signing.SignatureFailedEvent{
			RequestID:  req.ID,
			ErrorCode:  signing.ErrorCodeMaxAttempts,
			OccurredAt: now,
		}}
	default:
		// Non-terminal wrong-code attempt; the persisted counter is the
		// only state change.
		return nil
	}
}
