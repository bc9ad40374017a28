// Package handler exposes the signature request lifecycle over HTTP. It
// stays thin: decode, delegate to the service, translate the outcome.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"sign-gateway/internal/platform/middleware"
	"sign-gateway/internal/signing"
	"sign-gateway/internal/signing/service"
	"sign-gateway/internal/transport/http/shared"
	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

// Service defines the interface for signature request operations.
type Service interface {
	StartSignature(ctx context.Context, in service.StartInput) (*service.StartResult, error)
	CompleteSignature(ctx context.Context, requestID domain.SignatureRequestID, challengeID domain.ChallengeID, code string) (*signing.SignatureRequest, error)
	AbortSignature(ctx context.Context, requestID domain.SignatureRequestID, reason string) (*signing.SignatureRequest, error)
	GetRequest(ctx context.Context, requestID domain.SignatureRequestID) (*signing.SignatureRequest, error)
}

// Handler handles signature request endpoints.
type Handler struct {
	logger       *slog.Logger
	signing      Service
	jwtValidator middleware.JWTValidator
}

// New creates a new signature Handler.
func New(signing Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		signing:      signing,
		jwtValidator: jwtValidator,
	}
}

// Register registers the signature routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(gr chi.Router) {
		gr.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		gr.Post("/v1/signatures", h.handleStart)
		gr.Get("/v1/signatures/{id}", h.handleGet)
		gr.Post("/v1/signatures/{id}/complete", h.handleComplete)
		gr.Post("/v1/signatures/{id}/abort", h.handleAbort)
	})
}

type startRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	MerchantID  string `json:"merchant_id"`
	OrderID     string `json:"order_id"`
	Description string `json:"description"`
}

type completeRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The middleware has already validated the JWT and set the userID in context
	customerID := middleware.GetCustomerID(ctx)
	if customerID == "" {
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "amount must be a decimal string"))
		return
	}

	result, err := h.signing.StartSignature(ctx, service.StartInput{
		CustomerID:     customerID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Amount:         amount,
		Currency:       body.Currency,
		MerchantID:     body.MerchantID,
		OrderID:        body.OrderID,
		Description:    body.Description,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "start signature failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}

	if result.Replayed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.StoredStatus)
		_, _ = w.Write(result.StoredBody)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toRequestResponse(result.Request))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID, err := domain.ParseSignatureRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var body completeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	challengeID, err := domain.ParseChallengeID(body.ChallengeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	req, err := h.signing.CompleteSignature(ctx, requestID, challengeID, body.Code)
	if err != nil {
		h.logger.WarnContext(ctx, "complete signature failed",
			"request_id", middleware.GetRequestID(ctx),
			"signature_request_id", requestID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID, err := domain.ParseSignatureRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var body abortRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	req, err := h.signing.AbortSignature(ctx, requestID, body.Reason)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	requestID, err := domain.ParseSignatureRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	req, err := h.signing.GetRequest(r.Context(), requestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

// requestResponse is the external view of a signature request. Challenge
// codes never leave the service; only delivery metadata is exposed.
type requestResponse struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
	SignedAt    *time.Time          `json:"signed_at,omitempty"`
	AbortedAt   *time.Time          `json:"aborted_at,omitempty"`
	AbortReason string              `json:"abort_reason,omitempty"`
	Challenges  []challengeResponse `json:"challenges"`
}

type challengeResponse struct {
	ID             string     `json:"id"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
}

func toRequestResponse(req *signing.SignatureRequest) requestResponse {
	resp := requestResponse{
		ID:          req.ID.String(),
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
		ExpiresAt:   req.ExpiresAt,
		SignedAt:    req.SignedAt,
		AbortedAt:   req.AbortedAt,
		AbortReason: req.AbortReason,
		Challenges:  make([]challengeResponse, 0, len(req.Challenges)),
	}
	for _, c := range req.Challenges {
		resp.Challenges = append(resp.Challenges, challengeResponse{
			ID:             c.ID.String(),
			Channel:        c.Channel.String(),
			Status:         string(c.Status),
			SentAt:         c.SentAt,
			ExpiresAt:      c.ExpiresAt,
			CompletedAt:    c.CompletedAt,
			ErrorCode:      c.ErrorCode,
			FailedAttempts: c.FailedAttempts,
		})
	}
	return resp
}
