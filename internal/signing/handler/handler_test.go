package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sign-gateway/internal/admission"
	"sign-gateway/internal/challenge"
	"sign-gateway/internal/idempotency"
	"sign-gateway/internal/jwttoken"
	"sign-gateway/internal/outbox"
	"sign-gateway/internal/provider"
	"sign-gateway/internal/pseudonym"
	"sign-gateway/internal/resilience"
	"sign-gateway/internal/routing"
	routingstore "sign-gateway/internal/routing/store"
	"sign-gateway/internal/signing/service"
	signingstore "sign-gateway/internal/signing/store"
	"sign-gateway/pkg/domain"
)

var testJWT = jwttoken.NewJWTService("test-signing-key", "test-issuer", "test-audience")

func bearerToken(t *testing.T) string {
	t.Helper()
	token, err := testJWT.GenerateAccessToken("customer-42", "session-7", "mobile-app", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return "Bearer " + token
}

func TestAuthRequired(t *testing.T) {
	router, _ := newSignatureRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/signatures", bytes.NewReader([]byte(`{}`)))
	// No Authorization header set
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when bearer token missing, got %d", rec.Code)
	}
}

func TestStartAndCompleteViaHandlers(t *testing.T) {
	router, store := newSignatureRouter(t)

	rec := startSignature(t, router, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 starting signature, got %d: %s", rec.Code, rec.Body.String())
	}

	raw := rec.Body.Bytes()
	var started struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		Challenges []struct {
			ID      string `json:"id"`
			Channel string `json:"channel"`
			Status  string `json:"status"`
		} `json:"challenges"`
	}
	if err := json.Unmarshal(raw, &started); err != nil {
		t.Fatalf("failed to decode start response: %v", err)
	}
	if started.Status != "CHALLENGED" {
		t.Fatalf("expected CHALLENGED, got %s", started.Status)
	}
	if len(started.Challenges) != 1 || started.Challenges[0].Channel != "SMS" {
		t.Fatalf("expected one SMS challenge, got %+v", started.Challenges)
	}

	// The wire format must never leak the verification code.
	if bytes.Contains(raw, []byte(`"code"`)) {
		t.Fatalf("challenge code leaked in response body")
	}

	code := challengeCode(t, store, started.ID)
	wrongCode := "000000"
	if code == wrongCode {
		wrongCode = "000001"
	}

	wrongRec := completeSignature(t, router, started.ID, started.Challenges[0].ID, wrongCode)
	if wrongRec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on wrong code, got %d: %s", wrongRec.Code, wrongRec.Body.String())
	}
	var wrongResp struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.NewDecoder(wrongRec.Body).Decode(&wrongResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if wrongResp.Error != "INVALID_CHALLENGE_CODE" {
		t.Fatalf("expected INVALID_CHALLENGE_CODE, got %s", wrongResp.Error)
	}
	if remaining, ok := wrongResp.Details["remaining_attempts"].(float64); !ok || remaining != 2 {
		t.Fatalf("expected remaining_attempts 2, got %v", wrongResp.Details["remaining_attempts"])
	}

	okRec := completeSignature(t, router, started.ID, started.Challenges[0].ID, code)
	if okRec.Code != http.StatusOK {
		t.Fatalf("expected 200 completing signature, got %d: %s", okRec.Code, okRec.Body.String())
	}
	var completed struct {
		Status   string     `json:"status"`
		SignedAt *time.Time `json:"signed_at"`
	}
	if err := json.NewDecoder(okRec.Body).Decode(&completed); err != nil {
		t.Fatalf("failed to decode complete response: %v", err)
	}
	if completed.Status != "SIGNED" || completed.SignedAt == nil {
		t.Fatalf("expected SIGNED with signed_at, got %+v", completed)
	}
}

func TestIdempotentReplayViaHandlers(t *testing.T) {
	router, _ := newSignatureRouter(t)

	first := startSignature(t, router, "idem-key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first start, got %d", first.Code)
	}
	var firstResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(first.Body).Decode(&firstResp); err != nil {
		t.Fatalf("failed to decode first response: %v", err)
	}

	second := startSignature(t, router, "idem-key-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	var secondResp struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(second.Body).Decode(&secondResp); err != nil {
		t.Fatalf("failed to decode replay response: %v", err)
	}
	if secondResp.RequestID != firstResp.ID {
		t.Fatalf("expected replay to return original request id %s, got %s", firstResp.ID, secondResp.RequestID)
	}
}

func TestAbortViaHandlers(t *testing.T) {
	router, _ := newSignatureRouter(t)

	rec := startSignature(t, router, "")
	var started struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&started); err != nil {
		t.Fatalf("failed to decode start response: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"reason": "USER_CANCELLED"})
	req := httptest.NewRequest(http.MethodPost, "/v1/signatures/"+started.ID+"/abort", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t))
	abortRec := httptest.NewRecorder()
	router.ServeHTTP(abortRec, req)
	if abortRec.Code != http.StatusOK {
		t.Fatalf("expected 200 aborting, got %d: %s", abortRec.Code, abortRec.Body.String())
	}
	var aborted struct {
		Status      string `json:"status"`
		AbortReason string `json:"abort_reason"`
	}
	if err := json.NewDecoder(abortRec.Body).Decode(&aborted); err != nil {
		t.Fatalf("failed to decode abort response: %v", err)
	}
	if aborted.Status != "ABORTED" || aborted.AbortReason != "USER_CANCELLED" {
		t.Fatalf("expected ABORTED/USER_CANCELLED, got %+v", aborted)
	}
}

func TestGetUnknownRequest(t *testing.T) {
	router, _ := newSignatureRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/signatures/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown request, got %d", rec.Code)
	}
}

func TestStartRejectsBadAmount(t *testing.T) {
	router, _ := newSignatureRouter(t)

	body, _ := json.Marshal(map[string]any{
		"amount": "not-a-number", "currency": "EUR",
		"merchant_id": "merchant-77", "order_id": "order-123",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/signatures", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad amount, got %d", rec.Code)
	}
}

func startSignature(t *testing.T, router http.Handler, idempotencyKey string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"amount":      "250.00",
		"currency":    "EUR",
		"merchant_id": "merchant-77",
		"order_id":    "order-123",
		"description": "two headphones",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/signatures", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t))
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func completeSignature(t *testing.T, router http.Handler, requestID, challengeID, code string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"challenge_id": challengeID, "code": code})
	req := httptest.NewRequest(http.MethodPost, "/v1/signatures/"+requestID+"/complete", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func challengeCode(t *testing.T, store *signingstore.MemoryRequestStore, requestID string) string {
	t.Helper()
	id, err := domain.ParseSignatureRequestID(requestID)
	if err != nil {
		t.Fatalf("bad request id %s: %v", requestID, err)
	}
	req, err := store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load request: %v", err)
	}
	if len(req.Challenges) == 0 {
		t.Fatalf("request has no challenges")
	}
	return req.Challenges[0].Code
}

func pseudonymService() (*pseudonym.Service, error) {
	return pseudonym.NewService([]byte("0123456789abcdef0123456789abcdef"))
}

func newSignatureRouter(t *testing.T) (http.Handler, *signingstore.MemoryRequestStore) {
	t.Helper()
	store := signingstore.NewMemoryRequestStore()
	rules := routingstore.NewMemoryRuleStore()

	registry, err := provider.NewRegistry(
		provider.NewStub(domain.ProviderSMS), provider.NewStub(domain.ProviderPush),
		provider.NewStub(domain.ProviderVoice), provider.NewStub(domain.ProviderBiometric),
	)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	fallbacks, err := resilience.NewFallbackResolver(map[domain.ChannelType]domain.ChannelType{
		domain.ChannelSMS: domain.ChannelPush,
	})
	if err != nil {
		t.Fatalf("failed to build fallbacks: %v", err)
	}
	coordinator := resilience.NewCoordinator(
		resilience.DefaultBreakerConfig(),
		resilience.DegradedConfig{MinCalls: 1000},
		fallbacks, nil,
	)
	orchestrator := challenge.NewOrchestrator(registry, coordinator)

	engine, err := routing.NewEngine(rules, domain.ChannelSMS)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	admitter := admission.NewController(admission.NewMemoryLimiter(), admission.Config{
		GlobalLimit:    1000,
		GlobalWindow:   time.Second,
		CustomerLimit:  1000,
		CustomerWindow: time.Minute,
	})
	pseudonyms, err := pseudonymService()
	if err != nil {
		t.Fatalf("failed to build pseudonym service: %v", err)
	}
	svc := service.New(
		store, engine, orchestrator,
		outbox.NewPublisher(outbox.NewMemoryStore()),
		admitter, pseudonyms,
		idempotency.NewService(idempotency.NewMemoryStore()),
		coordinator,
	)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(svc, logger, jwttoken.NewJWTServiceAdapter(testJWT))
	r := chi.NewRouter()
	h.Register(r)
	return r, store
}
