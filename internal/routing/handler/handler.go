// Package handler exposes routing rule administration over HTTP, guarded by
// the admin token.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sign-gateway/internal/platform/middleware"
	"sign-gateway/internal/routing"
	"sign-gateway/internal/routing/service"
	"sign-gateway/internal/transport/http/shared"
	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

// Handler handles routing rule admin endpoints.
type Handler struct {
	logger     *slog.Logger
	rules      *service.Service
	adminToken string
}

// New creates a new routing rule admin Handler.
func New(rules *service.Service, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{
		logger:     logger,
		rules:      rules,
		adminToken: adminToken,
	}
}

// Register registers the admin routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(gr chi.Router) {
		gr.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
		gr.Post("/admin/routing-rules", h.handleCreate)
		gr.Get("/admin/routing-rules", h.handleList)
		gr.Put("/admin/routing-rules/{id}/condition", h.handleUpdateCondition)
		gr.Put("/admin/routing-rules/{id}/enabled", h.handleSetEnabled)
		gr.Delete("/admin/routing-rules/{id}", h.handleDelete)
	})
}

type createRuleRequest struct {
	Name          string `json:"name"`
	Condition     string `json:"condition"`
	TargetChannel string `json:"target_channel"`
	Priority      int    `json:"priority"`
}

type updateConditionRequest struct {
	Condition string `json:"condition"`
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	channel, err := domain.ParseChannelType(body.TargetChannel)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	rule, err := h.rules.CreateRule(ctx, body.Name, body.Condition, channel, body.Priority, actor(r))
	if err != nil {
		h.logger.WarnContext(ctx, "create routing rule failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toRuleResponse(rule))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListRules(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	resp := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, toRuleResponse(rule))
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdateCondition(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRuleID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var body updateConditionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	rule, err := h.rules.UpdateCondition(r.Context(), id, body.Condition, actor(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRuleResponse(rule))
}

func (h *Handler) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRuleID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var body setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	rule, err := h.rules.SetEnabled(r.Context(), id, body.Enabled, actor(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRuleResponse(rule))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRuleID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if err := h.rules.DeleteRule(r.Context(), id, actor(r)); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actor identifies the admin performing the change for the audit trail.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Admin-Actor"); a != "" {
		return a
	}
	return "admin"
}

type ruleResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Condition     string     `json:"condition"`
	TargetChannel string     `json:"target_channel"`
	Priority      int        `json:"priority"`
	Enabled       bool       `json:"enabled"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ModifiedBy    string     `json:"modified_by,omitempty"`
	ModifiedAt    *time.Time `json:"modified_at,omitempty"`
}

func toRuleResponse(rule *routing.Rule) ruleResponse {
	return ruleResponse{
		ID:            rule.ID.String(),
		Name:          rule.Name,
		Condition:     rule.Condition,
		TargetChannel: rule.TargetChannel.String(),
		Priority:      rule.Priority,
		Enabled:       rule.Enabled,
		CreatedBy:     rule.CreatedBy,
		CreatedAt:     rule.CreatedAt,
		ModifiedBy:    rule.ModifiedBy,
		ModifiedAt:    rule.ModifiedAt,
	}
}
