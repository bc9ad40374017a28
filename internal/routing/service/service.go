package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sign-gateway/internal/routing"
	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
	"sign-gateway/pkg/platform/sentinel"
)

// RuleStore is the persistence port for routing rules.
type RuleStore interface {
	FindAllOrderedByPriority(ctx context.Context) ([]*routing.Rule, error)
	FindByID(ctx context.Context, id domain.RuleID) (*routing.Rule, error)
	Save(ctx context.Context, rule *routing.Rule) error
}

// Service owns the admin lifecycle of routing rules. The routing engine only
// ever reads; every write path here re-validates the condition so no
// unvalidated expression reaches the store.
type Service struct {
	store  RuleStore
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store RuleStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("rule store is required")
	}
	s := &Service{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRule validates and persists a new routing rule.
func (s *Service) CreateRule(ctx context.Context, name, expr string, target domain.ChannelType, priority int, actor string) (*routing.Rule, error) {
	rule, err := routing.NewRule(name, expr, target, priority, actor, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, rule); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "rule name must be unique")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save routing rule")
	}
	s.logger.InfoContext(ctx, "routing rule created",
		"rule_id", rule.ID.String(),
		"target_channel", rule.TargetChannel.String(),
		"priority", rule.Priority,
	)
	return rule, nil
}

// UpdateCondition replaces a rule's condition after re-validation.
func (s *Service) UpdateCondition(ctx context.Context, id domain.RuleID, expr, actor string) (*routing.Rule, error) {
	rule, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rule.SetCondition(expr); err != nil {
		return nil, err
	}
	rule.ModifiedBy = actor
	modifiedAt := s.now()
	rule.ModifiedAt = &modifiedAt
	if err := s.store.Save(ctx, rule); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save routing rule")
	}
	return rule, nil
}

// SetEnabled toggles a rule without deleting its history.
func (s *Service) SetEnabled(ctx context.Context, id domain.RuleID, enabled bool, actor string) (*routing.Rule, error) {
	rule, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.Enabled = enabled
	rule.ModifiedBy = actor
	modifiedAt := s.now()
	rule.ModifiedAt = &modifiedAt
	if err := s.store.Save(ctx, rule); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save routing rule")
	}
	return rule, nil
}

// DeleteRule soft-deletes a rule; it stays queryable for audit.
func (s *Service) DeleteRule(ctx context.Context, id domain.RuleID, actor string) error {
	rule, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := rule.SoftDelete(actor, s.now()); err != nil {
		return err
	}
	if err := s.store.Save(ctx, rule); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save routing rule")
	}
	return nil
}

// ListRules returns the active rule set in evaluation order.
func (s *Service) ListRules(ctx context.Context) ([]*routing.Rule, error) {
	rules, err := s.store.FindAllOrderedByPriority(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load routing rules")
	}
	return rules, nil
}

func (s *Service) load(ctx context.Context, id domain.RuleID) (*routing.Rule, error) {
	rule, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "routing rule not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load routing rule")
	}
	return rule, nil
}
