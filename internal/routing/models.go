package routing

import (
	"strings"
	"time"

	"sign-gateway/internal/routing/condition"
	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

// Rule routes transactions to a channel when its condition matches. Rules are
// evaluated in ascending priority order; lower value wins. Soft-deleted rules
// are kept for audit and ignored by the engine.
type Rule struct {
	ID            domain.RuleID
	Name          string
	Condition     string
	TargetChannel domain.ChannelType
	Priority      int
	Enabled       bool
	Deleted       bool
	CreatedBy     string
	CreatedAt     time.Time
	ModifiedBy    string
	ModifiedAt    *time.Time
	DeletedBy     string

	compiled *condition.Predicate
}

// NewRule validates and builds a routing rule. The condition is compiled
// through the restricted evaluator here, so no unvalidated expression can
// reach a store.
func NewRule(name, expr string, target domain.ChannelType, priority int, createdBy string, now time.Time) (*Rule, error) {
	if strings.TrimSpace(name) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rule name is required")
	}
	if !target.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "rule target channel is not supported")
	}
	compiled, err := condition.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Rule{
		ID:            domain.NewRuleID(),
		Name:          name,
		Condition:     expr,
		TargetChannel: target,
		Priority:      priority,
		Enabled:       true,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		compiled:      compiled,
	}, nil
}

// Predicate returns the compiled condition, compiling on first use for rules
// hydrated from a store.
func (r *Rule) Predicate() (*condition.Predicate, error) {
	if r.compiled == nil {
		compiled, err := condition.Compile(r.Condition)
		if err != nil {
			return nil, err
		}
		r.compiled = compiled
	}
	return r.compiled, nil
}

// SetCondition replaces the condition after re-validating it.
func (r *Rule) SetCondition(expr string) error {
	compiled, err := condition.Compile(expr)
	if err != nil {
		return err
	}
	r.Condition = expr
	r.compiled = compiled
	return nil
}

// SoftDelete marks the rule deleted without destroying the audit trail.
func (r *Rule) SoftDelete(deletedBy string, now time.Time) error {
	if r.Deleted {
		return dErrors.New(dErrors.CodeInvalidStateTransition, "rule is already deleted")
	}
	r.Deleted = true
	r.DeletedBy = deletedBy
	modifiedAt := now
	r.ModifiedAt = &modifiedAt
	return nil
}
