package routing

import (
	"context"
	"fmt"
	"log/slog"

	"sign-gateway/internal/routing/condition"
	"sign-gateway/internal/routing/metrics"
	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

// RuleSource provides enabled, non-deleted rules ordered by ascending
// priority. Equal priorities keep stable (creation) order.
type RuleSource interface {
	FindAllOrderedByPriority(ctx context.Context) ([]*Rule, error)
}

// Evaluation records one rule evaluation, matched or not. The caller turns
// these into routing-timeline entries.
type Evaluation struct {
	RuleID   domain.RuleID
	RuleName string
	Priority int
	Matched  bool
	Channel  domain.ChannelType
}

// Decision is the outcome of a routing pass: exactly one channel, with the
// default-channel flag set when no rule matched.
type Decision struct {
	Channel            domain.ChannelType
	DefaultChannelUsed bool
	RuleID             domain.RuleID
	RuleName           string
	Trace              []Evaluation
}

// Engine picks a channel for a transaction by first-match over prioritized
// rules, falling back to the configured default channel.
type Engine struct {
	rules          RuleSource
	defaultChannel domain.ChannelType
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type EngineOption func(*Engine)

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds a routing engine over the given rule source.
func NewEngine(rules RuleSource, defaultChannel domain.ChannelType, opts ...EngineOption) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	if !defaultChannel.IsValid() {
		return nil, fmt.Errorf("default channel %q is not supported", defaultChannel)
	}
	e := &Engine{
		rules:          rules,
		defaultChannel: defaultChannel,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Decide evaluates rules in priority order and returns the first matching
// channel, or the default channel when nothing matches. Every evaluated rule
// appears in the decision trace, rejections included.
func (e *Engine) Decide(ctx context.Context, txCtx condition.Context) (Decision, error) {
	rules, err := e.rules.FindAllOrderedByPriority(ctx)
	if err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "load routing rules")
	}

	decision := Decision{}
	for _, rule := range rules {
		predicate, err := rule.Predicate()
		if err != nil {
			// A stored rule that no longer compiles is a data corruption
			// fact; skip it rather than blocking all signing traffic.
			e.logger.ErrorContext(ctx, "stored routing rule failed to compile, skipping",
				"rule_id", rule.ID.String(),
				"rule_name", rule.Name,
				"error", err,
			)
			continue
		}

		matched := predicate.Eval(txCtx)
		decision.Trace = append(decision.Trace, Evaluation{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Priority: rule.Priority,
			Matched:  matched,
			Channel:  rule.TargetChannel,
		})
		if matched {
			decision.Channel = rule.TargetChannel
			decision.RuleID = rule.ID
			decision.RuleName = rule.Name
			e.metrics.RecordDecision(rule.TargetChannel.String(), false)
			return decision, nil
		}
	}

	decision.Channel = e.defaultChannel
	decision.DefaultChannelUsed = true
	e.metrics.RecordDecision(e.defaultChannel.String(), true)
	return decision, nil
}
