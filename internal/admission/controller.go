package admission

import (
	"context"
	"log/slog"
	"time"

	"sign-gateway/internal/admission/metrics"
	dErrors "sign-gateway/pkg/domainerrors"
)

const globalKey = "global"

// Config holds both admission budgets.
type Config struct {
	GlobalLimit    int
	GlobalWindow   time.Duration
	CustomerLimit  int
	CustomerWindow time.Duration
}

// Controller checks the global budget first, then the per-customer budget.
// A rejected request costs nothing: the customer check runs only after the
// global one admits, and the global slot is the only one consumed when the
// customer check rejects.
type Controller struct {
	limiter Limiter
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func NewController(limiter Limiter, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		limiter: limiter,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit approves one request for the given customer pseudonym, or rejects
// with a typed backpressure error naming the exhausted scope.
func (c *Controller) Admit(ctx context.Context, pseudonym string) error {
	global, err := c.limiter.Allow(ctx, globalKey, c.cfg.GlobalLimit, c.cfg.GlobalWindow)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "checking global admission")
	}
	if !global.Allowed {
		c.metrics.RecordRejection("global")
		c.logger.Warn("global admission limit hit", "limit", global.Limit)
		return dErrors.New(dErrors.CodeRateLimitExceeded, "global request limit exceeded").
			WithDetail("scope", "global").
			WithDetail("reset_at", global.ResetAt)
	}

	customer, err := c.limiter.Allow(ctx, "customer:"+pseudonym, c.cfg.CustomerLimit, c.cfg.CustomerWindow)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "checking customer admission")
	}
	if !customer.Allowed {
		c.metrics.RecordRejection("customer")
		return dErrors.New(dErrors.CodeRateLimitExceeded, "customer request limit exceeded").
			WithDetail("scope", "customer").
			WithDetail("reset_at", customer.ResetAt)
	}
	return nil
}
