package routing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"sign-gateway/internal/routing"
	"sign-gateway/internal/routing/condition"
	"sign-gateway/internal/routing/store"
	"sign-gateway/pkg/domain"
)

type EngineSuite struct {
	suite.Suite
	store  *store.MemoryRuleStore
	engine *routing.Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.store = store.NewMemoryRuleStore()

	var err error
	s.engine, err = routing.NewEngine(s.store, domain.ChannelSMS)
	s.Require().NoError(err)
}

func (s *EngineSuite) addRule(name, expr string, target domain.ChannelType, priority int) *routing.Rule {
	rule, err := routing.NewRule(name, expr, target, priority, "admin", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(context.Background(), rule))
	return rule
}

func txContext(amount string) condition.Context {
	return condition.Context{
		Amount:     decimal.RequireFromString(amount),
		Currency:   "EUR",
		MerchantID: "merchant-1",
		OrderID:    "order-1",
	}
}

func (s *EngineSuite) TestDecide() {
	ctx := context.Background()

	s.Run("first matching rule by ascending priority wins", func() {
		s.SetupTest()
		s.addRule("high-value-voice", "amount > 1000.00", domain.ChannelVoice, 1)
		s.addRule("everything-push", "amount > 0", domain.ChannelPush, 2)

		decision, err := s.engine.Decide(ctx, txContext("1500.00"))
		s.Require().NoError(err)
		s.Equal(domain.ChannelVoice, decision.Channel)
		s.False(decision.DefaultChannelUsed)
		s.Equal("high-value-voice", decision.RuleName)
		s.Len(decision.Trace, 1, "evaluation stops at first match")
	})

	s.Run("lower priority value is never skipped for a higher one", func() {
		s.SetupTest()
		s.addRule("later", "amount > 0", domain.ChannelPush, 10)
		s.addRule("earlier", "amount > 0", domain.ChannelVoice, 1)

		decision, err := s.engine.Decide(ctx, txContext("5.00"))
		s.Require().NoError(err)
		s.Equal(domain.ChannelVoice, decision.Channel)
	})

	s.Run("no match falls back to the default channel", func() {
		s.SetupTest()
		s.addRule("high-value-voice", "amount > 1000.00", domain.ChannelVoice, 1)

		decision, err := s.engine.Decide(ctx, txContext("100.00"))
		s.Require().NoError(err)
		s.Equal(domain.ChannelSMS, decision.Channel)
		s.True(decision.DefaultChannelUsed)
		s.Len(decision.Trace, 1, "rejected evaluations stay on the trace")
		s.False(decision.Trace[0].Matched)
	})

	s.Run("empty rule set uses the default channel", func() {
		s.SetupTest()
		decision, err := s.engine.Decide(ctx, txContext("100.00"))
		s.Require().NoError(err)
		s.Equal(domain.ChannelSMS, decision.Channel)
		s.True(decision.DefaultChannelUsed)
		s.Empty(decision.Trace)
	})

	s.Run("disabled and deleted rules are ignored", func() {
		s.SetupTest()
		disabled := s.addRule("disabled", "amount > 0", domain.ChannelVoice, 1)
		disabled.Enabled = false
		s.Require().NoError(s.store.Save(ctx, disabled))

		deleted := s.addRule("deleted", "amount > 0", domain.ChannelPush, 2)
		s.Require().NoError(deleted.SoftDelete("admin", time.Now()))
		s.Require().NoError(s.store.Save(ctx, deleted))

		decision, err := s.engine.Decide(ctx, txContext("100.00"))
		s.Require().NoError(err)
		s.True(decision.DefaultChannelUsed)
	})

	s.Run("equal priorities evaluate in stable creation order", func() {
		s.SetupTest()
		first := s.addRule("tie-first", "amount > 0", domain.ChannelVoice, 5)
		s.addRule("tie-second", "amount > 0", domain.ChannelPush, 5)

		for loopIdx := 0; loopIdx < 5; loopIdx++ {
			decision, err := s.engine.Decide(ctx, txContext("1.00"))
			s.Require().NoError(err)
			s.Equal(domain.ChannelVoice, decision.Channel, "creation order must not flap between runs")
			s.Equal(first.ID, decision.RuleID)
		}
	})

	s.Run("spec scenario: 100.00 EUR against amount > 1000.00 voice rule", func() {
		s.SetupTest()
		s.addRule("high-value", "amount > 1000.00", domain.ChannelVoice, 1)

		decision, err := s.engine.Decide(ctx, txContext("100.00"))
		s.Require().NoError(err)
		s.Equal(domain.ChannelSMS, decision.Channel)
		s.True(decision.DefaultChannelUsed)
	})
}
