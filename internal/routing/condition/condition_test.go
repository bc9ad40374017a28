package condition

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "sign-gateway/pkg/domainerrors"
)

func evalCtx(amount string) Context {
	return Context{
		Amount:      decimal.RequireFromString(amount),
		Currency:    "EUR",
		MerchantID:  "merchant-1",
		OrderID:     "order-1",
		Description: "coffee beans",
	}
}

func TestCompileAndEval(t *testing.T) {
	tests := []struct {
		name string
		expr string
		ctx  Context
		want bool
	}{
		{"amount comparison true", "amount > 1000.00", evalCtx("1500.00"), true},
		{"amount comparison false", "amount > 1000.00", evalCtx("100.00"), false},
		{"exact decimal boundary not matched", "amount > 1000.00", evalCtx("1000.00"), false},
		{"boundary matched inclusive", "amount >= 1000.00", evalCtx("1000.00"), true},
		{"trailing zeros equal", "amount == 100.0", evalCtx("100.00"), true},
		{"currency equality", "currency == 'EUR'", evalCtx("1"), true},
		{"currency inequality", "currency != 'USD'", evalCtx("1"), true},
		{"and combination", "amount > 50 and currency == 'EUR'", evalCtx("100"), true},
		{"and short circuit", "amount > 500 and currency == 'EUR'", evalCtx("100"), false},
		{"or combination", "amount > 500 or merchantId == 'merchant-1'", evalCtx("100"), true},
		{"symbolic connectives", "amount > 50 && (currency == 'USD' || orderId == 'order-1')", evalCtx("100"), true},
		{"not", "not (currency == 'USD')", evalCtx("1"), true},
		{"bang not", "!(amount < 10)", evalCtx("100"), true},
		{"arithmetic", "amount * 2 >= 200", evalCtx("100"), true},
		{"arithmetic precedence", "amount + 10 * 2 == 120", evalCtx("100"), true},
		{"unary minus", "amount > -5", evalCtx("1"), true},
		{"division", "amount / 4 == 25", evalCtx("100"), true},
		{"boolean literal", "true", evalCtx("1"), true},
		{"description match", "description == 'coffee beans'", evalCtx("1"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Eval(tt.ctx))
		})
	}
}

func TestCompileRejections(t *testing.T) {
	exprs := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"unknown identifier", "customerName == 'x'"},
		{"reflection-looking access", "amount.getClass() > 0"},
		{"call syntax", "exec('rm')"},
		{"member access", "context.amount > 0"},
		{"non-boolean root", "amount + 1"},
		{"string ordering", "currency > 'EUR'"},
		{"mixed comparison", "amount == 'EUR'"},
		{"arith on strings", "currency + 'X' == 'EURX'"},
		{"not on number", "not amount"},
		{"and on numbers", "amount and true"},
		{"unterminated string", "currency == 'EU"},
		{"dangling operator", "amount >"},
		{"unbalanced parens", "(amount > 1"},
		{"trailing garbage", "amount > 1 ;"},
		{"single equals", "amount = 1"},
		{"double dot number", "amount > 1.2.3"},
	}

	for _, tt := range exprs {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expr)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRoutingCondition),
				"want InvalidRoutingCondition, got %v", err)
		})
	}
}

func TestDivisionByZeroIsSafe(t *testing.T) {
	p, err := Compile("amount / 0 == 0")
	require.NoError(t, err)
	assert.NotPanics(t, func() { p.Eval(evalCtx("100")) })
	assert.True(t, p.Eval(evalCtx("100")), "zero divisor yields zero")

	p, err = Compile("amount / 0 > 0")
	require.NoError(t, err)
	assert.False(t, p.Eval(evalCtx("100")))
}

func TestExactDecimalSemantics(t *testing.T) {
	// 0.1 + 0.2 == 0.3 must hold; float semantics would break it.
	p, err := Compile("amount + 0.2 == 0.3")
	require.NoError(t, err)
	assert.True(t, p.Eval(evalCtx("0.1")))
}
