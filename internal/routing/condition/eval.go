package condition

import (
	"github.com/shopspring/decimal"

	dErrors "sign-gateway/pkg/domainerrors"
)

// Node implementations. typeCheck runs once at compile time; eval never
// fails on a type-checked tree.

type literal struct {
	val value
}

func (l *literal) typeCheck() (valueKind, error) { return l.val.kind, nil }
func (l *literal) eval(Context) value            { return l.val }

type fieldRef struct {
	name string
}

func (f *fieldRef) typeCheck() (valueKind, error) {
	if f.name == "amount" {
		return kindNumber, nil
	}
	return kindString, nil
}

func (f *fieldRef) eval(ctx Context) value {
	switch f.name {
	case "amount":
		return value{kind: kindNumber, num: ctx.Amount}
	case "currency":
		return value{kind: kindString, str: ctx.Currency}
	case "merchantId":
		return value{kind: kindString, str: ctx.MerchantID}
	case "orderId":
		return value{kind: kindString, str: ctx.OrderID}
	default: // description; the lexer admits no other names
		return value{kind: kindString, str: ctx.Description}
	}
}

type negExpr struct {
	inner node
}

func (n *negExpr) typeCheck() (valueKind, error) {
	kind, err := n.inner.typeCheck()
	if err != nil {
		return 0, err
	}
	if kind != kindNumber {
		return 0, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
			"unary minus requires a number, got %s", kind)
	}
	return kindNumber, nil
}

func (n *negExpr) eval(ctx Context) value {
	return value{kind: kindNumber, num: n.inner.eval(ctx).num.Neg()}
}

type arithExpr struct {
	op          string
	left, right node
}

func (a *arithExpr) typeCheck() (valueKind, error) {
	for _, n := range []node{a.left, a.right} {
		kind, err := n.typeCheck()
		if err != nil {
			return 0, err
		}
		if kind != kindNumber {
			return 0, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
				"operator %q requires numbers, got %s", a.op, kind)
		}
	}
	return kindNumber, nil
}

func (a *arithExpr) eval(ctx Context) value {
	l := a.left.eval(ctx).num
	r := a.right.eval(ctx).num
	var out = l
	switch a.op {
	case "+":
		out = l.Add(r)
	case "-":
		out = l.Sub(r)
	case "*":
		out = l.Mul(r)
	case "/":
		// Division by zero yields zero rather than panicking; a condition
		// must never take down an evaluation.
		if r.IsZero() {
			out = decimal.Zero
		} else {
			out = l.Div(r)
		}
	}
	return value{kind: kindNumber, num: out}
}

type cmpExpr struct {
	op          string
	left, right node
}

func (c *cmpExpr) typeCheck() (valueKind, error) {
	lk, err := c.left.typeCheck()
	if err != nil {
		return 0, err
	}
	rk, err := c.right.typeCheck()
	if err != nil {
		return 0, err
	}
	if lk != rk {
		return 0, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
			"cannot compare %s with %s", lk, rk)
	}
	if c.op != "==" && c.op != "!=" && lk != kindNumber {
		return 0, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
			"operator %q requires numbers, got %s", c.op, lk)
	}
	return kindBool, nil
}

func (c *cmpExpr) eval(ctx Context) value {
	l := c.left.eval(ctx)
	r := c.right.eval(ctx)

	var result bool
	switch c.op {
	case "==":
		result = equal(l, r)
	case "!=":
		result = !equal(l, r)
	case ">":
		result = l.num.GreaterThan(r.num)
	case ">=":
		result = l.num.GreaterThanOrEqual(r.num)
	case "<":
		result = l.num.LessThan(r.num)
	case "<=":
		result = l.num.LessThanOrEqual(r.num)
	}
	return value{kind: kindBool, b: result}
}

func equal(l, r value) bool {
	switch l.kind {
	case kindNumber:
		return l.num.Equal(r.num)
	case kindString:
		return l.str == r.str
	default:
		return l.b == r.b
	}
}

type boolExpr struct {
	op          string
	left, right node
}

func (b *boolExpr) typeCheck() (valueKind, error) {
	for _, n := range []node{b.left, b.right} {
		kind, err := n.typeCheck()
		if err != nil {
			return 0, err
		}
		if kind != kindBool {
			return 0, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
				"operator %q requires booleans, got %s", b.op, kind)
		}
	}
	return kindBool, nil
}

func (b *boolExpr) eval(ctx Context) value {
	l := b.left.eval(ctx).b
	if b.op == "and" {
		if !l {
			return value{kind: kindBool, b: false}
		}
		return value{kind: kindBool, b: b.right.eval(ctx).b}
	}
	if l {
		return value{kind: kindBool, b: true}
	}
	return value{kind: kindBool, b: b.right.eval(ctx).b}
}

type notExpr struct {
	inner node
}

func (n *notExpr) typeCheck() (valueKind, error) {
	kind, err := n.inner.typeCheck()
	if err != nil {
		return 0, err
	}
	if kind != kindBool {
		return 0, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
			"operator \"not\" requires a boolean, got %s", kind)
	}
	return kindBool, nil
}

func (n *notExpr) eval(ctx Context) value {
	return value{kind: kindBool, b: !n.inner.eval(ctx).b}
}
