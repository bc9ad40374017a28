// Package condition compiles routing-rule conditions written in a small,
// safelisted boolean-expression grammar into predicate functions.
//
// The grammar permits field access on the transaction context, decimal
// arithmetic, comparisons, and boolean connectives, nothing else. There is
// no call syntax, no member access, and identifiers outside the field
// safelist fail to lex, so reflection, type introspection, and I/O are
// unrepresentable rather than filtered.
package condition

import (
	"fmt"

	"github.com/shopspring/decimal"

	dErrors "sign-gateway/pkg/domainerrors"
)

// Context is the view of a transaction a condition evaluates against.
type Context struct {
	Amount      decimal.Decimal
	Currency    string
	MerchantID  string
	OrderID     string
	Description string
}

type valueKind int

const (
	kindNumber valueKind = iota
	kindString
	kindBool
)

func (k valueKind) String() string {
	switch k {
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	default:
		return "boolean"
	}
}

type node interface {
	// typeCheck returns the static type of the node, or a typed error. All
	// type errors surface at validation time, never at evaluation time.
	typeCheck() (valueKind, error)
	eval(ctx Context) value
}

type value struct {
	kind valueKind
	num  decimal.Decimal
	str  string
	b    bool
}

type parser struct {
	tokens []token
	pos    int
}

// parse builds the AST for an expression. Grammar (precedence low to high):
//
//	expr   := or
//	or     := and (('or'|'||') and)*
//	and    := not (('and'|'&&') not)*
//	not    := ('not'|'!')* cmp
//	cmp    := sum (('=='|'!='|'>'|'>='|'<'|'<=') sum)?
//	sum    := term (('+'|'-') term)*
//	term   := unary (('*'|'/') unary)*
//	unary  := '-'? factor
//	factor := number | string | bool | field | '(' expr ')'
func parse(input string) (node, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
		"condition position %d: %s", p.peek().pos, fmt.Sprintf(format, args...))
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &boolExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokenNot {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokenOperator {
		op := p.next().text
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &cmpExpr{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenPlus || p.peek().kind == tokenMinus {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &arithExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenStar || p.peek().kind == tokenSlash {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokenMinus {
		p.next()
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &negExpr{inner: inner}, nil
	}
	return p.parseFactor()
}

func (p *parser) parseFactor() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokenNumber:
		p.next()
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
				"condition position %d: invalid number %q", t.pos, t.text)
		}
		return &literal{val: value{kind: kindNumber, num: d}}, nil

	case tokenString:
		p.next()
		return &literal{val: value{kind: kindString, str: t.text}}, nil

	case tokenBool:
		p.next()
		return &literal{val: value{kind: kindBool, b: t.text == "true"}}, nil

	case tokenField:
		p.next()
		return &fieldRef{name: t.text}, nil

	case tokenLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokenRParen {
			return nil, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
				"condition position %d: expected )", p.peek().pos)
		}
		p.next()
		return inner, nil

	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
			"condition position %d: unexpected %q", t.pos, t.text)
	}
}
