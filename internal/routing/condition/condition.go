package condition

import (
	dErrors "sign-gateway/pkg/domainerrors"
)

// Predicate is a compiled, type-checked condition. Evaluation cannot fail.
type Predicate struct {
	source string
	root   node
}

// Compile parses and type-checks a condition expression. The root must be
// boolean; every violation of the grammar or type rules returns a typed
// InvalidRoutingCondition error here, never at evaluation time.
func Compile(expr string) (*Predicate, error) {
	if expr == "" {
		return nil, dErrors.New(dErrors.CodeInvalidRoutingCondition, "condition cannot be empty")
	}
	root, err := parse(expr)
	if err != nil {
		return nil, err
	}
	kind, err := root.typeCheck()
	if err != nil {
		return nil, err
	}
	if kind != kindBool {
		return nil, dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
			"condition must evaluate to a boolean, got %s", kind)
	}
	return &Predicate{source: expr, root: root}, nil
}

// Validate checks an expression without retaining the compiled form. Admin
// rule writes call this before persisting.
func Validate(expr string) error {
	_, err := Compile(expr)
	return err
}

// Eval evaluates the predicate against a transaction context.
func (p *Predicate) Eval(ctx Context) bool {
	return p.root.eval(ctx).b
}

// Source returns the original expression text.
func (p *Predicate) Source() string {
	return p.source
}
