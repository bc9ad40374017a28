// Package domainerrors provides coded errors for domain and service layers.
// Codes are stable, external-facing identifiers so calling layers can
// translate failures deterministically without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure. The string value is part of the
// external contract and must not change once released.
type Code string

const (
	CodeNotFound                Code = "NOT_FOUND"
	CodeChallengeNotFound       Code = "CHALLENGE_NOT_FOUND"
	CodeInvalidStateTransition  Code = "INVALID_STATE_TRANSITION"
	CodeInvalidChallengeCode    Code = "INVALID_CHALLENGE_CODE"
	CodeIdempotencyKeyConflict  Code = "IDEMPOTENCY_KEY_CONFLICT"
	CodeInvalidRoutingCondition Code = "INVALID_ROUTING_CONDITION"
	CodeRateLimitExceeded       Code = "RATE_LIMIT_EXCEEDED"
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeConflict                Code = "CONFLICT"
	CodeValidation              Code = "VALIDATION"
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeInvariantViolation      Code = "INVARIANT_VIOLATION"
	CodeTimeout                 Code = "TIMEOUT"
	CodeInternal                Code = "INTERNAL"
)

// Error is a coded error. Details carries small, serializable facts about the
// failure (e.g. remaining challenge attempts) for callers that need them.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New creates a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err returns
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, err: err}
}

// WithDetail attaches a key/value fact to the error and returns it.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HasCode reports whether err or any error in its chain carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.err
	}
	return false
}

// CodeOf returns the code of the outermost coded error in the chain, or
// CodeInternal when err carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Detail returns the named detail from the outermost coded error.
func Detail(err error, key string) (any, bool) {
	var de *Error
	if !errors.As(err, &de) || de.Details == nil {
		return nil, false
	}
	v, ok := de.Details[key]
	return v, ok
}
