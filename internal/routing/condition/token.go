package condition

import (
	"fmt"
	"strings"
	"unicode"

	dErrors "sign-gateway/pkg/domainerrors"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenBool
	tokenField
	tokenAnd
	tokenOr
	tokenNot
	tokenOperator // == != > >= < <=
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// fieldNames is the safelist of transaction-context fields a condition may
// reference. Anything else is rejected at validation time.
var fieldNames = map[string]bool{
	"amount":      true,
	"currency":    true,
	"merchantId":  true,
	"orderId":     true,
	"description": true,
}

var keywords = map[string]tokenKind{
	"and":   tokenAnd,
	"or":    tokenOr,
	"not":   tokenNot,
	"true":  tokenBool,
	"false": tokenBool,
}

// lex splits a condition expression into tokens. Unknown characters and
// malformed literals fail here with a typed error, keeping anything outside
// the grammar unrepresentable downstream.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := rune(input[i])
		switch {
		case unicode.IsSpace(ch):
			i++

		case ch == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case ch == '+':
			tokens = append(tokens, token{tokenPlus, "+", i})
			i++
		case ch == '-':
			tokens = append(tokens, token{tokenMinus, "-", i})
			i++
		case ch == '*':
			tokens = append(tokens, token{tokenStar, "*", i})
			i++
		case ch == '/':
			tokens = append(tokens, token{tokenSlash, "/", i})
			i++

		case ch == '&' || ch == '|':
			if i+1 >= len(input) || input[i+1] != input[i] {
				return nil, lexError(i, "expected %q", string(ch)+string(ch))
			}
			if ch == '&' {
				tokens = append(tokens, token{tokenAnd, "&&", i})
			} else {
				tokens = append(tokens, token{tokenOr, "||", i})
			}
			i += 2

		case ch == '=':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, lexError(i, "expected ==")
			}
			tokens = append(tokens, token{tokenOperator, "==", i})
			i += 2
		case ch == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokenOperator, "!=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenNot, "!", i})
				i++
			}
		case ch == '>' || ch == '<':
			op := string(ch)
			if i+1 < len(input) && input[i+1] == '=' {
				op += "="
				i += 2
			} else {
				i++
			}
			tokens = append(tokens, token{tokenOperator, op, i})

		case ch == '\'' || ch == '"':
			end := strings.IndexRune(input[i+1:], ch)
			if end < 0 {
				return nil, lexError(i, "unterminated string literal")
			}
			tokens = append(tokens, token{tokenString, input[i+1 : i+1+end], i})
			i += end + 2

		case unicode.IsDigit(ch):
			j := i
			seenDot := false
			for j < len(input) && (unicode.IsDigit(rune(input[j])) || (input[j] == '.' && !seenDot)) {
				if input[j] == '.' {
					seenDot = true
				}
				j++
			}
			tokens = append(tokens, token{tokenNumber, input[i:j], i})
			i = j

		case unicode.IsLetter(ch):
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j]))) {
				j++
			}
			word := input[i:j]
			if kind, ok := keywords[strings.ToLower(word)]; ok {
				tokens = append(tokens, token{kind, strings.ToLower(word), i})
			} else if fieldNames[word] {
				tokens = append(tokens, token{tokenField, word, i})
			} else {
				return nil, lexError(i, "unknown identifier %q", word)
			}
			i = j

		default:
			return nil, lexError(i, "unexpected character %q", string(ch))
		}
	}
	tokens = append(tokens, token{tokenEOF, "", len(input)})
	return tokens, nil
}

func lexError(pos int, format string, args ...any) error {
	return dErrors.Newf(dErrors.CodeInvalidRoutingCondition,
		"condition position %d: %s", pos, fmt.Sprintf(format, args...))
}
