package expr

import (
	"errors"
	"fmt"
)

// Expression error codes (E200-E219).
const (
	ErrCodeSyntax       = "E200" // malformed expression text
	ErrCodeUnknownIdent = "E201" // identifier not in allowed names
	ErrCodeBadLiteral   = "E202" // unparsable numeric literal
	ErrCodeEmptyExpr    = "E203" // empty expression
)

// Evaluation error codes (E220-E229).
const (
	ErrCodeDivisionByZero = "E220" // runtime division by zero
	ErrCodeUnboundName    = "E221" // binding missing at evaluation time
)

// ExpressionError reports a compile-time failure: the expression text is
// outside the allowed grammar or references an unknown name. These are
// spec-time fatal.
type ExpressionError struct {
	Code    string
	Expr    string
	Pos     int // byte offset into Expr, -1 when not applicable
	Message string
}

// Error implements the error interface.
func (e *ExpressionError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("[%s] expression %q at offset %d: %s", e.Code, e.Expr, e.Pos, e.Message)
	}
	return fmt.Sprintf("[%s] expression %q: %s", e.Code, e.Expr, e.Message)
}

// EvaluationError reports a runtime failure while evaluating a compiled
// expression against a concrete binding set. Row-scoped, recoverable.
type EvaluationError struct {
	Code    string
	Expr    string
	Name    string // offending identifier, if any
	Message string
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("[%s] expression %q: %s: %s", e.Code, e.Expr, e.Name, e.Message)
	}
	return fmt.Sprintf("[%s] expression %q: %s", e.Code, e.Expr, e.Message)
}

// IsDivisionByZero reports whether err is a division-by-zero evaluation
// error, unwrapping as needed.
func IsDivisionByZero(err error) bool {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeDivisionByZero
	}
	return false
}
