// Package expr implements the restricted arithmetic expression engine shared
// by derived-column and aggregate definitions.
//
// The grammar is deliberately tiny: binary + - * /, unary -, parentheses,
// numeric literals (including exponent notation), and bare identifiers that
// must appear in the caller-supplied allowed-name set. Expressions are parsed
// into a tagged AST (Literal, Identifier, Unary, Binary) and never executed as
// source text, so user-authored specs cannot smuggle in function calls,
// attribute access, or any other construct.
//
// Compile-time failures (*ExpressionError) mean the specification itself is
// invalid and are fatal at spec-validation time. Evaluation failures
// (*EvaluationError), such as division by a runtime zero, are recoverable and
// row-scoped; callers decide whether to surface them or substitute a missing
// value.
package expr
