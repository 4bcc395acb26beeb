package expr

import "fmt"

// Evaluate computes the expression over bindings. It is total for any binding
// set that supplies all referenced names, except for division by a runtime
// zero, which returns an *EvaluationError.
func (c *Compiled) Evaluate(bindings map[string]float64) (float64, error) {
	return c.eval(c.root, bindings)
}

func (c *Compiled) eval(n Node, bindings map[string]float64) (float64, error) {
	switch v := n.(type) {
	case Literal:
		return v.Value, nil

	case Identifier:
		val, ok := bindings[v.Name]
		if !ok {
			return 0, &EvaluationError{
				Code: ErrCodeUnboundName, Expr: c.text, Name: v.Name,
				Message: "no binding supplied",
			}
		}
		return val, nil

	case Unary:
		operand, err := c.eval(v.Operand, bindings)
		if err != nil {
			return 0, err
		}
		if v.Op == '-' {
			return -operand, nil
		}
		return operand, nil

	case Binary:
		left, err := c.eval(v.Left, bindings)
		if err != nil {
			return 0, err
		}
		right, err := c.eval(v.Right, bindings)
		if err != nil {
			return 0, err
		}
		switch v.Op {
		case '+':
			return left + right, nil
		case '-':
			return left - right, nil
		case '*':
			return left * right, nil
		case '/':
			if right == 0 {
				return 0, &EvaluationError{
					Code: ErrCodeDivisionByZero, Expr: c.text,
					Message: "division by zero",
				}
			}
			return left / right, nil
		}
	}
	// Unreachable for ASTs produced by Compile.
	return 0, &EvaluationError{Code: ErrCodeUnboundName, Expr: c.text, Message: fmt.Sprintf("unsupported node %T", n)}
}
