package expr

// Node is a sealed interface over the expression AST variants.
// Only Literal, Identifier, Unary, and Binary implement it.
type Node interface {
	node() // sealed
}

// Literal is a numeric constant.
type Literal struct {
	Value float64
}

func (Literal) node() {}

// Identifier is a bare name resolved against the evaluation bindings.
type Identifier struct {
	Name string
}

func (Identifier) node() {}

// Unary is a prefix operator application ('-' or '+').
type Unary struct {
	Op      byte
	Operand Node
}

func (Unary) node() {}

// Binary is an infix operator application ('+', '-', '*', '/').
type Binary struct {
	Op    byte
	Left  Node
	Right Node
}

func (Binary) node() {}
