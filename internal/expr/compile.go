package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Compiled is an immutable, validated expression ready for evaluation.
type Compiled struct {
	text string
	root Node
	refs []string // sorted unique identifier names
}

// Text returns the original expression text.
func (c *Compiled) Text() string { return c.text }

// Refs returns the identifiers the expression references, sorted and
// deduplicated. Used for derived-column dependency analysis.
func (c *Compiled) Refs() []string {
	out := make([]string, len(c.refs))
	copy(out, c.refs)
	return out
}

// Root returns the AST root. Exposed for structural inspection in tests.
func (c *Compiled) Root() Node { return c.root }

// Compile parses text into an expression AST and verifies every identifier
// against allowed. Any construct outside the restricted grammar fails with
// *ExpressionError.
func Compile(text string, allowed map[string]struct{}) (*Compiled, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ExpressionError{Code: ErrCodeEmptyExpr, Expr: text, Pos: -1, Message: "empty expression"}
	}

	p := &parser{text: text}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.text) {
		return nil, &ExpressionError{
			Code: ErrCodeSyntax, Expr: text, Pos: p.pos,
			Message: fmt.Sprintf("unexpected %q", rune(p.text[p.pos])),
		}
	}

	refSet := make(map[string]struct{})
	collectRefs(root, refSet)
	refs := make([]string, 0, len(refSet))
	for name := range refSet {
		if _, ok := allowed[name]; !ok {
			return nil, &ExpressionError{
				Code: ErrCodeUnknownIdent, Expr: text, Pos: -1,
				Message: fmt.Sprintf("unknown identifier %q", name),
			}
		}
		refs = append(refs, name)
	}
	sort.Strings(refs)

	return &Compiled{text: text, root: root, refs: refs}, nil
}

func collectRefs(n Node, out map[string]struct{}) {
	switch v := n.(type) {
	case Identifier:
		out[v.Name] = struct{}{}
	case Unary:
		collectRefs(v.Operand, out)
	case Binary:
		collectRefs(v.Left, out)
		collectRefs(v.Right, out)
	}
}

// parser is a recursive-descent parser over the restricted grammar:
//
//	expr    = term   { ("+" | "-") term }
//	term    = factor { ("*" | "/") factor }
//	factor  = ("+" | "-") factor | primary
//	primary = number | identifier | "(" expr ")"
type parser struct {
	text string
	pos  int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.text) && (p.text[p.pos] == ' ' || p.text[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.text) {
		return 0, false
	}
	return p.text[p.pos], true
}

func (p *parser) errSyntax(msg string) error {
	return &ExpressionError{Code: ErrCodeSyntax, Expr: p.text, Pos: p.pos, Message: msg}
}

func (p *parser) parseExpr() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: c, Left: left, Right: right}
	}
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: c, Left: left, Right: right}
	}
}

func (p *parser) parseFactor() (Node, error) {
	c, ok := p.peek()
	if !ok {
		return nil, p.errSyntax("unexpected end of expression")
	}
	if c == '+' || c == '-' {
		p.pos++
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return Unary{Op: c, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	c, ok := p.peek()
	if !ok {
		return nil, p.errSyntax("unexpected end of expression")
	}

	if c == '(' {
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c, ok = p.peek()
		if !ok || c != ')' {
			return nil, p.errSyntax("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}

	if isDigit(c) || c == '.' {
		return p.parseNumber()
	}

	if isIdentStart(c) {
		return p.parseIdent()
	}

	return nil, p.errSyntax(fmt.Sprintf("unexpected %q", rune(c)))
}

func (p *parser) parseNumber() (Node, error) {
	start := p.pos
	for p.pos < len(p.text) && (isDigit(p.text[p.pos]) || p.text[p.pos] == '.') {
		p.pos++
	}
	// Exponent part: e/E with optional sign.
	if p.pos < len(p.text) && (p.text[p.pos] == 'e' || p.text[p.pos] == 'E') {
		mark := p.pos
		p.pos++
		if p.pos < len(p.text) && (p.text[p.pos] == '+' || p.text[p.pos] == '-') {
			p.pos++
		}
		if p.pos < len(p.text) && isDigit(p.text[p.pos]) {
			for p.pos < len(p.text) && isDigit(p.text[p.pos]) {
				p.pos++
			}
		} else {
			// Bare 'e' after digits is not an exponent; back off.
			p.pos = mark
		}
	}

	lexeme := p.text[start:p.pos]
	v, err := strconv.ParseFloat(lexeme, 64)
	if err != nil {
		return nil, &ExpressionError{
			Code: ErrCodeBadLiteral, Expr: p.text, Pos: start,
			Message: fmt.Sprintf("invalid numeric literal %q", lexeme),
		}
	}
	return Literal{Value: v}, nil
}

func (p *parser) parseIdent() (Node, error) {
	start := p.pos
	for p.pos < len(p.text) && isIdentPart(p.text[p.pos]) {
		p.pos++
	}
	return Identifier{Name: p.text[start:p.pos]}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
