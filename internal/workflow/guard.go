package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Guard is a compiled transition guard: a closed boolean expression over
// instance context fields. The form is deliberately small — comparisons,
// exists(), and/or, parentheses — so definitions stay data, not code:
//
//	days <= 25 and status == 'employee'
//	exists(manager_id) or role == 'hr'
//
// Guards are serializable, auditable, and evaluated without side effects.
type Guard struct {
	source string
	root   guardNode
}

// ParseGuard compiles a guard expression. An empty expression compiles to a
// guard that always passes.
func ParseGuard(expr string) (*Guard, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Guard{source: expr, root: boolNode(true)}, nil
	}
	toks, err := tokenizeGuard(expr)
	if err != nil {
		return nil, fmt.Errorf("guard %q: %w", expr, err)
	}
	p := &guardParser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("guard %q: %w", expr, err)
	}
	if !p.eof() {
		return nil, fmt.Errorf("guard %q: unexpected token %q", expr, p.peek().text)
	}
	return &Guard{source: expr, root: root}, nil
}

// Eval evaluates the guard against the given context. Missing fields and
// type mismatches make the enclosing comparison false rather than erroring;
// a guard can only pass or fail.
func (g *Guard) Eval(ctx map[string]any) bool {
	return g.root.eval(ctx)
}

// Source returns the original expression text.
func (g *Guard) Source() string { return g.source }

type guardNode interface {
	eval(ctx map[string]any) bool
}

type boolNode bool

func (n boolNode) eval(map[string]any) bool { return bool(n) }

type andNode struct{ left, right guardNode }

func (n andNode) eval(ctx map[string]any) bool { return n.left.eval(ctx) && n.right.eval(ctx) }

type orNode struct{ left, right guardNode }

func (n orNode) eval(ctx map[string]any) bool { return n.left.eval(ctx) || n.right.eval(ctx) }

type existsNode struct{ field string }

func (n existsNode) eval(ctx map[string]any) bool {
	v, ok := ctx[n.field]
	return ok && v != nil
}

// operand is either a context field reference or a literal.
type operand struct {
	field   string
	literal any
	isField bool
}

func (o operand) resolve(ctx map[string]any) (any, bool) {
	if o.isField {
		v, ok := ctx[o.field]
		return v, ok
	}
	return o.literal, true
}

type cmpNode struct {
	left  operand
	op    string
	right operand
}

func (n cmpNode) eval(ctx map[string]any) bool {
	lv, lok := n.left.resolve(ctx)
	rv, rok := n.right.resolve(ctx)
	if !lok || !rok {
		return false
	}

	switch n.op {
	case "==":
		return valuesEqual(lv, rv)
	case "!=":
		return !valuesEqual(lv, rv)
	}

	// Ordering operators require numeric operands.
	lf, lok2 := toFloat(lv)
	rf, rok2 := toFloat(rv)
	if !lok2 || !rok2 {
		return false
	}
	switch n.op {
	case ">":
		return lf > rf
	case ">=":
		return lf >= rf
	case "<":
		return lf < rf
	case "<=":
		return lf <= rf
	}
	return false
}

func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Tokenizer.

type guardTokenKind int

const (
	tokIdent guardTokenKind = iota
	tokString
	tokNumber
	tokOp     // == != > >= < <=
	tokAnd    // and &&
	tokOr     // or ||
	tokExists // exists
	tokLParen
	tokRParen
	tokBool
)

type guardToken struct {
	kind guardTokenKind
	text string
}

func tokenizeGuard(s string) ([]guardToken, error) {
	var toks []guardToken
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, guardToken{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, guardToken{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(s) && s[j] != quote {
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, guardToken{tokString, s[i+1 : j]})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(s) && s[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("invalid operator %q", op)
			}
			toks = append(toks, guardToken{tokOp, op})
		case c == '&' || c == '|':
			if i+1 >= len(s) || s[i+1] != c {
				return nil, fmt.Errorf("invalid operator %q", string(c))
			}
			if c == '&' {
				toks = append(toks, guardToken{tokAnd, "&&"})
			} else {
				toks = append(toks, guardToken{tokOr, "||"})
			}
			i += 2
		case c >= '0' && c <= '9' || c == '-':
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			toks = append(toks, guardToken{tokNumber, s[i:j]})
			i = j
		case isIdentChar(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			word := s[i:j]
			switch word {
			case "and":
				toks = append(toks, guardToken{tokAnd, word})
			case "or":
				toks = append(toks, guardToken{tokOr, word})
			case "exists":
				toks = append(toks, guardToken{tokExists, word})
			case "true", "false":
				toks = append(toks, guardToken{tokBool, word})
			default:
				toks = append(toks, guardToken{tokIdent, word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return toks, nil
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '.'
}

// Parser. Precedence: or < and < comparison.

type guardParser struct {
	toks []guardToken
	pos  int
}

func (p *guardParser) eof() bool        { return p.pos >= len(p.toks) }
func (p *guardParser) peek() guardToken { return p.toks[p.pos] }
func (p *guardParser) next() guardToken {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *guardParser) parseOr() (guardNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for !p.eof() && p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *guardParser) parseAnd() (guardNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for !p.eof() && p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *guardParser) parseTerm() (guardNode, error) {
	if p.eof() {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch p.peek().kind {
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.eof() || p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.next()
		return inner, nil

	case tokExists:
		p.next()
		if p.eof() || p.peek().kind != tokLParen {
			return nil, fmt.Errorf("exists requires a parenthesized field")
		}
		p.next()
		if p.eof() || p.peek().kind != tokIdent {
			return nil, fmt.Errorf("exists requires a field name")
		}
		field := p.next().text
		if p.eof() || p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis after exists field")
		}
		p.next()
		return existsNode{field: field}, nil

	case tokBool:
		t := p.next()
		return boolNode(t.text == "true"), nil
	}

	return p.parseComparison()
}

func (p *guardParser) parseComparison() (guardNode, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.eof() || p.peek().kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator")
	}
	op := p.next().text
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return cmpNode{left: left, op: op, right: right}, nil
}

func (p *guardParser) parseOperand() (operand, error) {
	if p.eof() {
		return operand{}, fmt.Errorf("unexpected end of expression")
	}
	t := p.next()
	switch t.kind {
	case tokIdent:
		return operand{field: t.text, isField: true}, nil
	case tokString:
		return operand{literal: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q", t.text)
		}
		return operand{literal: f}, nil
	case tokBool:
		return operand{literal: t.text == "true"}, nil
	default:
		return operand{}, fmt.Errorf("unexpected token %q", t.text)
	}
}
