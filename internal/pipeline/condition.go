package pipeline

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// The RunIf language is deliberately tiny: variable references, string
// literals, hasVar(), ==, !=, !, && and ||. It never performs I/O and never
// touches host state; a step condition that fails to parse or evaluate is
// treated as false so a typo can only skip a step, never crash a pipeline.

// Node is a tagged expression AST node. Unknown kinds are rejected at
// evaluation, not guessed at.
type Node interface {
	eval(ctx domain.Context) (value, error)
}

type value struct {
	str     string
	boolean bool
	isBool  bool
}

func (v value) truthy() bool {
	if v.isBool {
		return v.boolean
	}
	return v.str != "" && v.str != "false" && v.str != "0"
}

// LitNode is a quoted string literal.
type LitNode struct{ Text string }

// VarNode resolves to the variable's value when present, else the literal
// reference text (matching command substitution semantics).
type VarNode struct{ Name string }

// HasVarNode is the hasVar("name") predicate: present, non-empty.
type HasVarNode struct{ Name string }

// EqNode / NeNode compare the string forms of both operands.
type EqNode struct{ Left, Right Node }
type NeNode struct{ Left, Right Node }

// NotNode, AndNode, OrNode are the boolean combinators.
type NotNode struct{ Inner Node }
type AndNode struct{ Left, Right Node }
type OrNode struct{ Left, Right Node }

func (n LitNode) eval(ctx domain.Context) (value, error) {
	return value{str: n.Text}, nil
}

func (n VarNode) eval(ctx domain.Context) (value, error) {
	if v, ok := ctx[n.Name]; ok {
		return value{str: v}, nil
	}
	return value{str: n.Name}, nil
}

func (n HasVarNode) eval(ctx domain.Context) (value, error) {
	return value{boolean: ctx.Has(n.Name), isBool: true}, nil
}

func (n EqNode) eval(ctx domain.Context) (value, error) {
	l, err := n.Left.eval(ctx)
	if err != nil {
		return value{}, err
	}
	r, err := n.Right.eval(ctx)
	if err != nil {
		return value{}, err
	}
	return value{boolean: l.str == r.str && l.isBool == r.isBool && l.boolean == r.boolean, isBool: true}, nil
}

func (n NeNode) eval(ctx domain.Context) (value, error) {
	eq, err := EqNode{n.Left, n.Right}.eval(ctx)
	if err != nil {
		return value{}, err
	}
	return value{boolean: !eq.boolean, isBool: true}, nil
}

func (n NotNode) eval(ctx domain.Context) (value, error) {
	inner, err := n.Inner.eval(ctx)
	if err != nil {
		return value{}, err
	}
	return value{boolean: !inner.truthy(), isBool: true}, nil
}

func (n AndNode) eval(ctx domain.Context) (value, error) {
	l, err := n.Left.eval(ctx)
	if err != nil {
		return value{}, err
	}
	if !l.truthy() {
		return value{boolean: false, isBool: true}, nil
	}
	r, err := n.Right.eval(ctx)
	if err != nil {
		return value{}, err
	}
	return value{boolean: r.truthy(), isBool: true}, nil
}

func (n OrNode) eval(ctx domain.Context) (value, error) {
	l, err := n.Left.eval(ctx)
	if err != nil {
		return value{}, err
	}
	if l.truthy() {
		return value{boolean: true, isBool: true}, nil
	}
	r, err := n.Right.eval(ctx)
	if err != nil {
		return value{}, err
	}
	return value{boolean: r.truthy(), isBool: true}, nil
}

// EvaluateCondition parses and evaluates a RunIf expression. An empty
// expression runs the step unconditionally. Any parse or evaluation error
// degrades to false; the returned error is for the caller to log as a
// warning.
func EvaluateCondition(expr string, ctx domain.Context) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	node, err := parseCondition(expr)
	if err != nil {
		return false, err
	}
	v, err := node.eval(ctx)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}

// ---- parser ----

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokEq
	tokNe
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

type parser struct {
	toks []token
	pos  int
}

func parseCondition(expr string) (Node, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("pipeline: unexpected trailing token %q in condition", p.peek().text)
	}
	return node, nil
}

func lex(expr string) ([]token, error) {
	var toks []token
	runes := []rune(expr)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("pipeline: unterminated string in condition")
			}
			toks = append(toks, token{tokString, string(runes[i+1 : j])})
			i = j + 1
		case r == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokEq, "=="})
				i += 2
			} else {
				return nil, fmt.Errorf("pipeline: single '=' in condition (use '==')")
			}
		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokNe, "!="})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!"})
				i++
			}
		case r == '&':
			if i+1 < len(runes) && runes[i+1] == '&' {
				toks = append(toks, token{tokAnd, "&&"})
				i += 2
			} else {
				return nil, fmt.Errorf("pipeline: single '&' in condition")
			}
		case r == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				toks = append(toks, token{tokOr, "||"})
				i += 2
			} else {
				return nil, fmt.Errorf("pipeline: single '|' in condition")
			}
		case unicode.IsLetter(r) || r == '_' || unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.' || runes[j] == '-') {
				j++
			}
			toks = append(toks, token{tokIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("pipeline: unexpected character %q in condition", string(r))
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = OrNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = AndNode{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NotNode{inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokEq:
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return EqNode{left, right}, nil
	case tokNe:
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return NeNode{left, right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("pipeline: missing ')' in condition")
		}
		return node, nil
	case tokString:
		return LitNode{t.text}, nil
	case tokIdent:
		if t.text == "hasVar" {
			return p.parseHasVar()
		}
		if t.text == "true" {
			return LitNode{"true"}, nil
		}
		if t.text == "false" {
			return LitNode{""}, nil
		}
		return VarNode{t.text}, nil
	}
	return nil, fmt.Errorf("pipeline: unexpected token %q in condition", t.text)
}

func (p *parser) parseHasVar() (Node, error) {
	if p.next().kind != tokLParen {
		return nil, fmt.Errorf("pipeline: hasVar requires parentheses")
	}
	arg := p.next()
	if arg.kind != tokString && arg.kind != tokIdent {
		return nil, fmt.Errorf("pipeline: hasVar argument must be a name")
	}
	if p.next().kind != tokRParen {
		return nil, fmt.Errorf("pipeline: missing ')' after hasVar argument")
	}
	return HasVarNode{arg.text}, nil
}
