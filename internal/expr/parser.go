package expr

import (
	"fmt"
)

var knownFunctions = map[string]int{
	"contains":     -1, // variadic guard below handles arity per-call
	"starts_with":  2,
	"ends_with":    2,
	"matches":      2,
	"is_null":      1,
	"is_number":    1,
	"is_string":    1,
	"is_bool":      1,
	"is_array":     1,
	"is_object":    1,
	"length":       1,
	"sum":          1,
	"count":        1,
	"min":          1,
	"max":          1,
	"avg":          1,
}

const maxNestingDepth = 100

// CompileFilter parses src into a CompiledFilter, rejecting expressions
// nested deeper than 100 levels and references to unknown identifiers that
// are neither recognized variables, field paths, nor functions.
func CompileFilter(src string) (*CompiledFilter, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("parsing filter %q: %w", src, err)
	}
	p := &parser{toks: toks}
	node, err := p.parseOr(0)
	if err != nil {
		return nil, fmt.Errorf("parsing filter %q: %w", src, err)
	}
	if p.cur().kind != tokEOF {
		return nil, fmt.Errorf("parsing filter %q: unexpected trailing input", src)
	}
	return &CompiledFilter{root: node, src: src}, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parseOr(depth int) (Node, error) {
	if depth > maxNestingDepth {
		return nil, fmt.Errorf("expression nested deeper than %d levels", maxNestingDepth)
	}
	left, err := p.parseAnd(depth)
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOr {
		p.advance()
		right, err := p.parseAnd(depth)
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd(depth int) (Node, error) {
	if depth > maxNestingDepth {
		return nil, fmt.Errorf("expression nested deeper than %d levels", maxNestingDepth)
	}
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokAnd {
		p.advance()
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary(depth int) (Node, error) {
	if depth > maxNestingDepth {
		return nil, fmt.Errorf("expression nested deeper than %d levels", maxNestingDepth)
	}
	if p.cur().kind == tokNot {
		p.advance()
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return UnaryOp{Op: "!", Operand: operand}, nil
	}
	return p.parseComparison(depth)
}

func (p *parser) parseComparison(depth int) (Node, error) {
	left, err := p.parsePrimary(depth)
	if err != nil {
		return nil, err
	}
	switch p.cur().kind {
	case tokEq, tokNeq, tokLt, tokLe, tokGt, tokGe:
		op := map[tokenKind]string{
			tokEq: "==", tokNeq: "!=", tokLt: "<", tokLe: "<=", tokGt: ">", tokGe: ">=",
		}[p.cur().kind]
		p.advance()
		right, err := p.parsePrimary(depth)
		if err != nil {
			return nil, err
		}
		return BinaryOp{Op: op, Left: left, Right: right}, nil
	case tokIn:
		p.advance()
		right, err := p.parseListLiteral(depth + 1)
		if err != nil {
			return nil, err
		}
		return BinaryOp{Op: "in", Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseListLiteral(depth int) (Node, error) {
	if p.cur().kind != tokLBracket {
		return nil, fmt.Errorf("expected '[' after 'in'")
	}
	p.advance()
	var elems []Node
	for p.cur().kind != tokRBracket {
		el, err := p.parsePrimary(depth + 1)
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if p.cur().kind != tokRBracket {
		return nil, fmt.Errorf("expected ']' to close list literal")
	}
	p.advance()
	return ListLiteral{Elements: elems}, nil
}

func (p *parser) parsePrimary(depth int) (Node, error) {
	if depth > maxNestingDepth {
		return nil, fmt.Errorf("expression nested deeper than %d levels", maxNestingDepth)
	}
	tok := p.cur()
	switch tok.kind {
	case tokLParen:
		p.advance()
		node, err := p.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, fmt.Errorf("expected ')'")
		}
		p.advance()
		return node, nil
	case tokLBracket:
		return p.parseListLiteral(depth + 1)
	case tokNumber:
		p.advance()
		return Literal{Value: tok.num}, nil
	case tokString:
		p.advance()
		return Literal{Value: tok.text}, nil
	case tokIdent:
		return p.parseIdentOrCall(depth)
	}
	return nil, fmt.Errorf("unexpected token in expression")
}

func (p *parser) parseIdentOrCall(depth int) (Node, error) {
	name := p.advance().text

	switch name {
	case "true":
		return Literal{Value: true}, nil
	case "false":
		return Literal{Value: false}, nil
	case "null":
		return Literal{Value: nil}, nil
	}

	if p.cur().kind == tokLParen {
		p.advance()
		var args []Node
		for p.cur().kind != tokRParen {
			arg, err := p.parseOr(depth + 1)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if p.cur().kind != tokRParen {
			return nil, fmt.Errorf("expected ')' to close call to %s", name)
		}
		p.advance()
		if _, ok := knownFunctions[name]; !ok {
			return nil, fmt.Errorf("unknown function %q", name)
		}
		return Call{Name: name, Args: args}, nil
	}

	if name == "_index" || name == "_key" || name == "_value" {
		return Variable{Name: name}, nil
	}
	if name[0] == '_' {
		return nil, fmt.Errorf("unknown variable %q", name)
	}

	path := []string{name}
	for p.cur().kind == tokDot {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, fmt.Errorf("expected field name after '.' in path")
		}
		path = append(path, p.advance().text)
	}
	return FieldAccess{Path: path}, nil
}
