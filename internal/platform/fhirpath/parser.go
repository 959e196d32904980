package fhirpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ehr/fhirindex/internal/platform/fhir"
)

type nodeKind int

const (
	ndLiteral  nodeKind = iota // string, number, bool, datetime
	ndPath                     // identifier (field name or type name)
	ndDot                      // a.b
	ndIndex                    // a[n]
	ndFunction                 // a.fn(args...)
	ndCompare                  // a op b  (=, !=, <, >, <=, >=)
	ndAnd                      // a and b
	ndOr                       // a or b
	ndXor                      // a xor b
	ndImplies                  // a implies b
	ndUnion                    // a | b
	ndTypeOp                   // a is T, a as T
	ndThis                     // $this or the implicit function receiver
	ndVariable                 // %resource, %context, ...
)

type astNode struct {
	kind     nodeKind
	value    interface{} // literal item, identifier name, operator or type name
	op       string
	children []*astNode
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return token{kind: tkEOF, pos: -1}
}

func (p *parser) advance() token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.advance()
	if t.kind != kind {
		return t, fmt.Errorf("expected token kind %d but got %q at position %d", kind, t.value, t.pos)
	}
	return t, nil
}

// Operator precedence (lowest to highest):
//   implies         (1)
//   or xor          (2)
//   and             (3)
//   = !=            (4)
//   < > <= >=       (5)
//   |               (6)
//   is as           (7)
//   . [] ()         postfix

func (p *parser) parseExpression(minPrec int) (*astNode, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		prec, kind, op := infixInfo(tok)
		if prec < 0 || prec < minPrec {
			break
		}
		p.advance()
		if kind == ndTypeOp {
			typeName, err := p.parseTypeSpecifier()
			if err != nil {
				return nil, err
			}
			left = &astNode{kind: ndTypeOp, op: op, value: typeName, children: []*astNode{left}}
			continue
		}
		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &astNode{kind: kind, op: op, children: []*astNode{left, right}}
	}
	return left, nil
}

func infixInfo(tok token) (int, nodeKind, string) {
	switch tok.kind {
	case tkIdent:
		switch tok.value {
		case "implies":
			return 1, ndImplies, "implies"
		case "or":
			return 2, ndOr, "or"
		case "xor":
			return 2, ndXor, "xor"
		case "and":
			return 3, ndAnd, "and"
		case "is":
			return 7, ndTypeOp, "is"
		case "as":
			return 7, ndTypeOp, "as"
		}
	case tkEq:
		return 4, ndCompare, "="
	case tkNe:
		return 4, ndCompare, "!="
	case tkLt:
		return 5, ndCompare, "<"
	case tkGt:
		return 5, ndCompare, ">"
	case tkLe:
		return 5, ndCompare, "<="
	case tkGe:
		return 5, ndCompare, ">="
	case tkPipe:
		return 6, ndUnion, "|"
	}
	return -1, 0, ""
}

// parseTypeSpecifier reads a possibly qualified type name such as
// Quantity or FHIR.Quantity.
func (p *parser) parseTypeSpecifier() (string, error) {
	tok, err := p.expect(tkIdent)
	if err != nil {
		return "", fmt.Errorf("expected type name at position %d", tok.pos)
	}
	name := tok.value
	for p.peek().kind == tkDot && p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].kind == tkIdent {
		p.advance()
		name += "." + p.advance().value
	}
	return name, nil
}

func (p *parser) parsePostfix() (*astNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.kind == tkDot {
			p.advance()
			next := p.peek()
			if next.kind != tkIdent {
				return nil, fmt.Errorf("expected identifier after '.' at position %d", next.pos)
			}
			ident := p.advance()

			if p.peek().kind == tkLParen {
				p.advance()
				args, err := p.parseArgList()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(tkRParen); err != nil {
					return nil, err
				}
				node = &astNode{
					kind:     ndFunction,
					value:    ident.value,
					children: append([]*astNode{node}, args...),
				}
			} else {
				right := &astNode{kind: ndPath, value: ident.value}
				node = &astNode{kind: ndDot, children: []*astNode{node, right}}
			}
		} else if tok.kind == tkLBrack {
			p.advance()
			idxTok, err := p.expect(tkNumber)
			if err != nil {
				return nil, fmt.Errorf("expected number in index at position %d", tok.pos)
			}
			if _, err := p.expect(tkRBrack); err != nil {
				return nil, err
			}
			idx, err := strconv.ParseInt(idxTok.value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q at position %d", idxTok.value, idxTok.pos)
			}
			node = &astNode{kind: ndIndex, value: idx, children: []*astNode{node}}
		} else {
			break
		}
	}
	return node, nil
}

func (p *parser) parsePrimary() (*astNode, error) {
	tok := p.peek()

	switch tok.kind {
	case tkLParen:
		p.advance()
		inner, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case tkString:
		p.advance()
		return literal(tok.value, "string"), nil

	case tkNumber:
		p.advance()
		if strings.Contains(tok.value, ".") {
			d, err := decimal.NewFromString(tok.value)
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q at position %d", tok.value, tok.pos)
			}
			return literal(d, "decimal"), nil
		}
		i, err := strconv.ParseInt(tok.value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q at position %d", tok.value, tok.pos)
		}
		return literal(i, "integer"), nil

	case tkDateTime:
		p.advance()
		t, err := fhir.ParseDateTime(tok.value)
		if err != nil {
			return nil, fmt.Errorf("invalid datetime %q at position %d: %w", tok.value, tok.pos, err)
		}
		if t.IsDateOnly() {
			return literal(t, "date"), nil
		}
		return literal(t, "dateTime"), nil

	case tkVariable:
		p.advance()
		return &astNode{kind: ndVariable, value: tok.value}, nil

	case tkIdent:
		p.advance()
		name := tok.value

		switch name {
		case "true":
			return literal(true, "boolean"), nil
		case "false":
			return literal(false, "boolean"), nil
		case "$this":
			return &astNode{kind: ndThis}, nil
		}

		// A bare function call applies to the current input.
		if p.peek().kind == tkLParen {
			p.advance()
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tkRParen); err != nil {
				return nil, err
			}
			return &astNode{
				kind:     ndFunction,
				value:    name,
				children: append([]*astNode{{kind: ndThis}}, args...),
			}, nil
		}

		return &astNode{kind: ndPath, value: name}, nil

	case tkEOF:
		return nil, fmt.Errorf("unexpected end of expression")

	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", tok.value, tok.pos)
	}
}

func (p *parser) parseArgList() ([]*astNode, error) {
	var args []*astNode
	if p.peek().kind == tkRParen {
		return args, nil
	}
	for {
		arg, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind != tkComma {
			break
		}
		p.advance()
	}
	return args, nil
}

func literal(raw interface{}, typ string) *astNode {
	return &astNode{kind: ndLiteral, value: item{raw: raw, typ: typ}}
}

// typeSpecifier extracts a type name from a function argument such as the
// Quantity in ofType(Quantity).
func typeSpecifier(node *astNode) string {
	switch node.kind {
	case ndPath:
		return node.value.(string)
	case ndDot:
		return typeSpecifier(node.children[0]) + "." + typeSpecifier(node.children[1])
	case ndLiteral:
		if it, ok := node.value.(item); ok {
			if s, ok := it.raw.(string); ok {
				return s
			}
		}
	}
	return ""
}
