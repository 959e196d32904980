package ucum

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// unit is a parsed unit expression: (num / den) times a product of base
// unit powers. Keeping the factor as a fraction defers division to the
// final conversion.
type unit struct {
	num  decimal.Decimal
	den  decimal.Decimal
	dims map[string]int
}

func dimensionless() unit {
	return unit{num: decimal.NewFromInt(1), den: decimal.NewFromInt(1), dims: map[string]int{}}
}

func (u unit) mul(o unit) unit {
	out := unit{num: u.num.Mul(o.num), den: u.den.Mul(o.den), dims: make(map[string]int, len(u.dims)+len(o.dims))}
	for k, v := range u.dims {
		out.dims[k] += v
	}
	for k, v := range o.dims {
		out.dims[k] += v
	}
	return out.trim()
}

func (u unit) inverse() unit {
	out := unit{num: u.den, den: u.num, dims: make(map[string]int, len(u.dims))}
	for k, v := range u.dims {
		out.dims[k] = -v
	}
	return out
}

func (u unit) pow(n int) unit {
	if n < 0 {
		return u.pow(-n).inverse()
	}
	out := dimensionless()
	for i := 0; i < n; i++ {
		out = out.mul(u)
	}
	return out
}

func (u unit) trim() unit {
	for k, v := range u.dims {
		if v == 0 {
			delete(u.dims, k)
		}
	}
	return u
}

// code renders the base-unit product as a UCUM expression, symbols in
// lexical order: "g.m-1.s-2". A dimensionless unit renders as "1".
func (u unit) code() string {
	if len(u.dims) == 0 {
		return "1"
	}
	symbols := make([]string, 0, len(u.dims))
	for k := range u.dims {
		symbols = append(symbols, k)
	}
	sort.Strings(symbols)
	parts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if e := u.dims[s]; e == 1 {
			parts = append(parts, s)
		} else {
			parts = append(parts, s+strconv.Itoa(e))
		}
	}
	return strings.Join(parts, ".")
}

type parser struct {
	src string
	pos int
}

func parseUnit(code string) (unit, error) {
	p := &parser{src: code}
	u, err := p.term()
	if err != nil {
		return unit{}, err
	}
	if p.pos != len(p.src) {
		return unit{}, fmt.Errorf("%w: unexpected %q at position %d", ErrSyntax, p.src[p.pos:], p.pos)
	}
	return u, nil
}

func (p *parser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

// term = ["/"] component {("." | "/") component}
func (p *parser) term() (unit, error) {
	u := dimensionless()
	op := byte('.')
	if p.peek() == '/' {
		op = '/'
		p.pos++
	}
	for {
		c, err := p.component()
		if err != nil {
			return unit{}, err
		}
		if op == '/' {
			c = c.inverse()
		}
		u = u.mul(c)

		switch p.peek() {
		case '.', '/':
			op = p.peek()
			p.pos++
		default:
			return u, nil
		}
	}
}

func (p *parser) component() (unit, error) {
	var u unit
	switch ch := p.peek(); {
	case ch == '(':
		p.pos++
		inner, err := p.term()
		if err != nil {
			return unit{}, err
		}
		if p.peek() != ')' {
			return unit{}, fmt.Errorf("%w: missing ')' at position %d", ErrSyntax, p.pos)
		}
		p.pos++
		u = inner
	case ch == '{':
		u = dimensionless()
	case ch >= '0' && ch <= '9':
		f, err := p.factor()
		if err != nil {
			return unit{}, err
		}
		u = f
	case ch == 0:
		return unit{}, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	default:
		sym := p.symbol()
		if sym == "" {
			return unit{}, fmt.Errorf("%w: unexpected %q at position %d", ErrSyntax, string(ch), p.pos)
		}
		atom, err := lookupAtom(sym)
		if err != nil {
			return unit{}, err
		}
		u = atom
	}

	if exp, ok, err := p.exponent(); err != nil {
		return unit{}, err
	} else if ok {
		u = u.pow(exp)
	}
	if err := p.annotation(); err != nil {
		return unit{}, err
	}
	return u, nil
}

// factor reads an integer factor, including the 10*n and 10^n forms.
func (p *parser) factor() (unit, error) {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	n, err := decimal.NewFromString(p.src[start:p.pos])
	if err != nil {
		return unit{}, fmt.Errorf("%w: invalid number %q", ErrSyntax, p.src[start:p.pos])
	}
	u := dimensionless()
	if ch := p.peek(); ch == '*' || ch == '^' {
		p.pos++
		exp, ok, err := p.exponent()
		if err != nil {
			return unit{}, err
		}
		if !ok {
			return unit{}, fmt.Errorf("%w: missing exponent at position %d", ErrSyntax, p.pos)
		}
		if exp >= 0 {
			u.num = n.Pow(decimal.NewFromInt(int64(exp)))
		} else {
			u.den = n.Pow(decimal.NewFromInt(int64(-exp)))
		}
		return u, nil
	}
	u.num = n
	return u, nil
}

func (p *parser) exponent() (int, bool, error) {
	start := p.pos
	if ch := p.peek(); ch == '+' || ch == '-' {
		p.pos++
	}
	digits := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == digits {
		if digits != start {
			return 0, false, fmt.Errorf("%w: sign without exponent at position %d", ErrSyntax, start)
		}
		return 0, false, nil
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		return 0, false, fmt.Errorf("%w: invalid exponent %q", ErrSyntax, p.src[start:p.pos])
	}
	return n, true, nil
}

func (p *parser) annotation() error {
	if p.peek() != '{' {
		return nil
	}
	end := strings.IndexByte(p.src[p.pos:], '}')
	if end < 0 {
		return fmt.Errorf("%w: unterminated annotation at position %d", ErrSyntax, p.pos)
	}
	p.pos += end + 1
	return nil
}

// symbol reads a unit atom with an optional prefix, e.g. "mg", "[in_i]",
// "mm[Hg]" or "%".
func (p *parser) symbol() string {
	start := p.pos
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		switch {
		case ch == '[':
			end := strings.IndexByte(p.src[p.pos:], ']')
			if end < 0 {
				return p.src[start:p.pos]
			}
			p.pos += end + 1
		case ch == '%' || ch == '\'' || ch == '_' ||
			(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z'):
			p.pos++
		default:
			return p.src[start:p.pos]
		}
	}
	return p.src[start:p.pos]
}

func lookupAtom(sym string) (unit, error) {
	if u, ok, err := exactAtom(sym); ok || err != nil {
		return u, err
	}
	for _, pre := range prefixes {
		rest, found := strings.CutPrefix(sym, pre.symbol)
		if !found || rest == "" {
			continue
		}
		if !isMetric(rest) {
			continue
		}
		u, _, err := exactAtom(rest)
		if err != nil {
			return unit{}, err
		}
		u.num = u.num.Mul(decimal.RequireFromString(pre.factor))
		return u, nil
	}
	if _, ok := specials[sym]; ok {
		return unit{}, fmt.Errorf("%w: %s", ErrSpecialUnit, sym)
	}
	return unit{}, fmt.Errorf("%w: %s", ErrUnknownUnit, sym)
}

func exactAtom(sym string) (unit, bool, error) {
	if baseUnits[sym] {
		u := dimensionless()
		u.dims[sym] = 1
		return u, true, nil
	}
	def, ok := definitions[sym]
	if !ok {
		return unit{}, false, nil
	}
	u := dimensionless()
	if def.base != "1" {
		b, err := parseUnit(def.base)
		if err != nil {
			return unit{}, true, err
		}
		u = b
	}
	u.num = u.num.Mul(decimal.RequireFromString(def.factor))
	return u, true, nil
}

func isMetric(sym string) bool {
	if baseUnits[sym] {
		return true
	}
	return definitions[sym].metric
}
