// Package ucum converts quantities expressed in UCUM units to their
// canonical form: a value in base units and the base-unit expression.
package ucum

import (
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// System is the UCUM code system URL.
const System = "http://unitsofmeasure.org"

var (
	// ErrUnknownUnit is returned for unit atoms missing from the unit table.
	ErrUnknownUnit = errors.New("ucum: unknown unit")
	// ErrSyntax is returned for malformed unit expressions.
	ErrSyntax = errors.New("ucum: malformed unit expression")
	// ErrSpecialUnit is returned when an offset unit such as Cel is
	// combined with other units.
	ErrSpecialUnit = errors.New("ucum: special unit cannot be combined")
)

// ConversionError reports a unit code that could not be canonicalized.
type ConversionError struct {
	Code string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("canonicalize %q: %v", e.Code, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// divisionScale is the number of decimal places kept when a conversion
// needs a division.
const divisionScale = 20

// Canonicalizer converts UCUM quantities to canonical units. It is safe for
// concurrent use.
type Canonicalizer struct {
	cache *lru.Cache[string, unit]
}

// New returns a Canonicalizer caching up to cacheSize parsed unit codes.
func New(cacheSize int) (*Canonicalizer, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, unit](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ucum: create cache: %w", err)
	}
	return &Canonicalizer{cache: cache}, nil
}

// Canonicalize returns the canonical unit code and the value expressed in
// it: ("mg", 5) becomes ("g", 0.005).
func (c *Canonicalizer) Canonicalize(code string, value decimal.Decimal) (string, decimal.Decimal, error) {
	code = strings.TrimSpace(code)
	if sp, ok := specials[code]; ok {
		v := value.Add(decimal.RequireFromString(sp.offset)).
			Mul(decimal.RequireFromString(sp.num)).
			DivRound(decimal.RequireFromString(sp.den), divisionScale)
		return "K", v, nil
	}

	u, ok := c.cache.Get(code)
	if !ok {
		parsed, err := parseUnit(code)
		if err != nil {
			return "", decimal.Decimal{}, &ConversionError{Code: code, Err: err}
		}
		u = parsed
		c.cache.Add(code, u)
	}

	v := value.Mul(u.num)
	if !u.den.Equal(decimal.NewFromInt(1)) {
		v = v.DivRound(u.den, divisionScale)
	}
	return u.code(), v, nil
}
