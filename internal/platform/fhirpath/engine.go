// Package fhirpath evaluates the subset of FHIRPath used by search parameter
// expressions against resources held as decoded JSON.
package fhirpath

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/ehr/fhirindex/internal/platform/fhir"
)

// DefaultCacheSize is the number of compiled expressions an Engine keeps.
const DefaultCacheSize = 512

// Expression is a compiled FHIRPath expression. It is immutable and safe to
// share between goroutines.
type Expression struct {
	source string
	root   *astNode
}

// Compile parses expression.
func Compile(expression string) (*Expression, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("fhirpath: empty expression")
	}

	tokens, err := tokenize(expression)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: tokenize: %w", err)
	}

	p := &parser{tokens: tokens}
	ast, err := p.parseExpression(0)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: parse: %w", err)
	}
	if tok := p.peek(); tok.kind != tkEOF {
		return nil, fmt.Errorf("fhirpath: unexpected token %q at position %d", tok.value, tok.pos)
	}
	return &Expression{source: expression, root: ast}, nil
}

func (x *Expression) String() string { return x.source }

// Evaluate runs the expression against resource and returns the typed
// elements it selects. An empty result is not an error.
func (x *Expression) Evaluate(resource map[string]interface{}) ([]fhir.Value, error) {
	coll, err := x.eval(resource)
	if err != nil {
		return nil, err
	}
	out := make([]fhir.Value, 0, len(coll))
	for _, it := range coll {
		out = append(out, toValue(it))
	}
	return out, nil
}

func (x *Expression) eval(resource map[string]interface{}) ([]item, error) {
	if resource == nil {
		return nil, nil
	}
	root := item{raw: resource, path: resourceTypeOf(resource)}
	ctx := &evalContext{root: root}
	result, err := ctx.eval(x.root, []item{root})
	if err != nil {
		return nil, fmt.Errorf("fhirpath: eval %q: %w", x.source, err)
	}
	return result, nil
}

// Engine evaluates expressions, caching their compiled form.
type Engine struct {
	cache *lru.Cache[string, *Expression]
}

// NewEngine creates an engine that caches up to size compiled expressions.
func NewEngine(size int) (*Engine, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Expression](size)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: create cache: %w", err)
	}
	return &Engine{cache: cache}, nil
}

// Compile returns the compiled form of expression, reusing a cached one.
func (e *Engine) Compile(expression string) (*Expression, error) {
	if x, ok := e.cache.Get(expression); ok {
		return x, nil
	}
	x, err := Compile(expression)
	if err != nil {
		return nil, err
	}
	e.cache.Add(expression, x)
	return x, nil
}

// Evaluate compiles (or reuses) path and evaluates it against resource.
func (e *Engine) Evaluate(resource map[string]interface{}, path string) ([]fhir.Value, error) {
	x, err := e.Compile(path)
	if err != nil {
		return nil, err
	}
	return x.Evaluate(resource)
}

// EvaluateBool evaluates expression and reduces the result to a boolean
// using the singleton evaluation rules.
func (e *Engine) EvaluateBool(resource map[string]interface{}, expression string) (bool, error) {
	x, err := e.Compile(expression)
	if err != nil {
		return false, err
	}
	coll, err := x.eval(resource)
	if err != nil {
		return false, err
	}
	return collectionToBool(coll), nil
}

// CacheLen reports how many compiled expressions are cached.
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}

func toValue(it item) fhir.Value {
	switch v := it.raw.(type) {
	case int64:
		return fhir.Integer{Value: v}
	case decimal.Decimal:
		return fhir.Decimal{Value: v}
	case fhir.Temporal:
		if it.typ == "date" {
			return fhir.Date{Value: v}
		}
		return fhir.DateTime{Value: v}
	}
	if rt := resourceTypeOf(it.raw); rt != "" {
		return fhir.Unknown{Type: rt, Raw: it.raw}
	}
	if it.typ != "" {
		return fhir.Decode(it.typ, it.raw)
	}
	return fhir.Infer(it.path, it.raw)
}
