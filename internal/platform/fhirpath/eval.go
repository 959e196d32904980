package fhirpath

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/ehr/fhirindex/internal/platform/fhir"
)

// item is one element of a collection. Elements read from the resource keep
// their raw JSON together with the element path they were found at, so the
// caller can recover the declared type. typ is set when the type is known
// up front: literals, choice elements and casts.
type item struct {
	raw  interface{}
	path string
	typ  string
}

type evalContext struct {
	root item
}

func (ctx *evalContext) eval(node *astNode, input []item) ([]item, error) {
	if node == nil {
		return input, nil
	}
	switch node.kind {
	case ndLiteral:
		return []item{node.value.(item)}, nil

	case ndThis:
		return input, nil

	case ndVariable:
		return ctx.evalVariable(node.value.(string))

	case ndPath:
		return ctx.evalPath(node.value.(string), input), nil

	case ndDot:
		left, err := ctx.eval(node.children[0], input)
		if err != nil {
			return nil, err
		}
		return ctx.eval(node.children[1], left)

	case ndIndex:
		coll, err := ctx.eval(node.children[0], input)
		if err != nil {
			return nil, err
		}
		idx := node.value.(int64)
		if idx < 0 || idx >= int64(len(coll)) {
			return nil, nil
		}
		return []item{coll[idx]}, nil

	case ndFunction:
		return ctx.evalFunction(node, input)

	case ndCompare:
		return ctx.evalCompare(node, input)

	case ndAnd, ndOr, ndXor, ndImplies:
		return ctx.evalLogical(node, input)

	case ndUnion:
		return ctx.evalUnion(node, input)

	case ndTypeOp:
		coll, err := ctx.eval(node.children[0], input)
		if err != nil {
			return nil, err
		}
		typeName := node.value.(string)
		if node.op == "is" {
			if len(coll) == 0 {
				return nil, nil
			}
			return []item{boolItem(matchesType(coll[0], typeName))}, nil
		}
		return castTo(coll, typeName), nil

	default:
		return nil, fmt.Errorf("unknown node kind %d", node.kind)
	}
}

func (ctx *evalContext) evalVariable(name string) ([]item, error) {
	switch name {
	case "resource", "rootResource", "context":
		return []item{ctx.root}, nil
	case "ucum":
		return []item{{raw: "http://unitsofmeasure.org", typ: "string"}}, nil
	case "sct":
		return []item{{raw: "http://snomed.info/sct", typ: "string"}}, nil
	case "loinc":
		return []item{{raw: "http://loinc.org", typ: "string"}}, nil
	}
	return nil, fmt.Errorf("unknown variable %%%s", name)
}

// evalPath resolves an identifier against the input collection. A type name
// at the head of a path selects the resources of that type.
func (ctx *evalContext) evalPath(name string, input []item) []item {
	if isTypeName(name) {
		var result []item
		sawResource := false
		for _, it := range input {
			rt := resourceTypeOf(it.raw)
			if rt == "" {
				continue
			}
			sawResource = true
			if isResourceMatch(rt, name) {
				result = append(result, item{raw: it.raw, path: rt})
			}
		}
		if !sawResource && isResourceMatch(resourceTypeOf(ctx.root.raw), name) {
			return []item{ctx.root}
		}
		return result
	}

	var result []item
	for _, it := range input {
		result = append(result, navigateField(it, name)...)
	}
	return result
}

// navigateField extracts a named child element. Choice elements are found
// through their typed JSON name: "value" matches "valueQuantity".
func navigateField(it item, field string) []item {
	m, ok := it.raw.(map[string]interface{})
	if !ok {
		return nil
	}
	path := field
	if it.path != "" {
		path = it.path + "." + field
	}
	if val, ok := m[field]; ok {
		return expand(val, path, "")
	}
	for key, val := range m {
		if suffix, ok := fhir.IsChoiceKey(key, field); ok {
			return expand(val, path, fhir.ChoiceType(suffix))
		}
	}
	return nil
}

func expand(val interface{}, path, typ string) []item {
	switch v := val.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]item, 0, len(v))
		for _, elem := range v {
			if elem == nil {
				continue
			}
			out = append(out, element(elem, path, typ))
		}
		return out
	default:
		return []item{element(v, path, typ)}
	}
}

func element(raw interface{}, path, typ string) item {
	if rt := resourceTypeOf(raw); rt != "" {
		return item{raw: raw, path: rt}
	}
	return item{raw: raw, path: path, typ: typ}
}

func (ctx *evalContext) evalCompare(node *astNode, input []item) ([]item, error) {
	leftColl, err := ctx.eval(node.children[0], input)
	if err != nil {
		return nil, err
	}
	rightColl, err := ctx.eval(node.children[1], input)
	if err != nil {
		return nil, err
	}

	// Comparison with an empty operand is empty.
	if len(leftColl) == 0 || len(rightColl) == 0 {
		return nil, nil
	}

	result, err := compareValues(leftColl[0], rightColl[0], node.op)
	if err != nil {
		return nil, err
	}
	return []item{boolItem(result)}, nil
}

func compareValues(l, r item, op string) (bool, error) {
	if ln, ok := numberOf(l.raw); ok {
		if rn, ok := numberOf(r.raw); ok {
			return compareOrdered(ln.Cmp(rn), op)
		}
	}

	lb, lbOk := l.raw.(bool)
	rb, rbOk := r.raw.(bool)
	if lbOk && rbOk {
		switch op {
		case "=":
			return lb == rb, nil
		case "!=":
			return lb != rb, nil
		}
		return false, nil
	}

	if isTemporal(l) || isTemporal(r) {
		lt, lok := temporalOf(l.raw)
		rt, rok := temporalOf(r.raw)
		if lok && rok {
			return compareOrdered(lt.Time.Compare(rt.Time), op)
		}
	}

	return compareOrdered(strings.Compare(stringOf(l.raw), stringOf(r.raw)), op)
}

func compareOrdered(c int, op string) (bool, error) {
	switch op {
	case "=":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case ">":
		return c > 0, nil
	case "<=":
		return c <= 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison operator %q", op)
}

func (ctx *evalContext) evalLogical(node *astNode, input []item) ([]item, error) {
	leftColl, err := ctx.eval(node.children[0], input)
	if err != nil {
		return nil, err
	}
	lb := collectionToBool(leftColl)
	switch node.kind {
	case ndAnd:
		if !lb {
			return []item{boolItem(false)}, nil
		}
	case ndOr:
		if lb {
			return []item{boolItem(true)}, nil
		}
	case ndImplies:
		if !lb {
			return []item{boolItem(true)}, nil
		}
	}
	rightColl, err := ctx.eval(node.children[1], input)
	if err != nil {
		return nil, err
	}
	rb := collectionToBool(rightColl)
	if node.kind == ndXor {
		return []item{boolItem(lb != rb)}, nil
	}
	return []item{boolItem(rb)}, nil
}

func (ctx *evalContext) evalUnion(node *astNode, input []item) ([]item, error) {
	leftColl, err := ctx.eval(node.children[0], input)
	if err != nil {
		return nil, err
	}
	rightColl, err := ctx.eval(node.children[1], input)
	if err != nil {
		return nil, err
	}
	return distinct(append(leftColl, rightColl...)), nil
}

func distinct(coll []item) []item {
	seen := make(map[string]bool, len(coll))
	var result []item
	for _, it := range coll {
		key := it.path + "\x00" + stringOf(it.raw)
		if !seen[key] {
			seen[key] = true
			result = append(result, it)
		}
	}
	return result
}

// collectionToBool converts a collection to a boolean following the
// singleton evaluation rules: empty is false, a single boolean is itself,
// anything else non-empty is true.
func collectionToBool(coll []item) bool {
	if len(coll) == 0 {
		return false
	}
	if len(coll) == 1 {
		switch v := coll[0].raw.(type) {
		case bool:
			return v
		case nil:
			return false
		}
	}
	return true
}

func boolItem(b bool) item {
	return item{raw: b, typ: "boolean"}
}

// isTypeName reports whether the identifier names a type rather than an
// element. FHIR element names never start with an upper-case letter.
func isTypeName(name string) bool {
	if name == "" {
		return false
	}
	return unicode.IsUpper(rune(name[0]))
}

func isResourceMatch(resourceType, name string) bool {
	if resourceType == "" {
		return false
	}
	return resourceType == name || name == "Resource" || name == "DomainResource"
}

func resourceTypeOf(raw interface{}) string {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return ""
	}
	rt, _ := m["resourceType"].(string)
	return rt
}

func numberOf(raw interface{}) (decimal.Decimal, bool) {
	switch n := raw.(type) {
	case decimal.Decimal:
		return n, true
	case int64:
		return decimal.NewFromInt(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case float64:
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func isTemporal(it item) bool {
	if _, ok := it.raw.(fhir.Temporal); ok {
		return true
	}
	switch it.typ {
	case "date", "dateTime", "instant":
		return true
	}
	return false
}

func temporalOf(raw interface{}) (fhir.Temporal, bool) {
	switch v := raw.(type) {
	case fhir.Temporal:
		return v, true
	case string:
		t, err := fhir.ParseDateTime(v)
		return t, err == nil
	}
	return fhir.Temporal{}, false
}

func stringOf(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case decimal.Decimal:
		return v.String()
	case json.Number:
		return v.String()
	case fhir.Temporal:
		return v.String()
	}
	return fmt.Sprintf("%v", raw)
}
