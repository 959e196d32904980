package fhirpath

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/fhirindex/internal/platform/fhir"
)

func (ctx *evalContext) evalFunction(node *astNode, input []item) ([]item, error) {
	name := node.value.(string)
	receiver := node.children[0]
	args := node.children[1:]

	coll, err := ctx.eval(receiver, input)
	if err != nil {
		return nil, err
	}

	switch name {
	// Collection functions
	case "where":
		return ctx.fnWhere(coll, args)
	case "exists":
		return ctx.fnExists(coll, args)
	case "all":
		return ctx.fnAll(coll, args)
	case "count":
		return []item{{raw: int64(len(coll)), typ: "integer"}}, nil
	case "first":
		if len(coll) == 0 {
			return nil, nil
		}
		return coll[:1], nil
	case "last":
		if len(coll) == 0 {
			return nil, nil
		}
		return coll[len(coll)-1:], nil
	case "tail":
		if len(coll) <= 1 {
			return nil, nil
		}
		return coll[1:], nil
	case "empty":
		return []item{boolItem(len(coll) == 0)}, nil
	case "distinct":
		return distinct(coll), nil
	case "select":
		return ctx.fnSelect(coll, args)
	case "hasValue":
		return []item{boolItem(len(coll) == 1 && isPrimitive(coll[0].raw))}, nil
	case "not":
		if len(coll) == 0 {
			return nil, nil
		}
		return []item{boolItem(!collectionToBool(coll))}, nil

	// Type functions
	case "ofType", "as":
		if len(args) == 0 {
			return nil, fmt.Errorf("%s() requires a type argument", name)
		}
		return castTo(coll, typeSpecifier(args[0])), nil
	case "is":
		if len(args) == 0 {
			return nil, fmt.Errorf("is() requires a type argument")
		}
		if len(coll) == 0 {
			return nil, nil
		}
		return []item{boolItem(matchesType(coll[0], typeSpecifier(args[0])))}, nil

	// Navigation
	case "resolve":
		return ctx.fnResolve(coll), nil
	case "extension":
		return ctx.fnExtension(coll, args, input)
	case "children":
		return fnChildren(coll), nil

	// String functions
	case "startsWith":
		return ctx.fnStringPredicate(coll, args, input, strings.HasPrefix)
	case "endsWith":
		return ctx.fnStringPredicate(coll, args, input, strings.HasSuffix)
	case "contains":
		return ctx.fnStringPredicate(coll, args, input, strings.Contains)
	case "matches":
		return ctx.fnMatches(coll, args, input)
	case "length":
		if len(coll) == 0 {
			return nil, nil
		}
		return []item{{raw: int64(len(stringOf(coll[0].raw))), typ: "integer"}}, nil
	case "upper":
		return fnStringTransform(coll, strings.ToUpper), nil
	case "lower":
		return fnStringTransform(coll, strings.ToLower), nil
	case "replace":
		return ctx.fnReplace(coll, args, input)
	case "substring":
		return ctx.fnSubstring(coll, args, input)

	// Math functions
	case "abs":
		return fnMath(coll, decimal.Decimal.Abs), nil
	case "ceiling":
		return fnMath(coll, decimal.Decimal.Ceil), nil
	case "floor":
		return fnMath(coll, decimal.Decimal.Floor), nil
	case "round":
		return fnMath(coll, func(d decimal.Decimal) decimal.Decimal { return d.Round(0) }), nil

	// Date/time functions
	case "toDate", "toDateTime":
		return fnToDateTime(coll), nil
	case "now":
		return []item{{raw: nowTemporal(time.Now().UTC(), fhir.PrecisionMillisecond), typ: "dateTime"}}, nil
	case "today":
		now := time.Now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return []item{{raw: nowTemporal(today, fhir.PrecisionDay), typ: "date"}}, nil
	case "iif":
		return ctx.fnIif(coll, args)

	default:
		return nil, fmt.Errorf("unknown function %q", name)
	}
}

func (ctx *evalContext) fnWhere(coll []item, args []*astNode) ([]item, error) {
	if len(args) == 0 {
		return coll, nil
	}
	var result []item
	for _, it := range coll {
		val, err := ctx.eval(args[0], []item{it})
		if err != nil {
			return nil, err
		}
		if collectionToBool(val) {
			result = append(result, it)
		}
	}
	return result, nil
}

func (ctx *evalContext) fnExists(coll []item, args []*astNode) ([]item, error) {
	if len(args) == 0 {
		return []item{boolItem(len(coll) > 0)}, nil
	}
	matched, err := ctx.fnWhere(coll, args)
	if err != nil {
		return nil, err
	}
	return []item{boolItem(len(matched) > 0)}, nil
}

func (ctx *evalContext) fnAll(coll []item, args []*astNode) ([]item, error) {
	if len(args) == 0 {
		return []item{boolItem(true)}, nil
	}
	for _, it := range coll {
		val, err := ctx.eval(args[0], []item{it})
		if err != nil {
			return nil, err
		}
		if !collectionToBool(val) {
			return []item{boolItem(false)}, nil
		}
	}
	return []item{boolItem(true)}, nil
}

func (ctx *evalContext) fnSelect(coll []item, args []*astNode) ([]item, error) {
	if len(args) == 0 {
		return coll, nil
	}
	var result []item
	for _, it := range coll {
		val, err := ctx.eval(args[0], []item{it})
		if err != nil {
			return nil, err
		}
		result = append(result, val...)
	}
	return result, nil
}

func (ctx *evalContext) fnIif(coll []item, args []*astNode) ([]item, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("iif() requires at least two arguments")
	}
	cond, err := ctx.eval(args[0], coll)
	if err != nil {
		return nil, err
	}
	if collectionToBool(cond) {
		return ctx.eval(args[1], coll)
	}
	if len(args) >= 3 {
		return ctx.eval(args[2], coll)
	}
	return nil, nil
}

// fnResolve turns references into the resources they point at. Contained
// resources resolve to themselves; anything else resolves to a stub that
// carries only the target type and id, which is enough for type tests.
func (ctx *evalContext) fnResolve(coll []item) []item {
	var result []item
	for _, it := range coll {
		var ref, refType string
		switch v := it.raw.(type) {
		case map[string]interface{}:
			ref, _ = v["reference"].(string)
			refType, _ = v["type"].(string)
		case string:
			ref = v
		}
		if ref == "" {
			continue
		}
		if strings.HasPrefix(ref, "#") {
			if res := ctx.contained(ref[1:]); res != nil {
				result = append(result, item{raw: res, path: resourceTypeOf(res)})
			}
			continue
		}
		target, id := splitReference(ref)
		if refType != "" {
			target = refType
		}
		if target == "" {
			continue
		}
		stub := map[string]interface{}{"resourceType": target}
		if id != "" {
			stub["id"] = id
		}
		result = append(result, item{raw: stub, path: target})
	}
	return result
}

func (ctx *evalContext) contained(id string) map[string]interface{} {
	root, ok := ctx.root.raw.(map[string]interface{})
	if !ok {
		return nil
	}
	list, _ := root["contained"].([]interface{})
	for _, c := range list {
		res, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if rid, _ := res["id"].(string); rid == id {
			return res
		}
	}
	return nil
}

// splitReference extracts the resource type and id from a relative or
// absolute literal reference.
func splitReference(ref string) (string, string) {
	if i := strings.Index(ref, "/_history/"); i >= 0 {
		ref = ref[:i]
	}
	parts := strings.Split(strings.TrimSuffix(ref, "/"), "/")
	if len(parts) < 2 {
		return "", ""
	}
	typ := parts[len(parts)-2]
	if !isTypeName(typ) {
		return "", ""
	}
	return typ, parts[len(parts)-1]
}

func (ctx *evalContext) fnExtension(coll []item, args []*astNode, input []item) ([]item, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("extension() requires a url argument")
	}
	urlColl, err := ctx.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	if len(urlColl) == 0 {
		return nil, nil
	}
	url := stringOf(urlColl[0].raw)
	var result []item
	for _, it := range coll {
		for _, ext := range navigateField(it, "extension") {
			m, ok := ext.raw.(map[string]interface{})
			if !ok {
				continue
			}
			if u, _ := m["url"].(string); u == url {
				result = append(result, ext)
			}
		}
	}
	return result, nil
}

func fnChildren(coll []item) []item {
	var result []item
	for _, it := range coll {
		m, ok := it.raw.(map[string]interface{})
		if !ok {
			continue
		}
		for key := range m {
			if key == "resourceType" || strings.HasPrefix(key, "_") {
				continue
			}
			result = append(result, navigateField(it, key)...)
		}
	}
	return result
}

func (ctx *evalContext) fnStringPredicate(coll []item, args []*astNode, input []item, fn func(string, string) bool) ([]item, error) {
	if len(coll) == 0 || len(args) == 0 {
		return nil, nil
	}
	argColl, err := ctx.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	if len(argColl) == 0 {
		return nil, nil
	}
	return []item{boolItem(fn(stringOf(coll[0].raw), stringOf(argColl[0].raw)))}, nil
}

func (ctx *evalContext) fnMatches(coll []item, args []*astNode, input []item) ([]item, error) {
	if len(coll) == 0 || len(args) == 0 {
		return nil, nil
	}
	argColl, err := ctx.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	if len(argColl) == 0 {
		return nil, nil
	}
	pattern := stringOf(argColl[0].raw)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return []item{boolItem(re.MatchString(stringOf(coll[0].raw)))}, nil
}

func fnStringTransform(coll []item, fn func(string) string) []item {
	if len(coll) == 0 {
		return nil
	}
	return []item{{raw: fn(stringOf(coll[0].raw)), typ: "string"}}
}

func (ctx *evalContext) fnReplace(coll []item, args []*astNode, input []item) ([]item, error) {
	if len(coll) == 0 || len(args) < 2 {
		return nil, nil
	}
	patternColl, err := ctx.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	replacementColl, err := ctx.eval(args[1], input)
	if err != nil {
		return nil, err
	}
	if len(patternColl) == 0 || len(replacementColl) == 0 {
		return nil, nil
	}
	s := strings.ReplaceAll(stringOf(coll[0].raw), stringOf(patternColl[0].raw), stringOf(replacementColl[0].raw))
	return []item{{raw: s, typ: "string"}}, nil
}

func (ctx *evalContext) fnSubstring(coll []item, args []*astNode, input []item) ([]item, error) {
	if len(coll) == 0 || len(args) == 0 {
		return nil, nil
	}
	startColl, err := ctx.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	if len(startColl) == 0 {
		return nil, nil
	}
	s := stringOf(coll[0].raw)
	startD, ok := numberOf(startColl[0].raw)
	if !ok {
		return nil, nil
	}
	start := int(startD.IntPart())
	if start < 0 || start >= len(s) {
		return nil, nil
	}
	end := len(s)
	if len(args) >= 2 {
		lenColl, err := ctx.eval(args[1], input)
		if err != nil {
			return nil, err
		}
		if len(lenColl) > 0 {
			if n, ok := numberOf(lenColl[0].raw); ok && start+int(n.IntPart()) < end {
				end = start + int(n.IntPart())
			}
		}
	}
	return []item{{raw: s[start:end], typ: "string"}}, nil
}

func fnMath(coll []item, fn func(decimal.Decimal) decimal.Decimal) []item {
	if len(coll) == 0 {
		return nil
	}
	d, ok := numberOf(coll[0].raw)
	if !ok {
		return nil
	}
	result := fn(d)
	if result.IsInteger() {
		return []item{{raw: result.IntPart(), typ: "integer"}}
	}
	return []item{{raw: result, typ: "decimal"}}
}

func fnToDateTime(coll []item) []item {
	if len(coll) == 0 {
		return nil
	}
	t, ok := temporalOf(coll[0].raw)
	if !ok {
		return nil
	}
	if t.IsDateOnly() {
		return []item{{raw: t, typ: "date"}}
	}
	return []item{{raw: t, typ: "dateTime"}}
}

func nowTemporal(t time.Time, p fhir.Precision) fhir.Temporal {
	return fhir.Temporal{Time: t, Precision: p}
}

// supertypes maps a FHIR type to the type it specialises.
var supertypes = map[string]string{
	"Age":            "Quantity",
	"Count":          "Quantity",
	"Distance":       "Quantity",
	"Duration":       "Quantity",
	"MoneyQuantity":  "Quantity",
	"SimpleQuantity": "Quantity",
	"code":           "string",
	"id":             "string",
	"markdown":       "string",
	"canonical":      "uri",
	"oid":            "uri",
	"url":            "uri",
	"uuid":           "uri",
	"positiveInt":    "integer",
	"unsignedInt":    "integer",
}

// typeOf returns the FHIR type of a collection element.
func typeOf(it item) string {
	if it.typ != "" {
		return it.typ
	}
	if rt := resourceTypeOf(it.raw); rt != "" {
		return rt
	}
	switch it.raw.(type) {
	case bool:
		return "boolean"
	case int64:
		return "integer"
	case decimal.Decimal:
		return "decimal"
	case fhir.Temporal:
		return "dateTime"
	}
	return fhir.Infer(it.path, it.raw).FHIRType()
}

func matchesType(it item, typeName string) bool {
	want := strings.TrimPrefix(strings.TrimPrefix(typeName, "FHIR."), "System.")
	if want == "" {
		return false
	}
	if rt := resourceTypeOf(it.raw); rt != "" {
		return isResourceMatch(rt, want)
	}
	for t := typeOf(it); t != ""; t = supertypes[t] {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// castTo keeps the elements of the given type and records the type on them.
func castTo(coll []item, typeName string) []item {
	var result []item
	for _, it := range coll {
		if !matchesType(it, typeName) {
			continue
		}
		if it.typ == "" && resourceTypeOf(it.raw) == "" {
			it.typ = typeOf(it)
		}
		result = append(result, it)
	}
	return result
}

func isPrimitive(raw interface{}) bool {
	switch raw.(type) {
	case nil, map[string]interface{}, []interface{}:
		return false
	}
	return true
}
