package fhir

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// primitiveTypes are the FHIR primitive type names, keyed by the capitalised
// form used as a choice-element suffix (valueDateTime, onsetString, ...).
var primitiveTypes = map[string]string{
	"Base64Binary": "base64Binary",
	"Boolean":      "boolean",
	"Canonical":    "canonical",
	"Code":         "code",
	"Date":         "date",
	"DateTime":     "dateTime",
	"Decimal":      "decimal",
	"Id":           "id",
	"Instant":      "instant",
	"Integer":      "integer",
	"Integer64":    "integer64",
	"Markdown":     "markdown",
	"Oid":          "oid",
	"PositiveInt":  "positiveInt",
	"String":       "string",
	"Time":         "time",
	"UnsignedInt":  "unsignedInt",
	"Uri":          "uri",
	"Url":          "url",
	"Uuid":         "uuid",
}

// elementTypes maps element paths whose JSON shape is ambiguous to their
// declared FHIR type. Only primitives need an entry; complex elements are
// recognised by shape.
var elementTypes = map[string]string{
	"Patient.birthDate":           "date",
	"Person.birthDate":            "date",
	"Practitioner.birthDate":      "date",
	"RelatedPerson.birthDate":     "date",
	"Immunization.expirationDate": "date",
	"Appointment.start":           "instant",
	"Appointment.end":             "instant",
	"Slot.start":                  "instant",
	"Slot.end":                    "instant",
	"Observation.issued":          "instant",
	"DiagnosticReport.issued":     "instant",
	"Provenance.recorded":         "instant",
	"AuditEvent.recorded":         "instant",
	"Bundle.timestamp":            "instant",
	"Location.position":           "Location.position",
}

// complexFieldTypes names the complex type of fields whose JSON shape alone
// does not identify it, such as a name or address holding only text.
var complexFieldTypes = map[string]string{
	"name":    "HumanName",
	"address": "Address",
}

// referenceKeys are the elements a Reference may carry.
var referenceKeys = map[string]bool{
	"reference": true, "type": true, "identifier": true, "display": true, "id": true, "extension": true,
}

// fieldTypes is consulted when no qualified path matches.
var fieldTypes = map[string]string{
	"id":                    "id",
	"lastUpdated":           "instant",
	"profile":               "canonical",
	"instantiatesCanonical": "canonical",
	"instantiatesUri":       "uri",
	"implicitRules":         "uri",
	"url":                   "uri",
	"source":                "uri",
	"gender":                "code",
	"status":                "code",
	"intent":                "code",
	"priority":              "code",
	"language":              "code",
	"use":                   "code",
	"kind":                  "code",
}

// complexChoiceTypes are the complex data types that may appear as the
// suffix of a choice element.
var complexChoiceTypes = map[string]bool{
	"Address": true, "Age": true, "Annotation": true, "Attachment": true,
	"CodeableConcept": true, "Coding": true, "ContactDetail": true, "ContactPoint": true,
	"Count": true, "DataRequirement": true, "Distance": true, "Dosage": true,
	"Duration": true, "Expression": true, "HumanName": true, "Identifier": true,
	"Meta": true, "Money": true, "ParameterDefinition": true, "Period": true,
	"Quantity": true, "Range": true, "Ratio": true, "Reference": true,
	"RelatedArtifact": true, "SampledData": true, "Signature": true, "Timing": true,
	"TriggerDefinition": true, "UsageContext": true,
}

var contactPointSystems = map[string]bool{
	"phone": true, "fax": true, "email": true, "pager": true, "url": true, "sms": true, "other": true,
}

// ChoiceType converts a choice-element suffix into a FHIR type name:
// "DateTime" -> "dateTime", "Quantity" -> "Quantity".
func ChoiceType(suffix string) string {
	if t, ok := primitiveTypes[suffix]; ok {
		return t
	}
	return suffix
}

// IsChoiceKey reports whether key is the JSON name of the choice element
// base[x], returning the suffix.
func IsChoiceKey(key, base string) (string, bool) {
	if len(key) <= len(base) || !strings.HasPrefix(key, base) {
		return "", false
	}
	suffix := key[len(base):]
	if !unicode.IsUpper(rune(suffix[0])) {
		return "", false
	}
	if _, ok := primitiveTypes[suffix]; !ok && !complexChoiceTypes[suffix] {
		return "", false
	}
	return suffix, true
}

// ElementType returns the declared type of the element at path, or "" when
// the type must be inferred from the JSON shape.
func ElementType(path string) string {
	if t, ok := elementTypes[path]; ok {
		return t
	}
	field := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		field = path[i+1:]
	}
	return fieldTypes[field]
}

// Infer decodes raw JSON found at the element path into a typed Value. The
// declared type tables win; other complex values are recognised by their
// shape.
func Infer(path string, raw interface{}) Value {
	if _, isMap := raw.(map[string]interface{}); !isMap {
		if t := ElementType(path); t != "" {
			return Decode(t, raw)
		}
	} else if t := complexElementType(path); t != "" {
		return Decode(t, raw)
	}
	return Decode(shapeOf(raw), raw)
}

func complexElementType(path string) string {
	if t, ok := elementTypes[path]; ok {
		return t
	}
	return complexFieldTypes[path[strings.LastIndex(path, ".")+1:]]
}

// Decode converts raw JSON into the Value for the named FHIR type. Raw
// values that do not fit the type decode as Unknown so callers can skip them.
func Decode(typeName string, raw interface{}) Value {
	switch typeName {
	case "boolean":
		if b, ok := raw.(bool); ok {
			return Boolean{Value: b}
		}
	case "integer", "positiveInt", "unsignedInt", "integer64":
		if d, ok := toDecimal(raw); ok && d.IsInteger() {
			return Integer{Value: d.IntPart()}
		}
	case "decimal":
		if d, ok := toDecimal(raw); ok {
			return Decimal{Value: d}
		}
	case "string", "markdown", "base64Binary", "time", "xhtml":
		if s, ok := raw.(string); ok {
			return String{Value: s}
		}
	case "code":
		if s, ok := raw.(string); ok {
			return Code{Value: s}
		}
	case "id":
		if s, ok := raw.(string); ok {
			return ID{Value: s}
		}
	case "uri", "url", "oid", "uuid":
		if s, ok := raw.(string); ok {
			return URI{Value: s}
		}
	case "canonical":
		if s, ok := raw.(string); ok {
			return Canonical{Value: s}
		}
	case "date":
		if s, ok := raw.(string); ok {
			if t, err := ParseDate(s); err == nil {
				return Date{Value: t}
			}
			return String{Value: s}
		}
	case "dateTime":
		if s, ok := raw.(string); ok {
			if t, err := ParseDateTime(s); err == nil {
				return DateTime{Value: t}
			}
			return String{Value: s}
		}
	case "instant":
		if s, ok := raw.(string); ok {
			if t, err := ParseInstant(s); err == nil {
				return Instant{Value: t}
			}
			return String{Value: s}
		}
	default:
		if m, ok := raw.(map[string]interface{}); ok {
			if v := decodeComplex(typeName, m); v != nil {
				return v
			}
		}
	}
	return Unknown{Type: typeName, Raw: raw}
}

func decodeComplex(typeName string, m map[string]interface{}) Value {
	switch typeName {
	case "Coding":
		return decodeCoding(m)
	case "CodeableConcept":
		cc := CodeableConcept{Text: str(m, "text")}
		for _, c := range maps(m["coding"]) {
			cc.Coding = append(cc.Coding, decodeCoding(c))
		}
		return cc
	case "Identifier":
		return decodeIdentifier(m)
	case "Reference":
		ref := Reference{Reference: str(m, "reference"), Type: str(m, "type"), Display: str(m, "display")}
		if id, ok := m["identifier"].(map[string]interface{}); ok {
			ident := decodeIdentifier(id)
			ref.Identifier = &ident
		}
		return ref
	case "Quantity", "SimpleQuantity", "Age", "Duration", "Distance", "Count", "MoneyQuantity":
		q := Quantity{
			Comparator: str(m, "comparator"),
			Unit:       str(m, "unit"),
			System:     str(m, "system"),
			Code:       str(m, "code"),
		}
		if d, ok := toDecimal(m["value"]); ok {
			q.Value = decimal.NewNullDecimal(d)
		}
		return q
	case "Money":
		money := Money{Currency: str(m, "currency")}
		if d, ok := toDecimal(m["value"]); ok {
			money.Value = decimal.NewNullDecimal(d)
		}
		return money
	case "Period":
		var p Period
		if s := str(m, "start"); s != "" {
			if t, err := ParseDateTime(s); err == nil {
				p.Start = &t
			}
		}
		if s := str(m, "end"); s != "" {
			if t, err := ParseDateTime(s); err == nil {
				p.End = &t
			}
		}
		return p
	case "Timing":
		var t Timing
		for _, e := range strs(m["event"]) {
			if ev, err := ParseDateTime(e); err == nil {
				t.Event = append(t.Event, ev)
			}
		}
		if r, ok := m["repeat"].(map[string]interface{}); ok {
			t.Repeat = r
		}
		return t
	case "HumanName":
		return HumanName{
			Use:    str(m, "use"),
			Text:   str(m, "text"),
			Family: str(m, "family"),
			Given:  strs(m["given"]),
			Prefix: strs(m["prefix"]),
			Suffix: strs(m["suffix"]),
		}
	case "Address":
		return Address{
			Use:        str(m, "use"),
			Text:       str(m, "text"),
			Line:       strs(m["line"]),
			City:       str(m, "city"),
			District:   str(m, "district"),
			State:      str(m, "state"),
			PostalCode: str(m, "postalCode"),
			Country:    str(m, "country"),
		}
	case "Location.position":
		lat, okLat := toDecimal(m["latitude"])
		lon, okLon := toDecimal(m["longitude"])
		if !okLat || !okLon {
			return nil
		}
		pos := Position{Latitude: lat, Longitude: lon}
		if alt, ok := toDecimal(m["altitude"]); ok {
			pos.Altitude = decimal.NewNullDecimal(alt)
		}
		return pos
	}
	return nil
}

func decodeIdentifier(m map[string]interface{}) Identifier {
	return Identifier{Use: str(m, "use"), System: strPtr(m, "system"), Value: strPtr(m, "value")}
}

func decodeCoding(m map[string]interface{}) Coding {
	return Coding{
		System:  str(m, "system"),
		Version: str(m, "version"),
		Code:    str(m, "code"),
		Display: str(m, "display"),
	}
}

// shapeOf guesses the FHIR type of an element from its JSON shape.
func shapeOf(raw interface{}) string {
	switch v := raw.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64, float32, int, int64, int32:
		if d, ok := toDecimal(v); ok && d.IsInteger() && !strings.Contains(numberLiteral(v), ".") {
			return "integer"
		}
		return "decimal"
	case map[string]interface{}:
		return complexShape(v)
	}
	return ""
}

func complexShape(m map[string]interface{}) string {
	has := func(k string) bool { _, ok := m[k]; return ok }
	_, numericValue := toDecimal(m["value"])
	_, stringValue := m["value"].(string)

	switch {
	case has("latitude") && has("longitude"):
		return "Location.position"
	case has("currency"):
		return "Money"
	case has("coding"):
		return "CodeableConcept"
	case has("reference") || isReferenceShape(m):
		return "Reference"
	case numericValue || has("comparator") || (has("unit") && !stringValue):
		return "Quantity"
	case stringValue && (has("rank") || contactPointSystems[str(m, "system")]):
		return "ContactPoint"
	case stringValue || has("assigner"):
		return "Identifier"
	case has("event") || has("repeat"):
		return "Timing"
	case has("start") || has("end"):
		return "Period"
	case has("family") || has("given") || has("prefix") || has("suffix"):
		return "HumanName"
	case has("line") || has("city") || has("district") || has("state") || has("postalCode") || has("country"):
		return "Address"
	case has("code") || has("system"):
		return "Coding"
	}
	return ""
}

// isReferenceShape matches logical and display-only references: only
// Reference keys, a string type and an object identifier.
func isReferenceShape(m map[string]interface{}) bool {
	for k := range m {
		if !referenceKeys[k] {
			return false
		}
	}
	if t, ok := m["type"]; ok {
		if _, isString := t.(string); !isString {
			return false
		}
	}
	if id, ok := m["identifier"]; ok {
		if _, isMap := id.(map[string]interface{}); !isMap {
			return false
		}
	}
	_, hasType := m["type"]
	_, hasIdentifier := m["identifier"]
	_, hasDisplay := m["display"]
	return hasType || hasIdentifier || hasDisplay
}

func toDecimal(raw interface{}) (decimal.Decimal, bool) {
	switch n := raw.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case int32:
		return decimal.NewFromInt32(n), true
	}
	return decimal.Decimal{}, false
}

func numberLiteral(raw interface{}) string {
	switch n := raw.(type) {
	case json.Number:
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	}
	return ""
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func strPtr(m map[string]interface{}, key string) *string {
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func strs(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

func maps(raw interface{}) []map[string]interface{} {
	switch v := raw.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
