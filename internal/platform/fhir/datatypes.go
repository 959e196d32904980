package fhir

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Value is a typed FHIR element as produced by path evaluation. The set of
// implementations is closed: every shape the indexer understands has its own
// type, and everything else arrives as Unknown.
type Value interface {
	// FHIRType returns the FHIR type name, e.g. "boolean" or "CodeableConcept".
	FHIRType() string
	// IsEmpty reports whether the element carries no value.
	IsEmpty() bool
	// String returns the default textual form of the element.
	String() string

	fhirValue()
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

type Boolean struct{ Value bool }

type Integer struct{ Value int64 }

type Decimal struct{ Value decimal.Decimal }

type String struct{ Value string }

type Code struct{ Value string }

// ID is a resource id or a relative reference such as "Patient/123".
type ID struct{ Value string }

type URI struct{ Value string }

type Canonical struct{ Value string }

type Date struct{ Value Temporal }

type DateTime struct{ Value Temporal }

type Instant struct{ Value Temporal }

func (Boolean) FHIRType() string   { return "boolean" }
func (Integer) FHIRType() string   { return "integer" }
func (Decimal) FHIRType() string   { return "decimal" }
func (String) FHIRType() string    { return "string" }
func (Code) FHIRType() string      { return "code" }
func (ID) FHIRType() string        { return "id" }
func (URI) FHIRType() string       { return "uri" }
func (Canonical) FHIRType() string { return "canonical" }
func (Date) FHIRType() string      { return "date" }
func (DateTime) FHIRType() string  { return "dateTime" }
func (Instant) FHIRType() string   { return "instant" }

func (Boolean) IsEmpty() bool     { return false }
func (Integer) IsEmpty() bool     { return false }
func (Decimal) IsEmpty() bool     { return false }
func (v String) IsEmpty() bool    { return v.Value == "" }
func (v Code) IsEmpty() bool      { return v.Value == "" }
func (v ID) IsEmpty() bool        { return v.Value == "" }
func (v URI) IsEmpty() bool       { return v.Value == "" }
func (v Canonical) IsEmpty() bool { return v.Value == "" }
func (v Date) IsEmpty() bool      { return v.Value.IsZero() }
func (v DateTime) IsEmpty() bool  { return v.Value.IsZero() }
func (v Instant) IsEmpty() bool   { return v.Value.IsZero() }

func (v Boolean) String() string   { return strconv.FormatBool(v.Value) }
func (v Integer) String() string   { return strconv.FormatInt(v.Value, 10) }
func (v Decimal) String() string   { return v.Value.String() }
func (v String) String() string    { return v.Value }
func (v Code) String() string      { return v.Value }
func (v ID) String() string        { return v.Value }
func (v URI) String() string       { return v.Value }
func (v Canonical) String() string { return v.Value }
func (v Date) String() string      { return v.Value.String() }
func (v DateTime) String() string  { return v.Value.String() }
func (v Instant) String() string   { return v.Value.String() }

// IDPart returns the logical id portion of the value, dropping any resource
// type prefix and version suffix ("Patient/123/_history/2" -> "123").
func (v ID) IDPart() string {
	s := v.Value
	if i := strings.Index(s, "/_history/"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// ---------------------------------------------------------------------------
// Complex types
// ---------------------------------------------------------------------------

type Coding struct {
	System  string
	Version string
	Code    string
	Display string
}

type CodeableConcept struct {
	Coding []Coding
	Text   string
}

// Identifier keeps System and Value as pointers because an absent value and
// an empty one index differently.
type Identifier struct {
	Use    string
	System *string
	Value  *string
}

// Reference is a literal reference, a logical one through Identifier, or
// only a display text.
type Reference struct {
	Reference  string
	Type       string
	Identifier *Identifier
	Display    string
}

type Quantity struct {
	Value      decimal.NullDecimal
	Comparator string
	Unit       string
	System     string
	Code       string
}

type Money struct {
	Value    decimal.NullDecimal
	Currency string
}

type Period struct {
	Start *Temporal
	End   *Temporal
}

type Timing struct {
	Event []Temporal
	// Repeat is kept raw; recurring rules are never expanded.
	Repeat map[string]interface{}
}

type HumanName struct {
	Use    string
	Text   string
	Family string
	Given  []string
	Prefix []string
	Suffix []string
}

type Address struct {
	Use        string
	Text       string
	Line       []string
	City       string
	District   string
	State      string
	PostalCode string
	Country    string
}

// Position is the Location.position backbone element.
type Position struct {
	Longitude decimal.Decimal
	Latitude  decimal.Decimal
	Altitude  decimal.NullDecimal
}

// Unknown carries any element whose shape is not modelled.
type Unknown struct {
	Type string
	Raw  interface{}
}

func (Coding) FHIRType() string          { return "Coding" }
func (CodeableConcept) FHIRType() string { return "CodeableConcept" }
func (Identifier) FHIRType() string      { return "Identifier" }
func (Reference) FHIRType() string       { return "Reference" }
func (Quantity) FHIRType() string        { return "Quantity" }
func (Money) FHIRType() string           { return "Money" }
func (Period) FHIRType() string          { return "Period" }
func (Timing) FHIRType() string          { return "Timing" }
func (HumanName) FHIRType() string       { return "HumanName" }
func (Address) FHIRType() string         { return "Address" }
func (Position) FHIRType() string        { return "Location.position" }

func (v Unknown) FHIRType() string {
	if v.Type == "" {
		return "Element"
	}
	return v.Type
}

func (v Coding) IsEmpty() bool {
	return v.System == "" && v.Version == "" && v.Code == "" && v.Display == ""
}

func (v CodeableConcept) IsEmpty() bool {
	for _, c := range v.Coding {
		if !c.IsEmpty() {
			return false
		}
	}
	return v.Text == ""
}

func (v Identifier) IsEmpty() bool {
	return v.Use == "" && isBlankPtr(v.System) && isBlankPtr(v.Value)
}

func (v Reference) IsEmpty() bool {
	return v.Reference == "" && v.Type == "" && v.Display == "" &&
		(v.Identifier == nil || v.Identifier.IsEmpty())
}

func (v Quantity) IsEmpty() bool {
	return !v.Value.Valid && v.Comparator == "" && v.Unit == "" && v.System == "" && v.Code == ""
}

func (v Money) IsEmpty() bool  { return !v.Value.Valid && v.Currency == "" }
func (v Period) IsEmpty() bool { return v.Start == nil && v.End == nil }
func (v Timing) IsEmpty() bool { return len(v.Event) == 0 && len(v.Repeat) == 0 }

func (v HumanName) IsEmpty() bool {
	return v.Use == "" && v.Text == "" && v.Family == "" &&
		isBlankAll(v.Given) && isBlankAll(v.Prefix) && isBlankAll(v.Suffix)
}

func (v Address) IsEmpty() bool {
	return v.Use == "" && v.Text == "" && isBlankAll(v.Line) && v.City == "" &&
		v.District == "" && v.State == "" && v.PostalCode == "" && v.Country == ""
}

func (v Position) IsEmpty() bool { return false }

func (v Unknown) IsEmpty() bool {
	switch raw := v.Raw.(type) {
	case nil:
		return true
	case string:
		return raw == ""
	case map[string]interface{}:
		return len(raw) == 0
	case []interface{}:
		return len(raw) == 0
	}
	return false
}

func (v Coding) String() string {
	if v.System == "" {
		return v.Code
	}
	return v.System + "|" + v.Code
}

func (v CodeableConcept) String() string {
	if v.Text != "" {
		return v.Text
	}
	parts := make([]string, 0, len(v.Coding))
	for _, c := range v.Coding {
		if c.Display != "" {
			parts = append(parts, c.Display)
		} else if c.Code != "" {
			parts = append(parts, c.Code)
		}
	}
	return strings.Join(parts, ", ")
}

func (v Identifier) String() string {
	value := derefString(v.Value)
	if v.System == nil || *v.System == "" {
		return value
	}
	return *v.System + "|" + value
}

func (v Reference) String() string {
	switch {
	case v.Reference != "":
		return v.Reference
	case v.Display == "" && v.Identifier != nil:
		return v.Identifier.String()
	}
	return v.Display
}

func (v Quantity) String() string {
	var sb strings.Builder
	sb.WriteString(v.Comparator)
	if v.Value.Valid {
		sb.WriteString(v.Value.Decimal.String())
	}
	unit := v.Unit
	if unit == "" {
		unit = v.Code
	}
	if unit != "" {
		sb.WriteString(" ")
		sb.WriteString(unit)
	}
	return sb.String()
}

func (v Money) String() string {
	if !v.Value.Valid {
		return v.Currency
	}
	return strings.TrimSpace(v.Value.Decimal.String() + " " + v.Currency)
}

func (v Period) String() string {
	var start, end string
	if v.Start != nil {
		start = v.Start.String()
	}
	if v.End != nil {
		end = v.End.String()
	}
	return start + "/" + end
}

func (v Timing) String() string {
	parts := make([]string, 0, len(v.Event))
	for _, e := range v.Event {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ", ")
}

// String renders the name the way a person would read it: prefixes, given
// names, family name, suffixes and finally the free text form.
func (v HumanName) String() string {
	parts := make([]string, 0, len(v.Prefix)+len(v.Given)+len(v.Suffix)+2)
	parts = append(parts, v.Prefix...)
	parts = append(parts, v.Given...)
	parts = append(parts, v.Family)
	parts = append(parts, v.Suffix...)
	parts = append(parts, v.Text)
	return joinNonBlank(parts, " ")
}

func (v Address) String() string {
	parts := make([]string, 0, len(v.Line)+6)
	parts = append(parts, v.Line...)
	parts = append(parts, v.City, v.District, v.State, v.Country, v.PostalCode, v.Text)
	return joinNonBlank(parts, ", ")
}

func (v Position) String() string {
	return v.Latitude.String() + "," + v.Longitude.String()
}

func (v Unknown) String() string {
	switch raw := v.Raw.(type) {
	case nil:
		return ""
	case string:
		return raw
	}
	b, err := json.Marshal(v.Raw)
	if err != nil {
		return ""
	}
	return string(b)
}

func (Boolean) fhirValue()         {}
func (Integer) fhirValue()         {}
func (Decimal) fhirValue()         {}
func (String) fhirValue()          {}
func (Code) fhirValue()            {}
func (ID) fhirValue()              {}
func (URI) fhirValue()             {}
func (Canonical) fhirValue()       {}
func (Date) fhirValue()            {}
func (DateTime) fhirValue()        {}
func (Instant) fhirValue()         {}
func (Coding) fhirValue()          {}
func (CodeableConcept) fhirValue() {}
func (Identifier) fhirValue()      {}
func (Reference) fhirValue()       {}
func (Quantity) fhirValue()        {}
func (Money) fhirValue()           {}
func (Period) fhirValue()          {}
func (Timing) fhirValue()          {}
func (HumanName) fhirValue()       {}
func (Address) fhirValue()         {}
func (Position) fhirValue()        {}
func (Unknown) fhirValue()         {}

func joinNonBlank(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func isBlankAll(ss []string) bool {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

func isBlankPtr(s *string) bool {
	return s == nil || *s == ""
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
