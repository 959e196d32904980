package fhirpath

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ehr/fhirindex/internal/platform/fhir"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(16)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func mustEval(t *testing.T, engine *Engine, resource map[string]interface{}, expr string) []fhir.Value {
	t.Helper()
	result, err := engine.Evaluate(resource, expr)
	if err != nil {
		t.Fatalf("Evaluate(%q) unexpected error: %v", expr, err)
	}
	return result
}

func mustEvalBool(t *testing.T, engine *Engine, resource map[string]interface{}, expr string) bool {
	t.Helper()
	result, err := engine.EvaluateBool(resource, expr)
	if err != nil {
		t.Fatalf("EvaluateBool(%q) unexpected error: %v", expr, err)
	}
	return result
}

func stringsOf(values []fhir.Value) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.String())
	}
	return out
}

func parseJSON(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Sample resources
// ---------------------------------------------------------------------------

func samplePatient() map[string]interface{} {
	return map[string]interface{}{
		"resourceType":    "Patient",
		"id":              "pt-123",
		"active":          true,
		"birthDate":       "1990-03-15",
		"gender":          "male",
		"deceasedBoolean": false,
		"name": []interface{}{
			map[string]interface{}{
				"use":    "official",
				"family": "Smith",
				"given":  []interface{}{"John", "Michael"},
			},
			map[string]interface{}{
				"use":    "nickname",
				"family": "Smith",
				"given":  []interface{}{"Johnny"},
			},
		},
		"identifier": []interface{}{
			map[string]interface{}{"system": "urn:mrn", "value": "12345"},
		},
		"managingOrganization": map[string]interface{}{"reference": "Organization/org-1"},
		"generalPractitioner": []interface{}{
			map[string]interface{}{"reference": "#pr1"},
		},
		"contained": []interface{}{
			map[string]interface{}{"resourceType": "Practitioner", "id": "pr1"},
		},
		"extension": []interface{}{
			map[string]interface{}{
				"url":         "http://example.org/fhir/StructureDefinition/birthPlace",
				"valueString": "Springfield",
			},
		},
	}
}

func sampleObservation(t *testing.T) map[string]interface{} {
	return parseJSON(t, `{
		"resourceType": "Observation",
		"id": "obs-1",
		"status": "final",
		"code": {"coding": [{"system": "http://loinc.org", "code": "29463-7", "display": "Body weight"}]},
		"subject": {"reference": "Patient/pt-123"},
		"effectiveDateTime": "2024-06-15T10:30:00Z",
		"valueQuantity": {"value": 72.50, "unit": "kg", "system": "http://unitsofmeasure.org", "code": "kg"},
		"component": [
			{"code": {"coding": [{"system": "http://loinc.org", "code": "8480-6"}]},
			 "valueQuantity": {"value": 120, "unit": "mmHg"}},
			{"code": {"coding": [{"system": "http://loinc.org", "code": "8462-4"}]},
			 "valueString": "n/a"}
		]
	}`)
}

// ---------------------------------------------------------------------------
// Navigation
// ---------------------------------------------------------------------------

func TestEvaluate_SimplePath(t *testing.T) {
	e := newEngine(t)
	got := stringsOf(mustEval(t, e, samplePatient(), "Patient.name.given"))
	want := []string{"John", "Michael", "Johnny"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEvaluate_WrongResourceTypeIsEmpty(t *testing.T) {
	e := newEngine(t)
	if got := mustEval(t, e, samplePatient(), "Observation.status"); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}

func TestEvaluate_ResourceMatchesAnyType(t *testing.T) {
	e := newEngine(t)
	got := mustEval(t, e, samplePatient(), "Resource.id")
	if len(got) != 1 || got[0].FHIRType() != "id" {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestEvaluate_TypedPrimitives(t *testing.T) {
	e := newEngine(t)
	got := mustEval(t, e, samplePatient(), "Patient.birthDate")
	if len(got) != 1 {
		t.Fatalf("expected one value, got %d", len(got))
	}
	d, ok := got[0].(fhir.Date)
	if !ok {
		t.Fatalf("expected fhir.Date, got %T", got[0])
	}
	if d.Value.Precision != fhir.PrecisionDay {
		t.Errorf("expected day precision, got %s", d.Value.Precision)
	}

	got = mustEval(t, e, samplePatient(), "Patient.gender")
	if _, ok := got[0].(fhir.Code); !ok {
		t.Errorf("expected fhir.Code, got %T", got[0])
	}
}

func TestEvaluate_ComplexShapes(t *testing.T) {
	e := newEngine(t)
	got := mustEval(t, e, samplePatient(), "Patient.name")
	if len(got) != 2 {
		t.Fatalf("expected 2 names, got %d", len(got))
	}
	if _, ok := got[0].(fhir.HumanName); !ok {
		t.Errorf("expected fhir.HumanName, got %T", got[0])
	}

	got = mustEval(t, e, samplePatient(), "Patient.identifier")
	id, ok := got[0].(fhir.Identifier)
	if !ok {
		t.Fatalf("expected fhir.Identifier, got %T", got[0])
	}
	if id.String() != "urn:mrn|12345" {
		t.Errorf("unexpected identifier %s", id.String())
	}
}

func TestEvaluate_ChoiceElement(t *testing.T) {
	e := newEngine(t)
	obs := sampleObservation(t)

	got := mustEval(t, e, obs, "Observation.value")
	if len(got) != 1 {
		t.Fatalf("expected one value, got %d", len(got))
	}
	q, ok := got[0].(fhir.Quantity)
	if !ok {
		t.Fatalf("expected fhir.Quantity, got %T", got[0])
	}
	if !q.Value.Decimal.Equal(decimal.RequireFromString("72.5")) {
		t.Errorf("unexpected value %s", q.Value.Decimal)
	}

	got = mustEval(t, e, obs, "Observation.effective")
	if _, ok := got[0].(fhir.DateTime); !ok {
		t.Errorf("expected fhir.DateTime, got %T", got[0])
	}
}

func TestEvaluate_Index(t *testing.T) {
	e := newEngine(t)
	got := stringsOf(mustEval(t, e, samplePatient(), "Patient.name[1].given"))
	if len(got) != 1 || got[0] != "Johnny" {
		t.Errorf("unexpected %v", got)
	}
	if got := mustEval(t, e, samplePatient(), "Patient.name[5]"); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Type operators
// ---------------------------------------------------------------------------

func TestEvaluate_AsOperator(t *testing.T) {
	e := newEngine(t)
	obs := sampleObservation(t)

	if got := mustEval(t, e, obs, "(Observation.value as Quantity)"); len(got) != 1 {
		t.Errorf("expected quantity, got %v", got)
	}
	if got := mustEval(t, e, obs, "(Observation.value as CodeableConcept)"); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
	if got := mustEval(t, e, obs, "Observation.value.as(Quantity)"); len(got) != 1 {
		t.Errorf("expected quantity, got %v", got)
	}
}

func TestEvaluate_OfType(t *testing.T) {
	e := newEngine(t)
	obs := sampleObservation(t)

	got := mustEval(t, e, obs, "Observation.component.value.ofType(Quantity)")
	if len(got) != 1 {
		t.Fatalf("expected one quantity, got %d", len(got))
	}
	got = mustEval(t, e, obs, "Observation.component.value.ofType(string)")
	if len(got) != 1 || got[0].String() != "n/a" {
		t.Errorf("unexpected %v", got)
	}
}

func TestEvaluate_IsOperator(t *testing.T) {
	e := newEngine(t)
	if !mustEvalBool(t, e, sampleObservation(t), "Observation.value is Quantity") {
		t.Error("expected value is Quantity")
	}
	if !mustEvalBool(t, e, samplePatient(), "Patient.gender is string") {
		t.Error("expected code to be a string")
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func TestEvaluate_Where(t *testing.T) {
	e := newEngine(t)
	got := stringsOf(mustEval(t, e, samplePatient(), "Patient.name.where(use = 'official').given"))
	if strings.Join(got, ",") != "John,Michael" {
		t.Errorf("unexpected %v", got)
	}
}

func TestEvaluate_WhereOnComponents(t *testing.T) {
	e := newEngine(t)
	expr := "Observation.component.where(code.coding.code = '8480-6').value"
	got := mustEval(t, e, sampleObservation(t), expr)
	if len(got) != 1 {
		t.Fatalf("expected one value, got %d", len(got))
	}
	q := got[0].(fhir.Quantity)
	if !q.Value.Decimal.Equal(decimal.NewFromInt(120)) {
		t.Errorf("unexpected value %s", q.Value.Decimal)
	}
}

func TestEvaluate_ExistsAndEmpty(t *testing.T) {
	e := newEngine(t)
	p := samplePatient()
	if !mustEvalBool(t, e, p, "Patient.name.exists()") {
		t.Error("expected names to exist")
	}
	if !mustEvalBool(t, e, p, "Patient.photo.empty()") {
		t.Error("expected no photo")
	}
	if !mustEvalBool(t, e, p, "Patient.name.exists(use = 'nickname')") {
		t.Error("expected a nickname")
	}
	if !mustEvalBool(t, e, p, "Patient.deceased.exists() and Patient.deceased = false") {
		t.Error("expected deceased=false")
	}
}

func TestEvaluate_FirstLast(t *testing.T) {
	e := newEngine(t)
	first := stringsOf(mustEval(t, e, samplePatient(), "Patient.name.given.first()"))
	last := stringsOf(mustEval(t, e, samplePatient(), "Patient.name.given.last()"))
	if first[0] != "John" || last[0] != "Johnny" {
		t.Errorf("first=%v last=%v", first, last)
	}
}

func TestEvaluate_Union(t *testing.T) {
	e := newEngine(t)
	got := stringsOf(mustEval(t, e, samplePatient(), "Patient.name.family | Patient.name.given"))
	// the two family names are identical and collapse
	if strings.Join(got, ",") != "Smith,John,Michael,Johnny" {
		t.Errorf("unexpected %v", got)
	}
}

func TestEvaluate_ResolveContainedAndLiteral(t *testing.T) {
	e := newEngine(t)
	p := samplePatient()
	if !mustEvalBool(t, e, p, "Patient.generalPractitioner.resolve() is Practitioner") {
		t.Error("expected contained practitioner")
	}
	got := mustEval(t, e, p, "Patient.managingOrganization.where(resolve() is Organization)")
	if len(got) != 1 {
		t.Fatalf("expected one reference, got %d", len(got))
	}
	if _, ok := got[0].(fhir.Reference); !ok {
		t.Errorf("expected fhir.Reference, got %T", got[0])
	}
	if got := mustEval(t, e, p, "Patient.managingOrganization.where(resolve() is Patient)"); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}

func TestEvaluate_Extension(t *testing.T) {
	e := newEngine(t)
	expr := "Patient.extension('http://example.org/fhir/StructureDefinition/birthPlace').value"
	got := stringsOf(mustEval(t, e, samplePatient(), expr))
	if len(got) != 1 || got[0] != "Springfield" {
		t.Errorf("unexpected %v", got)
	}
}

func TestEvaluate_StringFunctions(t *testing.T) {
	e := newEngine(t)
	p := samplePatient()
	tests := []struct {
		expr string
		want bool
	}{
		{"Patient.name.family.first().startsWith('Sm')", true},
		{"Patient.name.family.first().endsWith('th')", true},
		{"Patient.name.family.first().contains('x')", false},
		{"Patient.id.matches('^pt-[0-9]+$')", true},
		{"Patient.name.family.first().upper() = 'SMITH'", true},
		{"Patient.id.substring(3) = '123'", true},
		{"Patient.id.length() = 6", true},
	}
	for _, tt := range tests {
		if got := mustEvalBool(t, e, p, tt.expr); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	e := newEngine(t)
	obs := sampleObservation(t)
	tests := []struct {
		expr string
		want bool
	}{
		{"Observation.value.value > 70", true},
		{"Observation.value.value = 72.5", true},
		{"Observation.effective > @2024-01-01", true},
		{"Observation.effective < @2024-06-15T10:00:00Z", false},
		{"Observation.status != 'final'", false},
		{"Observation.status = 'final' or Observation.status = 'amended'", true},
		{"Observation.status = 'final' xor Observation.status = 'final'", false},
		{"Observation.status = 'draft' implies Observation.value.exists()", true},
	}
	for _, tt := range tests {
		if got := mustEvalBool(t, e, obs, tt.expr); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluate_Variables(t *testing.T) {
	e := newEngine(t)
	if !mustEvalBool(t, e, sampleObservation(t), "Observation.value.system = %ucum") {
		t.Error("expected ucum system")
	}
	got := mustEval(t, e, samplePatient(), "%resource.id")
	if len(got) != 1 || got[0].String() != "pt-123" {
		t.Errorf("unexpected %v", got)
	}
}

func TestEvaluate_Literals(t *testing.T) {
	e := newEngine(t)
	got := mustEval(t, e, samplePatient(), "Patient.name.count()")
	if v, ok := got[0].(fhir.Integer); !ok || v.Value != 2 {
		t.Errorf("unexpected %v", got)
	}
	got = mustEval(t, e, samplePatient(), "1.5.round()")
	if v, ok := got[0].(fhir.Integer); !ok || v.Value != 2 {
		t.Errorf("unexpected %v", got)
	}
}

// ---------------------------------------------------------------------------
// Errors and caching
// ---------------------------------------------------------------------------

func TestEvaluate_Errors(t *testing.T) {
	e := newEngine(t)
	for _, expr := range []string{
		"",
		"Patient.name.",
		"Patient.name.where(use = 'x'",
		"Patient.name.frobnicate()",
		"Patient.name 'x'",
		"Patient.id = 'unterminated",
		"%unknown",
	} {
		if _, err := e.Evaluate(samplePatient(), expr); err == nil {
			t.Errorf("expected error for %q", expr)
		}
	}
}

func TestEvaluate_NilResource(t *testing.T) {
	e := newEngine(t)
	got, err := e.Evaluate(nil, "Patient.id")
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestEngine_CachesCompiledExpressions(t *testing.T) {
	e := newEngine(t)
	a, err := e.Compile("Patient.name")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Compile("Patient.name")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("expected cached expression to be reused")
	}
	if e.CacheLen() != 1 {
		t.Errorf("expected 1 cached expression, got %d", e.CacheLen())
	}
	if a.String() != "Patient.name" {
		t.Errorf("unexpected source %q", a.String())
	}
}
