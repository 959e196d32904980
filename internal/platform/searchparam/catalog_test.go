package searchparam

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func testParam(id, code, typ, expr string, base ...string) *SearchParameter {
	return &SearchParameter{ID: id, Name: code, Code: code, Status: "active", Type: typ, Expression: expr, Base: base}
}

func TestParseValueKind(t *testing.T) {
	for k, code := range kindCodes {
		got, err := ParseValueKind(code)
		if err != nil {
			t.Fatalf("ParseValueKind(%q): %v", code, err)
		}
		if got != k {
			t.Errorf("ParseValueKind(%q) = %v, want %v", code, got, k)
		}
		if k.String() != code {
			t.Errorf("%v.String() = %q", k, k.String())
		}
	}
	if _, err := ParseValueKind("bogus"); err == nil {
		t.Error("expected error for unknown type")
	}
	if got, _ := ParseValueKind("TOKEN"); got != KindToken {
		t.Errorf("expected case-insensitive match, got %v", got)
	}
}

func TestDefinition_JSONUsesKindCode(t *testing.T) {
	def := Definition{Name: "gender", Kind: KindToken, Path: "Patient.gender"}
	data, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"name":"gender","kind":"token","path":"Patient.gender"}`; string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var back Definition
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != def {
		t.Errorf("got %+v, want %+v", back, def)
	}
	if err := json.Unmarshal([]byte(`{"kind":"bogus"}`), &back); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestRegistry_Lookup_SingleBase(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(testParam("Patient-family", "family", "string", "Patient.name.family", "Patient")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	defs := r.Lookup("Patient")
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	want := Definition{Name: "family", Kind: KindString, Path: "Patient.name.family"}
	if defs[0] != want {
		t.Errorf("got %+v, want %+v", defs[0], want)
	}
}

func TestRegistry_Lookup_SplitsMultiBase(t *testing.T) {
	r := NewRegistry()
	err := r.Add(testParam("clinical-code", "code", "token",
		"AllergyIntolerance.code | AllergyIntolerance.reaction.substance | (Procedure.code)",
		"AllergyIntolerance", "Procedure"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	allergy := r.Lookup("AllergyIntolerance")
	if len(allergy) != 1 || allergy[0].Path != "AllergyIntolerance.code | AllergyIntolerance.reaction.substance" {
		t.Errorf("unexpected AllergyIntolerance definitions: %+v", allergy)
	}
	proc := r.Lookup("Procedure")
	if len(proc) != 1 || proc[0].Path != "(Procedure.code)" {
		t.Errorf("unexpected Procedure definitions: %+v", proc)
	}
}

func TestRegistry_Lookup_MergesResourceParams(t *testing.T) {
	r := NewRegistry()
	err := r.Add(
		testParam("Resource-id", "_id", "token", "Resource.id", "Resource"),
		testParam("Patient-gender", "gender", "token", "Patient.gender", "Patient"),
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	defs := r.Lookup("Patient")
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %+v", defs)
	}
	if defs[0].Name != "gender" {
		t.Errorf("type-specific definitions come first, got %+v", defs)
	}
	if defs[1] != (Definition{Name: "_id", Kind: KindToken, Path: "Patient.id"}) {
		t.Errorf("unexpected merged definition: %+v", defs[1])
	}

	res := r.Lookup("Resource")
	if len(res) != 1 || res[0].Path != "Resource.id" {
		t.Errorf("Resource keeps its own path, got %+v", res)
	}
}

func TestRegistry_Lookup_UnknownType(t *testing.T) {
	r := NewDefaultRegistry()
	if defs := r.Lookup("Basic"); len(defs) != 0 {
		t.Errorf("expected no definitions for Basic, got %+v", defs)
	}
}

func TestRegistry_Lookup_SkipsMissingExpression(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(testParam("DomainResource-text", "_text", "string", "", "DomainResource")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := r.ResourceTypes(); len(got) != 0 {
		t.Errorf("expected no resource types, got %v", got)
	}
}

func TestRegistry_Lookup_ReturnsCopy(t *testing.T) {
	r := NewDefaultRegistry()
	defs := r.Lookup("Patient")
	defs[0].Name = "mutated"
	if r.Lookup("Patient")[0].Name == "mutated" {
		t.Error("Lookup must not expose internal state")
	}
}

func TestRegistry_Add_ReplacesByID(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(testParam("p", "given", "string", "Patient.name.given", "Patient"))
	_ = r.Add(testParam("p", "given", "string", "Patient.name.given.first()", "Patient"))

	defs := r.Lookup("Patient")
	if len(defs) != 1 || defs[0].Path != "Patient.name.given.first()" {
		t.Errorf("expected replacement, got %+v", defs)
	}
}

func TestRegistry_Add_Validation(t *testing.T) {
	tests := []struct {
		name string
		sp   *SearchParameter
		want string
	}{
		{"missing name", &SearchParameter{Code: "x", Base: []string{"Patient"}, Type: "string"}, "name is required"},
		{"missing code", &SearchParameter{Name: "x", Base: []string{"Patient"}, Type: "string"}, "code is required"},
		{"missing base", &SearchParameter{Name: "x", Code: "x", Type: "string"}, "base is required"},
		{"missing type", &SearchParameter{Name: "x", Code: "x", Base: []string{"Patient"}}, "type is required"},
		{"bad type", &SearchParameter{Name: "x", Code: "x", Base: []string{"Patient"}, Type: "blob"}, "type must be one of"},
		{"bad status", &SearchParameter{Name: "x", Code: "x", Base: []string{"Patient"}, Type: "string", Status: "gone"}, "status must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Add(tt.sp)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(testParam("Patient-nickname", "nickname", "string", "Patient.name.where(use='nickname')", "Patient")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := r.Get("Patient-nickname")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ResourceType != "SearchParameter" {
		t.Errorf("expected ResourceType=SearchParameter, got %q", got.ResourceType)
	}
	got.Code = "changed"
	if again, _ := r.Get("Patient-nickname"); again.Code != "nickname" {
		t.Error("Get must return a copy")
	}

	if _, err := r.Get("missing"); err == nil {
		t.Error("expected not found error")
	}
}

func TestRegistry_Search(t *testing.T) {
	r := NewDefaultRegistry()

	results := r.Search(map[string]string{"base": "patient", "type": "date"})
	if len(results) != 2 {
		t.Fatalf("expected 2 Patient date params, got %d", len(results))
	}
	if results[0].ID != "Patient-birthdate" || results[1].ID != "Patient-deceased" {
		t.Errorf("expected results sorted by ID, got %s, %s", results[0].ID, results[1].ID)
	}

	if got := r.Search(map[string]string{"code": "_lastUpdated"}); len(got) != 1 {
		t.Errorf("expected one _lastUpdated, got %d", len(got))
	}
	if got := len(r.List()); got != len(DefaultSearchParameters()) {
		t.Errorf("List returned %d, want %d", got, len(DefaultSearchParameters()))
	}
}

func TestDefaultRegistry_Patient(t *testing.T) {
	defs := NewDefaultRegistry().Lookup("Patient")
	byName := make(map[string]Definition)
	for _, d := range defs {
		byName[d.Name] = d
	}

	checks := map[string]Definition{
		"family":       {Name: "family", Kind: KindString, Path: "Patient.name.family"},
		"birthdate":    {Name: "birthdate", Kind: KindDate, Path: "Patient.birthDate"},
		"_lastUpdated": {Name: "_lastUpdated", Kind: KindDate, Path: "Patient.meta.lastUpdated"},
		"_id":          {Name: "_id", Kind: KindToken, Path: "Patient.id"},
	}
	for name, want := range checks {
		if got := byName[name]; got != want {
			t.Errorf("%s: got %+v, want %+v", name, got, want)
		}
	}
}

func TestDefaultRegistry_CompositeKept(t *testing.T) {
	defs := NewDefaultRegistry().Lookup("Observation")
	for _, d := range defs {
		if d.Name == "code-value-quantity" {
			if d.Kind != KindComposite {
				t.Errorf("expected composite kind, got %v", d.Kind)
			}
			return
		}
	}
	t.Error("expected code-value-quantity definition")
}

func TestLoadJSON_Bundle(t *testing.T) {
	body := `{
	  "resourceType": "Bundle",
	  "entry": [
	    {"resource": {"resourceType": "SearchParameter", "id": "Patient-nickname", "name": "nickname",
	      "code": "nickname", "status": "active", "base": ["Patient"], "type": "string",
	      "expression": "Patient.name.where(use='nickname').given"}},
	    {"resource": {"resourceType": "Patient", "id": "p1"}},
	    {"fullUrl": "urn:uuid:1"}
	  ]
	}`
	params, err := LoadJSON(strings.NewReader(body))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if len(params) != 1 || params[0].Code != "nickname" {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestLoadJSON_SingleAndInvalid(t *testing.T) {
	params, err := LoadJSON(strings.NewReader(`{"resourceType":"SearchParameter","id":"x","name":"x","code":"x","base":["Patient"],"type":"token","expression":"Patient.x"}`))
	if err != nil || len(params) != 1 {
		t.Fatalf("expected one param, got %v, %v", params, err)
	}
	if _, err := LoadJSON(strings.NewReader(`{"resourceType":"Patient"}`)); err == nil {
		t.Error("expected error for non-SearchParameter resource")
	}
	if _, err := LoadJSON(strings.NewReader(`{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	doc := `searchParameters:
  - id: Patient-nickname
    code: nickname
    base: [Patient]
    type: string
    expression: Patient.name.where(use='nickname').given
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	params, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(params) != 1 {
		t.Fatalf("expected 1 param, got %d", len(params))
	}
	sp := params[0]
	if sp.Name != "nickname" || sp.Status != "active" || sp.ResourceType != "SearchParameter" {
		t.Errorf("expected defaults applied, got %+v", sp)
	}

	r := NewRegistry()
	if err := r.Add(params...); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(r.Lookup("Patient")) != 1 {
		t.Error("expected loaded parameter to be registered")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHandler_Search(t *testing.T) {
	e := echo.New()
	h := NewHandler(NewDefaultRegistry())
	h.RegisterRoutes(e.Group("/fhir"))

	req := httptest.NewRequest(http.MethodGet, "/fhir/SearchParameter?base=Patient&code=family", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bundle map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bundle["type"] != "searchset" {
		t.Errorf("expected searchset, got %v", bundle["type"])
	}
	if total, _ := bundle["total"].(float64); total != 1 {
		t.Errorf("expected total 1, got %v", bundle["total"])
	}
}

func TestHandler_SearchPaging(t *testing.T) {
	e := echo.New()
	h := NewHandler(NewDefaultRegistry())
	h.RegisterRoutes(e.Group("/fhir"))

	req := httptest.NewRequest(http.MethodGet, "/fhir/SearchParameter?base=Patient&_count=2&_offset=2", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bundle struct {
		Total int `json:"total"`
		Link  []struct {
			Relation string `json:"relation"`
			URL      string `json:"url"`
		} `json:"link"`
		Entry []struct {
			FullURL string `json:"fullUrl"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bundle.Total <= 4 {
		t.Fatalf("expected more than 4 Patient parameters, got %d", bundle.Total)
	}
	if len(bundle.Entry) != 2 {
		t.Fatalf("expected a page of 2 entries, got %d", len(bundle.Entry))
	}
	rels := map[string]string{}
	for _, l := range bundle.Link {
		rels[l.Relation] = l.URL
	}
	if want := "/fhir/SearchParameter?_count=2&_offset=4&base=Patient"; rels["next"] != want {
		t.Errorf("next = %q, want %q", rels["next"], want)
	}
	if want := "/fhir/SearchParameter?_count=2&_offset=0&base=Patient"; rels["previous"] != want {
		t.Errorf("previous = %q, want %q", rels["previous"], want)
	}
}

func TestHandler_Read(t *testing.T) {
	e := echo.New()
	h := NewHandler(NewDefaultRegistry())
	h.RegisterRoutes(e.Group("/fhir"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fhir/SearchParameter/Patient-family", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sp SearchParameter
	if err := json.Unmarshal(rec.Body.Bytes(), &sp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sp.Expression != "Patient.name.family" {
		t.Errorf("unexpected expression %q", sp.Expression)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fhir/SearchParameter/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OperationOutcome") {
		t.Errorf("expected OperationOutcome body, got %s", rec.Body.String())
	}
}
