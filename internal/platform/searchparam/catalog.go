// Package searchparam holds FHIR SearchParameter definitions and answers
// which parameters apply to a resource type.
package searchparam

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// ValueKind is the type of value a search parameter indexes.
type ValueKind int

const (
	KindNumber ValueKind = iota + 1
	KindDate
	KindString
	KindToken
	KindReference
	KindQuantity
	KindURI
	KindSpecial
	KindComposite
)

var kindCodes = map[ValueKind]string{
	KindNumber:    "number",
	KindDate:      "date",
	KindString:    "string",
	KindToken:     "token",
	KindReference: "reference",
	KindQuantity:  "quantity",
	KindURI:       "uri",
	KindSpecial:   "special",
	KindComposite: "composite",
}

// String returns the FHIR code of the kind, e.g. "token".
func (k ValueKind) String() string {
	if s, ok := kindCodes[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind as its FHIR code.
func (k ValueKind) MarshalText() ([]byte, error) {
	s, ok := kindCodes[k]
	if !ok {
		return nil, fmt.Errorf("unknown value kind %d", int(k))
	}
	return []byte(s), nil
}

// UnmarshalText decodes a FHIR code.
func (k *ValueKind) UnmarshalText(text []byte) error {
	v, err := ParseValueKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseValueKind converts a SearchParameter.type code to a ValueKind.
func ParseValueKind(code string) (ValueKind, error) {
	for k, s := range kindCodes {
		if strings.EqualFold(s, code) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown search parameter type %q", code)
}

// Definition is one search parameter as it applies to a single resource
// type: the name used in queries, the kind of value and the FHIRPath
// expression that extracts it.
type Definition struct {
	Name string    `json:"name"`
	Kind ValueKind `json:"kind"`
	Path string    `json:"path"`
}

// SearchParameter represents a FHIR SearchParameter resource that defines a
// search parameter and its properties.
type SearchParameter struct {
	ResourceType string   `json:"resourceType" yaml:"-"`
	ID           string   `json:"id,omitempty" yaml:"id"`
	URL          string   `json:"url" yaml:"url"`
	Name         string   `json:"name" yaml:"name"`
	Status       string   `json:"status" yaml:"status"` // draft, active, retired
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Code         string   `json:"code" yaml:"code"` // name used in search URL
	Base         []string `json:"base" yaml:"base"` // resource types this applies to
	Type         string   `json:"type" yaml:"type"` // number, date, string, token, reference, composite, quantity, uri, special
	Expression   string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	Target       []string `json:"target,omitempty" yaml:"target,omitempty"`
}

// validSearchParamStatuses enumerates the allowed SearchParameter.status values.
var validSearchParamStatuses = map[string]bool{
	"draft":   true,
	"active":  true,
	"retired": true,
}

// Registry is a thread-safe in-memory store of SearchParameter resources,
// keyed by ID, with a per-resource-type index of the derived Definitions.
type Registry struct {
	mu     sync.RWMutex
	params map[string]*SearchParameter
	order  []string
	byType map[string][]Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		params: make(map[string]*SearchParameter),
		byType: make(map[string][]Definition),
	}
}

// NewDefaultRegistry returns a Registry pre-populated with the built-in R4
// search parameters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.Add(DefaultSearchParameters()...); err != nil {
		panic(fmt.Sprintf("searchparam: built-in definitions are invalid: %v", err))
	}
	return r
}

// Add registers parameters in order. A parameter whose ID is already
// registered replaces the earlier one in place.
func (r *Registry) Add(params ...*SearchParameter) error {
	for _, sp := range params {
		if err := validateSearchParameter(sp); err != nil {
			return fmt.Errorf("SearchParameter/%s: %w", sp.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sp := range params {
		stored := *sp
		stored.ResourceType = "SearchParameter"
		if stored.ID == "" {
			stored.ID = defaultID(&stored)
		}
		if _, exists := r.params[stored.ID]; !exists {
			r.order = append(r.order, stored.ID)
		}
		r.params[stored.ID] = &stored
	}
	r.rebuild()
	return nil
}

// Get retrieves a SearchParameter by ID.
func (r *Registry) Get(id string) (*SearchParameter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, ok := r.params[id]
	if !ok {
		return nil, fmt.Errorf("SearchParameter/%s not found", id)
	}
	result := *sp
	return &result, nil
}

// Search returns all SearchParameters that match the given filter
// parameters. Supported filter keys: "name", "code", "url", "status",
// "type", "base". Results are sorted by ID.
func (r *Registry) Search(params map[string]string) []*SearchParameter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.params))
	for id := range r.params {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]*SearchParameter, 0, len(r.params))
	for _, id := range ids {
		sp := r.params[id]
		if !matchSearchParam(sp, params) {
			continue
		}
		cp := *sp
		results = append(results, &cp)
	}
	return results
}

// List returns every registered SearchParameter.
func (r *Registry) List() []*SearchParameter {
	return r.Search(nil)
}

// Lookup returns the definitions that apply to resourceType, in registration
// order, followed by the Resource-level definitions. An unknown type yields
// an empty slice.
func (r *Registry) Lookup(resourceType string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byType[resourceType])
}

// ResourceTypes lists the resource types that have definitions, sorted.
func (r *Registry) ResourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// rebuild recomputes the per-type definitions. Callers hold the write lock.
func (r *Registry) rebuild() {
	byType := make(map[string][]Definition)
	var base []Definition

	for _, id := range r.order {
		sp := r.params[id]
		if strings.TrimSpace(sp.Expression) == "" {
			continue
		}
		kind, err := ParseValueKind(sp.Type)
		if err != nil {
			continue
		}
		for _, tp := range splitByResource(sp) {
			def := Definition{Name: sp.Code, Kind: kind, Path: tp.path}
			byType[tp.resourceType] = append(byType[tp.resourceType], def)
			if tp.resourceType == "Resource" {
				base = append(base, def)
			}
		}
	}

	for resourceType, defs := range byType {
		if resourceType == "Resource" {
			continue
		}
		for _, def := range base {
			def.Path = substituteResource(def.Path, resourceType)
			defs = append(defs, def)
		}
		byType[resourceType] = defs
	}
	r.byType = byType
}

type typedPath struct {
	resourceType string
	path         string
}

// splitByResource maps each base resource type to its share of the
// expression. A parameter with a single base keeps the whole expression;
// otherwise the union branches are grouped by the type they start with:
// "A.code | A.reaction.substance | B.code" becomes A -> "A.code |
// A.reaction.substance" and B -> "B.code".
func splitByResource(sp *SearchParameter) []typedPath {
	if len(sp.Base) == 1 {
		return []typedPath{{resourceType: sp.Base[0], path: strings.TrimSpace(sp.Expression)}}
	}

	var order []string
	groups := make(map[string][]string)
	for _, branch := range strings.Split(sp.Expression, "|") {
		branch = strings.TrimSpace(branch)
		if branch == "" {
			continue
		}
		head := strings.TrimPrefix(strings.TrimSpace(strings.SplitN(branch, ".", 2)[0]), "(")
		if _, ok := groups[head]; !ok {
			order = append(order, head)
		}
		groups[head] = append(groups[head], branch)
	}

	out := make([]typedPath, 0, len(order))
	for _, head := range order {
		out = append(out, typedPath{resourceType: head, path: strings.Join(groups[head], " | ")})
	}
	return out
}

// substituteResource rewrites the Resource head of every union branch to
// resourceType: "Resource.meta.tag" -> "Patient.meta.tag".
func substituteResource(path, resourceType string) string {
	branches := strings.Split(path, "|")
	for i, branch := range branches {
		trimmed := strings.TrimSpace(branch)
		open := ""
		for strings.HasPrefix(trimmed, "(") {
			open += "("
			trimmed = trimmed[1:]
		}
		if rest, ok := strings.CutPrefix(trimmed, "Resource."); ok {
			trimmed = resourceType + "." + rest
		}
		branches[i] = open + trimmed
	}
	return strings.Join(branches, " | ")
}

// matchSearchParam checks whether a SearchParameter matches the given
// filter criteria.
func matchSearchParam(sp *SearchParameter, params map[string]string) bool {
	if params == nil {
		return true
	}

	if v, ok := params["name"]; ok && !strings.EqualFold(sp.Name, v) {
		return false
	}
	if v, ok := params["code"]; ok && sp.Code != v {
		return false
	}
	if v, ok := params["url"]; ok && sp.URL != v {
		return false
	}
	if v, ok := params["status"]; ok && sp.Status != v {
		return false
	}
	if v, ok := params["type"]; ok && sp.Type != v {
		return false
	}
	if v, ok := params["base"]; ok {
		found := false
		for _, b := range sp.Base {
			if strings.EqualFold(b, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// validateSearchParameter checks that a SearchParameter has the minimum
// required fields and valid enum values.
func validateSearchParameter(sp *SearchParameter) error {
	if sp.Name == "" {
		return fmt.Errorf("SearchParameter.name is required")
	}
	if sp.Status != "" && !validSearchParamStatuses[sp.Status] {
		return fmt.Errorf("SearchParameter.status must be one of: draft, active, retired; got %q", sp.Status)
	}
	if sp.Code == "" {
		return fmt.Errorf("SearchParameter.code is required")
	}
	if len(sp.Base) == 0 {
		return fmt.Errorf("SearchParameter.base is required (at least one resource type)")
	}
	if sp.Type == "" {
		return fmt.Errorf("SearchParameter.type is required")
	}
	if _, err := ParseValueKind(sp.Type); err != nil {
		return fmt.Errorf("SearchParameter.type must be one of: number, date, string, token, reference, composite, quantity, uri, special; got %q", sp.Type)
	}
	return nil
}

func defaultID(sp *SearchParameter) string {
	return strings.Join(sp.Base, "-") + "-" + strings.TrimPrefix(sp.Code, "_")
}
