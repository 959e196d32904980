package fhir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotAResource is returned when a JSON document has no resourceType.
var ErrNotAResource = errors.New("fhir: document is not a resource")

// Resource is a FHIR resource in its JSON form. Numbers are kept as
// json.Number so decimals survive with their written precision.
type Resource map[string]interface{}

// ParseResource decodes a single JSON resource.
func ParseResource(data []byte) (Resource, error) {
	return DecodeResource(bytes.NewReader(data))
}

// DecodeResource reads one JSON resource from r.
func DecodeResource(r io.Reader) (Resource, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var res map[string]interface{}
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if rt, _ := res["resourceType"].(string); rt == "" {
		return nil, ErrNotAResource
	}
	return Resource(res), nil
}

// ResourceType returns the resourceType tag.
func (r Resource) ResourceType() string {
	rt, _ := r["resourceType"].(string)
	return rt
}

// ID returns the logical id.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// LastUpdated returns meta.lastUpdated when present and well formed.
func (r Resource) LastUpdated() (time.Time, bool) {
	meta, ok := r["meta"].(map[string]interface{})
	if !ok {
		return time.Time{}, false
	}
	s, ok := meta["lastUpdated"].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseInstant(s)
	if err != nil {
		return time.Time{}, false
	}
	return t.Time, true
}

// Entries returns the resources contained in a Bundle, or the resource
// itself for anything that is not a Bundle.
func (r Resource) Entries() []Resource {
	if r.ResourceType() != "Bundle" {
		return []Resource{r}
	}
	var out []Resource
	for _, entry := range maps(r["entry"]) {
		res, ok := entry["resource"].(map[string]interface{})
		if !ok {
			continue
		}
		if rt, _ := res["resourceType"].(string); rt == "" {
			continue
		}
		out = append(out, Resource(res))
	}
	return out
}
