package searchparam

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads SearchParameter definitions from path. Files ending in
// .yaml or .yml are read as YAML; anything else as FHIR JSON.
func LoadFile(path string) ([]*SearchParameter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open search parameters: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return LoadJSON(f)
	}
}

// LoadJSON reads a SearchParameter resource or a Bundle of them. Bundle
// entries holding other resource types are ignored.
func LoadJSON(r io.Reader) ([]*SearchParameter, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read search parameters: %w", err)
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode search parameters: %w", err)
	}

	switch head.ResourceType {
	case "SearchParameter":
		var sp SearchParameter
		if err := json.Unmarshal(data, &sp); err != nil {
			return nil, fmt.Errorf("decode SearchParameter: %w", err)
		}
		return []*SearchParameter{&sp}, nil
	case "Bundle":
		out := make([]*SearchParameter, 0, len(head.Entry))
		for i, e := range head.Entry {
			if len(e.Resource) == 0 {
				continue
			}
			var sp SearchParameter
			if err := json.Unmarshal(e.Resource, &sp); err != nil {
				return nil, fmt.Errorf("decode Bundle.entry[%d]: %w", i, err)
			}
			if sp.ResourceType != "SearchParameter" {
				continue
			}
			out = append(out, &sp)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected SearchParameter or Bundle, got resourceType %q", head.ResourceType)
	}
}

// LoadYAML reads a YAML document of the form:
//
//	searchParameters:
//	  - id: Patient-nickname
//	    code: nickname
//	    ...
func LoadYAML(r io.Reader) ([]*SearchParameter, error) {
	var doc struct {
		SearchParameters []*SearchParameter `yaml:"searchParameters"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode search parameters yaml: %w", err)
	}
	for _, sp := range doc.SearchParameters {
		sp.ResourceType = "SearchParameter"
		if sp.Name == "" {
			sp.Name = sp.Code
		}
		if sp.Status == "" {
			sp.Status = "active"
		}
	}
	return doc.SearchParameters, nil
}
