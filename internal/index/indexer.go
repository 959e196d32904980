// Package index turns a FHIR resource into typed search index records.
//
// An Indexer looks up the search parameters that apply to the resource's
// type, evaluates each parameter's FHIRPath expression and converts every
// resulting value into records of the parameter's kind. The records of one
// resource are collected into a duplicate-free ResourceIndices.
package index

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/fhirindex/internal/platform/fhir"
	"github.com/ehr/fhirindex/internal/platform/searchparam"
)

var (
	// ErrInvalidResource is returned for resources without a resourceType
	// or id.
	ErrInvalidResource = errors.New("invalid resource")
	// ErrUnsupportedValue is returned when a reference parameter evaluates
	// to a value that cannot hold a reference.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// PathEvaluator evaluates a FHIRPath expression against a JSON resource.
type PathEvaluator interface {
	Evaluate(resource map[string]interface{}, path string) ([]fhir.Value, error)
}

// Catalog lists the search parameters of a resource type. Unknown types
// yield an empty list.
type Catalog interface {
	Lookup(resourceType string) []searchparam.Definition
}

// UnitCanonicalizer converts a UCUM quantity to canonical units.
type UnitCanonicalizer interface {
	Canonicalize(code string, value decimal.Decimal) (string, decimal.Decimal, error)
}

// Observer receives indexing outcomes, typically to record metrics.
type Observer interface {
	Indexed(resourceType string, indices ResourceIndices, elapsed time.Duration)
	Failed(resourceType string, err error)
	CanonicalizationFallback(code string)
}

type nopObserver struct{}

func (nopObserver) Indexed(string, ResourceIndices, time.Duration) {}
func (nopObserver) Failed(string, error)                           {}
func (nopObserver) CanonicalizationFallback(string)                {}

// Indexer extracts index records from resources. It holds no per-call state
// and is safe for concurrent use when its collaborators are.
type Indexer struct {
	catalog   Catalog
	evaluator PathEvaluator
	units     UnitCanonicalizer
	logger    zerolog.Logger
	observer  Observer
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger used for canonicalization fallbacks.
func WithLogger(logger zerolog.Logger) Option {
	return func(ix *Indexer) { ix.logger = logger }
}

// WithObserver sets the Observer notified after each Index call.
func WithObserver(o Observer) Option {
	return func(ix *Indexer) {
		if o != nil {
			ix.observer = o
		}
	}
}

// New creates an Indexer. units may be nil, in which case UCUM quantities
// are indexed with their original code.
func New(catalog Catalog, evaluator PathEvaluator, units UnitCanonicalizer, opts ...Option) *Indexer {
	ix := &Indexer{
		catalog:   catalog,
		evaluator: evaluator,
		units:     units,
		logger:    zerolog.Nop(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index extracts the index records of resource. The resource is not
// modified. On error nothing is returned: the resource is not indexed.
func (ix *Indexer) Index(resource map[string]interface{}) (ResourceIndices, error) {
	start := time.Now()
	resourceType, _ := resource["resourceType"].(string)
	id, _ := resource["id"].(string)
	if resourceType == "" || id == "" {
		err := fmt.Errorf("%w: resourceType and id are required", ErrInvalidResource)
		ix.observer.Failed(resourceType, err)
		return ResourceIndices{}, err
	}

	b := NewBuilder(resourceType, id)
	for _, def := range ix.catalog.Lookup(resourceType) {
		if err := ix.indexParameter(b, resource, def); err != nil {
			err = fmt.Errorf("index %s/%s: %w", resourceType, id, err)
			ix.observer.Failed(resourceType, err)
			return ResourceIndices{}, err
		}
	}

	indices := b.Build()
	ix.observer.Indexed(resourceType, indices, time.Since(start))
	return indices, nil
}

func (ix *Indexer) indexParameter(b *Builder, resource map[string]interface{}, def searchparam.Definition) error {
	if !convertible(def.Kind) {
		return nil
	}
	values, err := ix.evaluator.Evaluate(resource, def.Path)
	if err != nil {
		return fmt.Errorf("evaluate %s (%s): %w", def.Name, def.Path, err)
	}

	for _, v := range values {
		if v == nil {
			continue
		}
		switch def.Kind {
		case searchparam.KindNumber:
			if r, ok := numberIndex(def, v); ok {
				b.AddNumberIndex(r)
			}
		case searchparam.KindDate:
			if d, ok := v.(fhir.Date); ok {
				b.AddDateIndex(dateIndex(def, d))
			} else if r, ok := dateTimeIndex(def, v); ok {
				b.AddDateTimeIndex(r)
			}
		case searchparam.KindString:
			if r, ok := stringIndex(def, v); ok {
				b.AddStringIndex(r)
			}
		case searchparam.KindToken:
			for _, r := range tokenIndices(def, v) {
				b.AddTokenIndex(r)
			}
		case searchparam.KindReference:
			r, ok, err := referenceIndex(def, v)
			if err != nil {
				return err
			}
			if ok {
				b.AddReferenceIndex(r)
			}
		case searchparam.KindQuantity:
			for _, r := range quantityIndices(def, v, ix.units, ix.canonicalizationFailed) {
				b.AddQuantityIndex(r)
			}
		case searchparam.KindURI:
			if r, ok := uriIndex(def, v); ok {
				b.AddURIIndex(r)
			}
		case searchparam.KindSpecial:
			if r, ok := positionIndex(v); ok {
				b.AddPositionIndex(r)
			}
		}
	}
	return nil
}

func (ix *Indexer) canonicalizationFailed(code string, err error) {
	ix.logger.Warn().Err(err).Str("code", code).Msg("unit canonicalization failed, indexing original unit")
	ix.observer.CanonicalizationFallback(code)
}

// convertible reports whether records are produced for kind. Composite
// parameters and kinds added to the catalog later are skipped.
func convertible(kind searchparam.ValueKind) bool {
	switch kind {
	case searchparam.KindNumber, searchparam.KindDate, searchparam.KindString,
		searchparam.KindToken, searchparam.KindReference, searchparam.KindQuantity,
		searchparam.KindURI, searchparam.KindSpecial:
		return true
	default:
		return false
	}
}
