// Package store persists ResourceIndices so that search queries can be
// answered from relational tables. Every index kind has its own table keyed
// by resource type and id; writing a resource replaces all of its previous
// rows in a single transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/fhir"
)

// ErrNotFound is returned by Lookup when no indices are stored for a
// resource.
var ErrNotFound = errors.New("store: resource not indexed")

// Store persists the index records of resources.
type Store interface {
	// Upsert replaces the stored records of the resource with indices plus
	// the derived _lastUpdated and _local_lastUpdated records.
	Upsert(ctx context.Context, resource fhir.Resource, indices index.ResourceIndices) error
	// Delete removes every stored record of the resource. Deleting a
	// resource that is not stored is not an error.
	Delete(ctx context.Context, resourceType, resourceID string) error
	// Lookup returns the stored records of the resource.
	Lookup(ctx context.Context, resourceType, resourceID string) (index.ResourceIndices, error)
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used for the _local_lastUpdated record.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// withDerived adds the metadata records a store writes alongside the
// evaluated ones. The returned time is meta.lastUpdated when present.
func withDerived(resource fhir.Resource, indices index.ResourceIndices, now time.Time) (index.ResourceIndices, *time.Time) {
	derived := []index.DateTimeIndex{index.CreateLocalLastUpdatedIndex(indices.ResourceType, now)}
	var lastUpdated *time.Time
	if t, ok := resource.LastUpdated(); ok {
		lastUpdated = &t
		derived = append([]index.DateTimeIndex{index.CreateLastUpdatedIndex(indices.ResourceType, t)}, derived...)
	}
	return indices.WithDateTimeIndices(derived...), lastUpdated
}
