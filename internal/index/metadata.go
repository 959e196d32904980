package index

import "time"

const (
	// LastUpdatedParam indexes meta.lastUpdated as set by the server.
	LastUpdatedParam = "_lastUpdated"
	// LocalLastUpdatedParam indexes the time the resource was last written
	// to the local store.
	LocalLastUpdatedParam = "_local_lastUpdated"
)

// CreateLastUpdatedIndex returns the _lastUpdated record of a resource of
// the given type updated at t.
func CreateLastUpdatedIndex(resourceType string, t time.Time) DateTimeIndex {
	ms := t.UnixMilli()
	return DateTimeIndex{Name: LastUpdatedParam, Path: resourceType + ".meta.lastUpdated", From: ms, To: ms}
}

// CreateLocalLastUpdatedIndex returns the _local_lastUpdated record of a
// resource of the given type written locally at t.
func CreateLocalLastUpdatedIndex(resourceType string, t time.Time) DateTimeIndex {
	ms := t.UnixMilli()
	return DateTimeIndex{Name: LocalLastUpdatedParam, Path: resourceType + ".meta.localLastUpdated", From: ms, To: ms}
}
