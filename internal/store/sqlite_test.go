package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/platform/fhir"
)

func openTestStore(t *testing.T, now time.Time) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "index.db"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleIndices() index.ResourceIndices {
	b := index.NewBuilder("Observation", "o1")
	b.AddNumberIndex(index.NumberIndex{Name: "probability", Path: "p", Value: decimal.RequireFromString("0.250")})
	b.AddDateIndex(index.DateIndex{Name: "d", Path: "p", From: 19000, To: 19000})
	b.AddDateTimeIndex(index.DateTimeIndex{Name: "date", Path: "Observation.effective", From: 10, To: 20})
	b.AddStringIndex(index.StringIndex{Name: "value-string", Path: "Observation.value", Value: "high"})
	b.AddURIIndex(index.URIIndex{Name: "u", Path: "p", Value: "http://example.org"})
	b.AddTokenIndex(index.TokenIndex{Name: "status", Path: "Observation.status", Value: "final"})
	empty := ""
	b.AddTokenIndex(index.TokenIndex{Name: "code", Path: "Observation.code", System: &empty, Value: "x"})
	b.AddQuantityIndex(index.QuantityIndex{Name: "value-quantity", Path: "Observation.value", System: "http://unitsofmeasure.org", Unit: "g", Value: decimal.RequireFromString("0.25")})
	b.AddReferenceIndex(index.ReferenceIndex{Name: "subject", Path: "Observation.subject", Value: "Patient/p1"})
	b.AddPositionIndex(index.PositionIndex{Latitude: 52.37, Longitude: 4.89})
	return b.Build()
}

func TestSQLiteStore_UpsertLookupRoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, now)
	ctx := context.Background()

	resource := fhir.Resource{
		"resourceType": "Observation",
		"id":           "o1",
		"meta":         map[string]interface{}{"lastUpdated": "2024-05-31T00:00:00Z"},
	}
	ri := sampleIndices()
	require.NoError(t, s.Upsert(ctx, resource, ri))

	got, err := s.Lookup(ctx, "Observation", "o1")
	require.NoError(t, err)

	assert.Equal(t, "Observation", got.ResourceType)
	assert.Equal(t, "o1", got.ResourceID)
	require.Len(t, got.NumberIndices, 1)
	assert.Equal(t, "0.25", got.NumberIndices[0].Value.String())
	assert.Equal(t, ri.DateIndices, got.DateIndices)
	assert.Equal(t, ri.StringIndices, got.StringIndices)
	assert.Equal(t, ri.URIIndices, got.URIIndices)
	assert.Equal(t, ri.ReferenceIndices, got.ReferenceIndices)
	assert.Equal(t, ri.PositionIndices, got.PositionIndices)

	require.Len(t, got.TokenIndices, 2)
	assert.Nil(t, got.TokenIndices[0].System, "nil system survives storage")
	require.NotNil(t, got.TokenIndices[1].System)
	assert.Equal(t, "", *got.TokenIndices[1].System)

	require.Len(t, got.QuantityIndices, 1)
	assert.True(t, got.QuantityIndices[0].Value.Equal(decimal.RequireFromString("0.25")))

	require.Len(t, got.DateTimeIndices, 3)
	assert.Equal(t, ri.DateTimeIndices[0], got.DateTimeIndices[0])
	assert.Equal(t, index.CreateLastUpdatedIndex("Observation", time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)), got.DateTimeIndices[1])
	assert.Equal(t, index.CreateLocalLastUpdatedIndex("Observation", now), got.DateTimeIndices[2])
}

func TestSQLiteStore_UpsertReplacesPreviousRows(t *testing.T) {
	s := openTestStore(t, time.Unix(0, 0))
	ctx := context.Background()
	resource := fhir.Resource{"resourceType": "Observation", "id": "o1"}

	require.NoError(t, s.Upsert(ctx, resource, sampleIndices()))

	b := index.NewBuilder("Observation", "o1")
	b.AddTokenIndex(index.TokenIndex{Name: "status", Path: "Observation.status", Value: "amended"})
	require.NoError(t, s.Upsert(ctx, resource, b.Build()))

	got, err := s.Lookup(ctx, "Observation", "o1")
	require.NoError(t, err)
	require.Len(t, got.TokenIndices, 1)
	assert.Equal(t, "amended", got.TokenIndices[0].Value)
	assert.Empty(t, got.NumberIndices)
	assert.Empty(t, got.PositionIndices)
	require.Len(t, got.DateTimeIndices, 1, "only _local_lastUpdated without meta.lastUpdated")
}

func TestSQLiteStore_ResourcesAreIsolated(t *testing.T) {
	s := openTestStore(t, time.Unix(0, 0))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		b := index.NewBuilder("Patient", id)
		b.AddStringIndex(index.StringIndex{Name: "name", Path: "Patient.name", Value: "name-" + id})
		require.NoError(t, s.Upsert(ctx, fhir.Resource{"resourceType": "Patient", "id": id}, b.Build()))
	}

	got, err := s.Lookup(ctx, "Patient", "b")
	require.NoError(t, err)
	require.Len(t, got.StringIndices, 1)
	assert.Equal(t, "name-b", got.StringIndices[0].Value)
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := openTestStore(t, time.Unix(0, 0))
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, fhir.Resource{"resourceType": "Observation", "id": "o1"}, sampleIndices()))
	require.NoError(t, s.Delete(ctx, "Observation", "o1"))

	_, err := s.Lookup(ctx, "Observation", "o1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "Observation", "o1"), "deleting twice is not an error")
}

func TestSQLiteStore_LookupMissing(t *testing.T) {
	s := openTestStore(t, time.Unix(0, 0))
	_, err := s.Lookup(context.Background(), "Patient", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_RejectsIndicesWithoutIdentity(t *testing.T) {
	s := openTestStore(t, time.Unix(0, 0))
	err := s.Upsert(context.Background(), fhir.Resource{}, index.ResourceIndices{})
	assert.Error(t, err)
}

func TestSQLiteStore_ReopenKeepsSchemaAndData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, fhir.Resource{"resourceType": "Observation", "id": "o1"}, sampleIndices()))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Lookup(ctx, "Observation", "o1")
	require.NoError(t, err)
	assert.Len(t, got.TokenIndices, 2)
	assert.NoError(t, s.Ping(ctx))
}

func TestSQLiteStore_SchemaVersion(t *testing.T) {
	s := openTestStore(t, time.Now())

	migrations, err := db.LoadMigrations(SQLiteMigrations())
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}
