package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/fhir"
)

// idIndexer indexes the id of every resource as a token and fails for
// resources with id "bad".
type idIndexer struct{}

func (idIndexer) Index(resource map[string]interface{}) (index.ResourceIndices, error) {
	rt, _ := resource["resourceType"].(string)
	id, _ := resource["id"].(string)
	if id == "bad" {
		return index.ResourceIndices{}, errors.New("cannot index")
	}
	b := index.NewBuilder(rt, id)
	b.AddTokenIndex(index.TokenIndex{Name: "_id", Path: rt + ".id", Value: id})
	return b.Build(), nil
}

type memorySink struct {
	mu      sync.Mutex
	stored  map[string]index.ResourceIndices
	deletes []string
	failOn  string
}

func newMemorySink() *memorySink {
	return &memorySink{stored: make(map[string]index.ResourceIndices)}
}

func (s *memorySink) Upsert(_ context.Context, resource fhir.Resource, ri index.ResourceIndices) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ri.ResourceType + "/" + ri.ResourceID
	if key == s.failOn {
		return errors.New("disk full")
	}
	s.stored[key] = ri
	return nil
}

func (s *memorySink) Delete(_ context.Context, resourceType, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := resourceType + "/" + resourceID
	delete(s.stored, key)
	s.deletes = append(s.deletes, key)
	return nil
}

func (s *memorySink) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stored[key]
	return ok
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const bundleJSON = `{
  "resourceType": "Bundle",
  "type": "collection",
  "entry": [
    {"resource": {"resourceType": "Patient", "id": "p1"}},
    {"resource": {"resourceType": "Observation", "id": "bad"}},
    {"resource": {"resourceType": "Observation", "id": "o1"}}
  ]
}`

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", `{}`)
	writeFile(t, dir, "a.JSON", `{}`)
	writeFile(t, dir, "notes.txt", "x")
	writeFile(t, dir, ".hidden.json", `{}`)
	writeFile(t, dir, ".git/c.json", `{}`)
	writeFile(t, dir, "sub/d.json", `{}`)

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.JSON"),
		filepath.Join(dir, "b.json"),
		filepath.Join(dir, "sub", "d.json"),
	}, files)
}

func TestReadResources(t *testing.T) {
	dir := t.TempDir()
	single := writeFile(t, dir, "p.json", `{"resourceType": "Patient", "id": "p1"}`)
	bundle := writeFile(t, dir, "b.json", bundleJSON)
	notResource := writeFile(t, dir, "x.json", `{"id": "p1"}`)

	res, err := ReadResources(single)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "p1", res[0].ID())

	res, err = ReadResources(bundle)
	require.NoError(t, err)
	assert.Len(t, res, 3)

	_, err = ReadResources(notResource)
	assert.ErrorIs(t, err, fhir.ErrNotAResource)
}

func TestRunner_IndexDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "01-bundle.json", bundleJSON)
	writeFile(t, dir, "02-patient.json", `{"resourceType": "Patient", "id": "p2"}`)
	writeFile(t, dir, "03-broken.json", `{"resourceType": `)

	sink := newMemorySink()
	r := NewRunner(idIndexer{}, WithSink(sink), WithWorkers(2))

	report, err := r.IndexDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Files)
	require.Len(t, report.Indexed, 3)
	assert.Equal(t, "p1", report.Indexed[0].ResourceID)
	assert.Equal(t, "o1", report.Indexed[1].ResourceID)
	assert.Equal(t, "p2", report.Indexed[2].ResourceID)

	require.Len(t, report.Failures, 2)
	assert.Equal(t, "Observation/bad", report.Failures[0].Resource)
	assert.Empty(t, report.Failures[1].Resource)
	assert.Equal(t, filepath.Join(dir, "03-broken.json"), report.Failures[1].File)
	assert.NotEmpty(t, report.Failures[1].Message)

	assert.True(t, sink.has("Patient/p1"))
	assert.True(t, sink.has("Observation/o1"))
	assert.True(t, sink.has("Patient/p2"))
	assert.False(t, sink.has("Observation/bad"))
}

func TestRunner_SinkErrorAbortsRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.json", `{"resourceType": "Patient", "id": "p1"}`)

	sink := newMemorySink()
	sink.failOn = "Patient/p1"
	r := NewRunner(idIndexer{}, WithSink(sink))

	_, err := r.IndexDir(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunner_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.json", `{"resourceType": "Patient", "id": "p1"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(idIndexer{}).IndexDir(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_DirectoryLocked(t *testing.T) {
	dir := t.TempDir()
	held := flock.New(filepath.Join(dir, LockFileName))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = NewRunner(idIndexer{}).IndexDir(context.Background(), dir)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestRunner_LockReleasedAfterRun(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(idIndexer{})

	_, err := r.IndexDir(context.Background(), dir)
	require.NoError(t, err)
	_, err = r.IndexDir(context.Background(), dir)
	assert.NoError(t, err)
}

func TestRunner_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p1.json", `{"resourceType": "Patient", "id": "p1"}`)

	sink := newMemorySink()
	r := NewRunner(idIndexer{}, WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *Report, 16)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, dir, 20*time.Millisecond, func(rep *Report) { reports <- rep })
	}()

	select {
	case rep := <-reports:
		require.Len(t, rep.Indexed, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("initial run did not report")
	}
	assert.True(t, sink.has("Patient/p1"))

	p2 := writeFile(t, dir, "p2.json", `{"resourceType": "Patient", "id": "p2"}`)
	require.Eventually(t, func() bool { return sink.has("Patient/p2") }, 5*time.Second, 10*time.Millisecond)

	// rewriting a file with a different resource drops the old one
	writeFile(t, dir, "p1.json", `{"resourceType": "Patient", "id": "p1b"}`)
	require.Eventually(t, func() bool {
		return sink.has("Patient/p1b") && !sink.has("Patient/p1")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(p2))
	require.Eventually(t, func() bool { return !sink.has("Patient/p2") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}
