// Package batch indexes directories of FHIR JSON files. Each file holds a
// single resource or a Bundle; files are processed concurrently by a bounded
// pool of workers, and a lock file keeps two processes from indexing the same
// directory at once.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/fhir"
)

// LockFileName is the lock file created in an indexed directory.
const LockFileName = ".fhir-indexer.lock"

// ErrLocked is returned when another process holds the directory lock.
var ErrLocked = errors.New("batch: directory is locked by another indexer")

// Indexer extracts the index records of one resource.
type Indexer interface {
	Index(resource map[string]interface{}) (index.ResourceIndices, error)
}

// Sink receives indexed resources. store.Store satisfies it.
type Sink interface {
	Upsert(ctx context.Context, resource fhir.Resource, indices index.ResourceIndices) error
	Delete(ctx context.Context, resourceType, resourceID string) error
}

// Failure describes a resource or file that could not be indexed.
type Failure struct {
	File string `json:"file"`
	// Resource is "Type/id" when the failure concerns one resource of the
	// file, empty when the file itself could not be read.
	Resource string `json:"resource,omitempty"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

func (f Failure) Error() string {
	if f.Resource != "" {
		return fmt.Sprintf("%s (%s): %v", f.File, f.Resource, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.File, f.Err)
}

// Report is the outcome of a batch run. Indexed keeps file order and, within
// a file, entry order.
type Report struct {
	Files    int                     `json:"files"`
	Indexed  []index.ResourceIndices `json:"indexed"`
	Failures []Failure               `json:"failures"`
}

// Runner indexes files with a fixed number of workers.
type Runner struct {
	indexer  Indexer
	sink     Sink
	workers  int
	lockPath string
	logger   zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithSink writes every indexed resource to s.
func WithSink(s Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithWorkers sets the number of files indexed concurrently.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLockFile overrides the lock file location, which defaults to
// LockFileName inside the indexed directory.
func WithLockFile(path string) Option {
	return func(r *Runner) { r.lockPath = path }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner returns a Runner using indexer.
func NewRunner(indexer Indexer, opts ...Option) *Runner {
	r := &Runner{indexer: indexer, workers: 4, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IndexDir indexes every .json file under dir while holding the directory
// lock.
func (r *Runner) IndexDir(ctx context.Context, dir string) (*Report, error) {
	unlock, err := r.lock(dir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	return r.IndexFiles(ctx, files)
}

// IndexFiles indexes the given files. A resource that fails to index is
// reported in the Failures of the report and does not stop the run; a sink
// error or a cancelled context does.
func (r *Runner) IndexFiles(ctx context.Context, files []string) (*Report, error) {
	results, err := r.indexFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	return r.report(results), nil
}

type fileResult struct {
	path     string
	indexed  []index.ResourceIndices
	failures []Failure
	// unreadable is set when the file could not be read or decoded.
	unreadable bool
}

// keys returns the resources of the file that were indexed.
func (res fileResult) keys() []resourceKey {
	ks := make([]resourceKey, 0, len(res.indexed))
	for _, ri := range res.indexed {
		ks = append(ks, resourceKey{ri.ResourceType, ri.ResourceID})
	}
	return ks
}

func (r *Runner) indexFiles(ctx context.Context, files []string) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.indexFile(gctx, path)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) report(results []fileResult) *Report {
	report := &Report{Files: len(results), Indexed: []index.ResourceIndices{}, Failures: []Failure{}}
	for _, res := range results {
		report.Indexed = append(report.Indexed, res.indexed...)
		report.Failures = append(report.Failures, res.failures...)
	}
	r.logger.Info().
		Int("files", report.Files).
		Int("resources", len(report.Indexed)).
		Int("failures", len(report.Failures)).
		Msg("batch indexed")
	return report
}

func (r *Runner) indexFile(ctx context.Context, path string) (fileResult, error) {
	res := fileResult{path: path}

	resources, err := ReadResources(path)
	if err != nil {
		r.logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable file")
		res.unreadable = true
		res.failures = append(res.failures, newFailure(path, "", err))
		return res, nil
	}

	for _, resource := range resources {
		ref := resource.ResourceType() + "/" + resource.ID()
		ri, err := r.indexer.Index(resource)
		if err != nil {
			r.logger.Warn().Err(err).Str("file", path).Str("resource", ref).Msg("failed to index resource")
			res.failures = append(res.failures, newFailure(path, ref, err))
			continue
		}
		if r.sink != nil {
			if err := r.sink.Upsert(ctx, resource, ri); err != nil {
				return res, fmt.Errorf("store %s from %s: %w", ref, path, err)
			}
		}
		res.indexed = append(res.indexed, ri)
	}
	return res, nil
}

func newFailure(file, resource string, err error) Failure {
	return Failure{File: file, Resource: resource, Err: err, Message: err.Error()}
}

func (r *Runner) lock(dir string) (func(), error) {
	path := r.lockPath
	if path == "" {
		path = filepath.Join(dir, LockFileName)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			r.logger.Warn().Err(err).Str("lock", path).Msg("failed to release lock")
		}
	}, nil
}

// ListFiles returns the .json files under dir in lexical order, skipping
// hidden files and directories.
func ListFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && isResourceFile(name) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func isResourceFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json") && !strings.HasPrefix(name, ".")
}

// ReadResources reads one JSON file and returns its resources: the resource
// itself, or the entries of a Bundle.
func ReadResources(path string) ([]fhir.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := fhir.DecodeResource(f)
	if err != nil {
		return nil, err
	}
	return res.Entries(), nil
}
