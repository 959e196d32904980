package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last change before
// re-indexing.
const DefaultDebounce = 250 * time.Millisecond

type resourceKey struct {
	resourceType string
	resourceID   string
}

// Watch indexes dir, then re-indexes files as they are created or written
// until ctx is cancelled. Resources of removed files are deleted from the
// sink. onReport, when non-nil, receives the report of every run. The
// directory lock is held for the whole call.
func (r *Runner) Watch(ctx context.Context, dir string, debounce time.Duration, onReport func(*Report)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	unlock, err := r.lock(dir)
	if err != nil {
		return err
	}
	defer unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addDirs(w, dir); err != nil {
		return err
	}

	files, err := ListFiles(dir)
	if err != nil {
		return err
	}
	known := make(map[string][]resourceKey)
	if err := r.runWatched(ctx, files, known, onReport); err != nil {
		return err
	}

	changed := make(map[string]struct{})
	removed := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && !hidden(event.Name) {
					if err := addDirs(w, event.Name); err != nil {
						r.logger.Warn().Err(err).Str("dir", event.Name).Msg("failed to watch directory")
					}
					continue
				}
			}
			if !isResourceFile(filepath.Base(event.Name)) || hidden(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				removed[event.Name] = struct{}{}
				delete(changed, event.Name)
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				changed[event.Name] = struct{}{}
				delete(removed, event.Name)
			default:
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn().Err(err).Msg("watcher error")

		case <-timer.C:
			if err := r.removeWatched(ctx, keys(removed), known); err != nil {
				return err
			}
			if err := r.runWatched(ctx, keys(changed), known, onReport); err != nil {
				return err
			}
			clear(changed)
			clear(removed)
		}
	}
}

func (r *Runner) runWatched(ctx context.Context, files []string, known map[string][]resourceKey, onReport func(*Report)) error {
	if len(files) == 0 {
		return nil
	}
	results, err := r.indexFiles(ctx, files)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for _, res := range results {
		if res.unreadable {
			// Often a partial write; the next event re-reads the file.
			continue
		}
		current := res.keys()
		if err := r.dropStale(ctx, known[res.path], current); err != nil {
			return err
		}
		known[res.path] = current
	}
	if onReport != nil {
		onReport(r.report(results))
	}
	return nil
}

// dropStale deletes resources that a file used to contain but no longer
// does.
func (r *Runner) dropStale(ctx context.Context, previous, current []resourceKey) error {
	if r.sink == nil {
		return nil
	}
	keep := make(map[resourceKey]bool, len(current))
	for _, k := range current {
		keep[k] = true
	}
	for _, k := range previous {
		if keep[k] {
			continue
		}
		if err := r.sink.Delete(ctx, k.resourceType, k.resourceID); err != nil {
			return fmt.Errorf("delete %s/%s: %w", k.resourceType, k.resourceID, err)
		}
	}
	return nil
}

func (r *Runner) removeWatched(ctx context.Context, files []string, known map[string][]resourceKey) error {
	for _, path := range files {
		if r.sink != nil {
			for _, k := range known[path] {
				if err := r.sink.Delete(ctx, k.resourceType, k.resourceID); err != nil {
					return fmt.Errorf("delete %s/%s: %w", k.resourceType, k.resourceID, err)
				}
			}
		}
		if len(known[path]) > 0 {
			r.logger.Info().Str("file", path).Int("resources", len(known[path])).Msg("removed file indices")
		}
		delete(known, path)
	}
	return nil
}

func addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
