package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/fhirindex/internal/batch"
	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/snapshot"
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index PATH...",
		Short: "Index FHIR JSON files or directories",
		Long: `Index every resource in the given files and directories. Each file holds
a single resource or a Bundle. The report is printed as JSON unless
--snapshot is given; --store also writes the records to the configured
index store.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts indexOptions
			opts.out, _ = cmd.Flags().GetString("out")
			opts.snapshot, _ = cmd.Flags().GetString("snapshot")
			opts.store, _ = cmd.Flags().GetBool("store")
			opts.watch, _ = cmd.Flags().GetBool("watch")
			opts.strict, _ = cmd.Flags().GetBool("strict")
			opts.workers, _ = cmd.Flags().GetInt("workers")
			return runIndex(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}
	cmd.Flags().StringP("out", "o", "", "Write the JSON report to this file instead of stdout")
	cmd.Flags().String("snapshot", "", "Write the records as a compressed snapshot to this file")
	cmd.Flags().Bool("store", false, "Write the records to the index store selected by STORE_DRIVER")
	cmd.Flags().Bool("watch", false, "Keep running and re-index a directory as its files change")
	cmd.Flags().Bool("strict", false, "Exit with an error when any resource fails to index")
	cmd.Flags().Int("workers", 0, "Files indexed concurrently (default INDEX_WORKERS)")
	return cmd
}

type indexOptions struct {
	out      string
	snapshot string
	store    bool
	watch    bool
	strict   bool
	workers  int
}

func runIndex(ctx context.Context, stdout io.Writer, paths []string, opts indexOptions) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}

	workers := opts.workers
	if workers <= 0 {
		workers = a.cfg.IndexWorkers
	}
	runnerOpts := []batch.Option{batch.WithWorkers(workers), batch.WithLogger(a.logger)}

	if opts.store {
		s, _, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if s == nil {
			return fmt.Errorf("--store requires STORE_DRIVER to be %q or %q", "postgres", "sqlite")
		}
		defer s.Close()
		runnerOpts = append(runnerOpts, batch.WithSink(s))
	}
	runner := batch.NewRunner(a.indexer, runnerOpts...)

	if opts.watch {
		if len(paths) != 1 {
			return fmt.Errorf("--watch takes exactly one directory")
		}
		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runner.Watch(sigCtx, paths[0], batch.DefaultDebounce, func(r *batch.Report) {
			if err := writeOutput(stdout, r, opts); err != nil {
				a.logger.Error().Err(err).Msg("failed to write report")
			}
		})
	}

	report, err := indexPaths(ctx, runner, paths)
	if err != nil {
		return err
	}
	if err := writeOutput(stdout, report, opts); err != nil {
		return err
	}
	if opts.strict && len(report.Failures) > 0 {
		return fmt.Errorf("%d resource(s) failed to index", len(report.Failures))
	}
	return nil
}

// indexPaths indexes directories one by one under their lock, then the
// loose files together.
func indexPaths(ctx context.Context, runner *batch.Runner, paths []string) (*batch.Report, error) {
	total := &batch.Report{Indexed: []index.ResourceIndices{}, Failures: []batch.Failure{}}
	var files []string
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, p)
			continue
		}
		r, err := runner.IndexDir(ctx, p)
		if err != nil {
			return nil, err
		}
		merge(total, r)
	}
	if len(files) > 0 {
		r, err := runner.IndexFiles(ctx, files)
		if err != nil {
			return nil, err
		}
		merge(total, r)
	}
	return total, nil
}

func merge(dst, src *batch.Report) {
	dst.Files += src.Files
	dst.Indexed = append(dst.Indexed, src.Indexed...)
	dst.Failures = append(dst.Failures, src.Failures...)
}

func writeOutput(stdout io.Writer, report *batch.Report, opts indexOptions) error {
	if opts.snapshot != "" {
		return snapshot.WriteFile(opts.snapshot, snapshot.Snapshot{
			CreatedAt: time.Now().UTC(),
			Resources: report.Indexed,
		})
	}

	w := stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
