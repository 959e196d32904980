package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehr/fhirindex/internal/snapshot"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect index snapshots",
	}

	showCmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print the header and, with --records, the contents of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, _ := cmd.Flags().GetBool("records")
			return showSnapshot(cmd.OutOrStdout(), args[0], records)
		},
	}
	showCmd.Flags().Bool("records", false, "Print every ResourceIndices as JSON")
	cmd.AddCommand(showCmd)

	return cmd
}

func showSnapshot(w io.Writer, path string, records bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := snapshot.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	snap, err := snapshot.ReadFile(path)
	if err != nil {
		return err
	}

	total := 0
	for _, ri := range snap.Resources {
		total += ri.Len()
	}
	fmt.Fprintf(w, "Format version: %d\n", h.Version)
	fmt.Fprintf(w, "Compressed:     %t\n", h.Compressed())
	fmt.Fprintf(w, "Payload bytes:  %d\n", h.Length)
	fmt.Fprintf(w, "Created at:     %s\n", snap.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Resources:      %d\n", len(snap.Resources))
	fmt.Fprintf(w, "Records:        %d\n", total)

	if !records {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap.Resources)
}
