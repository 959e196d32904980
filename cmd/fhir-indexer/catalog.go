package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehr/fhirindex/internal/config"
	"github.com/ehr/fhirindex/internal/platform/searchparam"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [RESOURCE_TYPE]",
		Short: "List the search parameters indexed for a resource type",
		Long: `Without an argument, list the resource types that have resource-specific
search parameters. With a resource type, list the definitions the indexer
evaluates for it, including the ones inherited from Resource.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			asJSON, _ := cmd.Flags().GetBool("json")
			if file == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				file = cfg.CatalogFile
			}
			registry, err := loadRegistry(file)
			if err != nil {
				return err
			}
			resourceType := ""
			if len(args) == 1 {
				resourceType = args[0]
			}
			return printCatalog(cmd.OutOrStdout(), registry, resourceType, asJSON)
		},
	}
	cmd.Flags().String("file", "", "Extra SearchParameter definitions (default CATALOG_FILE)")
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}

func printCatalog(w io.Writer, registry *searchparam.Registry, resourceType string, asJSON bool) error {
	if resourceType == "" {
		types := registry.ResourceTypes()
		if asJSON {
			return writeJSON(w, types)
		}
		for _, t := range types {
			fmt.Fprintln(w, t)
		}
		return nil
	}

	defs := registry.Lookup(resourceType)
	if asJSON {
		return writeJSON(w, defs)
	}
	if len(defs) == 0 {
		fmt.Fprintf(os.Stderr, "no search parameters for %s\n", resourceType)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tPATH")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Kind, d.Path)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
