package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/fhirindex/internal/config"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/store"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the index store schema",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			return migrateUp(cmd.Context(), cmd.OutOrStdout(), schema, dir)
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations (postgres)")
	upCmd.Flags().String("dir", "", "Migrations directory (default: built-in migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			return migrateStatus(cmd.Context(), cmd.OutOrStdout(), schema, dir)
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations (postgres)")
	statusCmd.Flags().String("dir", "", "Migrations directory (default: built-in migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func loadStoreConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return store.PostgresMigrations()
	}
	return os.DirFS(dir)
}

func migrateUp(ctx context.Context, w io.Writer, schema, dir string) error {
	cfg, err := loadStoreConfig()
	if err != nil {
		return err
	}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		migrator := db.NewMigrator(pool, migrationsFS(dir))
		fmt.Fprintf(w, "Running migrations on schema: %s\n", schema)
		count, err := migrator.Up(ctx, schema)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Fprintf(w, "Applied %d migration(s) successfully.\n", count)
		return nil

	case config.StoreSQLite:
		// OpenSQLite migrates on open.
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		defer s.Close()
		v, err := s.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "SQLite store %s is at schema version %d.\n", cfg.SQLitePath, v)
		return nil

	default:
		return fmt.Errorf("migrate requires STORE_DRIVER to be %q or %q", config.StorePostgres, config.StoreSQLite)
	}
}

func migrateStatus(ctx context.Context, w io.Writer, schema, dir string) error {
	cfg, err := loadStoreConfig()
	if err != nil {
		return err
	}

	var statuses []db.MigrationStatus
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		statuses, err = db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		fmt.Fprintf(w, "Migration status for schema: %s\n", schema)

	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer s.Close()
		statuses, err = sqliteStatuses(ctx, s)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Migration status for SQLite store: %s\n", cfg.SQLitePath)

	default:
		return fmt.Errorf("migrate requires STORE_DRIVER to be %q or %q", config.StorePostgres, config.StoreSQLite)
	}

	printStatuses(w, statuses)
	return nil
}

// sqliteStatuses reports every built-in migration up to the database's
// schema version as applied. SQLite does not record when.
func sqliteStatuses(ctx context.Context, s *store.SQLiteStore) ([]db.MigrationStatus, error) {
	migrations, err := db.LoadMigrations(store.SQLiteMigrations())
	if err != nil {
		return nil, err
	}
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]db.MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, db.MigrationStatus{Version: m.Version, Name: m.Name, Applied: m.Version <= v})
	}
	return out, nil
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(time.DateTime)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
