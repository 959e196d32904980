package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite"

	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/platform/fhir"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore stores indices in an embedded SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// OpenSQLite opens or creates the database at path and brings its schema up
// to date. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// A single connection serializes writers and keeps an in-memory
	// database alive for the life of the store.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrateSQLite(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &SQLiteStore{db: conn, opts: newOptions(opts)}, nil
}

// SQLiteMigrations returns the SQL migrations applied by OpenSQLite.
func SQLiteMigrations() fs.FS {
	sub, err := fs.Sub(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		panic(err)
	}
	return sub
}

// migrateSQLite applies the embedded migrations newer than the database's
// user_version.
func migrateSQLite(ctx context.Context, conn *sql.DB) error {
	migrations, err := db.LoadMigrations(SQLiteMigrations())
	if err != nil {
		return err
	}

	var current int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if _, err := conn.ExecContext(ctx, mig.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", mig.Version)); err != nil {
			return fmt.Errorf("record migration %d: %w", mig.Version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, resource fhir.Resource, indices index.ResourceIndices) error {
	if err := validateIndices(indices); err != nil {
		return err
	}
	now := s.opts.now()
	ri, lastUpdated := withDerived(resource, indices, now)
	stmts := sqliteDialect.upsertStatements(ri, lastUpdated, now)

	if err := s.execTx(ctx, stmts); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", ri.ResourceType, ri.ResourceID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, resourceType, resourceID string) error {
	if err := s.execTx(ctx, sqliteDialect.deleteStatements(resourceType, resourceID)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, resourceID, err)
	}
	return nil
}

func (s *SQLiteStore) execTx(ctx context.Context, stmts []statement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.sql, st.args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Lookup(ctx context.Context, resourceType, resourceID string) (index.ResourceIndices, error) {
	var indexedAt int64
	err := s.db.QueryRowContext(ctx, sqliteDialect.existsSQL(), resourceType, resourceID).Scan(&indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return index.ResourceIndices{}, ErrNotFound
	}
	if err != nil {
		return index.ResourceIndices{}, fmt.Errorf("lookup %s/%s: %w", resourceType, resourceID, err)
	}

	b := index.NewBuilder(resourceType, resourceID)
	for _, t := range tables {
		if err := s.readTable(ctx, t, resourceType, resourceID, b); err != nil {
			return index.ResourceIndices{}, fmt.Errorf("lookup %s/%s: %w", resourceType, resourceID, err)
		}
	}
	return b.Build(), nil
}

func (s *SQLiteStore) readTable(ctx context.Context, t table, resourceType, resourceID string, b *index.Builder) error {
	rows, err := s.db.QueryContext(ctx, sqliteDialect.selectSQL(t), resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()
	return scanTable(t, rows, b)
}

// SchemaVersion returns the version of the newest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Ping checks that the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
