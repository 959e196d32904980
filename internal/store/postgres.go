package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/fhir"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresMigrations returns the SQL migrations that create the index
// tables, for use with db.Migrator.
func PostgresMigrations() fs.FS {
	sub, err := fs.Sub(postgresMigrations, "migrations/postgres")
	if err != nil {
		panic(err)
	}
	return sub
}

// PostgresStore stores indices in PostgreSQL. The schema is created by the
// migrations in PostgresMigrations.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgres returns a store writing through pool.
func NewPostgres(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, opts: newOptions(opts)}
}

func (s *PostgresStore) Upsert(ctx context.Context, resource fhir.Resource, indices index.ResourceIndices) error {
	if err := validateIndices(indices); err != nil {
		return err
	}
	now := s.opts.now()
	ri, lastUpdated := withDerived(resource, indices, now)
	stmts := postgresDialect.upsertStatements(ri, lastUpdated, now)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return sendBatch(ctx, tx, stmts)
	})
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", ri.ResourceType, ri.ResourceID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, resourceType, resourceID string) error {
	stmts := postgresDialect.deleteStatements(resourceType, resourceID)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return sendBatch(ctx, tx, stmts)
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, resourceID, err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, resourceType, resourceID string) (index.ResourceIndices, error) {
	var indexedAt int64
	err := s.pool.QueryRow(ctx, postgresDialect.existsSQL(), resourceType, resourceID).Scan(&indexedAt)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) readTable(ctx context.Context, t table, resourceType, resourceID string, b *index.Builder) error {
	rows, err := s.pool.Query(ctx, postgresDialect.selectSQL(t), resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()
	return scanTable(t, rows, b)
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, stmts []statement) error {
	batch := &pgx.Batch{}
	for _, st := range stmts {
		batch.Queue(st.sql, st.args...)
	}
	return tx.SendBatch(ctx, batch).Close()
}
