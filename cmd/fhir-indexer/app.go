package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirindex/internal/config"
	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/internal/platform/logging"
	"github.com/ehr/fhirindex/internal/platform/metrics"
	"github.com/ehr/fhirindex/internal/platform/searchparam"
	"github.com/ehr/fhirindex/internal/platform/ucum"
	"github.com/ehr/fhirindex/internal/store"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *searchparam.Registry
	metrics  *metrics.Metrics
	indexer  *index.Indexer
}

// newApp loads and validates the configuration, then builds the catalog
// and the indexer. Logs go to logOut.
func newApp(logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(logOut, cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return nil, err
	}

	registry, err := loadRegistry(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	engine, err := fhirpath.NewEngine(cfg.FHIRPathCacheSize)
	if err != nil {
		return nil, err
	}
	units, err := ucum.New(cfg.UnitCacheSize)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	ix := index.New(registry, engine, units,
		index.WithLogger(logger),
		index.WithObserver(m),
	)

	return &app{cfg: cfg, logger: logger, registry: registry, metrics: m, indexer: ix}, nil
}

// loadRegistry returns the built-in catalog extended with the definitions
// in path, if any.
func loadRegistry(path string) (*searchparam.Registry, error) {
	registry := searchparam.NewDefaultRegistry()
	if path == "" {
		return registry, nil
	}
	params, err := searchparam.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := registry.Add(params...); err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return registry, nil
}

// openStore opens the store selected by STORE_DRIVER. It returns a nil
// store for the "none" driver. The pinger backs /health/db.
func (a *app) openStore(ctx context.Context) (store.Store, db.Pinger, error) {
	switch a.cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewPostgres(pool)
		a.logger.Info().Msg("connected to database")
		return closeFunc{Store: s, close: pool.Close}, pool, nil
	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info().Str("path", a.cfg.SQLitePath).Msg("opened sqlite index store")
		return s, s, nil
	default:
		return nil, nil, nil
	}
}

// closeFunc runs close after the wrapped store is closed.
type closeFunc struct {
	store.Store
	close func()
}

func (c closeFunc) Close() error {
	err := c.Store.Close()
	c.close()
	return err
}
