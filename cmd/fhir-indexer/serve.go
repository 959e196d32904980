package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/fhirindex/internal/platform/middleware"
	"github.com/ehr/fhirindex/internal/server"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the indexing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bodyLimit, _ := cmd.Flags().GetString("body-limit")
			bundleLimit, _ := cmd.Flags().GetString("bundle-limit")
			origins, _ := cmd.Flags().GetStringSlice("cors-origin")
			return runServer(cmd.Context(), server.Options{
				BodyLimit:      bodyLimit,
				BundleLimit:    bundleLimit,
				CORSOrigins:    origins,
				RequestTimeout: requestTimeout,
			})
		},
	}
	cmd.Flags().String("body-limit", "1M", "Maximum request body size")
	cmd.Flags().String("bundle-limit", "10M", "Maximum body size for POST /fhir/$index")
	cmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origins")
	return cmd
}

func runServer(ctx context.Context, opts server.Options) error {
	a, err := newApp(os.Stdout)
	if err != nil {
		return err
	}
	logger := a.logger

	s, pinger, err := a.openStore(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open index store")
		return err
	}
	if s != nil {
		defer s.Close()
	}

	opts.Indexer = a.indexer
	opts.Store = s
	opts.Registry = a.registry
	opts.Metrics = a.metrics
	opts.Logger = logger
	opts.DB = pinger
	if a.cfg.AuthEnabled() {
		opts.Auth = &middleware.JWTConfig{
			SigningKey:   []byte(a.cfg.AuthSigningKey),
			Issuer:       a.cfg.AuthIssuer,
			Audience:     a.cfg.AuthAudience,
			SkipPrefixes: []string{"/health", "/metrics"},
		}
	} else {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set, API is unauthenticated")
	}

	e := server.New(opts)

	addr := ":" + a.cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("store", a.cfg.StoreDriver).
			Int("resource_types", len(a.registry.ResourceTypes())).
			Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err, ok := <-errCh:
		if ok {
			logger.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	case <-sigCtx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
