// Package server exposes the indexer over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/platform/metrics"
	"github.com/ehr/fhirindex/internal/platform/middleware"
	"github.com/ehr/fhirindex/internal/platform/searchparam"
	"github.com/ehr/fhirindex/internal/store"
)

// Version is reported by GET /health.
var Version = "0.1.0"

// Options wires the server's collaborators. Store and DB may be nil.
type Options struct {
	Indexer  Indexer
	Store    store.Store
	Registry *searchparam.Registry
	Metrics  *metrics.Metrics
	DB       db.Pinger
	Logger   zerolog.Logger

	// Auth enables bearer token checks on the /fhir routes when non-nil.
	Auth *middleware.JWTConfig

	CORSOrigins    []string
	RequestTimeout time.Duration
	BodyLimit      string
	BundleLimit    string
}

// New builds the echo instance serving the indexing API.
func New(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	// Global middleware
	e.Use(middleware.Recovery(opts.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(opts.Logger))
	if opts.Metrics != nil {
		e.Use(opts.Metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	if len(opts.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		}))
	}

	// Health and metrics stay outside auth.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": Version,
		})
	})
	e.GET("/health/db", db.HealthHandler(opts.DB))
	if opts.Metrics != nil {
		e.GET("/metrics", opts.Metrics.Handler())
	}

	fhirGroup := e.Group("/fhir")
	if opts.Auth != nil {
		fhirGroup.Use(middleware.JWT(*opts.Auth))
	}
	fhirGroup.Use(middleware.BodyLimit(opts.BodyLimit, opts.BundleLimit))
	if opts.RequestTimeout > 0 {
		fhirGroup.Use(middleware.RequestTimeout(opts.RequestTimeout))
	}

	NewIndexHandler(opts.Indexer, opts.Store, opts.Logger).RegisterRoutes(fhirGroup)
	if opts.Registry != nil {
		searchparam.NewHandler(opts.Registry).RegisterRoutes(fhirGroup)
	}

	return e
}
