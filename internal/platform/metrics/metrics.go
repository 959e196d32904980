// Package metrics provides Prometheus metrics for the indexing service.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/fhirindex/internal/index"
)

const namespace = "fhirindex"

// Metrics holds the collectors of the service. It implements index.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Indexing metrics
	ResourcesIndexed *prometheus.CounterVec
	RecordsEmitted   *prometheus.CounterVec
	IndexErrors      *prometheus.CounterVec
	UnitFallbacks    prometheus.Counter
	IndexDuration    *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

var _ index.Observer = (*Metrics)(nil)

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.ResourcesIndexed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resources_indexed_total",
			Help:      "Total number of resources indexed",
		},
		[]string{"resource_type"},
	)

	m.RecordsEmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Total number of index records emitted, by kind",
		},
		[]string{"kind"},
	)

	m.IndexErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_errors_total",
			Help:      "Total number of resources that failed to index",
		},
		[]string{"resource_type", "reason"},
	)

	m.UnitFallbacks = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_canonicalization_fallbacks_total",
			Help:      "Total number of quantities indexed without a canonical form",
		},
	)

	m.IndexDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_duration_seconds",
			Help:      "Time spent indexing one resource",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"resource_type"},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.HTTPRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Indexed records a successfully indexed resource.
func (m *Metrics) Indexed(resourceType string, indices index.ResourceIndices, elapsed time.Duration) {
	m.ResourcesIndexed.WithLabelValues(resourceType).Inc()
	m.IndexDuration.WithLabelValues(resourceType).Observe(elapsed.Seconds())
	for kind, n := range indices.Counts() {
		if n > 0 {
			m.RecordsEmitted.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// Failed records a resource that could not be indexed.
func (m *Metrics) Failed(resourceType string, err error) {
	if resourceType == "" {
		resourceType = "unknown"
	}
	m.IndexErrors.WithLabelValues(resourceType, reason(err)).Inc()
}

// CanonicalizationFallback records a quantity whose unit could not be
// canonicalized. The unit code is not used as a label since it is free input.
func (m *Metrics) CanonicalizationFallback(string) {
	m.UnitFallbacks.Inc()
}

func reason(err error) string {
	switch {
	case errors.Is(err, index.ErrInvalidResource):
		return "invalid_resource"
	case errors.Is(err, index.ErrUnsupportedValue):
		return "unsupported_value"
	default:
		return "evaluation"
	}
}

// Middleware returns an Echo middleware that records HTTP server metrics.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequestsTotal.WithLabelValues(c.Request().Method, route, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
}
