package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "census_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "census_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Batch metrics
	encountersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "census_encounters_processed_total",
			Help: "Encounters processed by outcome (derived, empty, rejected)",
		},
		[]string{"outcome"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "census_events_dropped_total",
			Help: "Events removed by each sanitizer stage",
		},
		[]string{"stage"},
	)

	eventsReordered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "census_events_reordered_total",
			Help: "Same-timestamp events moved by the sanitizer reorder stage",
		},
	)

	staysDerived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "census_stays_derived_total",
			Help: "Stays derived by status",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "census_run_duration_seconds",
			Help:    "Duration of a full batch run",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	censusPatientHours = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "census_patient_hours",
			Help: "Total patient hours allocated by the latest run",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency for echo routes.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			// Route templates keep label cardinality bounded.
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// --- Batch metric helpers ---

// RecordEncounter records the outcome of one encounter.
func RecordEncounter(outcome string) {
	encountersProcessed.WithLabelValues(outcome).Inc()
}

// RecordEventsDropped records events removed by a sanitizer stage.
func RecordEventsDropped(stage string, n int) {
	if n > 0 {
		eventsDropped.WithLabelValues(stage).Add(float64(n))
	}
}

// RecordEventsReordered records events moved by the reorder stage.
func RecordEventsReordered(n int) {
	if n > 0 {
		eventsReordered.Add(float64(n))
	}
}

// RecordStay records one derived stay.
func RecordStay(status string) {
	staysDerived.WithLabelValues(status).Inc()
}

// RecordRun records the duration and census volume of a completed run.
func RecordRun(duration time.Duration, patientHours float64) {
	runDuration.Observe(duration.Seconds())
	censusPatientHours.Set(patientHours)
}
