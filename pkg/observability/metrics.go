package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payroll_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payroll_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payroll_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"method"},
	)
)

// Pipeline metrics.
var (
	FilesPreviewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payroll_files_previewed_total",
			Help: "Files processed by the preview step",
		},
		[]string{"classification", "status"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payroll_extraction_duration_seconds",
			Help:    "Duration of document extraction calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	Discrepancies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payroll_discrepancies_total",
			Help: "Reconciliation findings attached to previews",
		},
		[]string{"kind", "severity"},
	)

	FilesSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payroll_files_saved_total",
			Help: "Per-file outcomes of confirmed saves",
		},
		[]string{"outcome"},
	)

	BlobWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payroll_blob_write_failures_total",
			Help: "Source documents that could not be written after the database commit",
		},
	)
)

// Metrics collects Prometheus metrics for every HTTP request. The route label is
// the chi route pattern so path parameters do not explode cardinality.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ActiveRequests.WithLabelValues(r.Method).Inc()
		defer ActiveRequests.WithLabelValues(r.Method).Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
