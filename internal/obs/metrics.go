package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecocredit_submissions_total",
			Help: "Action submissions by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	claimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecocredit_fingerprint_claims_total",
			Help: "Evidence fingerprint claim attempts by outcome.",
		},
		[]string{"outcome"},
	)

	reviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecocredit_reviews_total",
			Help: "Action decisions by result.",
		},
		[]string{"decision"},
	)

	postingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecocredit_ledger_postings_total",
			Help: "Ledger entries appended by reason.",
		},
		[]string{"reason"},
	)

	verificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecocredit_verification_duration_seconds",
			Help:    "Time spent verifying evidence, adapters included.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"category"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			submissionsTotal, claimsTotal, reviewsTotal, postingsTotal, verificationDuration,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, request count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

func ObserveSubmission(category, outcome string) {
	submissionsTotal.WithLabelValues(category, outcome).Inc()
}

func ObserveClaim(outcome string) {
	claimsTotal.WithLabelValues(outcome).Inc()
}

func ObserveReview(decision string) {
	reviewsTotal.WithLabelValues(decision).Inc()
}

func ObservePosting(reason string) {
	postingsTotal.WithLabelValues(reason).Inc()
}

func ObserveVerification(category string, seconds float64) {
	verificationDuration.WithLabelValues(category).Observe(seconds)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
