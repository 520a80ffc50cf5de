package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "webhooks_api"

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "requests_total",
		Help:      "Control API requests by route and status.",
	}, []string{"method", "route", "status"})

	apiLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "request_duration_seconds",
		Help:      "Control API request latency.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})

	apiInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "requests_in_flight",
		Help:      "Control API requests being served.",
	})

	apiResponseBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "response_size_bytes",
		Help:      "Control API response body size.",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "route"})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "auth_failures_total",
		Help:      "Rejected bearer tokens by reason.",
	}, []string{"reason"})
)

// RecordAuthFailure counts a rejected credential.
func RecordAuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}

// Metrics records request counters labelled with the matched chi route
// pattern, so registration IDs never become label values.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			apiInFlight.Inc()
			defer apiInFlight.Dec()

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := routePattern(r)
			apiRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			apiLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			apiResponseBytes.WithLabelValues(r.Method, route).Observe(float64(rec.bytes))
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}
