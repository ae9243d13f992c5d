// Package metrics exposes Prometheus collectors for the gift service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "giftlink",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "giftlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	giftsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftlink",
			Subsystem: "gifts",
			Name:      "created_total",
			Help:      "Total number of gifts created.",
		},
		[]string{"theme", "gift_type"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftlink",
			Subsystem: "gifts",
			Name:      "claims_total",
			Help:      "Total number of claim attempts.",
		},
		[]string{"status"},
	)

	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "giftlink",
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Duration of settlement executor calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	consistencyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "giftlink",
			Subsystem: "gifts",
			Name:      "consistency_failures_total",
			Help:      "Settled claims whose gift record update failed and awaits reconciliation.",
		},
	)

	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftlink",
			Subsystem: "gifts",
			Name:      "reconciliations_total",
			Help:      "Reconciler passes over settled-but-unrecorded claims.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		giftsCreated,
		claims,
		settlementDuration,
		consistencyFailures,
		reconciliations,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordGiftCreated counts a successfully created gift.
func RecordGiftCreated(theme, giftType string) {
	giftsCreated.WithLabelValues(theme, giftType).Inc()
}

// RecordClaim counts a claim attempt by outcome and records how long the
// settlement call took when one was made.
func RecordClaim(status string, settleDuration time.Duration) {
	claims.WithLabelValues(status).Inc()
	if settleDuration > 0 {
		settlementDuration.Observe(settleDuration.Seconds())
	}
}

// RecordConsistencyFailure counts a settled claim whose record update failed.
func RecordConsistencyFailure() {
	consistencyFailures.Inc()
}

// RecordReconciliation counts one reconciler pass outcome.
func RecordReconciliation(outcome string) {
	reconciliations.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "gifts":
		if len(parts) == 1 {
			return "/gifts"
		}
		if len(parts) == 2 {
			return "/gifts/:id"
		}
		return "/gifts/:id/" + parts[2]
	case "senders":
		if len(parts) >= 3 {
			return "/senders/:address/" + parts[2]
		}
		return "/senders/:address"
	default:
		return "/" + parts[0]
	}
}
