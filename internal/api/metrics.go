package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentvault_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentvault_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	vaultEntriesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentvault_vault_entries_created_total",
		Help: "Total number of vault entries stored.",
	})

	scenarioOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentvault_scenario_outcomes_total",
		Help: "Scenario outcomes by resulting status and reason code.",
	}, []string{"status", "reason"})

	chargeDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentvault_charge_decisions_total",
		Help: "Mock charge decisions by result.",
	}, []string{"decision"})

	keysRotated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentvault_entries_rotated_total",
		Help: "Vault entries re-wrapped by the key-rotation batch job.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, vaultEntriesCreated,
		scenarioOutcomes, chargeDecisions, keysRotated)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
