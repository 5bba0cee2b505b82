// Package metrics exposes Prometheus metrics for the auth backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velorapos",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "velorapos",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "velorapos",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// LoginsTotal counts login outcomes: success, invalid_credentials,
	// locked, inactive
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velorapos",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Total login attempts by outcome",
		},
		[]string{"result"},
	)

	// LockoutsTotal counts accounts entering the locked state
	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "velorapos",
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Total number of account lockouts triggered",
		},
	)

	// SessionsRevokedTotal counts revoked sessions by cause: logout, admin,
	// password_reset
	SessionsRevokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velorapos",
			Subsystem: "auth",
			Name:      "sessions_revoked_total",
			Help:      "Total sessions revoked by cause",
		},
		[]string{"cause"},
	)

	// AuditDroppedTotal counts audit writes that failed and were dropped
	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "velorapos",
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Total audit log writes that failed and were dropped",
		},
	)
)

var (
	// DBConnectionsTotal tracks total connections in the pgx pool
	DBConnectionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "velorapos",
			Subsystem: "db",
			Name:      "connections_total",
			Help:      "Total number of connections in the pool",
		},
	)

	// DBConnectionsIdle tracks idle connections in the pgx pool
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "velorapos",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle connections in the pool",
		},
	)

	// DBConnectionsAcquired tracks connections currently checked out
	DBConnectionsAcquired = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "velorapos",
			Subsystem: "db",
			Name:      "connections_acquired",
			Help:      "Number of connections currently acquired",
		},
	)
)

// Handler returns the /metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP handlers with request metrics. The chi route
// pattern is used as the path label so IDs do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
