// Package obs holds Prometheus metrics for the splitbill server.
package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple servers do not collide.
type Metrics struct {
	reg *prometheus.Registry

	sessionOps *prometheus.CounterVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         *prometheus.CounterVec
}

// NewMetrics builds and registers all collectors, including Go runtime and process stats.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		sessionOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splitbill",
				Name:      "session_operations_total",
				Help:      "Session operations by outcome.",
			},
			[]string{"op", "outcome"},
		),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "splitbill",
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splitbill",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "splitbill",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splitbill",
				Name:      "http_rate_limited_total",
				Help:      "Requests rejected by the auth rate limiter.",
			},
			[]string{"path"},
		),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionOps,
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rateLimited,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// SessionOutcome counts one session operation.
func (m *Metrics) SessionOutcome(op, outcome string) {
	if m == nil {
		return
	}
	m.sessionOps.WithLabelValues(op, outcome).Inc()
}

// RateLimited counts one throttled request.
func (m *Metrics) RateLimited(path string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(CanonicalPath(path)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Instrument measures RPS, latency and in-flight requests.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var knownPaths = map[string]struct{}{
	"/auth/guest":    {},
	"/auth/register": {},
	"/auth/login":    {},
	"/auth/refresh":  {},
	"/auth/logout":   {},
	"/me":            {},
	"/healthz":       {},
	"/readyz":        {},
	"/metrics":       {},
}

// CanonicalPath maps a request path to a bounded label set.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
