// Package metrics defines the Prometheus collectors exported on /metrics.
//
// Collectors are registered on an injected registry rather than the global
// default so each server (and each test) gets an isolated set.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation labels.
const (
	OpRegister = "register"
	OpLogin    = "login"
)

// Outcome labels for auth attempts. Failures use the apperror kind
// (validation, conflict, unauthorized, internal).
const (
	OutcomeSuccess = "success"
)

// Metrics holds the auth starter's collectors.
type Metrics struct {
	AuthAttempts    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. If reg is also a
// prometheus.Gatherer (as *prometheus.Registry is) Handler serves from it.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authstarter_auth_attempts_total",
				Help: "Register and login attempts by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authstarter_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authstarter_rate_limited_total",
				Help: "Requests rejected by the per-IP rate limiter",
			},
		),
	}

	reg.MustRegister(m.AuthAttempts, m.RequestDuration, m.RateLimited)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}

	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// RecordAuth counts one register or login attempt.
func (m *Metrics) RecordAuth(operation, outcome string) {
	m.AuthAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordRequest observes one completed HTTP request. route is the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordRateLimited counts one rejected request.
func (m *Metrics) RecordRateLimited() {
	m.RateLimited.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
