// Package observability collects Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the application's Prometheus collectors. All methods are
// safe to call on a nil receiver so tests can run without a registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	paymentsTotal   *prometheus.CounterVec
	ledgerFailures  prometheus.Counter
	overdueCount    *prometheus.GaugeVec
	overdueAmount   *prometheus.GaugeVec
}

// NewMetrics initialises the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vendaflow_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vendaflow_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vendaflow_payments_recorded_total",
		Help: "Successfully recorded payments by account kind.",
	}, []string{"kind"})
	ledgerFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vendaflow_ledger_post_failures_total",
		Help: "Cash ledger movement posts that failed.",
	})
	overdueCount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vendaflow_overdue_installments",
		Help: "Open overdue installments by account kind.",
	}, []string{"kind"})
	overdueAmount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vendaflow_overdue_amount",
		Help: "Outstanding overdue amount by account kind.",
	}, []string{"kind"})
	registry.MustRegister(requests, duration, payments, ledgerFailures, overdueCount, overdueAmount)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		paymentsTotal:   payments,
		ledgerFailures:  ledgerFailures,
		overdueCount:    overdueCount,
		overdueAmount:   overdueAmount,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// PaymentRecorded counts one successfully recorded payment.
func (m *Metrics) PaymentRecorded(kind string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(kind).Inc()
}

// LedgerPostFailure counts one failed ledger post.
func (m *Metrics) LedgerPostFailure() {
	if m == nil {
		return
	}
	m.ledgerFailures.Inc()
}

// SetOverdueExposure updates the overdue gauges for one account kind.
func (m *Metrics) SetOverdueExposure(kind string, count int, amount float64) {
	if m == nil {
		return
	}
	m.overdueCount.WithLabelValues(kind).Set(float64(count))
	m.overdueAmount.WithLabelValues(kind).Set(amount)
}

// Registerer exposes the registry for registering custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
