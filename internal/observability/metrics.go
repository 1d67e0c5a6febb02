package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transactionsTotal  *prometheus.CounterVec
	inventoryShortfall prometheus.Counter
	tillsOpen          prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cambix_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cambix_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cambix_transactions_total",
		Help: "Recorded exchange transactions by type.",
	}, []string{"type"})
	shortfall := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cambix_inventory_shortfall_total",
		Help: "Sell transactions priced partly on the fallback reference cost.",
	})
	tillsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cambix_tills_open",
		Help: "Currently open tills.",
	})
	registry.MustRegister(requests, duration, transactions, shortfall, tillsOpen)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		transactionsTotal:  transactions,
		inventoryShortfall: shortfall,
		tillsOpen:          tillsOpen,
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

// Middleware records metrics for every HTTP request.
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

// ObserveTransaction counts a recorded transaction of the given type.
func (m *Metrics) ObserveTransaction(txType string) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(txType).Inc()
}

// ObserveShortfall counts a sell priced partly on fallback valuation.
func (m *Metrics) ObserveShortfall() {
	if m == nil {
		return
	}
	m.inventoryShortfall.Inc()
}

// TillOpened increments the open-till gauge.
func (m *Metrics) TillOpened() {
	if m == nil {
		return
	}
	m.tillsOpen.Inc()
}

// TillClosed decrements the open-till gauge.
func (m *Metrics) TillClosed() {
	if m == nil {
		return
	}
	m.tillsOpen.Dec()
}

// Registerer exposes the registry for custom metric registration.
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
