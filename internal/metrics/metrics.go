package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

const namespace = "apiusage"

// Fetch outcomes recorded per adapter call.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeCredential = "credential"
	OutcomeTimeout    = "timeout"
)

// Metrics holds the daemon's collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	pollCycles    *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	fetchDuration *prometheus.HistogramVec
	usagePercent  *prometheus.GaugeVec
	historyErrors prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles by trigger",
		}, []string{"trigger"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of one poll cycle",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Adapter fetch duration by service and outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"service", "outcome"}),
		usagePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_percent",
			Help:      "Last successful usage percentage per service",
		}, []string{"service"}),
		historyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_write_errors_total",
			Help:      "History store writes that failed",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(
		m.pollCycles,
		m.pollDuration,
		m.fetchDuration,
		m.usagePercent,
		m.historyErrors,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) ObservePollCycle(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(trigger).Inc()
	m.pollDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveFetch(kind core.ServiceKind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(string(kind), outcome).Observe(d.Seconds())
}

// SetUsage exports pct for kind, or drops the series when pct is nil.
func (m *Metrics) SetUsage(kind core.ServiceKind, pct *float64) {
	if m == nil {
		return
	}
	if pct == nil {
		m.usagePercent.DeleteLabelValues(string(kind))
		return
	}
	m.usagePercent.WithLabelValues(string(kind)).Set(*pct)
}

func (m *Metrics) HistoryWriteFailed() {
	if m == nil {
		return
	}
	m.historyErrors.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records HTTP request duration and count by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.status)
		m.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
