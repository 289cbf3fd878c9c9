package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/expenseflow/internal/approval"
)

// Metrics collects Prometheus metrics for the API.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	expensesSubmitted *prometheus.CounterVec
	approvalDecisions *prometheus.CounterVec
	conversionFailed  prometheus.Counter
}

// NewMetrics initialises the registry with HTTP and expense metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expenseflow_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "expenseflow_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	submitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expenseflow_expenses_submitted_total",
		Help: "Submitted expenses by resulting status and auto-approval.",
	}, []string{"status", "auto_approved"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expenseflow_approval_decisions_total",
		Help: "Approval decisions by decision and resulting status.",
	}, []string{"decision", "status"})
	conversion := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expenseflow_currency_conversion_failures_total",
		Help: "Submissions rejected because no exchange rate was available.",
	})
	registry.MustRegister(
		requests, duration, submitted, decisions, conversion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		expensesSubmitted: submitted,
		approvalDecisions: decisions,
		conversionFailed:  conversion,
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

// Middleware records metrics for each HTTP request.
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

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ExpenseSubmitted counts a persisted submission.
func (m *Metrics) ExpenseSubmitted(status approval.Status, autoApproved bool) {
	if m == nil {
		return
	}
	m.expensesSubmitted.WithLabelValues(string(status), strconv.FormatBool(autoApproved)).Inc()
}

// ApprovalDecided counts an applied approval decision.
func (m *Metrics) ApprovalDecided(decision approval.Decision, status approval.Status) {
	if m == nil {
		return
	}
	m.approvalDecisions.WithLabelValues(string(decision), string(status)).Inc()
}

// ConversionFailed counts a submission rejected for lack of a rate.
func (m *Metrics) ConversionFailed() {
	if m == nil {
		return
	}
	m.conversionFailed.Inc()
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
