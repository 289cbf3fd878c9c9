package observability

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/odyssey-erp/expenseflow/internal/approval"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "expenseflow_currency_conversion_failures_total 0") {
		t.Fatalf("expected body to contain expenseflow_currency_conversion_failures_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()

	metrics.ExpenseSubmitted(approval.StatusApproved, true)
	metrics.ExpenseSubmitted(approval.StatusPending, false)
	metrics.ExpenseSubmitted(approval.StatusPending, false)
	metrics.ApprovalDecided(approval.DecisionRejected, approval.StatusRejected)
	metrics.ConversionFailed()

	if got := testutil.ToFloat64(metrics.expensesSubmitted.WithLabelValues("pending", "false")); got != 2 {
		t.Fatalf("expected 2 pending submissions, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.expensesSubmitted.WithLabelValues("approved", "true")); got != 1 {
		t.Fatalf("expected 1 auto-approved submission, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.approvalDecisions.WithLabelValues("rejected", "rejected")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.conversionFailed); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected 1 conversion failure, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ExpenseSubmitted(approval.StatusPending, false)
	nilMetrics.ConversionFailed()
}
