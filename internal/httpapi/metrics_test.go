package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"modelpilot/internal/pipeline"
)

// TestMetricsMiddleware_UsesRoutePattern ensures job ids do not leak into
// the path label.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	svc := newMockService()
	r := NewMux(svc)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/abc123", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if mrr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", mrr.Code)
	}
	body := mrr.Body.Bytes()
	if !bytes.Contains(body, []byte("modelpilot_http_requests_total")) || !bytes.Contains(body, []byte("/jobs/{id}")) {
		preview := body
		if len(preview) > 400 {
			preview = preview[:400]
		}
		t.Fatalf("expected modelpilot_http_requests_total with '/jobs/{id}'; got: %q", string(preview))
	}
	if bytes.Contains(body, []byte("abc123")) {
		t.Fatal("raw job id leaked into metric labels")
	}
}

func TestIncrementBackpressure_IncrementsCounter(t *testing.T) {
	baseline := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue"))
	IncrementBackpressure("queue")
	IncrementBackpressure("queue")
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue")); got < baseline+2 {
		t.Fatalf("expected backpressure counter >= %v, got %v", baseline+2, got)
	}

	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if after := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")); after < before+1 {
		t.Fatalf("expected unspecified reason to increment: before=%v after=%v", before, after)
	}
}

func TestTooBusyCountsBackpressure(t *testing.T) {
	svc := newMockService()
	svc.submitErr = pipeline.ErrTooBusy(1)
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue"))
	if w := postJob(NewMux(svc), `{"text":"x"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", w.Code)
	}
	if after := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue")); after < before+1 {
		t.Fatalf("backpressure not counted: before=%v after=%v", before, after)
	}
}
