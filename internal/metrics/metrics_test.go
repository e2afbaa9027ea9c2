package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/usage/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"firecrawl", "serpapi"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/usage/"+id, http.NoBody))
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/usage/{id}", "404"))
	if got != 2 {
		t.Errorf("http_requests_total = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.httpDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestObservers(t *testing.T) {
	m := New()
	m.ObservePollCycle("interval", 300*time.Millisecond)
	m.ObservePollCycle("manual", time.Second)
	m.ObserveFetch(core.ServiceFirecrawl, OutcomeOK, 50*time.Millisecond)
	m.SetUsage(core.ServiceFirecrawl, core.Float64Ptr(42))
	m.HistoryWriteFailed()

	if got := testutil.ToFloat64(m.pollCycles.WithLabelValues("manual")); got != 1 {
		t.Errorf("manual cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.usagePercent.WithLabelValues("firecrawl")); got != 42 {
		t.Errorf("usage = %v", got)
	}
	if got := testutil.ToFloat64(m.historyErrors); got != 1 {
		t.Errorf("history errors = %v", got)
	}

	m.SetUsage(core.ServiceFirecrawl, nil)
	if n := testutil.CollectAndCount(m.usagePercent); n != 0 {
		t.Errorf("usage series after reset = %d, want 0", n)
	}
}

func TestHandler_ServesTextFormat(t *testing.T) {
	m := New()
	m.ObservePollCycle("interval", time.Second)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "apiusage_poll_cycles_total") {
		t.Errorf("metrics output missing poll counter:\n%s", body)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObservePollCycle("interval", time.Second)
	m.ObserveFetch(core.ServiceSerpAPI, OutcomeError, time.Second)
	m.SetUsage(core.ServiceSerpAPI, nil)
	m.HistoryWriteFailed()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rr := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d", rr.Code)
	}
}
