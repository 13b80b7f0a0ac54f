package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(Config{Namespace: "test"})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	return m
}

// TestMiddleware tests request counting by method and status
func TestMiddleware(t *testing.T) {
	m := newTestMetrics(t)

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/", "/", "/missing"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")); got != 2 {
		t.Errorf("Expected 2 successful requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "404")); got != 1 {
		t.Errorf("Expected 1 not found request, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("Expected no requests in flight, got %v", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Errorf("Expected 1 duration series, got %d", got)
	}
}

// TestReport tests chain error counting by kind
func TestReport(t *testing.T) {
	m := newTestMetrics(t)
	req := dispatch.NewRequest("GET", "/")

	m.Report(req, &dispatch.HandlerError{Index: 0, Pattern: "/", Err: errors.New("boom")})
	m.Report(req, &dispatch.HandlerError{Index: 0, Pattern: "/", Panic: "boom"})
	m.Report(req, &dispatch.DoubleResponseError{Op: "send", Method: "GET", Path: "/"})
	m.Report(req, &dispatch.DoubleResponseError{Op: "next", Method: "GET", Path: "/"})

	expected := `
# HELP test_chain_errors_total Number of errors raised while running handler chains, by kind.
# TYPE test_chain_errors_total counter
test_chain_errors_total{kind="double_response"} 2
test_chain_errors_total{kind="handler"} 1
test_chain_errors_total{kind="panic"} 1
`
	if err := testutil.CollectAndCompare(m.chainErrors, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metrics: %v", err)
	}
}

// TestHandler tests the exposition endpoint
func TestHandler(t *testing.T) {
	m := newTestMetrics(t)
	m.Report(dispatch.NewRequest("GET", "/"), dispatch.ErrNextCalled)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `test_chain_errors_total{kind="next_called"} 1`) {
		t.Errorf("Expected chain error series in output, got:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("Expected Go runtime metrics in output")
	}
}

// TestNewDefaults tests the default namespace
func TestNewDefaults(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	m.Report(nil, errors.New("other"))

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "sdispatch_chain_errors_total" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected sdispatch_chain_errors_total to be registered")
	}
}
