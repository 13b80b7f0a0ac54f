package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestRateLimit tests that clients are rejected once their burst is spent
func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := observer.New(zap.WarnLevel)
	handler := RateLimit(ctx, RateLimitConfig{Rate: 0.001, Burst: 2}, zap.New(core))(okHandler())

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status code %d, got %d", i, http.StatusOK, rr.Code)
		}
		if rr.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("Expected X-RateLimit-Limit %q, got %q", "2", rr.Header().Get("X-RateLimit-Limit"))
		}
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status code %d, got %d", http.StatusTooManyRequests, rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("Expected X-RateLimit-Remaining %q, got %q", "0", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Errorf("Expected Retry-After header")
	}
	if logs.FilterMessage("Rate limit exceeded").Len() != 1 {
		t.Errorf("Expected rejection to be logged")
	}

	// Another client has its own bucket
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.9:1000"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status code %d for a second client, got %d", http.StatusOK, rr.Code)
	}
}

// TestRateLimitExemptPaths tests that exempt paths bypass the limiter
func TestRateLimitExemptPaths(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := RateLimitConfig{Rate: 0.001, Burst: 1, ExemptPaths: []string{"/healthz"}}
	handler := RateLimit(ctx, config, zap.NewNop())(okHandler())

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("Expected status code %d, got %d", http.StatusOK, rr.Code)
		}
	}
}

// TestRateLimitKeyExtractor tests custom client keys
func TestRateLimitKeyExtractor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := RateLimitConfig{
		Rate:         0.001,
		Burst:        1,
		KeyExtractor: func(r *http.Request) string { return r.Header.Get("X-User") },
	}
	handler := RateLimit(ctx, config, zap.NewNop())(okHandler())

	codes := make([]int, 0, 3)
	for _, user := range []string{"alice", "bob", "alice"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-User", user)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 200 429], got %v", codes)
	}
}

// TestClientLimiterPrune tests that idle clients are forgotten
func TestClientLimiterPrune(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewClientLimiter(ctx, RateLimitConfig{StaleAfter: time.Minute})
	l.Allow("a")
	l.Allow("b")

	if removed := l.prune(time.Now()); removed != 0 {
		t.Errorf("Expected no clients to be pruned, got %d", removed)
	}
	if removed := l.prune(time.Now().Add(2 * time.Minute)); removed != 2 {
		t.Errorf("Expected 2 clients to be pruned, got %d", removed)
	}
	if l.Len() != 0 {
		t.Errorf("Expected no tracked clients, got %d", l.Len())
	}
}

// TestClientLimiterDefaults tests that zero fields take defaults
func TestClientLimiterDefaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewClientLimiter(ctx, RateLimitConfig{})
	defaults := DefaultRateLimitConfig()
	if l.config.Rate != defaults.Rate || l.config.Burst != defaults.Burst {
		t.Errorf("Expected default rate %v and burst %d, got %v and %d", defaults.Rate, defaults.Burst, l.config.Rate, l.config.Burst)
	}
	if l.config.KeyExtractor == nil {
		t.Errorf("Expected default key extractor")
	}
}
