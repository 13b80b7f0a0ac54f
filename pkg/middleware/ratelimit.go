package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines per-client rate limiting
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second per client.
	Rate float64 `toml:"rate" yaml:"rate"`

	// Burst is the number of requests a client may make at once.
	Burst int `toml:"burst" yaml:"burst"`

	// StaleAfter is how long an idle client's limiter is kept.
	StaleAfter time.Duration `toml:"stale_after" yaml:"stale_after"`

	// CleanEvery is the interval of the stale limiter sweep.
	CleanEvery time.Duration `toml:"clean_every" yaml:"clean_every"`

	// ExemptPaths are never limited.
	ExemptPaths []string `toml:"exempt_paths" yaml:"exempt_paths"`

	// KeyExtractor identifies the client. Defaults to ClientIP.
	KeyExtractor func(*http.Request) string `toml:"-" yaml:"-"`
}

// DefaultRateLimitConfig returns the defaults used when a field is left zero.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:        10,
		Burst:       30,
		StaleAfter:  5 * time.Minute,
		CleanEvery:  3 * time.Minute,
		ExemptPaths: []string{"/healthz", "/metrics"},
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client key.
type ClientLimiter struct {
	config RateLimitConfig

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewClientLimiter creates a limiter and starts its stale sweep, which stops when ctx is done.
func NewClientLimiter(ctx context.Context, config RateLimitConfig) *ClientLimiter {
	defaults := DefaultRateLimitConfig()
	if config.Rate <= 0 {
		config.Rate = defaults.Rate
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.CleanEvery <= 0 {
		config.CleanEvery = defaults.CleanEvery
	}
	if config.KeyExtractor == nil {
		config.KeyExtractor = ClientIP
	}

	l := &ClientLimiter{config: config, visitors: make(map[string]*visitor)}
	go l.sweep(ctx)
	return l
}

func (l *ClientLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(l.config.CleanEvery)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.prune(now)
		case <-ctx.Done():
			return
		}
	}
}

// prune drops limiters idle for longer than StaleAfter.
func (l *ClientLimiter) prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.config.StaleAfter {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *ClientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Allow reports whether key may proceed, the tokens left, and the wait until the next token.
func (l *ClientLimiter) Allow(key string) (bool, int, time.Duration) {
	now := time.Now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.config.Rate), l.config.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	allowed := v.limiter.AllowN(now, 1)
	tokens := v.limiter.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	var reset time.Duration
	if tokens < 1 {
		reset = time.Duration((1 - tokens) / l.config.Rate * float64(time.Second))
	}
	return allowed, remaining, reset
}

// Middleware returns the HTTP middleware for l.
func (l *ClientLimiter) Middleware(logger *zap.Logger) Middleware {
	exempt := make(map[string]struct{}, len(l.config.ExemptPaths))
	for _, p := range l.config.ExemptPaths {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			key := l.config.KeyExtractor(r)
			allowed, remaining, reset := l.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.config.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				retry := int(math.Ceil(reset.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				logger.Warn("Rate limit exceeded", traceFields(r, zap.String("key", key))...)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit returns per-client rate limiting middleware.
// The ctx parameter controls the lifetime of the background cleanup goroutine.
func RateLimit(ctx context.Context, config RateLimitConfig, logger *zap.Logger) Middleware {
	return NewClientLimiter(ctx, config).Middleware(logger)
}
