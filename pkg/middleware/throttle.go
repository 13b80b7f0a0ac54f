package middleware

import (
	"net/http"
	"time"

	"go.uber.org/ratelimit"
)

// ThrottleConfig paces all requests through a single leaky bucket.
type ThrottleConfig struct {
	// RPS is the global number of requests let through per second. Zero disables throttling.
	RPS int `toml:"rps" yaml:"rps"`

	// Slack allows short bursts above RPS. Zero means strictly paced.
	Slack int `toml:"slack" yaml:"slack"`
}

// Throttle delays requests so that at most config.RPS reach next each second.
// Unlike RateLimit it never rejects; callers wait their turn unless their context ends first.
func Throttle(config ThrottleConfig) Middleware {
	if config.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return throttleWith(newPacer(config))
}

func newPacer(config ThrottleConfig) ratelimit.Limiter {
	opts := []ratelimit.Option{ratelimit.Per(time.Second)}
	if config.Slack > 0 {
		opts = append(opts, ratelimit.WithSlack(config.Slack))
	} else {
		opts = append(opts, ratelimit.WithoutSlack)
	}
	return ratelimit.New(config.RPS, opts...)
}

// throttleWith waits on pacer for every request. Take cannot be cancelled, so a request
// that gives up while waiting still uses its slot once the goroutine gets it; requests
// that arrive already cancelled are rejected without taking one.
func throttleWith(pacer ratelimit.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Context().Err() != nil {
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}

			taken := make(chan struct{})
			go func() {
				pacer.Take()
				close(taken)
			}()

			select {
			case <-taken:
				next.ServeHTTP(w, r)
			case <-r.Context().Done():
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			}
		})
	}
}
