// Package server serves a dispatch.Dispatcher over HTTP.
// It wraps the dispatcher in the middleware stack and mounts operational endpoints next to it.
package server

import (
	"net/http"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/codec"
	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/metrics"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"go.uber.org/zap"
)

// Middleware is an alias for common.Middleware.
type Middleware = common.Middleware

// Config defines the configuration of a Server.
type Config struct {
	Logger        *zap.Logger                 // Logger for all server operations
	Timeout       time.Duration               // Response timeout for dispatched requests, zero disables
	MaxBodySize   int64                       // Maximum request body size in bytes, zero disables
	SlowThreshold time.Duration               // Requests slower than this are logged at Warn level
	IPConfig      *middleware.IPConfig        // Configuration for client IP extraction
	EnableTraceID bool                        // Assign trace IDs and log them
	Metrics       *metrics.Metrics            // Prometheus metrics, served on GET /metrics when set
	RateLimit     *middleware.RateLimitConfig // Per-client rate limit, nil disables
	Throttle      middleware.ThrottleConfig   // Global request pacing
	CORS          *middleware.CORSConfig      // CORS headers, nil disables
	Middlewares   []Middleware                // Applied innermost, after the built-in middleware
	Codecs        *codec.Registry             // Request body codecs, defaults to codec.DefaultRegistry()
	WebSocket     http.Handler                // Served on GET /ws when set, behind recovery, client IP, trace ID and rate limiting
	Fallback      http.Handler                // Serves requests no handler responded to when the dispatcher leaves them unsent
}
