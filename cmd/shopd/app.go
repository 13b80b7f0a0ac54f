package main

import (
	"fmt"
	"net/http"

	"github.com/Suhaibinator/SDispatch/internal/shop"
	"github.com/Suhaibinator/SDispatch/pkg/config"
	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"github.com/Suhaibinator/SDispatch/pkg/metrics"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"github.com/Suhaibinator/SDispatch/pkg/server"
	"github.com/Suhaibinator/SDispatch/pkg/wsserver"
	"go.uber.org/zap"
)

// app is the wired shop: route table, dispatcher and the transports in front of it.
type app struct {
	table      *dispatch.RouteTable
	dispatcher *dispatch.Dispatcher
	server     *server.Server
	ws         *wsserver.Server // nil unless enabled
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	mode, err := cfg.Server.Mode()
	if err != nil {
		return nil, err
	}

	s, err := shop.New(shop.Config{
		Title:         cfg.Shop.Title,
		Logger:        logger.Named("shop"),
		AdminUser:     cfg.Shop.AdminUser,
		AdminPassword: cfg.Shop.AdminPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("create shop: %w", err)
	}

	table := dispatch.NewRouteTable(mode)
	if err := s.Routes(table); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	var m *metrics.Metrics
	reporter := dispatch.ErrorReporter(&dispatch.LogReporter{Logger: logger, TraceID: middleware.GetTraceIDFromContext})
	if cfg.Metrics.Enabled {
		m, err = metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		reporter = dispatch.Reporters(reporter, m)
	}

	d := dispatch.New(table, dispatch.Config{
		Logger:   logger,
		NotFound: s.NotFound(),
		Reporter: reporter,
		TraceID:  middleware.GetTraceIDFromContext,
	})

	a := &app{table: table, dispatcher: d}

	var ws http.Handler
	if cfg.WebSocket.Enabled {
		a.ws = wsserver.New(d, wsserver.Config{
			Logger:         logger.Named("ws"),
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			MaxInFlight:    cfg.WebSocket.MaxInFlight,
			PingInterval:   cfg.WebSocket.PingInterval,
			CheckOrigin:    allowOrigins(cfg.WebSocket.AllowedOrigins),
		})
		ws = a.ws
	}

	ip := cfg.Server.IP
	a.server = server.New(d, server.Config{
		Logger:        logger,
		Timeout:       cfg.Server.RequestTimeout,
		MaxBodySize:   cfg.Server.MaxBodySize,
		SlowThreshold: cfg.Server.SlowThreshold,
		IPConfig:      &ip,
		EnableTraceID: cfg.Server.TraceID,
		Metrics:       m,
		RateLimit:     cfg.Server.RateLimit,
		Throttle:      cfg.Server.Throttle,
		CORS:          cfg.Server.CORS,
		WebSocket:     ws,
	})
	return a, nil
}

// allowOrigins returns an origin check accepting the listed origins, or nil to keep
// the same-origin default when none are listed. "*" accepts any origin.
func allowOrigins(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[r.Header.Get("Origin")]
		return ok
	}
}
