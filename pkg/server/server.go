package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/Suhaibinator/SDispatch/pkg/codec"
	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Server is an http.Handler that runs every request through a Dispatcher.
// GET /healthz, and GET /metrics and GET /ws when configured, are answered by an
// operational router outside the middleware stack; everything else goes through the
// middleware stack to the dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
	config     Config
	logger     *zap.Logger
	codecs     *codec.Registry
	ops        *httprouter.Router
	limiter    *middleware.ClientLimiter // nil unless rate limiting is configured

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdown   bool
	shutdownMu sync.RWMutex
}

// New creates a Server for d.
func New(d *dispatch.Dispatcher, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}

	codecs := config.Codecs
	if codecs == nil {
		codecs = codec.DefaultRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		dispatcher: d,
		config:     config,
		logger:     logger,
		codecs:     codecs,
		cancel:     cancel,
	}
	if config.RateLimit != nil {
		s.limiter = middleware.NewClientLimiter(ctx, *config.RateLimit)
	}

	s.ops = httprouter.New()
	s.ops.RedirectTrailingSlash = false
	s.ops.RedirectFixedPath = false
	s.ops.HandleMethodNotAllowed = false
	s.ops.HandleOPTIONS = false
	s.ops.NotFound = s.buildChain().ThenFunc(s.serveDispatch)

	s.ops.PanicHandler = func(w http.ResponseWriter, r *http.Request, rec any) {
		logger.Error("Panic recovered",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Any("panic", rec),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	s.ops.GET("/healthz", s.healthz)
	if config.Metrics != nil {
		s.ops.Handler(http.MethodGet, "/metrics", config.Metrics.Handler())
	}
	if config.WebSocket != nil {
		s.ops.Handler(http.MethodGet, "/ws", s.buildUpgradeChain().Then(config.WebSocket))
	}

	return s
}

// buildChain assembles the middleware stack, outermost first.
func (s *Server) buildChain() common.MiddlewareChain {
	c := s.config
	chain := common.NewMiddlewareChain(
		middleware.Recovery(s.logger),
		middleware.ClientIPMiddleware(c.IPConfig),
	)
	chain = chain.AppendIf(c.EnableTraceID, middleware.TraceMiddleware())
	chain = chain.Append(middleware.Logging(s.logger, c.SlowThreshold))
	if c.Metrics != nil {
		chain = chain.Append(c.Metrics.Middleware())
	}
	chain = chain.Append(middleware.Throttle(c.Throttle))
	if s.limiter != nil {
		chain = chain.Append(s.limiter.Middleware(s.logger))
	}
	if c.CORS != nil {
		chain = chain.Append(middleware.CORS(*c.CORS))
	}
	chain = chain.AppendIf(c.MaxBodySize > 0, middleware.MaxBodySize(c.MaxBodySize))
	chain = chain.AppendIf(c.Timeout > 0, middleware.Timeout(c.Timeout, s.logger))
	return chain.Append(c.Middlewares...)
}

// buildUpgradeChain assembles the middleware in front of the websocket handler. Only
// middleware that leave the http.ResponseWriter unwrapped can run before a hijack.
// Clients share their rate limit buckets with plain HTTP requests.
func (s *Server) buildUpgradeChain() common.MiddlewareChain {
	chain := common.NewMiddlewareChain(
		middleware.Recovery(s.logger),
		middleware.ClientIPMiddleware(s.config.IPConfig),
	)
	chain = chain.AppendIf(s.config.EnableTraceID, middleware.TraceMiddleware())
	if s.limiter != nil {
		chain = chain.Append(s.limiter.Middleware(s.logger))
	}
	return chain
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// First add to the wait group before checking shutdown status
	s.wg.Add(1)

	s.shutdownMu.RLock()
	isShutdown := s.shutdown
	s.shutdownMu.RUnlock()

	if isShutdown {
		s.wg.Done()
		w.Header().Set("Connection", "close")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	s.ops.ServeHTTP(w, req)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// serveDispatch converts the request, dispatches it and writes the response.
func (s *Server) serveDispatch(w http.ResponseWriter, r *http.Request) {
	req, err := s.NewRequest(r)
	if err != nil {
		s.handleRequestError(w, r, err)
		return
	}

	res, err := s.dispatcher.Dispatch(req)
	if !res.Sent() {
		var uce *dispatch.UnterminatedChainError
		if s.config.Fallback != nil && errors.As(err, &uce) {
			s.config.Fallback.ServeHTTP(w, r)
			return
		}
	}

	if _, err := res.WriteHTTP(w); err != nil {
		s.logger.Debug("Failed to write response",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
}

// NewRequest converts r into a dispatch request, decoding its body with the configured codecs.
func (s *Server) NewRequest(r *http.Request) (*dispatch.Request, error) {
	body, err := s.codecs.DecodeRequest(r)
	if err != nil {
		return nil, err
	}

	req := dispatch.NewRequest(r.Method, r.URL.Path).WithContext(r.Context())
	req.Query = r.URL.Query()
	req.Header = r.Header.Clone()
	req.Body = body
	req.RemoteAddr = middleware.ClientIP(r)
	return req, nil
}

// handleError logs err and answers with statusCode and message.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int, message string) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", statusCode),
	}
	if traceID := middleware.GetTraceID(r); traceID != "" {
		fields = append([]zap.Field{zap.String("trace_id", traceID)}, fields...)
	}
	s.logger.Warn("Rejected request", fields...)
	http.Error(w, message, statusCode)
}

func (s *Server) handleRequestError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		s.handleError(w, r, err, http.StatusRequestEntityTooLarge, "Request Entity Too Large")
	case errors.Is(err, codec.ErrUnsupportedMediaType):
		s.handleError(w, r, err, http.StatusUnsupportedMediaType, "Unsupported Media Type")
	default:
		s.handleError(w, r, err, http.StatusBadRequest, "Bad Request")
	}
}

// Dispatcher returns the server's dispatcher.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Shutdown stops accepting requests, answering new ones with 503, and waits for
// in-flight requests to complete. If ctx ends first, its error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
