// Package wsserver dispatches requests that arrive as JSON messages over a WebSocket.
//
// Every text message is a Message. It is converted into a dispatch request, run through
// the dispatcher, and answered with a Reply carrying the same ID. Messages on one
// connection are dispatched concurrently, so replies may arrive out of order.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is a request sent by the client.
type Message struct {
	ID     string            `json:"id,omitempty"`
	Method string            `json:"method,omitempty"` // Defaults to GET
	Path   string            `json:"path"`
	Query  map[string]string `json:"query,omitempty"`
	Header map[string]string `json:"headers,omitempty"`
	Body   map[string]any    `json:"body,omitempty"`
}

// Reply answers one Message.
type Reply struct {
	ID      string              `json:"id"`
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`

	// Body is the response body: embedded as-is for JSON responses, a string otherwise.
	Body any `json:"body,omitempty"`
}

// Config defines the configuration of a Server.
type Config struct {
	Logger *zap.Logger

	// MaxMessageSize caps incoming messages in bytes. Defaults to 1 MiB.
	MaxMessageSize int64

	// MaxInFlight caps concurrently dispatched messages per connection. Defaults to 16.
	MaxInFlight int

	// PingInterval is how often the server pings idle clients. Defaults to 30s.
	// A client that does not answer within two intervals is disconnected.
	PingInterval time.Duration

	// WriteTimeout bounds each write. Defaults to 10s.
	WriteTimeout time.Duration

	// CheckOrigin decides whether to accept the handshake. Nil accepts same-origin requests only.
	CheckOrigin func(r *http.Request) bool
}

// Server is an http.Handler that upgrades requests to WebSocket connections.
type Server struct {
	dispatcher *dispatch.Dispatcher
	config     Config
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// New creates a Server for d.
func New(d *dispatch.Dispatcher, config Config) *Server {
	if config.Logger == nil {
		var err error
		config.Logger, err = zap.NewProduction()
		if err != nil {
			config.Logger = zap.NewNop()
		}
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 1 << 20
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 16
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		dispatcher: d,
		config:     config,
		logger:     config.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP upgrades the connection and serves it until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.conns.Add(1)
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an error
		s.logger.Debug("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c := &connection{
		server:   s,
		conn:     conn,
		clientIP: middleware.ClientIP(r),
		inFlight: make(chan struct{}, s.config.MaxInFlight),
	}
	c.serve(s.ctx)
}

// Close disconnects all clients and waits for their in-flight messages to be answered.
func (s *Server) Close() {
	s.cancel()
	s.conns.Wait()
}

type connection struct {
	server   *Server
	conn     *websocket.Conn
	clientIP string

	writeMu  sync.Mutex
	inFlight chan struct{}
	pending  sync.WaitGroup
}

func (c *connection) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger := c.server.logger.With(zap.String("client_ip", c.clientIP))
	logger.Debug("WebSocket connected")

	interval := c.server.config.PingInterval
	c.conn.SetReadLimit(c.server.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * interval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * interval))
	})

	go c.keepAlive(ctx, interval)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Warn("WebSocket read failed", zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.write(Reply{Status: http.StatusUnsupportedMediaType, Body: "text messages only"})
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * interval))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.write(Reply{Status: http.StatusBadRequest, Body: "invalid message"})
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if !strings.HasPrefix(msg.Path, "/") {
			c.write(Reply{ID: msg.ID, Status: http.StatusBadRequest, Body: "path must start with /"})
			continue
		}

		select {
		case c.inFlight <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		c.pending.Add(1)
		go func(msg Message) {
			defer func() {
				<-c.inFlight
				c.pending.Done()
			}()
			c.write(c.dispatch(ctx, msg))
		}(msg)
	}

	c.pending.Wait()
	cancel()
	_ = c.conn.Close()
	logger.Debug("WebSocket disconnected")
}

// keepAlive pings the client until ctx is done. It also closes the connection once the
// server shuts down, which ends the read loop.
func (c *connection) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.server.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ctx.Done():
			deadline := time.Now().Add(c.server.config.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			_ = c.conn.SetReadDeadline(time.Now())
			return
		}
	}
}

func (c *connection) dispatch(ctx context.Context, msg Message) Reply {
	method := strings.ToUpper(msg.Method)
	if method == "" {
		method = http.MethodGet
	}

	req := dispatch.NewRequest(method, msg.Path).WithContext(ctx)
	for k, v := range msg.Query {
		req.Query.Set(k, v)
	}
	for k, v := range msg.Header {
		req.Header.Set(k, v)
	}
	if msg.Body != nil {
		req.Body = msg.Body
	}
	req.RemoteAddr = c.clientIP
	req.Set("ws.message_id", msg.ID)

	res, _ := c.server.dispatcher.Dispatch(req)
	return NewReply(msg.ID, res)
}

// NewReply converts a dispatched response into a Reply.
func NewReply(id string, res *dispatch.Response) Reply {
	if !res.Sent() {
		return Reply{ID: id, Status: http.StatusInternalServerError, Body: http.StatusText(http.StatusInternalServerError)}
	}

	reply := Reply{ID: id, Status: res.StatusCode(), Headers: res.Header()}
	body := res.Body()
	if len(body) == 0 || !bodyAllowed(reply.Status) {
		return reply
	}
	if strings.HasPrefix(res.Header().Get("Content-Type"), "application/json") && json.Valid(body) {
		reply.Body = json.RawMessage(body)
	} else {
		reply.Body = string(body)
	}
	return reply
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

func (c *connection) write(reply Reply) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
	if err := c.conn.WriteJSON(reply); err != nil {
		c.server.logger.Debug("WebSocket write failed",
			zap.String("client_ip", c.clientIP),
			zap.String("id", reply.ID),
			zap.Error(err),
		)
	}
}
