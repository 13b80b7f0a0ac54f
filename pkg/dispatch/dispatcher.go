package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config defines the configuration of a Dispatcher.
type Config struct {
	Logger *zap.Logger // Logger for dispatcher operations

	// NotFound finalizes requests whose chain was exhausted without a response.
	// If nil, a plain-text 404 "Not Found" response is sent.
	NotFound Handler

	// DisableNotFound leaves exhausted chains unsent and reports *UnterminatedChainError,
	// so the caller can hand the request to another handler.
	DisableNotFound bool

	// Reporter receives every error raised while dispatching. If nil, errors are logged.
	Reporter ErrorReporter

	// TraceID extracts a trace ID from the request context for log fields. Optional.
	TraceID func(ctx context.Context) string
}

// Dispatcher runs the handlers of a RouteTable. It is safe for concurrent use.
type Dispatcher struct {
	table    *RouteTable
	config   Config
	logger   *zap.Logger
	notFound Handler
	reporter ErrorReporter
}

// New creates a Dispatcher for table and seals the table.
func New(table *RouteTable, config Config) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}

	notFound := config.NotFound
	if notFound == nil {
		notFound = HandlerFunc(defaultNotFound)
	}

	reporter := config.Reporter
	if reporter == nil {
		reporter = &LogReporter{Logger: logger, TraceID: config.TraceID}
	}

	table.Seal()

	return &Dispatcher{
		table:    table,
		config:   config,
		logger:   logger,
		notFound: notFound,
		reporter: reporter,
	}
}

// Table returns the dispatcher's route table.
func (d *Dispatcher) Table() *RouteTable {
	return d.table
}

func defaultNotFound(req *Request, res *Response, next Next) error {
	return res.SendStatus(http.StatusNotFound)
}

// Dispatch runs the chain of handlers matching req and returns the response.
//
// The returned response is always sent unless DisableNotFound is set and no handler
// responded. The returned error combines everything that went wrong in the chain
// (handler failures, writes after the response was sent, stalled handlers); each of
// those errors has also been passed to the Reporter.
func (d *Dispatcher) Dispatch(req *Request) (*Response, error) {
	res := NewResponse()
	res.bind(req)

	c := &chain{
		req:     req,
		res:     res,
		entries: d.table.Matches(req),
	}
	_ = c.next()

	// A stalled handler is forgiven when an earlier handler responded after its next returned.
	if c.stall != nil && res.Sent() {
		c.forget(c.stall)
		c.stall = nil
	}

	switch {
	case c.abort != nil:
		d.fail(res, c.abort)
	case c.stall != nil:
		_ = res.SendStatus(http.StatusInternalServerError)
	case !res.Sent():
		if d.config.DisableNotFound {
			c.record(&UnterminatedChainError{Method: req.Method, Path: req.Path})
			break
		}
		d.logger.Debug("No handler responded, sending not found",
			d.fields(req, zap.Int("matched", len(c.entries)))...,
		)
		d.runNotFound(c)
	}

	for _, err := range c.errs {
		d.reporter.Report(req, err)
	}
	return res, multierr.Combine(c.errs...)
}

// runNotFound runs the not-found handler outside the chain. A not-found handler that
// does not respond is backed by a plain 404.
func (d *Dispatcher) runNotFound(c *chain) {
	rec, err := invoke(d.notFound, c.req, c.res, func() error { return nil })
	if rec != nil || err != nil {
		he := &HandlerError{Index: -1, Pattern: "", Err: err, Panic: rec}
		if he.Err == nil {
			he.Err = fmt.Errorf("panic: %v", rec)
		}
		c.record(he)
		d.fail(c.res, he)
		return
	}
	if !c.res.Sent() {
		_ = c.res.SendStatus(http.StatusNotFound)
	}
}

// fail finalizes res for a failed chain unless a handler already responded.
func (d *Dispatcher) fail(res *Response, err error) {
	if res.Sent() {
		return
	}
	statusCode := http.StatusInternalServerError
	message := http.StatusText(statusCode)

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		statusCode = httpErr.StatusCode
		message = httpErr.Message
	}

	res.Set("Content-Type", "text/plain; charset=utf-8")
	_ = res.Status(statusCode).SendString(message)
}

func (d *Dispatcher) fields(req *Request, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	}
	if d.config.TraceID != nil {
		if traceID := d.config.TraceID(req.Context()); traceID != "" {
			fields = append([]zap.Field{zap.String("trace_id", traceID)}, fields...)
		}
	}
	return append(fields, extra...)
}

// chain is the state of one dispatch. It is only touched by the goroutine running
// the handlers.
type chain struct {
	req     *Request
	res     *Response
	entries []RouteEntry
	pos     int

	abort *HandlerError           // first handler failure, ends the chain
	stall *UnterminatedChainError // first handler that neither responded nor called next
	errs  []error
}

func (c *chain) record(err error) {
	for _, e := range c.errs {
		if e == err {
			return
		}
	}
	c.errs = append(c.errs, err)
}

func (c *chain) forget(err error) {
	for i, e := range c.errs {
		if e == err {
			c.errs = append(c.errs[:i], c.errs[i+1:]...)
			return
		}
	}
}

// next invokes the following matching entry.
func (c *chain) next() error {
	if c.res.Sent() {
		err := &DoubleResponseError{Op: "next", Method: c.req.Method, Path: c.req.Path}
		c.record(err)
		return err
	}
	if c.abort != nil {
		return c.abort
	}
	if c.pos >= len(c.entries) {
		return nil
	}

	i := c.pos
	c.pos++
	e := c.entries[i]

	called := false
	next := func() error {
		// Once the response is sent c.next reports a double response.
		if called && !c.res.Sent() {
			c.record(ErrNextCalled)
			return ErrNextCalled
		}
		called = true
		return c.next()
	}

	rec, err := invoke(e.Handler, c.req, c.res, next)
	if rec != nil {
		return c.fail(i, e, fmt.Errorf("panic: %v", rec), rec)
	}
	if err != nil {
		return c.fail(i, e, err, nil)
	}

	if !called && !c.res.Sent() && c.abort == nil && c.stall == nil {
		c.stall = &UnterminatedChainError{
			Method:  c.req.Method,
			Path:    c.req.Path,
			Stalled: true,
			Index:   i,
			Pattern: e.Pattern,
		}
		c.record(c.stall)
	}
	return nil
}

// fail classifies an error returned by the handler at index i.
func (c *chain) fail(i int, e RouteEntry, err error, rec any) error {
	if rec == nil {
		// Errors handed back from next or from a second write are already classified.
		var he *HandlerError
		if errors.As(err, &he) && he == c.abort {
			return err
		}
		var dre *DoubleResponseError
		if errors.As(err, &dre) {
			c.record(dre)
			return err
		}
		if errors.Is(err, ErrNextCalled) {
			c.record(ErrNextCalled)
			return err
		}
	}

	he := &HandlerError{Index: i, Pattern: e.Pattern, Err: err, Panic: rec}
	c.record(he)
	if c.abort == nil {
		c.abort = he
	}
	return he
}

// invoke calls h, converting a panic into its recovered value.
func invoke(h Handler, req *Request, res *Response, next Next) (rec any, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = r
		}
	}()
	return nil, h.Handle(req, res, next)
}
