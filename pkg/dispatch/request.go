// Package dispatch implements a sequential middleware dispatcher.
// Handlers are registered against path prefixes in a RouteTable; a Dispatcher runs every
// handler matching a request in registration order until one of them sends the response.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Body is a parsed request body. Form bodies decode to string values, JSON and protobuf
// bodies may carry any JSON-compatible value.
type Body map[string]any

// String returns the value stored under key formatted as a string.
// Missing keys and nil values return "".
func (b Body) String(key string) string {
	v, ok := b[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Has reports whether key is present in the body.
func (b Body) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// Request is the transport-independent view of an incoming request.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       Body // nil when the request carried no body
	RemoteAddr string

	ctx    context.Context
	locals map[string]any
}

// NewRequest creates a request for the given method and path with empty headers and query.
func NewRequest(method, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Query:  url.Values{},
		Header: http.Header{},
		locals: make(map[string]any),
	}
}

// Context returns the request's context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of r with its context changed to ctx.
// Locals are shared with the original request.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("nil context")
	}
	r2 := new(Request)
	*r2 = *r
	r2.ctx = ctx
	return r2
}

// Set stores a value that later handlers in the same chain can read with Get.
func (r *Request) Set(key string, value any) {
	if r.locals == nil {
		r.locals = make(map[string]any)
	}
	r.locals[key] = value
}

// Get returns a value stored with Set.
func (r *Request) Get(key string) (any, bool) {
	v, ok := r.locals[key]
	return v, ok
}
