package dispatch

import (
	"strings"
	"sync/atomic"
)

// Next continues the chain with the following matching handler.
// It returns the error that aborted the rest of the chain, if any.
type Next func() error

// Handler processes a request. It either finalizes res, calls next to continue the chain,
// or returns an error to abort it.
type Handler interface {
	Handle(req *Request, res *Response, next Next) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req *Request, res *Response, next Next) error

// Handle calls f(req, res, next).
func (f HandlerFunc) Handle(req *Request, res *Response, next Next) error {
	return f(req, res, next)
}

// MatchMode controls how an entry's pattern is compared with the request path.
type MatchMode int

const (
	// MatchPrefix matches when the pattern is a plain string prefix of the path.
	MatchPrefix MatchMode = iota

	// MatchSegment matches when the pattern is a prefix of the path ending on a segment
	// boundary, so "/add" matches "/add" and "/add/x" but not "/add-product".
	MatchSegment
)

// String returns the mode name.
func (m MatchMode) String() string {
	switch m {
	case MatchSegment:
		return "segment"
	default:
		return "prefix"
	}
}

// RouteEntry is one registered handler.
type RouteEntry struct {
	Pattern string // Path prefix, or the full path when Exact is set
	Method  string // Empty matches every method
	Exact   bool
	Handler Handler
}

// RouteTable is an ordered list of route entries. Entries are appended at startup;
// once a Dispatcher is built from the table it is sealed and safe for concurrent reads.
type RouteTable struct {
	mode    MatchMode
	entries []RouteEntry
	sealed  atomic.Bool
}

// NewRouteTable creates an empty table using the given match mode.
func NewRouteTable(mode MatchMode) *RouteTable {
	return &RouteTable{mode: mode}
}

// Mode returns the table's match mode.
func (t *RouteTable) Mode() MatchMode {
	return t.mode
}

// Register appends a prefix entry that matches every method.
func (t *RouteTable) Register(pathPrefix string, h Handler) error {
	return t.add(RouteEntry{Pattern: pathPrefix, Handler: h})
}

// RegisterFunc is Register for a plain function.
func (t *RouteTable) RegisterFunc(pathPrefix string, fn func(req *Request, res *Response, next Next) error) error {
	return t.Register(pathPrefix, HandlerFunc(fn))
}

// Handle appends an entry that matches only method requests for exactly path.
func (t *RouteTable) Handle(method, path string, h Handler) error {
	return t.add(RouteEntry{Pattern: path, Method: strings.ToUpper(method), Exact: true, Handler: h})
}

// HandleFunc is Handle for a plain function.
func (t *RouteTable) HandleFunc(method, path string, fn func(req *Request, res *Response, next Next) error) error {
	return t.Handle(method, path, HandlerFunc(fn))
}

func (t *RouteTable) add(e RouteEntry) error {
	if t.sealed.Load() {
		return ErrTableSealed
	}
	if e.Handler == nil {
		return ErrNilHandler
	}
	if e.Pattern == "" {
		e.Pattern = "/"
	}
	t.entries = append(t.entries, e)
	return nil
}

// Seal freezes the table. Later registrations fail with ErrTableSealed.
func (t *RouteTable) Seal() {
	t.sealed.Store(true)
}

// Sealed reports whether the table was sealed.
func (t *RouteTable) Sealed() bool {
	return t.sealed.Load()
}

// Len returns the number of entries.
func (t *RouteTable) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the entries in registration order.
func (t *RouteTable) Entries() []RouteEntry {
	out := make([]RouteEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Matches returns, in registration order, every entry matching req.
func (t *RouteTable) Matches(req *Request) []RouteEntry {
	var out []RouteEntry
	for _, e := range t.entries {
		if t.match(e, req) {
			out = append(out, e)
		}
	}
	return out
}

func (t *RouteTable) match(e RouteEntry, req *Request) bool {
	if e.Method != "" && e.Method != req.Method {
		// HEAD is served by GET entries
		if !(req.Method == "HEAD" && e.Method == "GET") {
			return false
		}
	}
	if e.Exact {
		return req.Path == e.Pattern
	}
	if !strings.HasPrefix(req.Path, e.Pattern) {
		return false
	}
	if t.mode == MatchSegment {
		return len(req.Path) == len(e.Pattern) ||
			strings.HasSuffix(e.Pattern, "/") ||
			req.Path[len(e.Pattern)] == '/'
	}
	return true
}
