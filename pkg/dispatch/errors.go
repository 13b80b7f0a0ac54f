package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrTableSealed is returned when a route is registered after a Dispatcher was built from the table.
	ErrTableSealed = errors.New("dispatch: route table is sealed")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("dispatch: nil handler")

	// ErrNextCalled is returned when a handler calls its Next more than once.
	ErrNextCalled = errors.New("dispatch: next already called")
)

// DoubleResponseError reports an attempt to write a response that was already sent,
// or to continue a chain after the response was finalized.
type DoubleResponseError struct {
	Op     string // Operation that was attempted ("next", "send", "json", ...)
	Method string
	Path   string
}

// Error implements the error interface.
func (e *DoubleResponseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("dispatch: %s after response was sent", e.Op)
	}
	return fmt.Sprintf("dispatch: %s after response was sent (%s %s)", e.Op, e.Method, e.Path)
}

// UnterminatedChainError reports a chain that ended with an unsent response.
// Stalled is true when a handler returned without finalizing the response or calling Next.
// Otherwise the chain was exhausted and no not-found handler was configured.
type UnterminatedChainError struct {
	Method  string
	Path    string
	Stalled bool
	Index   int    // Index of the stalled handler among the matched entries
	Pattern string // Pattern of the stalled handler
}

// Error implements the error interface.
func (e *UnterminatedChainError) Error() string {
	if e.Stalled {
		return fmt.Sprintf("dispatch: handler %d (%q) returned without responding or calling next (%s %s)", e.Index, e.Pattern, e.Method, e.Path)
	}
	return fmt.Sprintf("dispatch: chain exhausted without a response (%s %s)", e.Method, e.Path)
}

// HandlerError wraps an error returned by a handler, or a value it panicked with.
type HandlerError struct {
	Index   int    // Index of the failing handler among the matched entries
	Pattern string // Pattern the failing handler was registered with
	Err     error
	Panic   any
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("dispatch: handler %d (%q) panicked: %v", e.Index, e.Pattern, e.Panic)
	}
	return fmt.Sprintf("dispatch: handler %d (%q) failed: %v", e.Index, e.Pattern, e.Err)
}

// Unwrap returns the underlying handler error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// HTTPError represents an HTTP error with a status code and message.
// When a handler returns one (possibly wrapped), the dispatcher uses its status code and
// message for the failure response instead of a generic 500.
type HTTPError struct {
	StatusCode int    // HTTP status code (e.g., 400, 404, 500)
	Message    string // Error message to be sent in the response body
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// NewHTTPError creates a new HTTPError with the specified status code and message.
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
	}
}
