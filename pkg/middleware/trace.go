package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// TraceIDHeader is the header used to propagate trace IDs.
const TraceIDHeader = "X-Trace-ID"

type traceIDKey struct{}

// TraceIDKey is the key used to store the trace ID in the request context
var TraceIDKey = traceIDKey{}

// TraceMiddleware assigns every request a trace ID and stores it in the request context.
// A well-formed UUID in the incoming X-Trace-ID header is reused; anything else is replaced.
// The ID is echoed in the response header.
func TraceMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(TraceIDHeader)
			if _, err := uuid.Parse(traceID); err != nil {
				traceID = uuid.New().String()
			}

			w.Header().Set(TraceIDHeader, traceID)
			next.ServeHTTP(w, AddTraceIDToRequest(r, traceID))
		})
	}
}

// AddTraceIDToRequest returns a shallow copy of r carrying traceID.
func AddTraceIDToRequest(r *http.Request, traceID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), TraceIDKey, traceID))
}

// GetTraceID extracts the trace ID from the request context.
// Returns an empty string if no trace ID is found.
func GetTraceID(r *http.Request) string {
	return GetTraceIDFromContext(r.Context())
}

// GetTraceIDFromContext extracts the trace ID from a context.
// Returns an empty string if no trace ID is found.
func GetTraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
