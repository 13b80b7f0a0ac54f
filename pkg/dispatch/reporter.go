package dispatch

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrorReporter receives errors raised while dispatching a request.
// Implementations must be safe for concurrent use.
type ErrorReporter interface {
	Report(req *Request, err error)
}

// ReporterFunc adapts a function to the ErrorReporter interface.
type ReporterFunc func(req *Request, err error)

// Report calls f(req, err).
func (f ReporterFunc) Report(req *Request, err error) {
	f(req, err)
}

// Reporters fans errors out to every non-nil reporter in order.
func Reporters(reporters ...ErrorReporter) ErrorReporter {
	var rs multiReporter
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return rs
}

type multiReporter []ErrorReporter

func (m multiReporter) Report(req *Request, err error) {
	for _, r := range m {
		r.Report(req, err)
	}
}

// LogReporter logs dispatch errors. Handler failures and panics are logged at Error level,
// misuse of the chain (double responses, stalled handlers) at Warn level.
type LogReporter struct {
	Logger  *zap.Logger
	TraceID func(ctx context.Context) string
}

// Report implements ErrorReporter.
func (l *LogReporter) Report(req *Request, err error) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	}
	if l.TraceID != nil {
		if traceID := l.TraceID(req.Context()); traceID != "" {
			fields = append([]zap.Field{zap.String("trace_id", traceID)}, fields...)
		}
	}

	var he *HandlerError
	if errors.As(err, &he) {
		fields = append(fields, zap.Int("handler", he.Index), zap.String("pattern", he.Pattern))
		if he.Panic != nil {
			l.Logger.Error("Panic recovered", append(fields, zap.Any("panic", he.Panic))...)
			return
		}
		l.Logger.Error("Handler error", fields...)
		return
	}

	l.Logger.Warn("Chain misuse", append(fields, zap.String("kind", Kind(err)))...)
}

// Kind classifies a dispatch error for logs and metrics:
// "handler", "panic", "double_response", "stalled", "unterminated", "next_called" or "other".
func Kind(err error) string {
	var he *HandlerError
	if errors.As(err, &he) {
		if he.Panic != nil {
			return "panic"
		}
		return "handler"
	}
	var dre *DoubleResponseError
	if errors.As(err, &dre) {
		return "double_response"
	}
	var uce *UnterminatedChainError
	if errors.As(err, &uce) {
		if uce.Stalled {
			return "stalled"
		}
		return "unterminated"
	}
	if errors.Is(err, ErrNextCalled) {
		return "next_called"
	}
	return "other"
}
