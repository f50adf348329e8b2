package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging fields for one client request.
type LogContext struct {
	TraceID   string
	SpanID    string
	ClientID  string // IPC endpoint id of the requesting client
	RequestID uint32 // client-chosen request id, echoed in the reply
	Operation string // dispatch operation (LOCK, UNLOCK, CACHE_CREATE, ...)
	Cache     string // credential cache name, empty for collection-level ops
	StartTime time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a request from clientID.
func NewLogContext(clientID string, requestID uint32) *LogContext {
	return &LogContext{
		ClientID:  clientID,
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithOperation returns a copy with the operation and cache set.
func (lc *LogContext) WithOperation(op, cache string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Operation = op
		c.Cache = cache
	}
	return c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}

// withContextFields prepends the LogContext fields of ctx to args.
func withContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 12+len(args))
	if lc.TraceID != "" {
		out = append(out, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		out = append(out, KeySpanID, lc.SpanID)
	}
	if lc.ClientID != "" {
		out = append(out, KeyClientID, lc.ClientID)
	}
	if lc.RequestID != 0 {
		out = append(out, KeyRequestID, lc.RequestID)
	}
	if lc.Operation != "" {
		out = append(out, KeyOperation, lc.Operation)
	}
	if lc.Cache != "" {
		out = append(out, KeyCache, lc.Cache)
	}
	return append(out, args...)
}
