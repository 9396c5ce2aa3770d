// Package trace tags recorder work with run and span identifiers so the log
// lines of one capture cycle can be grouped together.
package trace

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Log attribute keys.
const (
	RunIDKey        = "run_id"
	SpanIDKey       = "span_id"
	ParentSpanIDKey = "parent_span_id"
)

type ctxKey struct{}

var traceCtxKey = ctxKey{}

// Context holds identifiers for a single span.
type Context struct {
	RunID        string
	SpanID       string
	ParentSpanID string
}

// New creates a new trace context with fresh IDs.
func New() Context {
	return Context{
		RunID:  uuid.NewString(),
		SpanID: uuid.NewString(),
	}
}

// NewChild creates a child context from parent.
func NewChild(parent Context) Context {
	return Context{
		RunID:        parent.RunID,
		SpanID:       uuid.NewString(),
		ParentSpanID: parent.SpanID,
	}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceCtxKey).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceCtxKey, tc)
}

// EnsureContext returns existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// LogAttrs returns slog attributes for logging.
func (c Context) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String(RunIDKey, c.RunID),
		slog.String(SpanIDKey, c.SpanID),
	}
	if c.ParentSpanID != "" {
		attrs = append(attrs, slog.String(ParentSpanIDKey, c.ParentSpanID))
	}
	return attrs
}

// Span represents a timed operation such as one capture cycle.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

// StartSpan begins a new span.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, ok := FromContext(ctx)
	tc := New()
	if ok && parent.RunID != "" {
		tc = NewChild(parent)
	}

	s := &Span{
		Name:      name,
		Ctx:       tc,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return WithContext(ctx, tc), s
}

// End marks the span as complete.
func (s *Span) End() {
	s.EndTime = time.Now()
}

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) {
	s.Attrs[key] = val
}

// Duration returns span duration.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer for structured logging.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("span_name", s.Name),
		slog.String(RunIDKey, s.Ctx.RunID),
		slog.String(SpanIDKey, s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String(ParentSpanIDKey, s.Ctx.ParentSpanID))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns base with the trace context of ctx attached.
// A nil base means slog.Default().
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	tc, ok := FromContext(ctx)
	if !ok {
		return base
	}
	args := make([]any, 0, 6)
	args = append(args, RunIDKey, tc.RunID, SpanIDKey, tc.SpanID)
	if tc.ParentSpanID != "" {
		args = append(args, ParentSpanIDKey, tc.ParentSpanID)
	}
	return base.With(args...)
}
