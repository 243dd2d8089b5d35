// Package tracing times the stages of a request as a tree of spans carried
// in the context. Finished root spans are logged through slog.
package tracing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

// Span is one timed stage of a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any
	sampled   bool
	mu        sync.Mutex
}

// Tracer decides which traces are recorded.
type Tracer struct {
	enabled    bool
	sampleRate float64
	logger     *slog.Logger
}

// NewTracer returns a tracer recording the given fraction of traces. A
// disabled tracer still hands out spans so callers need no nil checks.
func NewTracer(enabled bool, sampleRate float64) *Tracer {
	return &Tracer{
		enabled:    enabled,
		sampleRate: sampleRate,
		logger:     slog.Default().With("component", "tracing"),
	}
}

// Start begins a root span. traceID may be empty, in which case a new one
// is generated.
func (t *Tracer) Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	span := newSpan(name, traceID)
	span.sampled = t != nil && t.enabled && (t.sampleRate >= 1 || rand.Float64() < t.sampleRate)
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChild begins a span under the one in ctx.
func StartChild(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	child := newSpan(name, "")
	if parent != nil {
		child.TraceID = parent.TraceID
		child.sampled = parent.sampled
		parent.mu.Lock()
		parent.Children = append(parent.Children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

func newSpan(name, traceID string) *Span {
	return &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
}

func (s *Span) End() {
	s.Duration = time.Since(s.StartTime)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

func (s *Span) Sampled() bool {
	return s.sampled
}

// FromContext returns the current span, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// Finish ends a root span and logs its tree when the trace is sampled.
func (t *Tracer) Finish(s *Span) {
	s.End()
	if !s.sampled {
		return
	}
	s.log(t.logger, 0)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_us", s.Duration.Microseconds(),
		"depth", depth,
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()

	logger.Info("span", attrs...)
	for _, child := range children {
		child.log(logger, depth+1)
	}
}
