package propagatez

import (
	"context"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "propagatez"
)

// Span represents a single unit of work in a distributed trace.
// Spans are NOT thread-safe - do not modify from multiple goroutines.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Tags         map[Tag]string `json:"tags,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time,omitempty"`
	Duration     time.Duration  `json:"duration"`
	TraceID      TraceID        `json:"trace_id"`
	SpanID       SpanID         `json:"span_id"`
	ParentID     SpanID         `json:"parent_id,omitzero"`
	TraceFlags   TraceFlags     `json:"trace_flags"`
	RemoteParent bool           `json:"remote_parent,omitempty"`
	Name         string         `json:"name"`
}

// IsRoot reports whether the span started a new trace.
func (s *Span) IsRoot() bool {
	return s.ParentID.IsZero()
}

// SpanContext returns the propagatable identity of the span.
func (s *Span) SpanContext() SpanContext {
	return SpanContext{
		TraceID:    s.TraceID,
		SpanID:     s.SpanID,
		TraceFlags: s.TraceFlags,
	}
}

// ActiveSpan wraps a Span with thread-safe tag operations and lifecycle management.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span     *Span
	tracer   *Tracer
	mu       sync.Mutex // Protects Tags map and finished.
	finished bool
}

// SetTag adds a key-value pair to the span.
// No-op if span is already finished.
func (a *ActiveSpan) SetTag(key Tag, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}

	if a.span.Tags == nil {
		a.span.Tags = make(map[Tag]string)
	}
	a.span.Tags[key] = value
}

// GetTag retrieves a tag value by key.
func (a *ActiveSpan) GetTag(key Tag) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.span.Tags == nil {
		return "", false
	}
	value, ok := a.span.Tags[key]
	return value, ok
}

// Finish completes the span and sends it to the tracer for collection.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	a.finished = true

	a.span.EndTime = a.tracer.clock.Now()
	a.span.Duration = a.span.EndTime.Sub(a.span.StartTime)

	a.tracer.collectSpan(a.span)
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() TraceID {
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() SpanID {
	return a.span.SpanID
}

// ParentID returns the parent span ID, zero for a root span.
func (a *ActiveSpan) ParentID() SpanID {
	return a.span.ParentID
}

// RemoteParent reports whether the parent was decoded from an incoming request.
func (a *ActiveSpan) RemoteParent() bool {
	return a.span.RemoteParent
}

// SpanContext returns the propagatable identity of this span.
func (a *ActiveSpan) SpanContext() SpanContext {
	return a.span.SpanContext()
}

// Context creates a new context with this span embedded.
// The returned context can be used to start child spans.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	bundle := &contextBundle{tracer: a.tracer, span: a.span}
	return context.WithValue(parent, bundleKey, bundle)
}

// GetSpan extracts the current span from a context.
// Returns nil if no span is present.
func GetSpan(ctx context.Context) *Span {
	if bundle := getBundle(ctx); bundle != nil {
		return bundle.span
	}
	return nil
}

func getBundle(ctx context.Context) *contextBundle {
	if ctx == nil {
		return nil
	}
	bundle, _ := ctx.Value(bundleKey).(*contextBundle)
	return bundle
}
