package propagatez

import (
	"context"
	"time"
)

// SpanContext identifies a span's position in a distributed trace.
// It is a value type; copies never alias.
type SpanContext struct {
	TraceID    TraceID
	SpanID     SpanID
	TraceFlags TraceFlags
	// Remote is set when the context was decoded from a peer.
	Remote bool
}

// IsValid reports whether both IDs are non-zero.
func (sc SpanContext) IsValid() bool {
	return sc.TraceID.IsValid() && sc.SpanID.IsValid()
}

// IsSampled reports whether the sampled flag is set.
func (sc SpanContext) IsSampled() bool {
	return sc.TraceFlags.IsSampled()
}

// RandomSpanContext returns a sampled context with fresh random IDs,
// suitable as the parent of a new root trace.
func RandomSpanContext() SpanContext {
	return SpanContext{
		TraceID:    randomTraceID(time.Now),
		SpanID:     randomSpanID(time.Now),
		TraceFlags: FlagsSampled,
	}
}

// SpanContextFromContext returns the local parent in effect for ctx: the
// innermost active span, or a remote context installed with
// ContextWithRemoteSpanContext.
func SpanContextFromContext(ctx context.Context) (SpanContext, bool) {
	bundle := getBundle(ctx)
	if bundle == nil {
		return SpanContext{}, false
	}
	if bundle.span != nil {
		return bundle.span.SpanContext(), true
	}
	if bundle.remote.IsValid() {
		return bundle.remote, true
	}
	return SpanContext{}, false
}

// ContextWithRemoteSpanContext installs sc as the local parent of ctx.
// Spans started from the returned context become children of sc.
// An invalid sc leaves ctx unchanged.
func ContextWithRemoteSpanContext(ctx context.Context, sc SpanContext) context.Context {
	if !sc.IsValid() {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sc.Remote = true
	bundle := &contextBundle{remote: sc}
	if outer := getBundle(ctx); outer != nil {
		bundle.tracer = outer.tracer
	}
	return context.WithValue(ctx, bundleKey, bundle)
}
