package propagatez

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
)

// TraceparentHeaders returns the headers that carry the local parent of ctx
// to a downstream service. Without a local parent the result is empty and
// the downstream service starts its own trace.
//
//	req.Header = propagatez.TraceparentHeaders(ctx)
//
// Keys are in canonical MIME form ("Traceparent"), so read the result with
// Get rather than by indexing the map. Merge it into an existing request with
// maps.Copy(req.Header, h) or Header.Set.
func TraceparentHeaders(ctx context.Context) http.Header {
	h := make(http.Header, 1)
	Inject(ctx, propagation.HeaderCarrier(h))
	return h
}

// Inject writes the traceparent of the local parent of ctx into carrier.
// Nothing is written when ctx carries no parent.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc, ok := SpanContextFromContext(ctx)
	if !ok || carrier == nil {
		return
	}
	carrier.Set(TraceparentHeader, FormatTraceparent(sc))
}

// InjectRequest sets the traceparent header of req from ctx.
func InjectRequest(ctx context.Context, req *http.Request) {
	if req == nil {
		return
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// Extract reads a traceparent from carrier and installs it as the remote
// parent of the returned context. On failure ctx is returned unchanged
// together with the rejection reason.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) (context.Context, error) {
	if carrier == nil {
		return ctx, ErrTraceparentMissing
	}
	sc, err := ParseTraceparent(carrier.Get(TraceparentHeader))
	if err != nil {
		return ctx, err
	}
	return ContextWithRemoteSpanContext(ctx, sc), nil
}

// Propagator exposes the traceparent codec as an OpenTelemetry
// TextMapPropagator working on propagatez contexts.
type Propagator struct{}

var _ propagation.TextMapPropagator = Propagator{}

// Inject implements propagation.TextMapPropagator.
func (Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	Inject(ctx, carrier)
}

// Extract implements propagation.TextMapPropagator.
func (Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	ctx, _ = Extract(ctx, carrier)
	return ctx
}

// Fields implements propagation.TextMapPropagator.
func (Propagator) Fields() []string {
	return []string{TraceparentHeader}
}

// Transport is an http.RoundTripper that adds the traceparent of the
// request's context to every outgoing request.
type Transport struct {
	// Base performs the request. http.DefaultTransport is used when nil.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper. The caller's request is not modified.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if _, ok := SpanContextFromContext(req.Context()); !ok {
		return base.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	InjectRequest(out.Context(), out)
	return base.RoundTrip(out)
}
