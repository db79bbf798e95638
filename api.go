// Package propagatez carries distributed-trace context across process
// boundaries using the W3C Trace Context traceparent header.
//
// propagatez sits on a minimal tracing core: a Tracer that starts spans on
// context.Context, ActiveSpans that finish exactly once, and Collectors that
// buffer finished spans for export. The propagation layer adds:
//
//   - a traceparent codec (FormatTraceparent, ParseTraceparent),
//   - an outbound encoder (TraceparentHeaders, Inject, Transport, gRPC client
//     interceptors),
//   - inbound middleware (Middleware, Wrap, gRPC server interceptors) that
//     starts a span parented to the caller, or a root span when the caller
//     sent nothing usable.
//
// Basic Usage:
//
//	tracer := propagatez.New()
//	defer tracer.Close()
//
//	// Server side.
//	handler := propagatez.Middleware(tracer)(mux)
//
//	// Client side.
//	ctx, span := tracer.StartSpan(ctx, "checkout")
//	defer span.Finish()
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
//	maps.Copy(req.Header, propagatez.TraceparentHeaders(ctx))
//
// Local Parent:
//
// The span in effect for a unit of work travels in its context.Context.
// Child contexts shadow their parent and leave it untouched, so nesting
// restores the outer span when an inner scope ends, and concurrent requests
// never see each other's spans.
//
// Thread Safety:
//
// Tracer, Collector and ActiveSpan are safe for concurrent use. Span records
// handed to handlers and returned by Export are copies.
package propagatez

// Key represents a span operation name.
type Key = string

// Tag represents a span tag key.
type Tag = string

// Tags recorded by the inbound integrations.
const (
	TagHTTPMethod          Tag = "http.method"
	TagHTTPPath            Tag = "http.path"
	TagRPCMethod           Tag = "rpc.method"
	TagError               Tag = "error"
	TagPanic               Tag = "panic"
	TagTraceparentRejected Tag = "traceparent.rejected"
)
