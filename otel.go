package propagatez

import (
	"go.opentelemetry.io/otel/trace"
)

// ToOTel converts sc to an OpenTelemetry span context.
func ToOTel(sc SpanContext) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(sc.TraceID),
		SpanID:     trace.SpanID(sc.SpanID),
		TraceFlags: trace.TraceFlags(sc.TraceFlags),
		Remote:     sc.Remote,
	})
}

// FromOTel converts an OpenTelemetry span context. ok is false when it is
// not valid.
func FromOTel(sc trace.SpanContext) (SpanContext, bool) {
	if !sc.IsValid() {
		return SpanContext{}, false
	}
	return SpanContext{
		TraceID:    TraceID(sc.TraceID()),
		SpanID:     SpanID(sc.SpanID()),
		TraceFlags: TraceFlags(sc.TraceFlags()),
		Remote:     sc.IsRemote(),
	}, true
}
