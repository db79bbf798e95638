package propagatez

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// MetadataCarrier adapts gRPC metadata to propagation.TextMapCarrier.
type MetadataCarrier metadata.MD

var _ propagation.TextMapCarrier = MetadataCarrier{}

// Get returns the first value for key.
func (c MetadataCarrier) Get(key string) string {
	values := metadata.MD(c).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set replaces the values for key.
func (c MetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

// Keys lists the metadata keys.
func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func incomingTraceparent(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get(TraceparentHeader)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// injectOutgoing copies the outgoing metadata of ctx and adds the traceparent
// of its local parent.
func injectOutgoing(ctx context.Context) context.Context {
	if _, ok := SpanContextFromContext(ctx); !ok {
		return ctx
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	Inject(ctx, MetadataCarrier(md))
	return metadata.NewOutgoingContext(ctx, md)
}

// UnaryServerInterceptor starts a server span for each unary call, parented
// to the caller's traceparent metadata. The span is named after the full
// method unless WithSpanName is given.
func UnaryServerInterceptor(t *Tracer, opts ...MiddlewareOption) grpc.UnaryServerInterceptor {
	cfg := applyMiddlewareOptions(opts)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		value, present := incomingTraceparent(ctx)
		ctx, span := startServerSpan(ctx, t, cfg, cfg.nameOr(info.FullMethod), value, present)
		span.SetTag(TagRPCMethod, info.FullMethod)

		return finishAfter(span, func() (any, error) {
			return handler(ctx, req)
		})
	}
}

type tracedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedServerStream) Context() context.Context {
	return s.ctx
}

// StreamServerInterceptor is UnaryServerInterceptor for streaming calls.
// The span covers the whole stream.
func StreamServerInterceptor(t *Tracer, opts ...MiddlewareOption) grpc.StreamServerInterceptor {
	cfg := applyMiddlewareOptions(opts)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		value, present := incomingTraceparent(ctx)
		ctx, span := startServerSpan(ctx, t, cfg, cfg.nameOr(info.FullMethod), value, present)
		span.SetTag(TagRPCMethod, info.FullMethod)

		_, err := finishAfter(span, func() (struct{}, error) {
			return struct{}{}, handler(srv, &tracedServerStream{ServerStream: ss, ctx: ctx})
		})
		return err
	}
}

// UnaryClientInterceptor sends the local parent of the call context as
// traceparent metadata.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(injectOutgoing(ctx), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is UnaryClientInterceptor for streaming calls.
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(injectOutgoing(ctx), desc, cc, method, opts...)
	}
}
