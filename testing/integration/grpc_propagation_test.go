package integration

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/propagatez"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

const healthCheck = "/grpc.health.v1.Health/Check"

// grpcBackend is a health server behind the tracing interceptors. seen
// receives the span context each handled call ran under.
type grpcBackend struct {
	conn *grpc.ClientConn
	seen chan propagatez.SpanContext
}

func newGRPCBackend(t *testing.T, tracer *propagatez.Tracer) *grpcBackend {
	t.Helper()

	b := &grpcBackend{seen: make(chan propagatez.SpanContext, 16)}
	record := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		sc, _ := propagatez.SpanContextFromContext(ctx)
		b.seen <- sc
		return handler(ctx, req)
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(propagatez.UnaryServerInterceptor(tracer), record))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(propagatez.UnaryClientInterceptor()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	b.conn = conn
	return b
}

func (b *grpcBackend) check(ctx context.Context) error {
	_, err := healthpb.NewHealthClient(b.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	return err
}

func TestGRPCTraceContinuity(t *testing.T) {
	tracer := propagatez.New()
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, "grpc")
	backend := newGRPCBackend(t, tracer)

	ctx, root := tracer.StartSpan(context.Background(), "client.probe")
	require.NoError(t, backend.check(ctx))
	root.Finish()

	seen := <-backend.seen
	assert.Equal(t, root.TraceID(), seen.TraceID)

	spans := collector.WaitForSpans(2, time.Second)
	analyzer := NewTraceAnalyzer(spans)
	require.NoError(t, analyzer.VerifyChain("client.probe", healthCheck))

	server := analyzer.GetSpansByName(healthCheck)[0]
	assert.True(t, server.RemoteParent)
	assert.Equal(t, healthCheck, server.Tags[propagatez.TagRPCMethod])
	assert.Equal(t, seen.SpanID, server.SpanID)
}

func TestGRPCWithoutParentStartsTrace(t *testing.T) {
	tracer := propagatez.New()
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, "grpc")
	backend := newGRPCBackend(t, tracer)

	require.NoError(t, backend.check(context.Background()))
	<-backend.seen

	spans := collector.WaitForSpans(1, time.Second)
	assert.True(t, spans[0].IsRoot())
	assert.False(t, spans[0].RemoteParent)
}

func TestGRPCMalformedMetadataStartsTrace(t *testing.T) {
	tracer := propagatez.New()
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, "grpc")
	backend := newGRPCBackend(t, tracer)

	// Sent as raw metadata, bypassing the client interceptor's encoder.
	ctx := metadata.AppendToOutgoingContext(context.Background(), propagatez.TraceparentHeader, "ff-not-a-trace-context")
	require.NoError(t, backend.check(ctx))
	<-backend.seen

	spans := collector.WaitForSpans(1, time.Second)
	assert.True(t, spans[0].IsRoot())
	assert.Equal(t, "fields", spans[0].Tags[propagatez.TagTraceparentRejected])
}

// An HTTP edge service calling a gRPC backend keeps a single trace.
func TestHTTPToGRPCTraceContinuity(t *testing.T) {
	tracer := propagatez.New()
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, "edge")
	backend := newGRPCBackend(t, tracer)

	edge := propagatez.Middleware(tracer, propagatez.WithSpanName("edge.handle"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := backend.check(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	srv := httptest.NewServer(edge)
	defer srv.Close()

	remote := propagatez.RandomSpanContext()
	ctx := propagatez.ContextWithRemoteSpanContext(context.Background(), remote)
	resp, _ := get(t, &http.Client{Transport: &propagatez.Transport{}}, ctx, srv.URL, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	<-backend.seen

	spans := collector.WaitForSpans(2, time.Second)
	analyzer := NewTraceAnalyzer(spans)
	require.NoError(t, analyzer.VerifyChain("edge.handle", healthCheck))

	edgeSpan := analyzer.GetSpansByName("edge.handle")[0]
	assert.Equal(t, remote.TraceID, edgeSpan.TraceID)
	assert.Equal(t, remote.SpanID, edgeSpan.ParentID)
}
