package benchmarks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zoobzio/propagatez"
)

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// BenchmarkMiddleware measures per-request overhead of the inbound
// middleware with and without an incoming traceparent.
func BenchmarkMiddleware(b *testing.B) {
	tracer := propagatez.New()
	collector := propagatez.NewCollector("bench", 10000)
	tracer.AddCollector("bench", collector)
	defer tracer.Close()

	h := propagatez.Middleware(tracer, propagatez.WithSpanName("bench"))(http.HandlerFunc(noContent))

	cases := map[string]string{
		"remote-parent": traceparent,
		"no-header":     "",
		"rejected":      "00-bad",
	}

	for name, value := range cases {
		b.Run(name, func(b *testing.B) {
			req := httptest.NewRequest(http.MethodGet, "/bench", nil)
			if value != "" {
				req.Header.Set(propagatez.TraceparentHeader, value)
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h.ServeHTTP(httptest.NewRecorder(), req)
				if i%1000 == 0 {
					collector.Export()
				}
			}
		})
	}
}

// BenchmarkMiddlewareParallel measures the middleware under concurrent load.
func BenchmarkMiddlewareParallel(b *testing.B) {
	tracer := propagatez.New()
	defer tracer.Close()

	h := propagatez.Middleware(tracer)(http.HandlerFunc(noContent))

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		req := httptest.NewRequest(http.MethodGet, "/bench", nil)
		req.Header.Set(propagatez.TraceparentHeader, traceparent)
		for pb.Next() {
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
}

// BenchmarkWrap measures the generic decorator around a trivial handler.
func BenchmarkWrap(b *testing.B) {
	tracer := propagatez.New()
	defer tracer.Close()

	handler := propagatez.Wrap(tracer,
		func(tp string) (string, bool) { return tp, tp != "" },
		func(_ context.Context, tp string) (int, error) { return len(tp), nil },
		propagatez.WithSpanName("wrap"))

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := handler(ctx, traceparent); err != nil {
			b.Fatal(err)
		}
	}
}
