package integration

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/propagatez"
)

// newChain starts gateway -> orders -> inventory.
func newChain(t *testing.T, tracer *propagatez.Tracer, opts ...propagatez.MiddlewareOption) *Service {
	inventory := NewService(t, tracer, "inventory", nil, opts...)
	orders := NewService(t, tracer, "orders", inventory, opts...)
	return NewService(t, tracer, "gateway", orders, opts...)
}

func get(t *testing.T, client *http.Client, ctx context.Context, url string, traceparent string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if traceparent != "" {
		req.Header.Set(propagatez.TraceparentHeader, traceparent)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestCrossServiceTraceContinuity(t *testing.T) {
	tracer := propagatez.New()
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, "mesh")

	gateway := newChain(t, tracer)
	client := &http.Client{Transport: &propagatez.Transport{}}

	ctx, root := tracer.StartSpan(context.Background(), "client.checkout")
	resp, body := get(t, client, ctx, gateway.URL(), "")
	root.Finish()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gateway>orders>inventory", body)
	assert.Equal(t, root.TraceID().String(), resp.Header.Get("X-Trace-Id"))

	spans := collector.WaitForSpans(4, time.Second)
	analyzer := NewTraceAnalyzer(spans)

	require.NoError(t, analyzer.VerifyChain("client.checkout", "gateway.handle", "orders.handle", "inventory.handle"),
		PrintSpanTree(BuildSpanTree(spans)))
	assert.Equal(t, 1, analyzer.CountTrees())
	assert.Len(t, analyzer.TraceIDs(), 1)

	for _, name := range []string{"gateway.handle", "orders.handle", "inventory.handle"} {
		span := analyzer.GetSpansByName(name)[0]
		assert.True(t, span.RemoteParent, "%s should have a remote parent", name)
		assert.Equal(t, http.MethodGet, span.Tags[propagatez.TagHTTPMethod])
	}
}

func TestCrossServiceMissingTraceparentStartsTrace(t *testing.T) {
	tracer := propagatez.New()
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, "mesh")

	gateway := newChain(t, tracer)

	resp, body := get(t, http.DefaultClient, context.Background(), gateway.URL(), "")
	assert.Equal(t, "gateway>orders>inventory", body)

	spans := collector.WaitForSpans(3, time.Second)
	analyzer := NewTraceAnalyzer(spans)

	require.NoError(t, analyzer.VerifyChain("gateway.handle", "orders.handle", "inventory.handle"))
	gw := analyzer.GetSpansByName("gateway.handle")[0]
	assert.True(t, gw.IsRoot())
	assert.False(t, gw.RemoteParent)
	assert.Equal(t, gw.TraceID.String(), resp.Header.Get("X-Trace-Id"))
	assert.NotContains(t, gw.Tags, propagatez.TagTraceparentRejected)
}

func TestCrossServiceMalformedTraceparentStartsTrace(t *testing.T) {
	tracer := propagatez.New()
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, "mesh")

	var mu sync.Mutex
	var rejected []string
	gateway := newChain(t, tracer, propagatez.WithRejectHook(func(_ context.Context, value string, _ error) {
		mu.Lock()
		rejected = append(rejected, value)
		mu.Unlock()
	}))

	const malformed = "00-0af7651916cd43dd8448eb211c80319c-00f067aa0ba902b7"
	resp, body := get(t, http.DefaultClient, context.Background(), gateway.URL(), malformed)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "a bad header never fails the request")
	assert.Equal(t, "gateway>orders>inventory", body)

	spans := collector.WaitForSpans(3, time.Second)
	analyzer := NewTraceAnalyzer(spans)

	require.NoError(t, analyzer.VerifyChain("gateway.handle", "orders.handle", "inventory.handle"))
	gw := analyzer.GetSpansByName("gateway.handle")[0]
	assert.True(t, gw.IsRoot())
	assert.Equal(t, "fields", gw.Tags[propagatez.TagTraceparentRejected])

	// Downstream hops receive the new, well-formed context.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{malformed}, rejected)
}

func TestCrossServiceConcurrentTracesStayIsolated(t *testing.T) {
	tracer := propagatez.New()
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, "mesh")

	gateway := newChain(t, tracer)

	const requests = 20
	remotes := make([]propagatez.SpanContext, requests)
	for i := range remotes {
		remotes[i] = propagatez.RandomSpanContext()
	}

	var wg sync.WaitGroup
	for _, remote := range remotes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, gateway.URL(), nil)
			if err != nil {
				t.Error(err)
				return
			}
			req.Header.Set(propagatez.TraceparentHeader, propagatez.FormatTraceparent(remote))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if got := resp.Header.Get("X-Trace-Id"); got != remote.TraceID.String() {
				t.Errorf("expected trace %s, got %s", remote.TraceID, got)
			}
		}()
	}
	wg.Wait()

	spans := collector.WaitForSpans(requests*3, 2*time.Second)
	traces := NewTraceAnalyzer(spans).TraceIDs()

	require.Len(t, traces, requests)
	for _, remote := range remotes {
		assert.Equal(t, 3, traces[remote.TraceID], "trace %s", remote.TraceID)
	}
}
