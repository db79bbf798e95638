package integration

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/propagatez"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
type MockCollector struct {
	*propagatez.Collector
	t        *testing.T
	exported []propagatez.Span
	mu       sync.Mutex
}

// NewMockCollector creates a synchronous collector and attaches it to tracer.
func NewMockCollector(t *testing.T, tracer *propagatez.Tracer, name string) *MockCollector {
	collector := propagatez.NewCollector(name, 1000)
	collector.SetSyncMode(true)
	tracer.AddCollector(name, collector)
	return &MockCollector{Collector: collector, t: t}
}

// GetAll returns every span seen so far without losing earlier exports.
func (m *MockCollector) GetAll() []propagatez.Span {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exported = append(m.exported, m.Collector.Export()...)
	all := make([]propagatez.Span, len(m.exported))
	copy(all, m.exported)
	return all
}

// WaitForSpans waits until at least expected spans were collected.
func (m *MockCollector) WaitForSpans(expected int, timeout time.Duration) []propagatez.Span {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if spans := m.GetAll(); len(spans) >= expected {
			return spans
		}
		<-ticker.C
	}

	spans := m.GetAll()
	m.t.Errorf("Timeout waiting for spans: expected %d, got %d", expected, len(spans))
	return spans
}

// SpanTree represents a hierarchical view of spans.
type SpanTree struct {
	Span     propagatez.Span
	Children []*SpanTree
}

// BuildSpanTree constructs a tree from a flat span list. Spans whose parent
// was not collected are treated as roots.
func BuildSpanTree(spans []propagatez.Span) []*SpanTree {
	nodes := make(map[propagatez.SpanID]*SpanTree, len(spans))
	for i := range spans {
		nodes[spans[i].SpanID] = &SpanTree{Span: spans[i]}
	}

	var roots []*SpanTree
	for i := range spans {
		node := nodes[spans[i].SpanID]
		if parent, ok := nodes[spans[i].ParentID]; ok && !spans[i].IsRoot() {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}

// PrintSpanTree formats a span tree for debugging.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	fmt.Fprintf(sb, "%s%s [%s/%s]\n", strings.Repeat("  ", depth), node.Span.Name, node.Span.TraceID, node.Span.SpanID)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// TraceAnalyzer provides trace-level assertions.
type TraceAnalyzer struct {
	byName map[string][]propagatez.Span
	spans  []propagatez.Span
	trees  []*SpanTree
}

// NewTraceAnalyzer creates an analyzer for a set of spans.
func NewTraceAnalyzer(spans []propagatez.Span) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byName: make(map[string][]propagatez.Span),
	}
	for i := range spans {
		a.byName[spans[i].Name] = append(a.byName[spans[i].Name], spans[i])
	}
	a.trees = BuildSpanTree(spans)
	return a
}

// GetSpansByName retrieves all spans with the given name.
func (a *TraceAnalyzer) GetSpansByName(name string) []propagatez.Span {
	return a.byName[name]
}

// CountTrees returns the number of root spans.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// TraceIDs returns the distinct trace IDs in the analyzed spans.
func (a *TraceAnalyzer) TraceIDs() map[propagatez.TraceID]int {
	ids := make(map[propagatez.TraceID]int)
	for i := range a.spans {
		ids[a.spans[i].TraceID]++
	}
	return ids
}

// VerifyChain checks that the named spans form a parent-child chain
// within one trace.
func (a *TraceAnalyzer) VerifyChain(names ...string) error {
	if len(names) < 2 {
		return fmt.Errorf("chain requires at least 2 spans")
	}

	var prev *propagatez.Span
	for i, name := range names {
		spans := a.GetSpansByName(name)
		if len(spans) == 0 {
			return fmt.Errorf("span '%s' not found", name)
		}
		span := spans[0]
		if prev != nil {
			if span.ParentID != prev.SpanID {
				return fmt.Errorf("broken chain: %s is not child of %s", name, names[i-1])
			}
			if span.TraceID != prev.TraceID {
				return fmt.Errorf("trace mismatch: %s is in %s, %s is in %s", name, span.TraceID, names[i-1], prev.TraceID)
			}
		}
		prev = &span
	}
	return nil
}

// Service is an HTTP service behind the tracing middleware. When it has a
// downstream, each request is forwarded there with the client Transport.
type Service struct {
	server     *httptest.Server
	downstream *Service
	client     *http.Client
	name       string
}

// NewService starts an HTTP service named name. Its spans are named
// "<name>.handle".
func NewService(t *testing.T, tracer *propagatez.Tracer, name string, downstream *Service, opts ...propagatez.MiddlewareOption) *Service {
	s := &Service{
		name:       name,
		downstream: downstream,
		client:     &http.Client{Transport: &propagatez.Transport{}},
	}
	opts = append([]propagatez.MiddlewareOption{propagatez.WithSpanName(name + ".handle")}, opts...)
	s.server = httptest.NewServer(propagatez.Middleware(tracer, opts...)(http.HandlerFunc(s.handle)))
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the base URL of the service.
func (s *Service) URL() string {
	return s.server.URL
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	sc, _ := propagatez.SpanContextFromContext(r.Context())
	w.Header().Set("X-Trace-Id", sc.TraceID.String())

	if s.downstream == nil {
		_, _ = io.WriteString(w, s.name)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.downstream.URL(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	_, _ = io.WriteString(w, s.name+">"+string(body))
}
