package propagatez

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// contextBundle holds the tracer together with the local parent, either an
// in-process span or a remote span context, to reduce context allocations.
type contextBundle struct {
	tracer *Tracer
	span   *Span
	remote SpanContext
}

// SpanHandler is called when a span completes.
type SpanHandler func(span Span)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock sets the clock used for span timing.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the logger used for dropped contexts, handler panics and
// shutdown problems.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRootFlags sets the trace flags given to new root spans.
// The default marks roots as sampled.
func WithRootFlags(flags TraceFlags) Option {
	return func(t *Tracer) {
		t.rootFlags = flags
	}
}

// Tracer manages span lifecycle and collection.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers       []handlerEntry
	collectors     map[string]*Collector
	panicHook      func(handlerID uint64, r interface{})
	workers        *workerPool
	traceIDPool    *IDPool[TraceID]
	spanIDPool     *IDPool[SpanID]
	clock          clockz.Clock
	logger         *zap.Logger
	rootFlags      TraceFlags
	handlersLock   sync.RWMutex
	collectorsLock sync.RWMutex
	idPoolOnce     sync.Once
	nextID         atomic.Uint64
	droppedSpans   atomic.Uint64
}

// New creates a new tracer.
// Uses the real clock and a no-op logger unless options say otherwise.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		handlers:   make([]handlerEntry, 0),
		collectors: make(map[string]*Collector),
		clock:      clockz.RealClock,
		logger:     zap.NewNop(),
		rootFlags:  FlagsSampled,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Logger returns the tracer's logger.
func (t *Tracer) Logger() *zap.Logger {
	return t.logger
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100

		t.traceIDPool = NewIDPool(poolSize, func() TraceID {
			return randomTraceID(t.clock.Now)
		})
		t.spanIDPool = NewIDPool(poolSize, func() SpanID {
			return randomSpanID(t.clock.Now)
		})
	})
}

// closeIDPools stops the refill goroutines. Pools are never created once
// this has run; later spans generate IDs directly.
func (t *Tracer) closeIDPools() {
	t.idPoolOnce.Do(func() {})
	if t.traceIDPool != nil {
		t.traceIDPool.Close()
	}
	if t.spanIDPool != nil {
		t.spanIDPool.Close()
	}
}

// AddCollector registers a collector that receives every finished span.
// A collector added under an existing name replaces the previous one.
func (t *Tracer) AddCollector(name string, collector *Collector) {
	if collector == nil {
		return
	}
	t.collectorsLock.Lock()
	defer t.collectorsLock.Unlock()
	t.collectors[name] = collector
}

// OnSpanComplete registers a synchronous handler called when spans complete.
func (t *Tracer) OnSpanComplete(handler SpanHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnSpanCompleteAsync registers an asynchronous handler called when spans complete.
func (t *Tracer) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	return t.registerHandler(handler, true)
}

func (t *Tracer) registerHandler(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// HasHandlers reports whether any span handler is registered.
func (t *Tracer) HasHandlers() bool {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return len(t.handlers) > 0
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
// Without a hook, handler panics are logged.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

// StartSpan creates a new span and returns it wrapped in an ActiveSpan.
// The span is a child of the local parent carried by ctx, if any, and the
// root of a new trace otherwise.
func (t *Tracer) StartSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	parent, _ := SpanContextFromContext(ctx)
	return t.start(ctx, operation, parent)
}

// StartRootSpan starts a span with a fresh trace ID, ignoring any parent in ctx.
func (t *Tracer) StartRootSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	return t.start(ctx, operation, SpanContext{})
}

// StartSpanFromRemote starts a span whose parent is a context received from a
// peer. An invalid parent starts a root span instead.
func (t *Tracer) StartSpanFromRemote(ctx context.Context, operation Key, parent SpanContext) (context.Context, *ActiveSpan) {
	parent.Remote = true
	return t.start(ctx, operation, parent)
}

func (t *Tracer) start(ctx context.Context, operation Key, parent SpanContext) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}

	span := &Span{
		SpanID:    t.generateSpanID(),
		Name:      operation,
		StartTime: t.clock.Now(),
	}

	if parent.IsValid() {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
		span.TraceFlags = parent.TraceFlags
		span.RemoteParent = parent.Remote
	} else {
		span.TraceID = t.generateTraceID()
		span.TraceFlags = t.rootFlags
	}

	activeSpan := &ActiveSpan{
		span:   span,
		tracer: t,
	}

	// Single allocation for tracer and span.
	bundle := &contextBundle{tracer: t, span: span}
	return context.WithValue(ctx, bundleKey, bundle), activeSpan
}

// collectSpan hands a finished span to every collector and handler.
func (t *Tracer) collectSpan(span *Span) {
	t.collectorsLock.RLock()
	for _, c := range t.collectors {
		c.Collect(span)
	}
	t.collectorsLock.RUnlock()

	t.executeHandlers(*span)
}

// executeHandlers calls all registered handlers with the completed span.
func (t *Tracer) executeHandlers(span Span) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	hook := t.panicHook
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if h.async {
			entry := h
			if workers != nil {
				workers.submit(func() {
					t.safeCall(entry, span, hook)
				})
			} else {
				go t.safeCall(entry, span, hook)
			}
		} else {
			t.safeCall(h, span, hook)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, span Span, hook func(handlerID uint64, r interface{})) {
	defer func() {
		if r := recover(); r != nil {
			if hook != nil {
				hook(entry.id, r)
				return
			}
			t.logger.Error("span handler panicked",
				zap.Uint64("handler_id", entry.id),
				zap.String("span", span.Name),
				zap.Any("panic", r))
		}
	}()
	entry.handler(span)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedSpans,
	}

	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}

	return nil
}

// DroppedSpans returns the number of spans dropped due to full worker queue.
func (t *Tracer) DroppedSpans() uint64 {
	return t.droppedSpans.Load()
}

// Reset clears the buffers of all collectors without shutting them down.
func (t *Tracer) Reset() {
	t.collectorsLock.RLock()
	defer t.collectorsLock.RUnlock()
	for _, c := range t.collectors {
		c.Reset()
	}
}

// Close shuts down the tracer gracefully and cleans up resources.
// Collectors are stopped and detached; their buffered spans stay exportable.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	// Wait for in-flight async tasks
	if workers != nil {
		workers.shutdown()
	}

	t.collectorsLock.Lock()
	for name, c := range t.collectors {
		if !c.close() {
			t.logger.Warn("collector did not drain before shutdown",
				zap.String("collector", name),
				zap.Int64("dropped", c.DroppedCount()))
		}
		delete(t.collectors, name)
	}
	t.collectorsLock.Unlock()

	t.closeIDPools()
}

// generateTraceID draws a new trace ID from the pool.
func (t *Tracer) generateTraceID() TraceID {
	t.ensureIDPools()
	if t.traceIDPool == nil {
		return randomTraceID(t.clock.Now)
	}
	return t.traceIDPool.Get()
}

// generateSpanID draws a new span ID from the pool.
func (t *Tracer) generateSpanID() SpanID {
	t.ensureIDPools()
	if t.spanIDPool == nil {
		return randomSpanID(t.clock.Now)
	}
	return t.spanIDPool.Get()
}

// workerPool manages a fixed number of workers for processing async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
