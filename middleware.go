package propagatez

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// MiddlewareOption configures the inbound integrations.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	name     string
	namer    func(*http.Request) string
	onReject func(ctx context.Context, value string, err error)
}

// WithSpanName sets a fixed name for the server span.
func WithSpanName(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.name = name
	}
}

// WithSpanNamer names the HTTP server span per request.
// Ignored by Wrap and the gRPC interceptors.
func WithSpanNamer(namer func(*http.Request) string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.namer = namer
	}
}

// WithRejectHook is called when an incoming traceparent is present but
// cannot be decoded. err is one of the ErrTraceparent* or ErrZero* values.
// A missing header is not a rejection.
func WithRejectHook(hook func(ctx context.Context, value string, err error)) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.onReject = hook
	}
}

func applyMiddlewareOptions(opts []MiddlewareOption) *middlewareConfig {
	cfg := &middlewareConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (cfg *middlewareConfig) nameOr(fallback string) string {
	if cfg.name != "" {
		return cfg.name
	}
	return fallback
}

// startServerSpan starts the span for one inbound request: a child of the
// decoded remote parent, or a root when the value is absent or rejected.
func startServerSpan(ctx context.Context, t *Tracer, cfg *middlewareConfig, name, value string, present bool) (context.Context, *ActiveSpan) {
	if !present {
		return t.StartRootSpan(ctx, name)
	}

	sc, err := ParseTraceparent(value)
	if err == nil {
		return t.StartSpanFromRemote(ctx, name, sc)
	}

	ctx, span := t.StartRootSpan(ctx, name)
	span.SetTag(TagTraceparentRejected, rejectReason(err))
	t.logger.Debug("traceparent rejected, starting root span",
		zap.String("span", name),
		zap.String("traceparent", value),
		zap.Error(err))
	if cfg.onReject != nil {
		cfg.onReject(ctx, value, err)
	}
	return ctx, span
}

// Handler is any request handler that takes a context.
type Handler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Wrap decorates handler so that each call runs inside a server span.
// extract returns the incoming traceparent value and whether one was sent.
// The span is named after handler unless WithSpanName is given, and is
// finished when handler returns, fails or panics. Results pass through
// unchanged.
func Wrap[Req, Resp any](t *Tracer, extract func(Req) (string, bool), handler Handler[Req, Resp], opts ...MiddlewareOption) Handler[Req, Resp] {
	cfg := applyMiddlewareOptions(opts)
	name := cfg.nameOr(funcName(handler))

	return func(ctx context.Context, req Req) (Resp, error) {
		var value string
		var present bool
		if extract != nil {
			value, present = extract(req)
		}
		ctx, span := startServerSpan(ctx, t, cfg, name, value, present)
		return finishAfter(span, func() (Resp, error) {
			return handler(ctx, req)
		})
	}
}

// finishAfter runs fn and finishes span on every exit path.
func finishAfter[Resp any](span *ActiveSpan, fn func() (Resp, error)) (Resp, error) {
	defer span.Finish()
	defer recordPanic(span)

	resp, err := fn()
	if err != nil {
		span.SetTag(TagError, err.Error())
	}
	return resp, err
}

// recordPanic tags span with a recovered panic and re-raises it.
func recordPanic(span *ActiveSpan) {
	if r := recover(); r != nil {
		span.SetTag(TagPanic, fmt.Sprint(r))
		panic(r)
	}
}

// Middleware returns HTTP server middleware that starts a span for every
// request, parented to the incoming traceparent when it decodes.
// The default span name is "HTTP " followed by the wrapped handler's name.
func Middleware(t *Tracer, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := applyMiddlewareOptions(opts)

	return func(next http.Handler) http.Handler {
		defaultName := cfg.nameOr("HTTP " + handlerName(next))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := defaultName
			if cfg.namer != nil {
				name = cfg.namer(r)
			}

			var value string
			values := r.Header.Values(TraceparentHeader)
			present := len(values) > 0
			if present {
				value = values[0]
			}

			ctx, span := startServerSpan(r.Context(), t, cfg, name, value, present)
			defer span.Finish()
			defer recordPanic(span)

			span.SetTag(TagHTTPMethod, r.Method)
			span.SetTag(TagHTTPPath, r.URL.Path)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func handlerName(h http.Handler) string {
	if fn, ok := h.(http.HandlerFunc); ok {
		return funcName(fn)
	}
	return fmt.Sprintf("%T", h)
}

// funcName returns "pkg.Func" for a function value and the dynamic type
// name for anything else.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("%T", fn)
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return fmt.Sprintf("%T", fn)
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
