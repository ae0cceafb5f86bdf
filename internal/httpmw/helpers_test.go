package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-npi/internal/log"
)

type logEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// captureLogger records every call; With accumulates fields onto the
// returned child, which shares the entry list with its parent.
type captureLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  []any
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (c *captureLogger) add(level, msg string, err error, kv []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := append(append([]any{}, c.fields...), kv...)
	*c.entries = append(*c.entries, logEntry{level: level, msg: msg, err: err, kv: all})
}

func (c *captureLogger) Debug(_ context.Context, msg string, kv ...any) { c.add("debug", msg, nil, kv) }
func (c *captureLogger) Info(_ context.Context, msg string, kv ...any)  { c.add("info", msg, nil, kv) }
func (c *captureLogger) Warn(_ context.Context, msg string, kv ...any)  { c.add("warn", msg, nil, kv) }
func (c *captureLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	c.add("error", msg, err, kv)
}
func (c *captureLogger) Sync() error { return nil }

func (c *captureLogger) With(kv ...any) log.Logger {
	return &captureLogger{
		mu:      c.mu,
		entries: c.entries,
		fields:  append(append([]any{}, c.fields...), kv...),
	}
}

func (c *captureLogger) all() []logEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]logEntry(nil), *c.entries...)
}

func fieldValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func do(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

// recordingContext returns a context holding a live recording span.
func recordingContext(t *testing.T) (context.Context, trace.Span, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "initial")
	return ctx, span, sr
}
