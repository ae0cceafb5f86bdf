package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-npi/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) Logger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// lastRecord parses the last JSON line written to buf
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("ParseLevel(verbose): want error")
	}
}

func TestLogger_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "npi", Version: "1.2.3", Commit: "abc123"})

	l.Info(context.Background(), "hello", "k", "v")

	rec := lastRecord(t, &buf)
	if rec["msg"] != "hello" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["app"] != "npi" || rec["version"] != "1.2.3" || rec["commit"] != "abc123" {
		t.Errorf("base attrs missing: %v", rec)
	}
	if rec["k"] != "v" {
		t.Errorf("kv attr missing: %v", rec)
	}
}

func TestLogger_PlaceholderCommitOmitted(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "npi", Commit: "none"})

	l.Info(context.Background(), "hello")

	if _, ok := lastRecord(t, &buf)["commit"]; ok {
		t.Fatal("placeholder commit should not be logged")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "npi", Level: slog.LevelWarn})

	l.Debug(context.Background(), "debug")
	l.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %s", buf.String())
	}

	l.Warn(context.Background(), "warn")
	if lastRecord(t, &buf)["msg"] != "warn" {
		t.Fatal("warn record missing")
	}
}

func TestLogger_WithIsCopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{App: "npi"})
	child := base.With("component", "server")

	base.Info(context.Background(), "from base")
	if _, ok := lastRecord(t, &buf)["component"]; ok {
		t.Fatal("With leaked attrs into parent")
	}

	child.Info(context.Background(), "from child")
	if lastRecord(t, &buf)["component"] != "server" {
		t.Fatal("child attrs missing")
	}
}

func TestLogger_ErrorEnrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "npi", IncludeErrorLinks: true, MaxErrorLinks: 4})

	root := fmt.Errorf("dial tcp: connection refused")
	err := xerrors.Wrap(root, "registry GET")

	l.Error(context.Background(), err, "lookup failed", "npi", "1234567893")

	rec := lastRecord(t, &buf)
	if rec["err"] != "registry GET: dial tcp: connection refused" {
		t.Errorf("err = %v", rec["err"])
	}
	if rec["cause_type"] != "*errors.errorString" {
		t.Errorf("cause_type = %v", rec["cause_type"])
	}
	chain, ok := rec["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v", rec["error_chain"])
	}
	if _, ok := rec["error_links"]; !ok {
		t.Error("error_links missing")
	}
	if s, _ := rec["stack"].(string); s == "" {
		t.Error("stack missing on error record")
	}
}

func TestLogger_TraceIDsFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "npi"})

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")

	rec := lastRecord(t, &buf)
	if rec["trace_id"] != tid.String() || rec["span_id"] != sid.String() {
		t.Fatalf("trace ids missing: %v", rec)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext on empty context returned nil")
	}

	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "npi"})
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("FromContext did not return stored logger")
	}
}

func TestFromContextOr(t *testing.T) {
	var buf bytes.Buffer
	fallback := newTestLogger(t, &buf, Options{App: "fallback"})

	if got := FromContextOr(context.Background(), fallback); got != fallback {
		t.Fatal("empty context should return fallback")
	}

	stored := Nop()
	ctx := WithContext(context.Background(), stored)
	if got := FromContextOr(ctx, fallback); got != stored {
		t.Fatal("stored logger should win over fallback")
	}

	if FromContextOr(context.Background(), nil) == nil {
		t.Fatal("nil fallback should yield Nop, not nil")
	}
}

func TestNop_Safe(t *testing.T) {
	l := Nop().With("k", "v")
	l.Debug(context.Background(), "x")
	l.Info(context.Background(), "x")
	l.Warn(context.Background(), "x")
	l.Error(context.Background(), fmt.Errorf("x"), "x")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
