package npihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keithlinneman/linnemanlabs-npi/internal/log"
	"github.com/keithlinneman/linnemanlabs-npi/internal/npi"
)

type stubLookup struct {
	res   npi.Result
	err   error
	calls []string
}

func (s *stubLookup) Lookup(_ context.Context, number string) (npi.Result, error) {
	s.calls = append(s.calls, number)
	return s.res, s.err
}

type logEntry struct {
	level string
	msg   string
	err   error
}

// recLogger records entries; With returns the same sink.
type recLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recLogger) add(level, msg string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, err: err})
}

func (l *recLogger) With(...any) log.Logger                          { return l }
func (l *recLogger) Debug(_ context.Context, msg string, _ ...any) { l.add("debug", msg, nil) }
func (l *recLogger) Info(_ context.Context, msg string, _ ...any)  { l.add("info", msg, nil) }
func (l *recLogger) Warn(_ context.Context, msg string, _ ...any)  { l.add("warn", msg, nil) }
func (l *recLogger) Error(_ context.Context, err error, msg string, _ ...any) {
	l.add("error", msg, err)
}
func (l *recLogger) Sync() error { return nil }

func (l *recLogger) errors() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == "error" {
			out = append(out, e)
		}
	}
	return out
}

func serve(t *testing.T, api *API, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func body(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func strptr(s string) *string { return &s }

func TestCheckNPI_Found(t *testing.T) {
	stub := &stubLookup{res: npi.Found("1234567893", "NPI-1", strptr("JANE"), strptr("DOE"))}
	rec := serve(t, NewAPI(stub, nil), http.MethodGet, "/check-npi?number=1234567893")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, map[string]any{
		"ok": true, "number": "1234567893", "type": "NPI-1", "first_name": "JANE", "last_name": "DOE",
	}, body(t, rec))
	assert.Equal(t, []string{"1234567893"}, stub.calls)
}

func TestCheckNPI_FoundNullNames(t *testing.T) {
	stub := &stubLookup{res: npi.Found("1234567893", "", nil, nil)}
	rec := serve(t, NewAPI(stub, nil), http.MethodGet, "/check-npi?number=1234567893")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"number":"1234567893","type":"","first_name":null,"last_name":null}`, rec.Body.String())
}

func TestCheckNPI_Negative(t *testing.T) {
	tests := []struct {
		name   string
		res    npi.Result
		reason string
	}{
		{"not found", npi.NotFound("1111111111"), "not_found"},
		{"inactive", npi.Inactive("1111111111"), "inactive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, NewAPI(&stubLookup{res: tt.res}, nil), http.MethodGet, "/check-npi?number=1111111111")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, map[string]any{"ok": false, "reason": tt.reason, "number": "1111111111"}, body(t, rec))
		})
	}
}

func TestCheckNPI_InvalidNumber(t *testing.T) {
	for _, target := range []string{
		"/check-npi",
		"/check-npi?number=",
		"/check-npi?number=123456789",
		"/check-npi?number=12345678901",
		"/check-npi?number=+123456789",
		"/check-npi?number=%20123456789",
		"/check-npi?number=%D9%A1%D9%A2%D9%A3%D9%A4%D9%A5",
	} {
		t.Run(target, func(t *testing.T) {
			stub := &stubLookup{}
			rec := serve(t, NewAPI(stub, nil), http.MethodGet, target)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]any{"detail": "Invalid NPI number format"}, body(t, rec))
			assert.Empty(t, stub.calls, "lookup must not run for invalid input")
		})
	}
}

func TestCheckNPI_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		detail string
		logMsg string
	}{
		{
			name:   "unavailable",
			err:    &npi.UpstreamError{Kind: npi.KindUnavailable, Err: errors.New("dial tcp: connection refused")},
			detail: "NPPES API request failed",
			logMsg: "connection error while checking NPI",
		},
		{
			name:   "status",
			err:    &npi.UpstreamError{Kind: npi.KindStatus, StatusCode: http.StatusBadGateway},
			detail: "NPPES API returned error",
			logMsg: "NPPES API returned error for NPI",
		},
		{
			name:   "malformed",
			err:    &npi.UpstreamError{Kind: npi.KindMalformed, Err: errors.New("unexpected token")},
			detail: "NPPES API returned error",
			logMsg: "NPPES API returned malformed response for NPI",
		},
		{
			name:   "wrapped",
			err:    fmt.Errorf("lookup: %w", &npi.UpstreamError{Kind: npi.KindStatus, StatusCode: 500}),
			detail: "NPPES API returned error",
			logMsg: "NPPES API returned error for NPI",
		},
		{
			name:   "unknown error",
			err:    errors.New("something else"),
			detail: "NPPES API request failed",
			logMsg: "unexpected error while checking NPI",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := &recLogger{}
			rec := serve(t, NewAPI(&stubLookup{err: tt.err}, L), http.MethodGet, "/check-npi?number=1234567893")

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, map[string]any{"detail": tt.detail}, body(t, rec))
			assert.NotContains(t, rec.Body.String(), "refused")

			errs := L.errors()
			require.Len(t, errs, 1, "upstream failure must be logged exactly once")
			assert.Equal(t, tt.logMsg, errs[0].msg)
			assert.ErrorIs(t, errs[0].err, tt.err)
		})
	}
}

func TestCheckNPI_ClientGoneLoggedAsWarn(t *testing.T) {
	L := &recLogger{}
	stub := &stubLookup{err: &npi.UpstreamError{Kind: npi.KindUnavailable, Err: context.Canceled}}
	api := NewAPI(stub, L)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/check-npi?number=1234567893", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	api.HandleCheckNPI(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, L.errors())
	require.Len(t, L.entries, 1)
	assert.Equal(t, "warn", L.entries[0].level)
}

func TestCheckNPI_ValidationErrorFromLookuper(t *testing.T) {
	stub := &stubLookup{err: fmt.Errorf("check: %w", npi.ErrInvalidNumber)}
	rec := serve(t, NewAPI(stub, nil), http.MethodGet, "/check-npi?number=1234567893")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"detail": "Invalid NPI number format"}, body(t, rec))
}

func TestCheckNPI_PrefersRequestLogger(t *testing.T) {
	base := &recLogger{}
	scoped := &recLogger{}
	api := NewAPI(&stubLookup{err: &npi.UpstreamError{Kind: npi.KindStatus, StatusCode: 503}}, base)

	req := httptest.NewRequest(http.MethodGet, "/check-npi?number=1234567893", nil)
	req = req.WithContext(log.WithContext(req.Context(), scoped))
	api.HandleCheckNPI(httptest.NewRecorder(), req)

	assert.Empty(t, base.entries)
	assert.Len(t, scoped.errors(), 1)
}

func TestCheckNPI_Head(t *testing.T) {
	stub := &stubLookup{res: npi.NotFound("1111111111")}
	rec := serve(t, NewAPI(stub, nil), http.MethodHead, "/check-npi?number=1111111111")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, stub.calls, 1)
}
