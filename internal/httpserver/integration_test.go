package httpserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keithlinneman/linnemanlabs-npi/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-npi/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-npi/internal/log"
	"github.com/keithlinneman/linnemanlabs-npi/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-npi/internal/npi"
	"github.com/keithlinneman/linnemanlabs-npi/internal/npihttp"
	"github.com/keithlinneman/linnemanlabs-npi/internal/ratelimit"
)

// registry responses keyed by the number query parameter
var registryFixtures = map[string]struct {
	status int
	body   string
}{
	"1234567893": {http.StatusOK, `{"result_count":1,"results":[{"number":1234567893,"enumeration_type":"NPI-1","basic":{"status":"A","first_name":"JANE","last_name":"DOE"}}]}`},
	"1000000004": {http.StatusOK, `{"result_count":1,"results":[{"enumeration_type":"NPI-2","basic":{"status":"A","organization_name":"ACME CLINIC"}}]}`},
	"1111111111": {http.StatusOK, `{"result_count":0,"results":[]}`},
	"2222222222": {http.StatusOK, `{"result_count":1,"results":[{"enumeration_type":"NPI-1","basic":{"status":"D"}}]}`},
	"3333333333": {http.StatusServiceUnavailable, `down`},
	"4444444444": {http.StatusOK, `<html>not json</html>`},
}

type stack struct {
	handler  http.Handler
	upstream *atomic.Int32
	metrics  *metrics.ServerMetrics
}

func newStack(t *testing.T) stack {
	t.Helper()

	var calls atomic.Int32
	reg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fx, ok := registryFixtures[r.URL.Query().Get("number")]
		if !ok {
			fx.status, fx.body = http.StatusOK, `{"result_count":0,"results":[]}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fx.status)
		fmt.Fprint(w, fx.body)
	}))
	t.Cleanup(reg.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := metrics.New()
	client := npi.NewClient(npi.Options{
		BaseURL:  reg.URL + "/api/",
		Timeout:  2 * time.Second,
		Observer: m,
	})
	t.Cleanup(client.CloseIdleConnections)

	lim := ratelimit.New(ctx,
		ratelimit.WithWindow(10, time.Minute),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
	)

	api := npihttp.NewAPI(client, log.Nop())

	h := httpserver.NewHandler(httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  lim.Middleware,
		TrustedHosts: []string{"localhost", "127.0.0.1"},
		CORS:         httpmw.CORSOptions{Origin: "https://app.example.com"},
		APIRoutes:    api.RegisterRoutes,
	})
	return stack{handler: h, upstream: &calls, metrics: m}
}

func (s stack) get(t *testing.T, path, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = "localhost:8000"
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestIntegration_Responses(t *testing.T) {
	s := newStack(t)

	tests := []struct {
		name   string
		query  string
		status int
		want   map[string]any
	}{
		{
			name:   "active individual",
			query:  "1234567893",
			status: http.StatusOK,
			want:   map[string]any{"ok": true, "number": "1234567893", "type": "NPI-1", "first_name": "JANE", "last_name": "DOE"},
		},
		{
			name:   "active organization has null names",
			query:  "1000000004",
			status: http.StatusOK,
			want:   map[string]any{"ok": true, "number": "1000000004", "type": "NPI-2", "first_name": nil, "last_name": nil},
		},
		{
			name:   "not found",
			query:  "1111111111",
			status: http.StatusOK,
			want:   map[string]any{"ok": false, "reason": "not_found", "number": "1111111111"},
		},
		{
			name:   "inactive",
			query:  "2222222222",
			status: http.StatusOK,
			want:   map[string]any{"ok": false, "reason": "inactive", "number": "2222222222"},
		},
		{
			name:   "upstream status error",
			query:  "3333333333",
			status: http.StatusInternalServerError,
			want:   map[string]any{"detail": "NPPES API returned error"},
		},
		{
			name:   "upstream malformed body",
			query:  "4444444444",
			status: http.StatusInternalServerError,
			want:   map[string]any{"detail": "NPPES API returned error"},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// distinct peers so the cases never share a bucket
			remote := fmt.Sprintf("198.51.100.%d:5000", i+1)
			rec := s.get(t, "/check-npi?number="+tt.query, remote)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec))
			assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
		})
	}
}

func TestIntegration_InvalidNumberNeverCallsRegistry(t *testing.T) {
	s := newStack(t)

	for _, q := range []string{"", "?number=", "?number=123", "?number=12345678901", "?number=12345abcde", "?number=%EF%BC%91234567890"} {
		rec := s.get(t, "/check-npi"+q, "198.51.100.50:5000")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %q", q)
		assert.Equal(t, map[string]any{"detail": "Invalid NPI number format"}, decode(t, rec))
	}
	assert.Equal(t, int32(0), s.upstream.Load())
}

func TestIntegration_RateLimit(t *testing.T) {
	s := newStack(t)
	const remote = "203.0.113.10:6000"

	for i := 0; i < 10; i++ {
		rec := s.get(t, "/check-npi?number=1111111111", remote)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
	before := s.upstream.Load()

	rec := s.get(t, "/check-npi?number=1111111111", remote)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "reason": "too_many_requests", "detail": "Rate limit exceeded"}, decode(t, rec))
	// the window opened with the first request, so nearly all of it remains
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, before, s.upstream.Load(), "denied request reached the registry")

	// invalid input is still limited before validation
	rec = s.get(t, "/check-npi?number=bad", remote)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// another client is unaffected
	rec = s.get(t, "/check-npi?number=1111111111", "203.0.113.11:6000")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIntegration_HostAndCORS(t *testing.T) {
	s := newStack(t)

	req := httptest.NewRequest(http.MethodGet, "/check-npi?number=1234567893", nil)
	req.Host = "attacker.example"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"detail": "Invalid host header"}, decode(t, rec))
	assert.Equal(t, int32(0), s.upstream.Load())

	for _, origin := range []string{"https://app.example.com", "http://localhost:3000", "http://127.0.0.1:3000"} {
		req = httptest.NewRequest(http.MethodGet, "/check-npi?number=1111111111", nil)
		req.Host = "localhost"
		req.RemoteAddr = "192.0.2.77:1000"
		req.Header.Set("Origin", origin)
		rec = httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	}

	req = httptest.NewRequest(http.MethodGet, "/check-npi?number=1111111111", nil)
	req.Host = "localhost"
	req.RemoteAddr = "192.0.2.78:1000"
	req.Header.Set("Origin", "https://other.example")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIntegration_MetricsServed(t *testing.T) {
	s := newStack(t)
	s.get(t, "/check-npi?number=1234567893", "192.0.2.200:1000")

	rec := httptest.NewRecorder()
	s.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `http_requests_total{method="GET",route="/check-npi",status="200"} 1`)
	assert.Contains(t, body, `npi_lookups_total{outcome="found"} 1`)
}
