package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-npi/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-npi/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()

	// MetricsMW wraps every request that passed the host and CORS checks.
	MetricsMW func(http.Handler) http.Handler

	// RateLimitMW guards APIRoutes only. It reads the address stored by the
	// client IP middleware, so it must not be applied anywhere outside NewHandler.
	RateLimitMW func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	// TrustedHosts is the Host header allowlist. Empty allows any host.
	TrustedHosts []string

	CORS httpmw.CORSOptions

	// APIRoutes registers the rate limited routes.
	APIRoutes func(r chi.Router)

	// MaxBodyBytes caps request bodies; 0 uses DefaultMaxBodyBytes.
	MaxBodyBytes int64
}
