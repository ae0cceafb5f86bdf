package httpmw

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// local development frontends are always allowed
var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

// CORSOptions configures the browser-facing origin policy.
type CORSOptions struct {
	// Origin is the primary frontend origin.
	Origin string

	// MaxAge for preflight caching in seconds, 0 leaves it to the browser.
	MaxAge int
}

// CORSOrigins returns the allowed origin list: Origin first, then the local
// development origins, without duplicates or empty entries.
func CORSOrigins(origin string) []string {
	out := make([]string, 0, len(defaultCORSOrigins)+1)
	seen := make(map[string]struct{}, len(defaultCORSOrigins)+1)
	for _, o := range append([]string{origin}, defaultCORSOrigins...) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

// CORS answers preflight requests itself and decorates actual requests from
// allowed origins. Credentials are allowed, so the origin is echoed rather
// than "*".
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   CORSOrigins(opts.Origin),
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{DefaultRequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           opts.MaxAge,
	})
}
