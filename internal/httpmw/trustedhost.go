package httpmw

import (
	"net"
	"net/http"
	"strings"
)

const invalidHostBody = `{"detail":"Invalid host header"}`

// TrustedHost rejects requests whose Host header is not in allowed with 400.
// Entries match case-insensitively after stripping the port; "*" allows any
// host and "*.example.com" allows any subdomain of example.com (not the apex).
// An empty list allows everything.
func TrustedHost(allowed []string) func(http.Handler) http.Handler {
	m := newHostMatcher(allowed)
	return func(next http.Handler) http.Handler {
		if m.any {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.match(r.Host) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(invalidHostBody))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type hostMatcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string
}

func newHostMatcher(allowed []string) hostMatcher {
	m := hostMatcher{exact: make(map[string]struct{})}
	for _, h := range allowed {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
			continue
		case h == "*":
			m.any = true
		case strings.HasPrefix(h, "*."):
			m.suffixes = append(m.suffixes, h[1:]) // keep the leading dot
		default:
			m.exact[h] = struct{}{}
		}
	}
	if len(m.exact) == 0 && len(m.suffixes) == 0 {
		m.any = true
	}
	return m
}

func (m hostMatcher) match(hostport string) bool {
	if m.any {
		return true
	}
	host := strings.ToLower(stripPort(hostport))
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, s := range m.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	// bracketed IPv6 without a port
	return strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
}
