package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-npi/internal/httpmw"
)

const (
	DefaultRequests    = 10
	DefaultWindow      = time.Minute
	DefaultTTL         = 5 * time.Minute
	DefaultMaxVisitors = 100000
)

// body returned with every 429, matches the shape of the lookup responses
const deniedBody = `{"ok":false,"reason":"too_many_requests","detail":"Rate limit exceeded"}`

// visitor tracks a single address's current window and last activity
type visitor struct {
	start    time.Time
	count    int
	lastSeen time.Time
	// first-denial log already emitted; resets when the entry is evicted
	logged bool
}

// IPLimiter holds per-IP fixed-window counters with background eviction
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	// at most requests per window, counted from each address's first request
	requests int
	window   time.Duration

	// idle entries older than ttl are evicted by cleanup once their window is over
	ttl time.Duration

	// 0 disables the cap
	maxVisitors int
	atCapacity  bool

	now func() time.Time

	// OnFirstDenied is called once per visitor when it first gets limited.
	OnFirstDenied func(ip string)

	// OnDenied is called on every denied request.
	OnDenied func(ip string)

	// OnCapacity is called once each time the visitor map fills up.
	OnCapacity func()
}

type Option func(*IPLimiter)

// WithWindow allows requests per window for each address. A window opens on
// the first request and the count resets once it has fully elapsed.
func WithWindow(requests int, window time.Duration) Option {
	return func(l *IPLimiter) {
		if requests <= 0 || window <= 0 {
			return
		}
		l.requests = requests
		l.window = window
	}
}

func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) {
		l.ttl = d
	}
}

// WithMaxVisitors caps the number of tracked addresses. New addresses are
// denied while the map is full; known addresses keep their counters.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) {
		l.maxVisitors = n
	}
}

func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnFirstDenied = fn
	}
}

func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnDenied = fn
	}
}

func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) {
		l.OnCapacity = fn
	}
}

// New creates an IPLimiter and starts the cleanup goroutine, which stops
// when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[string]*visitor),
		requests:    DefaultRequests,
		window:      DefaultWindow,
		ttl:         DefaultTTL,
		maxVisitors: DefaultMaxVisitors,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	go l.cleanup(ctx)
	return l
}

// retryAfterSeconds rounds the wait up to whole seconds, min 1
func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// allow reports whether ip may proceed, opening its window on first sight.
// When denied, wait is the time until the address's window resets.
// Hooks run after the lock is released.
func (l *IPLimiter) allow(ip string) (ok bool, wait time.Duration) {
	now := l.now()

	l.mu.Lock()
	v, exists := l.visitors[ip]
	if !exists {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			fire := !l.atCapacity
			l.atCapacity = true
			l.mu.Unlock()
			if fire && l.OnCapacity != nil {
				l.OnCapacity()
			}
			if l.OnDenied != nil {
				l.OnDenied(ip)
			}
			return false, l.window
		}
		v = &visitor{start: now}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	if now.Sub(v.start) >= l.window {
		v.start = now
		v.count = 0
	}

	allowed := v.count < l.requests
	if allowed {
		v.count++
	} else {
		wait = v.start.Add(l.window).Sub(now)
	}

	first := false
	if !allowed && !v.logged {
		v.logged = true
		first = true
	}
	l.mu.Unlock()

	if allowed {
		return true, 0
	}
	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(ip)
	}
	if l.OnDenied != nil {
		l.OnDenied(ip)
	}
	return false, wait
}

// cleanup evicts visitors idle for longer than ttl whose window has ended,
// checking every ttl/2.
func (l *IPLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := l.now()
			l.mu.Lock()
			for ip, v := range l.visitors {
				if now.Sub(v.lastSeen) > l.ttl && now.Sub(v.start) >= l.window {
					delete(l.visitors, ip)
				}
			}
			if l.maxVisitors <= 0 || len(l.visitors) < l.maxVisitors {
				l.atCapacity = false
			}
			l.mu.Unlock()
		}
	}
}

// Len returns the number of tracked addresses.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Middleware rejects requests over the per-ip limit with 429 before they
// reach the wrapped handler. The key is the address stored by
// httpmw.ClientIPWithOptions.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())

		if ok, wait := l.allow(ip); !ok {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(deniedBody))
			return
		}

		next.ServeHTTP(w, r)
	})
}
