package httpapi

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defaults.
const (
	DefaultIdleTTL      = 15 * time.Minute
	DefaultCleanupEvery = 2 * time.Minute
)

// ClientLimiter keeps one token bucket per client key and forgets idle clients.
type ClientLimiter struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LimiterOption tunes a ClientLimiter.
type LimiterOption func(*ClientLimiter)

// WithIdleTTL sets how long an unused client bucket is kept.
func WithIdleTTL(d time.Duration) LimiterOption {
	return func(l *ClientLimiter) { l.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval; zero disables the janitor.
func WithCleanupEvery(d time.Duration) LimiterOption {
	return func(l *ClientLimiter) { l.cleanupEvery = d }
}

// WithLimiterClock replaces time.Now for idle tracking.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *ClientLimiter) { l.now = now }
}

// NewClientLimiter allows rps requests per second per client with the given burst.
func NewClientLimiter(rps float64, burst int, opts ...LimiterOption) *ClientLimiter {
	limiter := &ClientLimiter{
		entries:      make(map[string]*limiterEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      DefaultIdleTTL,
		cleanupEvery: DefaultCleanupEvery,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(limiter)
	}

	return limiter
}

// Allow consumes a token for key.
func (l *ClientLimiter) Allow(key string) bool {
	return l.limiter(key).AllowN(l.now(), 1)
}

// RetryAfter is the whole number of seconds until a token is refilled.
func (l *ClientLimiter) RetryAfter() int {
	if l.rps <= 0 {
		return 1
	}

	return max(1, int(math.Ceil(1/float64(l.rps))))
}

// Len is the number of tracked clients.
func (l *ClientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

// Cleanup forgets clients idle for longer than the idle TTL.
func (l *ClientLimiter) Cleanup() {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is done.
func (l *ClientLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	ticker := time.NewTicker(l.cleanupEvery)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

func (l *ClientLimiter) limiter(key string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.entries[key]; ok {
		entry.lastSeen = now

		return entry.lim
	}

	lim := rate.NewLimiter(l.rps, l.burst)
	l.entries[key] = &limiterEntry{lim: lim, lastSeen: now}

	return lim
}

// ClientKey identifies the caller: the first X-Forwarded-For address when
// trusted, otherwise the remote host.
func ClientKey(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		forwarded := r.Header.Get("X-Forwarded-For")
		if first, _, _ := strings.Cut(forwarded, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}

// RateLimit rejects callers over their budget with 429 and Retry-After.
func RateLimit(limiter *ClientLimiter, trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ClientKey(r, trustForwarded)) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter()))
				writeError(w, http.StatusTooManyRequests, errTooManyRequests)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
