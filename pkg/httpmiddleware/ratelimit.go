package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client identification headers.
const (
	APIKeyHeader  = "X-API-Key"
	SessionHeader = "X-Session-ID"
)

// RateLimitConfig configures the per-client request limit.
type RateLimitConfig struct {
	// Max is the number of requests a client may make per Window.
	Max int
	// Window is the length of the counting window.
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientKey.
	KeyFunc func(*http.Request) string
}

// Decision is the outcome of a single Limiter.Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type counter struct {
	start time.Time
	curr  int
	prev  int
}

// Limiter is a sliding window request counter keyed by client. The previous
// fixed window contributes to the estimate in proportion to how much of it
// still overlaps the sliding window.
type Limiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*counter
}

// NewLimiter returns a Limiter allowing limit requests per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		max:     limit,
		window:  window,
		clients: make(map[string]*counter),
	}
}

// Allow counts a request of client key at now.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.window)
	c, ok := l.clients[key]
	switch {
	case !ok:
		c = &counter{start: start}
		l.clients[key] = c
	case c.start.Add(l.window).Equal(start):
		c.prev, c.curr, c.start = c.curr, 0, start
	case start.After(c.start):
		c.prev, c.curr, c.start = 0, 0, start
	}

	overlap := 1 - float64(now.Sub(start))/float64(l.window)
	estimate := int(math.Floor(float64(c.prev)*overlap)) + c.curr
	reset := start.Add(l.window)
	if estimate >= l.max {
		return Decision{ResetAt: reset}
	}

	c.curr++
	return Decision{
		Allowed:   true,
		Remaining: max(l.max-estimate-1, 0),
		ResetAt:   reset,
	}
}

// Evict forgets clients that made no request in the last two windows and
// returns how many were removed.
func (l *Limiter) Evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	for key, c := range l.clients {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.clients, key)
			n++
		}
	}
	return n
}

// Run evicts idle clients every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Evict(now)
		}
	}
}

// RateLimit rejects clients exceeding cfg with 429 Too Many Requests. Every
// response carries the X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimit(NewLimiter(cfg.Max, cfg.Window), cfg.KeyFunc)
}

// RateLimitWithCleanup is RateLimit with background eviction of idle
// clients, stopped when ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg.Max, cfg.Window)
	go l.Run(ctx)
	return rateLimit(l, cfg.KeyFunc)
}

func rateLimit(l *Limiter, keyFunc func(*http.Request) string) Middleware {
	if keyFunc == nil {
		keyFunc = ClientKey
	}
	limit := strconv.Itoa(l.max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d := l.Allow(keyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				wait := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller by API key, then guest session, then IP.
// API keys are hashed so raw secrets are never kept in memory.
func ClientKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	if session := strings.TrimSpace(r.Header.Get(SessionHeader)); session != "" {
		return "session:" + session
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP or the remote
// address host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
