package httpmiddleware

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

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	// Max requests per Window, which is also the burst size.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientKey.
	KeyFunc func(*http.Request) string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiter struct {
	cfg   RateLimitConfig
	every rate.Limit
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	return &limiter{
		cfg:     cfg,
		every:   rate.Every(cfg.Window / time.Duration(max(cfg.Max, 1))),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *limiter) reserve(key string) (ok bool, remaining int, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, found := l.buckets[key]
	if !found {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.cfg.Max)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if !b.limiter.AllowN(now, 1) {
		r := b.limiter.ReserveN(now, 1)
		retryAfter = r.DelayFrom(now)
		r.CancelAt(now)
		return false, 0, retryAfter
	}
	return true, int(math.Max(0, b.limiter.TokensAt(now))), 0
}

// evict drops buckets idle for longer than two windows; they are full again
// by then and recreating them is equivalent.
func (l *limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-2 * l.cfg.Window)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// RateLimit limits each client to cfg.Max requests per cfg.Window and
// answers 429 with Retry-After beyond that. Idle clients are evicted in the
// background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.evict()
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, remaining, retryAfter := l.reserve(l.cfg.KeyFunc(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies a till by its API key and falls back to the client IP
// for unauthenticated requests.
func ClientKey(r *http.Request) string {
	if key := r.Header.Get("api_key"); key != "" {
		return "key:" + key
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
