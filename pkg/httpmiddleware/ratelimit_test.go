package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	l.now = func() time.Time { return now }
	h := l.middleware(okHandler())

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req.Header.Set("api_key", key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, do("till-1").Code)
	w := do("till-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do("till-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, do("till-2").Code, "other tills have their own bucket")

	now = now.Add(30 * time.Second)
	assert.Equal(t, http.StatusOK, do("till-1").Code, "one token refilled")
}

func TestRateLimitEvict(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	l.now = func() time.Time { return now }

	ok, _, _ := l.reserve("a")
	require.True(t, ok)
	now = now.Add(90 * time.Second)
	ok, _, _ = l.reserve("b")
	require.True(t, ok)

	now = now.Add(time.Minute)
	l.evict()
	assert.NotContains(t, l.buckets, "a")
	assert.Contains(t, l.buckets, "b")
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"api key", map[string]string{"api_key": "secret", "X-Real-IP": "10.0.0.9"}, "1.2.3.4:5", "key:secret"},
		{"forwarded", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.2.3.4:5", "ip:10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.9"}, "1.2.3.4:5", "ip:10.0.0.9"},
		{"remote addr", nil, "1.2.3.4:5", "ip:1.2.3.4"},
		{"remote without port", nil, "1.2.3.4", "ip:1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientKey(req))
		})
	}
}
