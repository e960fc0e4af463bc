package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probe(t *testing.T, endpoint http.HandlerFunc) (int, probeBody) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body probeBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func pollN(h *Health, n int) {
	for range n {
		for _, c := range h.checks {
			c.poll(context.Background())
		}
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(1<<20))
	h.AddLivenessCheck("disk", time.Second, failing("read-only filesystem"))

	code, body := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "checks start healthy")
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)

	pollN(h, FailureThreshold-1)
	code, _ = probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below threshold")

	pollN(h, 1)
	code, body = probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"disk": "read-only filesystem"}, body.Checks)
}

func TestReadyEndpoint(t *testing.T) {
	var down atomic.Bool
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	})
	h.AddLivenessCheck("never-fails", time.Second, func(context.Context) error { return nil })

	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service is not ready", body.Checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	down.Store(true)
	pollN(h, FailureThreshold)
	code, body = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks["postgres"], "connection refused")
	assert.False(t, h.IsReady())

	// One success restores the check.
	down.Store(false)
	pollN(h, 1)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddReadinessCheck("counter", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())

	h.Stop()
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.SetReady(true)

	pollN(h, FailureThreshold)
	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks["slow"], "deadline exceeded")
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck(pinger{})(context.Background()))

	err := PingCheck(pinger{err: errors.New("dial tcp: refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1<<20)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}
