package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var seen string
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		zctx.From(r.Context()).Info("inside")
	}), InjectLogger(zap.New(core)), RequestID())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "till-7-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "till-7-42", seen)
	assert.Equal(t, "till-7-42", w.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "till-7-42", logs.All()[0].ContextMap()["request_id"])

	for _, bad := range []string{"", strings.Repeat("x", 129), "bad\nid"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, bad)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Len(t, w.Header().Get(RequestIDHeader), 36, "generated UUID for %q", bad)
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("scanner exploded")
	}), InjectLogger(zap.New(core)), Recovery())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
	assert.JSONEq(t, `{"code":500,"message":"internal error"}`, w.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Handler panic", logs.All()[0].Message)
}

func TestRecoveryRepanicsOnAbort(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := chi.NewRouter()
	r.Get("/api/products/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	})
	h := Wrap(r, InjectLogger(zap.New(core)), LogRequests())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/products/7", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/products/{id}", first["route"])
	assert.EqualValues(t, http.StatusTeapot, first["status"])
	assert.EqualValues(t, 3, first["bytes"])

	second := logs.All()[1].ContextMap()
	assert.Equal(t, "unmatched", second["route"])
	assert.EqualValues(t, http.StatusNotFound, second["status"])
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        CORSConfig
		method     string
		headers    map[string]string
		wantStatus int
		wantOrigin string
		wantCreds  string
	}{
		{
			name:       "no origin",
			cfg:        CORSConfig{Origins: []string{"https://till.example"}},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wildcard",
			cfg:        CORSConfig{},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://a.example"},
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:       "listed origin keeps configured case",
			cfg:        CORSConfig{Origins: []string{"https://Till.example"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://till.example"},
			wantStatus: http.StatusOK,
			wantOrigin: "https://Till.example",
		},
		{
			name:       "unlisted origin",
			cfg:        CORSConfig{Origins: []string{"https://till.example"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://evil.example"},
			wantStatus: http.StatusOK,
		},
		{
			name:   "preflight",
			cfg:    CORSConfig{Origins: []string{"*"}, Credentials: true, MaxAge: 600},
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin":                         "https://till.example",
				"Access-Control-Request-Method":  "POST",
				"Access-Control-Request-Headers": "api_key",
			},
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://till.example",
			wantCreds:  "true",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/cart", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			CORS(tt.cfg)(okHandler()).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORSPreflightHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
	req.Header.Set("Origin", "https://till.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "api_key, Idempotency-Key")
	w := httptest.NewRecorder()
	CORS(CORSConfig{MaxAge: 600})(okHandler()).ServeHTTP(w, req)

	assert.Equal(t, corsMethods, w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "api_key, Idempotency-Key", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}
