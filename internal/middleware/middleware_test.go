package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MohMaya/claude-glm-wrapper/internal/config"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func managerWithKey(t *testing.T, key string) *config.Manager {
	t.Helper()

	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(&config.Config{APIKey: key}))

	return mgr
}

func TestChain_Order(t *testing.T) {
	var order []string

	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	base := New(mark("a"), mark("b"))
	extended := base.Then(mark("c"))

	extended.Handler(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)

	order = nil
	base.Handler(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order, "Then must not mutate the base chain")
}

func TestAuth(t *testing.T) {
	handler := NewAuthMiddleware(managerWithKey(t, "secret"), discard)(okHandler())

	tests := []struct {
		name   string
		path   string
		header map[string]string
		status int
	}{
		{"bearer", "/v1/messages", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"x-api-key", "/v1/messages", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"lowercase bearer scheme", "/v1/messages", map[string]string{"Authorization": "bearer secret"}, http.StatusOK},
		{"x-api-key wins over bearer", "/v1/messages", map[string]string{"X-API-Key": "secret", "Authorization": "Bearer nope"}, http.StatusOK},
		{"wrong x-api-key is not rescued by bearer", "/v1/messages", map[string]string{"X-API-Key": "nope", "Authorization": "Bearer secret"}, http.StatusUnauthorized},
		{"basic scheme rejected", "/v1/messages", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
		{"wrong key", "/v1/messages", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"missing", "/v1/messages", nil, http.StatusUnauthorized},
		{"healthz is open", "/healthz", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Proxy API key not authorized"}`, rec.Body.String())
			}
		})
	}
}

func TestAuth_NoKeyConfigured(t *testing.T) {
	handler := NewAuthMiddleware(managerWithKey(t, ""), discard)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	handler := NewRateLimiter(60, 2, discard).Middleware(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
		req.RemoteAddr = addr

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1002"), "same ip, different port")
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"), "other clients have their own bucket")
}

func TestRequestID(t *testing.T) {
	var seen string

	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "client-id")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-id", seen)
	assert.Equal(t, "client-id", rec.Header().Get(HeaderRequestID))
}

func TestTelemetryBlocker(t *testing.T) {
	handler := NewTelemetryBlockerMiddleware(discard)(okHandler())

	tests := []struct {
		name   string
		host   string
		path   string
		status int
		body   string
	}{
		{"statsig host", "statsig.anthropic.com", "/v1/anything", http.StatusAccepted, `{"success":true}`},
		{"statsig path", "127.0.0.1:17870", "/v1/log_event", http.StatusAccepted, `{"success":true}`},
		{"metrics", "api.anthropic.com", "/api/claude_code/metrics", http.StatusOK, `{"accepted_count":0,"rejected_count":0}`},
		{"messages pass", "127.0.0.1:17870", "/v1/messages", http.StatusOK, "ok"},
		{"metrics path on other host", "127.0.0.1:17870", "/api/claude_code/metrics", http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			req.Host = tt.host

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestLogging_PreservesFlusher(t *testing.T) {
	var flushable bool

	handler := NewLoggingMiddleware(discard)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, flushable)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
