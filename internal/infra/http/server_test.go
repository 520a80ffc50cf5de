package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "webhooks", Env: "development"},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, MaxBodySize: 16, ReadTimeout: time.Second},
		Log:    config.LogConfig{SkipHealthLogs: true},
	}
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	s := NewServer(testConfig(), logger.NewNop(), opts...)

	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Group", "api")
			next.ServeHTTP(w, r)
		})
	}
	r := s.Router()
	r.GET("/health", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok") })
	r.Group("/api", func(api Router) {
		api.GET("/items/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		api.POST("/echo", func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				return
			}
			_, _ = w.Write(body)
		})
		api.DELETE("/items/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}, tag)
	return s
}

func TestServer_GlobalMiddleware(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestServer_Routing(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		group  bool
	}{
		{"group route", http.MethodGet, "/api/items/1", "", http.StatusNoContent, true},
		{"trailing slash", http.MethodGet, "/api/items/1/", "", http.StatusNoContent, true},
		{"double slash", http.MethodGet, "/api//items/1", "", http.StatusNoContent, true},
		{"body within limit", http.MethodPost, "/api/echo", "short", http.StatusOK, true},
		{"body over limit", http.MethodPost, "/api/echo", strings.Repeat("x", 64), http.StatusRequestEntityTooLarge, false},
		{"unknown path", http.MethodGet, "/api/nothing", "", http.StatusNotFound, false},
		{"wrong method", http.MethodPut, "/api/items/1", "", http.StatusMethodNotAllowed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.group {
				assert.Equal(t, "api", rec.Header().Get("X-Group"))
			}
		})
	}
}

func TestCollectRoutes(t *testing.T) {
	s := newTestServer(t)

	routes := CollectRoutes(s.Router())
	got := make([]string, 0, len(routes))
	for _, r := range routes {
		got = append(got, r.Method+" "+r.Path)
		assert.NotEmpty(t, r.Handler)
	}
	assert.Equal(t, []string{
		"POST /api/echo",
		"DELETE /api/items/{id}",
		"GET /api/items/{id}",
		"GET /health",
	}, got)
}

func TestPrintRoutes(t *testing.T) {
	routes := []RouteInfo{
		{Method: "GET", Path: "/health", Handler: "handler.Health"},
		{Method: "POST", Path: "/api/v1/notify", Handler: "handler.Notify"},
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintRoutes(&buf, routes, "json"))
		var decoded []RouteInfo
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, routes, decoded)
	})

	t.Run("simple", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintRoutes(&buf, routes, "simple"))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[1], "POST"))
		assert.True(t, strings.HasSuffix(lines[1], "/api/v1/notify"))
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintRoutes(&buf, routes, ""))
		out := buf.String()
		assert.Contains(t, out, "METHOD")
		assert.Contains(t, out, "handler.Notify")
		assert.Contains(t, out, "2 routes")
	})
}

func TestServer_ServeAndShutdown(t *testing.T) {
	cleaned := false
	s := newTestServer(t, WithCleanup(func() { cleaned = true }))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errCh)
	assert.True(t, cleaned)
}
