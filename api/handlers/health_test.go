package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pingOK(ctx context.Context) error { return nil }

func pingErr(msg string) func(ctx context.Context) error {
	return func(ctx context.Context) error { return errors.New(msg) }
}

func readyStatus(t *testing.T, h *HealthHandler) (int, ServiceHealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return w.Code, status
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(zap.NewNop()).WithVersion("1.2.3")
	// 存储故障不影响存活探针
	h.RegisterCheck(NewStoreHealthCheck(pingErr("down")))

	for path, handle := range map[string]http.HandlerFunc{
		"/health":  h.HandleHealth,
		"/healthz": h.HandleHealthz,
	} {
		w := httptest.NewRecorder()
		handle(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)

		var status ServiceHealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, "healthy", status.Status, path)
		assert.False(t, status.Timestamp.IsZero())
		if path == "/health" {
			assert.Equal(t, "1.2.3", status.Version)
		}
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name   string
		store  func(ctx context.Context) error
		redis  func(ctx context.Context) error
		code   int
		status string
	}{
		{"no checks", nil, nil, http.StatusOK, "healthy"},
		{"store only", pingOK, nil, http.StatusOK, "healthy"},
		{"store and redis", pingOK, pingOK, http.StatusOK, "healthy"},
		{"redis down degrades", pingOK, pingErr("connection refused"), http.StatusOK, "degraded"},
		{"store down", pingErr("database is locked"), pingOK, http.StatusServiceUnavailable, "unhealthy"},
		{"both down", pingErr("database is locked"), pingErr("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(nil)
			if tt.store != nil {
				h.RegisterCheck(NewStoreHealthCheck(tt.store))
			}
			if tt.redis != nil {
				h.RegisterCheck(NewRedisHealthCheck(tt.redis))
			}

			code, status := readyStatus(t, h)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, status.Status)
			if tt.redis != nil {
				assert.True(t, status.Checks["redis"].Optional)
			}
			if tt.store != nil {
				assert.False(t, status.Checks["store"].Optional)
				assert.NotEmpty(t, status.Checks["store"].Latency)
			}
		})
	}
}

func TestHealthHandler_ReadyFailureMessage(t *testing.T) {
	h := NewHealthHandler(nil)
	h.RegisterCheck(NewStoreHealthCheck(pingErr("database is locked")))

	_, status := readyStatus(t, h)
	assert.Equal(t, "fail", status.Checks["store"].Status)
	assert.Equal(t, "database is locked", status.Checks["store"].Message)
}

func TestHealthHandler_ReadyChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler(nil)

	var wg sync.WaitGroup
	wg.Add(3)
	// 每个检查都等待其他检查启动；串行执行会超时
	barrier := func(ctx context.Context) error {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("checks ran serially")
		}
	}
	for _, name := range []string{"a", "b", "c"} {
		h.RegisterCheck(NewPingCheck(name, barrier))
	}

	code, status := readyStatus(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, status.Checks, 3)
}

func TestHealthHandler_ReadyHonoursTimeout(t *testing.T) {
	h := NewHealthHandler(nil)
	h.RegisterCheck(NewStoreHealthCheck(func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		return nil
	}))

	code, _ := readyStatus(t, h)
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthHandler_Version(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(nil).HandleVersion("1.0.0", "2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{
		"version":    "1.0.0",
		"build_time": "2026-01-01T00:00:00Z",
		"git_commit": "abc123",
	}, resp.Data)
}

func TestHealthHandler_Register(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthHandler(nil).Register(mux, "1.0.0", "now", "abc")

	for _, path := range []string{"/health", "/healthz", "/ready", "/readyz", "/version"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
