package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/taskengine/config"
)

func serverConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.DBPath = ":memory:"
	cfg.Engine.ReapInterval = 0
	cfg.Cache.SweepInterval = 0
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.RateLimitRPS = 0
	return cfg
}

func TestServer_Handler(t *testing.T) {
	cfg := serverConfig()
	cfg.Auth.APIKeys = []string{"secret"}

	s, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.release(context.Background()) })

	do := func(method, path, body, key string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			r.Header.Set("Content-Type", "application/json")
		}
		if key != "" {
			r.Header.Set("X-API-Key", key)
		}
		w := httptest.NewRecorder()
		s.handler.ServeHTTP(w, r)
		return w
	}

	w := do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/tasks", "", "").Code)

	w = do(http.MethodPost, "/api/v1/tasks", `{"type":"analysis","payload":{"q":"x"}}`, "secret")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.ID)

	w = do(http.MethodPost, "/api/v1/tasks/"+created.Data.ID+"/run", "", "secret")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/stats", "", "secret").Code)
}

func TestServer_Run(t *testing.T) {
	s, err := NewServer(serverConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.httpManager.ListenAddr() != "" && s.metricsManager.ListenAddr() != ""
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.metricsManager.ListenAddr() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewServer_InvalidTLS(t *testing.T) {
	cfg := serverConfig()
	cfg.Server.TLSCertFile = "/nonexistent/cert.pem"
	cfg.Server.TLSKeyFile = "/nonexistent/key.pem"

	s, err := NewServer(cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, s)
}
