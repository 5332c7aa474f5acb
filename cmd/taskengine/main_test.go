package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/taskengine/config"
)

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		code   int
		stdout string
		stderr string
	}{
		{"no args", nil, 1, "", "Usage:"},
		{"version", []string{"version"}, 0, "TaskEngine dev", ""},
		{"help", []string{"help"}, 0, "Commands:", ""},
		{"unknown", []string{"frobnicate"}, 1, "", "Unknown command: frobnicate"},
		{"migrate usage", []string{"migrate", "--help"}, 0, "Database Migration Commands", ""},
		{"migrate no subcommand", []string{"migrate"}, 1, "Subcommands:", ""},
		{"serve bad flag", []string{"serve", "--nope"}, 2, "", "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)
			assert.Equal(t, tt.code, code)
			if tt.stdout != "" {
				assert.Contains(t, stdout.String(), tt.stdout)
			}
			if tt.stderr != "" {
				assert.Contains(t, stderr.String(), tt.stderr)
			}
		})
	}
}

func TestSplitPositional(t *testing.T) {
	pos, rest := splitPositional([]string{"3", "--db-type", "sqlite"})
	assert.Equal(t, []string{"3"}, pos)
	assert.Equal(t, []string{"--db-type", "sqlite"}, rest)

	pos, rest = splitPositional([]string{"1", "2"})
	assert.Equal(t, []string{"1", "2"}, pos)
	assert.Nil(t, rest)
}

func TestRunHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"health", "--addr", srv.URL}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "OK")

	stderr.Reset()
	assert.Equal(t, 1, run([]string{"health", "--addr", srv.URL, "--ready"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "status 503")
}

func TestInitLogger(t *testing.T) {
	for _, cfg := range []config.LogConfig{
		{Level: "debug", Format: "console"},
		{Level: "warn", Format: "json", EnableCaller: true},
		{Level: "bogus"},
	} {
		logger := initLogger(cfg)
		assert.NotNil(t, logger)
	}
	assert.True(t, initLogger(config.LogConfig{Level: "debug"}).Core().Enabled(zap.DebugLevel))
	assert.False(t, initLogger(config.LogConfig{Level: "error"}).Core().Enabled(zap.WarnLevel))
}
