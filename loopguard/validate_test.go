package loopguard

import (
	"testing"

	"github.com/BaSui01/taskengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidContext(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  bool
	}{
		{"minimal json", `{"origin_client":"claude","call_chain":["claude"],"depth":0}`, true},
		{"full json", `{"task_id":"t1","origin_client":"api","call_chain":["api","hub","codex"],"depth":1,"max_depth":2,"created_at":"2026-01-02T03:04:05Z"}`, true},
		{"empty chain", `{"origin_client":"api","call_chain":[],"depth":0}`, true},
		{"negative depth", `{"origin_client":"api","call_chain":["api"],"depth":-1}`, false},
		{"fractional depth", `{"origin_client":"api","call_chain":["api"],"depth":1.5}`, false},
		{"string depth", `{"origin_client":"api","call_chain":["api"],"depth":"1"}`, false},
		{"missing depth", `{"origin_client":"api","call_chain":["api"]}`, false},
		{"numeric task id", `{"task_id":7,"origin_client":"api","call_chain":["api"],"depth":0}`, false},
		{"missing origin", `{"call_chain":["api"],"depth":0}`, false},
		{"chain not array", `{"origin_client":"api","call_chain":"api","depth":0}`, false},
		{"chain with number", `{"origin_client":"api","call_chain":["api",3],"depth":0}`, false},
		{"chain with empty name", `{"origin_client":"api","call_chain":["api",""],"depth":0}`, false},
		{"bad created at", `{"origin_client":"api","call_chain":["api"],"depth":0,"created_at":"yesterday"}`, false},
		{"negative max depth", `{"origin_client":"api","call_chain":["api"],"depth":0,"max_depth":-2}`, false},
		{"not an object", `["api"]`, false},
		{"garbage", `{{`, false},
		{"decoded map", map[string]any{"origin_client": "api", "call_chain": []any{"api"}, "depth": float64(1)}, true},
		{"decoded map with string slice", map[string]any{"origin_client": "api", "call_chain": []string{"api"}, "depth": 0}, true},
		{"unsupported type", 42, false},
		{"nil", nil, false},
		{"context value", ctxWith([]string{"api"}, 0), true},
		{"nil pointer", (*Context)(nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidContext(tt.input))
		})
	}
}

func TestParseContext_Rejects(t *testing.T) {
	_, err := ParseContext([]byte(`{"origin_client":1}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestParseContext_NormalizesOnMerge(t *testing.T) {
	ctx, err := ParseContext([]byte(`{"origin_client":"Claude Code","call_chain":["Claude Code","HUB","Gemini CLI"],"depth":1}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Claude Code", "HUB", "Gemini CLI"}, ctx.CallChain())

	g := newGuard(t, noPatternConfig())
	merged := g.MergeContext(ctx, "")
	assert.Equal(t, []string{"claude", "hub", "gemini", "hub"}, merged.CallChain())
	assert.Equal(t, "claude", merged.OriginClient())
	assert.Equal(t, 2, merged.Depth())
}
