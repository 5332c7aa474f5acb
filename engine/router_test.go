package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/taskengine/task"
)

func TestEstimateEngine(t *testing.T) {
	all := task.DefaultEngines()

	tests := []struct {
		name       string
		taskType   task.Type
		registered []string
		want       string
	}{
		{"analysis prefers gemini", task.TypeAnalysis, all, task.EngineGemini},
		{"generation prefers claude", task.TypeGeneration, all, task.EngineClaude},
		{"debug prefers codex", task.TypeDebug, all, task.EngineCodex},
		{"falls through preference list", task.TypeAnalysis, []string{task.EngineCodex, task.EngineClaude}, task.EngineClaude},
		{"unknown backends use first registered", task.TypeReview, []string{"local-llm", "other"}, "local-llm"},
		{"nothing registered", task.TypeGeneral, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateEngine(tt.taskType, tt.registered))
		})
	}
}

func TestEstimateEngine_CoversAllTypes(t *testing.T) {
	for _, typ := range task.Types() {
		assert.NotEmpty(t, typeAffinity[typ], typ)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Register(&stubBackend{name: "Claude"}))
	assert.NoError(t, r.Register(&stubBackend{name: "gemini"}))
	assert.NoError(t, r.Register(&stubBackend{name: "claude"}))

	assert.Equal(t, []string{"claude", "gemini"}, r.Names())
	b, ok := r.Get("CLAUDE")
	assert.True(t, ok)
	assert.Equal(t, "claude", b.Name())

	assert.Error(t, r.Register(&stubBackend{name: "auto"}))
	assert.Error(t, r.Register(&stubBackend{name: "  "}))
}

func TestRequest_Prompt(t *testing.T) {
	assert.Equal(t, "hi", Request{Payload: map[string]any{"prompt": "hi"}}.Prompt())
	assert.Equal(t, `{"a":1,"b":2}`, Request{Payload: map[string]any{"b": 2, "a": 1}}.Prompt())
}
