package loopguard

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"claude", "claude"},
		{"  CLAUDE  ", "claude"},
		{"Claude Code", "claude"},
		{"claude_code", "claude"},
		{"claude--_ code", "claude"},
		{"gemini-cli", "gemini"},
		{"Google Gemini", "gemini"},
		{"OpenAI Codex", "codex"},
		{"engine-a", "engine-a"},
		{"Engine  B", "engine-b"},
		{"-x-", "x"},
		{"", UnknownClient},
		{"   ", UnknownClient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeName_UnknownNamesStayDistinct(t *testing.T) {
	a := NormalizeName("engine-a")
	b := NormalizeName("engine-b")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, UnknownClient, a)
	assert.NotEqual(t, UnknownClient, b)
}

func TestNormalizeClient(t *testing.T) {
	assert.Equal(t, "claude", NormalizeClient("Claude-Code"))
	assert.Equal(t, "vscode", NormalizeClient("VS Code"))
	assert.Equal(t, "cli", NormalizeClient("terminal"))
	assert.Equal(t, UnknownClient, NormalizeClient("engine-a"))
	assert.Equal(t, UnknownClient, NormalizeClient(""))
	assert.Len(t, KnownClients(), len(knownClients))
}

func TestGuard_CustomAliases(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aliases = map[string]string{"My Router": "Hub", "gpt": "codex"}
	g := newGuard(t, cfg)

	assert.Equal(t, "hub", g.Normalize("my_router"))
	assert.Equal(t, "codex", g.Normalize("GPT"))
	// 默认别名仍然生效
	assert.Equal(t, "claude", g.Normalize("anthropic"))
	// 包级函数不受守卫配置影响
	assert.Equal(t, "gpt", NormalizeName("gpt"))
}

func TestProperty_NormalizeName(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalization is idempotent", prop.ForAll(
		func(s string) bool {
			once := NormalizeName(s)
			return NormalizeName(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("output has no separator runs or uppercase", prop.ForAll(
		func(s string) bool {
			out := NormalizeName(s)
			return !strings.ContainsAny(out, " _\t") &&
				!strings.Contains(out, "--") &&
				out == strings.ToLower(out) &&
				!strings.HasPrefix(out, "-") && !strings.HasSuffix(out, "-")
		},
		gen.AnyString(),
	))

	properties.Property("distinct unknown identifiers never collapse", prop.ForAll(
		func(a, b string) bool {
			na := NormalizeName("engine-" + a)
			nb := NormalizeName("engine-" + b)
			if a == b {
				return na == nb
			}
			return na != nb && na != UnknownClient && nb != UnknownClient
		},
		gen.Identifier().Map(strings.ToLower),
		gen.Identifier().Map(strings.ToLower),
	))

	properties.TestingRun(t)
}
