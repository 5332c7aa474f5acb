package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.CountTokens(""))
	assert.Equal(t, 1, e.CountTokens("hi"))
	assert.Equal(t, 4, e.CountTokens("abcdefghijklmnop"))
	// 6 个汉字 ≈ 4 token
	assert.Equal(t, 4, e.CountTokens("任务引擎测试"))
	assert.Equal(t, "estimator", e.Name())
}

func TestEstimator_Monotonic(t *testing.T) {
	e := NewEstimator()
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.String().Draw(t, "a")
		b := rapid.String().Draw(t, "b")
		if a == "" {
			return
		}
		// 追加内容不会减少估算值
		if e.CountTokens(a+b) < e.CountTokens(a) {
			t.Fatalf("count(%q) < count(%q)", a+b, a)
		}
	})
}

func TestFallbackCounter_UnknownEncodingFallsBack(t *testing.T) {
	c := New("no_such_encoding", zaptest.NewLogger(t))

	text := "review the payment module"
	assert.Equal(t, NewEstimator().CountTokens(text), c.CountTokens(text))
	assert.Equal(t, "estimator", c.Name())

	_, err := c.primary.Count(text)
	assert.Error(t, err)
}

func TestTiktokenCounter_CL100K(t *testing.T) {
	c := NewTiktokenCounter("")
	n, err := c.Count("hello world")
	if err != nil {
		t.Skipf("cl100k_base not available: %v", err)
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, "tiktoken[cl100k_base]", c.Name())

	zero, err := c.Count("")
	require.NoError(t, err)
	assert.Zero(t, zero)
}

func TestCountValue(t *testing.T) {
	e := NewEstimator()
	assert.Zero(t, CountValue(e, nil))
	assert.Zero(t, CountValue(e, map[string]any{}))
	assert.Equal(t, e.CountTokens("plain text"), CountValue(e, "plain text"))
	assert.Equal(t, e.CountTokens(`{"prompt":"x"}`), CountValue(e, map[string]any{"prompt": "x"}))
	// 无法序列化的值计为 0
	assert.Zero(t, CountValue(e, map[string]any{"ch": make(chan int)}))
}
