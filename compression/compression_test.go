package compression

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/BaSui01/taskengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ============================================================
// 🧪 压缩测试
// ============================================================

func largePayload() map[string]any {
	return map[string]any{
		"prompt": strings.Repeat("analyze the repository layout and summarize findings. ", 200),
		"files":  []any{"a.go", "b.go", "c.go"},
	}
}

func TestCompress_RoundTrip(t *testing.T) {
	payload := largePayload()

	data, err := Compress(payload, DefaultLevel)
	require.NoError(t, err)
	assert.True(t, IsGzip(data))

	out, err := Decompress(data)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestCompress_InvalidLevel(t *testing.T) {
	_, err := Compress(map[string]any{"a": 1.0}, 10)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCompressionError))

	_, err = Compress(map[string]any{"a": 1.0}, -1)
	assert.Error(t, err)
}

func TestCompress_UnserializablePayload(t *testing.T) {
	_, err := Compress(map[string]any{"ch": make(chan int)}, DefaultLevel)
	require.Error(t, err)
	assert.Equal(t, types.ErrCompressionError, types.GetErrorCode(err))
}

func TestCompressWithInfo_BelowThreshold(t *testing.T) {
	payload := map[string]any{"text": strings.Repeat("x", 80)}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.Less(t, len(raw), 4096)

	res, err := CompressWithInfo(payload, Options{Level: 6, Threshold: 4096})
	require.NoError(t, err)

	assert.False(t, res.Compressed)
	assert.Equal(t, raw, res.Data)
	assert.Equal(t, len(raw), res.OriginalSize)
	assert.Equal(t, len(raw), res.CompressedSize)
	assert.Equal(t, 1.0, res.Ratio)
}

func TestCompressWithInfo_AboveThreshold(t *testing.T) {
	res, err := CompressWithInfo(largePayload(), DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.Compressed)
	assert.True(t, IsGzip(res.Data))
	assert.Less(t, res.CompressedSize, res.OriginalSize)
	assert.Less(t, res.Ratio, 1.0)
	assert.Equal(t, len(res.Data), res.CompressedSize)

	out, err := DecompressWithInfo(res)
	require.NoError(t, err)
	assert.Equal(t, largePayload(), out)
}

func TestCompressWithInfo_NotSmaller(t *testing.T) {
	// 小负载的 gzip 头部开销大于节省量
	res, err := CompressWithInfo(map[string]any{"a": 1.0}, Options{Level: 9, Threshold: 1})
	require.NoError(t, err)

	assert.False(t, res.Compressed)
	assert.Equal(t, []byte(`{"a":1}`), res.Data)
	assert.False(t, IsGzip(res.Data))
}

func TestDecompress_RawJSON(t *testing.T) {
	out, err := Decompress([]byte(`{"b":2,"a":[1,"x"]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": []any{1.0, "x"}, "b": 2.0}, out)
}

func TestDecompress_CorruptGzip(t *testing.T) {
	_, err := Decompress([]byte{0x1f, 0x8b, 0x00, 0x01})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCompressionError))
}

func TestIsGzip(t *testing.T) {
	assert.True(t, IsGzip([]byte{0x1f, 0x8b, 0x08}))
	assert.False(t, IsGzip([]byte{0x1f}))
	assert.False(t, IsGzip(nil))
	assert.False(t, IsGzip([]byte(`{"a":1}`)))
}

// payloadGen 生成 JSON 兼容的负载（数字均为 float64）
func payloadGen() *rapid.Generator[map[string]any] {
	leaf := rapid.OneOf(
		rapid.Map(rapid.String(), func(s string) any { return s }),
		rapid.Map(rapid.IntRange(-1_000_000, 1_000_000), func(i int) any { return float64(i) }),
		rapid.Map(rapid.Bool(), func(b bool) any { return b }),
		rapid.Just[any](nil),
	)
	return rapid.MapOf(rapid.StringN(1, 12, -1), leaf)
}

func TestProperty_CompressRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		payload := payloadGen().Draw(rt, "payload")
		level := rapid.IntRange(MinLevel, MaxLevel).Draw(rt, "level")
		threshold := rapid.IntRange(1, 512).Draw(rt, "threshold")

		data, err := Compress(payload, level)
		if err != nil {
			rt.Fatalf("compress: %v", err)
		}
		out, err := Decompress(data)
		if err != nil {
			rt.Fatalf("decompress: %v", err)
		}
		assert.Equal(rt, payload, out)

		res, err := CompressWithInfo(payload, Options{Level: level, Threshold: threshold})
		if err != nil {
			rt.Fatalf("compress with info: %v", err)
		}
		if res.Compressed && res.CompressedSize >= res.OriginalSize {
			rt.Fatalf("compressed blob not smaller: %d >= %d", res.CompressedSize, res.OriginalSize)
		}
		back, err := DecompressWithInfo(res)
		if err != nil {
			rt.Fatalf("decompress with info: %v", err)
		}
		assert.Equal(rt, payload, back)
	})
}
