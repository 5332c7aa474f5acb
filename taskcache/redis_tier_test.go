package taskcache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/taskengine/compression"
	"github.com/BaSui01/taskengine/internal/cache"
	"github.com/BaSui01/taskengine/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTier(t *testing.T) (*miniredis.Miniredis, *cache.Manager, *RedisTier[map[string]any]) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	manager, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	tier := NewRedisTier[map[string]any](manager, time.Hour, compression.Options{Level: 6, Threshold: 64}, zap.NewNop())
	return mr, manager, tier
}

func TestRedisTier_RoundTrip(t *testing.T) {
	mr, _, tier := newTestTier(t)
	ctx := context.Background()
	key := GenerateCacheKey("analysis", map[string]any{"a": 1}, "auto")

	_, ok := tier.Get(ctx, key)
	assert.False(t, ok)

	small := map[string]any{"output": "ok"}
	require.NoError(t, tier.Set(ctx, key, small))

	got, ok := tier.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, small, got)

	raw, err := mr.Get("taskengine:result:" + key)
	require.NoError(t, err)
	assert.False(t, compression.IsGzip([]byte(raw)))
	assert.Equal(t, time.Hour, mr.TTL("taskengine:result:"+key))
}

func TestRedisTier_CompressesLargeValues(t *testing.T) {
	mr, _, tier := newTestTier(t)
	ctx := context.Background()

	large := map[string]any{"output": strings.Repeat("result line\n", 100)}
	require.NoError(t, tier.Set(ctx, "big", large))

	raw, err := mr.Get("taskengine:result:big")
	require.NoError(t, err)
	assert.True(t, compression.IsGzip([]byte(raw)))

	got, ok := tier.Get(ctx, "big")
	require.True(t, ok)
	assert.Equal(t, large, got)

	require.NoError(t, tier.Delete(ctx, "big"))
	_, ok = tier.Get(ctx, "big")
	assert.False(t, ok)
}

func TestRedisTier_FailuresAreSoft(t *testing.T) {
	mr, manager, tier := newTestTier(t)
	ctx := context.Background()

	// 损坏的数据视为未命中
	require.NoError(t, mr.Set("taskengine:result:bad", "{not json"))
	_, ok := tier.Get(ctx, "bad")
	assert.False(t, ok)

	require.NoError(t, manager.Close())
	_, ok = tier.Get(ctx, "anything")
	assert.False(t, ok)

	err := tier.Set(ctx, "k", map[string]any{"a": 1.0})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStoreError))
	assert.True(t, types.IsRetryable(err))
}
