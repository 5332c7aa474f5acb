package taskcache

import (
	"context"
	"time"

	"github.com/BaSui01/taskengine/compression"
	"github.com/BaSui01/taskengine/internal/cache"
	"github.com/BaSui01/taskengine/types"
	"go.uber.org/zap"
)

// ============================================================
// 🌐 Redis 共享结果层
// ============================================================

// RedisTier 本地缓存之后的第二级结果缓存
// 值以 JSON 存储，超过压缩阈值时使用 gzip。
type RedisTier[V any] struct {
	manager     *cache.Manager
	ttl         time.Duration
	compression compression.Options
	logger      *zap.Logger
}

// NewRedisTier 创建 Redis 结果层，ttl 为 0 时使用 manager 的默认 TTL
func NewRedisTier[V any](manager *cache.Manager, ttl time.Duration, opts compression.Options, logger *zap.Logger) *RedisTier[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTier[V]{
		manager:     manager,
		ttl:         ttl,
		compression: opts,
		logger:      logger.With(zap.String("component", "redis_tier")),
	}
}

func (r *RedisTier[V]) key(cacheKey string) string {
	return r.manager.Key("result", cacheKey)
}

// Get 读取结果；错误只记录日志并视为未命中
func (r *RedisTier[V]) Get(ctx context.Context, cacheKey string) (V, bool) {
	var zero V

	data, err := r.manager.GetBytes(ctx, r.key(cacheKey))
	if err != nil {
		if !cache.IsCacheMiss(err) {
			r.logger.Warn("redis tier read failed", zap.String("key", cacheKey), zap.Error(err))
		}
		return zero, false
	}

	var out V
	if err := compression.DecompressInto(data, &out); err != nil {
		r.logger.Warn("redis tier decode failed", zap.String("key", cacheKey), zap.Error(err))
		return zero, false
	}
	return out, true
}

// Set 写入结果
func (r *RedisTier[V]) Set(ctx context.Context, cacheKey string, value V) error {
	res, err := compression.CompressWithInfo(value, r.compression)
	if err != nil {
		return err
	}
	if err := r.manager.SetBytes(ctx, r.key(cacheKey), res.Data, r.ttl); err != nil {
		return types.NewError(types.ErrStoreError, "write shared result tier").WithCause(err).WithRetryable(true)
	}
	return nil
}

// Delete 删除结果
func (r *RedisTier[V]) Delete(ctx context.Context, cacheKey string) error {
	if err := r.manager.Delete(ctx, r.key(cacheKey)); err != nil {
		return types.NewError(types.ErrStoreError, "delete shared result").WithCause(err)
	}
	return nil
}
