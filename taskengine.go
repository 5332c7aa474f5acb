// Package taskengine 组装任务引擎运行时：存储、循环防护、结果缓存、
// Redis 共享层、工作池、指标与执行后端。
//
// 用法:
//
//	cfg := config.DefaultConfig()
//	rt, err := taskengine.New(cfg, taskengine.WithLogger(logger))
//	defer rt.Close()
//	created, err := rt.Engine.Create(ctx, task.CreateInput{Type: "analysis", Payload: payload})
//
// cmd/taskengine 使用同一入口启动 HTTP 服务。
package taskengine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/taskengine/compression"
	"github.com/BaSui01/taskengine/config"
	"github.com/BaSui01/taskengine/engine"
	"github.com/BaSui01/taskengine/engine/backends"
	"github.com/BaSui01/taskengine/internal/cache"
	"github.com/BaSui01/taskengine/internal/metrics"
	"github.com/BaSui01/taskengine/internal/pool"
	"github.com/BaSui01/taskengine/internal/tlsutil"
	"github.com/BaSui01/taskengine/internal/tokenizer"
	"github.com/BaSui01/taskengine/loopguard"
	"github.com/BaSui01/taskengine/store"
	"github.com/BaSui01/taskengine/task"
	"github.com/BaSui01/taskengine/taskcache"
)

// MetricsNamespace Prometheus 指标前缀
const MetricsNamespace = "taskengine"

// TokenEncoding 指标中 token 计数使用的 tiktoken 编码
const TokenEncoding = "cl100k_base"

// Runtime 组装完成的引擎及其依赖
type Runtime struct {
	Config  *config.Config
	Engine  *engine.Engine
	Store   *store.GormStore
	Guard   *loopguard.Guard
	Metrics *metrics.Collector

	cache   *taskcache.Cache[engine.CachedResult]
	redis   *cache.Manager
	workers *pool.WorkerPool
	logger  *zap.Logger
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	backends   []engine.Backend
	counter    tokenizer.Counter
}

// Option 配置 Runtime
type Option func(*options)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer 指标注册位置，默认 prometheus.DefaultRegisterer
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithBackends 追加进程内后端，与配置中的命令后端一起注册
func WithBackends(b ...engine.Backend) Option {
	return func(o *options) { o.backends = append(o.backends, b...) }
}

// WithTokenCounter 替换 token 计数器，默认 tiktoken 加字符估算回退
func WithTokenCounter(c tokenizer.Counter) Option {
	return func(o *options) { o.counter = c }
}

// New 按配置组装运行时；失败时已创建的资源会被释放
func New(cfg *config.Config, opts ...Option) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, errors.New("taskengine: config is required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.counter == nil {
		o.counter = tokenizer.New(TokenEncoding, o.logger)
	}

	rt := &Runtime{Config: cfg, logger: o.logger.With(zap.String("component", "runtime"))}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.Metrics = metrics.NewCollector(MetricsNamespace, o.registerer, o.logger)
	rt.workers = pool.New(pool.Config{
		MaxWorkers:  cfg.Pool.MaxWorkers,
		QueueSize:   cfg.Pool.QueueSize,
		IdleTimeout: cfg.Pool.IdleTimeout,
	}, o.logger)

	rt.Store, err = store.Open(cfg.Store, o.logger,
		store.WithObserver(rt.Metrics),
		store.WithStatsReporter(rt.Metrics),
		store.WithWorkerPool(rt.workers, cfg.Engine.OffloadThresholdBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rt.Guard, err = loopguard.New(GuardConfig(cfg), o.logger, loopguard.WithObserver(rt.Metrics))
	if err != nil {
		return nil, fmt.Errorf("loop guard: %w", err)
	}

	engineOpts := []engine.Option{
		engine.WithWorkerPool(rt.workers),
		engine.WithRecorder(rt.Metrics),
		engine.WithTokenCounter(o.counter),
	}

	if cfg.Cache.Enabled {
		rt.cache = taskcache.New[engine.CachedResult](CacheConfig(cfg), o.logger)
		rt.cache.SetObserver(rt.Metrics)
		engineOpts = append(engineOpts, engine.WithCache(rt.cache))

		if cfg.Redis.Enabled {
			rt.redis, err = cache.NewManager(RedisConfig(cfg), o.logger)
			if err != nil {
				return nil, fmt.Errorf("redis: %w", err)
			}
			engineOpts = append(engineOpts, engine.WithSharedTier(
				taskcache.NewRedisTier[engine.CachedResult](rt.redis, cfg.Redis.ResultTTL, compressionOptions(cfg), o.logger),
			))
		}
	} else {
		engineOpts = append(engineOpts, engine.WithoutCache())
	}

	bs, err := Backends(cfg, o.logger)
	if err != nil {
		return nil, err
	}
	for _, b := range append(bs, o.backends...) {
		engineOpts = append(engineOpts, engine.WithBackend(b))
	}

	rt.Engine, err = engine.New(EngineConfig(cfg), rt.Store, rt.Guard, o.logger, engineOpts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Ping 检查存储
func (r *Runtime) Ping(ctx context.Context) error {
	return r.Store.Ping(ctx)
}

// RedisPing 共享层未启用时返回 nil
func (r *Runtime) RedisPing(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.Ping(ctx)
}

// RedisEnabled 是否启用了共享结果层
func (r *Runtime) RedisEnabled() bool { return r.redis != nil }

// Close 按依赖逆序释放资源
func (r *Runtime) Close() error {
	var errs []error
	if r.Engine != nil {
		errs = append(errs, r.Engine.Close())
	}
	if r.cache != nil {
		r.cache.Close()
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	if r.workers != nil {
		r.workers.Close()
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 配置转换
// =============================================================================

// GuardConfig 由应用配置生成循环防护配置
// 未配置阻断规则时使用 hub 两次出现的默认规则；后端别名并入别名表。
func GuardConfig(cfg *config.Config) loopguard.Config {
	gc := loopguard.Config{
		HubName:          cfg.Engine.HubName,
		MaxDepth:         cfg.LoopGuard.MaxDepth,
		MaxChainLength:   cfg.LoopGuard.MaxChainLength,
		PreventSelfCalls: cfg.LoopGuard.PreventSelfCalls,
		BlockedPatterns:  cfg.LoopGuard.BlockedPatterns,
		Aliases:          make(map[string]string),
	}
	if gc.HubName == "" {
		gc.HubName = loopguard.DefaultHubName
	}
	if len(gc.BlockedPatterns) == 0 {
		gc.BlockedPatterns = []string{loopguard.HubTwicePattern(gc.HubName)}
	}
	for alias, name := range cfg.LoopGuard.Aliases {
		gc.Aliases[alias] = name
	}
	for _, b := range cfg.Backends {
		for _, alias := range b.Aliases {
			gc.Aliases[alias] = b.Name
		}
	}
	return gc
}

// EngineConfig 由应用配置生成引擎配置
func EngineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.HubName = cfg.Engine.HubName
	ec.DefaultTimeout = cfg.Engine.DefaultTimeout
	ec.OffloadThresholdBytes = cfg.Engine.OffloadThresholdBytes
	ec.ReapInterval = cfg.Engine.ReapInterval
	ec.Limits = task.Limits{
		MaxPayloadBytes: cfg.Store.MaxPayloadBytes,
		DefaultTTLHours: cfg.Store.DefaultTTLHours,
		MaxTTLHours:     cfg.Store.MaxTTLHours,
	}
	ec.Compression = compressionOptions(cfg)
	return ec
}

// CacheConfig 由应用配置生成本地结果缓存配置
func CacheConfig(cfg *config.Config) taskcache.Config {
	return taskcache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxBytes:      cfg.Cache.MaxBytes,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}
}

// RedisConfig 由应用配置生成 Redis 管理器配置
func RedisConfig(cfg *config.Config) cache.Config {
	rc := cache.DefaultConfig()
	rc.Addr = cfg.Redis.Addr
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	if cfg.Redis.KeyPrefix != "" {
		rc.KeyPrefix = cfg.Redis.KeyPrefix
	}
	if cfg.Redis.ResultTTL > 0 {
		rc.DefaultTTL = cfg.Redis.ResultTTL
	}
	if cfg.Redis.TLS {
		host, _, err := net.SplitHostPort(cfg.Redis.Addr)
		if err != nil {
			host = cfg.Redis.Addr
		}
		rc.TLSConfig = tlsutil.ClientTLSConfig(host)
	}
	return rc
}

// Backends 按配置创建命令后端；未配置时为每个引擎名注册回显后端
func Backends(cfg *config.Config, logger *zap.Logger) ([]engine.Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Backends) == 0 {
		names := cfg.Engine.Engines
		if len(names) == 0 {
			names = task.DefaultEngines()
		}
		logger.Warn("no backends configured, registering echo backends", zap.Strings("engines", names))
		out := make([]engine.Backend, 0, len(names))
		for _, name := range names {
			out = append(out, backends.Echo(name))
		}
		return out, nil
	}

	out := make([]engine.Backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		b, err := backends.FromConfig(bc, logger)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.Name, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func compressionOptions(cfg *config.Config) compression.Options {
	return compression.Options{Level: cfg.Compression.Level, Threshold: cfg.Compression.Threshold}
}
