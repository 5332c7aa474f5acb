package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/taskengine/compression"
	"github.com/BaSui01/taskengine/internal/pool"
	"github.com/BaSui01/taskengine/internal/telemetry"
	"github.com/BaSui01/taskengine/internal/tokenizer"
	"github.com/BaSui01/taskengine/loopguard"
	"github.com/BaSui01/taskengine/store"
	"github.com/BaSui01/taskengine/task"
	"github.com/BaSui01/taskengine/taskcache"
	"github.com/BaSui01/taskengine/types"
)

// =============================================================================
// ⚙️ 任务引擎
// =============================================================================

// Config 引擎配置
type Config struct {
	// 中枢名称，与循环防护使用的名称一致
	HubName string
	// 未指定 timeoutMs 时的执行超时
	DefaultTimeout time.Duration
	// 超过该字节数的负载压缩在工作池中执行
	OffloadThresholdBytes int
	// 过期任务回收间隔，0 关闭后台回收
	ReapInterval time.Duration
	// 创建任务的资源约束
	Limits task.Limits
	// 计算压缩率使用的选项
	Compression compression.Options
}

// DefaultConfig 返回默认引擎配置
func DefaultConfig() Config {
	return Config{
		HubName:               loopguard.DefaultHubName,
		DefaultTimeout:        time.Duration(task.DefaultTimeoutMs) * time.Millisecond,
		OffloadThresholdBytes: 256 << 10,
		ReapInterval:          5 * time.Minute,
		Limits:                task.DefaultLimits(),
		Compression:           compression.DefaultOptions(),
	}
}

// CachedResult 结果缓存中的值
type CachedResult struct {
	Result  map[string]any `json:"result"`
	Engine  string         `json:"engine"`
	Metrics task.Metrics   `json:"metrics"`
}

// Recorder 引擎指标（metrics.Collector 实现）
type Recorder interface {
	RecordTaskCreated(taskType, engine string, payloadSize int, ratio float64)
	RecordTaskRun(taskType, engine, status string, cacheHit bool, duration time.Duration)
	RecordTokens(engine string, input, output int)
	RecordTasksExpired(n int)
}

// PoolRecorder 工作池指标
type PoolRecorder interface {
	RecordPool(workers, active, queued int)
}

// Engine 任务引擎
// 创建、运行、查询任务；运行前查缓存，未命中时经循环防护校验后调度后端。
type Engine struct {
	cfg      Config
	store    store.Store
	guard    *loopguard.Guard
	registry *Registry
	cache    *taskcache.Cache[CachedResult]
	shared   *taskcache.RedisTier[CachedResult]
	workers  *pool.WorkerPool
	recorder Recorder
	counter  tokenizer.Counter
	now      func() time.Time
	logger   *zap.Logger

	ownsCache bool
	noCache   bool
	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Option 配置引擎
type Option func(*Engine)

// WithBackend 注册执行后端
func WithBackend(b Backend) Option {
	return func(e *Engine) {
		if err := e.registry.Register(b); err != nil {
			e.logger.Error("backend registration failed", zap.String("backend", b.Name()), zap.Error(err))
		}
	}
}

// WithRegistry 使用已有的后端注册表
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithCache 使用外部结果缓存；引擎关闭时不关闭它
func WithCache(c *taskcache.Cache[CachedResult]) Option {
	return func(e *Engine) { e.cache = c }
}

// WithoutCache 关闭结果缓存；每次运行都会调度后端
func WithoutCache() Option {
	return func(e *Engine) { e.noCache = true }
}

// WithSharedTier 启用 Redis 共享结果层
func WithSharedTier(r *taskcache.RedisTier[CachedResult]) Option {
	return func(e *Engine) { e.shared = r }
}

// WithWorkerPool 大负载的压缩交给工作池
func WithWorkerPool(p *pool.WorkerPool) Option {
	return func(e *Engine) { e.workers = p }
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTokenCounter 设置 token 计数器
func WithTokenCounter(c tokenizer.Counter) Option {
	return func(e *Engine) { e.counter = c }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New 创建引擎
func New(cfg Config, st store.Store, guard *loopguard.Guard, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("engine: loop guard is required")
	}

	defaults := DefaultConfig()
	if cfg.HubName == "" {
		cfg.HubName = guard.Hub()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.OffloadThresholdBytes <= 0 {
		cfg.OffloadThresholdBytes = defaults.OffloadThresholdBytes
	}
	if cfg.Compression.Level == 0 {
		cfg.Compression = defaults.Compression
	}

	e := &Engine{
		cfg:      cfg,
		store:    st,
		guard:    guard,
		registry: NewRegistry(),
		counter:  tokenizer.NewEstimator(),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "task_engine")),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry.Len() == 0 {
		return nil, fmt.Errorf("engine: no backends registered")
	}
	if e.cache == nil {
		e.cache = taskcache.New[CachedResult](taskcache.DefaultConfig(), logger)
		e.ownsCache = true
	}

	if cfg.ReapInterval > 0 {
		e.wg.Add(1)
		go e.reapLoop(cfg.ReapInterval)
	}

	e.logger.Info("task engine initialized",
		zap.String("hub", cfg.HubName),
		zap.Strings("backends", e.registry.Names()),
		zap.Bool("shared_tier", e.shared != nil),
		zap.Duration("reap_interval", cfg.ReapInterval),
	)
	return e, nil
}

// =============================================================================
// 📝 创建
// =============================================================================

// Create 校验输入并持久化一个 pending 任务
func (e *Engine) Create(ctx context.Context, in task.CreateInput) (created *task.Created, err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.Create", attribute.String("task.type", in.Type))
	defer func() { telemetry.EndSpan(span, err) }()

	n, err := in.Normalize(e.registry.Names(), e.cfg.Limits)
	if err != nil {
		return nil, err
	}

	engine := n.Engine
	if engine == task.EngineAuto {
		engine = EstimateEngine(n.Type, e.registry.Names())
	}

	now := e.now().UTC()
	id := uuid.NewString()

	var loopCtx loopguard.Context
	if n.Context != nil {
		loopCtx = *n.Context
	} else {
		loopCtx = e.guard.CreateContext(n.Origin).WithTaskID(id)
	}

	t := &task.Task{
		ID:               id,
		Type:             n.Type,
		Status:           task.StatusPending,
		Engine:           engine,
		RequestedEngine:  n.Engine,
		Priority:         n.Priority,
		Payload:          n.Payload,
		PayloadSize:      n.PayloadSize,
		CompressionRatio: e.compressionRatio(ctx, n.RawPayload),
		CacheKey:         taskcache.GenerateCacheKey(string(n.Type), n.Payload, engine),
		Context:          loopCtx,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Duration(n.TTLHours) * time.Hour),
	}

	if err := e.store.Save(ctx, t); err != nil {
		return nil, err
	}

	if e.recorder != nil {
		e.recorder.RecordTaskCreated(string(t.Type), engine, t.PayloadSize, t.CompressionRatio)
	}
	span.SetAttributes(
		attribute.String("task.id", id),
		attribute.String("task.engine", engine),
		attribute.Int("task.payload_size", t.PayloadSize),
	)
	e.logger.Debug("task created", append(requestFields(ctx),
		zap.String("task_id", id),
		zap.String("type", string(t.Type)),
		zap.String("engine", engine),
		zap.Int("payload_size", t.PayloadSize),
	)...)

	return &task.Created{
		ID:               id,
		Status:           t.Status,
		EstimatedEngine:  engine,
		ExpiresAt:        t.ExpiresAt,
		PayloadSize:      t.PayloadSize,
		CompressionRatio: t.CompressionRatio,
	}, nil
}

// compressionRatio 压缩失败不影响创建，按 1 处理
func (e *Engine) compressionRatio(ctx context.Context, raw []byte) float64 {
	compress := func(context.Context) (compression.Result, error) {
		return compression.CompressBytes(raw, e.cfg.Compression)
	}

	var (
		res compression.Result
		err error
	)
	if e.workers != nil && len(raw) > e.cfg.OffloadThresholdBytes {
		res, err = pool.Do(ctx, e.workers, compress)
	} else {
		res, err = compress(ctx)
	}
	if err != nil {
		e.logger.Warn("payload compression failed", zap.Error(err))
		return 1
	}
	return res.Ratio
}

// =============================================================================
// ▶️ 运行
// =============================================================================

// Run 运行任务
// 缓存命中时不调度后端；执行失败记录在任务上并通过 Result.Error 返回。
func (e *Engine) Run(ctx context.Context, id string, opts task.RunOptions) (res *task.Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.Run", attribute.String("task.id", id))
	defer func() { telemetry.EndSpan(span, err) }()

	opts, err = opts.Normalize(int(e.cfg.DefaultTimeout / time.Millisecond))
	if err != nil {
		return nil, err
	}

	t, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == task.StatusRunning {
		return nil, types.Errorf(types.ErrTaskAlreadyRunning, "task %s is already running", id).WithHTTPStatus(409)
	}

	engine := t.Engine
	cacheKey := t.CacheKey
	if opts.EngineOverride != "" {
		override, err := task.NormalizeEngine(opts.EngineOverride, e.registry.Names())
		if err != nil {
			return nil, err
		}
		if override == task.EngineAuto {
			override = EstimateEngine(t.Type, e.registry.Names())
		}
		if override != engine {
			engine = override
			cacheKey = taskcache.GenerateCacheKey(string(t.Type), t.Payload, engine)
		}
	}
	span.SetAttributes(attribute.String("task.engine", engine), attribute.String("task.type", string(t.Type)))

	if !opts.SkipCache {
		if cached, ok := e.lookup(ctx, cacheKey); ok {
			span.SetAttributes(attribute.Bool("task.cache_hit", true))
			return e.serveCached(ctx, t, cached)
		}
	}
	if t.Status == task.StatusCompleted {
		return nil, types.Errorf(types.ErrTaskAlreadyCompleted, "task %s is already completed", id).WithHTTPStatus(409)
	}

	loopCtx := t.Context
	if opts.LoopContext != nil {
		loopCtx = *opts.LoopContext
	}
	if err := e.guard.ValidateExecution(loopCtx, engine); err != nil {
		if e.recorder != nil {
			e.recorder.RecordTaskRun(string(t.Type), engine, "rejected", false, 0)
		}
		return nil, err
	}

	backend, ok := e.registry.Get(engine)
	if !ok {
		return nil, types.Errorf(types.ErrInvalidEngine, "backend %q is not registered", engine).WithHTTPStatus(400)
	}

	start := e.now()
	prev := t.Status
	if err := t.Start(start.UTC()); err != nil {
		return nil, err
	}
	t.Engine = engine
	t.CacheKey = cacheKey
	// 并发 Run 同一任务时只有一个能认领成功
	if err := e.store.Claim(ctx, t, prev); err != nil {
		return nil, err
	}

	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	output, execErr := e.dispatch(ctx, backend, Request{
		TaskID:  t.ID,
		Type:    t.Type,
		Payload: t.Payload,
		Context: e.guard.ExtendContext(loopCtx, engine),
		Timeout: timeout,
	}, timeout)

	finished := e.now()
	metrics := &task.Metrics{
		DurationMs:  finished.Sub(start).Milliseconds(),
		InputTokens: tokenizer.CountValue(e.counter, t.Payload),
	}
	if execErr == nil {
		metrics.OutputTokens = tokenizer.CountValue(e.counter, output)
	}

	// 后端返回后调用方可能已取消，持久化使用脱离取消的上下文
	persistCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		if err := t.Fail(finished.UTC(), execErr, metrics); err != nil {
			return nil, err
		}
		if err := e.store.Save(persistCtx, t); err != nil {
			return nil, err
		}
		e.recordRun(t, false, finished.Sub(start), metrics)
		e.logger.Warn("task execution failed", append(requestFields(ctx),
			zap.String("task_id", t.ID),
			zap.String("engine", engine),
			zap.String("code", string(t.Error.Code)),
			zap.Error(execErr),
		)...)
		return resultOf(t, false), nil
	}

	if err := t.Complete(finished.UTC(), output, metrics); err != nil {
		return nil, err
	}
	if err := e.store.Save(persistCtx, t); err != nil {
		return nil, err
	}
	e.remember(persistCtx, cacheKey, CachedResult{Result: output, Engine: engine, Metrics: *metrics})
	e.recordRun(t, false, finished.Sub(start), metrics)

	e.logger.Debug("task completed", append(requestFields(ctx),
		zap.String("task_id", t.ID),
		zap.String("engine", engine),
		zap.Int64("duration_ms", metrics.DurationMs),
	)...)
	return resultOf(t, false), nil
}

// dispatch 调用后端并映射错误码：超时为 EXECUTION_TIMEOUT，其他为 EXECUTION_FAILED
// 后端在独立 goroutine 中执行；截止时间一到即返回超时，不等待忽略 ctx 的后端。
func (e *Engine) dispatch(ctx context.Context, backend Backend, req Request, timeout time.Duration) (map[string]any, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out map[string]any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: types.Errorf(types.ErrExecutionFailed, "backend %s panicked: %v", backend.Name(), r).WithHTTPStatus(502)}
			}
		}()
		out, err := backend.Execute(dctx, req)
		done <- outcome{out: out, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-dctx.Done():
		res = outcome{err: dctx.Err()}
	}

	// 成功返回但已超过截止时间同样视为超时
	if errors.Is(dctx.Err(), context.DeadlineExceeded) {
		cause := res.err
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		return nil, types.Errorf(types.ErrExecutionTimeout, "backend %s timed out after %s", backend.Name(), timeout).
			WithCause(cause).
			WithHTTPStatus(504).
			WithRetryable(true)
	}
	if res.err != nil {
		if types.IsErrorCode(res.err, types.ErrExecutionFailed) {
			return nil, res.err
		}
		return nil, types.Errorf(types.ErrExecutionFailed, "backend %s failed: %v", backend.Name(), res.err).
			WithCause(res.err).
			WithHTTPStatus(502)
	}
	if res.out == nil {
		res.out = map[string]any{}
	}
	return res.out, nil
}

// serveCached 用缓存结果完成任务，不调度后端
func (e *Engine) serveCached(ctx context.Context, t *task.Task, cached CachedResult) (*task.Result, error) {
	metrics := cached.Metrics
	metrics.CacheHit = true

	if t.Status != task.StatusCompleted {
		now := e.now().UTC()
		if err := t.Start(now); err != nil {
			return nil, err
		}
		t.Engine = cached.Engine
		if err := t.Complete(now, cached.Result, &metrics); err != nil {
			return nil, err
		}
		if err := e.store.Save(ctx, t); err != nil {
			return nil, err
		}
	}

	e.recordRun(t, true, 0, nil)
	e.logger.Debug("task served from cache", zap.String("task_id", t.ID), zap.String("cache_key", t.CacheKey))

	return &task.Result{
		TaskID:   t.ID,
		Status:   task.StatusCompleted,
		Result:   cached.Result,
		Engine:   cached.Engine,
		Metrics:  &metrics,
		CacheHit: true,
	}, nil
}

// lookup 先查本地缓存，再查共享层并回填
func (e *Engine) lookup(ctx context.Context, key string) (CachedResult, bool) {
	if e.noCache {
		return CachedResult{}, false
	}
	if v, ok := e.cache.Get(key); ok {
		return v, true
	}
	if e.shared == nil {
		return CachedResult{}, false
	}
	v, ok := e.shared.Get(ctx, key)
	if !ok {
		return CachedResult{}, false
	}
	if err := e.cache.Set(key, v); err != nil {
		e.logger.Debug("cache backfill skipped", zap.String("cache_key", key), zap.Error(err))
	}
	return v, true
}

// remember 写入两级缓存；失败只记录日志
func (e *Engine) remember(ctx context.Context, key string, v CachedResult) {
	if e.noCache {
		return
	}
	if err := e.cache.Set(key, v); err != nil {
		e.logger.Warn("cache write failed", zap.String("cache_key", key), zap.Error(err))
	}
	if e.shared != nil {
		if err := e.shared.Set(ctx, key, v); err != nil {
			e.logger.Warn("shared cache write failed", zap.String("cache_key", key), zap.Error(err))
		}
	}
}

func (e *Engine) recordRun(t *task.Task, cacheHit bool, d time.Duration, m *task.Metrics) {
	if e.recorder == nil {
		return
	}
	e.recorder.RecordTaskRun(string(t.Type), t.Engine, string(t.Status), cacheHit, d)
	if m != nil {
		e.recorder.RecordTokens(t.Engine, m.InputTokens, m.OutputTokens)
	}
}

func resultOf(t *task.Task, cacheHit bool) *task.Result {
	return &task.Result{
		TaskID:   t.ID,
		Status:   t.Status,
		Result:   t.Result,
		Engine:   t.Engine,
		Metrics:  t.Metrics,
		Error:    t.Error,
		CacheHit: cacheHit,
	}
}

// =============================================================================
// 🔍 查询
// =============================================================================

// Get 读取任务；超过 expiresAt 的任务返回 TASK_EXPIRED
func (e *Engine) Get(ctx context.Context, id string) (*task.Task, error) {
	return e.load(ctx, id)
}

// load 读取任务，并把已过期的 pending/running 任务落库为 expired
func (e *Engine) load(ctx context.Context, id string) (*task.Task, error) {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	if !t.IsExpired(now) {
		return t, nil
	}
	if t.Status == task.StatusPending || t.Status == task.StatusRunning {
		if err := t.Expire(now); err == nil {
			if err := e.store.Save(ctx, t); err != nil {
				e.logger.Warn("failed to persist expired task", zap.String("task_id", id), zap.Error(err))
			}
		}
	}
	return nil, types.Errorf(types.ErrTaskExpired, "task %s expired at %s", id, t.ExpiresAt.Format(time.RFC3339)).
		WithHTTPStatus(410).
		WithDetail("status", t.Status).
		WithDetail("expires_at", t.ExpiresAt)
}

// List 分页查询任务
func (e *Engine) List(ctx context.Context, filter task.Filter) ([]*task.Task, int64, error) {
	return e.store.List(ctx, filter)
}

// CacheStats 本地结果缓存统计
func (e *Engine) CacheStats() taskcache.Stats {
	return e.cache.Stats()
}

// Backends 已注册的后端名称
func (e *Engine) Backends() []string {
	return e.registry.Names()
}

// Ping 检查存储连接
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// =============================================================================
// 🧹 过期回收
// =============================================================================

// ReapExpired 将已过期的 pending/running 任务标记为 expired
func (e *Engine) ReapExpired(ctx context.Context) (int64, error) {
	n, err := e.store.ExpireOverdue(ctx, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 && e.recorder != nil {
		e.recorder.RecordTasksExpired(int(n))
	}
	return n, nil
}

func (e *Engine) reapLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := e.ReapExpired(ctx); err != nil {
				e.logger.Warn("reap expired tasks failed", zap.Error(err))
			}
			cancel()
			e.reportPool()
		}
	}
}

func (e *Engine) reportPool() {
	if e.workers == nil {
		return
	}
	if pr, ok := e.recorder.(PoolRecorder); ok {
		s := e.workers.Stats()
		pr.RecordPool(s.Workers, s.Active, s.Queued)
	}
}

// Close 停止后台回收；自建的缓存随之关闭
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
		if e.ownsCache {
			e.cache.Close()
		}
		e.logger.Info("task engine closed")
	})
	return nil
}

// requestFields 从 HTTP 层注入的 context 中取出关联字段
func requestFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if id, ok := types.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := types.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", id))
	}
	if id, ok := types.TenantID(ctx); ok {
		fields = append(fields, zap.String("tenant_id", id))
	}
	return fields
}
