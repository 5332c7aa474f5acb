package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/BaSui01/taskengine/compression"
	"github.com/BaSui01/taskengine/config"
	"github.com/BaSui01/taskengine/internal/database"
	"github.com/BaSui01/taskengine/internal/pool"
	"github.com/BaSui01/taskengine/task"
	"github.com/BaSui01/taskengine/types"
)

// =============================================================================
// 🗄️ GORM 任务存储
// =============================================================================

// GormStore 基于 gorm 的 Store 实现（sqlite / postgres / mysql）
type GormStore struct {
	db     *gorm.DB
	pm     *database.PoolManager
	cfg    config.StoreConfig
	codec  compression.Options
	logger *zap.Logger

	observer Observer
	reporter database.StatsReporter

	// 超过 offloadBytes 的编解码交给工作池
	workers      *pool.WorkerPool
	offloadBytes int

	healthInterval time.Duration
}

// Option 配置 GormStore
type Option func(*GormStore)

// WithObserver 上报操作耗时
func WithObserver(o Observer) Option {
	return func(s *GormStore) { s.observer = o }
}

// WithStatsReporter 上报连接池状态
func WithStatsReporter(r database.StatsReporter) Option {
	return func(s *GormStore) { s.reporter = r }
}

// WithWorkerPool 大于 thresholdBytes 的 payload/result 在工作池中压缩与解压
func WithWorkerPool(p *pool.WorkerPool, thresholdBytes int) Option {
	return func(s *GormStore) {
		s.workers = p
		s.offloadBytes = thresholdBytes
	}
}

// WithHealthCheck 设置连接池健康检查间隔，0 关闭
func WithHealthCheck(interval time.Duration) Option {
	return func(s *GormStore) { s.healthInterval = interval }
}

// Open 按配置打开数据库并（可选）自动建表
func Open(cfg config.StoreConfig, logger *zap.Logger, opts ...Option) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  database.NewGormLogger(logger, 200*time.Millisecond),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	return New(db, cfg, logger, opts...)
}

// New 使用已打开的 gorm.DB 创建存储
func New(db *gorm.DB, cfg config.StoreConfig, logger *zap.Logger, opts ...Option) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &GormStore{
		db:             db,
		cfg:            cfg,
		codec:          compression.Options{Level: cfg.CompressionLevel, Threshold: 1},
		logger:         logger.With(zap.String("component", "task_store")),
		healthInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	poolCfg := database.PoolConfig{
		MaxOpenConns:        max(cfg.MaxOpenConns, 1),
		MaxIdleConns:        max(min(cfg.MaxIdleConns, cfg.MaxOpenConns), 1),
		ConnMaxLifetime:     cfg.ConnMaxLifetime,
		HealthCheckInterval: s.healthInterval,
	}
	if isMemory(cfg) {
		// 内存库随连接销毁，必须固定单连接且不回收
		poolCfg.MaxOpenConns, poolCfg.MaxIdleConns = 1, 1
		poolCfg.ConnMaxLifetime, poolCfg.ConnMaxIdleTime = 0, 0
	}

	pmOpts := []database.Option{database.WithName(cfg.Driver)}
	if s.reporter != nil {
		pmOpts = append(pmOpts, database.WithStatsReporter(s.reporter))
	}
	pm, err := database.NewPoolManager(db, poolCfg, logger, pmOpts...)
	if err != nil {
		return nil, err
	}
	s.pm = pm

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&taskRecord{}); err != nil {
			_ = pm.Close()
			return nil, fmt.Errorf("failed to auto migrate: %w", err)
		}
	}

	s.logger.Info("task store ready",
		zap.String("driver", cfg.Driver),
		zap.Bool("compression", cfg.CompressionEnabled),
		zap.Bool("auto_migrate", cfg.AutoMigrate),
	)
	return s, nil
}

// Dialector 根据驱动名构造 gorm 方言
func Dialector(cfg config.StoreConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return glebarez.Open(sqliteDSN(cfg)), nil
	case "sqlite3":
		return cgosqlite.Open(sqlite3DSN(cfg)), nil
	case "postgres":
		return postgres.Open(cfg.DSN()), nil
	case "mysql":
		return mysql.Open(cfg.DSN()), nil
	case "":
		return nil, fmt.Errorf("database driver not configured")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, sqlite3, postgres, mysql)", cfg.Driver)
	}
}

func isMemory(cfg config.StoreConfig) bool {
	return strings.HasPrefix(cfg.Driver, "sqlite") && (cfg.DBPath == "" || strings.Contains(cfg.DBPath, ":memory:"))
}

// sqliteDSN 纯 Go 驱动使用 _pragma=name(value) 形式
func sqliteDSN(cfg config.StoreConfig) string {
	path := cfg.DBPath
	if path == "" {
		path = ":memory:"
	}
	pragmas := []string{fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeout.Milliseconds())}
	if !isMemory(cfg) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return path + "?" + strings.Join(pragmas, "&")
}

// sqlite3DSN cgo 驱动使用 _busy_timeout / _journal_mode 参数
func sqlite3DSN(cfg config.StoreConfig) string {
	if isMemory(cfg) {
		return fmt.Sprintf("file::memory:?_busy_timeout=%d", cfg.BusyTimeout.Milliseconds())
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", cfg.DBPath, cfg.BusyTimeout.Milliseconds())
}

// DB 返回底层 gorm.DB
func (s *GormStore) DB() *gorm.DB { return s.db }

// PoolStats 返回连接池统计
func (s *GormStore) PoolStats() database.PoolStats { return s.pm.GetStats() }

// =============================================================================
// 🎯 Store 实现
// =============================================================================

// Save 整体写入任务；锁冲突按 MaxRetries 重试
func (s *GormStore) Save(ctx context.Context, t *task.Task) (err error) {
	defer s.observe("save", time.Now(), &err)

	payload, ratio, err := s.encode(ctx, t.Payload)
	if err != nil {
		return err
	}
	var result []byte
	if t.Result != nil {
		if result, _, err = s.encode(ctx, t.Result); err != nil {
			return err
		}
	}
	if t.CompressionRatio == 0 {
		t.CompressionRatio = ratio
	}

	rec, err := toRecord(t, payload, result)
	if err != nil {
		return err
	}

	err = s.pm.WithTransactionRetry(ctx, s.cfg.MaxRetries, func(tx *gorm.DB) error {
		return tx.Save(rec).Error
	})
	if err != nil {
		return s.wrap(err, "save task %s", t.ID)
	}
	return nil
}

// Claim 以 WHERE id=? AND status=? 的条件更新认领任务，保证同一任务只会被调度一次
func (s *GormStore) Claim(ctx context.Context, t *task.Task, from task.Status) (err error) {
	defer s.observe("claim", time.Now(), &err)

	if t.Status != task.StatusRunning {
		return types.Errorf(types.ErrInternalError, "claim task %s: status %s is not running", t.ID, t.Status)
	}

	var affected int64
	err = s.pm.WithTransactionRetry(ctx, s.cfg.MaxRetries, func(tx *gorm.DB) error {
		res := tx.Model(&taskRecord{}).
			Where("id = ? AND status = ?", t.ID, string(from)).
			Updates(map[string]any{
				"status":        string(task.StatusRunning),
				"engine":        t.Engine,
				"cache_key":     t.CacheKey,
				"started_at":    t.StartedAt,
				"completed_at":  nil,
				"error_code":    "",
				"error_message": "",
				"retry_count":   t.RetryCount,
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return s.wrap(err, "claim task %s", t.ID)
	}
	if affected == 1 {
		return nil
	}

	var current taskRecord
	if err := s.db.WithContext(ctx).Select("status").Where("id = ?", t.ID).Take(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(t.ID)
		}
		return s.wrap(err, "claim task %s", t.ID)
	}
	switch task.Status(current.Status) {
	case task.StatusCompleted:
		return types.Errorf(types.ErrTaskAlreadyCompleted, "task %s is already completed", t.ID).WithHTTPStatus(409)
	case task.StatusExpired:
		return types.Errorf(types.ErrTaskExpired, "task %s has expired", t.ID).WithHTTPStatus(410)
	default:
		return types.Errorf(types.ErrTaskAlreadyRunning, "task %s is already running", t.ID).WithHTTPStatus(409)
	}
}

// Get 按 ID 读取任务
func (s *GormStore) Get(ctx context.Context, id string) (t *task.Task, err error) {
	defer s.observe("get", time.Now(), &err)

	var rec taskRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, s.wrap(err, "get task %s", id)
	}
	return s.decode(ctx, &rec)
}

// List 分页查询
func (s *GormStore) List(ctx context.Context, filter task.Filter) (tasks []*task.Task, total int64, err error) {
	defer s.observe("list", time.Now(), &err)

	filter, err = filter.Normalize()
	if err != nil {
		return nil, 0, err
	}

	q := s.db.WithContext(ctx).Model(&taskRecord{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Engine != "" {
		q = q.Where("engine = ?", filter.Engine)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.OriginClient != "" {
		q = q.Where("origin_client = ?", filter.OriginClient)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, s.wrap(err, "count tasks")
	}

	var recs []taskRecord
	if err := q.Order("created_at DESC").Order("id").Limit(filter.Limit).Offset(filter.Offset).Find(&recs).Error; err != nil {
		return nil, 0, s.wrap(err, "list tasks")
	}

	tasks = make([]*task.Task, 0, len(recs))
	for i := range recs {
		t, err := s.decode(ctx, &recs[i])
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, nil
}

// Delete 删除任务
func (s *GormStore) Delete(ctx context.Context, id string) (err error) {
	defer s.observe("delete", time.Now(), &err)

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&taskRecord{})
	if res.Error != nil {
		return s.wrap(res.Error, "delete task %s", id)
	}
	if res.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// ExpireOverdue 批量标记过期任务
func (s *GormStore) ExpireOverdue(ctx context.Context, now time.Time) (n int64, err error) {
	defer s.observe("expire", time.Now(), &err)

	now = now.UTC()
	res := s.db.WithContext(ctx).Model(&taskRecord{}).
		Where("status IN ? AND expires_at < ?", []string{string(task.StatusPending), string(task.StatusRunning)}, now).
		Updates(map[string]any{
			"status":       string(task.StatusExpired),
			"completed_at": gorm.Expr("COALESCE(completed_at, ?)", now),
		})
	if res.Error != nil {
		return 0, s.wrap(res.Error, "expire overdue tasks")
	}
	if res.RowsAffected > 0 {
		s.logger.Info("expired overdue tasks", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Ping 检查数据库连接
func (s *GormStore) Ping(ctx context.Context) error {
	return s.pm.Ping(ctx)
}

// Close 关闭连接池
func (s *GormStore) Close() error {
	return s.pm.Close()
}

// =============================================================================
// 🔧 编解码
// =============================================================================

// encode 序列化并（按配置）压缩；返回存储字节与压缩率
func (s *GormStore) encode(ctx context.Context, v map[string]any) ([]byte, float64, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, 0, types.NewError(types.ErrCompressionError, "encode task payload").WithCause(err)
	}
	if !s.cfg.CompressionEnabled {
		return raw, 1, nil
	}

	compress := func(context.Context) (compression.Result, error) {
		return compression.CompressBytes(raw, s.codec)
	}
	var res compression.Result
	if s.shouldOffload(len(raw)) {
		res, err = pool.Do(ctx, s.workers, compress)
	} else {
		res, err = compress(ctx)
	}
	if err != nil {
		// 压缩失败退回原始 JSON
		s.logger.Warn("payload compression failed, storing raw", zap.Error(err))
		return raw, 1, nil
	}
	return res.Data, res.Ratio, nil
}

func (s *GormStore) decode(ctx context.Context, rec *taskRecord) (*task.Task, error) {
	t, err := rec.toTask()
	if err != nil {
		return nil, err
	}
	if t.Payload, err = s.decodeBlob(ctx, rec.Payload); err != nil {
		return nil, types.Errorf(types.ErrStoreError, "decode payload of task %s", rec.ID).WithCause(err)
	}
	if len(rec.Result) > 0 {
		if t.Result, err = s.decodeBlob(ctx, rec.Result); err != nil {
			return nil, types.Errorf(types.ErrStoreError, "decode result of task %s", rec.ID).WithCause(err)
		}
	}
	return t, nil
}

func (s *GormStore) decodeBlob(ctx context.Context, data []byte) (map[string]any, error) {
	decode := func(context.Context) (map[string]any, error) {
		var out map[string]any
		err := compression.DecompressInto(data, &out)
		return out, err
	}
	if compression.IsGzip(data) && s.shouldOffload(len(data)) {
		return pool.Do(ctx, s.workers, decode)
	}
	return decode(ctx)
}

func (s *GormStore) shouldOffload(size int) bool {
	return s.workers != nil && s.offloadBytes > 0 && size > s.offloadBytes
}

func (s *GormStore) observe(op string, start time.Time, errp *error) {
	if s.observer != nil {
		s.observer.RecordStoreOp(op, time.Since(start), *errp)
	}
}

func (s *GormStore) wrap(err error, format string, args ...any) error {
	return types.Errorf(types.ErrStoreError, format, args...).
		WithCause(err).
		WithRetryable(database.IsRetryableError(err)).
		WithHTTPStatus(500)
}

func notFound(id string) error {
	return types.Errorf(types.ErrTaskNotFound, "task %s not found", id).WithHTTPStatus(404)
}

var _ Store = (*GormStore)(nil)
