// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/BaSui01/taskengine/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 任务指标
	tasksCreated *prometheus.CounterVec
	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	tasksExpired prometheus.Counter
	tokensUsed   *prometheus.CounterVec

	// 缓存指标
	cacheEvents *prometheus.CounterVec

	// 循环防护指标
	loopRejections *prometheus.CounterVec

	// 压缩指标
	payloadSize      prometheus.Histogram
	compressionRatio prometheus.Histogram

	// 存储指标
	storeOpDuration *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec

	// 数据库连接池
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	// 工作池
	poolWorkers *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
// reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 任务指标
	c.tasksCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Total number of tasks created",
		},
		[]string{"type", "engine"},
	)

	c.taskRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Total number of task runs by outcome",
		},
		[]string{"type", "engine", "status", "cache_hit"},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_run_duration_seconds",
			Help:      "Task run duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type", "engine"},
	)

	c.tasksExpired = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_expired_total",
			Help:      "Total number of tasks reaped as expired",
		},
	)

	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_tokens_total",
			Help:      "Total number of tokens counted for task input and output",
		},
		[]string{"engine", "direction"}, // direction: input, output
	)

	// 缓存指标
	c.cacheEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Result cache events by kind",
		},
		[]string{"event"},
	)

	// 循环防护指标
	c.loopRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_guard_rejections_total",
			Help:      "Executions rejected by the loop guard",
		},
		[]string{"code"},
	)

	// 压缩指标
	c.payloadSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_payload_size_bytes",
			Help:      "Serialized task payload size in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		},
	)

	c.compressionRatio = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compression_ratio",
			Help:      "Compressed size divided by original size",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1},
		},
	)

	// 存储指标
	c.storeOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Task store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.storeErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Task store operation failures",
		},
		[]string{"operation"},
	)

	// 数据库连接池
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	// 工作池
	c.poolWorkers = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool",
			Help:      "Worker pool gauges",
		},
		[]string{"state"}, // state: workers, active, queued
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 📋 任务指标记录
// =============================================================================

// RecordTaskCreated 记录任务创建
func (c *Collector) RecordTaskCreated(taskType, engine string, payloadSize int, ratio float64) {
	c.tasksCreated.WithLabelValues(taskType, engine).Inc()
	c.payloadSize.Observe(float64(payloadSize))
	if ratio > 0 {
		c.compressionRatio.Observe(ratio)
	}
}

// RecordTaskRun 记录一次任务运行
func (c *Collector) RecordTaskRun(taskType, engine, status string, cacheHit bool, duration time.Duration) {
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	c.taskRuns.WithLabelValues(taskType, engine, status, hit).Inc()
	if !cacheHit {
		c.taskDuration.WithLabelValues(taskType, engine).Observe(duration.Seconds())
	}
}

// RecordTokens 记录 token 计数
func (c *Collector) RecordTokens(engine string, input, output int) {
	c.tokensUsed.WithLabelValues(engine, "input").Add(float64(input))
	c.tokensUsed.WithLabelValues(engine, "output").Add(float64(output))
}

// RecordTasksExpired 记录过期回收数量
func (c *Collector) RecordTasksExpired(n int) {
	if n > 0 {
		c.tasksExpired.Add(float64(n))
	}
}

// =============================================================================
// 💾 缓存 / 循环防护（观察者接口）
// =============================================================================

// OnCacheEvent 实现 taskcache.Observer
func (c *Collector) OnCacheEvent(event string) {
	c.cacheEvents.WithLabelValues(event).Inc()
}

// OnLoopRejection 实现 loopguard.Observer
func (c *Collector) OnLoopRejection(code types.ErrorCode) {
	c.loopRejections.WithLabelValues(string(code)).Inc()
}

// =============================================================================
// 🗄️ 存储指标记录
// =============================================================================

// RecordStoreOp 记录存储操作
func (c *Collector) RecordStoreOp(operation string, duration time.Duration, err error) {
	c.storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		c.storeErrors.WithLabelValues(operation).Inc()
	}
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordPool 记录工作池状态
func (c *Collector) RecordPool(workers, active, queued int) {
	c.poolWorkers.WithLabelValues("workers").Set(float64(workers))
	c.poolWorkers.WithLabelValues("active").Set(float64(active))
	c.poolWorkers.WithLabelValues("queued").Set(float64(queued))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
