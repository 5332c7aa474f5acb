package api

import (
	"encoding/json"

	"github.com/BaSui01/taskengine/task"
	"github.com/BaSui01/taskengine/taskcache"
)

// =============================================================================
// 任务请求类型
// =============================================================================

// CreateTaskRequest 创建任务请求
// @Description 创建任务请求结构
type CreateTaskRequest struct {
	// 任务类型（analysis、generation、review 等）
	Type string `json:"type" example:"analysis" binding:"required"`
	// 任务负载，序列化后不超过 10 MiB
	Payload map[string]any `json:"payload" binding:"required"`
	// 目标引擎；缺省或 auto 时自动选择
	Engine string `json:"engine,omitempty" example:"auto"`
	// 优先级 1-10
	Priority int `json:"priority,omitempty" example:"5"`
	// 存活时长（小时），超出 [1,168] 时截断
	TTLHours int `json:"ttl_hours,omitempty" example:"24"`
	// 调用链上下文；缺省时读取 X-Task-Context 头
	Context json.RawMessage `json:"context,omitempty" swaggertype:"object"`
	// 无上下文时标识发起方
	OriginClient string `json:"origin_client,omitempty" example:"claude"`
}

// RunTaskRequest 运行任务请求，请求体可为空
// @Description 运行任务请求结构
type RunTaskRequest struct {
	// 覆盖创建时选择的引擎
	EngineOverride string `json:"engine_override,omitempty" example:"codex"`
	// 执行超时（毫秒），范围 [1000,600000]
	TimeoutMs int `json:"timeout_ms,omitempty" example:"120000"`
	// 调用方上下文；缺省时读取 X-Task-Context 头
	LoopContext json.RawMessage `json:"loop_context,omitempty" swaggertype:"object"`
	// 跳过结果缓存
	SkipCache bool `json:"skip_cache,omitempty"`
}

// =============================================================================
// 任务响应类型
// =============================================================================

// ListTasksResponse 任务列表响应
// @Description 分页任务列表
type ListTasksResponse struct {
	Tasks  []*task.Task `json:"tasks"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// CacheStatsResponse 缓存统计响应
type CacheStatsResponse struct {
	Cache    taskcache.Stats `json:"cache"`
	Backends []string        `json:"backends"`
}
