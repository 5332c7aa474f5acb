package store

import (
	"context"
	"time"

	"github.com/BaSui01/taskengine/task"
)

// =============================================================================
// 🗄️ 任务存储接口
// =============================================================================

// Store 任务持久化
type Store interface {
	// Save 插入或整体覆盖任务
	Save(ctx context.Context, t *task.Task) error

	// Get 按 ID 读取；不存在时返回 TASK_NOT_FOUND
	Get(ctx context.Context, id string) (*task.Task, error)

	// List 按过滤条件分页，返回当前页与总数；按创建时间倒序
	List(ctx context.Context, filter task.Filter) ([]*task.Task, int64, error)

	// Delete 删除任务；不存在时返回 TASK_NOT_FOUND
	Delete(ctx context.Context, id string) error

	// Claim 条件更新：仅当存储中的状态仍为 from 时写入 t 的 running 字段
	// 状态已被并发修改时返回 TASK_ALREADY_RUNNING（或 TASK_ALREADY_COMPLETED）。
	Claim(ctx context.Context, t *task.Task, from task.Status) error

	// ExpireOverdue 将 expires_at 早于 now 的 pending/running 任务标记为 expired
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Observer 接收存储操作耗时（metrics.Collector 实现）
type Observer interface {
	RecordStoreOp(operation string, duration time.Duration, err error)
}
