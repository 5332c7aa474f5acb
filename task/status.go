package task

import "github.com/BaSui01/taskengine/types"

// Status 任务状态
type Status string

// 任务状态
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// allowedTransitions 状态机；failed → running 用于调用方发起的重试
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusExpired},
	StatusRunning: {StatusCompleted, StatusFailed, StatusExpired},
	StatusFailed:  {StatusRunning},
}

// Valid 是否为合法状态
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// IsTerminal completed 与 expired 为终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// CanTransition 判断状态迁移是否合法
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition 校验状态迁移，非法时返回对应错误码
func ValidateTransition(from, to Status) *types.Error {
	if CanTransition(from, to) {
		return nil
	}

	switch {
	case from == StatusRunning && to == StatusRunning:
		return types.NewError(types.ErrTaskAlreadyRunning, "task is already running").WithHTTPStatus(409)
	case from == StatusCompleted:
		return types.NewError(types.ErrTaskAlreadyCompleted, "task is already completed").WithHTTPStatus(409)
	case from == StatusExpired:
		return types.NewError(types.ErrTaskExpired, "task has expired").WithHTTPStatus(410)
	default:
		return types.Errorf(types.ErrInvalidRequest, "invalid status transition %s -> %s", from, to).WithHTTPStatus(409)
	}
}
