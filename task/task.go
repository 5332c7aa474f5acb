package task

import (
	"time"

	"github.com/BaSui01/taskengine/loopguard"
	"github.com/BaSui01/taskengine/types"
)

// =============================================================================
// 📋 任务模型
// =============================================================================

// Type 任务类别，用于路由启发
type Type string

// 任务类别
const (
	TypeAnalysis      Type = "analysis"
	TypeGeneration    Type = "generation"
	TypeReview        Type = "review"
	TypeRefactor      Type = "refactor"
	TypeDebug         Type = "debug"
	TypeResearch      Type = "research"
	TypeDocumentation Type = "documentation"
	TypeTesting       Type = "testing"
	TypeGeneral       Type = "general"
)

var validTypes = map[Type]bool{
	TypeAnalysis:      true,
	TypeGeneration:    true,
	TypeReview:        true,
	TypeRefactor:      true,
	TypeDebug:         true,
	TypeResearch:      true,
	TypeDocumentation: true,
	TypeTesting:       true,
	TypeGeneral:       true,
}

// Valid 是否为合法任务类别
func (t Type) Valid() bool { return validTypes[t] }

// Types 返回全部任务类别
func Types() []Type {
	return []Type{
		TypeAnalysis, TypeGeneration, TypeReview, TypeRefactor, TypeDebug,
		TypeResearch, TypeDocumentation, TypeTesting, TypeGeneral,
	}
}

// 执行后端
const (
	EngineAuto   = "auto"
	EngineClaude = "claude"
	EngineGemini = "gemini"
	EngineCodex  = "codex"
)

// DefaultEngines 内置的显式后端
func DefaultEngines() []string {
	return []string{EngineClaude, EngineGemini, EngineCodex}
}

// Metrics 执行指标
type Metrics struct {
	DurationMs   int64 `json:"duration_ms"`
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	CacheHit     bool  `json:"cache_hit"`
}

// ErrorInfo 任务上记录的错误
type ErrorInfo struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// Task 任务
type Task struct {
	ID               string            `json:"id"`
	Type             Type              `json:"type"`
	Status           Status            `json:"status"`
	Engine           string            `json:"engine,omitempty"`
	RequestedEngine  string            `json:"requested_engine"`
	Priority         int               `json:"priority"`
	Payload          map[string]any    `json:"payload"`
	PayloadSize      int               `json:"payload_size"`
	CompressionRatio float64           `json:"compression_ratio"`
	CacheKey         string            `json:"cache_key"`
	Result           map[string]any    `json:"result,omitempty"`
	Context          loopguard.Context `json:"context"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	ExpiresAt        time.Time         `json:"expires_at"`
	Metrics          *Metrics          `json:"metrics,omitempty"`
	Error            *ErrorInfo        `json:"error,omitempty"`
	RetryCount       int               `json:"retry_count"`
}

// IsExpired 是否已超过 expiresAt（或已被标记为 expired）
func (t *Task) IsExpired(now time.Time) bool {
	if t.Status == StatusExpired {
		return true
	}
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Start pending/failed → running
func (t *Task) Start(now time.Time) error {
	if t.IsExpired(now) && t.Status != StatusCompleted {
		return types.Errorf(types.ErrTaskExpired, "task %s expired at %s", t.ID, t.ExpiresAt.Format(time.RFC3339))
	}
	if err := t.transition(StatusRunning); err != nil {
		return err
	}
	if t.Error != nil {
		t.RetryCount++
		t.Error = nil
	}
	t.StartedAt = &now
	t.CompletedAt = nil
	return nil
}

// Complete running → completed
func (t *Task) Complete(now time.Time, result map[string]any, metrics *Metrics) error {
	if err := t.transition(StatusCompleted); err != nil {
		return err
	}
	t.Result = result
	t.Metrics = metrics
	t.Error = nil
	t.CompletedAt = &now
	return nil
}

// Fail running → failed，记录错误码与消息
func (t *Task) Fail(now time.Time, err error, metrics *Metrics) error {
	if terr := t.transition(StatusFailed); terr != nil {
		return terr
	}
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrExecutionFailed
	}
	msg := err.Error()
	if e, ok := types.AsError(err); ok {
		msg = e.Message
	}
	t.Error = &ErrorInfo{Code: code, Message: msg}
	t.Metrics = metrics
	t.CompletedAt = &now
	return nil
}

// Expire pending/running → expired
func (t *Task) Expire(now time.Time) error {
	if err := t.transition(StatusExpired); err != nil {
		return err
	}
	if t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	return nil
}

func (t *Task) transition(to Status) error {
	if err := ValidateTransition(t.Status, to); err != nil {
		return err.WithDetail("task_id", t.ID)
	}
	t.Status = to
	return nil
}

// Clone 深拷贝（map 浅层复制）
func (t *Task) Clone() *Task {
	cp := *t
	cp.Payload = cloneMap(t.Payload)
	cp.Result = cloneMap(t.Result)
	if t.Metrics != nil {
		m := *t.Metrics
		cp.Metrics = &m
	}
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		cp.StartedAt = &s
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Result 运行结果
type Result struct {
	TaskID   string         `json:"task_id"`
	Status   Status         `json:"status"`
	Result   map[string]any `json:"result,omitempty"`
	Engine   string         `json:"engine"`
	Metrics  *Metrics       `json:"metrics,omitempty"`
	Error    *ErrorInfo     `json:"error,omitempty"`
	CacheHit bool           `json:"cache_hit"`
}

// Created 创建任务的返回
type Created struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status"`
	EstimatedEngine  string    `json:"estimated_engine"`
	ExpiresAt        time.Time `json:"expires_at"`
	PayloadSize      int       `json:"payload_size"`
	CompressionRatio float64   `json:"compression_ratio"`
}
