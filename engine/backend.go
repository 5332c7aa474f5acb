package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/taskengine/loopguard"
	"github.com/BaSui01/taskengine/task"
	"github.com/BaSui01/taskengine/taskcache"
	"github.com/BaSui01/taskengine/types"
)

// =============================================================================
// 🔌 执行后端
// =============================================================================

// Backend 执行后端
type Backend interface {
	// Name 后端名称，注册时规范化
	Name() string

	// Execute 执行任务并返回结果；ctx 带有本次运行的超时
	Execute(ctx context.Context, req Request) (map[string]any, error)
}

// Request 调度到后端的请求
type Request struct {
	TaskID  string
	Type    task.Type
	Payload map[string]any
	// Context 已追加中枢与目标后端，后端回调引擎时原样传回
	Context loopguard.Context
	Timeout time.Duration
}

// Prompt 返回 payload 中的 prompt 字段；没有时返回 payload 的规范 JSON
func (r Request) Prompt() string {
	if p, ok := r.Payload["prompt"].(string); ok {
		return p
	}
	data, err := taskcache.CanonicalJSON(r.Payload)
	if err != nil {
		return ""
	}
	return string(data)
}

// Registry 后端注册表，保持注册顺序
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	order    []string
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register 注册后端，同名覆盖
func (r *Registry) Register(b Backend) error {
	name := loopguard.NormalizeName(b.Name())
	if strings.TrimSpace(b.Name()) == "" || name == task.EngineAuto {
		return types.Errorf(types.ErrInvalidEngine, "invalid backend name %q", b.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; !exists {
		r.order = append(r.order, name)
	}
	r.backends[name] = b
	return nil
}

// Get 按规范化名称查找
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[loopguard.NormalizeName(name)]
	return b, ok
}

// Names 按注册顺序返回名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len 已注册数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
