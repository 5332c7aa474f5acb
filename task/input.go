package task

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/taskengine/loopguard"
	"github.com/BaSui01/taskengine/types"
)

// 输入约束
const (
	DefaultPriority        = 5
	MinPriority            = 1
	MaxPriority            = 10
	DefaultTTLHours        = 24
	MinTTLHours            = 1
	MaxTTLHours            = 168
	DefaultMaxPayloadBytes = 1 << 20

	DefaultTimeoutMs = 120_000
	MinTimeoutMs     = 5_000
	MaxTimeoutMs     = 300_000

	DefaultListLimit = 20
	MaxListLimit     = 1000
)

// Limits 创建任务时的资源约束
type Limits struct {
	MaxPayloadBytes int
	DefaultTTLHours int
	MaxTTLHours     int
}

// DefaultLimits 默认约束
func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		DefaultTTLHours: DefaultTTLHours,
		MaxTTLHours:     MaxTTLHours,
	}
}

// CreateInput 创建任务输入
type CreateInput struct {
	Type     string             `json:"type"`
	Payload  map[string]any     `json:"payload"`
	Engine   string             `json:"engine,omitempty"`
	Priority int                `json:"priority,omitempty"`
	TTLHours int                `json:"ttl_hours,omitempty"`
	Context  *loopguard.Context `json:"context,omitempty"`
	// 无 Context 时用于创建新调用链
	OriginClient string `json:"origin_client,omitempty"`
}

// Normalized 校验后的创建输入
type Normalized struct {
	Type        Type
	Payload     map[string]any
	RawPayload  []byte
	PayloadSize int
	Engine      string
	Priority    int
	TTLHours    int
	Context     *loopguard.Context
	Origin      string
}

// Normalize 校验并规范化创建输入
// engines 为已注册的显式后端；ttlHours 超出范围时静默截断。
func (in CreateInput) Normalize(engines []string, limits Limits) (*Normalized, error) {
	if limits.MaxPayloadBytes <= 0 {
		limits.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if limits.DefaultTTLHours <= 0 {
		limits.DefaultTTLHours = DefaultTTLHours
	}
	if limits.MaxTTLHours <= 0 || limits.MaxTTLHours > MaxTTLHours {
		limits.MaxTTLHours = MaxTTLHours
	}

	taskType := Type(strings.ToLower(strings.TrimSpace(in.Type)))
	if !taskType.Valid() {
		return nil, types.Errorf(types.ErrInvalidTaskType, "invalid task type %q", in.Type).
			WithHTTPStatus(400).
			WithDetail("allowed", Types())
	}

	engine, err := NormalizeEngine(in.Engine, engines)
	if err != nil {
		return nil, err
	}

	priority := in.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, types.Errorf(types.ErrInvalidRequest, "priority %d out of range [%d,%d]", in.Priority, MinPriority, MaxPriority).
			WithHTTPStatus(400)
	}

	ttl := in.TTLHours
	if ttl == 0 {
		ttl = limits.DefaultTTLHours
	}
	ttl = min(max(ttl, MinTTLHours), limits.MaxTTLHours)

	if in.Payload == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "payload is required").WithHTTPStatus(400)
	}
	raw, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "payload is not JSON serializable").
			WithCause(err).
			WithHTTPStatus(400)
	}
	if len(raw) > limits.MaxPayloadBytes {
		return nil, types.Errorf(types.ErrPayloadTooLarge, "payload size %d exceeds limit %d", len(raw), limits.MaxPayloadBytes).
			WithHTTPStatus(413).
			WithDetail("payload_size", len(raw)).
			WithDetail("max_payload_bytes", limits.MaxPayloadBytes)
	}

	if in.Context != nil && !loopguard.IsValidContext(*in.Context) {
		return nil, types.NewError(types.ErrInvalidRequest, "malformed task context").WithHTTPStatus(400)
	}

	return &Normalized{
		Type:        taskType,
		Payload:     in.Payload,
		RawPayload:  raw,
		PayloadSize: len(raw),
		Engine:      engine,
		Priority:    priority,
		TTLHours:    ttl,
		Context:     in.Context,
		Origin:      loopguard.NormalizeClient(in.OriginClient),
	}, nil
}

// NormalizeEngine 规范化后端名称，空值视为 auto
func NormalizeEngine(engine string, engines []string) (string, error) {
	if strings.TrimSpace(engine) == "" {
		return EngineAuto, nil
	}
	name := loopguard.NormalizeName(engine)
	if name == EngineAuto {
		return EngineAuto, nil
	}
	for _, e := range engines {
		if loopguard.NormalizeName(e) == name {
			return name, nil
		}
	}
	return "", types.Errorf(types.ErrInvalidEngine, "invalid engine %q", engine).
		WithHTTPStatus(400).
		WithDetail("allowed", append([]string{EngineAuto}, engines...))
}

// RunOptions 运行任务选项
type RunOptions struct {
	EngineOverride string             `json:"engine_override,omitempty"`
	TimeoutMs      int                `json:"timeout_ms,omitempty"`
	LoopContext    *loopguard.Context `json:"loop_context,omitempty"`
	SkipCache      bool               `json:"skip_cache,omitempty"`
}

// Normalize 校验超时；0 使用 defaultTimeoutMs
func (o RunOptions) Normalize(defaultTimeoutMs int) (RunOptions, error) {
	if o.TimeoutMs == 0 {
		o.TimeoutMs = defaultTimeoutMs
		if o.TimeoutMs == 0 {
			o.TimeoutMs = DefaultTimeoutMs
		}
	}
	if o.TimeoutMs < MinTimeoutMs || o.TimeoutMs > MaxTimeoutMs {
		return o, types.Errorf(types.ErrInvalidRequest, "timeout_ms %d out of range [%d,%d]", o.TimeoutMs, MinTimeoutMs, MaxTimeoutMs).
			WithHTTPStatus(400)
	}
	if o.LoopContext != nil && !loopguard.IsValidContext(*o.LoopContext) {
		return o, types.NewError(types.ErrInvalidRequest, "malformed loop context").WithHTTPStatus(400)
	}
	return o, nil
}

// Filter 列表过滤条件
type Filter struct {
	Status       Status `json:"status,omitempty"`
	Engine       string `json:"engine,omitempty"`
	Type         Type   `json:"type,omitempty"`
	OriginClient string `json:"origin_client,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

// Normalize 校验分页与枚举值
func (f Filter) Normalize() (Filter, error) {
	if f.Limit == 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit < 1 || f.Limit > MaxListLimit {
		return f, types.Errorf(types.ErrInvalidRequest, "limit %d out of range [1,%d]", f.Limit, MaxListLimit).WithHTTPStatus(400)
	}
	if f.Offset < 0 {
		return f, types.Errorf(types.ErrInvalidRequest, "offset %d must be >= 0", f.Offset).WithHTTPStatus(400)
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, types.Errorf(types.ErrInvalidRequest, "invalid status %q", f.Status).WithHTTPStatus(400)
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, types.Errorf(types.ErrInvalidTaskType, "invalid task type %q", f.Type).WithHTTPStatus(400)
	}
	if f.Engine != "" {
		f.Engine = loopguard.NormalizeName(f.Engine)
	}
	if f.OriginClient != "" {
		f.OriginClient = loopguard.NormalizeClient(f.OriginClient)
	}
	return f, nil
}
