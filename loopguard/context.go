package loopguard

import (
	"encoding/json"
	"strings"
	"time"
)

// ChainSeparator 调用链渲染分隔符
const ChainSeparator = ">"

// Context 防循环上下文
// 值类型，字段不可导出；所有派生操作返回新实例，访问器返回副本。
type Context struct {
	taskID       string
	originClient string
	callChain    []string
	depth        int
	maxDepth     int
	createdAt    time.Time
}

// contextJSON 序列化形式，跨进程边界传递
type contextJSON struct {
	TaskID       string    `json:"task_id"`
	OriginClient string    `json:"origin_client"`
	CallChain    []string  `json:"call_chain"`
	Depth        int       `json:"depth"`
	MaxDepth     int       `json:"max_depth,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TaskID 关联的任务 ID
func (c Context) TaskID() string { return c.taskID }

// OriginClient 调用链发起方
func (c Context) OriginClient() string { return c.originClient }

// Depth 当前嵌套深度
func (c Context) Depth() int { return c.depth }

// MaxDepth 创建时记录的最大深度
func (c Context) MaxDepth() int { return c.maxDepth }

// CreatedAt 创建时间
func (c Context) CreatedAt() time.Time { return c.createdAt }

// CallChain 返回调用链副本
func (c Context) CallChain() []string {
	out := make([]string, len(c.callChain))
	copy(out, c.callChain)
	return out
}

// Len 调用链长度
func (c Context) Len() int { return len(c.callChain) }

// IsZero 是否为零值上下文
func (c Context) IsZero() bool {
	return c.taskID == "" && c.originClient == "" && len(c.callChain) == 0 && c.depth == 0
}

// WithTaskID 返回绑定了任务 ID 的新上下文
func (c Context) WithTaskID(taskID string) Context {
	next := c.clone()
	next.taskID = taskID
	return next
}

// String 以分隔符渲染调用链
func (c Context) String() string {
	return FormatChain(c.callChain)
}

// Contains 判断调用链中是否已出现 name（已规范化比较）
func (c Context) Contains(name string) bool {
	for _, p := range c.callChain {
		if p == name {
			return true
		}
	}
	return false
}

// MarshalJSON 实现 json.Marshaler
func (c Context) MarshalJSON() ([]byte, error) {
	chain := c.callChain
	if chain == nil {
		chain = []string{}
	}
	return json.Marshal(contextJSON{
		TaskID:       c.taskID,
		OriginClient: c.originClient,
		CallChain:    chain,
		Depth:        c.depth,
		MaxDepth:     c.maxDepth,
		CreatedAt:    c.createdAt,
	})
}

// UnmarshalJSON 实现 json.Unmarshaler，结构校验见 ParseContext
func (c *Context) UnmarshalJSON(data []byte) error {
	var raw contextJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Context{
		taskID:       raw.TaskID,
		originClient: raw.OriginClient,
		callChain:    append([]string(nil), raw.CallChain...),
		depth:        raw.Depth,
		maxDepth:     raw.MaxDepth,
		createdAt:    raw.CreatedAt,
	}
	return nil
}

func (c Context) clone() Context {
	next := c
	next.callChain = c.CallChain()
	return next
}

// appendChain 追加参与者并生成新上下文，不修改原实例
func (c Context) appendChain(parts ...string) Context {
	next := c
	chain := make([]string, 0, len(c.callChain)+len(parts))
	chain = append(chain, c.callChain...)
	chain = append(chain, parts...)
	next.callChain = chain
	return next
}

// FormatChain 以分隔符渲染调用链
func FormatChain(chain []string) string {
	return strings.Join(chain, ChainSeparator)
}
