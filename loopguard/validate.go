package loopguard

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/BaSui01/taskengine/types"
)

// IsValidContext 校验跨序列化边界传入的上下文结构
// 接受 Context、*Context、解码后的 map[string]any 或 JSON 字节。
func IsValidContext(v any) bool {
	switch val := v.(type) {
	case Context:
		return validContextValue(val)
	case *Context:
		return val != nil && validContextValue(*val)
	case []byte:
		return validContextBytes(val)
	case json.RawMessage:
		return validContextBytes(val)
	case string:
		return validContextBytes([]byte(val))
	case map[string]any:
		return validContextMap(val)
	default:
		return false
	}
}

// ParseContext 校验并解码 JSON 上下文
func ParseContext(data []byte) (Context, error) {
	if !validContextBytes(data) {
		return Context{}, types.NewError(types.ErrInvalidRequest, "malformed task context").WithHTTPStatus(400)
	}
	var ctx Context
	if err := json.Unmarshal(data, &ctx); err != nil {
		return Context{}, types.NewError(types.ErrInvalidRequest, "decode task context").WithCause(err).WithHTTPStatus(400)
	}
	return ctx, nil
}

func validContextValue(c Context) bool {
	if c.depth < 0 || c.maxDepth < 0 {
		return false
	}
	for _, p := range c.callChain {
		if p == "" {
			return false
		}
	}
	return true
}

func validContextBytes(data []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return false
	}
	return validContextMap(m)
}

func validContextMap(m map[string]any) bool {
	if v, ok := m["task_id"]; ok {
		if _, isStr := v.(string); !isStr {
			return false
		}
	}

	if _, ok := m["origin_client"].(string); !ok {
		return false
	}

	chain, ok := m["call_chain"]
	if !ok {
		return false
	}
	switch items := chain.(type) {
	case []any:
		for _, item := range items {
			if s, isStr := item.(string); !isStr || s == "" {
				return false
			}
		}
	case []string:
		for _, s := range items {
			if s == "" {
				return false
			}
		}
	default:
		return false
	}

	depth, ok := m["depth"]
	if !ok || !isNonNegativeInt(depth) {
		return false
	}

	if v, ok := m["max_depth"]; ok && !isNonNegativeInt(v) {
		return false
	}

	if v, ok := m["created_at"]; ok {
		s, isStr := v.(string)
		if !isStr {
			return false
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return false
		}
	}
	return true
}

func isNonNegativeInt(v any) bool {
	switch n := v.(type) {
	case int:
		return n >= 0
	case int64:
		return n >= 0
	case float64:
		return n >= 0 && n == math.Trunc(n) && !math.IsInf(n, 0)
	case json.Number:
		i, err := n.Int64()
		return err == nil && i >= 0
	default:
		return false
	}
}
