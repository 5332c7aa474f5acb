package loopguard

import (
	"fmt"
	"regexp"

	"github.com/BaSui01/taskengine/types"
)

const (
	// DefaultHubName 路由中枢在调用链中的名称
	DefaultHubName = "hub"
	// DefaultMaxDepth 默认最大嵌套深度
	DefaultMaxDepth = 2
	// DefaultMaxChainLength 默认最大调用链长度
	DefaultMaxChainLength = 5
)

// Config 防循环配置
type Config struct {
	HubName string `yaml:"hub_name" json:"hub_name"`
	// MaxDepth 取值 [1,10]
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
	// MaxChainLength 取值 [2,20]
	MaxChainLength   int  `yaml:"max_chain_length" json:"max_chain_length"`
	PreventSelfCalls bool `yaml:"prevent_self_calls" json:"prevent_self_calls"`
	// BlockedPatterns 作用于渲染后的调用链
	BlockedPatterns []string `yaml:"blocked_patterns" json:"blocked_patterns"`
	// Aliases 追加到默认别名表
	Aliases map[string]string `yaml:"aliases" json:"aliases"`
}

// DefaultConfig 默认配置，阻止调用链两次经过中枢
func DefaultConfig() Config {
	return Config{
		HubName:          DefaultHubName,
		MaxDepth:         DefaultMaxDepth,
		MaxChainLength:   DefaultMaxChainLength,
		PreventSelfCalls: true,
		BlockedPatterns:  []string{HubTwicePattern(DefaultHubName)},
	}
}

// HubTwicePattern 匹配调用链中出现两次 hub 的正则
func HubTwicePattern(hub string) string {
	h := regexp.QuoteMeta(canonicalForm(hub))
	sep := regexp.QuoteMeta(ChainSeparator)
	return fmt.Sprintf(`(^|%[2]s)%[1]s%[2]s(.*%[2]s)?%[1]s(%[2]s|$)`, h, sep)
}

// Validate 校验配置
func (c Config) Validate() error {
	if canonicalForm(c.HubName) == "" {
		return types.NewError(types.ErrInvalidRequest, "loop guard hub name is required")
	}
	if c.MaxDepth < 1 || c.MaxDepth > 10 {
		return types.Errorf(types.ErrInvalidRequest, "loop guard max_depth %d out of range [1,10]", c.MaxDepth)
	}
	if c.MaxChainLength < 2 || c.MaxChainLength > 20 {
		return types.Errorf(types.ErrInvalidRequest, "loop guard max_chain_length %d out of range [2,20]", c.MaxChainLength)
	}
	for _, p := range c.BlockedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return types.Errorf(types.ErrInvalidRequest, "invalid blocked pattern %q", p).WithCause(err)
		}
	}
	return nil
}
