package loopguard

import (
	"fmt"
	"regexp"
	"time"

	"github.com/BaSui01/taskengine/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 🛡️ 防循环守卫
// =============================================================================

// Observer 接收规则拒绝事件
type Observer interface {
	OnLoopRejection(code types.ErrorCode)
}

// Option 守卫选项
type Option func(*Guard)

// WithObserver 设置拒绝事件观察者
func WithObserver(o Observer) Option {
	return func(g *Guard) { g.observer = o }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// Guard 调用链校验器
// 构造后只读，可并发使用。
type Guard struct {
	cfg      Config
	hub      string
	aliases  map[string]string
	patterns []*regexp.Regexp
	observer Observer
	now      func() time.Time
	logger   *zap.Logger
}

// New 创建守卫
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	aliases := make(map[string]string, len(defaultAliases)+len(cfg.Aliases))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for k, v := range cfg.Aliases {
		aliases[canonicalForm(k)] = canonicalForm(v)
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}

	g := &Guard{
		cfg:      cfg,
		aliases:  aliases,
		patterns: patterns,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "loop_guard")),
	}
	g.hub = g.Normalize(cfg.HubName)
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config 返回配置副本
func (g *Guard) Config() Config {
	cfg := g.cfg
	cfg.BlockedPatterns = append([]string(nil), g.cfg.BlockedPatterns...)
	return cfg
}

// Hub 规范化后的中枢名称
func (g *Guard) Hub() string {
	return g.hub
}

// Normalize 使用守卫的别名表规范化名称
func (g *Guard) Normalize(name string) string {
	return normalizeWith(name, g.aliases)
}

// =============================================================================
// 🔗 上下文操作
// =============================================================================

// CreateContext 为外部请求创建新上下文，调用链为 [originClient]
func (g *Guard) CreateContext(originClient string) Context {
	origin := NormalizeClient(originClient)
	return Context{
		taskID:       uuid.NewString(),
		originClient: origin,
		callChain:    []string{origin},
		depth:        0,
		maxDepth:     g.cfg.MaxDepth,
		createdAt:    g.now(),
	}
}

// ExtendContext 追加中枢和目标后端，深度加一，返回新上下文
func (g *Guard) ExtendContext(ctx Context, engine string) Context {
	next := ctx.appendChain(g.hub, g.Normalize(engine))
	next.depth = ctx.depth + 1
	if next.maxDepth == 0 {
		next.maxDepth = g.cfg.MaxDepth
	}
	return next
}

// MergeContext 合并从进程外传入的上下文
// 非空调用链追加当前中枢；空调用链合成为 [originClient, currentHub]。
func (g *Guard) MergeContext(incoming Context, currentHub string) Context {
	hub := g.hub
	if currentHub != "" {
		hub = g.Normalize(currentHub)
	}

	var merged Context
	if len(incoming.callChain) > 0 {
		chain := make([]string, 0, len(incoming.callChain))
		for _, p := range incoming.callChain {
			chain = append(chain, g.Normalize(p))
		}
		merged = incoming.clone()
		merged.callChain = chain
		merged = merged.appendChain(hub)
	} else {
		merged = incoming.clone()
		merged.callChain = []string{NormalizeClient(incoming.originClient), hub}
	}

	merged.originClient = NormalizeClient(incoming.originClient)
	merged.depth = incoming.depth + 1
	if merged.maxDepth == 0 {
		merged.maxDepth = g.cfg.MaxDepth
	}
	if merged.taskID == "" {
		merged.taskID = uuid.NewString()
	}
	if merged.createdAt.IsZero() {
		merged.createdAt = g.now()
	}
	return merged
}

// =============================================================================
// ✅ 校验
// =============================================================================

// ProjectedChain 返回调度到 target 后的调用链：当前链 + 中枢 + 目标
func (g *Guard) ProjectedChain(ctx Context, target string) []string {
	return ctx.appendChain(g.hub, g.Normalize(target)).callChain
}

// ValidateExecution 按固定顺序校验：深度、自调用、链长度、阻止模式
// 首个违反的规则决定返回的错误码，错误类型为 *types.LoopError。
func (g *Guard) ValidateExecution(ctx Context, target string) error {
	normalized := g.Normalize(target)
	projected := g.ProjectedChain(ctx, target)

	maxDepth := g.cfg.MaxDepth
	if ctx.maxDepth > 0 && ctx.maxDepth < maxDepth {
		maxDepth = ctx.maxDepth
	}
	if ctx.depth >= maxDepth {
		return g.reject(types.ErrDepthExceeded,
			fmt.Sprintf("depth %d reached max depth %d", ctx.depth, maxDepth), ctx.callChain, normalized)
	}

	if g.cfg.PreventSelfCalls {
		for _, p := range ctx.callChain {
			if g.Normalize(p) == normalized {
				return g.reject(types.ErrLoopDetected,
					fmt.Sprintf("%s already appears in call chain %s", normalized, ctx.String()), projected, normalized)
			}
		}
	}

	if len(projected) > g.cfg.MaxChainLength {
		return g.reject(types.ErrChainTooLong,
			fmt.Sprintf("projected chain length %d exceeds %d", len(projected), g.cfg.MaxChainLength), projected, normalized)
	}

	rendered := FormatChain(projected)
	for _, re := range g.patterns {
		if re.MatchString(rendered) {
			return g.reject(types.ErrBlockedPattern,
				fmt.Sprintf("call chain %s matches blocked pattern %s", rendered, re.String()), projected, normalized)
		}
	}
	return nil
}

func (g *Guard) reject(code types.ErrorCode, msg string, chain []string, target string) error {
	g.logger.Warn("execution rejected",
		zap.String("code", string(code)),
		zap.String("target", target),
		zap.String("chain", FormatChain(chain)),
	)
	if g.observer != nil {
		g.observer.OnLoopRejection(code)
	}
	err := types.NewLoopError(code, msg, chain)
	err.Base.WithDetail("target", target).WithHTTPStatus(409)
	return err
}
