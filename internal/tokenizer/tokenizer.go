package tokenizer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding 默认 BPE 编码
const DefaultEncoding = "cl100k_base"

// Counter 统计文本 token 数
type Counter interface {
	CountTokens(text string) int
	Name() string
}

// =============================================================================
// 🔢 tiktoken
// =============================================================================

// TiktokenCounter 基于 tiktoken 的计数器，首次使用时加载编码（可能需要下载 BPE 数据）
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktokenCounter 创建 tiktoken 计数器，encoding 为空时使用 cl100k_base
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{encoding: encoding}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count 返回 token 数；编码不可用时返回错误
func (t *TiktokenCounter) Count(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	if text == "" {
		return 0, nil
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenCounter) Name() string {
	return "tiktoken[" + t.encoding + "]"
}

// =============================================================================
// 🔁 带回退的计数器
// =============================================================================

// FallbackCounter 优先使用 tiktoken，编码加载失败后固定回退到估算器
type FallbackCounter struct {
	primary   *TiktokenCounter
	estimator *Estimator
	logger    *zap.Logger
	warnOnce  sync.Once
}

// New 创建带回退的计数器
func New(encoding string, logger *zap.Logger) *FallbackCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackCounter{
		primary:   NewTiktokenCounter(encoding),
		estimator: NewEstimator(),
		logger:    logger.With(zap.String("component", "tokenizer")),
	}
}

func (f *FallbackCounter) CountTokens(text string) int {
	n, err := f.primary.Count(text)
	if err == nil {
		return n
	}
	f.warnOnce.Do(func() {
		f.logger.Warn("tiktoken unavailable, using character estimator", zap.Error(err))
	})
	return f.estimator.CountTokens(text)
}

// Name 返回当前实际生效的计数器名称
func (f *FallbackCounter) Name() string {
	if f.primary.init() != nil {
		return f.estimator.Name()
	}
	return f.primary.Name()
}

// CountValue 将任意值序列化为 JSON 后计数；字符串直接计数，nil 为 0
func CountValue(c Counter, v any) int {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return c.CountTokens(val)
	case map[string]any:
		if len(val) == 0 {
			return 0
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return c.CountTokens(string(data))
}
