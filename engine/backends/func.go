package backends

import (
	"context"

	"github.com/BaSui01/taskengine/engine"
)

// Func 后端函数
type Func func(ctx context.Context, req engine.Request) (map[string]any, error)

// FuncBackend 把函数适配为后端，用于嵌入与测试
type FuncBackend struct {
	name string
	fn   Func
}

// NewFuncBackend 创建函数后端
func NewFuncBackend(name string, fn Func) *FuncBackend {
	return &FuncBackend{name: name, fn: fn}
}

func (f *FuncBackend) Name() string { return f.name }

func (f *FuncBackend) Execute(ctx context.Context, req engine.Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.fn(ctx, req)
}

// Echo 原样返回 prompt 的后端，没有配置任何命令行后端时使用
func Echo(name string) *FuncBackend {
	return NewFuncBackend(name, func(_ context.Context, req engine.Request) (map[string]any, error) {
		return map[string]any{
			"output": req.Prompt(),
			"engine": name,
			"chain":  req.Context.CallChain(),
		}, nil
	})
}

var _ engine.Backend = (*FuncBackend)(nil)
