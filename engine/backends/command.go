package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskengine/config"
	"github.com/BaSui01/taskengine/engine"
	"github.com/BaSui01/taskengine/internal/pool"
)

// 传给子进程的环境变量
const (
	EnvContext  = "TASKENGINE_CONTEXT"
	EnvTaskID   = "TASKENGINE_TASK_ID"
	EnvTaskType = "TASKENGINE_TASK_TYPE"
)

// DefaultMaxOutputBytes 子进程 stdout 上限
const DefaultMaxOutputBytes = 4 << 20

// =============================================================================
// 🖥️ 命令行后端
// =============================================================================

// CommandConfig 命令行后端配置
type CommandConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
	// 后端自身的超时，0 表示只受运行超时约束
	Timeout        time.Duration
	MaxOutputBytes int
}

// CommandBackend 以子进程执行任务
// prompt 写入 stdin，扩展后的调用链上下文写入 TASKENGINE_CONTEXT；
// stdout 为 JSON 对象时原样返回，否则包装为 {"output": ...}。
type CommandBackend struct {
	cfg    CommandConfig
	path   string
	logger *zap.Logger
}

// NewCommandBackend 创建命令行后端，命令必须可执行
func NewCommandBackend(cfg CommandConfig, logger *zap.Logger) (*CommandBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("backend name is required")
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("backend %s: command is required", cfg.Name)
	}
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Name, err)
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}

	return &CommandBackend{
		cfg:    cfg,
		path:   path,
		logger: logger.With(zap.String("component", "command_backend"), zap.String("backend", cfg.Name)),
	}, nil
}

// FromConfig 由配置文件中的后端条目创建
func FromConfig(bc config.BackendConfig, logger *zap.Logger) (*CommandBackend, error) {
	return NewCommandBackend(CommandConfig{
		Name:    bc.Name,
		Command: bc.Command,
		Args:    bc.Args,
		Env:     bc.Env,
		Timeout: bc.Timeout,
	}, logger)
}

// Name 后端名称
func (b *CommandBackend) Name() string { return b.cfg.Name }

// Execute 运行子进程
func (b *CommandBackend) Execute(ctx context.Context, req engine.Request) (map[string]any, error) {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	loopCtx, err := json.Marshal(req.Context)
	if err != nil {
		return nil, fmt.Errorf("encode loop context: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.path, b.cfg.Args...)
	cmd.Dir = b.cfg.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt())
	cmd.Env = b.environ(req, loopCtx)
	// 被取消后等待管道关闭的上限
	cmd.WaitDelay = 2 * time.Second

	stdout := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(stdout)
	stderr := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(stderr)

	out := &limitedWriter{buf: stdout, limit: b.cfg.MaxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = &limitedWriter{buf: stderr, limit: 64 << 10}

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", b.cfg.Name, ctxErr)
		}
		b.logger.Warn("command failed",
			zap.String("task_id", req.TaskID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s: %w: %s", b.cfg.Name, err, tail(stderr.String(), 512))
	}
	if out.truncated {
		return nil, fmt.Errorf("%s: output exceeds %d bytes", b.cfg.Name, b.cfg.MaxOutputBytes)
	}

	b.logger.Debug("command finished",
		zap.String("task_id", req.TaskID),
		zap.Duration("elapsed", elapsed),
		zap.Int("stdout_bytes", stdout.Len()),
	)
	return ParseOutput(stdout.Bytes()), nil
}

func (b *CommandBackend) environ(req engine.Request, loopCtx []byte) []string {
	env := os.Environ()
	for k, v := range b.cfg.Env {
		env = append(env, k+"="+v)
	}
	return append(env,
		EnvContext+"="+string(loopCtx),
		EnvTaskID+"="+req.TaskID,
		EnvTaskType+"="+string(req.Type),
	)
}

// ParseOutput stdout 为 JSON 对象时解码，否则作为文本放入 output
func ParseOutput(data []byte) map[string]any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{"output": string(trimmed)}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// limitedWriter 超过上限后丢弃并标记截断
type limitedWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

var _ io.Writer = (*limitedWriter)(nil)
var _ engine.Backend = (*CommandBackend)(nil)
