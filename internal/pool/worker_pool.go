// Package pool provides the worker pool used to offload CPU-heavy work
// (large payload compression) and pooled scratch buffers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Job represents a unit of work.
type Job func(ctx context.Context) error

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// WorkerPool manages a bounded set of worker goroutines.
type WorkerPool struct {
	maxWorkers  int
	queue       chan job
	workerCount atomic.Int32
	activeCount atomic.Int32

	// mu guards closed against concurrent sends on queue.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout time.Duration
	logger      *zap.Logger
}

type job struct {
	fn     Job
	ctx    context.Context
	result chan error
}

// Config configures the pool.
type Config struct {
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultConfig returns defaults sized for CPU-bound work.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  4,
		QueueSize:   256,
		IdleTimeout: 30 * time.Second,
	}
}

// New creates a worker pool. Workers are spawned lazily.
func New(config Config, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaults.MaxWorkers
	}
	if config.QueueSize < 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	return &WorkerPool{
		maxWorkers:  config.MaxWorkers,
		queue:       make(chan job, config.QueueSize),
		idleTimeout: config.IdleTimeout,
		logger:      logger.With(zap.String("component", "worker_pool")),
	}
}

// Submit enqueues a job without waiting for it. Returns ErrPoolFull when the
// queue is saturated.
func (p *WorkerPool) Submit(ctx context.Context, fn Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	select {
	case p.queue <- job{fn: fn, ctx: ctx}:
		p.ensureWorker()
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// SubmitWait enqueues a job and blocks until it finishes or ctx is done.
func (p *WorkerPool) SubmitWait(ctx context.Context, fn Job) error {
	result := make(chan error, 1)

	if err := p.enqueue(ctx, job{fn: fn, ctx: ctx, result: result}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	select {
	case p.queue <- j:
		p.ensureWorker()
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// Do runs fn on the pool and returns its value.
func Do[T any](ctx context.Context, p *WorkerPool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.SubmitWait(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p *WorkerPool) ensureWorker() {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.execute(j)
			p.activeCount.Add(-1)

			if j.result != nil {
				j.result <- err
			}
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// Keep one worker warm while jobs may still be queued.
			if p.workerCount.Load() > 1 || len(p.queue) == 0 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) execute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = &PanicError{Value: r}
		}
	}()

	if ctxErr := j.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return j.fn(j.ctx)
}

// Close stops accepting jobs, drains the queue and waits for workers.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	// Drain jobs nobody picked up yet.
	if len(p.queue) > 0 && p.workerCount.Load() == 0 {
		p.ensureWorker()
	}
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
