package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(t *testing.T, cfg Config) *WorkerPool {
	t.Helper()
	p := New(cfg, zap.NewNop())
	t.Cleanup(p.Close)
	return p
}

func TestWorkerPool_SubmitWait(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 2, QueueSize: 4})

	var ran atomic.Bool
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())

	boom := errors.New("boom")
	err = p.SubmitWait(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestWorkerPool_Do(t *testing.T) {
	p := newTestPool(t, DefaultConfig())

	got, err := Do(context.Background(), p, func(ctx context.Context) ([]byte, error) {
		return []byte("compressed"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("compressed"), got)

	_, err = Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, errors.New("nope")
	})
	assert.EqualError(t, err, "nope")
}

func TestWorkerPool_PanicBecomesError(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1})

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		panic("kaboom")
	})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)

	// 池仍可用
	assert.NoError(t, p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestWorkerPool_BoundedWorkers(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 3, QueueSize: 64})

	var (
		current atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.SubmitWait(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int64(30), p.Stats().Completed)
}

func TestWorkerPool_SubmitFull(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }))
	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
}

func TestWorkerPool_ContextCancelled(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	err := p.SubmitWait(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
}

func TestWorkerPool_Close(t *testing.T) {
	p := New(Config{MaxWorkers: 2, QueueSize: 8}, nil)

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			done.Add(1)
			return nil
		}))
	}
	p.Close()
	p.Close()

	assert.Equal(t, int32(5), done.Load())
	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
}

func TestByteBufferPool(t *testing.T) {
	buf := ByteBufferPool.Get()
	buf.WriteString("hello")
	ByteBufferPool.Put(buf)

	again := ByteBufferPool.Get()
	assert.Equal(t, 0, again.Len())
	ByteBufferPool.Put(again)

	stats := ByteBufferPool.Stats()
	assert.GreaterOrEqual(t, stats.Gets, int64(2))
	assert.GreaterOrEqual(t, stats.HitRate(), 0.0)
}

func TestPool_ResetCanDiscard(t *testing.T) {
	p := NewPool(func() []int { return make([]int, 0, 4) }, func(s *[]int) bool {
		if cap(*s) > 8 {
			return false
		}
		*s = (*s)[:0]
		return true
	})

	p.Put(make([]int, 0, 16))
	p.Put(make([]int, 0, 4))
	assert.Equal(t, int64(1), p.Stats().Puts)
	assert.Equal(t, 0.0, ObjectStats{}.HitRate())
}
