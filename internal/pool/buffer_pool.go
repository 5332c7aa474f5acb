package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer buffers that grew beyond this are dropped instead of pooled.
const maxPooledBuffer = 4 << 20

// Pool is a generic object pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T) bool

	// Metrics
	gets atomic.Int64
	puts atomic.Int64
	news atomic.Int64
}

// NewPool creates a new object pool. reset returns false to discard the object.
func NewPool[T any](newFunc func() T, reset func(*T) bool) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil && !p.reset(&obj) {
		return
	}
	p.puts.Add(1)
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() ObjectStats {
	return ObjectStats{
		Gets: p.gets.Load(),
		Puts: p.puts.Load(),
		News: p.news.Load(),
	}
}

// ObjectStats contains object pool statistics.
type ObjectStats struct {
	Gets int64 `json:"gets"`
	Puts int64 `json:"puts"`
	News int64 `json:"news"`
}

// HitRate returns the share of Gets served without allocating.
func (s ObjectStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// ByteBufferPool provides pooled byte buffers for compression.
var ByteBufferPool = NewPool(
	func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
	func(b **bytes.Buffer) bool {
		if (*b).Cap() > maxPooledBuffer {
			return false
		}
		(*b).Reset()
		return true
	},
)
