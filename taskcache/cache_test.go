package taskcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// ============================================================
// 🧪 缓存测试
// ============================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type recordingObserver struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *recordingObserver) OnCacheEvent(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[event]++
}

func (r *recordingObserver) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[event]
}

// newStringCache 创建按字符串长度计量大小、无后台清理的缓存
func newStringCache(t *testing.T, cfg Config) (*Cache[string], *fakeClock) {
	t.Helper()
	cfg.SweepInterval = 0
	c := New[string](cfg, zap.NewNop())
	clock := newFakeClock()
	c.now = clock.Now
	c.SetSizer(func(s string) int64 { return int64(len(s)) })
	t.Cleanup(c.Close)
	return c, clock
}

func sumEntrySizes[V any](c *Cache[V]) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, n := range c.items {
		total += n.entry.SizeBytes
	}
	return total
}

func TestCache_GetSet(t *testing.T) {
	c, _ := newStringCache(t, Config{MaxEntries: 10, MaxBytes: 1024, DefaultTTL: time.Hour})

	_, ok := c.Get("missing")
	assert.False(t, ok)

	require.NoError(t, c.Set("a", "alpha"))
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	entry, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.Equal(t, int64(5), entry.SizeBytes)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(5), stats.TotalBytes)
}

func TestCache_LRUEvictionByCount(t *testing.T) {
	c, _ := newStringCache(t, Config{MaxEntries: 3, MaxBytes: 1024, DefaultTTL: time.Hour})

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))
	require.NoError(t, c.Set("c", "3"))

	// 读取 a 使其免于下一次淘汰
	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Set("d", "4"))

	assert.False(t, c.Has("b"), "least recently touched entry should be evicted")
	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("c"))
	assert.True(t, c.Has("d"))
	assert.Equal(t, []string{"d", "a", "c"}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_InsertMaxPlusOneEvictsExactlyOne(t *testing.T) {
	const maxSize = 5
	c, _ := newStringCache(t, Config{MaxEntries: maxSize, MaxBytes: 1024, DefaultTTL: time.Hour})

	for i := 0; i <= maxSize; i++ {
		require.NoError(t, c.Set(fmt.Sprintf("k%d", i), "v"))
	}

	assert.Equal(t, maxSize, c.Len())
	assert.False(t, c.Has("k0"))
	for i := 1; i <= maxSize; i++ {
		assert.True(t, c.Has(fmt.Sprintf("k%d", i)))
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_LRUEvictionByBytes(t *testing.T) {
	c, _ := newStringCache(t, Config{MaxEntries: 100, MaxBytes: 100, DefaultTTL: time.Hour})

	require.NoError(t, c.Set("a", string(make([]byte, 40))))
	require.NoError(t, c.Set("b", string(make([]byte, 40))))
	require.NoError(t, c.Set("c", string(make([]byte, 40))))

	assert.False(t, c.Has("a"))
	assert.Equal(t, int64(80), c.Stats().TotalBytes)
	assert.Equal(t, int64(1), c.Stats().Evictions)

	// 需要连续淘汰多个条目
	require.NoError(t, c.Set("d", string(make([]byte, 90))))
	assert.Equal(t, []string{"d"}, c.Keys())
	assert.Equal(t, int64(3), c.Stats().Evictions)
}

func TestCache_EntryTooLarge(t *testing.T) {
	c, _ := newStringCache(t, Config{MaxEntries: 10, MaxBytes: 10, DefaultTTL: time.Hour})

	require.NoError(t, c.Set("a", "12345"))
	err := c.Set("big", "0123456789X")
	assert.ErrorIs(t, err, ErrEntryTooLarge)
	assert.True(t, c.Has("a"))
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestCache_OversizeUpdateKeepsOldValue(t *testing.T) {
	c, _ := newStringCache(t, Config{MaxEntries: 10, MaxBytes: 10, DefaultTTL: time.Hour})

	require.NoError(t, c.Set("a", "12345"))
	before := c.Stats()

	err := c.SetWithTTL("a", "0123456789X", time.Minute)
	assert.ErrorIs(t, err, ErrEntryTooLarge)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "12345", got)
	after := c.Stats()
	assert.Equal(t, before.TotalBytes, after.TotalBytes)
	assert.Equal(t, before.Size, after.Size)
	assert.Equal(t, sumEntrySizes(c), after.TotalBytes)
}

func TestCache_UpdateAccounting(t *testing.T) {
	c, _ := newStringCache(t, Config{MaxEntries: 3, MaxBytes: 100, DefaultTTL: time.Hour})

	require.NoError(t, c.Set("a", string(make([]byte, 30))))
	require.NoError(t, c.Set("b", string(make([]byte, 30))))
	require.NoError(t, c.Set("c", string(make([]byte, 30))))
	before := c.Stats()
	require.Equal(t, int64(90), before.TotalBytes)

	// 容量已满时更新已有键不应淘汰其他条目
	require.NoError(t, c.Set("b", string(make([]byte, 40))))

	after := c.Stats()
	assert.Equal(t, before.TotalBytes+10, after.TotalBytes)
	assert.Equal(t, int64(0), after.Evictions)
	assert.Equal(t, 3, after.Size)
	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("c"))
	assert.Equal(t, sumEntrySizes(c), after.TotalBytes)

	// 缩小同样精确调整
	require.NoError(t, c.Set("b", "x"))
	assert.Equal(t, int64(61), c.Stats().TotalBytes)
}

func TestCache_TTLExpiryCountedOnce(t *testing.T) {
	c, clock := newStringCache(t, Config{MaxEntries: 10, MaxBytes: 1024, DefaultTTL: time.Minute})

	require.NoError(t, c.Set("a", "alpha"))

	// 恰好到达 TTL 时仍有效
	clock.Advance(time.Minute)
	_, ok := c.Get("a")
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(0), stats.TotalBytes)

	_, ok = c.Get("a")
	assert.False(t, ok)
	stats = c.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(0), stats.Evictions)
}

func TestCache_PerEntryTTL(t *testing.T) {
	c, clock := newStringCache(t, Config{MaxEntries: 10, MaxBytes: 1024, DefaultTTL: time.Hour})

	require.NoError(t, c.SetWithTTL("short", "s", 5*time.Second))
	require.NoError(t, c.Set("long", "l"))

	clock.Advance(6 * time.Second)
	assert.False(t, c.Has("short"))
	assert.True(t, c.Has("long"))
}

func TestCache_NoDefaultTTL(t *testing.T) {
	c, clock := newStringCache(t, Config{MaxEntries: 10, MaxBytes: 1024, DefaultTTL: -1})

	require.NoError(t, c.Set("a", "v"))
	clock.Advance(365 * 24 * time.Hour)
	assert.True(t, c.Has("a"))
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newStringCache(t, Config{MaxEntries: 1000, MaxBytes: 1 << 20, DefaultTTL: time.Hour})
	obs := &recordingObserver{}
	c.SetObserver(obs)

	for i := 0; i < 300; i++ {
		require.NoError(t, c.SetWithTTL(fmt.Sprintf("stale-%d", i), "xx", 10*time.Second))
	}
	require.NoError(t, c.Set("fresh", "yyy"))

	clock.Advance(11 * time.Second)
	removed := c.Sweep()

	assert.Equal(t, 300, removed)
	assert.Equal(t, 1, c.Len())
	stats := c.Stats()
	assert.Equal(t, int64(300), stats.Expirations)
	assert.Equal(t, int64(3), stats.TotalBytes)
	assert.Equal(t, 300, obs.count(EventExpiration))

	// 已清理的条目不会被再次计数
	assert.Equal(t, 0, c.Sweep())
}

func TestCache_BackgroundSweep(t *testing.T) {
	c := New[string](Config{
		MaxEntries:    10,
		MaxBytes:      1024,
		DefaultTTL:    5 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, zap.NewNop())
	defer c.Close()

	require.NoError(t, c.Set("a", "v"))

	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New[int](Config{SweepInterval: time.Millisecond}, nil)
	c.Close()
	c.Close()

	// 关闭后仍可读写，只是不再后台清理
	require.NoError(t, c.Set("a", 1))
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCache_ResetAndDelete(t *testing.T) {
	c, _ := newStringCache(t, Config{MaxEntries: 10, MaxBytes: 1024, DefaultTTL: time.Hour})

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "22"))
	c.Get("a")
	c.Get("zzz")

	assert.True(t, c.Delete("b"))
	assert.False(t, c.Delete("b"))
	assert.Equal(t, int64(1), c.Stats().TotalBytes)

	c.Reset()
	stats := c.Stats()
	assert.Equal(t, Stats{MaxEntries: 10, MaxBytes: 1024}, stats)
	assert.Empty(t, c.Keys())
}

func TestCache_ObserverEvents(t *testing.T) {
	c, _ := newStringCache(t, Config{MaxEntries: 1, MaxBytes: 1024, DefaultTTL: time.Hour})
	obs := &recordingObserver{}
	c.SetObserver(obs)

	require.NoError(t, c.Set("a", "1"))
	c.Get("a")
	c.Get("b")
	require.NoError(t, c.Set("b", "2"))

	assert.Equal(t, 1, obs.count(EventHit))
	assert.Equal(t, 1, obs.count(EventMiss))
	assert.Equal(t, 1, obs.count(EventEviction))
}

func TestCache_DefaultJSONSizer(t *testing.T) {
	c := New[map[string]any](Config{MaxEntries: 10, MaxBytes: 1024}, nil)
	defer c.Close()

	require.NoError(t, c.Set("k", map[string]any{"a": 1}))
	assert.Equal(t, int64(len(`{"a":1}`)), c.Stats().TotalBytes)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[string](Config{MaxEntries: 50, MaxBytes: 4096, DefaultTTL: time.Hour, SweepInterval: time.Millisecond}, nil)
	defer c.Close()
	c.SetSizer(func(s string) int64 { return int64(len(s)) })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%120)
				if i%3 == 0 {
					c.Get(key)
					continue
				}
				_ = c.Set(key, fmt.Sprintf("value-%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, 50)
	assert.LessOrEqual(t, stats.TotalBytes, int64(4096))
	assert.Equal(t, sumEntrySizes(c), stats.TotalBytes)
}

func TestProperty_AccountingInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxEntries := rapid.IntRange(1, 8).Draw(rt, "max_entries")
		maxBytes := int64(rapid.IntRange(1, 64).Draw(rt, "max_bytes"))

		c := New[string](Config{MaxEntries: maxEntries, MaxBytes: maxBytes, DefaultTTL: time.Minute}, nil)
		defer c.Close()
		clock := newFakeClock()
		c.now = clock.Now
		c.SetSizer(func(s string) int64 { return int64(len(s)) })

		keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
		ops := rapid.IntRange(1, 60).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			key := rapid.SampledFrom(keys).Draw(rt, "key")
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				_ = c.Set(key, rapid.StringN(0, 20, 20).Draw(rt, "value"))
			case 1:
				c.Get(key)
			case 2:
				c.Delete(key)
			case 3:
				clock.Advance(time.Duration(rapid.IntRange(0, 30).Draw(rt, "advance")) * time.Second)
			}

			stats := c.Stats()
			if stats.TotalBytes != sumEntrySizes(c) {
				rt.Fatalf("total bytes %d != sum of entries %d", stats.TotalBytes, sumEntrySizes(c))
			}
			if stats.Size > maxEntries || stats.TotalBytes > maxBytes {
				rt.Fatalf("capacity exceeded: size=%d bytes=%d", stats.Size, stats.TotalBytes)
			}
			if len(c.Keys()) != stats.Size {
				rt.Fatalf("list length %d != index size %d", len(c.Keys()), stats.Size)
			}
		}
	})
}
