package taskcache

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================
// 💾 任务结果缓存（LRU + TTL）
// ============================================================

// ErrEntryTooLarge 单个条目超过字节上限
var ErrEntryTooLarge = errors.New("taskcache: entry exceeds max bytes")

// 缓存事件
const (
	EventHit        = "hit"
	EventMiss       = "miss"
	EventEviction   = "eviction"
	EventExpiration = "expiration"
)

// sweepBatchSize 后台清理每次持锁处理的键数量
const sweepBatchSize = 128

// Observer 接收缓存事件（例如 Prometheus 指标）
type Observer interface {
	OnCacheEvent(event string)
}

// Config 缓存配置
type Config struct {
	MaxEntries    int           `json:"max_entries" yaml:"max_entries"`       // 最大条目数
	MaxBytes      int64         `json:"max_bytes" yaml:"max_bytes"`           // 最大总字节数
	DefaultTTL    time.Duration `json:"default_ttl" yaml:"default_ttl"`       // 默认 TTL，<=0 表示不过期
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"` // 后台清理间隔，<=0 表示不启动
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxEntries:    1000,
		MaxBytes:      50 * 1024 * 1024,
		DefaultTTL:    time.Hour,
		SweepInterval: time.Minute,
	}
}

// Entry 缓存条目
type Entry[V any] struct {
	Value          V             `json:"value"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	AccessCount    int64         `json:"access_count"`
	SizeBytes      int64         `json:"size_bytes"`
	TTL            time.Duration `json:"ttl,omitempty"` // 0 表示使用默认 TTL
}

// Stats 缓存统计
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Size        int     `json:"size"`
	TotalBytes  int64   `json:"total_bytes"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	MaxEntries  int     `json:"max_entries"`
	MaxBytes    int64   `json:"max_bytes"`
}

type lruNode[V any] struct {
	key   string
	entry *Entry[V]
	prev  *lruNode[V]
	next  *lruNode[V]
}

// Cache 泛型 LRU + TTL 缓存，并发安全
type Cache[V any] struct {
	mu    sync.Mutex
	cfg   Config
	items map[string]*lruNode[V]
	head  *lruNode[V] // 最近使用
	tail  *lruNode[V] // 最久未使用

	totalBytes  int64
	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	sizer    func(V) int64
	observer Observer
	now      func() time.Time
	logger   *zap.Logger

	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New 创建缓存，SweepInterval > 0 时启动后台清理
func New[V any](cfg Config, logger *zap.Logger) *Cache[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaults.MaxBytes
	}

	c := &Cache[V]{
		cfg:    cfg,
		items:  make(map[string]*lruNode[V]),
		sizer:  jsonSize[V],
		now:    time.Now,
		logger: logger.With(zap.String("component", "task_cache")),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go c.sweepLoop(cfg.SweepInterval)
	} else {
		close(c.done)
	}
	return c
}

// SetObserver 设置事件观察者
func (c *Cache[V]) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// SetSizer 替换条目大小估算函数（默认按 JSON 序列化长度）
func (c *Cache[V]) SetSizer(fn func(V) int64) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.sizer = fn
	c.mu.Unlock()
}

// Get 获取缓存值并刷新最近使用位置
// 已过期条目在查询时删除并计为一次 expiration。
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	node, ok := c.items[key]
	if !ok {
		c.misses++
		c.emit(EventMiss)
		return zero, false
	}

	now := c.now()
	if c.expired(node.entry, now) {
		c.removeNode(node)
		c.expirations++
		c.misses++
		c.emit(EventExpiration)
		c.emit(EventMiss)
		return zero, false
	}

	node.entry.LastAccessedAt = now
	node.entry.AccessCount++
	c.moveToHead(node)
	c.hits++
	c.emit(EventHit)
	return node.entry.Value, true
}

// Peek 读取条目但不更新统计和最近使用位置
func (c *Cache[V]) Peek(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok || c.expired(node.entry, c.now()) {
		return Entry[V]{}, false
	}
	return *node.entry, true
}

// Set 使用默认 TTL 写入
func (c *Cache[V]) Set(key string, value V) error {
	return c.SetWithTTL(key, value, 0)
}

// SetWithTTL 写入并指定条目 TTL（0 表示默认 TTL）
// 值超过 MaxBytes 时返回 ErrEntryTooLarge，同键旧值保持不变。
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 超限的更新不影响已有条目
	size := c.sizer(value)
	if size > c.cfg.MaxBytes {
		c.logger.Debug("entry exceeds cache byte limit",
			zap.String("key", key),
			zap.Int64("size", size),
			zap.Int64("max_bytes", c.cfg.MaxBytes))
		return ErrEntryTooLarge
	}

	// 先移除旧条目再做容量计算，避免更新触发多余淘汰
	if old, ok := c.items[key]; ok {
		c.removeNode(old)
	}

	for c.tail != nil && (len(c.items) >= c.cfg.MaxEntries || c.totalBytes+size > c.cfg.MaxBytes) {
		c.removeNode(c.tail)
		c.evictions++
		c.emit(EventEviction)
	}

	now := c.now()
	node := &lruNode[V]{
		key: key,
		entry: &Entry[V]{
			Value:          value,
			CreatedAt:      now,
			LastAccessedAt: now,
			SizeBytes:      size,
			TTL:            ttl,
		},
	}
	c.items[key] = node
	c.addToHead(node)
	c.totalBytes += size
	return nil
}

// Has 判断键是否存在且未过期
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Peek(key)
	return ok
}

// Delete 删除条目
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeNode(node)
	return true
}

// Len 当前条目数（包含尚未清理的过期条目）
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys 按最近使用到最久未使用的顺序返回键
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// Stats 返回统计快照
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Size:        len(c.items),
		TotalBytes:  c.totalBytes,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		MaxEntries:  c.cfg.MaxEntries,
		MaxBytes:    c.cfg.MaxBytes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Reset 清空条目和统计
func (c *Cache[V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode[V])
	c.head = nil
	c.tail = nil
	c.totalBytes = 0
	c.hits, c.misses, c.evictions, c.expirations = 0, 0, 0, 0
}

// Sweep 删除所有已过期条目，返回删除数量
// 分批持锁，清理期间读写不会被长时间阻塞。
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	removed := 0
	for start := 0; start < len(keys); start += sweepBatchSize {
		end := min(start+sweepBatchSize, len(keys))

		c.mu.Lock()
		now := c.now()
		for _, k := range keys[start:end] {
			node, ok := c.items[k]
			if !ok || !c.expired(node.entry, now) {
				continue
			}
			c.removeNode(node)
			c.expirations++
			c.emit(EventExpiration)
			removed++
		}
		c.mu.Unlock()
	}

	if removed > 0 {
		c.logger.Debug("swept expired entries", zap.Int("removed", removed))
	}
	return removed
}

// Close 停止后台清理，可重复调用
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.done
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache[V]) effectiveTTL(e *Entry[V]) time.Duration {
	if e.TTL > 0 {
		return e.TTL
	}
	return c.cfg.DefaultTTL
}

func (c *Cache[V]) expired(e *Entry[V], now time.Time) bool {
	ttl := c.effectiveTTL(e)
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > ttl
}

func (c *Cache[V]) emit(event string) {
	if c.observer != nil {
		c.observer.OnCacheEvent(event)
	}
}

// removeNode 从链表和索引中移除节点，并扣减字节数
func (c *Cache[V]) removeNode(node *lruNode[V]) {
	c.unlink(node)
	delete(c.items, node.key)
	c.totalBytes -= node.entry.SizeBytes
}

func (c *Cache[V]) addToHead(node *lruNode[V]) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *Cache[V]) unlink(node *lruNode[V]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

func (c *Cache[V]) moveToHead(node *lruNode[V]) {
	if node == c.head {
		return
	}
	c.unlink(node)
	c.addToHead(node)
}

func jsonSize[V any](v V) int64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 1
	}
	return int64(len(b))
}
