package gate

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     bool
	expiresAt time.Time
}

// MemoryCache はプロセス内で判定結果を保持するTTL付きキャッシュ。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache は新しいMemoryCacheを生成する。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get は期限内のエントリを返す。期限切れのエントリは削除する。
func (c *MemoryCache) Get(_ context.Context, key string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return false, false, nil
	}
	return e.value, true, nil
}

// Set はエントリを保存する。
func (c *MemoryCache) Set(_ context.Context, key, _ string, value bool, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// DeleteExpired は期限切れのエントリを削除し、削除件数を返す。
func (c *MemoryCache) DeleteExpired(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var n int64
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Len は保持しているエントリ数を返す。
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
