package cache

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// TTLCache 带过期时间的类型化缓存
type TTLCache[V any] struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (c *TTLCache[V]) Set(key string, value V) {
	c.cache.Set(key, value, cache.DefaultExpiration)
}

func (c *TTLCache[V]) Delete(key string) {
	c.cache.Delete(key)
}

// Items 返回未过期的全部条目
func (c *TTLCache[V]) Items() map[string]V {
	items := c.cache.Items()
	out := make(map[string]V, len(items))
	for k, item := range items {
		out[k] = item.Object.(V)
	}
	return out
}

func (c *TTLCache[V]) Len() int {
	return c.cache.ItemCount()
}

func (c *TTLCache[V]) Stats() map[string]any {
	return map[string]any{
		"item_count":  c.cache.ItemCount(),
		"ttl_seconds": c.ttl.Seconds(),
	}
}
