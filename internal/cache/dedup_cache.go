package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// DedupCache 交易去重缓存，使用 go-cache 实现 TTL 自动过期
type DedupCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewDedupCache 创建交易去重缓存
// ttl 需覆盖重复推送的时间窗口（建议 24 小时），清理间隔自动设为 2×TTL
func NewDedupCache(ttl time.Duration) *DedupCache {
	return &DedupCache{
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// IsSeen 检查交易是否已处理
func (c *DedupCache) IsSeen(txHash string) bool {
	_, exists := c.cache.Get(dedupKey(txHash))
	return exists
}

// Mark 标记交易为已处理
func (c *DedupCache) Mark(txHash string) {
	c.cache.Set(dedupKey(txHash), time.Now(), cache.DefaultExpiration)
}

// TryMark 原子地标记交易，已存在时返回 false
func (c *DedupCache) TryMark(txHash string) bool {
	return c.cache.Add(dedupKey(txHash), time.Now(), cache.DefaultExpiration) == nil
}

// Forget 移除标记，处理中途失败时允许下次重试
func (c *DedupCache) Forget(txHash string) {
	c.cache.Delete(dedupKey(txHash))
}

// EVM 哈希不区分大小写
func dedupKey(txHash string) string {
	return strings.ToLower(txHash)
}

// HashSource 提供最近已记录的交易哈希
type HashSource interface {
	RecentHashes(ctx context.Context, since time.Time) ([]string, error)
}

// LoadFromDB 服务启动时从数据库恢复去重状态
func (c *DedupCache) LoadFromDB(ctx context.Context, src HashSource) error {
	if src == nil {
		return fmt.Errorf("hash source is nil")
	}

	hashes, err := src.RecentHashes(ctx, time.Now().Add(-c.ttl))
	if err != nil {
		return fmt.Errorf("load recent hashes failed: %w", err)
	}

	for _, h := range hashes {
		c.Mark(h)
	}

	logger.Info().
		Int("count", len(hashes)).
		Dur("window", c.ttl).
		Msg("loaded recent transactions into dedup cache")

	return nil
}

// Stats 获取统计信息
func (c *DedupCache) Stats() map[string]any {
	return map[string]any{
		"item_count":  c.cache.ItemCount(),
		"ttl_minutes": c.ttl.Minutes(),
	}
}
