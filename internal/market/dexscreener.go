package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-copy-trader/internal/cache"
	"github.com/utrading/utrading-copy-trader/internal/httpx"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
)

var ErrNoPair = errors.New("no trading pair found")

// Snapshot 代币在指定链上流动性最好的交易对的行情快照
type Snapshot struct {
	Chain          string
	Token          string
	PairAddress    string
	DEX            string
	PriceUSD       decimal.Decimal
	LiquidityUSD   decimal.Decimal
	Volume24hUSD   decimal.Decimal
	PriceChangeH1  float64
	PriceChangeH24 float64
	PairCreatedAt  time.Time
	FetchedAt      time.Time
}

// AgeHours 交易对创建至今的小时数，未知返回 nil
func (s *Snapshot) AgeHours() *float64 {
	if s.PairCreatedAt.IsZero() {
		return nil
	}
	h := time.Since(s.PairCreatedAt).Hours()
	return &h
}

// Momentum 基于 1 小时涨跌幅的动量，归一化到 [-1, 1]（±20% 视为满值）
func (s *Snapshot) Momentum() float64 {
	return math.Max(-1, math.Min(1, s.PriceChangeH1/20))
}

type Config struct {
	Endpoint  string
	CacheTTL  time.Duration
	RateLimit float64
	Timeout   time.Duration
	Backoff   time.Duration
}

// Client DexScreener 行情客户端，结果按 TTL 缓存
type Client struct {
	http  *httpx.Client
	cache *cache.TTLCache[*Snapshot]
}

func NewClient(cfg Config) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Client{
		http: httpx.New(httpx.Config{
			BaseURL:     cfg.Endpoint,
			Timeout:     cfg.Timeout,
			RateLimit:   cfg.RateLimit,
			BaseBackoff: cfg.Backoff,
		}),
		cache: cache.NewTTLCache[*Snapshot](cfg.CacheTTL),
	}
}

func cacheKey(chain, token string) string {
	return chain + ":" + strings.ToLower(token)
}

// Snapshot 查询代币行情，优先读缓存
func (c *Client) Snapshot(ctx context.Context, chain, token string) (*Snapshot, error) {
	key := cacheKey(chain, token)
	if s, ok := c.cache.Get(key); ok {
		monitor.IncCacheHit("market")
		return s, nil
	}
	monitor.IncCacheMiss("market")

	req := c.http.R(ctx).SetPathParam("token", token)
	resp, err := c.http.Do(ctx, http.MethodGet, "/latest/dex/tokens/{token}", req)
	if err != nil {
		return nil, err
	}

	s, err := pickPair(resp.Body(), chain, token)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, s)
	return s, nil
}

// QuotePriceUSD 报价币美元价格，供链上数据源换算交易金额
func (c *Client) QuotePriceUSD(ctx context.Context, chain, token string) (decimal.Decimal, error) {
	s, err := c.Snapshot(ctx, chain, token)
	if err != nil {
		return decimal.Zero, err
	}
	return s.PriceUSD, nil
}

// CacheStats 缓存统计
func (c *Client) CacheStats() map[string]any {
	return c.cache.Stats()
}

// pickPair 选取目标链上以该代币为 base 且流动性最高的交易对
func pickPair(body []byte, chain, token string) (*Snapshot, error) {
	var best gjson.Result
	bestLiq := -1.0
	gjson.GetBytes(body, "pairs").ForEach(func(_, p gjson.Result) bool {
		if p.Get("chainId").String() != chain {
			return true
		}
		if !strings.EqualFold(p.Get("baseToken.address").String(), token) {
			return true
		}
		if liq := p.Get("liquidity.usd").Float(); liq > bestLiq {
			best, bestLiq = p, liq
		}
		return true
	})
	if !best.Exists() {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPair, chain, token)
	}

	price, err := decimal.NewFromString(best.Get("priceUsd").String())
	if err != nil {
		price = decimal.Zero
	}

	s := &Snapshot{
		Chain:          chain,
		Token:          strings.ToLower(token),
		PairAddress:    best.Get("pairAddress").String(),
		DEX:            best.Get("dexId").String(),
		PriceUSD:       price,
		LiquidityUSD:   decimal.NewFromFloat(best.Get("liquidity.usd").Float()),
		Volume24hUSD:   decimal.NewFromFloat(best.Get("volume.h24").Float()),
		PriceChangeH1:  best.Get("priceChange.h1").Float(),
		PriceChangeH24: best.Get("priceChange.h24").Float(),
		FetchedAt:      time.Now(),
	}
	if ms := best.Get("pairCreatedAt").Int(); ms > 0 {
		s.PairCreatedAt = time.UnixMilli(ms)
	}
	return s, nil
}
