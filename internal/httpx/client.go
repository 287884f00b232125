package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/utrading/utrading-copy-trader/internal/apperr"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// Config HTTP 客户端配置
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RateLimit   float64 // 每秒请求数，<=0 不限速
	Burst       int
	MaxRetries  int
	BaseBackoff time.Duration
	Headers     map[string]string
}

// Client 带限速和重试的 REST 客户端
type Client struct {
	client      *resty.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func New(cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	for k, v := range cfg.Headers {
		rc.SetHeader(k, v)
	}

	return &Client{
		client:      rc,
		limiter:     rate.NewLimiter(limit, cfg.Burst),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
}

// R 创建新请求
func (c *Client) R(ctx context.Context) *resty.Request {
	return c.client.R().SetContext(ctx)
}

// Do 执行请求，429/5xx/网络错误按指数退避重试
// 重试耗尽返回 TransientError，其余 4xx 直接返回普通错误
func (c *Client) Do(ctx context.Context, method, path string, req *resty.Request) (*resty.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		resp, err := req.Execute(method, path)
		if err == nil && !resp.IsError() {
			return resp, nil
		}

		var retryAfter time.Duration
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			lastErr = err
		case resp.StatusCode() == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited: %s", resp.Status())
			if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		case resp.StatusCode() >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("server error: %s", resp.Status())
		default:
			return resp, fmt.Errorf("request %s %s failed with status %s: %s", method, path, resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			retryAfter = c.baseBackoff << i
		}

		logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("attempt", i+1).
			Dur("retry_after", retryAfter).
			Err(lastErr).
			Msg("request failed, retrying")

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, apperr.Transient(method+" "+path, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr))
}
