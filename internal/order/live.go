package order

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-copy-trader/internal/httpx"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

type LiveConfig struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	RateLimit    float64
}

// LiveBackend 通过 swap 执行服务下单
type LiveBackend struct {
	http         *httpx.Client
	pollInterval time.Duration
}

func NewLiveBackend(cfg LiveConfig) *LiveBackend {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["X-API-Key"] = cfg.APIKey
	}
	return &LiveBackend{
		http: httpx.New(httpx.Config{
			BaseURL:   cfg.Endpoint,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Headers:   headers,
		}),
		pollInterval: cfg.PollInterval,
	}
}

func (b *LiveBackend) Mode() models.ExecutionMode {
	return models.ModeLive
}

func (b *LiveBackend) SubmitSwap(ctx context.Context, req SwapRequest) (*SwapReceipt, error) {
	body := map[string]any{
		"client_order_id": req.OrderID,
		"chain":           req.Chain,
		"dex":             req.DEX,
		"side":            req.Side,
		"token_in":        req.TokenIn,
		"token_out":       req.TokenOut,
		"amount_in_usd":   req.AmountInUSD.String(),
		"slippage_bps":    req.SlippageBps,
	}

	resp, err := b.http.Do(ctx, http.MethodPost, "/v1/swaps", b.http.R(ctx).SetBody(body))
	if err != nil {
		return nil, fmt.Errorf("submit swap: %w", err)
	}

	result := gjson.ParseBytes(resp.Body())
	if !result.Get("success").Bool() {
		return nil, fmt.Errorf("swap rejected: %s", result.Get("error").String())
	}
	txHash := result.Get("tx_hash").String()
	if txHash == "" {
		return nil, fmt.Errorf("swap accepted without tx hash")
	}

	return &SwapReceipt{TxHash: txHash, SubmittedAt: time.Now(), Request: req}, nil
}

// WaitSwap 轮询执行服务直到交易确认、失败或 ctx 结束
func (b *LiveBackend) WaitSwap(ctx context.Context, receipt *SwapReceipt, onPartial func(*SwapResult)) (*SwapResult, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	var lastFilled decimal.Decimal
	for {
		res, err := b.fetch(ctx, receipt.TxHash)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("tx_hash", receipt.TxHash).Msg("poll swap status failed")
		case res.Status == SwapConfirmed, res.Status == SwapFailed:
			return res, nil
		case res.Status == SwapPartial && res.FilledUSD.GreaterThan(lastFilled):
			lastFilled = res.FilledUSD
			if onPartial != nil {
				onPartial(res)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *LiveBackend) fetch(ctx context.Context, txHash string) (*SwapResult, error) {
	req := b.http.R(ctx).SetPathParam("tx", txHash)
	resp, err := b.http.Do(ctx, http.MethodGet, "/v1/swaps/{tx}", req)
	if err != nil {
		return nil, err
	}
	return parseSwapResult(resp.Body()), nil
}

func parseSwapResult(body []byte) *SwapResult {
	r := gjson.ParseBytes(body)
	res := &SwapResult{
		Status:         SwapStatus(r.Get("status").String()),
		FilledUSD:      decimalField(r, "filled_usd"),
		AmountOut:      decimalField(r, "amount_out"),
		ExecutionPrice: decimalField(r, "execution_price"),
		FeeUSD:         decimalField(r, "fee_usd"),
		GasUsed:        r.Get("gas_used").Uint(),
		SlippageBps:    int(r.Get("effective_slippage_bps").Int()),
		Error:          r.Get("error").String(),
	}
	switch res.Status {
	case SwapConfirmed, SwapPartial, SwapFailed:
	default:
		res.Status = SwapPending
	}
	return res
}

func decimalField(r gjson.Result, path string) decimal.Decimal {
	d, err := decimal.NewFromString(r.Get(path).String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
