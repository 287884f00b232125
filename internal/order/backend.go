package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

// SwapStatus 兑换执行结果
type SwapStatus string

const (
	SwapPending   SwapStatus = "pending"
	SwapConfirmed SwapStatus = "confirmed"
	SwapPartial   SwapStatus = "partial"
	SwapFailed    SwapStatus = "failed"
)

// SwapRequest 提交给执行后端的兑换请求
type SwapRequest struct {
	OrderID       string
	Chain         string
	DEX           string
	Side          models.TradeAction
	TokenIn       string
	TokenOut      string
	AmountInUSD   decimal.Decimal
	ExpectedPrice decimal.Decimal
	SlippageBps   int
}

// SwapReceipt 提交成功后的回执
type SwapReceipt struct {
	TxHash      string
	SubmittedAt time.Time
	Request     SwapRequest
}

// SwapResult 链上确认结果
type SwapResult struct {
	Status         SwapStatus
	FilledUSD      decimal.Decimal
	AmountOut      decimal.Decimal
	ExecutionPrice decimal.Decimal
	FeeUSD         decimal.Decimal
	GasUsed        uint64
	SlippageBps    int
	Error          string
}

// SwapBackend 兑换执行后端
type SwapBackend interface {
	Mode() models.ExecutionMode
	// SubmitSwap 同步提交，返回错误表示订单直接失败
	SubmitSwap(ctx context.Context, req SwapRequest) (*SwapReceipt, error)
	// WaitSwap 阻塞到确认或失败，部分成交通过 onPartial 回调，ctx 结束返回 ctx.Err()
	WaitSwap(ctx context.Context, receipt *SwapReceipt, onPartial func(*SwapResult)) (*SwapResult, error)
}
