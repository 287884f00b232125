package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

const paperGasUsed = 150_000

var bpsBase = decimal.NewFromInt(10_000)

// PaperBackend 模拟成交，结果只取决于请求内容
type PaperBackend struct {
	feeBps      int
	slippageBps int
	now         func() time.Time
}

func NewPaperBackend(feeBps, slippageBps int) *PaperBackend {
	return &PaperBackend{
		feeBps:      feeBps,
		slippageBps: slippageBps,
		now:         time.Now,
	}
}

func (b *PaperBackend) Mode() models.ExecutionMode {
	return models.ModePaper
}

// PaperTxHash 由订单号派生的模拟交易哈希
func PaperTxHash(orderID string) string {
	sum := sha256.Sum256([]byte("paper:" + orderID))
	return "paper_" + hex.EncodeToString(sum[:])
}

func (b *PaperBackend) SubmitSwap(ctx context.Context, req SwapRequest) (*SwapReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &SwapReceipt{
		TxHash:      PaperTxHash(req.OrderID),
		SubmittedAt: b.now(),
		Request:     req,
	}, nil
}

// WaitSwap 立即全部成交
func (b *PaperBackend) WaitSwap(ctx context.Context, receipt *SwapReceipt, _ func(*SwapResult)) (*SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := receipt.Request
	slip := decimal.NewFromInt(int64(b.slippageBps)).Div(bpsBase)
	fee := req.AmountInUSD.Mul(decimal.NewFromInt(int64(b.feeBps))).Div(bpsBase)

	// 买入成交价上滑，卖出下滑
	price := req.ExpectedPrice
	if req.Side == models.ActionSell {
		price = price.Mul(decimal.NewFromInt(1).Sub(slip))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Add(slip))
	}

	net := req.AmountInUSD.Sub(fee)
	amountOut := net
	if req.Side != models.ActionSell && price.IsPositive() {
		amountOut = net.Div(price)
	}

	return &SwapResult{
		Status:         SwapConfirmed,
		FilledUSD:      req.AmountInUSD,
		AmountOut:      amountOut.Round(18),
		ExecutionPrice: price,
		FeeUSD:         fee,
		GasUsed:        paperGasUsed,
		SlippageBps:    b.slippageBps,
	}, nil
}
