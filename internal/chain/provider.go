package chain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

var ErrUnsupportedChain = errors.New("chain not supported by provider")

// DataProvider 链上数据来源
// 临时性失败返回 apperr.TransientError，由调用方在下一轮重试
type DataProvider interface {
	GetCurrentBlock(ctx context.Context, chain string) (uint64, error)
	GetTransactions(ctx context.Context, address, chain string, fromBlock uint64) ([]RawTransaction, error)
}

// ChainSupporter 数据源可选实现，声明能服务的链
type ChainSupporter interface {
	Supports(chain string) bool
}

// QuotePricer 提供报价币（如 WETH）的美元价格
type QuotePricer interface {
	QuotePriceUSD(ctx context.Context, chain, token string) (decimal.Decimal, error)
}

// RawTransaction 从链上解析出的一笔交易员 swap
type RawTransaction struct {
	Hash         string
	Chain        string
	BlockNumber  uint64
	LogIndex     uint
	Timestamp    time.Time
	From         string
	Action       models.TradeAction
	TokenAddress string
	TokenSymbol  string
	QuoteToken   string
	PairAddress  string
	DEX          string
	AmountToken  decimal.Decimal
	AmountQuote  decimal.Decimal
	AmountUSD    decimal.Decimal
	PriceUSD     decimal.Decimal
	GasUsed      uint64
	GasFeeUSD    decimal.Decimal
	IsMEV        bool
}
