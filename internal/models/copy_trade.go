package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CopyTrade 跟单订单，与来源交易一一对应
type CopyTrade struct {
	ID           string        `gorm:"type:varchar(36);primaryKey;comment:订单ID(uuid)" json:"id"`
	WalletID     uint          `gorm:"not null;index:idx_wallet_status" json:"wallet_id"`
	SourceTxHash string        `gorm:"type:varchar(128);not null;index:idx_source_tx;comment:来源交易哈希" json:"source_tx_hash"`
	TraceID      string        `gorm:"type:varchar(36);index" json:"trace_id"`
	Mode         ExecutionMode `gorm:"type:varchar(8);not null" json:"mode"`
	Chain        string        `gorm:"type:varchar(16);not null" json:"chain"`
	DEX          string        `gorm:"column:dex;type:varchar(32)" json:"dex"`
	Side         TradeAction   `gorm:"type:varchar(8);not null" json:"side"`
	OrderType    OrderType     `gorm:"type:varchar(16);not null" json:"order_type"`
	TokenIn      string        `gorm:"type:varchar(64);not null" json:"token_in"`
	TokenOut     string        `gorm:"type:varchar(64);not null" json:"token_out"`
	TokenAddress string        `gorm:"type:varchar(64);not null;index:idx_token" json:"token_address"`

	RequestedAmountUSD decimal.Decimal     `gorm:"type:decimal(36,18);not null" json:"requested_amount_usd"`
	FilledAmountUSD    decimal.Decimal     `gorm:"type:decimal(36,18);not null;default:0" json:"filled_amount_usd"`
	AmountOut          decimal.Decimal     `gorm:"type:decimal(48,18);not null;default:0" json:"amount_out"`
	ExpectedPriceUSD   decimal.Decimal     `gorm:"type:decimal(36,18);not null;default:0" json:"expected_price_usd"`
	ExecutionPriceUSD  decimal.Decimal     `gorm:"type:decimal(36,18);not null;default:0" json:"execution_price_usd"`
	LimitPrice         decimal.NullDecimal `gorm:"type:decimal(36,18)" json:"limit_price"`
	StopPrice          decimal.NullDecimal `gorm:"type:decimal(36,18)" json:"stop_price"`
	StopLossPrice      decimal.Decimal     `gorm:"type:decimal(36,18);not null;default:0" json:"stop_loss_price"`
	TakeProfitPrice    decimal.Decimal     `gorm:"type:decimal(36,18);not null;default:0" json:"take_profit_price"`
	MaxSlippageBps     int                 `gorm:"not null" json:"max_slippage_bps"`
	SlippageBps        int                 `gorm:"not null;default:0" json:"slippage_bps"`
	FeeUSD             decimal.Decimal     `gorm:"type:decimal(36,18);not null;default:0" json:"fee_usd"`
	GasUsed            uint64              `gorm:"not null;default:0" json:"gas_used"`
	PnLUSD             decimal.NullDecimal `gorm:"column:pnl_usd;type:decimal(36,18)" json:"pnl_usd"`
	Confidence         float64             `gorm:"not null;default:0" json:"confidence"`
	RiskScore          float64             `gorm:"not null;default:0" json:"risk_score"`

	Status OrderStatus `gorm:"type:varchar(20);not null;index:idx_wallet_status" json:"status"`
	TxHash string      `gorm:"type:varchar(128)" json:"tx_hash"`
	Error  string      `gorm:"type:varchar(512)" json:"error"`

	SubmittedAt *time.Time `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index:idx_trade_created" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CopyTrade) TableName() string {
	return "copy_trades"
}
