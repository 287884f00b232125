package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletTransaction 检测到的交易员链上交易
type WalletTransaction struct {
	ID            uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash        string      `gorm:"type:varchar(128);not null;uniqueIndex:uidx_tx_hash;comment:交易哈希" json:"tx_hash"`
	WalletID      uint        `gorm:"not null;index:idx_tx_wallet;comment:钱包ID" json:"wallet_id"`
	WalletAddress string      `gorm:"type:varchar(64);not null;index:idx_wallet_address" json:"wallet_address"`
	Chain         string      `gorm:"type:varchar(16);not null" json:"chain"`
	BlockNumber   uint64      `gorm:"not null" json:"block_number"`
	LogIndex      uint        `gorm:"not null;default:0" json:"log_index"`
	Timestamp     time.Time   `gorm:"not null;index:idx_timestamp;comment:链上时间" json:"timestamp"`
	TokenAddress  string      `gorm:"type:varchar(64);not null" json:"token_address"`
	TokenSymbol   string      `gorm:"type:varchar(32)" json:"token_symbol"`
	QuoteToken    string      `gorm:"type:varchar(64)" json:"quote_token"`
	PairAddress   string      `gorm:"type:varchar(64)" json:"pair_address"`
	DEX           string      `gorm:"column:dex;type:varchar(32)" json:"dex"`
	Action        TradeAction `gorm:"type:varchar(8);not null" json:"action"`

	AmountToken decimal.Decimal `gorm:"type:decimal(48,18);not null;default:0" json:"amount_token"`
	AmountUSD   decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"amount_usd"`
	PriceUSD    decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"price_usd"`
	GasUsed     uint64          `gorm:"not null;default:0" json:"gas_used"`
	GasFeeUSD   decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"gas_fee_usd"`
	IsMEV       bool            `gorm:"-" json:"is_mev"`

	// 处理状态，只允许从未处理变更一次
	Processed      bool       `gorm:"not null;default:false;index:idx_processed" json:"processed"`
	Eligible       bool       `gorm:"not null;default:false" json:"eligible"`
	DecisionReason string     `gorm:"type:varchar(64)" json:"decision_reason"`
	ProcessedAt    *time.Time `json:"processed_at"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_tx_created" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "copy_wallet_transactions"
}
