package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TraderConfig 跟单参数
type TraderConfig struct {
	CopyMode         CopyMode            `gorm:"type:varchar(16);not null;default:'percentage';comment:跟单模式" json:"copy_mode"`
	CopyPercentage   decimal.Decimal     `gorm:"type:decimal(10,4);not null;default:0;comment:跟单比例(百分数)" json:"copy_percentage"`
	FixedAmountUSD   decimal.NullDecimal `gorm:"type:decimal(36,18);comment:固定金额" json:"fixed_amount_usd"`
	MaxPositionUSD   decimal.Decimal     `gorm:"type:decimal(36,18);not null;default:0;comment:单笔最大仓位" json:"max_position_usd"`
	MinTradeValueUSD decimal.Decimal     `gorm:"type:decimal(36,18);not null;default:0;comment:最小跟单原始交易金额" json:"min_trade_value_usd"`
	MaxSlippageBps   int                 `gorm:"not null;default:300;comment:最大滑点bps" json:"max_slippage_bps"`
	AllowedChains    []string            `gorm:"type:text;serializer:json;comment:允许的链" json:"allowed_chains"`
	AllowedTokens    []string            `gorm:"type:text;serializer:json;comment:允许的代币,空为全部" json:"allowed_tokens"`
	CopyBuyOnly      bool                `gorm:"not null;default:false" json:"copy_buy_only"`
	CopySellOnly     bool                `gorm:"not null;default:false" json:"copy_sell_only"`
}

// TrackedWallet 跟单的交易员钱包
type TrackedWallet struct {
	ID       uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	Address  string       `gorm:"type:varchar(64);not null;uniqueIndex:uidx_address_chain;comment:钱包地址" json:"address"`
	Chain    string       `gorm:"type:varchar(16);not null;uniqueIndex:uidx_address_chain;comment:链" json:"chain"`
	Label    string       `gorm:"type:varchar(64);comment:备注" json:"label"`
	Status   WalletStatus `gorm:"type:varchar(16);not null;index;default:'active'" json:"status"`
	RiskMode RiskMode     `gorm:"type:varchar(16);not null;default:'moderate'" json:"risk_mode"`

	TraderConfig `gorm:"embedded"`

	// 绩效统计，由周期任务重算
	TotalTrades    int64           `gorm:"not null;default:0" json:"total_trades"`
	WinningTrades  int64           `gorm:"not null;default:0" json:"winning_trades"`
	TotalVolumeUSD decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"total_volume_usd"`
	RealizedPnLUSD decimal.Decimal `gorm:"column:realized_pnl_usd;type:decimal(36,18);not null;default:0" json:"realized_pnl_usd"`
	WinRate        float64         `gorm:"not null;default:0" json:"win_rate"`
	LastTradeAt    *time.Time      `json:"last_trade_at"`
	LastSyncAt     *time.Time      `json:"last_sync_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TrackedWallet) TableName() string {
	return "copy_tracked_wallets"
}

// IsActive 是否参与跟单
func (w *TrackedWallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// AllowsChain 空列表表示不限制
func (c TraderConfig) AllowsChain(chain string) bool {
	if len(c.AllowedChains) == 0 {
		return true
	}
	for _, ch := range c.AllowedChains {
		if ch == chain {
			return true
		}
	}
	return false
}

// AllowsToken 空列表表示不限制，地址比较忽略大小写
func (c TraderConfig) AllowsToken(token string) bool {
	if len(c.AllowedTokens) == 0 {
		return true
	}
	for _, t := range c.AllowedTokens {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}
