package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyMetric 每个钱包每日的跟单统计，仅当日记录会被覆盖
type DailyMetric struct {
	ID             uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID       uint            `gorm:"not null;uniqueIndex:uidx_wallet_day" json:"wallet_id"`
	Day            string          `gorm:"type:varchar(10);not null;uniqueIndex:uidx_wallet_day;comment:UTC 日期 2006-01-02" json:"day"`
	Detected       int64           `gorm:"not null;default:0" json:"detected"`
	Copied         int64           `gorm:"not null;default:0" json:"copied"`
	Skipped        int64           `gorm:"not null;default:0" json:"skipped"`
	Rejected       int64           `gorm:"not null;default:0" json:"rejected"`
	Filled         int64           `gorm:"not null;default:0" json:"filled"`
	Failed         int64           `gorm:"not null;default:0" json:"failed"`
	VolumeUSD      decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"volume_usd"`
	FeesUSD        decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"fees_usd"`
	RealizedPnLUSD decimal.Decimal `gorm:"column:realized_pnl_usd;type:decimal(36,18);not null;default:0" json:"realized_pnl_usd"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DailyMetric) TableName() string {
	return "copy_daily_metrics"
}

const DayFormat = "2006-01-02"

// DayOf 返回 UTC 日期字符串
func DayOf(t time.Time) string {
	return t.UTC().Format(DayFormat)
}
