package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/chain"
	"github.com/utrading/utrading-copy-trader/internal/models"
)

// 过滤原因，同时作为 signals_filtered_total 的 reason 标签
const (
	FilterValueBelowMin     = "value_below_min"
	FilterValueAboveMax     = "value_above_max"
	FilterMEV               = "mev"
	FilterNotSwap           = "not_swap"
	FilterDirectionDisabled = "direction_disabled"
	FilterMissingToken      = "missing_token"
)

// FilterConfig 信号准入条件
type FilterConfig struct {
	MinValueUSD decimal.Decimal
	MaxValueUSD decimal.Decimal // 0 表示不限
	AllowBuys   bool
	AllowSells  bool
}

// Admit 判断交易能否作为跟单信号，拒绝时返回原因
func (f FilterConfig) Admit(tx *chain.RawTransaction) (bool, string) {
	if tx.TokenAddress == "" {
		return false, FilterMissingToken
	}

	switch tx.Action {
	case models.ActionBuy:
		if !f.AllowBuys {
			return false, FilterDirectionDisabled
		}
	case models.ActionSell:
		if !f.AllowSells {
			return false, FilterDirectionDisabled
		}
	default:
		return false, FilterNotSwap
	}

	if tx.IsMEV {
		return false, FilterMEV
	}
	if tx.QuoteToken == "" && tx.PairAddress == "" {
		return false, FilterMissingToken
	}
	if tx.AmountUSD.LessThan(f.MinValueUSD) {
		return false, FilterValueBelowMin
	}
	if f.MaxValueUSD.IsPositive() && tx.AmountUSD.GreaterThan(f.MaxValueUSD) {
		return false, FilterValueAboveMax
	}
	return true, ""
}
