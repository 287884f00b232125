package risk

import (
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

// Profile 单个风控档位的参数，百分比字段均为百分数（10 表示 10%）
type Profile struct {
	Mode              models.RiskMode
	AccountBalanceUSD decimal.Decimal
	MaxPositionUSD    decimal.Decimal
	MaxAllocationPct  decimal.Decimal
	LiquidityFraction decimal.Decimal // 0.05 表示最多吃掉 5% 流动性
	MinLiquidityUSD   decimal.Decimal
	StopLossPct       decimal.Decimal
	TakeProfitPct     decimal.Decimal
	MaxDailyLossUSD   decimal.Decimal
	DailyLossUSD      decimal.Decimal // 当前窗口内已实现亏损
	MinConfidence     float64
	MaxWarnings       int
	AllowedChains     []string
}

// Policy 与档位无关的评分和调整系数
type Policy struct {
	ChainMultipliers       map[string]float64
	DefaultChainMultiplier float64
	MomentumWeight         float64
	SignalRiskWeight       float64
	HighRiskScoreWarn      float64
	LargeSizeRatioWarn     float64
	NewAssetAgeHours       float64
}

func DefaultPolicy() Policy {
	return Policy{
		ChainMultipliers:       map[string]float64{"ethereum": 1.0},
		DefaultChainMultiplier: 0.8,
		MomentumWeight:         0.2,
		SignalRiskWeight:       0.5,
		HighRiskScoreWarn:      70,
		LargeSizeRatioWarn:     0.02,
		NewAssetAgeHours:       24,
	}
}

func (p Policy) chainMultiplier(chain string) float64 {
	if m, ok := p.ChainMultipliers[chain]; ok {
		return m
	}
	if p.DefaultChainMultiplier > 0 {
		return p.DefaultChainMultiplier
	}
	return 1
}

// Opportunity 待评估的跟单机会
type Opportunity struct {
	Chain             string
	TokenAddress      string
	Action            models.TradeAction
	ProposedAmountUSD decimal.Decimal
	EntryPriceUSD     decimal.Decimal
	LiquidityUSD      decimal.NullDecimal
	TokenAgeHours     *float64
	Momentum          *float64 // [-1, 1]
	ExternalRiskScore *float64 // [0, 100]
	ContractFlags     []string
}

// GateResult 风控结论
type GateResult struct {
	Passed                 bool
	RiskScore              float64 // 0-100，越高越危险
	Confidence             float64 // 0-1
	Reasons                []string
	Warnings               []string
	Adjustments            []string
	MaxPositionUSD         decimal.Decimal
	RecommendedPositionUSD decimal.Decimal
	StopLossPrice          decimal.Decimal
	TakeProfitPrice        decimal.Decimal
	ChainMultiplier        float64
	SignalMultiplier       float64
}
