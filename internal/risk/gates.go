package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	liquidityTiers = []struct {
		below decimal.Decimal
		score float64
	}{
		{decimal.NewFromInt(100_000), 25},
		{decimal.NewFromInt(500_000), 15},
		{decimal.NewFromInt(1_000_000), 10},
	}
)

const (
	maxSignalMultiplier = 1.5
	flagScore           = 15
	maxFlagScore        = 45
)

func failClosed(reason string) *GateResult {
	return &GateResult{
		Passed:                 false,
		RiskScore:              100,
		Confidence:             0,
		Reasons:                []string{reason},
		MaxPositionUSD:         decimal.Zero,
		RecommendedPositionUSD: decimal.Zero,
	}
}

// EvaluateRiskGates 对单个机会执行风控闸门
// 纯函数：相同输入得到相同输出，数据缺失时拒绝
func EvaluateRiskGates(opp Opportunity, profile Profile, policy Policy) *GateResult {
	if !opp.LiquidityUSD.Valid || !opp.LiquidityUSD.Decimal.IsPositive() {
		return failClosed("missing liquidity data")
	}
	if !opp.EntryPriceUSD.IsPositive() {
		return failClosed("missing entry price")
	}
	if !opp.ProposedAmountUSD.IsPositive() {
		return failClosed("proposed amount must be positive")
	}
	if !profile.MaxPositionUSD.IsPositive() || !profile.LiquidityFraction.IsPositive() {
		return failClosed("risk profile not configured")
	}

	liquidity := opp.LiquidityUSD.Decimal
	res := &GateResult{}

	// 基础仓位：档位上限与账户配比取小
	base := profile.MaxPositionUSD
	if profile.AccountBalanceUSD.IsPositive() && profile.MaxAllocationPct.IsPositive() {
		base = decimal.Min(base, profile.AccountBalanceUSD.Mul(profile.MaxAllocationPct).Div(hundred))
	}
	size := decimal.Min(opp.ProposedAmountUSD, base)

	// 流动性上限
	liqCap := liquidity.Mul(profile.LiquidityFraction)
	res.MaxPositionUSD = decimal.Min(base, liqCap)
	size = decimal.Min(size, liqCap)

	// 链和外部信号调整
	res.ChainMultiplier = policy.chainMultiplier(opp.Chain)
	res.SignalMultiplier = signalMultiplier(opp, policy)
	size = size.Mul(decimal.NewFromFloat(res.ChainMultiplier * res.SignalMultiplier))
	size = decimal.Min(size, res.MaxPositionUSD)

	if liquidity.LessThan(profile.MinLiquidityUSD) {
		size = decimal.Zero
		res.Reasons = append(res.Reasons, fmt.Sprintf("liquidity %s below minimum %s",
			liquidity.StringFixed(0), profile.MinLiquidityUSD.StringFixed(0)))
	}

	// 日亏损预算：按止损计算最坏亏损，超出剩余额度时缩仓
	if profile.MaxDailyLossUSD.IsPositive() && profile.StopLossPct.IsPositive() && size.IsPositive() {
		remaining := profile.MaxDailyLossUSD.Sub(profile.DailyLossUSD)
		slFrac := profile.StopLossPct.Div(hundred)
		switch {
		case !remaining.IsPositive():
			size = decimal.Zero
			res.Reasons = append(res.Reasons, "daily loss budget exhausted")
		case size.Mul(slFrac).GreaterThan(remaining):
			size = remaining.Div(slFrac)
			res.Adjustments = append(res.Adjustments,
				fmt.Sprintf("scaled to %s by daily loss budget", size.StringFixed(2)))
		}
	}
	res.RecommendedPositionUSD = size.RoundDown(2)

	res.StopLossPrice = opp.EntryPriceUSD.Mul(decimal.NewFromInt(1).Sub(profile.StopLossPct.Div(hundred)))
	res.TakeProfitPrice = opp.EntryPriceUSD.Mul(decimal.NewFromInt(1).Add(profile.TakeProfitPct.Div(hundred)))

	res.RiskScore = riskScore(opp, profile, policy, res.RecommendedPositionUSD, res.ChainMultiplier)
	res.Warnings = warnings(opp, profile, policy, res)

	completeness := 1.0
	if opp.TokenAgeHours == nil {
		completeness -= 0.1
	}
	res.Confidence = clamp((100-res.RiskScore)/100*completeness, 0, 1)

	if res.RecommendedPositionUSD.IsPositive() && res.Confidence < profile.MinConfidence {
		res.Reasons = append(res.Reasons, fmt.Sprintf("confidence %.2f below floor %.2f", res.Confidence, profile.MinConfidence))
	}
	if profile.MaxWarnings > 0 && len(res.Warnings) >= profile.MaxWarnings {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d warnings reach threshold %d", len(res.Warnings), profile.MaxWarnings))
	}
	if !res.RecommendedPositionUSD.IsPositive() && len(res.Reasons) == 0 {
		res.Reasons = append(res.Reasons, "recommended position is zero")
	}

	res.Passed = len(res.Reasons) == 0
	return res
}

func signalMultiplier(opp Opportunity, policy Policy) float64 {
	m := 1.0
	if opp.ExternalRiskScore != nil {
		m *= 1 - policy.SignalRiskWeight*clamp(*opp.ExternalRiskScore, 0, 100)/100
	}
	if opp.Momentum != nil {
		m *= 1 + policy.MomentumWeight*clamp(*opp.Momentum, -1, 1)
	}
	return clamp(m, 0, maxSignalMultiplier)
}

func riskScore(opp Opportunity, profile Profile, policy Policy, size decimal.Decimal, chainMult float64) float64 {
	liquidity := opp.LiquidityUSD.Decimal
	score := 5.0
	if liquidity.LessThan(profile.MinLiquidityUSD) {
		score = 40
	} else {
		for _, tier := range liquidityTiers {
			if liquidity.LessThan(tier.below) {
				score = tier.score
				break
			}
		}
	}

	switch age := opp.TokenAgeHours; {
	case age == nil:
		score += 10
	case *age < 24:
		score += 25
	case *age < 168:
		score += 15
	case *age < 720:
		score += 5
	}

	score += math.Min(float64(len(opp.ContractFlags))*flagScore, maxFlagScore)

	if opp.ExternalRiskScore != nil {
		score += clamp(*opp.ExternalRiskScore, 0, 100) * 0.3
	}
	if opp.Momentum != nil && *opp.Momentum < 0 {
		score += math.Abs(clamp(*opp.Momentum, -1, 0)) * 10
	}

	ratio, _ := size.Div(liquidity).Float64()
	if policy.LargeSizeRatioWarn > 0 && ratio > policy.LargeSizeRatioWarn {
		score += 10
	}
	if chainMult < 1 {
		score += (1 - chainMult) * 20
	}
	return clamp(math.Round(score*100)/100, 0, 100)
}

func warnings(opp Opportunity, profile Profile, policy Policy, res *GateResult) []string {
	var out []string
	if policy.HighRiskScoreWarn > 0 && res.RiskScore >= policy.HighRiskScoreWarn {
		out = append(out, fmt.Sprintf("elevated risk score %.0f", res.RiskScore))
	}
	ratio, _ := res.RecommendedPositionUSD.Div(opp.LiquidityUSD.Decimal).Float64()
	if policy.LargeSizeRatioWarn > 0 && ratio > policy.LargeSizeRatioWarn {
		out = append(out, fmt.Sprintf("position is %.1f%% of liquidity", ratio*100))
	}
	if opp.TokenAgeHours != nil && *opp.TokenAgeHours < policy.NewAssetAgeHours {
		out = append(out, fmt.Sprintf("very new asset (%.1fh old)", *opp.TokenAgeHours))
	}
	if len(profile.AllowedChains) > 0 && !contains(profile.AllowedChains, opp.Chain) {
		out = append(out, "chain "+opp.Chain+" not allowed by risk profile")
	}
	for _, flag := range opp.ContractFlags {
		out = append(out, "contract red flag: "+flag)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
