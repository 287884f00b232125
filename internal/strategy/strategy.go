package strategy

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/market"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/internal/nats"
	"github.com/utrading/utrading-copy-trader/internal/risk"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// Decision 策略决策
type Decision string

const (
	DecisionCopy   Decision = "copy"
	DecisionSkip   Decision = "skip"
	DecisionReject Decision = "reject"
)

// 跳过/拒绝原因
const (
	ReasonTraderInactive      = "TRADER_INACTIVE"
	ReasonChainNotAllowed     = "CHAIN_NOT_ALLOWED"
	ReasonTokenNotAllowed     = "TOKEN_NOT_ALLOWED"
	ReasonDirectionFiltered   = "DIRECTION_FILTERED"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonInvalidAmount       = "INVALID_AMOUNT"
	ReasonMarketUnavailable   = "MARKET_DATA_UNAVAILABLE"
	ReasonRiskGateFailed      = "RISK_GATE_FAILED"
	ReasonExceedsMaxPosition  = "EXCEEDS_MAX_POSITION"
	ReasonRiskScoreTooHigh    = "RISK_SCORE_TOO_HIGH"
	ReasonApproved            = "APPROVED"
)

// DecisionForReason 由持久化的决策原因还原决策类型
func DecisionForReason(reason string) Decision {
	switch reason {
	case ReasonApproved:
		return DecisionCopy
	case ReasonTraderInactive, ReasonChainNotAllowed, ReasonTokenNotAllowed,
		ReasonDirectionFiltered, ReasonInsufficientBalance, ReasonInvalidAmount:
		return DecisionSkip
	}
	return DecisionReject
}

// MarketSource 提供风控所需的行情快照
type MarketSource interface {
	Snapshot(ctx context.Context, chain, token string) (*market.Snapshot, error)
}

// RiskEvaluator 风控评估
type RiskEvaluator interface {
	Evaluate(opp risk.Opportunity, mode models.RiskMode) *risk.GateResult
}

// TradeIntent COPY 决策交给订单管理器的下单意图
type TradeIntent struct {
	WalletID        uint
	WalletAddress   string
	SourceTxHash    string
	Chain           string
	DEX             string
	Side            models.TradeAction
	TokenAddress    string
	TokenIn         string
	TokenOut        string
	AmountUSD       decimal.Decimal
	ExpectedPrice   decimal.Decimal
	MaxSlippageBps  int
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
}

// Evaluation 单笔交易的评估结果
type Evaluation struct {
	Decision      Decision         `json:"decision"`
	Reason        string           `json:"reason"`
	Detail        string           `json:"detail,omitempty"`
	Confidence    float64          `json:"confidence"`
	CopyAmountUSD decimal.Decimal  `json:"copy_amount_usd"`
	RiskGate      *risk.GateResult `json:"risk_gate,omitempty"`
	Intent        *TradeIntent     `json:"intent,omitempty"`
	TraceID       string           `json:"trace_id"`
}

type Config struct {
	PortfolioValueUSD  decimal.Decimal
	MaxRiskScore       float64
	NormalTradeSizeUSD float64
}

// Strategy 跟单决策
type Strategy struct {
	cfg    Config
	risk   RiskEvaluator
	market MarketSource
	sink   nats.EventSink
}

// New sink 可为 nil
func New(cfg Config, riskEval RiskEvaluator, market MarketSource, sink nats.EventSink) *Strategy {
	if cfg.MaxRiskScore <= 0 {
		cfg.MaxRiskScore = 100
	}
	return &Strategy{
		cfg:    cfg,
		risk:   riskEval,
		market: market,
		sink:   sink,
	}
}

// EvaluateCopyOpportunity 依次执行资格检查、定量、风控和置信度计算
func (s *Strategy) EvaluateCopyOpportunity(ctx context.Context, tx *models.WalletTransaction, wallet *models.TrackedWallet, traceID string) *Evaluation {
	eval := s.evaluate(ctx, tx, wallet, traceID)

	score := 0.0
	if eval.RiskGate != nil {
		score = eval.RiskGate.RiskScore
	}
	monitor.ObserveDecision(string(eval.Decision), eval.Reason, score)

	log := logger.Trace(traceID)
	log.Info().
		Str("tx_hash", tx.TxHash).
		Str("wallet", wallet.Address).
		Str("decision", string(eval.Decision)).
		Str("reason", eval.Reason).
		Str("detail", eval.Detail).
		Str("copy_amount_usd", eval.CopyAmountUSD.StringFixed(2)).
		Float64("confidence", eval.Confidence).
		Msg("copy opportunity evaluated")

	nats.Emit(s.sink, nats.NewEvent(nats.EventDecision, traceID, map[string]any{
		"tx_hash":    tx.TxHash,
		"wallet":     wallet.Address,
		"chain":      tx.Chain,
		"token":      tx.TokenAddress,
		"action":     tx.Action,
		"evaluation": eval,
	}))

	return eval
}

func (s *Strategy) evaluate(ctx context.Context, tx *models.WalletTransaction, wallet *models.TrackedWallet, traceID string) *Evaluation {
	if reason := checkEligibility(tx, wallet); reason != "" {
		return &Evaluation{Decision: DecisionSkip, Reason: reason, TraceID: traceID}
	}

	amount := s.computeCopyAmount(tx, wallet.TraderConfig)
	if !amount.IsPositive() {
		return &Evaluation{Decision: DecisionSkip, Reason: ReasonInvalidAmount, TraceID: traceID}
	}

	opp, err := s.buildOpportunity(ctx, tx, amount)
	if err != nil {
		// 缺失行情时按风控失败处理，数据补齐前不会放行
		return &Evaluation{
			Decision:      DecisionReject,
			Reason:        ReasonMarketUnavailable,
			Detail:        err.Error(),
			CopyAmountUSD: amount,
			TraceID:       traceID,
		}
	}

	gate := s.risk.Evaluate(opp, wallet.RiskMode)
	eval := &Evaluation{RiskGate: gate, CopyAmountUSD: amount, TraceID: traceID}

	switch {
	case !gate.Passed:
		eval.Decision, eval.Reason = DecisionReject, ReasonRiskGateFailed
		eval.Detail = strings.Join(gate.Reasons, "; ")
		return eval
	case amount.GreaterThan(gate.MaxPositionUSD):
		eval.Decision, eval.Reason = DecisionReject, ReasonExceedsMaxPosition
		return eval
	case gate.RiskScore > s.cfg.MaxRiskScore:
		eval.Decision, eval.Reason = DecisionReject, ReasonRiskScoreTooHigh
		return eval
	}

	final := decimal.Min(amount, gate.RecommendedPositionUSD, gate.MaxPositionUSD)
	eval.Decision, eval.Reason = DecisionCopy, ReasonApproved
	eval.CopyAmountUSD = final
	eval.Confidence = s.confidence(gate.RiskScore, wallet, tx.AmountUSD)
	eval.Intent = buildIntent(tx, wallet, final, gate)
	return eval
}

// checkEligibility 按顺序检查，返回第一个不满足的原因
func checkEligibility(tx *models.WalletTransaction, wallet *models.TrackedWallet) string {
	cfg := wallet.TraderConfig
	switch {
	case !wallet.IsActive():
		return ReasonTraderInactive
	case !cfg.AllowsChain(tx.Chain):
		return ReasonChainNotAllowed
	case !cfg.AllowsToken(tx.TokenAddress):
		return ReasonTokenNotAllowed
	case cfg.CopyBuyOnly && tx.Action != models.ActionBuy,
		cfg.CopySellOnly && tx.Action != models.ActionSell:
		return ReasonDirectionFiltered
	case tx.AmountUSD.LessThan(cfg.MinTradeValueUSD):
		return ReasonInsufficientBalance
	}
	return ""
}

var hundred = decimal.NewFromInt(100)

// computeCopyAmount 按跟单模式计算金额
// 比例模式按交易员最大仓位封顶，固定金额不封顶，超限由后续检查拒绝
func (s *Strategy) computeCopyAmount(tx *models.WalletTransaction, cfg models.TraderConfig) decimal.Decimal {
	if cfg.CopyMode == models.CopyModeFixedAmount {
		if !cfg.FixedAmountUSD.Valid {
			return decimal.Zero
		}
		return cfg.FixedAmountUSD.Decimal
	}

	var amount decimal.Decimal
	if cfg.CopyMode == models.CopyModeProportional {
		amount = tx.AmountUSD.Mul(cfg.CopyPercentage).Div(hundred)
	} else {
		amount = s.cfg.PortfolioValueUSD.Mul(cfg.CopyPercentage).Div(hundred)
	}
	if cfg.MaxPositionUSD.IsPositive() {
		amount = decimal.Min(amount, cfg.MaxPositionUSD)
	}
	return amount.RoundDown(2)
}

func (s *Strategy) buildOpportunity(ctx context.Context, tx *models.WalletTransaction, amount decimal.Decimal) (risk.Opportunity, error) {
	opp := risk.Opportunity{
		Chain:             tx.Chain,
		TokenAddress:      tx.TokenAddress,
		Action:            tx.Action,
		ProposedAmountUSD: amount,
		EntryPriceUSD:     tx.PriceUSD,
	}
	if s.market == nil {
		return opp, errors.New("no market source configured")
	}

	snap, err := s.market.Snapshot(ctx, tx.Chain, tx.TokenAddress)
	if err != nil {
		return opp, err
	}
	if snap.LiquidityUSD.IsPositive() {
		opp.LiquidityUSD = decimal.NewNullDecimal(snap.LiquidityUSD)
	}
	if !opp.EntryPriceUSD.IsPositive() {
		opp.EntryPriceUSD = snap.PriceUSD
	}
	opp.TokenAgeHours = snap.AgeHours()
	momentum := snap.Momentum()
	opp.Momentum = &momentum
	return opp, nil
}

// confidence 0.5 反向风险分 + 0.3 历史胜率 + 0.2 交易规模贴近常规的加分
func (s *Strategy) confidence(riskScore float64, wallet *models.TrackedWallet, sourceUSD decimal.Decimal) float64 {
	winRate := 0.5
	if wallet.TotalTrades > 0 {
		winRate = wallet.WinRate
	}
	size, _ := sourceUSD.Float64()
	c := 0.5*(1-riskScore/100) + 0.3*winRate + 0.2*sizeBonus(size, s.cfg.NormalTradeSizeUSD)
	return math.Max(0, math.Min(1, c))
}

// sizeBonus 以常规交易额为中心的对数正态钟形，等于常规额时为 1
func sizeBonus(size, normal float64) float64 {
	if size <= 0 || normal <= 0 {
		return 0
	}
	d := math.Log(size / normal)
	return math.Exp(-d * d / 2)
}

func buildIntent(tx *models.WalletTransaction, wallet *models.TrackedWallet, amount decimal.Decimal, gate *risk.GateResult) *TradeIntent {
	intent := &TradeIntent{
		WalletID:        wallet.ID,
		WalletAddress:   wallet.Address,
		SourceTxHash:    tx.TxHash,
		Chain:           tx.Chain,
		DEX:             tx.DEX,
		Side:            tx.Action,
		TokenAddress:    tx.TokenAddress,
		AmountUSD:       amount,
		ExpectedPrice:   tx.PriceUSD,
		MaxSlippageBps:  wallet.MaxSlippageBps,
		StopLossPrice:   gate.StopLossPrice,
		TakeProfitPrice: gate.TakeProfitPrice,
	}
	// 买入用报价币换代币，卖出反之
	if tx.Action == models.ActionSell {
		intent.TokenIn, intent.TokenOut = tx.TokenAddress, tx.QuoteToken
	} else {
		intent.TokenIn, intent.TokenOut = tx.QuoteToken, tx.TokenAddress
	}
	return intent
}
