package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/config"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// Manager 持有各档位参数和亏损账本，对外提供风控评估
type Manager struct {
	mu       sync.RWMutex
	policy   Policy
	profiles map[models.RiskMode]Profile
	ledger   *LossLedger
}

func NewManager(policy Policy, profiles map[models.RiskMode]Profile, ledger *LossLedger) *Manager {
	if ledger == nil {
		ledger = NewLossLedger(0)
	}
	return &Manager{
		policy:   policy,
		profiles: profiles,
		ledger:   ledger,
	}
}

// NewManagerFromConfig 由配置构造，配置中未知的档位名会被忽略
func NewManagerFromConfig(cfg *config.Config) *Manager {
	policy, profiles := FromConfig(cfg)
	return NewManager(policy, profiles, NewLossLedger(cfg.Risk.LossWindow))
}

func FromConfig(cfg *config.Config) (Policy, map[models.RiskMode]Profile) {
	policy := DefaultPolicy()
	policy.ChainMultipliers = make(map[string]float64, len(cfg.Risk.ChainMultipliers))
	for k, v := range cfg.Risk.ChainMultipliers {
		policy.ChainMultipliers[k] = v
	}
	policy.MomentumWeight = cfg.Risk.MomentumWeight
	policy.SignalRiskWeight = cfg.Risk.SignalRiskWeight
	policy.HighRiskScoreWarn = cfg.Risk.HighRiskScoreWarn
	policy.LargeSizeRatioWarn = cfg.Risk.LargeSizeRatioWarn
	policy.NewAssetAgeHours = cfg.Risk.NewAssetAgeHours

	profiles := make(map[models.RiskMode]Profile, len(cfg.Risk.Profiles))
	for name, p := range cfg.Risk.Profiles {
		mode := models.RiskMode(name)
		if !mode.Valid() {
			logger.Warn().Str("profile", name).Msg("unknown risk profile in config, skipped")
			continue
		}
		profiles[mode] = Profile{
			Mode:              mode,
			AccountBalanceUSD: decimal.NewFromFloat(cfg.Risk.AccountBalanceUSD),
			MaxPositionUSD:    decimal.NewFromFloat(p.MaxPositionUSD),
			MaxAllocationPct:  decimal.NewFromFloat(p.MaxAllocationPct),
			LiquidityFraction: decimal.NewFromFloat(p.LiquidityFraction),
			MinLiquidityUSD:   decimal.NewFromFloat(p.MinLiquidityUSD),
			StopLossPct:       decimal.NewFromFloat(p.StopLossPct),
			TakeProfitPct:     decimal.NewFromFloat(p.TakeProfitPct),
			MaxDailyLossUSD:   decimal.NewFromFloat(p.MaxDailyLossUSD),
			MinConfidence:     p.MinConfidence,
			MaxWarnings:       p.MaxWarnings,
			AllowedChains:     append([]string(nil), p.AllowedChains...),
		}
	}
	return policy, profiles
}

// Evaluate 使用指定档位评估机会，已实现亏损从账本读取
func (m *Manager) Evaluate(opp Opportunity, mode models.RiskMode) *GateResult {
	m.mu.RLock()
	profile, ok := m.profiles[mode]
	policy := m.policy
	m.mu.RUnlock()

	if !ok {
		return failClosed("unknown risk mode " + string(mode))
	}
	profile.DailyLossUSD = m.ledger.Total(mode)
	return EvaluateRiskGates(opp, profile, policy)
}

// RecordLoss 卖出成交后记录已实现亏损
func (m *Manager) RecordLoss(mode models.RiskMode, loss decimal.Decimal) {
	m.ledger.Record(mode, loss)
}

func (m *Manager) DailyLoss(mode models.RiskMode) decimal.Decimal {
	return m.ledger.Total(mode)
}

func (m *Manager) Profile(mode models.RiskMode) (Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[mode]
	return p, ok
}

// Reload 配置热更新后替换参数，账本保留
func (m *Manager) Reload(cfg *config.Config) {
	policy, profiles := FromConfig(cfg)
	m.mu.Lock()
	m.policy = policy
	m.profiles = profiles
	m.mu.Unlock()
}
