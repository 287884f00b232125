package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/apperr"
	"github.com/utrading/utrading-copy-trader/internal/chain"
	"github.com/utrading/utrading-copy-trader/internal/dao"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/internal/nats"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

const maxSlippageBps = 5000

var hundred = decimal.NewFromInt(100)

// TraderOptions 跟随交易员时的可选参数
type TraderOptions struct {
	Label    string
	RiskMode models.RiskMode // 为空时使用 moderate
}

// TraderUpdate 交易员配置变更，nil 字段保持不变
type TraderUpdate struct {
	Config   *models.TraderConfig
	Status   *models.WalletStatus
	RiskMode *models.RiskMode
	Label    *string
}

func traderKey(address, ch string) string {
	return ch + ":" + address
}

// ValidateTraderConfig 校验跟单参数边界，返回第一个不满足的约束
func ValidateTraderConfig(cfg models.TraderConfig) error {
	if !cfg.CopyMode.Valid() {
		return apperr.Invalid("copy_mode", fmt.Sprintf("unknown mode %q", cfg.CopyMode))
	}
	if !cfg.MaxPositionUSD.IsPositive() {
		return apperr.Invalid("max_position_usd", "must be positive")
	}
	if cfg.CopyMode != models.CopyModeFixedAmount {
		if !cfg.CopyPercentage.IsPositive() || cfg.CopyPercentage.GreaterThan(hundred) {
			return apperr.Invalid("copy_percentage", "must be in (0, 100]")
		}
	}
	if cfg.CopyMode == models.CopyModeFixedAmount {
		if !cfg.FixedAmountUSD.Valid || !cfg.FixedAmountUSD.Decimal.IsPositive() {
			return apperr.Invalid("fixed_amount_usd", "required for fixed_amount mode")
		}
		if cfg.FixedAmountUSD.Decimal.GreaterThan(cfg.MaxPositionUSD) {
			return apperr.Invalid("fixed_amount_usd", "exceeds max_position_usd")
		}
	}
	if cfg.MinTradeValueUSD.IsNegative() {
		return apperr.Invalid("min_trade_value_usd", "must not be negative")
	}
	if cfg.MinTradeValueUSD.GreaterThan(cfg.MaxPositionUSD) {
		return apperr.Invalid("min_trade_value_usd", "exceeds max_position_usd")
	}
	if cfg.MaxSlippageBps < 1 || cfg.MaxSlippageBps > maxSlippageBps {
		return apperr.Invalid("max_slippage_bps", fmt.Sprintf("must be in [1, %d]", maxSlippageBps))
	}
	if cfg.CopyBuyOnly && cfg.CopySellOnly {
		return apperr.Invalid("copy_buy_only", "cannot be combined with copy_sell_only")
	}
	for _, ch := range cfg.AllowedChains {
		if !chain.IsSupported(ch) {
			return apperr.Invalid("allowed_chains", fmt.Sprintf("unsupported chain %q", ch))
		}
	}
	return nil
}

func (c *Coordinator) validateTarget(address, ch string) (string, error) {
	if !chain.IsSupported(ch) {
		return "", apperr.Invalid("chain", fmt.Sprintf("unsupported chain %q", ch))
	}
	if err := chain.ValidateAddress(ch, address); err != nil {
		return "", apperr.Invalid("address", err.Error())
	}
	return chain.NormalizeAddress(ch, address), nil
}

// servable 数据源能否拉取该链的交易，未声明支持范围的数据源视为全部支持
func (c *Coordinator) servable(ch string) bool {
	if s, ok := c.provider.(chain.ChainSupporter); ok {
		return s.Supports(ch)
	}
	return true
}

func (c *Coordinator) validateRiskMode(mode models.RiskMode) error {
	if !mode.Valid() {
		return apperr.Invalid("risk_mode", fmt.Sprintf("unknown risk mode %q", mode))
	}
	if _, ok := c.risk.Profile(mode); !ok {
		return apperr.Invalid("risk_mode", fmt.Sprintf("risk profile %q not configured", mode))
	}
	return nil
}

// AddTrader 跟随交易员，(address, chain) 已跟随时返回 ErrTraderExists
func (c *Coordinator) AddTrader(ctx context.Context, address, ch string, cfg models.TraderConfig, opts TraderOptions) (*models.TrackedWallet, error) {
	addr, err := c.validateTarget(address, ch)
	if err != nil {
		return nil, err
	}
	if !c.servable(ch) {
		return nil, apperr.Invalid("chain", fmt.Sprintf("no data provider configured for chain %q", ch))
	}
	if err = ValidateTraderConfig(cfg); err != nil {
		return nil, err
	}
	if opts.RiskMode == "" {
		opts.RiskMode = models.RiskModeModerate
	}
	if err = c.validateRiskMode(opts.RiskMode); err != nil {
		return nil, err
	}

	key := traderKey(addr, ch)
	c.mu.RLock()
	_, exists := c.traders[key]
	c.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrTraderExists, key)
	}

	w := &models.TrackedWallet{
		Address:      addr,
		Chain:        ch,
		Label:        opts.Label,
		Status:       models.WalletStatusActive,
		RiskMode:     opts.RiskMode,
		TraderConfig: cfg,
	}
	if err = c.store.Wallets().Create(ctx, w); err != nil {
		if errors.Is(err, dao.ErrWalletExists) {
			return nil, fmt.Errorf("%w: %s", ErrTraderExists, key)
		}
		return nil, err
	}

	if err = c.SyncTrader(w); err != nil {
		return nil, err
	}

	logger.Info().
		Str("address", addr).
		Str("chain", ch).
		Str("copy_mode", string(cfg.CopyMode)).
		Str("risk_mode", string(opts.RiskMode)).
		Msg("trader added")
	c.emit(nats.EventTraderAdded, "", w)
	return cloneWallet(w), nil
}

// RemoveTrader 取消跟随并删除其历史数据
func (c *Coordinator) RemoveTrader(ctx context.Context, address, ch string) error {
	addr, err := c.validateTarget(address, ch)
	if err != nil {
		return err
	}

	if err = c.store.Wallets().Delete(ctx, addr, ch); err != nil {
		if errors.Is(err, dao.ErrWalletNotFound) {
			return fmt.Errorf("%w: %s", ErrTraderNotFound, traderKey(addr, ch))
		}
		return err
	}

	c.mu.RLock()
	loader := c.loader
	c.mu.RUnlock()
	if loader != nil {
		loader.Forget(addr, ch)
	}
	_ = c.DropTrader(addr, ch)

	logger.Info().Str("address", addr).Str("chain", ch).Msg("trader removed")
	c.emit(nats.EventTraderRemoved, "", map[string]string{"address": addr, "chain": ch})
	return nil
}

// UpdateTrader 更新跟单参数、状态或风控档位
func (c *Coordinator) UpdateTrader(ctx context.Context, address, ch string, upd TraderUpdate) (*models.TrackedWallet, error) {
	addr, err := c.validateTarget(address, ch)
	if err != nil {
		return nil, err
	}

	w, err := c.store.Wallets().Get(ctx, addr, ch)
	if err != nil {
		if errors.Is(err, dao.ErrWalletNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTraderNotFound, traderKey(addr, ch))
		}
		return nil, err
	}

	if upd.Config != nil {
		if err = ValidateTraderConfig(*upd.Config); err != nil {
			return nil, err
		}
		w.TraderConfig = *upd.Config
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", *upd.Status))
		}
		w.Status = *upd.Status
	}
	if upd.RiskMode != nil {
		if err = c.validateRiskMode(*upd.RiskMode); err != nil {
			return nil, err
		}
		w.RiskMode = *upd.RiskMode
	}
	if upd.Label != nil {
		w.Label = *upd.Label
	}

	if err = c.store.Wallets().UpdateSettings(ctx, w); err != nil {
		return nil, err
	}

	if w.IsActive() {
		err = c.SyncTrader(w)
	} else {
		// 暂停或拉黑后立即停止监控，不等待宽限期
		c.mu.RLock()
		loader := c.loader
		c.mu.RUnlock()
		if loader != nil {
			loader.Forget(addr, ch)
		}
		err = c.DropTrader(addr, ch)
	}
	if err != nil && !errors.Is(err, ErrTraderNotFound) {
		return nil, err
	}

	logger.Info().
		Str("address", addr).
		Str("chain", ch).
		Str("status", string(w.Status)).
		Str("risk_mode", string(w.RiskMode)).
		Msg("trader updated")
	c.emit(nats.EventTraderUpdated, "", w)
	return cloneWallet(w), nil
}

// SyncTrader 把持久化的钱包同步到内存，新钱包在运行中时加入监控
func (c *Coordinator) SyncTrader(w *models.TrackedWallet) error {
	key := traderKey(w.Address, w.Chain)

	c.mu.Lock()
	existing, ok := c.traders[key]
	if ok {
		existing.Label = w.Label
		existing.Status = w.Status
		existing.RiskMode = w.RiskMode
		existing.TraderConfig = w.TraderConfig
	} else {
		c.traders[key] = cloneWallet(w)
	}
	running := c.running
	count := len(c.traders)
	c.mu.Unlock()

	if !ok {
		c.rebuildPositions(w.ID)
		monitor.SetTradersFollowed(count)
	}
	if running && w.IsActive() && !c.monitor.IsWatchingChain(w.Address, w.Chain) {
		if !c.servable(w.Chain) {
			logger.Warn().Str("address", w.Address).Str("chain", w.Chain).Msg("no data provider for chain, trader not monitored")
			return nil
		}
		return c.monitor.AddWallet(w.Address, w.Chain)
	}
	return nil
}

// DropTrader 从内存和监控中移除，不删除持久化数据
func (c *Coordinator) DropTrader(address, ch string) error {
	key := traderKey(address, ch)

	c.mu.Lock()
	_, ok := c.traders[key]
	delete(c.traders, key)
	count := len(c.traders)
	c.mu.Unlock()

	c.monitor.RemoveChain(address, ch)
	monitor.SetTradersFollowed(count)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTraderNotFound, key)
	}
	return nil
}

// lookupTrader 返回交易员快照
func (c *Coordinator) lookupTrader(address, ch string) (*models.TrackedWallet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.traders[traderKey(chain.NormalizeAddress(ch, address), ch)]
	if !ok {
		return nil, false
	}
	return cloneWallet(w), true
}

// Traders 当前跟随的交易员（按 chain:address 排序）
func (c *Coordinator) Traders() []*models.TrackedWallet {
	c.mu.RLock()
	keys := make([]string, 0, len(c.traders))
	for k := range c.traders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*models.TrackedWallet, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneWallet(c.traders[k]))
	}
	c.mu.RUnlock()
	return out
}

func (c *Coordinator) traderCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.traders)
}

func cloneWallet(w *models.TrackedWallet) *models.TrackedWallet {
	cp := *w
	cp.AllowedChains = append([]string(nil), w.AllowedChains...)
	cp.AllowedTokens = append([]string(nil), w.AllowedTokens...)
	return &cp
}
