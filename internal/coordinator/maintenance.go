package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/dao"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/nats"
	"github.com/utrading/utrading-copy-trader/internal/processor"
	"github.com/utrading/utrading-copy-trader/internal/strategy"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

func (c *Coordinator) performanceLoop() {
	ticker := time.NewTicker(c.cfg.PerformanceSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.SyncPerformance(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("performance sync failed")
			}
		}
	}
}

// SyncPerformance 由已成交订单重算每个交易员的绩效和当日统计，经批量写入落库
func (c *Coordinator) SyncPerformance(ctx context.Context) error {
	c.mu.RLock()
	batch := c.batch
	running := c.running
	wallets := make([]*models.TrackedWallet, 0, len(c.traders))
	for _, w := range c.traders {
		wallets = append(wallets, cloneWallet(w))
	}
	c.mu.RUnlock()
	if !running || batch == nil {
		return ErrNotRunning
	}

	now := time.Now()
	dayStart := now.UTC().Truncate(24 * time.Hour)
	var errs []error
	for _, w := range wallets {
		if err := ctx.Err(); err != nil {
			return err
		}

		perf, err := c.walletPerformance(ctx, w.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		metric, err := c.dailyMetric(ctx, w.ID, dayStart)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		c.applyPerformance(w.Address, w.Chain, perf)
		if err = batch.Add(processor.WalletPerformanceItem{WalletID: w.ID, Performance: perf}); err != nil {
			errs = append(errs, err)
		}
		if err = batch.Add(processor.DailyMetricItem{Metric: metric}); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.lastPerfRun = &now
	c.mu.Unlock()

	logger.Debug().Int("traders", len(wallets)).Int("errors", len(errs)).Msg("performance synced")
	c.emit(nats.EventPerformanceSync, "", map[string]any{
		"traders": len(wallets),
		"day":     models.DayOf(now),
	})
	return errors.Join(errs...)
}

// walletPerformance 汇总钱包全部已成交订单，胜率只统计有已实现盈亏的卖出
func (c *Coordinator) walletPerformance(ctx context.Context, walletID uint) (dao.WalletPerformance, error) {
	trades, err := c.store.CopyTrades().ListFilled(ctx, walletID)
	if err != nil {
		return dao.WalletPerformance{}, err
	}

	perf := dao.WalletPerformance{
		TotalVolumeUSD: decimal.Zero,
		RealizedPnLUSD: decimal.Zero,
	}
	var closed int64
	for _, t := range trades {
		perf.TotalTrades++
		perf.TotalVolumeUSD = perf.TotalVolumeUSD.Add(t.FilledAmountUSD)
		if t.Side == models.ActionSell && t.PnLUSD.Valid {
			closed++
			perf.RealizedPnLUSD = perf.RealizedPnLUSD.Add(t.PnLUSD.Decimal)
			if t.PnLUSD.Decimal.IsPositive() {
				perf.WinningTrades++
			}
		}
		if t.CompletedAt != nil && (perf.LastTradeAt == nil || t.CompletedAt.After(*perf.LastTradeAt)) {
			at := *t.CompletedAt
			perf.LastTradeAt = &at
		}
	}
	if closed > 0 {
		perf.WinRate = float64(perf.WinningTrades) / float64(closed)
	}
	return perf, nil
}

// dailyMetric 当日统计：决策计数来自交易表，成交数据来自订单表
func (c *Coordinator) dailyMetric(ctx context.Context, walletID uint, dayStart time.Time) (*models.DailyMetric, error) {
	reasons, err := c.store.Transactions().ReasonCountsSince(ctx, walletID, dayStart)
	if err != nil {
		return nil, err
	}
	trades, err := c.store.CopyTrades().ListSince(ctx, walletID, dayStart)
	if err != nil {
		return nil, err
	}

	m := &models.DailyMetric{
		WalletID:       walletID,
		Day:            models.DayOf(dayStart),
		VolumeUSD:      decimal.Zero,
		FeesUSD:        decimal.Zero,
		RealizedPnLUSD: decimal.Zero,
	}
	for reason, n := range reasons {
		m.Detected += n
		switch strategy.DecisionForReason(reason) {
		case strategy.DecisionCopy:
			m.Copied += n
		case strategy.DecisionSkip:
			m.Skipped += n
		default:
			m.Rejected += n
		}
	}
	for _, t := range trades {
		switch t.Status {
		case models.OrderStatusFilled:
			m.Filled++
			m.VolumeUSD = m.VolumeUSD.Add(t.FilledAmountUSD)
			m.FeesUSD = m.FeesUSD.Add(t.FeeUSD)
			if t.PnLUSD.Valid {
				m.RealizedPnLUSD = m.RealizedPnLUSD.Add(t.PnLUSD.Decimal)
			}
		case models.OrderStatusFailed, models.OrderStatusExpired:
			m.Failed++
		}
	}
	return m, nil
}

func (c *Coordinator) applyPerformance(address, ch string, p dao.WalletPerformance) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.traders[traderKey(address, ch)]
	if !ok {
		return
	}
	w.TotalTrades = p.TotalTrades
	w.WinningTrades = p.WinningTrades
	w.TotalVolumeUSD = p.TotalVolumeUSD
	w.RealizedPnLUSD = p.RealizedPnLUSD
	w.WinRate = p.WinRate
	w.LastTradeAt = p.LastTradeAt
	w.LastSyncAt = &now
}
