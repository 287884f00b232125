package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

type WalletDAO struct {
	db *gorm.DB
}

// WalletPerformance 周期任务重算的绩效快照
type WalletPerformance struct {
	TotalTrades    int64
	WinningTrades  int64
	TotalVolumeUSD decimal.Decimal
	RealizedPnLUSD decimal.Decimal
	WinRate        float64
	LastTradeAt    *time.Time
}

// Create 新增跟单钱包，(address, chain) 已存在返回 ErrWalletExists
func (d *WalletDAO) Create(ctx context.Context, w *models.TrackedWallet) error {
	if err := d.db.WithContext(ctx).Create(w).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s/%s", ErrWalletExists, w.Chain, w.Address)
		}
		return err
	}
	return nil
}

func (d *WalletDAO) Get(ctx context.Context, address, chain string) (*models.TrackedWallet, error) {
	var w models.TrackedWallet
	err := d.db.WithContext(ctx).
		Where("address = ? AND chain = ?", address, chain).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListActive 加载所有 active 状态的钱包
func (d *WalletDAO) ListActive(ctx context.Context) ([]*models.TrackedWallet, error) {
	var list []*models.TrackedWallet
	err := d.db.WithContext(ctx).
		Where("status = ?", models.WalletStatusActive).
		Order("id").
		Find(&list).Error
	return list, err
}

func (d *WalletDAO) ListAll(ctx context.Context) ([]*models.TrackedWallet, error) {
	var list []*models.TrackedWallet
	err := d.db.WithContext(ctx).Order("id").Find(&list).Error
	return list, err
}

// UpdateSettings 更新状态、风控档位和跟单参数
func (d *WalletDAO) UpdateSettings(ctx context.Context, w *models.TrackedWallet) error {
	res := d.db.WithContext(ctx).Model(&models.TrackedWallet{}).
		Where("id = ?", w.ID).
		Select("status", "risk_mode", "label",
			"copy_mode", "copy_percentage", "fixed_amount_usd", "max_position_usd",
			"min_trade_value_usd", "max_slippage_bps", "allowed_chains", "allowed_tokens",
			"copy_buy_only", "copy_sell_only").
		Updates(w)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// UpdatePerformance 写入绩效快照
func (d *WalletDAO) UpdatePerformance(ctx context.Context, walletID uint, p WalletPerformance) error {
	now := time.Now()
	return d.db.WithContext(ctx).Model(&models.TrackedWallet{}).
		Where("id = ?", walletID).
		Updates(map[string]any{
			"total_trades":     p.TotalTrades,
			"winning_trades":   p.WinningTrades,
			"total_volume_usd": p.TotalVolumeUSD,
			"realized_pnl_usd": p.RealizedPnLUSD,
			"win_rate":         p.WinRate,
			"last_trade_at":    p.LastTradeAt,
			"last_sync_at":     &now,
		}).Error
}

// Delete 删除钱包并级联删除其交易、跟单记录和日统计
func (d *WalletDAO) Delete(ctx context.Context, address, chain string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w models.TrackedWallet
		err := tx.Where("address = ? AND chain = ?", address, chain).First(&w).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWalletNotFound
		}
		if err != nil {
			return err
		}

		if err = tx.Where("wallet_id = ?", w.ID).Delete(&models.CopyTrade{}).Error; err != nil {
			return err
		}
		if err = tx.Where("wallet_id = ?", w.ID).Delete(&models.WalletTransaction{}).Error; err != nil {
			return err
		}
		if err = tx.Where("wallet_id = ?", w.ID).Delete(&models.DailyMetric{}).Error; err != nil {
			return err
		}
		return tx.Delete(&w).Error
	})
}
