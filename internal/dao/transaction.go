package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

type TransactionDAO struct {
	db *gorm.DB
}

// Create 记录检测到的交易，tx_hash 重复返回 ErrTxExists
func (d *TransactionDAO) Create(ctx context.Context, tx *models.WalletTransaction) error {
	if err := d.db.WithContext(ctx).Create(tx).Error; err != nil {
		if isDuplicate(err) {
			return ErrTxExists
		}
		return err
	}
	return nil
}

func (d *TransactionDAO) Get(ctx context.Context, txHash string) (*models.WalletTransaction, error) {
	var tx models.WalletTransaction
	err := d.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &tx, err
}

// MarkProcessed 设置处理结果，仅对未处理的记录生效
// 返回 false 表示记录已被处理过
func (d *TransactionDAO) MarkProcessed(ctx context.Context, txHash string, eligible bool, reason string) (bool, error) {
	now := time.Now()
	res := d.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("tx_hash = ? AND processed = ?", txHash, false).
		Updates(map[string]any{
			"processed":       true,
			"eligible":        eligible,
			"decision_reason": reason,
			"processed_at":    &now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecentHashes 返回指定时间之后记录的交易哈希，用于预热去重缓存
func (d *TransactionDAO) RecentHashes(ctx context.Context, since time.Time) ([]string, error) {
	var hashes []string
	err := d.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("created_at >= ?", since).
		Pluck("tx_hash", &hashes).Error
	return hashes, err
}

// CountByWalletSince 统计钱包在指定时间之后检测到的交易数
func (d *TransactionDAO) CountByWalletSince(ctx context.Context, walletID uint, since time.Time) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("wallet_id = ? AND created_at >= ?", walletID, since).
		Count(&count).Error
	return count, err
}

// ReasonCountsSince 按决策原因统计钱包在指定时间之后已处理的交易数
func (d *TransactionDAO) ReasonCountsSince(ctx context.Context, walletID uint, since time.Time) (map[string]int64, error) {
	var rows []struct {
		DecisionReason string
		N              int64
	}
	err := d.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Select("decision_reason, count(*) AS n").
		Where("wallet_id = ? AND processed = ? AND created_at >= ?", walletID, true, since).
		Group("decision_reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.DecisionReason] = r.N
	}
	return counts, nil
}

// DeleteProcessedBefore 清理早于指定时间且已处理的交易
func (d *TransactionDAO) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("processed = ? AND created_at < ?", true, before).
		Delete(&models.WalletTransaction{})
	return res.RowsAffected, res.Error
}

func (d *TransactionDAO) Count(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.WalletTransaction{}).Count(&count).Error
	return count, err
}

// DeleteOldest 删除最旧的 n 条已处理交易
func (d *TransactionDAO) DeleteOldest(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	var ids []uint
	err := d.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("processed = ?", true).
		Order("id").
		Limit(int(n)).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	res := d.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.WalletTransaction{})
	return res.RowsAffected, res.Error
}
