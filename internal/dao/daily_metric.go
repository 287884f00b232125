package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

type DailyMetricDAO struct {
	db *gorm.DB
}

// BatchUpsert 按 (wallet_id, day) 批量写入统计
func (d *DailyMetricDAO) BatchUpsert(ctx context.Context, metrics []*models.DailyMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"detected", "copied", "skipped", "rejected", "filled", "failed",
			"volume_usd", "fees_usd", "realized_pnl_usd", "updated_at",
		}),
	}).Create(&metrics).Error
}

func (d *DailyMetricDAO) Get(ctx context.Context, walletID uint, day string) (*models.DailyMetric, error) {
	var m models.DailyMetric
	err := d.db.WithContext(ctx).Where("wallet_id = ? AND day = ?", walletID, day).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &m, err
}

// DeleteBefore 清理早于指定日期的统计
func (d *DailyMetricDAO) DeleteBefore(ctx context.Context, day string) (int64, error) {
	res := d.db.WithContext(ctx).Where("day < ?", day).Delete(&models.DailyMetric{})
	return res.RowsAffected, res.Error
}
