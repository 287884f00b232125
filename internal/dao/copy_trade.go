package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

type CopyTradeDAO struct {
	db *gorm.DB
}

func (d *CopyTradeDAO) Create(ctx context.Context, t *models.CopyTrade) error {
	return d.db.WithContext(ctx).Create(t).Error
}

// Save 按主键写入订单最新状态（不存在则插入）
func (d *CopyTradeDAO) Save(ctx context.Context, t *models.CopyTrade) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(t).Error
}

func (d *CopyTradeDAO) Get(ctx context.Context, id string) (*models.CopyTrade, error) {
	var t models.CopyTrade
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *CopyTradeDAO) ListByWallet(ctx context.Context, walletID uint) ([]*models.CopyTrade, error) {
	var list []*models.CopyTrade
	err := d.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at").
		Find(&list).Error
	return list, err
}

// ListBySourceTx 查询来源交易对应的跟单记录
func (d *CopyTradeDAO) ListBySourceTx(ctx context.Context, txHash string) ([]*models.CopyTrade, error) {
	var list []*models.CopyTrade
	err := d.db.WithContext(ctx).Where("source_tx_hash = ?", txHash).Find(&list).Error
	return list, err
}

// ListFilled 钱包已成交（含部分成交）的跟单，按创建时间升序
func (d *CopyTradeDAO) ListFilled(ctx context.Context, walletID uint) ([]*models.CopyTrade, error) {
	var list []*models.CopyTrade
	err := d.db.WithContext(ctx).
		Where("wallet_id = ? AND status IN ?", walletID,
			[]models.OrderStatus{models.OrderStatusFilled, models.OrderStatusPartiallyFilled}).
		Order("created_at").
		Find(&list).Error
	return list, err
}

// ListSince 钱包在指定时间之后创建的全部跟单
func (d *CopyTradeDAO) ListSince(ctx context.Context, walletID uint, since time.Time) ([]*models.CopyTrade, error) {
	var list []*models.CopyTrade
	err := d.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at >= ?", walletID, since).
		Find(&list).Error
	return list, err
}

// DeleteTerminalBefore 清理早于指定时间的终态订单
func (d *CopyTradeDAO) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []models.OrderStatus{
			models.OrderStatusFilled, models.OrderStatusFailed,
			models.OrderStatusCancelled, models.OrderStatusExpired,
		}, before).
		Delete(&models.CopyTrade{})
	return res.RowsAffected, res.Error
}
