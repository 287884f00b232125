package dao

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrWalletExists   = errors.New("wallet already tracked")
	ErrWalletNotFound = errors.New("wallet not found")
	ErrTxExists       = errors.New("transaction already recorded")
	ErrTradeNotFound  = errors.New("copy trade not found")
)

// Store 持久化入口，聚合各表 DAO
type Store struct {
	db           *gorm.DB
	wallets      *WalletDAO
	transactions *TransactionDAO
	copyTrades   *CopyTradeDAO
	dailyMetrics *DailyMetricDAO
}

// New 创建 Store（应用启动时调用一次，按需注入到各组件）
func New(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		wallets:      &WalletDAO{db: db},
		transactions: &TransactionDAO{db: db},
		copyTrades:   &CopyTradeDAO{db: db},
		dailyMetrics: &DailyMetricDAO{db: db},
	}
}

func (s *Store) DB() *gorm.DB                  { return s.db }
func (s *Store) Wallets() *WalletDAO           { return s.wallets }
func (s *Store) Transactions() *TransactionDAO { return s.transactions }
func (s *Store) CopyTrades() *CopyTradeDAO     { return s.copyTrades }
func (s *Store) DailyMetrics() *DailyMetricDAO { return s.dailyMetrics }

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
