package cleaner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/utrading/utrading-copy-trader/internal/dao"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/pkg/goplus"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// Config 保留策略，天数 <= 0 表示不清理
type Config struct {
	Interval        time.Duration
	TransactionDays int
	CopyTradeDays   int
	MetricDays      int
	MaxTransactions int64
	Timeout         time.Duration
}

// Result 单次清理删除的行数
type Result struct {
	Transactions       int64
	ExcessTransactions int64
	CopyTrades         int64
	DailyMetrics       int64
	StartedAt          time.Time
	FinishedAt         time.Time
}

// Cleaner 数据清理器，定时清理历史数据
type Cleaner struct {
	store   *dao.Store
	cfg     Config
	now     func() time.Time
	lastRun atomic.Pointer[time.Time]

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCleaner 创建清理器
func NewCleaner(store *dao.Store, cfg Config) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Cleaner{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		done:  make(chan struct{}),
	}
}

// Start 启动清理任务
func (c *Cleaner) Start() {
	c.startOnce.Do(func() {
		goplus.Go(func() {
			ticker := time.NewTicker(c.cfg.Interval)
			defer ticker.Stop()

			logger.Info().Dur("interval", c.cfg.Interval).Msg("cleaner started")

			for {
				select {
				case <-ticker.C:
					c.runOnce()
				case <-c.done:
					logger.Info().Msg("cleaner stopped")
					return
				}
			}
		})
	})
}

// Stop 停止清理器
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// LastRun 最近一次清理完成时间
func (c *Cleaner) LastRun() *time.Time {
	return c.lastRun.Load()
}

func (c *Cleaner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	if _, err := c.Clean(ctx); err != nil {
		logger.Error().Err(err).Msg("retention cleanup failed")
	}
}

// Clean 执行一次清理，单项失败不影响其他项
func (c *Cleaner) Clean(ctx context.Context) (Result, error) {
	now := c.now()
	res := Result{StartedAt: now}
	var errs []error

	if c.cfg.TransactionDays > 0 {
		cutoff := now.AddDate(0, 0, -c.cfg.TransactionDays)
		n, err := c.store.Transactions().DeleteProcessedBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
		}
		res.Transactions = n
		c.report(models.WalletTransaction{}.TableName(), n, "cleaned old transactions by time")
	}

	// 数量兜底：超过上限时删除最旧的已处理交易
	if c.cfg.MaxTransactions > 0 {
		count, err := c.store.Transactions().Count(ctx)
		if err != nil {
			errs = append(errs, err)
		} else if count > c.cfg.MaxTransactions {
			n, err := c.store.Transactions().DeleteOldest(ctx, count-c.cfg.MaxTransactions)
			if err != nil {
				errs = append(errs, err)
			}
			res.ExcessTransactions = n
			c.report(models.WalletTransaction{}.TableName(), n, "cleaned excess transactions by count")
		}
	}

	if c.cfg.CopyTradeDays > 0 {
		cutoff := now.AddDate(0, 0, -c.cfg.CopyTradeDays)
		n, err := c.store.CopyTrades().DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
		}
		res.CopyTrades = n
		c.report(models.CopyTrade{}.TableName(), n, "cleaned terminal copy trades")
	}

	if c.cfg.MetricDays > 0 {
		day := models.DayOf(now.AddDate(0, 0, -c.cfg.MetricDays))
		n, err := c.store.DailyMetrics().DeleteBefore(ctx, day)
		if err != nil {
			errs = append(errs, err)
		}
		res.DailyMetrics = n
		c.report(models.DailyMetric{}.TableName(), n, "cleaned old daily metrics")
	}

	res.FinishedAt = c.now()
	c.lastRun.Store(&res.FinishedAt)
	return res, errors.Join(errs...)
}

func (c *Cleaner) report(table string, deleted int64, msg string) {
	if deleted <= 0 {
		return
	}
	monitor.AddRetentionDeleted(table, deleted)
	logger.Info().Str("table", table).Int64("deleted", deleted).Msg(msg)
}
