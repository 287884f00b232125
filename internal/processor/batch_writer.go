package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/utrading/utrading-copy-trader/internal/dao"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/pkg/concurrent"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

const (
	tableDailyMetrics = "copy_daily_metrics"
	tableWallets      = "copy_tracked_wallets"
)

// BatchItem 批量写入项接口
type BatchItem interface {
	TableName() string
	DedupKey() string // 返回去重键
}

// DailyMetricItem 钱包当日统计
type DailyMetricItem struct {
	Metric *models.DailyMetric
}

func (i DailyMetricItem) TableName() string {
	return tableDailyMetrics
}

func (i DailyMetricItem) DedupKey() string {
	return fmt.Sprintf("dm:%d:%s", i.Metric.WalletID, i.Metric.Day)
}

// WalletPerformanceItem 钱包绩效快照
type WalletPerformanceItem struct {
	WalletID    uint
	Performance dao.WalletPerformance
}

func (i WalletPerformanceItem) TableName() string {
	return tableWallets
}

func (i WalletPerformanceItem) DedupKey() string {
	return fmt.Sprintf("wp:%d", i.WalletID)
}

// BatchWriterConfig 批量写入配置
type BatchWriterConfig struct {
	BatchSize     int           // 批量大小（默认 100）
	FlushInterval time.Duration // 刷新间隔（默认 2s）
	MaxQueueSize  int           // 最大队列大小（默认 10000）
	WriteTimeout  time.Duration // 单次写库超时（默认 10s）
}

// BatchWriter 批量写入器
// 同一去重键只保留最新值，按表分组批量写库
type BatchWriter struct {
	config    *BatchWriterConfig
	store     *dao.Store
	queue     chan BatchItem
	buffers   concurrent.Map[string, BatchItem]
	flushMu   sync.Mutex
	flushTick *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewBatchWriter 创建批量写入器
func NewBatchWriter(store *dao.Store, config *BatchWriterConfig) *BatchWriter {
	if config == nil {
		config = &BatchWriterConfig{}
	}

	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 10000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &BatchWriter{
		config: config,
		store:  store,
		queue:  make(chan BatchItem, config.MaxQueueSize),
		done:   make(chan struct{}),
	}
}

// Start 启动批量写入器
func (w *BatchWriter) Start() {
	w.startOnce.Do(func() {
		w.flushTick = time.NewTicker(w.config.FlushInterval)

		w.wg.Add(2)
		go w.receiveLoop()
		go w.flushLoop()
	})
}

func (w *BatchWriter) receiveLoop() {
	defer w.wg.Done()
	for {
		select {
		case item := <-w.queue:
			w.buffers.Store(item.DedupKey(), item)
			if w.buffers.Len() >= int64(w.config.BatchSize) {
				w.flushAll()
			}
		case <-w.done:
			for {
				select {
				case item := <-w.queue:
					w.buffers.Store(item.DedupKey(), item)
				default:
					return
				}
			}
		}
	}
}

func (w *BatchWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.flushTick.C:
			w.flushAll()
		case <-w.done:
			return
		}
	}
}

// flushAll 刷新缓冲区内所有表
func (w *BatchWriter) flushAll() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	grouped := make(map[string][]BatchItem)
	w.buffers.Range(func(key string, item BatchItem) bool {
		// 写入期间被覆盖的键留到下一轮
		if w.buffers.CompareAndDelete(key, item) {
			grouped[item.TableName()] = append(grouped[item.TableName()], item)
		}
		return true
	})
	if len(grouped) == 0 {
		return
	}

	tables := make([]string, 0, len(grouped))
	for table := range grouped {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		items := grouped[table]
		start := time.Now()
		if err := w.batchUpsert(table, items); err != nil {
			logger.Error().Err(err).Str("table", table).Int("count", len(items)).Msg("batch upsert failed")
			continue
		}
		monitor.ObserveBatchWriteSize(len(items))
		monitor.ObserveBatchWriteDuration(time.Since(start).Seconds())
		logger.Debug().Str("table", table).Int("count", len(items)).Msg("batch upsert success")
	}
}

func (w *BatchWriter) batchUpsert(table string, items []BatchItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	switch table {
	case tableDailyMetrics:
		return w.batchUpsertDailyMetrics(ctx, items)
	case tableWallets:
		return w.batchUpdatePerformance(ctx, items)
	default:
		logger.Warn().Str("table", table).Msg("unsupported table for batch upsert")
		return nil
	}
}

func (w *BatchWriter) batchUpsertDailyMetrics(ctx context.Context, items []BatchItem) error {
	metrics := make([]*models.DailyMetric, 0, len(items))
	for _, item := range items {
		if dm, ok := item.(DailyMetricItem); ok {
			metrics = append(metrics, dm.Metric)
		}
	}
	return w.store.DailyMetrics().BatchUpsert(ctx, metrics)
}

// batchUpdatePerformance 逐条更新，单个钱包失败不影响其余
func (w *BatchWriter) batchUpdatePerformance(ctx context.Context, items []BatchItem) error {
	var errs []error
	for _, item := range items {
		wp, ok := item.(WalletPerformanceItem)
		if !ok {
			continue
		}
		err := w.store.Wallets().UpdatePerformance(ctx, wp.WalletID, wp.Performance)
		if err != nil && !errors.Is(err, dao.ErrWalletNotFound) {
			errs = append(errs, fmt.Errorf("wallet %d: %w", wp.WalletID, err))
		}
	}
	return errors.Join(errs...)
}

// Add 添加写入项
func (w *BatchWriter) Add(item BatchItem) error {
	select {
	case w.queue <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Flush 立即写入缓冲数据
func (w *BatchWriter) Flush() {
	// 先把队列中已有的数据并入缓冲区
	for {
		select {
		case item := <-w.queue:
			w.buffers.Store(item.DedupKey(), item)
		default:
			w.flushAll()
			return
		}
	}
}

// Pending 缓冲区与队列中待写入的条数
func (w *BatchWriter) Pending() int {
	return int(w.buffers.Len()) + len(w.queue)
}

// Stop 停止写入器并刷新剩余数据
func (w *BatchWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		w.flushAll()
		if w.flushTick != nil {
			w.flushTick.Stop()
		}
	})
}

// GracefulShutdown 优雅关闭，带超时控制
func (w *BatchWriter) GracefulShutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		logger.Warn().Dur("timeout", timeout).Msg("batch writer shutdown timeout")
		return ErrShutdownTimeout
	}
}

// ErrQueueFull 队列满错误
var ErrQueueFull = errors.New("batch queue full")

// ErrShutdownTimeout 关闭超时错误
var ErrShutdownTimeout = errors.New("shutdown timeout")
