package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/config"
	"github.com/utrading/utrading-copy-trader/internal/address"
	"github.com/utrading/utrading-copy-trader/internal/cache"
	"github.com/utrading/utrading-copy-trader/internal/chain"
	"github.com/utrading/utrading-copy-trader/internal/cleaner"
	"github.com/utrading/utrading-copy-trader/internal/dao"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/internal/nats"
	"github.com/utrading/utrading-copy-trader/internal/order"
	"github.com/utrading/utrading-copy-trader/internal/processor"
	"github.com/utrading/utrading-copy-trader/internal/risk"
	"github.com/utrading/utrading-copy-trader/internal/strategy"
	"github.com/utrading/utrading-copy-trader/internal/wallet"
	"github.com/utrading/utrading-copy-trader/pkg/goplus"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

var (
	ErrTraderExists   = errors.New("trader already followed")
	ErrTraderNotFound = errors.New("trader not followed")
	ErrNotRunning     = errors.New("coordinator not running")
)

// Config 协调器运行参数
type Config struct {
	Mode                    models.ExecutionMode
	PortfolioValueUSD       decimal.Decimal
	MaxRiskScore            float64
	NormalTradeSizeUSD      float64
	QueueSize               int
	DedupTTL                time.Duration
	PerformanceSyncInterval time.Duration
	WalletReloadInterval    time.Duration
	WalletRemoveGrace       time.Duration
	Monitor                 wallet.Config
	Order                   order.Config
	Retention               cleaner.Config
}

// ConfigFrom 从全局配置转换
func ConfigFrom(cfg *config.Config) Config {
	ct := cfg.CopyTrader
	return Config{
		Mode:                    models.ExecutionMode(ct.Mode),
		PortfolioValueUSD:       decimal.NewFromFloat(ct.PortfolioValueUSD),
		MaxRiskScore:            ct.MaxRiskScore,
		NormalTradeSizeUSD:      ct.NormalTradeSizeUSD,
		QueueSize:               ct.QueueSize,
		DedupTTL:                ct.DedupTTL,
		PerformanceSyncInterval: ct.PerformanceSyncInterval,
		WalletReloadInterval:    ct.WalletReloadInterval,
		WalletRemoveGrace:       ct.WalletRemoveGrace,
		Monitor: wallet.Config{
			PollInterval:     cfg.Monitor.PollInterval,
			MaxBackoff:       cfg.Monitor.MaxBackoff,
			FetchTimeout:     cfg.Monitor.FetchTimeout,
			FetchConcurrency: cfg.Monitor.FetchConcurrency,
			Filter: wallet.FilterConfig{
				MinValueUSD: decimal.NewFromFloat(cfg.Monitor.MinValueUSD),
				MaxValueUSD: decimal.NewFromFloat(cfg.Monitor.MaxValueUSD),
				AllowBuys:   cfg.Monitor.AllowBuys,
				AllowSells:  cfg.Monitor.AllowSells,
			},
		},
		Order: order.Config{
			Timeout:         cfg.Order.Timeout,
			MaxSlippageBps:  cfg.Order.MaxSlippageBps,
			MonitorPoolSize: cfg.Order.MonitorPoolSize,
			HistoryTTL:      cfg.Order.HistoryTTL,
		},
		Retention: cleaner.Config{
			Interval:        ct.RetentionInterval,
			TransactionDays: cfg.Retention.TransactionDays,
			CopyTradeDays:   cfg.Retention.CopyTradeDays,
			MetricDays:      cfg.Retention.MetricDays,
			MaxTransactions: int64(cfg.Retention.MaxTransactions),
		},
	}
}

// Deps 外部依赖，Sink 可为 nil
type Deps struct {
	Store    *dao.Store
	Provider chain.DataProvider
	Market   strategy.MarketSource
	Risk     *risk.Manager
	Backend  order.SwapBackend
	Sink     nats.EventSink
}

// Counters 运行计数
type Counters struct {
	Detected        int64 `json:"detected"`
	Duplicates      int64 `json:"duplicates"`
	Processed       int64 `json:"processed"`
	Copied          int64 `json:"copied"`
	Skipped         int64 `json:"skipped"`
	Rejected        int64 `json:"rejected"`
	OrdersSubmitted int64 `json:"orders_submitted"`
	OrdersFilled    int64 `json:"orders_filled"`
	OrdersFailed    int64 `json:"orders_failed"`
	Errors          int64 `json:"errors"`
}

// Coordinator 串联钱包监控、策略、风控和订单管理
type Coordinator struct {
	cfg      Config
	store    *dao.Store
	provider chain.DataProvider
	sink     nats.EventSink
	risk     *risk.Manager
	strategy *strategy.Strategy
	orders   *order.Manager
	monitor  *wallet.Monitor
	dedup    *cache.DedupCache

	// evalMu 串行化交易评估，订单回调不得获取
	evalMu sync.Mutex

	// 订单最近一次落库的状态，防止乱序回调回退状态
	persistMu sync.Mutex
	persisted *cache.TTLCache[models.OrderStatus]

	mu          sync.RWMutex
	running     bool
	startedAt   time.Time
	traders     map[string]*models.TrackedWallet // chain:address
	counters    Counters
	positions   *positionBook
	lastPerfRun *time.Time

	// 每次 Start 重建
	queue   *processor.MessageQueue
	batch   *processor.BatchWriter
	cleaner *cleaner.Cleaner
	loader  *address.WalletLoader
	ctx     context.Context
	cancel  context.CancelFunc
	bg      *goplus.WaitGroup
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Store == nil || deps.Provider == nil || deps.Market == nil || deps.Risk == nil || deps.Backend == nil {
		return nil, errors.New("coordinator: missing dependency")
	}
	if cfg.Mode == "" {
		cfg.Mode = deps.Backend.Mode()
	}
	if cfg.Mode != deps.Backend.Mode() {
		return nil, fmt.Errorf("coordinator: mode %s does not match %s backend", cfg.Mode, deps.Backend.Mode())
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	if cfg.PerformanceSyncInterval <= 0 {
		cfg.PerformanceSyncInterval = 5 * time.Minute
	}

	c := &Coordinator{
		cfg:       cfg,
		store:     deps.Store,
		provider:  deps.Provider,
		sink:      deps.Sink,
		risk:      deps.Risk,
		dedup:     cache.NewDedupCache(cfg.DedupTTL),
		persisted: cache.NewTTLCache[models.OrderStatus](time.Hour),
		traders:   make(map[string]*models.TrackedWallet),
		positions: newPositionBook(),
	}
	c.strategy = strategy.New(strategy.Config{
		PortfolioValueUSD:  cfg.PortfolioValueUSD,
		MaxRiskScore:       cfg.MaxRiskScore,
		NormalTradeSizeUSD: cfg.NormalTradeSizeUSD,
	}, deps.Risk, deps.Market, deps.Sink)

	orders, err := order.NewManager(cfg.Order, deps.Backend, c)
	if err != nil {
		return nil, err
	}
	c.orders = orders

	mon, err := wallet.NewMonitor(deps.Provider, c, cfg.Monitor)
	if err != nil {
		orders.Close()
		return nil, err
	}
	c.monitor = mon
	return c, nil
}

// Start 加载钱包并启动监控和周期任务，重复调用无效
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.bg = goplus.NewWaitGroup()
	c.queue = processor.NewMessageQueue(c.cfg.QueueSize)
	c.batch = processor.NewBatchWriter(c.store, nil)
	c.cleaner = cleaner.NewCleaner(c.store, c.cfg.Retention)
	c.loader = address.NewWalletLoader(c.store.Wallets(), c, c.cfg.WalletReloadInterval, c.cfg.WalletRemoveGrace)
	c.running = true
	c.startedAt = time.Now()
	c.mu.Unlock()

	if err := c.dedup.LoadFromDB(c.ctx, c.store.Transactions()); err != nil {
		logger.Warn().Err(err).Msg("dedup warmup failed")
	}

	c.queue.Start(c)
	c.batch.Start()

	// 首次同步把 active 钱包交给监控
	if err := c.loader.Start(); err != nil {
		c.Stop()
		return fmt.Errorf("load tracked wallets: %w", err)
	}
	c.cleaner.Start()

	c.bg.Go(c.performanceLoop)

	monitor.SetTradersFollowed(c.traderCount())
	logger.Info().
		Str("mode", string(c.cfg.Mode)).
		Int("traders", c.traderCount()).
		Msg("copy trading coordinator started")
	return nil
}

// Stop 停止监控，排空信号队列并等待进行中的评估，重复调用无效
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.loader.Stop()
	c.monitor.StopAll()
	c.queue.Stop()
	c.cancel()
	c.bg.Wait()
	c.cleaner.Stop()

	// 等待进行中的评估结束后再刷盘
	c.evalMu.Lock()
	c.batch.Stop()
	c.evalMu.Unlock()
	logger.Info().Msg("copy trading coordinator stopped")
}

// Close 停止并释放订单监控和钱包监控资源
func (c *Coordinator) Close() {
	c.Stop()
	c.orders.Close()
	c.monitor.Close()
}

func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// HandleSignal 钱包监控的信号出口，转入当前运行周期的队列
func (c *Coordinator) HandleSignal(ctx context.Context, tx *models.WalletTransaction) error {
	c.mu.RLock()
	q := c.queue
	c.mu.RUnlock()
	if q == nil {
		return ErrNotRunning
	}
	return q.HandleSignal(ctx, tx)
}

// HandleMessage 队列消费入口
func (c *Coordinator) HandleMessage(msg processor.Message) error {
	switch m := msg.(type) {
	case processor.SignalMessage:
		// 停止时队列仍在排空，写库不跟随运行 ctx 取消
		return c.OnTransactionDetected(context.Background(), m.Tx)
	default:
		return fmt.Errorf("unsupported message type %s", msg.Type())
	}
}

func (c *Coordinator) Orders() *order.Manager {
	return c.orders
}

func (c *Coordinator) Monitor() *wallet.Monitor {
	return c.monitor
}

// NotifyNewHead 转发新区块通知给钱包监控
func (c *Coordinator) NotifyNewHead(ch string, block uint64) {
	c.monitor.NotifyNewHead(ch, block)
}

// SystemStatus 系统运行状态
type SystemStatus struct {
	Running             bool                 `json:"running"`
	Mode                models.ExecutionMode `json:"mode"`
	StartedAt           *time.Time           `json:"started_at,omitempty"`
	WatchedWallets      []string             `json:"watched_wallets"`
	FollowedTraders     int                  `json:"followed_traders"`
	Counters            Counters             `json:"counters"`
	QueueDepth          int                  `json:"queue_depth"`
	QueueCapacity       int                  `json:"queue_capacity"`
	ActiveOrders        int                  `json:"active_orders"`
	Orders              order.Stats          `json:"orders"`
	LastPerformanceSync *time.Time           `json:"last_performance_sync,omitempty"`
	LastRetention       *time.Time           `json:"last_retention,omitempty"`
	LastWalletSync      *time.Time           `json:"last_wallet_sync,omitempty"`
	DailyLossUSD        map[string]string    `json:"daily_loss_usd"`
	RecoveredPanics     int64                `json:"recovered_panics"`
}

func (c *Coordinator) GetSystemStatus() SystemStatus {
	c.mu.RLock()
	st := SystemStatus{
		Running:             c.running,
		Mode:                c.cfg.Mode,
		FollowedTraders:     len(c.traders),
		Counters:            c.counters,
		LastPerformanceSync: c.lastPerfRun,
		RecoveredPanics:     goplus.PanicCount(),
	}
	if c.running {
		started := c.startedAt
		st.StartedAt = &started
	}
	q, cl, loader := c.queue, c.cleaner, c.loader
	c.mu.RUnlock()

	if q != nil {
		st.QueueDepth, st.QueueCapacity = q.Size(), q.Cap()
	}
	if cl != nil {
		st.LastRetention = cl.LastRun()
	}
	if loader != nil {
		if t := loader.LastSync(); !t.IsZero() {
			st.LastWalletSync = &t
		}
	}

	st.WatchedWallets = c.monitor.WatchedAddresses()
	st.Orders = c.orders.Stats()
	st.ActiveOrders = st.Orders.Active

	st.DailyLossUSD = make(map[string]string, 3)
	for _, mode := range []models.RiskMode{models.RiskModeConservative, models.RiskModeModerate, models.RiskModeAggressive} {
		st.DailyLossUSD[string(mode)] = c.risk.DailyLoss(mode).StringFixed(2)
	}
	return st
}

// StatusSnapshot 供健康检查 /status 使用
func (c *Coordinator) StatusSnapshot() any {
	return c.GetSystemStatus()
}

func (c *Coordinator) emit(t nats.EventType, traceID string, data any) {
	nats.Emit(c.sink, nats.NewEvent(t, traceID, data))
}
