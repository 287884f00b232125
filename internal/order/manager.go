package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/apperr"
	"github.com/utrading/utrading-copy-trader/internal/cache"
	"github.com/utrading/utrading-copy-trader/internal/chain"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("duplicate in-flight order")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// Listener 订单状态变更通知，回调中拿到的是快照
type Listener interface {
	OnOrderUpdate(order *models.CopyTrade)
}

type ListenerFunc func(order *models.CopyTrade)

func (f ListenerFunc) OnOrderUpdate(order *models.CopyTrade) { f(order) }

type Config struct {
	Timeout         time.Duration
	MaxSlippageBps  int
	MonitorPoolSize int
	HistoryTTL      time.Duration
}

// Request 下单请求
type Request struct {
	WalletID        uint
	WalletAddress   string
	SourceTxHash    string
	TraceID         string
	Chain           string
	DEX             string
	Side            models.TradeAction
	OrderType       models.OrderType
	TokenAddress    string
	TokenIn         string
	TokenOut        string
	AmountUSD       decimal.Decimal
	ExpectedPrice   decimal.Decimal
	LimitPrice      decimal.NullDecimal
	StopPrice       decimal.NullDecimal
	MaxSlippageBps  int
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	Confidence      float64
	RiskScore       float64
}

// Stats 订单统计
type Stats struct {
	Mode           models.ExecutionMode         `json:"mode"`
	Active         int                          `json:"active"`
	History        int                          `json:"history"`
	Day            string                       `json:"day"`
	DailyOrders    int64                        `json:"daily_orders"`
	DailyFilled    int64                        `json:"daily_filled"`
	DailyVolumeUSD decimal.Decimal              `json:"daily_volume_usd"`
	StatusCounts   map[models.OrderStatus]int64 `json:"status_counts"`
}

// Manager 订单生命周期管理
type Manager struct {
	cfg      Config
	backend  SwapBackend
	listener Listener
	pool     *ants.Pool

	mu           sync.Mutex
	active       map[string]*models.CopyTrade
	inflight     map[string]string // wallet|token|source -> order id
	watchers     map[string]context.CancelFunc
	history      *cache.TTLCache[*models.CopyTrade]
	day          string
	dailyOrders  int64
	dailyFilled  int64
	dailyVolume  decimal.Decimal
	statusCounts map[models.OrderStatus]int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewManager listener 可为 nil
func NewManager(cfg Config, backend SwapBackend, listener Listener) (*Manager, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxSlippageBps <= 0 {
		cfg.MaxSlippageBps = 5000
	}
	if cfg.MonitorPoolSize <= 0 {
		cfg.MonitorPoolSize = 256
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = 24 * time.Hour
	}

	pool, err := ants.NewPool(cfg.MonitorPoolSize, ants.WithLogger(logger.NewPrintfLogger(logger.WARN)), ants.WithPanicHandler(func(p any) {
		logger.Error().Interface("panic", p).Msg("order monitor panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("create order monitor pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:          cfg,
		backend:      backend,
		listener:     listener,
		pool:         pool,
		active:       make(map[string]*models.CopyTrade),
		inflight:     make(map[string]string),
		watchers:     make(map[string]context.CancelFunc),
		history:      cache.NewTTLCache[*models.CopyTrade](cfg.HistoryTTL),
		dailyVolume:  decimal.Zero,
		statusCounts: make(map[models.OrderStatus]int64),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
	}, nil
}

func (m *Manager) Mode() models.ExecutionMode {
	return m.backend.Mode()
}

func inflightKey(walletID uint, token, sourceTx string) string {
	return fmt.Sprintf("%d|%s|%s", walletID, strings.ToLower(token), strings.ToLower(sourceTx))
}

// validate 返回第一个不满足的约束
func (m *Manager) validate(req Request) error {
	if !req.AmountUSD.IsPositive() {
		return apperr.Invalid("amount_usd", "must be positive")
	}
	if !chain.IsSupported(req.Chain) {
		return apperr.Invalid("chain", fmt.Sprintf("unsupported chain %q", req.Chain))
	}

	switch req.OrderType {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if !req.LimitPrice.Valid || !req.LimitPrice.Decimal.IsPositive() {
			return apperr.Invalid("limit_price", "required for limit orders")
		}
	case models.OrderTypeStopLoss, models.OrderTypeTakeProfit:
		if !req.StopPrice.Valid || !req.StopPrice.Decimal.IsPositive() {
			return apperr.Invalid("stop_price", "required for stop orders")
		}
	default:
		return apperr.Invalid("order_type", fmt.Sprintf("unknown order type %q", req.OrderType))
	}

	addrs := []struct{ field, value string }{
		{"token_address", req.TokenAddress},
		{"token_in", req.TokenIn},
		{"token_out", req.TokenOut},
	}
	if req.WalletAddress != "" {
		addrs = append(addrs, struct{ field, value string }{"wallet_address", req.WalletAddress})
	}
	for _, a := range addrs {
		if err := chain.ValidateAddress(req.Chain, a.value); err != nil {
			return apperr.Invalid(a.field, err.Error())
		}
	}

	if req.MaxSlippageBps <= 0 || req.MaxSlippageBps > m.cfg.MaxSlippageBps {
		return apperr.Invalid("max_slippage_bps", fmt.Sprintf("must be in (0, %d]", m.cfg.MaxSlippageBps))
	}
	return nil
}

// CreateOrder 校验并创建 PENDING 订单，失败时无副作用
func (m *Manager) CreateOrder(req Request) (*models.CopyTrade, error) {
	if req.OrderType == "" {
		req.OrderType = models.OrderTypeMarket
	}
	if err := m.validate(req); err != nil {
		return nil, err
	}

	now := m.now()
	o := &models.CopyTrade{
		ID:                 uuid.NewString(),
		WalletID:           req.WalletID,
		SourceTxHash:       req.SourceTxHash,
		TraceID:            req.TraceID,
		Mode:               m.backend.Mode(),
		Chain:              req.Chain,
		DEX:                req.DEX,
		Side:               req.Side,
		OrderType:          req.OrderType,
		TokenIn:            req.TokenIn,
		TokenOut:           req.TokenOut,
		TokenAddress:       req.TokenAddress,
		RequestedAmountUSD: req.AmountUSD,
		ExpectedPriceUSD:   req.ExpectedPrice,
		LimitPrice:         req.LimitPrice,
		StopPrice:          req.StopPrice,
		StopLossPrice:      req.StopLossPrice,
		TakeProfitPrice:    req.TakeProfitPrice,
		MaxSlippageBps:     req.MaxSlippageBps,
		Confidence:         req.Confidence,
		RiskScore:          req.RiskScore,
		Status:             models.OrderStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	key := inflightKey(req.WalletID, req.TokenAddress, req.SourceTxHash)

	m.mu.Lock()
	if id, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: order %s already in flight", ErrDuplicateOrder, id)
	}
	m.rollDayLocked(now)
	m.active[o.ID] = o
	m.inflight[key] = o.ID
	m.dailyOrders++
	m.statusCounts[models.OrderStatusPending]++
	snapshot := clone(o)
	activeCount := len(m.active)
	m.mu.Unlock()

	monitor.SetActiveOrders(activeCount)
	monitor.IncOrderStatus(string(o.Mode), string(o.Status))
	log := logger.Trace(req.TraceID)
	log.Info().
		Str("order_id", o.ID).
		Str("chain", o.Chain).
		Str("side", string(o.Side)).
		Str("amount_usd", o.RequestedAmountUSD.String()).
		Msg("order created")

	return snapshot, nil
}

// SubmitOrder PENDING -> SUBMITTED 并同步提交到执行后端
// 提交失败时订单立即置为 FAILED，错误同时返回给调用方
func (m *Manager) SubmitOrder(ctx context.Context, id string) error {
	now := m.now()
	expires := now.Add(m.cfg.Timeout)
	o, err := m.transition(id, models.OrderStatusSubmitted, func(o *models.CopyTrade) {
		o.SubmittedAt = &now
		o.ExpiresAt = &expires
	})
	if err != nil {
		return err
	}

	req := SwapRequest{
		OrderID:       o.ID,
		Chain:         o.Chain,
		DEX:           o.DEX,
		Side:          o.Side,
		TokenIn:       o.TokenIn,
		TokenOut:      o.TokenOut,
		AmountInUSD:   o.RequestedAmountUSD,
		ExpectedPrice: o.ExpectedPriceUSD,
		SlippageBps:   o.MaxSlippageBps,
	}

	submitCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	receipt, err := m.backend.SubmitSwap(submitCtx, req)
	cancel()
	if err != nil {
		m.fail(id, err.Error())
		return fmt.Errorf("dispatch order %s: %w", id, err)
	}

	if _, err := m.transition(id, models.OrderStatusSubmitted, func(o *models.CopyTrade) {
		o.TxHash = receipt.TxHash
	}); err != nil {
		// 提交期间被取消
		return nil
	}

	watchCtx, watchCancel := context.WithDeadline(m.ctx, expires)
	m.mu.Lock()
	m.watchers[id] = watchCancel
	m.mu.Unlock()

	m.wg.Add(1)
	if err := m.pool.Submit(func() {
		defer m.wg.Done()
		m.watch(watchCtx, id, receipt)
	}); err != nil {
		m.wg.Done()
		watchCancel()
		m.fail(id, "execution monitor unavailable: "+err.Error())
		return fmt.Errorf("schedule monitor for order %s: %w", id, err)
	}
	return nil
}

// watch 等待成交结果，超时置为 EXPIRED
func (m *Manager) watch(ctx context.Context, id string, receipt *SwapReceipt) {
	defer m.dropWatcher(id)

	res, err := m.backend.WaitSwap(ctx, receipt, func(partial *SwapResult) {
		if _, err := m.transition(id, models.OrderStatusPartiallyFilled, func(o *models.CopyTrade) {
			applyFill(o, partial)
		}); err != nil {
			logger.Debug().Err(err).Str("order_id", id).Msg("partial fill ignored")
		}
	})

	switch {
	case err == nil:
	case m.ctx.Err() != nil:
		logger.Warn().Str("order_id", id).Msg("order manager closing, stop watching order")
		return
	case errors.Is(err, context.DeadlineExceeded):
		_, _ = m.transition(id, models.OrderStatusExpired, func(o *models.CopyTrade) {
			o.Error = fmt.Sprintf("not confirmed within %s", m.cfg.Timeout)
		})
		return
	case errors.Is(err, context.Canceled):
		return
	default:
		m.fail(id, err.Error())
		return
	}

	switch res.Status {
	case SwapConfirmed:
		_, err = m.transition(id, models.OrderStatusFilled, func(o *models.CopyTrade) {
			applyFill(o, res)
		})
	case SwapFailed:
		_, err = m.transition(id, models.OrderStatusFailed, func(o *models.CopyTrade) {
			applyFill(o, res)
			o.Error = res.Error
		})
	default:
		err = fmt.Errorf("%w: backend returned non-final swap status %q", ErrInvalidTransition, res.Status)
	}
	if err != nil {
		m.expireIfActive(id, err.Error())
	}
}

// expireIfActive 无法落到成交结果时置为 EXPIRED，保证监控结束后订单已终结
func (m *Manager) expireIfActive(id, reason string) {
	m.mu.Lock()
	_, active := m.active[id]
	m.mu.Unlock()
	if !active {
		return
	}
	logger.Warn().Str("order_id", id).Str("reason", reason).Msg("swap result not applicable, expiring order")
	if _, err := m.transition(id, models.OrderStatusExpired, func(o *models.CopyTrade) {
		o.Error = reason
	}); err != nil {
		logger.Debug().Err(err).Str("order_id", id).Msg("expire order ignored")
	}
}

func (m *Manager) dropWatcher(id string) {
	m.mu.Lock()
	if cancel, ok := m.watchers[id]; ok {
		cancel()
		delete(m.watchers, id)
	}
	m.mu.Unlock()
}

func (m *Manager) fail(id, reason string) {
	if _, err := m.transition(id, models.OrderStatusFailed, func(o *models.CopyTrade) {
		o.Error = reason
	}); err != nil {
		m.expireIfActive(id, reason)
	}
}

// CancelOrder 取消未终结的订单
func (m *Manager) CancelOrder(id string) error {
	if _, err := m.transition(id, models.OrderStatusCancelled, nil); err != nil {
		return err
	}
	m.dropWatcher(id)
	return nil
}

// transition 在锁内迁移状态并在锁外通知监听者
// 相同状态且没有 mutate 时为空操作
func (m *Manager) transition(id string, to models.OrderStatus, mutate func(o *models.CopyTrade)) (*models.CopyTrade, error) {
	m.mu.Lock()
	o, ok := m.active[id]
	if !ok {
		_, inHistory := m.history.Get(id)
		m.mu.Unlock()
		if inHistory {
			return nil, fmt.Errorf("%w: order %s already terminal", ErrInvalidTransition, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	from := o.Status
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from == to && mutate == nil {
		snapshot := clone(o)
		m.mu.Unlock()
		return snapshot, nil
	}

	now := m.now()
	m.rollDayLocked(now)
	o.Status = to
	if mutate != nil {
		mutate(o)
	}
	o.UpdatedAt = now
	if from != to {
		m.statusCounts[to]++
	}
	if to.IsTerminal() {
		o.CompletedAt = &now
		delete(m.active, id)
		delete(m.inflight, inflightKey(o.WalletID, o.TokenAddress, o.SourceTxHash))
		m.history.Set(id, o)
		if to == models.OrderStatusFilled {
			m.dailyFilled++
			m.dailyVolume = m.dailyVolume.Add(o.FilledAmountUSD)
		}
	}
	snapshot := clone(o)
	activeCount := len(m.active)
	m.mu.Unlock()

	if from != to {
		monitor.IncOrderStatus(string(snapshot.Mode), string(to))
		monitor.SetActiveOrders(activeCount)
		if to == models.OrderStatusFilled {
			volume, _ := snapshot.FilledAmountUSD.Float64()
			monitor.AddOrderVolume(volume)
		}
	}

	log := logger.Trace(snapshot.TraceID)
	log.Info().
		Str("order_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("tx_hash", snapshot.TxHash).
		Str("error", snapshot.Error).
		Msg("order status changed")

	if m.listener != nil {
		m.listener.OnOrderUpdate(snapshot)
	}
	return snapshot, nil
}

func applyFill(o *models.CopyTrade, res *SwapResult) {
	o.FilledAmountUSD = res.FilledUSD
	o.AmountOut = res.AmountOut
	o.ExecutionPriceUSD = res.ExecutionPrice
	o.FeeUSD = res.FeeUSD
	o.GasUsed = res.GasUsed
	o.SlippageBps = res.SlippageBps
}

// rollDayLocked UTC 跨日时重置当日计数
func (m *Manager) rollDayLocked(now time.Time) {
	day := models.DayOf(now)
	if day == m.day {
		return
	}
	m.day = day
	m.dailyOrders = 0
	m.dailyFilled = 0
	m.dailyVolume = decimal.Zero
}

// GetOrder 查询活跃或历史订单
func (m *Manager) GetOrder(id string) (*models.CopyTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.active[id]; ok {
		return clone(o), nil
	}
	if o, ok := m.history.Get(id); ok {
		return clone(o), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}

// GetActiveOrders 按创建时间排序的未终结订单
func (m *Manager) GetActiveOrders() []*models.CopyTrade {
	m.mu.Lock()
	out := make([]*models.CopyTrade, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, clone(o))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(m.now())

	counts := make(map[models.OrderStatus]int64, len(m.statusCounts))
	for k, v := range m.statusCounts {
		counts[k] = v
	}
	return Stats{
		Mode:           m.backend.Mode(),
		Active:         len(m.active),
		History:        m.history.Len(),
		Day:            m.day,
		DailyOrders:    m.dailyOrders,
		DailyFilled:    m.dailyFilled,
		DailyVolumeUSD: m.dailyVolume,
		StatusCounts:   counts,
	}
}

// Close 停止所有成交监控并释放协程池，未终结订单保持原状态
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
	m.pool.Release()
}

func clone(o *models.CopyTrade) *models.CopyTrade {
	c := *o
	return &c
}
