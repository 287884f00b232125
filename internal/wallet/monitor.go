package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/utrading/utrading-copy-trader/internal/chain"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/pkg/concurrent"
	"github.com/utrading/utrading-copy-trader/pkg/goplus"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

var ErrMonitorClosed = errors.New("wallet monitor closed")

// SignalSink 接收通过准入过滤的交易
type SignalSink interface {
	HandleSignal(ctx context.Context, tx *models.WalletTransaction) error
}

type Config struct {
	PollInterval     time.Duration
	MaxBackoff       time.Duration
	FetchTimeout     time.Duration // 单次链上请求超时
	FetchConcurrency int
	Filter           FilterConfig
}

// Target 待监控的钱包及其链
type Target struct {
	Address string
	Chains  []string
}

// task 单个钱包的监控协程状态
type task struct {
	address string

	mu         sync.Mutex
	chains     map[string]struct{}
	watermarks map[string]uint64

	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

func (t *task) chainList() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := make([]string, 0, len(t.chains))
	for ch := range t.chains {
		list = append(list, ch)
	}
	sort.Strings(list)
	return list
}

func (t *task) hasChain(ch string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.chains[ch]
	return ok
}

func (t *task) watermark(ch string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wm, ok := t.watermarks[ch]
	return wm, ok
}

// advance 水位只增不减，已移除的链忽略
func (t *task) advance(ch string, block uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.chains[ch]; !ok {
		return
	}
	if cur, ok := t.watermarks[ch]; !ok || block > cur {
		t.watermarks[ch] = block
	}
}

func (t *task) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Monitor 轮询跟单钱包的链上交易，每个钱包一个协程
type Monitor struct {
	provider chain.DataProvider
	sink     SignalSink
	cfg      Config
	pool     *ants.Pool
	tasks    concurrent.Map[string, *task]
	wg       *goplus.WaitGroup
	closed   atomic.Bool
}

func NewMonitor(provider chain.DataProvider, sink SignalSink, cfg Config) (*Monitor, error) {
	if provider == nil || sink == nil {
		return nil, errors.New("wallet monitor requires provider and sink")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.MaxBackoff < cfg.PollInterval {
		cfg.MaxBackoff = cfg.PollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}

	pool, err := ants.NewPool(cfg.FetchConcurrency, ants.WithLogger(logger.NewPrintfLogger(logger.WARN)), ants.WithPanicHandler(func(p any) {
		logger.Error().Interface("panic", p).Msg("wallet fetch panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("create fetch pool: %w", err)
	}

	return &Monitor{
		provider: provider,
		sink:     sink,
		cfg:      cfg,
		pool:     pool,
		wg:       goplus.NewWaitGroup(),
	}, nil
}

// StartMonitoring 为尚未监控的钱包启动任务，已监控的钱包合并链
func (m *Monitor) StartMonitoring(targets []Target) error {
	var errs []error
	for _, t := range targets {
		if err := m.AddWallet(t.Address, t.Chains...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddWallet 开始监控钱包，已存在时追加链
func (m *Monitor) AddWallet(address string, chains ...string) error {
	if m.closed.Load() {
		return ErrMonitorClosed
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("empty wallet address")
	}
	if len(chains) == 0 {
		return fmt.Errorf("wallet %s: no chains to monitor", address)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		address:    address,
		chains:     make(map[string]struct{}, len(chains)),
		watermarks: make(map[string]uint64),
		cancel:     cancel,
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
	for _, ch := range chains {
		t.chains[ch] = struct{}{}
	}

	existing, loaded := m.tasks.LoadOrStore(address, t)
	if loaded {
		cancel()
		existing.mu.Lock()
		added := 0
		for _, ch := range chains {
			if _, ok := existing.chains[ch]; !ok {
				existing.chains[ch] = struct{}{}
				added++
			}
		}
		existing.mu.Unlock()
		if added > 0 {
			existing.notify()
			logger.Info().Str("address", address).Strs("chains", chains).Msg("wallet chains merged")
		}
		return nil
	}

	m.wg.Go(func() {
		m.run(ctx, t)
	})
	monitor.SetWalletsWatched(int(m.tasks.Len()))
	logger.Info().Str("address", address).Strs("chains", chains).Msg("wallet monitoring started")
	return nil
}

// RemoveChain 停止监控钱包的某条链，链为空时停止整个任务
func (m *Monitor) RemoveChain(address, ch string) {
	t, ok := m.tasks.Load(address)
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.chains, ch)
	delete(t.watermarks, ch)
	empty := len(t.chains) == 0
	t.mu.Unlock()

	if empty {
		m.StopMonitoring(address)
	}
}

// StopMonitoring 取消钱包任务并等待其退出，之后不再产生信号
func (m *Monitor) StopMonitoring(address string) bool {
	t, ok := m.tasks.LoadAndDelete(address)
	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	monitor.SetWalletsWatched(int(m.tasks.Len()))
	logger.Info().Str("address", address).Msg("wallet monitoring stopped")
	return true
}

func (m *Monitor) RemoveWallet(address string) bool {
	return m.StopMonitoring(address)
}

// StopAll 停止全部钱包任务
func (m *Monitor) StopAll() {
	for _, addr := range m.WatchedAddresses() {
		m.StopMonitoring(addr)
	}
	m.wg.Wait()
}

// Close 停止全部任务并释放协程池
func (m *Monitor) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.StopAll()
	m.pool.Release()
}

// WatchedAddresses 当前监控的钱包地址（有序）
func (m *Monitor) WatchedAddresses() []string {
	return concurrent.SortedKeys(&m.tasks)
}

func (m *Monitor) IsWatching(address string) bool {
	_, ok := m.tasks.Load(address)
	return ok
}

func (m *Monitor) IsWatchingChain(address, ch string) bool {
	t, ok := m.tasks.Load(address)
	return ok && t.hasChain(ch)
}

// Watermark 钱包在指定链上已处理到的区块
func (m *Monitor) Watermark(address, ch string) (uint64, bool) {
	t, ok := m.tasks.Load(address)
	if !ok {
		return 0, false
	}
	return t.watermark(ch)
}

// NotifyNewHead 新区块到达时提前唤醒监控该链的任务
func (m *Monitor) NotifyNewHead(ch string, _ uint64) {
	m.tasks.Range(func(_ string, t *task) bool {
		if t.hasChain(ch) {
			t.notify()
		}
		return true
	})
}

func (m *Monitor) Stats() map[string]any {
	return map[string]any{
		"wallets":      m.tasks.Len(),
		"goroutines":   m.wg.CurrentGoCount.Load(),
		"pool_running": m.pool.Running(),
		"pool_cap":     m.pool.Cap(),
	}
}

// backoff 连续失败时的等待时间，按轮询间隔指数增长
func (m *Monitor) backoff(failures int) time.Duration {
	wait := m.cfg.PollInterval
	for i := 0; i < failures && wait < m.cfg.MaxBackoff; i++ {
		wait *= 2
	}
	if wait > m.cfg.MaxBackoff {
		wait = m.cfg.MaxBackoff
	}
	return wait
}

func (m *Monitor) run(ctx context.Context, t *task) {
	defer close(t.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-t.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		healthy := m.tick(ctx, t)
		if ctx.Err() != nil {
			return
		}

		wait := m.cfg.PollInterval
		if healthy {
			failures = 0
		} else {
			failures++
			wait = m.backoff(failures)
			logger.Warn().
				Str("address", t.address).
				Int("failures", failures).
				Dur("wait", wait).
				Msg("all chains failed, backing off")
		}
		timer.Reset(wait)
	}
}

type fetchResult struct {
	chain    string
	txs      []chain.RawTransaction
	maxBlock uint64
	err      error
}

// tick 拉取所有链的新交易并发出信号，返回是否至少一条链成功
func (m *Monitor) tick(ctx context.Context, t *task) bool {
	chains := t.chainList()
	if len(chains) == 0 {
		return true
	}

	results := make([]fetchResult, len(chains))
	var wg sync.WaitGroup
	for i, ch := range chains {
		wg.Add(1)
		err := m.pool.Submit(func() {
			defer wg.Done()
			results[i] = m.fetchChain(t, ch)
		})
		if err != nil {
			wg.Done()
			results[i] = fetchResult{chain: ch, err: err}
		}
	}
	wg.Wait()

	var merged []chain.RawTransaction
	succeeded := 0
	for _, r := range results {
		if r.err != nil {
			monitor.IncProviderError(r.chain)
			logger.Warn().Err(r.err).
				Str("address", t.address).
				Str("chain", r.chain).
				Msg("fetch transactions failed")
			continue
		}
		succeeded++
		merged = append(merged, r.txs...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.LogIndex < b.LogIndex
	})

	for i := range merged {
		if ctx.Err() != nil {
			return succeeded > 0
		}
		raw := &merged[i]
		if wm, ok := t.watermark(raw.Chain); ok && raw.BlockNumber <= wm {
			continue
		}
		if ok, reason := m.cfg.Filter.Admit(raw); !ok {
			monitor.IncSignalFiltered(reason)
			logger.Debug().
				Str("address", t.address).
				Str("tx_hash", raw.Hash).
				Str("reason", reason).
				Msg("transaction filtered")
			continue
		}

		monitor.IncSignalDetected(raw.Chain)
		if err := m.sink.HandleSignal(ctx, toWalletTransaction(t.address, raw)); err != nil {
			if ctx.Err() != nil {
				return succeeded > 0
			}
			logger.Error().Err(err).
				Str("address", t.address).
				Str("tx_hash", raw.Hash).
				Msg("emit signal failed")
		}
	}

	if ctx.Err() != nil {
		return succeeded > 0
	}
	for _, r := range results {
		if r.err == nil && r.maxBlock > 0 {
			t.advance(r.chain, r.maxBlock)
		}
	}
	return succeeded > 0
}

// fetchChain 单链拉取，首次只初始化水位不回溯历史
func (m *Monitor) fetchChain(t *task, ch string) fetchResult {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout)
	defer cancel()

	wm, ok := t.watermark(ch)
	if !ok {
		head, err := m.provider.GetCurrentBlock(ctx, ch)
		if err != nil {
			return fetchResult{chain: ch, err: fmt.Errorf("get current block: %w", err)}
		}
		logger.Debug().Str("address", t.address).Str("chain", ch).Uint64("block", head).Msg("watermark initialized")
		return fetchResult{chain: ch, maxBlock: head}
	}

	txs, err := m.provider.GetTransactions(ctx, t.address, ch, wm+1)
	if err != nil {
		return fetchResult{chain: ch, err: err}
	}
	r := fetchResult{chain: ch, txs: txs}
	for i := range txs {
		if txs[i].Chain == "" {
			txs[i].Chain = ch
		}
		if txs[i].BlockNumber > r.maxBlock {
			r.maxBlock = txs[i].BlockNumber
		}
	}
	return r
}

func toWalletTransaction(address string, raw *chain.RawTransaction) *models.WalletTransaction {
	return &models.WalletTransaction{
		TxHash:        raw.Hash,
		WalletAddress: address,
		Chain:         raw.Chain,
		BlockNumber:   raw.BlockNumber,
		LogIndex:      raw.LogIndex,
		Timestamp:     raw.Timestamp,
		TokenAddress:  raw.TokenAddress,
		TokenSymbol:   raw.TokenSymbol,
		QuoteToken:    raw.QuoteToken,
		PairAddress:   raw.PairAddress,
		DEX:           raw.DEX,
		Action:        raw.Action,
		AmountToken:   raw.AmountToken,
		AmountUSD:     raw.AmountUSD,
		PriceUSD:      raw.PriceUSD,
		GasUsed:       raw.GasUsed,
		GasFeeUSD:     raw.GasFeeUSD,
		IsMEV:         raw.IsMEV,
	}
}
