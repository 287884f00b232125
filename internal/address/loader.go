package address

import (
	"context"
	"sync"
	"time"

	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/pkg/goplus"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// WalletSource 持久化的 active 钱包来源，dao.WalletDAO 实现该接口
type WalletSource interface {
	ListActive(ctx context.Context) ([]*models.TrackedWallet, error)
}

// TraderSyncer 接收钱包变更的一方（跟单协调器）
type TraderSyncer interface {
	SyncTrader(w *models.TrackedWallet) error
	DropTrader(address, chain string) error
}

// walletKey 钱包在同一条链上唯一
type walletKey struct {
	address string
	chain   string
}

// WalletLoader 周期性地把数据库中的 active 钱包同步给协调器
// 从数据库消失的钱包在宽限期后才移除，避免误删
type WalletLoader struct {
	source        WalletSource
	syncer        TraderSyncer
	interval      time.Duration
	removeGrace   time.Duration
	timeout       time.Duration
	lastWallets   map[walletKey]bool
	pendingRemove map[walletKey]time.Time // 待移除钱包 → 发现消失的时间
	lastSync      time.Time
	now           func() time.Time
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWalletLoader 创建钱包加载器
func NewWalletLoader(source WalletSource, syncer TraderSyncer, interval, removeGrace time.Duration) *WalletLoader {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WalletLoader{
		source:        source,
		syncer:        syncer,
		interval:      interval,
		removeGrace:   removeGrace,
		timeout:       30 * time.Second,
		lastWallets:   make(map[walletKey]bool),
		pendingRemove: make(map[walletKey]time.Time),
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start 同步一次后启动周期任务
func (l *WalletLoader) Start() error {
	if err := l.Sync(); err != nil {
		return err
	}

	goplus.Go(func() {
		l.periodicReload()
	})
	return nil
}

func (l *WalletLoader) periodicReload() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.Sync(); err != nil {
				logger.Error().Err(err).Msg("wallet reload failed")
			}
		}
	}
}

// Sync 加载 active 钱包并与上次结果对比
func (l *WalletLoader) Sync() error {
	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()

	wallets, err := l.source.ListActive(ctx)
	if err != nil {
		return err
	}

	current := make(map[walletKey]bool, len(wallets))
	for _, w := range wallets {
		current[walletKey{address: w.Address, chain: w.Chain}] = true
	}

	now := l.now()

	l.mu.Lock()

	var added int
	var toDrop []walletKey
	var recoveredCount int

	for key := range current {
		if !l.lastWallets[key] {
			added++
		}
		// 钱包恢复：从 pending 中移除
		if _, pending := l.pendingRemove[key]; pending {
			delete(l.pendingRemove, key)
			recoveredCount++
		}
	}

	// 消失的钱包：上次存在但本次不存在
	for key := range l.lastWallets {
		if !current[key] {
			if _, pending := l.pendingRemove[key]; !pending {
				l.pendingRemove[key] = now
			}
		}
	}

	// 检查宽限期到期的钱包
	for key, since := range l.pendingRemove {
		if now.Sub(since) >= l.removeGrace {
			toDrop = append(toDrop, key)
			delete(l.pendingRemove, key)
		}
	}
	pendingCount := len(l.pendingRemove)

	// lastWallets: 数据库钱包 + 仍在宽限期内的钱包
	l.lastWallets = current
	for key := range l.pendingRemove {
		l.lastWallets[key] = true
	}
	l.lastSync = now

	l.mu.Unlock()

	// 配置可能在库中被修改，每轮都同步
	for _, w := range wallets {
		if err = l.syncer.SyncTrader(w); err != nil {
			logger.Error().Err(err).
				Str("address", w.Address).
				Str("chain", w.Chain).
				Msg("sync trader failed")
		}
	}

	for _, key := range toDrop {
		if err = l.syncer.DropTrader(key.address, key.chain); err != nil {
			logger.Error().Err(err).
				Str("address", key.address).
				Str("chain", key.chain).
				Msg("drop trader failed")
		} else {
			logger.Info().
				Str("address", key.address).
				Str("chain", key.chain).
				Msg("dropped trader (grace expired)")
		}
	}

	if recoveredCount > 0 {
		logger.Info().Int("recovered", recoveredCount).Msg("wallets recovered from pending removal")
	}

	logger.Info().
		Int("total", len(wallets)).
		Int("added", added).
		Int("dropped", len(toDrop)).
		Int("pending_remove", pendingCount).
		Msg("wallet sync completed")
	return nil
}

// Forget 立即移除钱包，不经过宽限期（协调器主动删除时调用）
func (l *WalletLoader) Forget(address, chain string) {
	key := walletKey{address: address, chain: chain}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lastWallets, key)
	delete(l.pendingRemove, key)
}

// LastSync 最近一次同步时间
func (l *WalletLoader) LastSync() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSync
}

// PendingRemovals 宽限期内待移除的钱包数
func (l *WalletLoader) PendingRemovals() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pendingRemove)
}

// Stop 停止加载器
func (l *WalletLoader) Stop() {
	l.cancel()
}
