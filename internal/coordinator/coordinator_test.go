package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/utrading/utrading-copy-trader/config"
	"github.com/utrading/utrading-copy-trader/internal/apperr"
	"github.com/utrading/utrading-copy-trader/internal/chain"
	"github.com/utrading/utrading-copy-trader/internal/dao"
	"github.com/utrading/utrading-copy-trader/internal/market"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/nats"
	"github.com/utrading/utrading-copy-trader/internal/order"
	"github.com/utrading/utrading-copy-trader/internal/risk"
	"github.com/utrading/utrading-copy-trader/internal/wallet"
)

const (
	traderAddr = "0xabcdef2222222222222222222222222222222222"
	tokenAddr  = "0x1111111111111111111111111111111111111111"
	quoteAddr  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

type stubProvider struct{}

func (stubProvider) GetCurrentBlock(context.Context, string) (uint64, error) {
	return 100, nil
}

func (stubProvider) GetTransactions(context.Context, string, string, uint64) ([]chain.RawTransaction, error) {
	return nil, nil
}

// evmOnlyProvider 只配置了 EVM 链端点的数据源
type evmOnlyProvider struct{ stubProvider }

func (evmOnlyProvider) Supports(ch string) bool {
	return ch != "solana"
}

type stubMarket struct{}

func (stubMarket) Snapshot(_ context.Context, ch, token string) (*market.Snapshot, error) {
	return &market.Snapshot{
		Chain:         ch,
		Token:         token,
		PriceUSD:      decimal.NewFromInt(2),
		LiquidityUSD:  decimal.NewFromInt(100_000),
		PairCreatedAt: time.Now().Add(-60 * 24 * time.Hour),
	}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*nats.Event
}

func (r *eventRecorder) PublishEvent(e *nats.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) count(t nats.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func setupStore(t *testing.T) *dao.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.TrackedWallet{},
		&models.WalletTransaction{},
		&models.CopyTrade{},
		&models.DailyMetric{},
	))
	return dao.New(db)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *dao.Store, *eventRecorder) {
	t.Helper()
	store := setupStore(t)
	sink := &eventRecorder{}
	c, err := New(Config{
		Mode:                    models.ModePaper,
		PortfolioValueUSD:       decimal.NewFromInt(10000),
		MaxRiskScore:            70,
		NormalTradeSizeUSD:      5000,
		QueueSize:               16,
		PerformanceSyncInterval: time.Hour,
		WalletReloadInterval:    time.Hour,
		WalletRemoveGrace:       time.Hour,
		Monitor:                 wallet.Config{PollInterval: time.Hour},
		Order:                   order.Config{Timeout: 5 * time.Second},
	}, Deps{
		Store:    store,
		Provider: stubProvider{},
		Market:   stubMarket{},
		Risk:     risk.NewManagerFromConfig(config.Default()),
		Backend:  order.NewPaperBackend(30, 50),
		Sink:     sink,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, store, sink
}

func traderConfig() models.TraderConfig {
	return models.TraderConfig{
		CopyMode:         models.CopyModePercentage,
		CopyPercentage:   decimal.NewFromInt(5),
		MaxPositionUSD:   decimal.NewFromInt(1000),
		MinTradeValueUSD: decimal.NewFromInt(50),
		MaxSlippageBps:   300,
	}
}

func swapTx(hash string, action models.TradeAction, amountUSD int64) *models.WalletTransaction {
	return &models.WalletTransaction{
		TxHash:        hash,
		WalletAddress: traderAddr,
		Chain:         "ethereum",
		BlockNumber:   101,
		Timestamp:     time.Now(),
		TokenAddress:  tokenAddr,
		TokenSymbol:   "TKN",
		QuoteToken:    quoteAddr,
		PairAddress:   "0x3333333333333333333333333333333333333333",
		DEX:           "uniswap_v2",
		Action:        action,
		AmountUSD:     decimal.NewFromInt(amountUSD),
		PriceUSD:      decimal.NewFromInt(2),
	}
}

func TestValidateTraderConfig(t *testing.T) {
	fixed := func(v int64) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.NewFromInt(v)) }

	tests := []struct {
		name   string
		mutate func(c *models.TraderConfig)
		field  string
	}{
		{"valid", func(c *models.TraderConfig) {}, ""},
		{"unknown mode", func(c *models.TraderConfig) { c.CopyMode = "mirror" }, "copy_mode"},
		{"zero percentage", func(c *models.TraderConfig) { c.CopyPercentage = decimal.Zero }, "copy_percentage"},
		{"percentage over 100", func(c *models.TraderConfig) { c.CopyPercentage = decimal.NewFromInt(101) }, "copy_percentage"},
		{"zero max position", func(c *models.TraderConfig) { c.MaxPositionUSD = decimal.Zero }, "max_position_usd"},
		{"negative min trade", func(c *models.TraderConfig) { c.MinTradeValueUSD = decimal.NewFromInt(-1) }, "min_trade_value_usd"},
		{"min trade above max", func(c *models.TraderConfig) { c.MinTradeValueUSD = decimal.NewFromInt(2000) }, "min_trade_value_usd"},
		{"slippage zero", func(c *models.TraderConfig) { c.MaxSlippageBps = 0 }, "max_slippage_bps"},
		{"slippage too high", func(c *models.TraderConfig) { c.MaxSlippageBps = 5001 }, "max_slippage_bps"},
		{"fixed without amount", func(c *models.TraderConfig) { c.CopyMode = models.CopyModeFixedAmount }, "fixed_amount_usd"},
		{"fixed above max", func(c *models.TraderConfig) {
			c.CopyMode = models.CopyModeFixedAmount
			c.FixedAmountUSD = fixed(5000)
		}, "fixed_amount_usd"},
		{"fixed valid", func(c *models.TraderConfig) {
			c.CopyMode = models.CopyModeFixedAmount
			c.CopyPercentage = decimal.Zero
			c.FixedAmountUSD = fixed(100)
		}, ""},
		{"buy and sell only", func(c *models.TraderConfig) {
			c.CopyBuyOnly = true
			c.CopySellOnly = true
		}, "copy_buy_only"},
		{"unsupported chain", func(c *models.TraderConfig) { c.AllowedChains = []string{"ethereum", "tron"} }, "allowed_chains"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := traderConfig()
			tt.mutate(&cfg)
			err := ValidateTraderConfig(cfg)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestAddTrader(t *testing.T) {
	c, store, sink := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.AddTrader(ctx, traderAddr, "tron", traderConfig(), TraderOptions{})
	assert.True(t, apperr.IsValidation(err))

	_, err = c.AddTrader(ctx, "0x1234", "ethereum", traderConfig(), TraderOptions{})
	assert.True(t, apperr.IsValidation(err))

	_, err = c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{RiskMode: "yolo"})
	assert.True(t, apperr.IsValidation(err))

	w, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{Label: "whale"})
	require.NoError(t, err)
	assert.NotZero(t, w.ID)
	assert.Equal(t, models.RiskModeModerate, w.RiskMode)
	assert.Equal(t, 1, sink.count(nats.EventTraderAdded))

	// 地址大小写不同视为同一交易员
	_, err = c.AddTrader(ctx, "0x"+strings.ToUpper(traderAddr[2:]), "ethereum", traderConfig(), TraderOptions{})
	assert.True(t, errors.Is(err, ErrTraderExists))

	// 同一地址的其他链可以单独跟随
	_, err = c.AddTrader(ctx, traderAddr, "base", traderConfig(), TraderOptions{})
	require.NoError(t, err)

	list, err := store.Wallets().ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Len(t, c.Traders(), 2)
}

func TestAddTrader_ChainWithoutProvider(t *testing.T) {
	c, err := New(Config{Mode: models.ModePaper, Monitor: wallet.Config{PollInterval: time.Hour}}, Deps{
		Store:    setupStore(t),
		Provider: evmOnlyProvider{},
		Market:   stubMarket{},
		Risk:     risk.NewManagerFromConfig(config.Default()),
		Backend:  order.NewPaperBackend(0, 0),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	ctx := context.Background()

	_, err = c.AddTrader(ctx, "So11111111111111111111111111111111111111112", "solana", traderConfig(), TraderOptions{})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "no data provider")
	assert.Empty(t, c.Traders())

	_, err = c.AddTrader(ctx, traderAddr, "base", traderConfig(), TraderOptions{})
	require.NoError(t, err)
	assert.Len(t, c.Traders(), 1)
}

func TestRemoveAndUpdateTrader(t *testing.T) {
	c, store, sink := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.Start())

	_, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{})
	require.NoError(t, err)
	assert.True(t, c.Monitor().IsWatchingChain(traderAddr, "ethereum"))

	paused := models.WalletStatusPaused
	w, err := c.UpdateTrader(ctx, traderAddr, "ethereum", TraderUpdate{Status: &paused})
	require.NoError(t, err)
	assert.Equal(t, models.WalletStatusPaused, w.Status)
	assert.False(t, c.Monitor().IsWatching(traderAddr))
	assert.Equal(t, 1, sink.count(nats.EventTraderUpdated))

	active := models.WalletStatusActive
	label := "resumed"
	w, err = c.UpdateTrader(ctx, traderAddr, "ethereum", TraderUpdate{Status: &active, Label: &label})
	require.NoError(t, err)
	assert.Equal(t, "resumed", w.Label)
	assert.True(t, c.Monitor().IsWatchingChain(traderAddr, "ethereum"))

	bad := traderConfig()
	bad.MaxSlippageBps = 0
	_, err = c.UpdateTrader(ctx, traderAddr, "ethereum", TraderUpdate{Config: &bad})
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, c.RemoveTrader(ctx, traderAddr, "ethereum"))
	assert.False(t, c.Monitor().IsWatching(traderAddr))
	assert.Empty(t, c.Traders())
	_, err = store.Wallets().Get(ctx, traderAddr, "ethereum")
	assert.True(t, errors.Is(err, dao.ErrWalletNotFound))

	err = c.RemoveTrader(ctx, traderAddr, "ethereum")
	assert.True(t, errors.Is(err, ErrTraderNotFound))
	_, err = c.UpdateTrader(ctx, traderAddr, "ethereum", TraderUpdate{Label: &label})
	assert.True(t, errors.Is(err, ErrTraderNotFound))
}

func TestOnTransactionDetected_AtMostOnce(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{})
	require.NoError(t, err)

	require.NoError(t, c.OnTransactionDetected(ctx, swapTx("0xdup", models.ActionBuy, 30)))
	require.NoError(t, c.OnTransactionDetected(ctx, swapTx("0xdup", models.ActionBuy, 30)))

	n, err := store.Transactions().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tx, err := store.Transactions().Get(ctx, "0xdup")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.True(t, tx.Processed)
	assert.False(t, tx.Eligible)
	assert.Equal(t, "INSUFFICIENT_BALANCE", tx.DecisionReason)

	st := c.GetSystemStatus()
	assert.Equal(t, int64(1), st.Counters.Detected)
	assert.Equal(t, int64(1), st.Counters.Duplicates)
	assert.Equal(t, int64(1), st.Counters.Processed)
	assert.Equal(t, int64(1), st.Counters.Skipped)
}

func TestOnTransactionDetected_UntrackedWallet(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.OnTransactionDetected(ctx, swapTx("0xstray", models.ActionBuy, 5000)))

	n, err := store.Transactions().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOnTransactionDetected_CopyIsFilled(t *testing.T) {
	c, store, sink := newTestCoordinator(t)
	ctx := context.Background()

	w, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{})
	require.NoError(t, err)

	require.NoError(t, c.OnTransactionDetected(ctx, swapTx("0xcopy", models.ActionBuy, 5000)))

	require.Eventually(t, func() bool {
		trades, err := store.CopyTrades().ListBySourceTx(ctx, "0xcopy")
		return err == nil && len(trades) == 1 && trades[0].Status == models.OrderStatusFilled
	}, 3*time.Second, 20*time.Millisecond)

	trades, err := store.CopyTrades().ListBySourceTx(ctx, "0xcopy")
	require.NoError(t, err)
	o := trades[0]
	assert.Equal(t, w.ID, o.WalletID)
	assert.Equal(t, models.ModePaper, o.Mode)
	assert.Equal(t, quoteAddr, o.TokenIn)
	assert.Equal(t, tokenAddr, o.TokenOut)
	assert.True(t, decimal.NewFromInt(500).Equal(o.RequestedAmountUSD), "got %s", o.RequestedAmountUSD)
	assert.True(t, o.AmountOut.IsPositive())
	assert.False(t, o.PnLUSD.Valid)
	assert.Equal(t, order.PaperTxHash(o.ID), o.TxHash)

	tx, err := store.Transactions().Get(ctx, "0xcopy")
	require.NoError(t, err)
	assert.True(t, tx.Eligible)
	assert.Equal(t, "APPROVED", tx.DecisionReason)

	require.Eventually(t, func() bool {
		return c.GetSystemStatus().Counters.OrdersFilled == 1
	}, 3*time.Second, 20*time.Millisecond)
	st := c.GetSystemStatus()
	assert.Equal(t, int64(1), st.Counters.Copied)
	assert.Equal(t, int64(1), st.Counters.OrdersSubmitted)
	assert.Equal(t, 1, sink.count(nats.EventTransactionDetected))

	qty, cost, ok := c.positions.Position(w.ID, tokenAddr)
	require.True(t, ok)
	assert.True(t, qty.IsPositive())
	assert.True(t, decimal.NewFromInt(500).Equal(cost))
}

func TestOnOrderUpdate_StaleAndLoss(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	w, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{})
	require.NoError(t, err)

	buy := &models.CopyTrade{
		ID:                "order-buy",
		WalletID:          w.ID,
		SourceTxHash:      "0xb",
		Mode:              models.ModePaper,
		Chain:             "ethereum",
		Side:              models.ActionBuy,
		OrderType:         models.OrderTypeMarket,
		TokenIn:           quoteAddr,
		TokenOut:          tokenAddr,
		TokenAddress:      tokenAddr,
		FilledAmountUSD:   decimal.NewFromInt(100),
		AmountOut:         decimal.NewFromInt(50),
		ExecutionPriceUSD: decimal.NewFromInt(2),
		Status:            models.OrderStatusFilled,
	}
	c.OnOrderUpdate(buy)

	// 终态之后到达的 submitted 回调不得覆盖
	late := *buy
	late.Status = models.OrderStatusSubmitted
	c.OnOrderUpdate(&late)

	got, err := store.CopyTrades().Get(ctx, "order-buy")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, got.Status)

	// 重复的终态回调不重复记账
	c.OnOrderUpdate(buy)
	qty, _, ok := c.positions.Position(w.ID, tokenAddr)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(50).Equal(qty), "got %s", qty)

	sell := &models.CopyTrade{
		ID:                "order-sell",
		WalletID:          w.ID,
		SourceTxHash:      "0xs",
		Mode:              models.ModePaper,
		Chain:             "ethereum",
		Side:              models.ActionSell,
		OrderType:         models.OrderTypeMarket,
		TokenIn:           tokenAddr,
		TokenOut:          quoteAddr,
		TokenAddress:      tokenAddr,
		FilledAmountUSD:   decimal.NewFromInt(50),
		AmountOut:         decimal.NewFromInt(50),
		ExecutionPriceUSD: decimal.NewFromInt(1),
		Status:            models.OrderStatusFilled,
	}
	c.OnOrderUpdate(sell)

	got, err = store.CopyTrades().Get(ctx, "order-sell")
	require.NoError(t, err)
	require.True(t, got.PnLUSD.Valid)
	// 50 个代币成本 100，卖出得 50
	assert.True(t, decimal.NewFromInt(-50).Equal(got.PnLUSD.Decimal), "got %s", got.PnLUSD.Decimal)
	assert.True(t, decimal.NewFromInt(50).Equal(c.risk.DailyLoss(models.RiskModeModerate)))

	_, _, ok = c.positions.Position(w.ID, tokenAddr)
	assert.False(t, ok)
}

func TestStartStop_Idempotent(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{})
	require.NoError(t, err)
	assert.Equal(t, ErrNotRunning, c.HandleSignal(ctx, swapTx("0xq", models.ActionBuy, 30)))

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.True(t, c.Monitor().IsWatchingChain(traderAddr, "ethereum"))

	c.Stop()
	c.Stop()
	assert.False(t, c.IsRunning())
	assert.Empty(t, c.Monitor().WatchedAddresses())

	// 重启后重新加载钱包
	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.True(t, c.Monitor().IsWatchingChain(traderAddr, "ethereum"))
	c.Stop()
}

func TestHandleSignal_QueuedAndProcessed(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	require.NoError(t, c.HandleSignal(ctx, swapTx("0xq1", models.ActionBuy, 30)))
	require.NoError(t, c.HandleSignal(ctx, swapTx("0xq2", models.ActionBuy, 30)))

	// Stop 排空队列
	c.Stop()

	n, err := store.Transactions().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSyncPerformance(t *testing.T) {
	c, store, sink := newTestCoordinator(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.SyncPerformance(ctx), ErrNotRunning)

	w, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	require.NoError(t, c.OnTransactionDetected(ctx, swapTx("0xp1", models.ActionBuy, 5000)))
	require.NoError(t, c.OnTransactionDetected(ctx, swapTx("0xp2", models.ActionBuy, 30)))
	require.Eventually(t, func() bool {
		trades, err := store.CopyTrades().ListFilled(ctx, w.ID)
		return err == nil && len(trades) == 1 && trades[0].Status == models.OrderStatusFilled
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, c.SyncPerformance(ctx))
	// Stop 刷新批量写入
	c.Stop()

	day := models.DayOf(time.Now())
	m, err := store.DailyMetrics().Get(ctx, w.ID, day)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.Detected)
	assert.Equal(t, int64(1), m.Copied)
	assert.Equal(t, int64(1), m.Skipped)
	assert.Equal(t, int64(1), m.Filled)
	assert.True(t, decimal.NewFromInt(500).Equal(m.VolumeUSD), "got %s", m.VolumeUSD)
	assert.True(t, m.FeesUSD.IsPositive())

	stored, err := store.Wallets().Get(ctx, traderAddr, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalTrades)
	assert.True(t, decimal.NewFromInt(500).Equal(stored.TotalVolumeUSD))
	assert.NotNil(t, stored.LastTradeAt)

	st := c.GetSystemStatus()
	assert.NotNil(t, st.LastPerformanceSync)
	assert.Equal(t, 1, sink.count(nats.EventPerformanceSync))
}

func TestGetSystemStatus(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	st := c.GetSystemStatus()
	assert.False(t, st.Running)
	assert.Nil(t, st.StartedAt)
	assert.Equal(t, models.ModePaper, st.Mode)
	assert.Len(t, st.DailyLossUSD, 3)

	_, err := c.AddTrader(ctx, traderAddr, "ethereum", traderConfig(), TraderOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	st = c.GetSystemStatus()
	assert.True(t, st.Running)
	assert.NotNil(t, st.StartedAt)
	assert.Equal(t, 1, st.FollowedTraders)
	assert.Equal(t, []string{traderAddr}, st.WatchedWallets)
	assert.Equal(t, 16, st.QueueCapacity)
	assert.NotNil(t, st.LastWalletSync)
	assert.Equal(t, "0.00", st.DailyLossUSD["moderate"])

	_, ok := c.StatusSnapshot().(SystemStatus)
	assert.True(t, ok)
	c.Stop()
}

func TestNew_ModeMismatch(t *testing.T) {
	_, err := New(Config{Mode: models.ModeLive}, Deps{
		Store:    setupStore(t),
		Provider: stubProvider{},
		Market:   stubMarket{},
		Risk:     risk.NewManagerFromConfig(config.Default()),
		Backend:  order.NewPaperBackend(0, 0),
	})
	require.Error(t, err)
}
