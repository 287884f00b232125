package order

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-copy-trader/internal/apperr"
	"github.com/utrading/utrading-copy-trader/internal/models"
)

const (
	testWalletAddr = "0x2222222222222222222222222222222222222222"
	testToken      = "0x1111111111111111111111111111111111111111"
	testUSDC       = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

type recordingListener struct {
	mu      sync.Mutex
	updates []*models.CopyTrade
}

func (l *recordingListener) OnOrderUpdate(o *models.CopyTrade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, o)
}

func (l *recordingListener) statuses() []models.OrderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.OrderStatus, 0, len(l.updates))
	for _, u := range l.updates {
		out = append(out, u.Status)
	}
	return out
}

func newTestManager(t *testing.T, backend SwapBackend, listener Listener, timeout time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Timeout:         timeout,
		MaxSlippageBps:  5000,
		MonitorPoolSize: 8,
		HistoryTTL:      time.Hour,
	}, backend, listener)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func testRequest() Request {
	return Request{
		WalletID:       7,
		WalletAddress:  testWalletAddr,
		SourceTxHash:   "0xsource",
		TraceID:        "trace-1",
		Chain:          "ethereum",
		DEX:            "uniswap_v2",
		Side:           models.ActionBuy,
		OrderType:      models.OrderTypeMarket,
		TokenAddress:   testToken,
		TokenIn:        testUSDC,
		TokenOut:       testToken,
		AmountUSD:      decimal.NewFromInt(100),
		ExpectedPrice:  decimal.NewFromInt(2),
		MaxSlippageBps: 300,
		Confidence:     0.7,
		RiskScore:      15,
	}
}

func TestCreateOrder_ValidationOrder(t *testing.T) {
	m := newTestManager(t, NewPaperBackend(30, 10), nil, time.Minute)

	cases := []struct {
		name   string
		mutate func(r *Request)
		field  string
	}{
		{"amount before chain", func(r *Request) { r.AmountUSD = decimal.Zero; r.Chain = "dogechain" }, "amount_usd"},
		{"chain", func(r *Request) { r.Chain = "dogechain" }, "chain"},
		{"limit price", func(r *Request) { r.OrderType = models.OrderTypeLimit }, "limit_price"},
		{"stop price", func(r *Request) { r.OrderType = models.OrderTypeStopLoss }, "stop_price"},
		{"order type", func(r *Request) { r.OrderType = "iceberg" }, "order_type"},
		{"token address", func(r *Request) { r.TokenAddress = "not-an-address"; r.MaxSlippageBps = 0 }, "token_address"},
		{"wallet address", func(r *Request) { r.WalletAddress = "0x12" }, "wallet_address"},
		{"slippage zero", func(r *Request) { r.MaxSlippageBps = 0 }, "max_slippage_bps"},
		{"slippage too high", func(r *Request) { r.MaxSlippageBps = 5001 }, "max_slippage_bps"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequest()
			tc.mutate(&req)
			_, err := m.CreateOrder(req)
			require.Error(t, err)
			var ve *apperr.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	assert.Empty(t, m.GetActiveOrders())
	assert.Zero(t, m.Stats().DailyOrders)
}

func TestCreateOrder_RoundTrip(t *testing.T) {
	m := newTestManager(t, NewPaperBackend(30, 10), nil, time.Minute)

	limit := testRequest()
	limit.OrderType = models.OrderTypeLimit
	limit.LimitPrice = decimal.NewNullDecimal(decimal.RequireFromString("1.95"))

	created, err := m.CreateOrder(limit)
	require.NoError(t, err)

	got, err := m.GetOrder(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, models.ModePaper, got.Mode)
	assert.Equal(t, limit.WalletID, got.WalletID)
	assert.Equal(t, limit.SourceTxHash, got.SourceTxHash)
	assert.Equal(t, limit.Chain, got.Chain)
	assert.Equal(t, limit.TokenIn, got.TokenIn)
	assert.Equal(t, limit.TokenOut, got.TokenOut)
	assert.Equal(t, models.OrderTypeLimit, got.OrderType)
	assert.True(t, limit.AmountUSD.Equal(got.RequestedAmountUSD))
	assert.True(t, limit.LimitPrice.Decimal.Equal(got.LimitPrice.Decimal))
	assert.Equal(t, limit.MaxSlippageBps, got.MaxSlippageBps)
	assert.Len(t, m.GetActiveOrders(), 1)
}

func TestPaperOrder_FillsImmediately(t *testing.T) {
	listener := &recordingListener{}
	m := newTestManager(t, NewPaperBackend(30, 10), listener, time.Minute)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	require.NoError(t, m.SubmitOrder(context.Background(), o.ID))

	require.Eventually(t, func() bool {
		statuses := listener.statuses()
		return len(statuses) > 0 && statuses[len(statuses)-1] == models.OrderStatusFilled
	}, time.Second, 5*time.Millisecond)

	got, err := m.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, got.Status)
	assert.Equal(t, PaperTxHash(o.ID), got.TxHash)
	assert.Contains(t, got.TxHash, "paper_")
	assert.True(t, decimal.RequireFromString("0.3").Equal(got.FeeUSD), "fee %s", got.FeeUSD)
	assert.True(t, decimal.NewFromInt(100).Equal(got.FilledAmountUSD))
	assert.True(t, decimal.RequireFromString("2.002").Equal(got.ExecutionPriceUSD))
	assert.True(t, got.AmountOut.IsPositive())
	assert.Equal(t, 10, got.SlippageBps)
	assert.NotNil(t, got.SubmittedAt)
	assert.NotNil(t, got.CompletedAt)

	statuses := listener.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.OrderStatusSubmitted, statuses[0])
	assert.Equal(t, models.OrderStatusFilled, statuses[len(statuses)-1])

	assert.Empty(t, m.GetActiveOrders())
	stats := m.Stats()
	assert.Equal(t, int64(1), stats.DailyOrders)
	assert.Equal(t, int64(1), stats.DailyFilled)
	assert.True(t, decimal.NewFromInt(100).Equal(stats.DailyVolumeUSD))
	assert.Equal(t, 1, stats.History)
}

func TestPaperTxHash_Deterministic(t *testing.T) {
	assert.Equal(t, PaperTxHash("a"), PaperTxHash("a"))
	assert.NotEqual(t, PaperTxHash("a"), PaperTxHash("b"))
}

func TestCancelOrder(t *testing.T) {
	m := newTestManager(t, NewPaperBackend(30, 10), nil, time.Minute)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	require.NoError(t, m.CancelOrder(o.ID))

	got, err := m.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)

	assert.ErrorIs(t, m.CancelOrder(o.ID), ErrInvalidTransition)
	assert.ErrorIs(t, m.SubmitOrder(context.Background(), o.ID), ErrInvalidTransition)
	assert.ErrorIs(t, m.CancelOrder("missing"), ErrOrderNotFound)
}

type failingBackend struct{}

func (failingBackend) Mode() models.ExecutionMode { return models.ModeLive }

func (failingBackend) SubmitSwap(context.Context, SwapRequest) (*SwapReceipt, error) {
	return nil, errors.New("insufficient gas")
}

func (failingBackend) WaitSwap(context.Context, *SwapReceipt, func(*SwapResult)) (*SwapResult, error) {
	return nil, errors.New("unreachable")
}

func TestSubmitOrder_DispatchFailureMarksFailedImmediately(t *testing.T) {
	listener := &recordingListener{}
	m := newTestManager(t, failingBackend{}, listener, time.Minute)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)

	err = m.SubmitOrder(context.Background(), o.ID)
	require.Error(t, err)

	got, err := m.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, got.Status)
	assert.Equal(t, "insufficient gas", got.Error)
	assert.Equal(t, []models.OrderStatus{models.OrderStatusSubmitted, models.OrderStatusFailed}, listener.statuses())
}

// blockingBackend 提交成功但永不确认
type blockingBackend struct{}

func (blockingBackend) Mode() models.ExecutionMode { return models.ModeLive }

func (blockingBackend) SubmitSwap(_ context.Context, req SwapRequest) (*SwapReceipt, error) {
	return &SwapReceipt{TxHash: "0xpending", Request: req}, nil
}

func (blockingBackend) WaitSwap(ctx context.Context, _ *SwapReceipt, _ func(*SwapResult)) (*SwapResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSubmitOrder_ExpiresAfterTimeout(t *testing.T) {
	m := newTestManager(t, blockingBackend{}, nil, 50*time.Millisecond)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	require.NoError(t, m.SubmitOrder(context.Background(), o.ID))

	require.Eventually(t, func() bool {
		got, err := m.GetOrder(o.ID)
		return err == nil && got.Status == models.OrderStatusExpired
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := m.GetOrder(o.ID)
	assert.Equal(t, "0xpending", got.TxHash)
	assert.Contains(t, got.Error, "not confirmed")
}

func TestCancelSubmittedOrder(t *testing.T) {
	m := newTestManager(t, blockingBackend{}, nil, time.Minute)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	require.NoError(t, m.SubmitOrder(context.Background(), o.ID))
	require.NoError(t, m.CancelOrder(o.ID))

	got, err := m.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
}

type partialBackend struct{}

func (partialBackend) Mode() models.ExecutionMode { return models.ModeLive }

func (partialBackend) SubmitSwap(_ context.Context, req SwapRequest) (*SwapReceipt, error) {
	return &SwapReceipt{TxHash: "0xpartial", Request: req}, nil
}

func (partialBackend) WaitSwap(_ context.Context, r *SwapReceipt, onPartial func(*SwapResult)) (*SwapResult, error) {
	onPartial(&SwapResult{Status: SwapPartial, FilledUSD: decimal.NewFromInt(40)})
	return &SwapResult{Status: SwapConfirmed, FilledUSD: r.Request.AmountInUSD, FeeUSD: decimal.RequireFromString("0.2")}, nil
}

func TestSubmitOrder_PartialThenFilled(t *testing.T) {
	listener := &recordingListener{}
	m := newTestManager(t, partialBackend{}, listener, time.Minute)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	require.NoError(t, m.SubmitOrder(context.Background(), o.ID))

	require.Eventually(t, func() bool {
		got, err := m.GetOrder(o.ID)
		return err == nil && got.Status == models.OrderStatusFilled
	}, time.Second, 5*time.Millisecond)

	assert.Contains(t, listener.statuses(), models.OrderStatusPartiallyFilled)
}

type partialThenResultBackend struct {
	final *SwapResult
}

func (partialThenResultBackend) Mode() models.ExecutionMode { return models.ModeLive }

func (partialThenResultBackend) SubmitSwap(_ context.Context, req SwapRequest) (*SwapReceipt, error) {
	return &SwapReceipt{TxHash: "0xpartial", Request: req}, nil
}

func (b partialThenResultBackend) WaitSwap(_ context.Context, _ *SwapReceipt, onPartial func(*SwapResult)) (*SwapResult, error) {
	onPartial(&SwapResult{Status: SwapPartial, FilledUSD: decimal.NewFromInt(40)})
	return b.final, nil
}

func TestSubmitOrder_PartialThenFailed(t *testing.T) {
	listener := &recordingListener{}
	backend := partialThenResultBackend{final: &SwapResult{Status: SwapFailed, Error: "reverted"}}
	m := newTestManager(t, backend, listener, 200*time.Millisecond)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	require.NoError(t, m.SubmitOrder(context.Background(), o.ID))

	require.Eventually(t, func() bool {
		got, err := m.GetOrder(o.ID)
		return err == nil && got.Status == models.OrderStatusFailed
	}, time.Second, 5*time.Millisecond)

	got, err := m.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "reverted", got.Error)
	assert.Empty(t, m.GetActiveOrders())
	assert.Contains(t, listener.statuses(), models.OrderStatusPartiallyFilled)

	// 终结后同一来源交易可以重新下单
	_, err = m.CreateOrder(testRequest())
	assert.NoError(t, err)
}

func TestSubmitOrder_NonFinalResultExpires(t *testing.T) {
	backend := partialThenResultBackend{final: &SwapResult{Status: SwapPending}}
	m := newTestManager(t, backend, nil, time.Minute)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	require.NoError(t, m.SubmitOrder(context.Background(), o.ID))

	require.Eventually(t, func() bool {
		got, err := m.GetOrder(o.ID)
		return err == nil && got.Status == models.OrderStatusExpired
	}, time.Second, 5*time.Millisecond)

	got, _ := m.GetOrder(o.ID)
	assert.Contains(t, got.Error, "non-final swap status")
	assert.Empty(t, m.GetActiveOrders())
}

func TestCreateOrder_DuplicateInFlight(t *testing.T) {
	m := newTestManager(t, NewPaperBackend(30, 10), nil, time.Minute)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)

	_, err = m.CreateOrder(testRequest())
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	other := testRequest()
	other.SourceTxHash = "0xother"
	_, err = m.CreateOrder(other)
	assert.NoError(t, err)

	require.NoError(t, m.CancelOrder(o.ID))
	_, err = m.CreateOrder(testRequest())
	assert.NoError(t, err)
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]models.OrderStatus{
		{models.OrderStatusPending, models.OrderStatusSubmitted},
		{models.OrderStatusPending, models.OrderStatusCancelled},
		{models.OrderStatusSubmitted, models.OrderStatusFilled},
		{models.OrderStatusSubmitted, models.OrderStatusPartiallyFilled},
		{models.OrderStatusSubmitted, models.OrderStatusFailed},
		{models.OrderStatusSubmitted, models.OrderStatusExpired},
		{models.OrderStatusPartiallyFilled, models.OrderStatusFilled},
		{models.OrderStatusPartiallyFilled, models.OrderStatusFailed},
		{models.OrderStatusPartiallyFilled, models.OrderStatusCancelled},
		{models.OrderStatusFilled, models.OrderStatusFilled},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]models.OrderStatus{
		{models.OrderStatusPending, models.OrderStatusFilled},
		{models.OrderStatusFilled, models.OrderStatusCancelled},
		{models.OrderStatusFailed, models.OrderStatusSubmitted},
		{models.OrderStatusExpired, models.OrderStatusFilled},
		{models.OrderStatusCancelled, models.OrderStatusPending},
		{models.OrderStatusPartiallyFilled, models.OrderStatusSubmitted},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestStats_DailyCountersResetAtUTCDayChange(t *testing.T) {
	m := newTestManager(t, NewPaperBackend(30, 10), nil, time.Minute)
	now := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Stats().DailyOrders)
	assert.Equal(t, "2025-03-01", m.Stats().Day)

	now = now.Add(2 * time.Minute)
	stats := m.Stats()
	assert.Equal(t, "2025-03-02", stats.Day)
	assert.Zero(t, stats.DailyOrders)
	assert.Equal(t, 1, stats.Active)
}

func TestLiveBackend_SubmitAndConfirm(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/swaps":
			assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
			w.Write([]byte(`{"success":true,"tx_hash":"0xlive"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/swaps/0xlive":
			if polls.Add(1) < 3 {
				w.Write([]byte(`{"status":"pending"}`))
				return
			}
			w.Write([]byte(`{"status":"confirmed","filled_usd":"100","amount_out":"49.9","execution_price":"2.004","fee_usd":"0.25","gas_used":181000,"effective_slippage_bps":20}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	backend := NewLiveBackend(LiveConfig{Endpoint: srv.URL, APIKey: "secret", Timeout: time.Second, PollInterval: 10 * time.Millisecond})
	m := newTestManager(t, backend, nil, 5*time.Second)

	o, err := m.CreateOrder(testRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ModeLive, o.Mode)
	require.NoError(t, m.SubmitOrder(context.Background(), o.ID))

	require.Eventually(t, func() bool {
		got, err := m.GetOrder(o.ID)
		return err == nil && got.Status == models.OrderStatusFilled
	}, 3*time.Second, 10*time.Millisecond)

	got, _ := m.GetOrder(o.ID)
	assert.Equal(t, "0xlive", got.TxHash)
	assert.Equal(t, uint64(181000), got.GasUsed)
	assert.Equal(t, 20, got.SlippageBps)
	assert.True(t, decimal.RequireFromString("0.25").Equal(got.FeeUSD))
}

func TestLiveBackend_RejectedSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"pool not found"}`))
	}))
	defer srv.Close()

	backend := NewLiveBackend(LiveConfig{Endpoint: srv.URL, Timeout: time.Second})
	_, err := backend.SubmitSwap(context.Background(), SwapRequest{OrderID: "o-1", AmountInUSD: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool not found")
}
