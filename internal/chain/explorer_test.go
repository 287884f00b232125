package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-copy-trader/internal/apperr"
	"github.com/utrading/utrading-copy-trader/internal/models"
)

const (
	testWallet = "0x1111111111111111111111111111111111111111"
	testUSDC   = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	testWETH   = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	testPepe   = "0x6982508145454ce325ddbe47a25d4ec3d2311933"
	testPool   = "0x2222222222222222222222222222222222222222"
)

const tokenTxBody = `{
  "status": "1",
  "message": "OK",
  "result": [
    {"blockNumber":"101","timeStamp":"1700000000","hash":"0xAAA","from":"` + testWallet + `","to":"` + testPool + `","contractAddress":"` + testUSDC + `","tokenSymbol":"USDC","tokenDecimal":"6","value":"500000000","gasUsed":"150000","gasPrice":"20000000000","logIndex":"3"},
    {"blockNumber":"101","timeStamp":"1700000000","hash":"0xAAA","from":"` + testPool + `","to":"` + testWallet + `","contractAddress":"` + testPepe + `","tokenSymbol":"PEPE","tokenDecimal":"18","value":"1000000000000000000000","gasUsed":"150000","gasPrice":"20000000000","logIndex":"4"},
    {"blockNumber":"100","timeStamp":"1699999990","hash":"0xBBB","from":"` + testWallet + `","to":"` + testPool + `","contractAddress":"` + testPepe + `","tokenSymbol":"PEPE","tokenDecimal":"18","value":"2000000000000000000000","gasUsed":"140000","gasPrice":"20000000000","logIndex":"1"},
    {"blockNumber":"100","timeStamp":"1699999990","hash":"0xBBB","from":"` + testPool + `","to":"` + testWallet + `","contractAddress":"` + testWETH + `","tokenSymbol":"WETH","tokenDecimal":"18","value":"500000000000000000","gasUsed":"140000","gasPrice":"20000000000","logIndex":"2"},
    {"blockNumber":"102","timeStamp":"1700000010","hash":"0xCCC","from":"` + testPool + `","to":"` + testWallet + `","contractAddress":"` + testPepe + `","tokenSymbol":"PEPE","tokenDecimal":"18","value":"1","gasUsed":"21000","gasPrice":"20000000000","logIndex":"0"}
  ]
}`

type fixedPricer struct{ price decimal.Decimal }

func (f fixedPricer) QuotePriceUSD(_ context.Context, _, _ string) (decimal.Decimal, error) {
	return f.price, nil
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *ExplorerProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewExplorerProvider([]ExplorerChain{{
		Name:          "ethereum",
		ChainID:       1,
		BaseURL:       srv.URL,
		StableTokens:  []string{testUSDC},
		WrappedNative: testWETH,
	}}, fixedPricer{price: decimal.NewFromInt(2000)}, time.Millisecond)
}

func TestExplorerProvider_GetCurrentBlock(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eth_blockNumber", r.URL.Query().Get("action"))
		assert.Equal(t, "1", r.URL.Query().Get("chainid"))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":83,"result":"0x10d4f"}`))
	})

	block, err := p.GetCurrentBlock(context.Background(), "ethereum")
	require.NoError(t, err)
	assert.Equal(t, uint64(68943), block)

	_, err = p.GetCurrentBlock(context.Background(), "polygon")
	assert.ErrorIs(t, err, ErrUnsupportedChain)

	assert.True(t, p.Supports("ethereum"))
	assert.False(t, p.Supports("polygon"))
	assert.False(t, p.Supports("solana"))
}

func TestExplorerProvider_GetTransactions(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tokentx", r.URL.Query().Get("action"))
		assert.Equal(t, "100", r.URL.Query().Get("startblock"))
		_, _ = w.Write([]byte(tokenTxBody))
	})

	txs, err := p.GetTransactions(context.Background(), testWallet, "ethereum", 100)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	// 按区块升序
	sell := txs[0]
	assert.Equal(t, "0xbbb", sell.Hash)
	assert.Equal(t, models.ActionSell, sell.Action)
	assert.Equal(t, testPepe, sell.TokenAddress)
	assert.True(t, sell.AmountUSD.Equal(decimal.NewFromInt(1000)), sell.AmountUSD.String())

	buy := txs[1]
	assert.Equal(t, models.ActionBuy, buy.Action)
	assert.Equal(t, uint64(101), buy.BlockNumber)
	assert.True(t, buy.AmountUSD.Equal(decimal.NewFromInt(500)))
	assert.True(t, buy.AmountToken.Equal(decimal.NewFromInt(1000)))
	assert.True(t, buy.PriceUSD.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, buy.GasFeeUSD.IsPositive())
	assert.False(t, buy.IsMEV)

	// 单边转入无法判断方向
	assert.Equal(t, models.ActionUnknown, txs[2].Action)
}

func TestExplorerProvider_NoTransactions(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	})

	txs, err := p.GetTransactions(context.Background(), testWallet, "ethereum", 1)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestExplorerProvider_RateLimitIsTransient(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
	})

	_, err := p.GetTransactions(context.Background(), testWallet, "ethereum", 1)
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}
