package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// position 跟单持仓，成本按加权平均计
type position struct {
	qty  decimal.Decimal
	cost decimal.Decimal
}

// positionBook 按 钱包|代币 记录跟单持仓，用于计算卖出的已实现盈亏
type positionBook struct {
	mu        sync.Mutex
	positions map[string]*position
}

func newPositionBook() *positionBook {
	return &positionBook{positions: make(map[string]*position)}
}

func positionKey(walletID uint, token string) string {
	return fmt.Sprintf("%d|%s", walletID, token)
}

// Apply 记入一笔成交订单，卖出时返回已实现盈亏，无持仓时返回 Valid=false
func (b *positionBook) Apply(o *models.CopyTrade) decimal.NullDecimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyLocked(o)
}

func (b *positionBook) applyLocked(o *models.CopyTrade) decimal.NullDecimal {
	key := positionKey(o.WalletID, o.TokenAddress)
	p := b.positions[key]

	if o.Side == models.ActionBuy {
		if p == nil {
			p = &position{}
			b.positions[key] = p
		}
		p.qty = p.qty.Add(o.AmountOut)
		p.cost = p.cost.Add(o.FilledAmountUSD)
		return decimal.NullDecimal{}
	}

	if p == nil || !p.qty.IsPositive() || !o.ExecutionPriceUSD.IsPositive() {
		return decimal.NullDecimal{}
	}

	tokensSold := o.FilledAmountUSD.Div(o.ExecutionPriceUSD)
	if !tokensSold.IsPositive() {
		return decimal.NullDecimal{}
	}
	soldQty := decimal.Min(tokensSold, p.qty)
	avgCost := p.cost.Div(p.qty)

	proceeds := o.AmountOut.Mul(soldQty).Div(tokensSold)
	pnl := proceeds.Sub(avgCost.Mul(soldQty))

	p.qty = p.qty.Sub(soldQty)
	p.cost = p.cost.Sub(avgCost.Mul(soldQty))
	if !p.qty.IsPositive() {
		delete(b.positions, key)
	}
	return decimal.NewNullDecimal(pnl.Round(8))
}

// Rebuild 按成交顺序重放钱包的已成交订单
func (b *positionBook) Rebuild(walletID uint, trades []*models.CopyTrade) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := fmt.Sprintf("%d|", walletID)
	for k := range b.positions {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(b.positions, k)
		}
	}
	for _, t := range trades {
		if t.Status == models.OrderStatusFilled {
			b.applyLocked(t)
		}
	}
}

// Position 返回持仓数量和成本
func (b *positionBook) Position(walletID uint, token string) (qty, cost decimal.Decimal, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[positionKey(walletID, token)]
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	return p.qty, p.cost, true
}

func (c *Coordinator) rebuildPositions(walletID uint) {
	if walletID == 0 {
		return
	}
	trades, err := c.store.CopyTrades().ListFilled(context.Background(), walletID)
	if err != nil {
		logger.Warn().Err(err).Uint("wallet_id", walletID).Msg("rebuild positions failed")
		return
	}
	c.positions.Rebuild(walletID, trades)
}
