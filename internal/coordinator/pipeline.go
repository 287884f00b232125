package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/utrading/utrading-copy-trader/internal/apperr"
	"github.com/utrading/utrading-copy-trader/internal/dao"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/nats"
	"github.com/utrading/utrading-copy-trader/internal/order"
	"github.com/utrading/utrading-copy-trader/internal/strategy"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

const persistTimeout = 10 * time.Second

// OnTransactionDetected 处理一笔检测到的交易，同一哈希至多处理一次
func (c *Coordinator) OnTransactionDetected(ctx context.Context, tx *models.WalletTransaction) error {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	if !c.dedup.TryMark(tx.TxHash) {
		c.count(func(n *Counters) { n.Duplicates++ })
		logger.Debug().Str("tx_hash", tx.TxHash).Msg("duplicate transaction ignored")
		return nil
	}

	w, ok := c.lookupTrader(tx.WalletAddress, tx.Chain)
	if !ok {
		logger.Warn().
			Str("tx_hash", tx.TxHash).
			Str("wallet", tx.WalletAddress).
			Str("chain", tx.Chain).
			Msg("transaction from untracked wallet dropped")
		return nil
	}
	c.count(func(n *Counters) { n.Detected++ })

	tx.WalletID = w.ID
	tx.WalletAddress = w.Address
	if err := c.store.Transactions().Create(ctx, tx); err != nil {
		c.count(func(n *Counters) { n.Errors++ })
		if errors.Is(err, dao.ErrTxExists) {
			err = apperr.Violation("wallet_transaction", tx.TxHash, err)
			logger.Error().Err(err).Msg("transaction already persisted but not seen by dedup")
			return err
		}
		c.dedup.Forget(tx.TxHash)
		logger.Error().Err(err).Str("tx_hash", tx.TxHash).Msg("persist transaction failed")
		return err
	}

	traceID := uuid.NewString()
	log := logger.Trace(traceID)
	eval := c.strategy.EvaluateCopyOpportunity(ctx, tx, w, traceID)

	updated, err := c.store.Transactions().MarkProcessed(ctx, tx.TxHash, eval.Decision == strategy.DecisionCopy, eval.Reason)
	if err != nil {
		c.count(func(n *Counters) { n.Errors++ })
		log.Error().Err(err).Str("tx_hash", tx.TxHash).Msg("mark transaction processed failed")
		return err
	}
	if !updated {
		c.count(func(n *Counters) { n.Errors++ })
		err = apperr.Violation("wallet_transaction", tx.TxHash, errors.New("already processed"))
		log.Error().Err(err).Msg("transaction processed twice")
		return err
	}

	c.count(func(n *Counters) {
		n.Processed++
		switch eval.Decision {
		case strategy.DecisionCopy:
			n.Copied++
		case strategy.DecisionSkip:
			n.Skipped++
		default:
			n.Rejected++
		}
	})

	c.emit(nats.EventTransactionDetected, traceID, map[string]any{
		"transaction": tx,
		"decision":    eval.Decision,
		"reason":      eval.Reason,
	})

	if eval.Decision != strategy.DecisionCopy || eval.Intent == nil {
		return nil
	}
	return c.placeOrder(ctx, eval, traceID)
}

// placeOrder 按下单意图创建、落库并提交跟单订单
func (c *Coordinator) placeOrder(ctx context.Context, eval *strategy.Evaluation, traceID string) error {
	in := eval.Intent
	log := logger.Trace(traceID)

	riskScore := 0.0
	if eval.RiskGate != nil {
		riskScore = eval.RiskGate.RiskScore
	}
	o, err := c.orders.CreateOrder(order.Request{
		WalletID:        in.WalletID,
		WalletAddress:   in.WalletAddress,
		SourceTxHash:    in.SourceTxHash,
		TraceID:         traceID,
		Chain:           in.Chain,
		DEX:             in.DEX,
		Side:            in.Side,
		OrderType:       models.OrderTypeMarket,
		TokenAddress:    in.TokenAddress,
		TokenIn:         in.TokenIn,
		TokenOut:        in.TokenOut,
		AmountUSD:       in.AmountUSD,
		ExpectedPrice:   in.ExpectedPrice,
		MaxSlippageBps:  in.MaxSlippageBps,
		StopLossPrice:   in.StopLossPrice,
		TakeProfitPrice: in.TakeProfitPrice,
		Confidence:      eval.Confidence,
		RiskScore:       riskScore,
	})
	if err != nil {
		c.count(func(n *Counters) { n.Errors++ })
		log.Error().Err(err).Str("tx_hash", in.SourceTxHash).Msg("create copy order failed")
		return err
	}

	if err = c.store.CopyTrades().Create(ctx, o); err != nil {
		c.count(func(n *Counters) { n.Errors++ })
		log.Error().Err(err).Str("order_id", o.ID).Msg("persist copy order failed")
		_ = c.orders.CancelOrder(o.ID)
		return err
	}
	c.markPersisted(o.ID, o.Status)

	if err = c.orders.SubmitOrder(ctx, o.ID); err != nil {
		// 订单已置为 FAILED 并经由回调落库
		log.Warn().Err(err).Str("order_id", o.ID).Msg("submit copy order failed")
	}
	return nil
}

// OnOrderUpdate 订单状态回调：落库、记账并广播，不得获取 evalMu
func (c *Coordinator) OnOrderUpdate(o *models.CopyTrade) {
	log := logger.Trace(o.TraceID)

	c.persistMu.Lock()
	prev, seen := c.persisted.Get(o.ID)
	if seen && statusRank(o.Status) < statusRank(prev) {
		c.persistMu.Unlock()
		log.Debug().
			Str("order_id", o.ID).
			Str("status", string(o.Status)).
			Str("persisted", string(prev)).
			Msg("stale order update skipped")
		return
	}
	firstTerminal := o.Status.IsTerminal() && !(seen && prev.IsTerminal())

	if firstTerminal && o.Status == models.OrderStatusFilled {
		o.PnLUSD = c.positions.Apply(o)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	err := c.store.CopyTrades().Save(ctx, o)
	cancel()
	if err == nil {
		c.persisted.Set(o.ID, o.Status)
	}
	c.persistMu.Unlock()

	if err != nil {
		c.count(func(n *Counters) { n.Errors++ })
		log.Error().Err(err).Str("order_id", o.ID).Msg("persist order update failed")
	}

	if firstTerminal && o.PnLUSD.Valid && o.PnLUSD.Decimal.IsNegative() {
		if w, ok := c.traderByID(o.WalletID); ok {
			c.risk.RecordLoss(w.RiskMode, o.PnLUSD.Decimal.Neg())
		}
	}

	c.count(func(n *Counters) {
		switch {
		case o.Status == models.OrderStatusSubmitted && (!seen || prev == models.OrderStatusPending):
			n.OrdersSubmitted++
		case firstTerminal && o.Status == models.OrderStatusFilled:
			n.OrdersFilled++
		case firstTerminal && o.Status != models.OrderStatusCancelled:
			n.OrdersFailed++
		}
	})

	c.emit(nats.EventOrderUpdate, o.TraceID, o)
}

func (c *Coordinator) markPersisted(id string, status models.OrderStatus) {
	c.persistMu.Lock()
	c.persisted.Set(id, status)
	c.persistMu.Unlock()
}

// statusRank 订单状态在生命周期中的先后
func statusRank(s models.OrderStatus) int {
	switch s {
	case models.OrderStatusPending:
		return 0
	case models.OrderStatusSubmitted:
		return 1
	case models.OrderStatusPartiallyFilled:
		return 2
	}
	return 3
}

func (c *Coordinator) traderByID(id uint) (*models.TrackedWallet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.traders {
		if w.ID == id {
			return cloneWallet(w), true
		}
	}
	return nil, false
}

func (c *Coordinator) count(fn func(n *Counters)) {
	c.mu.Lock()
	fn(&c.counters)
	c.mu.Unlock()
}
