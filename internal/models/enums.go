package models

// WalletStatus 跟单钱包状态
type WalletStatus string

const (
	WalletStatusActive      WalletStatus = "active"
	WalletStatusPaused      WalletStatus = "paused"
	WalletStatusBlacklisted WalletStatus = "blacklisted"
)

func (s WalletStatus) Valid() bool {
	switch s {
	case WalletStatusActive, WalletStatusPaused, WalletStatusBlacklisted:
		return true
	}
	return false
}

// CopyMode 跟单金额计算方式
type CopyMode string

const (
	CopyModePercentage   CopyMode = "percentage"
	CopyModeFixedAmount  CopyMode = "fixed_amount"
	CopyModeProportional CopyMode = "proportional"
)

func (m CopyMode) Valid() bool {
	switch m {
	case CopyModePercentage, CopyModeFixedAmount, CopyModeProportional:
		return true
	}
	return false
}

// RiskMode 风控档位，每档独立的日亏损预算
type RiskMode string

const (
	RiskModeConservative RiskMode = "conservative"
	RiskModeModerate     RiskMode = "moderate"
	RiskModeAggressive   RiskMode = "aggressive"
)

func (m RiskMode) Valid() bool {
	switch m {
	case RiskModeConservative, RiskModeModerate, RiskModeAggressive:
		return true
	}
	return false
}

// TradeAction 链上交易方向
type TradeAction string

const (
	ActionBuy     TradeAction = "buy"
	ActionSell    TradeAction = "sell"
	ActionUnknown TradeAction = "unknown"
)

// ExecutionMode 执行模式
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeTakeProfit:
		return true
	}
	return false
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusFailed          OrderStatus = "failed"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsTerminal 终态不再迁移
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusFailed, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}
