package processor

import (
	"time"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

// Message 消息接口
type Message interface {
	Type() string
}

// SignalMessage 钱包监控检测到的交易信号
type SignalMessage struct {
	Tx         *models.WalletTransaction
	EnqueuedAt time.Time
}

func (m SignalMessage) Type() string { return "signal" }
