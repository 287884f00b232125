package nats

import (
	"encoding/json"
	"time"

	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// EventType 事件类型，同时作为 subject 后缀
type EventType string

const (
	EventTransactionDetected EventType = "transaction_detected"
	EventDecision            EventType = "decision"
	EventOrderUpdate         EventType = "order_update"
	EventTraderAdded         EventType = "trader_added"
	EventTraderRemoved       EventType = "trader_removed"
	EventTraderUpdated       EventType = "trader_updated"
	EventPerformanceSync     EventType = "performance_sync"
)

// Event 审计/广播事件
type Event struct {
	Type      EventType `json:"type"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp int64     `json:"timestamp"` // 毫秒
	Data      any       `json:"data"`
}

// EventSink 事件接收方，核心流程允许为 nil
type EventSink interface {
	PublishEvent(event *Event) error
}

func NewEvent(t EventType, traceID string, data any) *Event {
	return &Event{
		Type:      t,
		TraceID:   traceID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// Subject 形如 copytrade.events.order_update
func (e *Event) Subject(prefix string) string {
	if prefix == "" {
		return string(e.Type)
	}
	return prefix + "." + string(e.Type)
}

// Marshal 序列化事件
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Error().Err(err).Str("type", string(e.Type)).Msg("marshal event failed")
		return nil, err
	}
	return data, nil
}

// Emit 向 sink 发送事件，失败只记录日志
func Emit(sink EventSink, event *Event) {
	if sink == nil || event == nil {
		return
	}
	if err := sink.PublishEvent(event); err != nil {
		logger.Warn().Err(err).
			Str("type", string(event.Type)).
			Str("trace_id", event.TraceID).
			Msg("publish event failed")
	}
}
