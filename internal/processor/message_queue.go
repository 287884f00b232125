package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/pkg/goplus"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

var ErrQueueClosed = errors.New("message queue closed")

// MessageHandler 消息处理器接口
type MessageHandler interface {
	HandleMessage(msg Message) error
}

// MessageHandlerFunc 函数适配
type MessageHandlerFunc func(msg Message) error

func (f MessageHandlerFunc) HandleMessage(msg Message) error { return f(msg) }

// MessageQueue 有界信号队列，单协程按 FIFO 消费
// 队列满时阻塞生产者（可被 ctx 取消），保证同一钱包信号的先后顺序
type MessageQueue struct {
	queue     chan Message
	wg        sync.WaitGroup
	handler   MessageHandler
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMessageQueue 创建消息队列
func NewMessageQueue(size int) *MessageQueue {
	if size <= 0 {
		size = 1024
	}
	return &MessageQueue{
		queue: make(chan Message, size),
		done:  make(chan struct{}),
	}
}

// Start 启动工作协程，重复调用无效
func (q *MessageQueue) Start(handler MessageHandler) {
	q.startOnce.Do(func() {
		q.handler = handler
		q.wg.Add(1)
		go q.worker()
	})
}

func (q *MessageQueue) worker() {
	defer q.wg.Done()
	defer goplus.Recover()
	for {
		select {
		case msg := <-q.queue:
			q.handle(msg)
		case <-q.done:
			// 处理剩余消息
			for {
				select {
				case msg := <-q.queue:
					q.handle(msg)
				default:
					return
				}
			}
		}
	}
}

func (q *MessageQueue) handle(msg Message) {
	monitor.SetMessageQueueSize(len(q.queue))
	if err := q.handler.HandleMessage(msg); err != nil {
		logger.Error().Err(err).Str("type", msg.Type()).Msg("handle message failed")
	}
}

// Enqueue 发送消息，队列满时阻塞直到有空位、ctx 取消或队列关闭
func (q *MessageQueue) Enqueue(ctx context.Context, msg Message) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.queue <- msg:
		monitor.SetMessageQueueSize(len(q.queue))
		return nil
	default:
	}

	monitor.IncMessageQueueFull()
	logger.Warn().
		Str("type", msg.Type()).
		Int("queue_size", len(q.queue)).
		Msg("message queue full, applying back-pressure")

	select {
	case q.queue <- msg:
		monitor.SetMessageQueueSize(len(q.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// HandleSignal 作为钱包监控的信号出口
func (q *MessageQueue) HandleSignal(ctx context.Context, tx *models.WalletTransaction) error {
	return q.Enqueue(ctx, SignalMessage{Tx: tx, EnqueuedAt: time.Now()})
}

// Stop 停止队列，等待剩余消息处理完成
func (q *MessageQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
	monitor.SetMessageQueueSize(len(q.queue))
}

// Size 返回当前队列大小
func (q *MessageQueue) Size() int {
	return len(q.queue)
}

// Cap 队列容量
func (q *MessageQueue) Cap() int {
	return cap(q.queue)
}
