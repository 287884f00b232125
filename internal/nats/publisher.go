package nats

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// Publisher NATS 发布器
type Publisher struct {
	*nats.Conn
	prefix string
	mu     sync.RWMutex
	closed bool
}

// NewPublisher 创建 NATS 发布器，断线后自动重连
func NewPublisher(url, subjectPrefix string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("utrading-copy-trader"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			monitor.SetNATSConnected(false)
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			monitor.SetNATSConnected(true)
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	monitor.SetNATSConnected(true)

	return &Publisher{
		Conn:   conn,
		prefix: subjectPrefix,
	}, nil
}

// PublishEvent 发布事件到 <prefix>.<type>
func (p *Publisher) PublishEvent(event *Event) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}

	if err := p.Publish(event.Subject(p.prefix), data); err != nil {
		monitor.IncEventError()
		return err
	}
	monitor.IncEventPublished(string(event.Type))
	return nil
}

// IsConnected 检查发布器是否已连接
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.Conn != nil && p.Conn.IsConnected()
}

// Close 先 flush 再关闭连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	monitor.SetNATSConnected(false)

	if p.Conn != nil {
		if err := p.Conn.FlushTimeout(2 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("nats flush before close failed")
		}
		p.Conn.Close()
	}
	return nil
}
