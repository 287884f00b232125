package chain

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/internal/ws"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

const subscribeTimeout = 10 * time.Second

// HeadHandler 新区块回调
type HeadHandler func(chain string, block uint64)

// HeadSubscriber 通过 eth_subscribe newHeads 订阅新区块，断线自动重连
type HeadSubscriber struct {
	chain      string
	url        string
	handler    HeadHandler
	retryDelay time.Duration
	maxDelay   time.Duration

	mu   sync.Mutex
	last uint64
}

func NewHeadSubscriber(chainName, url string, handler HeadHandler) *HeadSubscriber {
	return &HeadSubscriber{
		chain:      chainName,
		url:        url,
		handler:    handler,
		retryDelay: time.Second,
		maxDelay:   time.Minute,
	}
}

// LastBlock 最近收到的区块高度
func (s *HeadSubscriber) LastBlock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run 阻塞直到 ctx 取消
func (s *HeadSubscriber) Run(ctx context.Context) {
	delay := s.retryDelay
	for {
		if ctx.Err() != nil {
			return
		}

		connectedAt := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}

		// 会话维持超过一分钟视为正常断线，重置退避
		if time.Since(connectedAt) > time.Minute {
			delay = s.retryDelay
		}
		logger.Warn().Err(err).Str("chain", s.chain).Dur("retry_in", delay).Msg("head subscription lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.maxDelay)
	}
}

// session 单次连接生命周期，连接断开时返回
func (s *HeadSubscriber) session(ctx context.Context) error {
	client := ws.NewClient(s.url)
	defer client.Close()

	disconnected := make(chan struct{})
	var once sync.Once
	client.SetDisconnectCallback(func() { once.Do(func() { close(disconnected) }) })
	client.SetNotifyHandler(s.handleNotify)

	if err := client.Connect(ctx); err != nil {
		return err
	}
	subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	subID, err := client.Subscribe(subCtx, "newHeads")
	cancel()
	if err != nil {
		return err
	}
	logger.Info().Str("chain", s.chain).Str("subscription", subID).Msg("subscribed to new heads")
	monitor.SetWebSocketConnected(s.chain, true)
	defer monitor.SetWebSocketConnected(s.chain, false)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-disconnected:
		return nil
	}
}

func (s *HeadSubscriber) handleNotify(method string, msg []byte) error {
	if method != "eth_subscription" {
		return nil
	}
	hex := gjson.GetBytes(msg, "params.result.number").String()
	block, err := strconv.ParseUint(strings.TrimPrefix(hex, "0x"), 16, 64)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if block <= s.last {
		s.mu.Unlock()
		return nil
	}
	s.last = block
	s.mu.Unlock()

	monitor.IncHeadReceived(s.chain)

	if s.handler != nil {
		s.handler(s.chain, block)
	}
	return nil
}
