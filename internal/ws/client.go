package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second // 大于 pingPeriod
	pingPeriod     = 50 * time.Second
	maxMessageSize = 2 << 20
)

var ErrClosed = errors.New("ws: connection closed")

// RPCError 节点返回的 JSON-RPC error 对象
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NotifyHandler 处理没有 id 的推送消息（eth_subscription 等）
type NotifyHandler func(method string, msg []byte) error

// Client 节点 WebSocket 端点上的 JSON-RPC 客户端。
// 带 id 的响应按 id 交给等待中的 Request，其余消息交给 NotifyHandler。
type Client struct {
	url  string
	conn *websocket.Conn
	mu   sync.RWMutex

	writeMu sync.Mutex

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan gjson.Result

	done      chan struct{}
	closeOnce sync.Once

	onNotify     NotifyHandler
	onDisconnect func()
}

func NewClient(url string) *Client {
	if url == "" {
		panic("ws: URL cannot be empty")
	}
	return &Client{
		url:     url,
		pending: make(map[int64]chan gjson.Result),
		done:    make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// ctx 结束或 Close 时关闭底层连接，让 readPump 退出
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.dropConn()
	}()

	go c.readPump(conn)
	go c.pingPump()

	return nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.dropConn()
	})
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Done Close 之后关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) SetNotifyHandler(handler NotifyHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotify = handler
}

func (c *Client) SetDisconnectCallback(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = callback
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		c.dropConn()
		c.failPending()

		c.mu.RLock()
		callback := c.onDisconnect
		c.mu.RUnlock()
		if callback != nil {
			callback()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("url", c.url).Msg("ws read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg []byte) {
	parsed := gjson.ParseBytes(msg)
	if id := parsed.Get("id"); id.Exists() && !parsed.Get("method").Exists() {
		c.pendingMu.Lock()
		ch, ok := c.pending[id.Int()]
		delete(c.pending, id.Int())
		c.pendingMu.Unlock()
		if ok {
			ch <- parsed
		}
		return
	}

	c.mu.RLock()
	handler := c.onNotify
	c.mu.RUnlock()
	if handler == nil {
		return
	}
	if err := handler(parsed.Get("method").String(), msg); err != nil {
		logger.Warn().Err(err).Str("url", c.url).Msg("ws notify handler error")
	}
}

// failPending 连接断开时唤醒所有等待中的请求
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(func(conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.PingMessage, nil)
			}); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(fn func(conn *websocket.Conn) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrClosed
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return fn(conn)
}

// Request 发送 JSON-RPC 请求并等待同 id 的响应，返回 result 字段
func (c *Client) Request(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	if params == nil {
		params = []any{}
	}
	id := c.nextID.Add(1)
	ch := make(chan gjson.Result, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	err := c.write(func(conn *websocket.Conn) error {
		return conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"method":  method,
			"params":  params,
		})
	})
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return gjson.Result{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return gjson.Result{}, ErrClosed
		}
		if e := resp.Get("error"); e.Exists() {
			return gjson.Result{}, &RPCError{Code: e.Get("code").Int(), Message: e.Get("message").String()}
		}
		return resp.Get("result"), nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return gjson.Result{}, ctx.Err()
	case <-c.done:
		return gjson.Result{}, ErrClosed
	}
}

// Subscribe eth_subscribe，返回订阅 id
func (c *Client) Subscribe(ctx context.Context, params ...any) (string, error) {
	result, err := c.Request(ctx, "eth_subscribe", params...)
	if err != nil {
		return "", err
	}
	if result.String() == "" {
		return "", fmt.Errorf("eth_subscribe %v: empty subscription id", params)
	}
	return result.String(), nil
}
