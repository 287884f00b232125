package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

// mockHandler 记录收到的信号，可按需阻塞
type mockHandler struct {
	mu      sync.Mutex
	hashes  []string
	release chan struct{}
}

func newMockHandler() *mockHandler {
	return &mockHandler{}
}

func (h *mockHandler) HandleMessage(msg Message) error {
	if h.release != nil {
		<-h.release
	}
	sig, ok := msg.(SignalMessage)
	if !ok {
		return errors.New("unexpected message")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hashes = append(h.hashes, sig.Tx.TxHash)
	return nil
}

func (h *mockHandler) Hashes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.hashes...)
}

func signal(hash string) *models.WalletTransaction {
	return &models.WalletTransaction{TxHash: hash, Chain: "ethereum"}
}

func TestMessageQueue_FIFO(t *testing.T) {
	handler := newMockHandler()
	q := NewMessageQueue(16)
	q.Start(handler)
	defer q.Stop()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.HandleSignal(ctx, signal(fmt.Sprintf("0x%02d", i))))
	}

	assert.Eventually(t, func() bool { return len(handler.Hashes()) == 10 }, time.Second, 5*time.Millisecond)
	hashes := handler.Hashes()
	for i, h := range hashes {
		assert.Equal(t, fmt.Sprintf("0x%02d", i), h)
	}
}

func TestMessageQueue_BackPressureBlocksProducer(t *testing.T) {
	handler := newMockHandler()
	handler.release = make(chan struct{})
	q := NewMessageQueue(1)
	q.Start(handler)

	ctx := context.Background()
	// 第一条被 worker 取走并阻塞在 handler，第二条占满队列
	require.NoError(t, q.HandleSignal(ctx, signal("0x1")))
	assert.Eventually(t, func() bool { return q.Size() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.HandleSignal(ctx, signal("0x2")))

	blocked := make(chan error, 1)
	go func() { blocked <- q.HandleSignal(ctx, signal("0x3")) }()

	select {
	case <-blocked:
		t.Fatal("producer should block while queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(handler.release)
	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer not released")
	}

	q.Stop()
	assert.Equal(t, []string{"0x1", "0x2", "0x3"}, handler.Hashes())
}

func TestMessageQueue_ContextCancelWhileFull(t *testing.T) {
	q := NewMessageQueue(1)
	// 未启动 worker，队列不会被消费
	require.NoError(t, q.HandleSignal(context.Background(), signal("0x1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.HandleSignal(ctx, signal("0x2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Size())
}

func TestMessageQueue_StopDrainsAndRejects(t *testing.T) {
	handler := newMockHandler()
	handler.release = make(chan struct{})
	q := NewMessageQueue(8)
	q.Start(handler)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.HandleSignal(ctx, signal(fmt.Sprintf("0x%d", i))))
	}

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	close(handler.release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
	assert.Len(t, handler.Hashes(), 4)

	err := q.HandleSignal(ctx, signal("0xlate"))
	assert.ErrorIs(t, err, ErrQueueClosed)

	// 重复 Stop 不会 panic
	q.Stop()
}
