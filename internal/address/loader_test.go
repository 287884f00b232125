package address

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-copy-trader/internal/models"
)

type fakeSource struct {
	mu      sync.Mutex
	wallets []*models.TrackedWallet
	err     error
}

func (s *fakeSource) ListActive(context.Context) ([]*models.TrackedWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets, s.err
}

func (s *fakeSource) set(wallets ...*models.TrackedWallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = wallets
}

type fakeSyncer struct {
	mu      sync.Mutex
	synced  []string
	dropped []string
}

func (f *fakeSyncer) SyncTrader(w *models.TrackedWallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, w.Chain+":"+w.Address)
	return nil
}

func (f *fakeSyncer) DropTrader(address, chain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, chain+":"+address)
	return nil
}

func wallet(address, chain string) *models.TrackedWallet {
	return &models.TrackedWallet{Address: address, Chain: chain, Status: models.WalletStatusActive}
}

func TestWalletLoader_GraceBeforeDrop(t *testing.T) {
	src := &fakeSource{}
	syncer := &fakeSyncer{}
	l := NewWalletLoader(src, syncer, time.Minute, 2*time.Minute)
	defer l.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	src.set(wallet("0xa", "ethereum"), wallet("0xb", "base"))
	require.NoError(t, l.Sync())
	assert.ElementsMatch(t, []string{"ethereum:0xa", "base:0xb"}, syncer.synced)

	// 0xb 消失，进入宽限期
	src.set(wallet("0xa", "ethereum"))
	now = now.Add(time.Minute)
	require.NoError(t, l.Sync())
	assert.Empty(t, syncer.dropped)
	assert.Equal(t, 1, l.PendingRemovals())

	now = now.Add(2 * time.Minute)
	require.NoError(t, l.Sync())
	assert.Equal(t, []string{"base:0xb"}, syncer.dropped)
	assert.Equal(t, 0, l.PendingRemovals())
	assert.Equal(t, now, l.LastSync())
}

func TestWalletLoader_RecoveredWithinGrace(t *testing.T) {
	src := &fakeSource{}
	syncer := &fakeSyncer{}
	l := NewWalletLoader(src, syncer, time.Minute, 2*time.Minute)
	defer l.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	src.set(wallet("0xa", "ethereum"))
	require.NoError(t, l.Sync())

	src.set()
	now = now.Add(time.Minute)
	require.NoError(t, l.Sync())
	assert.Equal(t, 1, l.PendingRemovals())

	src.set(wallet("0xa", "ethereum"))
	now = now.Add(time.Minute)
	require.NoError(t, l.Sync())
	assert.Equal(t, 0, l.PendingRemovals())

	now = now.Add(10 * time.Minute)
	require.NoError(t, l.Sync())
	assert.Empty(t, syncer.dropped)
}

func TestWalletLoader_ForgetSkipsGrace(t *testing.T) {
	src := &fakeSource{}
	syncer := &fakeSyncer{}
	l := NewWalletLoader(src, syncer, time.Minute, time.Hour)
	defer l.Stop()

	src.set(wallet("0xa", "ethereum"))
	require.NoError(t, l.Sync())

	l.Forget("0xa", "ethereum")
	src.set()
	require.NoError(t, l.Sync())
	assert.Equal(t, 0, l.PendingRemovals())
	assert.Empty(t, syncer.dropped)
}

func TestWalletLoader_StartPropagatesError(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	l := NewWalletLoader(src, &fakeSyncer{}, time.Minute, time.Minute)
	defer l.Stop()

	assert.Error(t, l.Start())
}
