package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupCache_IsSeen(t *testing.T) {
	c := NewDedupCache(30 * time.Second)

	assert.False(t, c.IsSeen("0xABC"))

	c.Mark("0xABC")
	assert.True(t, c.IsSeen("0xABC"))
	// 哈希大小写不敏感
	assert.True(t, c.IsSeen("0xabc"))
	assert.False(t, c.IsSeen("0xdef"))

	c.Forget("0xabc")
	assert.False(t, c.IsSeen("0xABC"))
}

func TestDedupCache_TTL(t *testing.T) {
	c := NewDedupCache(100 * time.Millisecond)

	c.Mark("0x1")
	assert.True(t, c.IsSeen("0x1"))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, c.IsSeen("0x1"))
}

func TestDedupCache_TryMarkConcurrent(t *testing.T) {
	c := NewDedupCache(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryMark("0xsame") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	// 只有一个协程能抢到标记
	assert.Equal(t, int32(1), wins.Load())
}

type fakeHashSource struct {
	hashes []string
	err    error
}

func (f *fakeHashSource) RecentHashes(_ context.Context, _ time.Time) ([]string, error) {
	return f.hashes, f.err
}

func TestDedupCache_LoadFromDB(t *testing.T) {
	c := NewDedupCache(time.Hour)

	require.NoError(t, c.LoadFromDB(context.Background(), &fakeHashSource{hashes: []string{"0x1", "0x2"}}))
	assert.True(t, c.IsSeen("0x1"))
	assert.True(t, c.IsSeen("0x2"))
	assert.Equal(t, 2, c.Stats()["item_count"])

	assert.Error(t, c.LoadFromDB(context.Background(), nil))
	assert.Error(t, c.LoadFromDB(context.Background(), &fakeHashSource{err: errors.New("db down")}))
}

func TestTTLCache(t *testing.T) {
	c := NewTTLCache[int](50 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	c.Set("b", 2)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, c.Items())

	c.Delete("b")
	assert.Equal(t, 1, c.Len())

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
}
