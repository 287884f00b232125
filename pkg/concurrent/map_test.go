package concurrent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_LenTracksStoreAndDelete(t *testing.T) {
	var m Map[string, int]

	m.Store("a", 1)
	m.Store("a", 2)
	m.Store("b", 3)
	assert.Equal(t, int64(2), m.Len())

	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	actual, loaded := m.LoadOrStore("b", 9)
	assert.True(t, loaded)
	assert.Equal(t, 3, actual)

	m.Delete("a")
	m.Delete("missing")
	assert.Equal(t, int64(1), m.Len())

	_, ok = m.LoadAndDelete("b")
	assert.True(t, ok)
	assert.Zero(t, m.Len())
}

func TestMap_CompareAndDelete(t *testing.T) {
	var m Map[string, int]
	m.Store("k", 1)

	assert.False(t, m.CompareAndDelete("k", 2))
	assert.Equal(t, int64(1), m.Len())
	assert.True(t, m.CompareAndDelete("k", 1))
	assert.Zero(t, m.Len())
}

func TestMap_ConcurrentStore(t *testing.T) {
	var m Map[int, int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				m.Store(k, k)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), m.Len())
	assert.Len(t, SortedKeys(&m), 100)
	assert.Equal(t, 0, SortedKeys(&m)[0])
}
