package concurrent

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// Map 泛型并发 map，基于 sync.Map 并额外维护元素个数
type Map[K comparable, V any] struct {
	length atomic.Int64
	data   sync.Map
}

// Len 当前元素个数
func (m *Map[K, V]) Len() int64 {
	return m.length.Load()
}

func (m *Map[K, V]) Load(key K) (V, bool) {
	value, ok := m.data.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return value.(V), true
}

// Store 写入或覆盖
func (m *Map[K, V]) Store(key K, value V) {
	if _, loaded := m.data.Swap(key, value); !loaded {
		m.length.Add(1)
	}
}

// LoadOrStore 已存在时返回旧值和 true，否则写入并返回 false
func (m *Map[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := m.data.LoadOrStore(key, value)
	if !loaded {
		m.length.Add(1)
	}
	return actual.(V), loaded
}

func (m *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	value, loaded := m.data.LoadAndDelete(key)
	if !loaded {
		var zero V
		return zero, false
	}
	m.length.Add(-1)
	return value.(V), true
}

func (m *Map[K, V]) Delete(key K) {
	m.LoadAndDelete(key)
}

// CompareAndDelete 仅当当前值等于 old 时删除，V 的动态类型必须可比较
func (m *Map[K, V]) CompareAndDelete(key K, old V) bool {
	if m.data.CompareAndDelete(key, old) {
		m.length.Add(-1)
		return true
	}
	return false
}

// Range 遍历，f 返回 false 时停止，不保证一致性快照
func (m *Map[K, V]) Range(f func(K, V) bool) {
	m.data.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// SortedKeys 返回有序的键列表
func SortedKeys[K cmp.Ordered, V any](m *Map[K, V]) []K {
	keys := make([]K, 0, m.Len())
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	slices.Sort(keys)
	return keys
}
