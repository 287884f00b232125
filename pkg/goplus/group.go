package goplus

import (
	"sync"
	"sync/atomic"
)

var (
	defaultGroup     *WaitGroup
	defaultGroupOnce sync.Once
)

// DefaultGroup 进程级协程组，用于生命周期跟随进程的后台协程
func DefaultGroup() *WaitGroup {
	defaultGroupOnce.Do(func() {
		defaultGroup = NewWaitGroup()
	})
	return defaultGroup
}

// Go 在默认协程组中启动协程，panic 会被记录而不会导致进程退出
func Go(fn func()) {
	DefaultGroup().Go(fn)
}

// WaitGroup 带 panic 恢复和在途计数的 sync.WaitGroup
type WaitGroup struct {
	wg             sync.WaitGroup
	CurrentGoCount atomic.Int64
}

func NewWaitGroup() *WaitGroup {
	return &WaitGroup{}
}

func (s *WaitGroup) Go(fn func()) {
	s.CurrentGoCount.Add(1)
	s.wg.Add(1)

	go func() {
		defer func() {
			s.CurrentGoCount.Add(-1)
			s.wg.Done()
		}()
		defer Recover()

		fn()
	}()
}

func (s *WaitGroup) Wait() {
	s.wg.Wait()
}
