package goplus

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

var panics atomic.Int64

// Recover 必须直接 defer 调用。记录 panic 和调用栈后吞掉
func Recover() {
	if r := recover(); r != nil {
		panics.Add(1)
		logger.Error().
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("goroutine panic recovered")
	}
}

// PanicCount 进程启动以来被 Recover 吞掉的 panic 次数
func PanicCount() int64 {
	return panics.Load()
}
