package sigproc

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/utrading/utrading-copy-trader/pkg/goplus"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

type HandlerFunc func(os.Signal)

// DefaultShutdownTimeout 收到信号后等待 shutdown 完成的最长时间
const DefaultShutdownTimeout = 30 * time.Second

// GracefulShutdown 监听退出信号，执行 shutdown 后退出进程
// shutdown 提前完成时立即退出，否则在 timeout 后强制退出
func GracefulShutdown(timeout time.Duration, shutdown HandlerFunc) {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	goplus.Go(func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("received signal")

		done := make(chan struct{})
		goplus.Go(func() {
			defer close(done)
			shutdown(sig)
		})

		select {
		case <-done:
		case <-time.After(timeout):
			logger.Warn().Dur("timeout", timeout).Msg("shutdown timed out, forcing exit")
		}

		os.Exit(0)
	})
}
