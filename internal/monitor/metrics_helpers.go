package monitor

// 便捷函数供外部调用，无需访问 Metrics 实例

func SetWalletsWatched(count int) {
	GetMetrics().SetWalletsWatched(count)
}

func SetTradersFollowed(count int) {
	GetMetrics().SetTradersFollowed(count)
}

func IncSignalDetected(chain string) {
	GetMetrics().IncSignalDetected(chain)
}

func IncSignalFiltered(reason string) {
	GetMetrics().IncSignalFiltered(reason)
}

func IncProviderError(chain string) {
	GetMetrics().IncProviderError(chain)
}

func IncHeadReceived(chain string) {
	GetMetrics().IncHeadReceived(chain)
}

func SetWebSocketConnected(chain string, connected bool) {
	GetMetrics().SetWebSocketConnected(chain, connected)
}

func SetNATSConnected(connected bool) {
	GetMetrics().SetNATSConnected(connected)
}

func IncEventPublished(eventType string) {
	GetMetrics().IncEventPublished(eventType)
}

func IncEventError() {
	GetMetrics().IncEventError()
}

func ObserveDecision(decision, reason string, riskScore float64) {
	GetMetrics().ObserveDecision(decision, reason, riskScore)
}

func ObserveEvaluationDuration(seconds float64) {
	GetMetrics().ObserveEvaluationDuration(seconds)
}

func IncOrderStatus(mode, status string) {
	GetMetrics().IncOrderStatus(mode, status)
}

func AddOrderVolume(usd float64) {
	GetMetrics().AddOrderVolume(usd)
}

func SetActiveOrders(count int) {
	GetMetrics().SetActiveOrders(count)
}

// IncCacheHit 增加缓存命中计数
func IncCacheHit(cacheType string) {
	GetMetrics().IncCacheHit(cacheType)
}

// IncCacheMiss 增加缓存未命中计数
func IncCacheMiss(cacheType string) {
	GetMetrics().IncCacheMiss(cacheType)
}

// SetMessageQueueSize 设置信号队列大小
func SetMessageQueueSize(size int) {
	GetMetrics().SetMessageQueueSize(size)
}

// IncMessageQueueFull 增加信号队列满计数
func IncMessageQueueFull() {
	GetMetrics().IncMessageQueueFull()
}

func ObserveBatchWriteSize(size int) {
	GetMetrics().ObserveBatchWriteSize(size)
}

func ObserveBatchWriteDuration(duration float64) {
	GetMetrics().ObserveBatchWriteDuration(duration)
}

func AddRetentionDeleted(table string, n int64) {
	GetMetrics().AddRetentionDeleted(table, n)
}
