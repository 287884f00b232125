package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "copy_trader"

// Metrics 指标收集器
type Metrics struct {
	walletsWatched     prometheus.Gauge
	tradersFollowed    prometheus.Gauge
	signalsDetected    *prometheus.CounterVec
	signalsFiltered    *prometheus.CounterVec
	providerErrors     *prometheus.CounterVec
	headsReceived      *prometheus.CounterVec
	wsConnected        *prometheus.GaugeVec
	natsConnected      prometheus.Gauge
	eventsPublished    *prometheus.CounterVec
	eventErrors        prometheus.Counter
	decisions          *prometheus.CounterVec
	riskScore          prometheus.Histogram
	evaluationDuration prometheus.Histogram
	ordersByStatus     *prometheus.CounterVec
	orderVolumeUSD     prometheus.Counter
	activeOrders       prometheus.Gauge

	// 缓存
	cacheHitTotal  *prometheus.CounterVec
	cacheMissTotal *prometheus.CounterVec

	// 信号队列
	messageQueueSize      prometheus.Gauge
	messageQueueFullTotal prometheus.Counter

	// 批量写入
	batchWriteSize         prometheus.Histogram
	batchWriteDurationSecs prometheus.Histogram

	// 清理
	retentionDeleted *prometheus.CounterVec
}

// NewMetrics 创建并注册指标
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		walletsWatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallets_watched",
			Help:      "Current number of wallets under monitoring",
		}),
		tradersFollowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "traders_followed",
			Help:      "Current number of followed traders",
		}),
		signalsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_detected_total",
			Help:      "Transactions accepted by the admission filter",
		}, []string{"chain"}),
		signalsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_filtered_total",
			Help:      "Transactions dropped by the admission filter",
		}, []string{"reason"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Chain data provider failures",
		}, []string{"chain"}),
		headsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heads_received_total",
			Help:      "New block heads received over websocket",
		}, []string{"chain"}),
		wsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connected",
			Help:      "Head subscriber connection status (1=connected, 0=disconnected)",
		}, []string{"chain"}),
		natsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nats_connected",
			Help:      "NATS connection status (1=connected, 0=disconnected)",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to NATS",
		}, []string{"type"}),
		eventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Event publish failures",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Strategy decisions by outcome and reason",
		}, []string{"decision", "reason"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Risk score distribution of evaluated opportunities",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating one detected transaction",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ordersByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order state transitions by resulting status",
		}, []string{"mode", "status"}),
		orderVolumeUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_volume_usd_total",
			Help:      "Filled order notional in USD",
		}),
		activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_orders",
			Help:      "Orders not yet in a terminal state",
		}),
		cacheHitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hit_total",
			Help:      "缓存命中总数（按缓存类型）",
		}, []string{"cache_type"}), // dedup, market
		cacheMissTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_miss_total",
			Help:      "缓存未命中总数（按缓存类型）",
		}, []string{"cache_type"}),
		messageQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "message_queue_size",
			Help:      "信号队列当前大小",
		}),
		messageQueueFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_queue_full_total",
			Help:      "信号队列满导致阻塞的次数",
		}),
		batchWriteSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_write_size",
			Help:      "批量写入大小分布",
			Buckets:   []float64{1, 10, 25, 50, 100, 200, 500},
		}),
		batchWriteDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_write_duration_seconds",
			Help:      "批量写入耗时分布（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		retentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Rows removed by retention cleanup",
		}, []string{"table"}),
	}

	prometheus.MustRegister(
		m.walletsWatched,
		m.tradersFollowed,
		m.signalsDetected,
		m.signalsFiltered,
		m.providerErrors,
		m.headsReceived,
		m.wsConnected,
		m.natsConnected,
		m.eventsPublished,
		m.eventErrors,
		m.decisions,
		m.riskScore,
		m.evaluationDuration,
		m.ordersByStatus,
		m.orderVolumeUSD,
		m.activeOrders,
		m.cacheHitTotal,
		m.cacheMissTotal,
		m.messageQueueSize,
		m.messageQueueFullTotal,
		m.batchWriteSize,
		m.batchWriteDurationSecs,
		m.retentionDeleted,
	)

	return m
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *Metrics) SetWalletsWatched(count int) {
	m.walletsWatched.Set(float64(count))
}

func (m *Metrics) SetTradersFollowed(count int) {
	m.tradersFollowed.Set(float64(count))
}

func (m *Metrics) IncSignalDetected(chain string) {
	m.signalsDetected.WithLabelValues(chain).Inc()
}

func (m *Metrics) IncSignalFiltered(reason string) {
	m.signalsFiltered.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncProviderError(chain string) {
	m.providerErrors.WithLabelValues(chain).Inc()
}

func (m *Metrics) IncHeadReceived(chain string) {
	m.headsReceived.WithLabelValues(chain).Inc()
}

func (m *Metrics) SetWebSocketConnected(chain string, connected bool) {
	m.wsConnected.WithLabelValues(chain).Set(boolGauge(connected))
}

func (m *Metrics) SetNATSConnected(connected bool) {
	m.natsConnected.Set(boolGauge(connected))
}

func (m *Metrics) IncEventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncEventError() {
	m.eventErrors.Inc()
}

// ObserveDecision 记录策略决策及其风险分
func (m *Metrics) ObserveDecision(decision, reason string, riskScore float64) {
	m.decisions.WithLabelValues(decision, reason).Inc()
	if riskScore > 0 {
		m.riskScore.Observe(riskScore)
	}
}

func (m *Metrics) ObserveEvaluationDuration(seconds float64) {
	m.evaluationDuration.Observe(seconds)
}

func (m *Metrics) IncOrderStatus(mode, status string) {
	m.ordersByStatus.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) AddOrderVolume(usd float64) {
	m.orderVolumeUSD.Add(usd)
}

func (m *Metrics) SetActiveOrders(count int) {
	m.activeOrders.Set(float64(count))
}

func (m *Metrics) IncCacheHit(cacheType string) {
	m.cacheHitTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) IncCacheMiss(cacheType string) {
	m.cacheMissTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) SetMessageQueueSize(size int) {
	m.messageQueueSize.Set(float64(size))
}

func (m *Metrics) IncMessageQueueFull() {
	m.messageQueueFullTotal.Inc()
}

func (m *Metrics) ObserveBatchWriteSize(size int) {
	m.batchWriteSize.Observe(float64(size))
}

func (m *Metrics) ObserveBatchWriteDuration(duration float64) {
	m.batchWriteDurationSecs.Observe(duration)
}

func (m *Metrics) AddRetentionDeleted(table string, n int64) {
	m.retentionDeleted.WithLabelValues(table).Add(float64(n))
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics 获取全局指标收集器
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics(namespace)
	})
	return globalMetrics
}

// InitMetrics 初始化指标收集器（供main使用）
func InitMetrics() {
	GetMetrics()
}
