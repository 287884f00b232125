package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utrading/utrading-copy-trader/pkg/goplus"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// HealthServer HTTP 健康检查和指标服务器
type HealthServer struct {
	addr         string
	coordinator  CoordinatorRef
	publisher    PublisherRef
	server       *http.Server
	mu           sync.RWMutex
	healthy      bool
	healthySince time.Time
	startTime    time.Time
}

// CoordinatorRef 跟单协调器引用接口
type CoordinatorRef interface {
	IsRunning() bool
	StatusSnapshot() any
}

// PublisherRef NATS发布器引用接口
type PublisherRef interface {
	IsConnected() bool
}

// NewHealthServer 创建健康检查服务器，publisher 可为 nil
func NewHealthServer(addr string, coordinator CoordinatorRef, publisher PublisherRef) *HealthServer {
	return &HealthServer{
		addr:         addr,
		coordinator:  coordinator,
		publisher:    publisher,
		healthy:      true,
		healthySince: time.Now(),
		startTime:    time.Now(),
	}
}

// Handler 路由
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/health/ready", h.readyHandler)
	mux.HandleFunc("/health/live", h.liveHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", h.statusHandler)

	return mux
}

// Start 启动HTTP服务器
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	goplus.Go(func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server error")
		}
	})

	logger.Info().Str("addr", h.addr).Msg("health server started")
	return nil
}

// Stop 停止服务器
func (h *HealthServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.healthy = false
	h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !h.isReady() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *HealthServer) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// statusHandler 协调器的系统状态
func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		http.Error(w, "coordinator not attached", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.coordinator.StatusSnapshot())
}

// isReady 协调器运行中即就绪，NATS 断开不影响跟单
func (h *HealthServer) isReady() bool {
	h.mu.RLock()
	healthy := h.healthy
	h.mu.RUnlock()

	if !healthy {
		return false
	}
	return h.coordinator != nil && h.coordinator.IsRunning()
}

func (h *HealthServer) getHealthStatus() HealthStatus {
	h.mu.RLock()
	healthy := h.healthy
	healthySince := h.healthySince
	h.mu.RUnlock()

	status := HealthStatus{
		Healthy:      healthy,
		HealthySince: healthySince.Format(time.RFC3339),
		Uptime:       time.Since(h.startTime).String(),
	}
	if h.coordinator != nil {
		status.CoordinatorRunning = h.coordinator.IsRunning()
	}
	if h.publisher != nil {
		status.NATS.Enabled = true
		status.NATS.Connected = h.publisher.IsConnected()
	}
	return status
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("write health response failed")
	}
}

// HealthStatus 健康状态结构
type HealthStatus struct {
	Healthy            bool       `json:"healthy"`
	HealthySince       string     `json:"healthy_since"`
	Uptime             string     `json:"uptime"`
	CoordinatorRunning bool       `json:"coordinator_running"`
	NATS               NATSStatus `json:"nats"`
}

// NATSStatus NATS连接状态
type NATSStatus struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}
