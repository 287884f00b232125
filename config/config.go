package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

type CopyTrader struct {
	Mode                    string        `toml:"mode"` // paper | live
	PortfolioValueUSD       float64       `toml:"portfolio_value_usd"`
	HealthServerAddr        string        `toml:"health_server_addr"`
	QueueSize               int           `toml:"queue_size"`
	MaxRiskScore            float64       `toml:"max_risk_score"`
	NormalTradeSizeUSD      float64       `toml:"normal_trade_size_usd"`
	DedupTTL                time.Duration `toml:"dedup_ttl"`
	PerformanceSyncInterval time.Duration `toml:"performance_sync_interval"`
	RetentionInterval       time.Duration `toml:"retention_interval"`
	WalletReloadInterval    time.Duration `toml:"wallet_reload_interval"`
	WalletRemoveGrace       time.Duration `toml:"wallet_remove_grace"`
	ShutdownTimeout         time.Duration `toml:"shutdown_timeout"`
}

type Monitor struct {
	PollInterval     time.Duration `toml:"poll_interval"`
	MaxBackoff       time.Duration `toml:"max_backoff"`
	FetchConcurrency int           `toml:"fetch_concurrency"`
	FetchTimeout     time.Duration `toml:"fetch_timeout"`
	MinValueUSD      float64       `toml:"min_value_usd"`
	MaxValueUSD      float64       `toml:"max_value_usd"`
	AllowBuys        bool          `toml:"allow_buys"`
	AllowSells       bool          `toml:"allow_sells"`
	SubscribeHeads   bool          `toml:"subscribe_heads"`
}

type RiskProfile struct {
	MaxPositionUSD    float64  `toml:"max_position_usd"`
	MaxAllocationPct  float64  `toml:"max_allocation_pct"`
	StopLossPct       float64  `toml:"stop_loss_pct"`
	TakeProfitPct     float64  `toml:"take_profit_pct"`
	MaxDailyLossUSD   float64  `toml:"max_daily_loss_usd"`
	MinConfidence     float64  `toml:"min_confidence"`
	MaxWarnings       int      `toml:"max_warnings"`
	LiquidityFraction float64  `toml:"liquidity_fraction"`
	MinLiquidityUSD   float64  `toml:"min_liquidity_usd"`
	AllowedChains     []string `toml:"allowed_chains"` // 为空时不限制
}

type Risk struct {
	AccountBalanceUSD  float64                `toml:"account_balance_usd"`
	MomentumWeight     float64                `toml:"momentum_weight"`
	SignalRiskWeight   float64                `toml:"signal_risk_weight"`
	HighRiskScoreWarn  float64                `toml:"high_risk_score_warn"`
	LargeSizeRatioWarn float64                `toml:"large_size_ratio_warn"`
	NewAssetAgeHours   float64                `toml:"new_asset_age_hours"`
	LossWindow         time.Duration          `toml:"loss_window"`
	ChainMultipliers   map[string]float64     `toml:"chain_multipliers"`
	Profiles           map[string]RiskProfile `toml:"profiles"`
}

type Order struct {
	Timeout          time.Duration `toml:"timeout"`
	MaxSlippageBps   int           `toml:"max_slippage_bps"`
	PaperFeeBps      int           `toml:"paper_fee_bps"`
	PaperSlippageBps int           `toml:"paper_slippage_bps"`
	MonitorPoolSize  int           `toml:"monitor_pool_size"`
	HistoryTTL       time.Duration `toml:"history_ttl"`
}

type Swap struct {
	Endpoint     string        `toml:"endpoint"`
	APIKey       string        `toml:"api_key"`
	Timeout      time.Duration `toml:"timeout"`
	PollInterval time.Duration `toml:"poll_interval"`
	RateLimit    float64       `toml:"rate_limit"`
}

type Market struct {
	Endpoint  string        `toml:"endpoint"`
	CacheTTL  time.Duration `toml:"cache_ttl"`
	RateLimit float64       `toml:"rate_limit"`
	Timeout   time.Duration `toml:"timeout"`
}

type Chain struct {
	Enabled        bool     `toml:"enabled"`
	ChainID        int64    `toml:"chain_id"`
	ExplorerURL    string   `toml:"explorer_url"`
	ExplorerAPIKey string   `toml:"explorer_api_key"`
	WSURL          string   `toml:"ws_url"`
	RateLimit      float64  `toml:"rate_limit"`
	StableTokens   []string `toml:"stable_tokens"`
	WrappedNative  string   `toml:"wrapped_native"`
}

type Database struct {
	Driver     string `toml:"driver"` // mysql | sqlite
	SQLitePath string `toml:"sqlite_path"`
}

type MySQL struct {
	DSN                string   `toml:"dsn"`
	SlaveAddr          []string `toml:"slave_addr"`
	MaxIdleConnections int      `toml:"max_idle_connections"`
	MaxOpenConnections int      `toml:"max_open_connections"`
	SetConnMaxLifetime int      `toml:"set_conn_max_lifetime"`
	SetConnMaxIdleTime int      `toml:"set_conn_max_idle_time"`
	ProxyEnabled       bool     `toml:"proxy_enabled"`
	ProxyAddr          string   `toml:"proxy_addr"`
}

type NATS struct {
	Endpoint      string `toml:"endpoint"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type Retention struct {
	TransactionDays int `toml:"transaction_days"`
	CopyTradeDays   int `toml:"copy_trade_days"`
	MetricDays      int `toml:"metric_days"`
	MaxTransactions int `toml:"max_transactions"`
}

type Logger struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
	Console    bool   `toml:"console"`
}

type Config struct {
	CopyTrader CopyTrader       `toml:"copy_trader"`
	Monitor    Monitor          `toml:"monitor"`
	Risk       Risk             `toml:"risk"`
	Order      Order            `toml:"order"`
	Swap       Swap             `toml:"swap"`
	Market     Market           `toml:"market"`
	Chains     map[string]Chain `toml:"chains"`
	Database   Database         `toml:"database"`
	MySQL      MySQL            `toml:"mysql"`
	NATS       NATS             `toml:"nats"`
	Retention  Retention        `toml:"retention"`
	Logger     Logger           `toml:"log"`
}

// 支持从环境变量覆盖的敏感配置
const (
	EnvMySQLDSN       = "COPY_MYSQL_DSN"
	EnvNATSURL        = "COPY_NATS_URL"
	EnvExplorerAPIKey = "COPY_EXPLORER_API_KEY"
	EnvSwapAPIKey     = "COPY_SWAP_API_KEY"
)

var (
	cfg         *Config
	cfgPath     string
	cfgLock     sync.RWMutex
	lastModTime time.Time
	stopChan    chan struct{}
	reloadHooks []func(*Config)
)

// OnReload 注册配置重载成功后的回调
func OnReload(fn func(*Config)) {
	cfgLock.Lock()
	reloadHooks = append(reloadHooks, fn)
	cfgLock.Unlock()
}

func Default() *Config {
	return &Config{
		CopyTrader: CopyTrader{
			Mode:                    "paper",
			PortfolioValueUSD:       10000,
			HealthServerAddr:        "0.0.0.0:16900",
			QueueSize:               1024,
			MaxRiskScore:            70,
			NormalTradeSizeUSD:      1000,
			DedupTTL:                24 * time.Hour,
			PerformanceSyncInterval: 5 * time.Minute,
			RetentionInterval:       time.Hour,
			WalletReloadInterval:    time.Minute,
			WalletRemoveGrace:       2 * time.Minute,
			ShutdownTimeout:         30 * time.Second,
		},
		Monitor: Monitor{
			PollInterval:     15 * time.Second,
			MaxBackoff:       5 * time.Minute,
			FetchConcurrency: 8,
			FetchTimeout:     15 * time.Second,
			MinValueUSD:      10,
			MaxValueUSD:      1_000_000,
			AllowBuys:        true,
			AllowSells:       true,
			SubscribeHeads:   false,
		},
		Risk: Risk{
			AccountBalanceUSD:  10000,
			MomentumWeight:     0.2,
			SignalRiskWeight:   0.5,
			HighRiskScoreWarn:  70,
			LargeSizeRatioWarn: 0.02,
			NewAssetAgeHours:   24,
			LossWindow:         24 * time.Hour,
			ChainMultipliers: map[string]float64{
				"ethereum": 1.0,
				"base":     0.9,
				"arbitrum": 0.9,
				"bsc":      0.8,
				"polygon":  0.8,
				"solana":   0.7,
			},
			Profiles: map[string]RiskProfile{
				"conservative": {
					MaxPositionUSD: 250, MaxAllocationPct: 2.5, StopLossPct: 5, TakeProfitPct: 10,
					MaxDailyLossUSD: 100, MinConfidence: 0.6, MaxWarnings: 2,
					LiquidityFraction: 0.02, MinLiquidityUSD: 100_000,
				},
				"moderate": {
					MaxPositionUSD: 1000, MaxAllocationPct: 10, StopLossPct: 10, TakeProfitPct: 25,
					MaxDailyLossUSD: 500, MinConfidence: 0.5, MaxWarnings: 3,
					LiquidityFraction: 0.05, MinLiquidityUSD: 25_000,
				},
				"aggressive": {
					MaxPositionUSD: 5000, MaxAllocationPct: 25, StopLossPct: 20, TakeProfitPct: 50,
					MaxDailyLossUSD: 2000, MinConfidence: 0.35, MaxWarnings: 4,
					LiquidityFraction: 0.1, MinLiquidityUSD: 10_000,
				},
			},
		},
		Order: Order{
			Timeout:          2 * time.Minute,
			MaxSlippageBps:   5000,
			PaperFeeBps:      30,
			PaperSlippageBps: 10,
			MonitorPoolSize:  256,
			HistoryTTL:       24 * time.Hour,
		},
		Swap: Swap{
			Endpoint:     "http://localhost:18080",
			Timeout:      30 * time.Second,
			PollInterval: 3 * time.Second,
			RateLimit:    10,
		},
		Market: Market{
			Endpoint:  "https://api.dexscreener.com",
			CacheTTL:  30 * time.Second,
			RateLimit: 5,
			Timeout:   10 * time.Second,
		},
		Chains: map[string]Chain{
			"ethereum": {
				Enabled: true, ChainID: 1, ExplorerURL: "https://api.etherscan.io/v2/api", RateLimit: 4,
				StableTokens: []string{
					"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
					"0xdac17f958d2ee523a2206206994597c13d831ec7",
					"0x6b175474e89094c44da98b954eedeac495271d0f",
				},
				WrappedNative: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
			},
			"base": {
				Enabled: true, ChainID: 8453, ExplorerURL: "https://api.etherscan.io/v2/api", RateLimit: 4,
				StableTokens:  []string{"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"},
				WrappedNative: "0x4200000000000000000000000000000000000006",
			},
			"bsc": {
				Enabled: true, ChainID: 56, ExplorerURL: "https://api.etherscan.io/v2/api", RateLimit: 4,
				StableTokens: []string{
					"0x55d398326f99059ff775485246999027b3197955",
					"0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d",
				},
				WrappedNative: "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c",
			},
		},
		Database: Database{
			Driver:     "mysql",
			SQLitePath: "data/copy_trader.db",
		},
		MySQL: MySQL{
			DSN:                "root:password@tcp(localhost:3306)/utrading?charset=utf8mb4&parseTime=True&loc=Local",
			SlaveAddr:          []string{},
			MaxIdleConnections: 16,
			MaxOpenConnections: 64,
			SetConnMaxLifetime: 7200,
			SetConnMaxIdleTime: 3600,
			ProxyEnabled:       false,
			ProxyAddr:          "127.0.0.1:7890",
		},
		NATS: NATS{
			Endpoint:      "nats://localhost:4222",
			SubjectPrefix: "copytrade.events",
		},
		Retention: Retention{
			TransactionDays: 30,
			CopyTradeDays:   90,
			MetricDays:      365,
			MaxTransactions: 500000,
		},
		Logger: Logger{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 60,
			MaxAge:     7,
			Compress:   false,
			Console:    false,
		},
	}
}

// Validate 校验配置的基本约束
func (c *Config) Validate() error {
	if c.CopyTrader.Mode != "paper" && c.CopyTrader.Mode != "live" {
		return fmt.Errorf("copy_trader.mode must be paper or live, got %q", c.CopyTrader.Mode)
	}
	if c.CopyTrader.PortfolioValueUSD <= 0 {
		return errors.New("copy_trader.portfolio_value_usd must be positive")
	}
	if c.Monitor.PollInterval <= 0 {
		return errors.New("monitor.poll_interval must be positive")
	}
	if c.Monitor.MinValueUSD < 0 || c.Monitor.MaxValueUSD < c.Monitor.MinValueUSD {
		return errors.New("monitor value bounds are invalid")
	}
	if c.Order.MaxSlippageBps <= 0 || c.Order.MaxSlippageBps > 10000 {
		return errors.New("order.max_slippage_bps must be in (0, 10000]")
	}
	for mode, p := range c.Risk.Profiles {
		if p.MaxPositionUSD <= 0 || p.StopLossPct <= 0 || p.LiquidityFraction <= 0 {
			return fmt.Errorf("risk profile %s has non-positive limits", mode)
		}
	}
	if c.CopyTrader.Mode == "live" && c.Swap.Endpoint == "" {
		return errors.New("swap.endpoint is required in live mode")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.Database.Driver)
	}
	return nil
}

// applyEnv 使用环境变量覆盖敏感配置
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvMySQLDSN); v != "" {
		c.MySQL.DSN = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.NATS.Endpoint = v
	}
	if v := os.Getenv(EnvSwapAPIKey); v != "" {
		c.Swap.APIKey = v
	}
	if v := os.Getenv(EnvExplorerAPIKey); v != "" {
		for name, ch := range c.Chains {
			if ch.ExplorerAPIKey == "" {
				ch.ExplorerAPIKey = v
				c.Chains[name] = ch
			}
		}
	}
}

func Load(path string) error {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg = c
	cfgPath = path
	lastModTime = info.ModTime()

	return nil
}

func Get() *Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	return cfg
}

// Init 初始化配置并启动定期重载（默认10秒）
func Init(path string) error {
	return InitWithInterval(path, 10*time.Second)
}

// InitWithInterval 初始化配置并指定重载间隔
func InitWithInterval(path string, interval time.Duration) error {
	if err := Load(path); err != nil {
		return err
	}

	stopChan = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reloadIfNeeded()
			case <-stopChan:
				return
			}
		}
	}()

	return nil
}

// Stop 停止配置重载
func Stop() {
	if stopChan != nil {
		close(stopChan)
		stopChan = nil
	}
}

// reloadIfNeeded 仅在文件修改时重载，重载失败保留旧配置
func reloadIfNeeded() {
	cfgLock.RLock()
	path := cfgPath
	lastMod := lastModTime
	cfgLock.RUnlock()

	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Err(err).Msg("config stat failed")
		return
	}

	if info.ModTime().After(lastMod) {
		if err = Load(path); err != nil {
			logger.Error().Err(err).Msg("config reload failed")
			return
		}
		logger.Info().Msg("config reloaded")

		cfgLock.RLock()
		c, hooks := cfg, append([]func(*Config){}, reloadHooks...)
		cfgLock.RUnlock()
		for _, fn := range hooks {
			fn(c)
		}
	}
}
