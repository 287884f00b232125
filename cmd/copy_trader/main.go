package main

import (
	"context"
	"flag"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"github.com/utrading/utrading-copy-trader/config"
	"github.com/utrading/utrading-copy-trader/internal/chain"
	"github.com/utrading/utrading-copy-trader/internal/coordinator"
	"github.com/utrading/utrading-copy-trader/internal/dal"
	"github.com/utrading/utrading-copy-trader/internal/dao"
	"github.com/utrading/utrading-copy-trader/internal/market"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/internal/monitor"
	"github.com/utrading/utrading-copy-trader/internal/nats"
	"github.com/utrading/utrading-copy-trader/internal/order"
	"github.com/utrading/utrading-copy-trader/internal/risk"
	"github.com/utrading/utrading-copy-trader/pkg/goplus"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
	"github.com/utrading/utrading-copy-trader/pkg/sigproc"
)

func main() {
	var configFile, envFile string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with secrets")
	flag.Parse()

	// .env 不存在时只使用进程环境变量
	_ = godotenv.Load(envFile)

	// 加载配置
	if err := config.Init(configFile); err != nil {
		panic(err)
	}
	cfg := config.Get()

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Close()

	logger.Info().Str("mode", cfg.CopyTrader.Mode).Msg("copy_trader service starting...")

	// 初始化指标
	monitor.InitMetrics()

	// 初始化数据库
	if err := dal.InitDB(cfg.Database, cfg.MySQL); err != nil {
		logger.Fatal().Err(err).Msg("init database failed")
	}
	if err := dal.AutoMigrate(dal.DB()); err != nil {
		logger.Fatal().Err(err).Msg("auto migrate failed")
	}
	store := dao.New(dal.DB())

	// 行情和链上数据源
	marketClient := market.NewClient(market.Config{
		Endpoint:  cfg.Market.Endpoint,
		CacheTTL:  cfg.Market.CacheTTL,
		RateLimit: cfg.Market.RateLimit,
		Timeout:   cfg.Market.Timeout,
	})
	provider := chain.NewExplorerProvider(explorerChains(cfg), marketClient, time.Second)

	// 风控，配置热更新时重载档位
	riskManager := risk.NewManagerFromConfig(cfg)
	config.OnReload(riskManager.Reload)

	// 执行后端
	var backend order.SwapBackend
	if models.ExecutionMode(cfg.CopyTrader.Mode) == models.ModeLive {
		backend = order.NewLiveBackend(order.LiveConfig{
			Endpoint:     cfg.Swap.Endpoint,
			APIKey:       cfg.Swap.APIKey,
			Timeout:      cfg.Swap.Timeout,
			PollInterval: cfg.Swap.PollInterval,
			RateLimit:    cfg.Swap.RateLimit,
		})
	} else {
		backend = order.NewPaperBackend(cfg.Order.PaperFeeBps, cfg.Order.PaperSlippageBps)
	}

	// 初始化 NATS，未配置时不广播事件
	var (
		sink      nats.EventSink
		pubRef    monitor.PublisherRef
		publisher *nats.Publisher
		err       error
	)
	if cfg.NATS.Endpoint != "" {
		publisher, err = nats.NewPublisher(cfg.NATS.Endpoint, cfg.NATS.SubjectPrefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("init nats publisher failed")
		}
		sink, pubRef = publisher, publisher
	}

	coord, err := coordinator.New(coordinator.ConfigFrom(cfg), coordinator.Deps{
		Store:    store,
		Provider: provider,
		Market:   marketClient,
		Risk:     riskManager,
		Backend:  backend,
		Sink:     sink,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init coordinator failed")
	}
	if err = coord.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start coordinator failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 新区块订阅，提前唤醒对应链的轮询
	heads := goplus.NewWaitGroup()
	if cfg.Monitor.SubscribeHeads {
		for _, name := range sortedChainNames(cfg) {
			ch := cfg.Chains[name]
			if !ch.Enabled || ch.WSURL == "" {
				continue
			}
			sub := chain.NewHeadSubscriber(name, ch.WSURL, coord.NotifyNewHead)
			heads.Go(func() {
				sub.Run(ctx)
			})
		}
	}

	// 初始化健康检查服务器
	healthServer := monitor.NewHealthServer(cfg.CopyTrader.HealthServerAddr, coord, pubRef)
	if err = healthServer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start health server failed")
	}

	logger.Info().
		Str("mode", string(backend.Mode())).
		Str("health_addr", cfg.CopyTrader.HealthServerAddr).
		Strs("chains", sortedChainNames(cfg)).
		Msg("copy_trader service started successfully")

	done := make(chan struct{})
	sigproc.GracefulShutdown(cfg.CopyTrader.ShutdownTimeout, func(sig os.Signal) {
		defer close(done)
		logger.Info().Str("signal", sig.String()).Msg("shutting down...")

		// 停止新区块订阅
		cancel()
		heads.Wait()

		// 停止监控并排空信号队列
		coord.Close()

		// 关闭健康检查服务器
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = healthServer.Stop(shutdownCtx)

		if publisher != nil {
			_ = publisher.Close()
		}

		// 关闭配置重载
		config.Stop()

		// 关闭数据库
		dal.CloseDB()

		logger.Info().Msg("copy_trader service stopped")
	})

	<-done
}

// explorerChains 已启用的链，按名称排序
func explorerChains(cfg *config.Config) []chain.ExplorerChain {
	var list []chain.ExplorerChain
	for _, name := range sortedChainNames(cfg) {
		ch := cfg.Chains[name]
		if !ch.Enabled {
			continue
		}
		list = append(list, chain.ExplorerChain{
			Name:          name,
			ChainID:       ch.ChainID,
			BaseURL:       ch.ExplorerURL,
			APIKey:        ch.ExplorerAPIKey,
			RateLimit:     ch.RateLimit,
			StableTokens:  ch.StableTokens,
			WrappedNative: ch.WrappedNative,
		})
	}
	return list
}

func sortedChainNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Chains))
	for name := range cfg.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func initLogger(cfg *config.Config) error {
	return logger.NewBuilder().
		SetDir(cfg.Logger.Dir).
		SetMaxSize(cfg.Logger.MaxSize).
		SetMaxBackups(cfg.Logger.MaxBackups).
		SetMaxAge(cfg.Logger.MaxAge).
		SetLevel(cfg.Logger.Level).
		EnableCompression(cfg.Logger.Compress).
		EnableConsoleOutput(cfg.Logger.Console).
		Build()
}
