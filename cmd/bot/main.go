package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-triangle-bot-go/internal/arbitrage"
	"binance-triangle-bot-go/internal/config"
	"binance-triangle-bot-go/internal/exchange"
	"binance-triangle-bot-go/internal/journal"
	"binance-triangle-bot-go/internal/logger"
	"binance-triangle-bot-go/internal/market"
	"binance-triangle-bot-go/internal/models"
	"binance-triangle-bot-go/internal/panel"
	"binance-triangle-bot-go/internal/trader"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 为了在加载.env或配置时就能记录日志，先用默认配置初始化一个logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载并校验 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	if err := config.Validate(cfg, logger.S()); err != nil {
		logger.S().Fatalf("配置校验失败: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	run(cfg)
}

func run(cfg *models.Config) {
	if cfg.DryRun {
		logger.S().Info("--- 启动干跑模式，下单走测试接口 ---")
	} else {
		logger.S().Info("--- 启动实盘模式 ---")
	}
	if cfg.IsTestnet {
		logger.S().Info("正在使用币安测试网...")
	}

	// 从环境变量加载API密钥
	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		if cfg.DryRun {
			logger.S().Warn("未设置 BINANCE_API_KEY / BINANCE_SECRET_KEY，干跑模式下下单校验会失败。")
		} else {
			logger.S().Fatal("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
		}
	}

	binanceExchange := exchange.NewBinanceExchange(apiKey, secretKey, cfg.IsTestnet, cfg.DryRun, logger.Binance())

	// 启动前探测到交易所的网络延迟
	if latency, err := binanceExchange.MeasureLatency(5); err != nil {
		logger.S().Warnf("延迟探测失败: %v", err)
	} else {
		logger.Performance().Infof("到交易所的平均延迟: %v", latency)
	}

	// 拉取交易规则并构建三角循环图
	rules, err := binanceExchange.ExchangeInfo()
	if err != nil {
		logger.S().Fatalf("获取交易规则失败: %v", err)
	}

	fundSymbols := make([]string, 0, len(cfg.Fund))
	for symbol := range cfg.Fund {
		fundSymbols = append(fundSymbols, symbol)
	}

	graph := market.Build(rules, fundSymbols, cfg.Scanner.Whitelist, cfg.Script.Template)
	logger.S().Infof("tickers - %d/%d", graph.TickerCount(), len(rules))
	logger.S().Infof("triangular trades - %d", len(graph.Trades()))
	if len(graph.Trades()) == 0 {
		logger.S().Fatal("没有任何可用的三角循环，请检查资金币种、白名单与方向模板。")
	}

	// 实盘模式下预检账户余额
	if !cfg.DryRun {
		checkBalances(binanceExchange, cfg)
	}

	// 打开执行流水数据库
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "journal_db"
	}
	journalRepo, err := journal.NewBadgerJournal(dbPath)
	if err != nil {
		logger.S().Fatalf("打开执行流水数据库失败: %v", err)
	}
	defer journalRepo.Close()

	// 回放上次运行留下的执行流水
	if records, err := journalRepo.Recent(5); err != nil {
		logger.S().Warnf("读取历史执行流水失败: %v", err)
	} else {
		for _, record := range records {
			logger.S().Infof("历史执行: %s", journal.SummaryLine(record))
		}
	}

	// 订阅深度行情并等待首批快照
	cache := exchange.NewDepthCache(cfg.IsTestnet, cfg.Scanner.Depth, cfg.WebSocket, logger.Binance())
	defer cache.Close()
	cache.Subscribe(graph.Watching())
	if err := cache.WaitForAll(graph.Watching(), 30*time.Second); err != nil {
		logger.S().Fatalf("等待深度数据失败: %v", err)
	}
	logger.S().Infof("已收到全部 %d 个 ticker 的深度快照", len(graph.Watching()))

	state := trader.NewExecutionState()
	gateway := &exchange.Gateway{BinanceExchange: binanceExchange, Cache: cache}
	coordinator := trader.NewTrader(cfg, gateway, state, journalRepo, logger.Execution())

	analyzer := &arbitrage.Analyzer{
		Fund:       cfg.Fund,
		FeePercent: cfg.Script.Fee,
		Collect:    cfg.Panel.Allow,
	}

	var calcPanel *panel.Panel
	if cfg.Panel.Allow {
		calcPanel = panel.New(cfg.Panel.RowNum, cfg.Script.Threshold.ProfitPercent)
	}

	stop := make(chan struct{})
	go analysisLoop(cfg, graph, cache, analyzer, coordinator, calcPanel, stop)
	if calcPanel != nil {
		go panelLoop(cfg, calcPanel, stop)
	}
	if cfg.Message.StatusRefreshMin > 0 {
		go statusLoop(cfg, graph, cache, state, stop)
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	close(stop)
	logger.S().Info("机器人已停止。")
}

// checkBalances 核对账户余额能否覆盖配置的投资区间，以及返佣资产是否还有余量
func checkBalances(binanceExchange *exchange.BinanceExchange, cfg *models.Config) {
	balances, err := binanceExchange.Balances()
	if err != nil {
		logger.S().Fatalf("获取账户余额失败: %v", err)
	}

	for symbol, rng := range cfg.Fund {
		free := balances[symbol].Free
		if free < rng.Min {
			logger.S().Fatalf("%s 可用余额 %v 低于最小投资量 %v", symbol, free, rng.Min)
		}
		if free < rng.Max {
			logger.S().Warnf("%s 可用余额 %v 低于最大投资量 %v，部分投资量无法执行", symbol, free, rng.Max)
		}
	}

	feeAsset := cfg.FeeAsset
	if feeAsset == "" {
		feeAsset = "BNB"
	}
	if balances[feeAsset].Free < 0.001 {
		logger.S().Warnf("%s 余额不足，手续费折扣将不可用", feeAsset)
	}
}

// analysisLoop 是唯一的分析工作循环：每个 tick 对应一个订单簿刚变化的
// ticker，只对包含该 ticker 的循环重新求优，并把第一个通过门控的结果
// 交给执行协调器。逐 ticker 的增量分析是 100ms 推送节奏下唯一算得完的做法。
func analysisLoop(
	cfg *models.Config,
	graph *market.Graph,
	cache *exchange.DepthCache,
	analyzer *arbitrage.Analyzer,
	coordinator *trader.Trader,
	calcPanel *panel.Panel,
	stop chan struct{},
) {
	onError := func(err error) {
		logger.Performance().Debugf("循环求值失败: %v", err)
	}

	for {
		var ticker string
		select {
		case <-stop:
			return
		case ticker = <-cache.Updates():
		}

		// 有在途执行时暂停分析，避免基于将被执行改变的行情做决策
		if coordinator.State().InFlightIDs() > 0 {
			continue
		}

		trades := graph.RelatedTrades(ticker)
		if len(trades) == 0 {
			continue
		}

		snapshots := cache.Snapshot(graph.RelatedTickers(ticker))
		results := analyzer.Analyze(
			trades,
			snapshots,
			onError,
			coordinator.IsSafeToRun,
			func(calculated *models.CalculatedTrade) {
				coordinator.RunCalculatedPosition(calculated)
			},
		)

		if calcPanel != nil {
			for _, calculated := range results {
				calcPanel.Update(calculated)
			}
		}
	}
}

// panelLoop 按配置的间隔把利润排行表刷到标准输出
func panelLoop(cfg *models.Config, calcPanel *panel.Panel, stop chan struct{}) {
	ticker := time.NewTicker(time.Duration(cfg.Panel.RefreshMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			calcPanel.Render(os.Stdout)
		}
	}
}

// statusLoop 周期性汇报运行状况：执行计数与长时间没有行情的 ticker
func statusLoop(
	cfg *models.Config,
	graph *market.Graph,
	cache *exchange.DepthCache,
	state *trader.ExecutionState,
	stop chan struct{},
) {
	interval := time.Duration(cfg.Message.StatusRefreshMin * float64(time.Minute))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			logger.S().Infof("状态汇报：累计尝试执行 %d 次，在途 %d 笔", state.AttemptCount(), state.InFlightIDs())
			stale := cache.StaleTickers(graph.Watching(), interval)
			if len(stale) > 0 {
				logger.S().Warnf("以下 %d 个 ticker 长时间没有深度更新: %v", len(stale), stale)
			}
		}
	}
}
