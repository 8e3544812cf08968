package trader

import (
	"fmt"
	"os"
	"sync"
	"time"

	"binance-triangle-bot-go/internal/arbitrage"
	"binance-triangle-bot-go/internal/models"

	"go.uber.org/zap"
)

// OrderExecutor 是执行协调器对交易所连接层的全部依赖：
// 提交市价单，以及为顺序策略重新拉取某个 ticker 的最新深度快照。
type OrderExecutor interface {
	MarketOrder(method models.Method, ticker string, quantity float64) (*models.OrderResult, error)
	Depth(ticker string) (*models.DepthSnapshot, error)
}

// Journal 记录每次执行尝试的流水，由持久层实现
type Journal interface {
	Record(record *models.ExecutionRecord) error
}

// Trader 是执行协调器：对计算结果做安全门控，选择执行策略，
// 驱动真实下单，对账预期与实际成交，并维护在途状态。
type Trader struct {
	profitThreshold float64
	delay           time.Duration
	maxTrade        int
	strategy        string
	dryRun          bool
	feeAsset        string

	exchange OrderExecutor
	state    *ExecutionState
	journal  Journal
	logger   *zap.SugaredLogger

	// 可注入的退出与时钟，让到达执行上限的硬停止路径可测试
	exit func(int)
	now  func() time.Time
}

// NewTrader 创建执行协调器
func NewTrader(cfg *models.Config, exchange OrderExecutor, state *ExecutionState, journal Journal, logger *zap.SugaredLogger) *Trader {
	feeAsset := cfg.FeeAsset
	if feeAsset == "" {
		feeAsset = "BNB"
	}
	return &Trader{
		profitThreshold: cfg.Script.Threshold.ProfitPercent,
		delay:           time.Duration(cfg.Script.Threshold.DelayMs) * time.Millisecond,
		maxTrade:        cfg.Script.MaxTrade,
		strategy:        cfg.Script.Strategy,
		dryRun:          cfg.DryRun,
		feeAsset:        feeAsset,
		exchange:        exchange,
		state:           state,
		journal:         journal,
		logger:          logger,
		exit:            os.Exit,
		now:             time.Now,
	}
}

// State 返回共享执行状态，供外围调度器读取在途数量
func (t *Trader) State() *ExecutionState {
	return t.state
}

// IsSafeToRun 是准入门控：按固定顺序检查利润、快照年龄、币种冲突、
// 重复执行、全局限频与执行上限，任何一项不满足立即短路。
// 只读不写，真正的状态变更发生在 RunCalculatedPosition。
func (t *Trader) IsSafeToRun(calculated *models.CalculatedTrade) bool {
	// 1. 利润阈值
	if calculated.Rejected || calculated.Percent < t.profitThreshold {
		return false
	}

	// 2. 快照年龄。EventTime 缺失（为零值）视为过期
	now := t.now()
	minEvent := calculated.MinEventTime()
	if minEvent <= 0 {
		return false
	}
	age := time.Duration(now.UnixMilli()-minEvent) * time.Millisecond
	if age < 0 || age > t.delay {
		return false
	}

	// 3. 三个币种都不能已在别的执行中
	if symbol, busy := t.state.anySymbolInFlight(calculated.Trade.Symbols()); busy {
		t.logger.Debugf("拦截执行：%s 正处于另一笔执行中", symbol)
		return false
	}

	// 4. 同一循环在年龄阈值窗口内不允许重复尝试
	if t.state.attemptedWithin(calculated.ID, t.delay, now) {
		t.logger.Debug("拦截执行：避免重复执行同一循环")
		return false
	}

	// 5. 粗粒度全局限频：最近一秒内最多一次尝试
	if recent := t.state.attemptsSince(now.Add(-time.Second)); recent > 1 {
		t.logger.Debugf("拦截执行：最近一秒内已尝试 %d 次", recent)
		return false
	}

	// 6. 执行次数上限
	if t.maxTrade > 0 && t.state.AttemptCount() >= t.maxTrade {
		t.logger.Debugf("拦截执行：已累计尝试 %d 次", t.state.AttemptCount())
		return false
	}

	return true
}

// RunCalculatedPosition 异步执行一个已通过门控的循环。
// 在任何网络调用之前先记录尝试流水并标记在途，随后在独立 goroutine
// 中运行策略；返回的通道在执行落定（成功或失败）后收到结果。
func (t *Trader) RunCalculatedPosition(calculated *models.CalculatedTrade) <-chan error {
	start := t.now()
	t.state.markInFlight(calculated, start)

	maxAge := start.UnixMilli() - calculated.MinEventTime()
	t.logger.Infof("尝试执行 %s，快照年龄 %d ms，预期利润 %.4f%%",
		calculated.ID, maxAge, calculated.Percent)
	t.logSnapshots(calculated)

	done := make(chan error, 1)
	go func() {
		done <- t.execute(calculated, start)
	}()
	return done
}

// execute 运行选定策略并保证在途状态在所有退出路径上都被清理。
// 清理后若已达执行上限且再无在途执行，主动终止进程——这是刻意的硬停止。
func (t *Trader) execute(calculated *models.CalculatedTrade, start time.Time) (err error) {
	defer func() {
		t.state.clearInFlight(calculated)

		if t.maxTrade > 0 && t.state.InFlightIDs() == 0 && t.state.AttemptCount() >= t.maxTrade {
			t.logger.Infof("已达到用户设定的执行次数上限 %d，停止进程", t.maxTrade)
			t.exit(0)
		}
	}()

	var actual *models.ActualResult
	switch t.strategy {
	case "concurrent":
		actual, err = t.concurrentStrategy(calculated)
	default:
		actual, err = t.sequentialStrategy(calculated)
	}

	record := &models.ExecutionRecord{
		ID:              calculated.ID,
		AttemptedAt:     start.UnixMilli(),
		DurationMs:      t.now().Sub(start).Milliseconds(),
		ExpectedPercent: calculated.Percent,
		DryRun:          t.dryRun,
	}

	if err != nil {
		// 执行失败只影响本次交易，记录后吞掉，清理照常进行
		t.logger.Errorf("执行 %s 失败: %v", calculated.ID, err)
		record.Error = err.Error()
		t.record(record)
		return err
	}

	prefix := "执行完成"
	if t.dryRun {
		prefix = "测试执行完成"
	}
	t.logger.Infof("%s %s，耗时 %d ms", prefix, calculated.ID, record.DurationMs)

	// 干跑模式下交易所不会返回真实成交，对账没有意义
	if !t.dryRun {
		t.reportDivergence(calculated, actual)
	}
	record.Actual = actual
	t.record(record)
	return nil
}

// logSnapshots 以调试级别落盘决策依据的订单簿。只保留每条腿消耗档位
// 再加两档的余量，完整快照太大没法读。
func (t *Trader) logSnapshots(calculated *models.CalculatedTrade) {
	legs := []struct {
		ticker   string
		depth    int
		snapshot *models.DepthSnapshot
	}{
		{calculated.Trade.AB.Ticker, calculated.AB.Depth, calculated.Depth.AB},
		{calculated.Trade.BC.Ticker, calculated.BC.Depth, calculated.Depth.BC},
		{calculated.Trade.CA.Ticker, calculated.CA.Depth, calculated.Depth.CA},
	}
	for _, l := range legs {
		keep := l.depth + 2
		t.logger.Debugf("%s 决策快照 bids=%v asks=%v",
			l.ticker, pruneLevels(l.snapshot.Bids, keep), pruneLevels(l.snapshot.Asks, keep))
	}
}

func pruneLevels(levels []models.PriceLevel, keep int) []models.PriceLevel {
	if len(levels) > keep {
		return levels[:keep]
	}
	return levels
}

func (t *Trader) record(record *models.ExecutionRecord) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Record(record); err != nil {
		t.logger.Warnf("写入执行流水失败: %v", err)
	}
}

// reportDivergence 对账预期与实际：逐腿换算率偏移、各币种实际
// 收支与利润率、以及本次循环的手续费总额。
func (t *Trader) reportDivergence(calculated *models.CalculatedTrade, actual *models.ActualResult) {
	symbol := calculated.Trade.Symbol

	legs := []struct {
		leg            models.TradeLeg
		from, to       string
		expectedSpent  float64
		expectedEarned float64
		actualSpent    float64
		actualEarned   float64
	}{
		{calculated.Trade.AB, symbol.A, symbol.B, calculated.A.Spent, calculated.B.Earned, actual.A.Spent, actual.B.Earned},
		{calculated.Trade.BC, symbol.B, symbol.C, calculated.B.Spent, calculated.C.Earned, actual.B.Spent, actual.C.Earned},
		{calculated.Trade.CA, symbol.C, symbol.A, calculated.C.Spent, calculated.A.Earned, actual.C.Spent, actual.A.Earned},
	}

	for _, l := range legs {
		expectedRate := legRate(l.leg.Method, l.expectedSpent, l.expectedEarned)
		actualRate := legRate(l.leg.Method, l.actualSpent, l.actualEarned)

		t.logger.Debugf("%s 统计:", l.leg.Ticker)
		t.logger.Debugf("预期换算: %.8f %s -> %.8f %s @ %.8f", l.expectedSpent, l.from, l.expectedEarned, l.to, expectedRate)
		t.logger.Debugf("实际换算: %.8f %s -> %.8f %s @ %.8f", l.actualSpent, l.from, l.actualEarned, l.to, actualRate)
		if expectedRate != 0 {
			t.logger.Debugf("价格偏移: %.8f%%", (actualRate-expectedRate)/expectedRate*100)
		}
	}

	flows := []struct {
		symbol string
		flow   models.Flow
	}{
		{symbol.A, actual.A},
		{symbol.B, actual.B},
		{symbol.C, actual.C},
	}
	for _, f := range flows {
		percent := 0.0
		if f.flow.Spent != 0 {
			percent = f.flow.Delta / f.flow.Spent * 100
		}
		t.logger.Infof("%s delta: %.8f (%.4f%%)", f.symbol, f.flow.Delta, percent)
	}
	t.logger.Infof("%s 手续费: %.8f", t.feeAsset, -actual.Fees)
}

// legRate 按腿方向把收支折算成价格
func legRate(method models.Method, spent, earned float64) float64 {
	if method == models.Buy {
		if earned == 0 {
			return 0
		}
		return spent / earned
	}
	if spent == 0 {
		return 0
	}
	return earned / spent
}

// concurrentStrategy 同时提交三条腿的市价单，互不等待。
// 只有在三条腿的数量都来自同一份足够新鲜的快照时才安全；
// 腿与腿之间不做自适应重算，实际成交可能偏离计划。
func (t *Trader) concurrentStrategy(calculated *models.CalculatedTrade) (*models.ActualResult, error) {
	type legOrder struct {
		leg      models.TradeLeg
		quantity float64
	}
	orders := [3]legOrder{
		{calculated.Trade.AB, calculated.AB.Quantity},
		{calculated.Trade.BC, calculated.BC.Quantity},
		{calculated.Trade.CA, calculated.CA.Quantity},
	}

	var wg sync.WaitGroup
	results := [3]*models.OrderResult{}
	errs := [3]error{}

	for i, o := range orders {
		wg.Add(1)
		go func(i int, o legOrder) {
			defer wg.Done()
			results[i], errs[i] = t.exchange.MarketOrder(o.leg.Method, o.leg.Ticker, o.quantity)
		}(i, o)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%s 腿下单失败: %w", orders[i].leg.Ticker, err)
		}
	}

	actual := &models.ActualResult{}
	spentAB, earnedAB, feeAB := t.parseResult(calculated.Trade.AB.Method, results[0])
	spentBC, earnedBC, feeBC := t.parseResult(calculated.Trade.BC.Method, results[1])
	spentCA, earnedCA, feeCA := t.parseResult(calculated.Trade.CA.Method, results[2])

	actual.A.Spent, actual.B.Earned = spentAB, earnedAB
	actual.B.Spent, actual.C.Earned = spentBC, earnedBC
	actual.C.Spent, actual.A.Earned = spentCA, earnedCA
	actual.Fees = feeAB + feeBC + feeCA

	finishDeltas(actual)
	return actual, nil
}

// sequentialStrategy 逐腿执行：每条腿成交后，用实际换得的数量和
// 重新拉取的最新快照重算下一腿的理想下单量，再提交。
// 用三次串行往返换取每条腿大小永远贴合实际持仓，而非纸面计划。
func (t *Trader) sequentialStrategy(calculated *models.CalculatedTrade) (*models.ActualResult, error) {
	actual := &models.ActualResult{}

	// A→B 按优化器的计划量执行
	spentAB, earnedAB, err := t.placeLeg(calculated.Trade.AB, calculated.AB.Quantity, actual)
	if err != nil {
		return nil, err
	}
	actual.A.Spent, actual.B.Earned = spentAB, earnedAB

	// B→C 用 A→B 的实际所得重算；测试下单没有成交回报，退回计划量
	quantityBC := calculated.BC.Quantity
	if earnedAB > 0 {
		quantityBC, err = t.requantify(calculated.Trade.BC, earnedAB)
		if err != nil {
			return nil, err
		}
	}
	spentBC, earnedBC, err := t.placeLeg(calculated.Trade.BC, quantityBC, actual)
	if err != nil {
		return nil, err
	}
	actual.B.Spent, actual.C.Earned = spentBC, earnedBC

	// C→A 用 B→C 的实际所得重算
	quantityCA := calculated.CA.Quantity
	if earnedBC > 0 {
		quantityCA, err = t.requantify(calculated.Trade.CA, earnedBC)
		if err != nil {
			return nil, err
		}
	}
	spentCA, earnedCA, err := t.placeLeg(calculated.Trade.CA, quantityCA, actual)
	if err != nil {
		return nil, err
	}
	actual.C.Spent, actual.A.Earned = spentCA, earnedCA

	finishDeltas(actual)
	return actual, nil
}

// requantify 重新拉取目标 ticker 的快照并重算这条腿的下单量
func (t *Trader) requantify(leg models.TradeLeg, quantityEarned float64) (float64, error) {
	depth, err := t.exchange.Depth(leg.Ticker)
	if err != nil {
		return 0, fmt.Errorf("重取 %s 深度失败: %w", leg.Ticker, err)
	}
	quantity, err := arbitrage.RecalculateLeg(leg, quantityEarned, depth)
	if err != nil {
		return 0, fmt.Errorf("重算 %s 腿数量失败: %w", leg.Ticker, err)
	}
	return quantity, nil
}

// placeLeg 提交一条腿并把手续费累计到 actual 上
func (t *Trader) placeLeg(leg models.TradeLeg, quantity float64, actual *models.ActualResult) (spent, earned float64, err error) {
	result, err := t.exchange.MarketOrder(leg.Method, leg.Ticker, quantity)
	if err != nil {
		return 0, 0, fmt.Errorf("%s 腿下单失败: %w", leg.Ticker, err)
	}
	if result.OrderID == 0 {
		// 测试下单接口不返回成交回报
		return 0, 0, nil
	}
	spent, earned, fee := t.parseResult(leg.Method, result)
	actual.Fees += fee
	return spent, earned, nil
}

// parseResult 把市价单回报拆解为付出量、换得量与手续费。
// 手续费只统计以配置的返佣资产结算的部分。
func (t *Trader) parseResult(method models.Method, result *models.OrderResult) (spent, earned, fees float64) {
	if method == models.Buy {
		spent = result.CummulativeQuoteQty
		earned = result.ExecutedQty
	} else {
		spent = result.ExecutedQty
		earned = result.CummulativeQuoteQty
	}
	for _, fill := range result.Fills {
		if fill.CommissionAsset == t.feeAsset {
			fees += fill.Commission
		}
	}
	return spent, earned, fees
}

func finishDeltas(actual *models.ActualResult) {
	actual.A.Delta = actual.A.Earned - actual.A.Spent
	actual.B.Delta = actual.B.Earned - actual.B.Spent
	actual.C.Delta = actual.C.Earned - actual.C.Spent
}
