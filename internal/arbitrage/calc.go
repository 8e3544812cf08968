package arbitrage

import (
	"math"

	"binance-triangle-bot-go/internal/models"
)

// Analyzer 是套利计算引擎：对每个三角循环扫描投资量区间，
// 找出净利润百分比最高的投资方案。
type Analyzer struct {
	Fund       map[string]models.FundRange // 按起始币种划分的扫描区间
	FeePercent float64                     // 单笔手续费率（百分比）
	Collect    bool                        // 是否收集结果用于面板展示
}

// Calculate 在给定投资量下对一个循环求值。
// 三条腿按 A→B、B→C、C→A 依次串联，上一腿换得的数量作为下一腿的投入。
// 任何一条腿深度不足都会放弃本次求值并原样返回错误。
func (an *Analyzer) Calculate(investmentA float64, trade *models.Trade, depth models.TradeDepth) (*models.CalculatedTrade, error) {
	calculated := &models.CalculatedTrade{
		ID:    trade.ID(),
		Trade: trade,
		Depth: depth,
	}

	// A→B
	if trade.AB.Method == models.Buy {
		// 买入 B：先正向换算出毛数量，截掉粉尘后反向倒推实际要付出的 A
		raw, err := Convert(investmentA, trade.Symbol.A, trade.Symbol.B, trade.AB.Ticker, depth.AB)
		if err != nil {
			return nil, err
		}
		calculated.AB.Quantity = Dustless(raw.Value, trade.AB.DustDecimals)
		calculated.B.Earned = calculated.AB.Quantity

		paid, err := ReverseConvert(calculated.B.Earned, trade.Symbol.B, trade.Symbol.A, trade.AB.Ticker, depth.AB)
		if err != nil {
			return nil, err
		}
		calculated.A.Spent = paid.Value
		calculated.AB.Depth = paid.Depth
	} else {
		// 卖出 A：先截粉尘再换算
		calculated.AB.Quantity = Dustless(investmentA, trade.AB.DustDecimals)
		calculated.A.Spent = calculated.AB.Quantity

		earned, err := Convert(calculated.A.Spent, trade.Symbol.A, trade.Symbol.B, trade.AB.Ticker, depth.AB)
		if err != nil {
			return nil, err
		}
		calculated.B.Earned = earned.Value
		calculated.AB.Depth = earned.Depth
	}

	// B→C
	if trade.BC.Method == models.Buy {
		raw, err := Convert(calculated.B.Earned, trade.Symbol.B, trade.Symbol.C, trade.BC.Ticker, depth.BC)
		if err != nil {
			return nil, err
		}
		calculated.BC.Quantity = Dustless(raw.Value, trade.BC.DustDecimals)
		calculated.C.Earned = calculated.BC.Quantity

		paid, err := ReverseConvert(calculated.C.Earned, trade.Symbol.C, trade.Symbol.B, trade.BC.Ticker, depth.BC)
		if err != nil {
			return nil, err
		}
		calculated.B.Spent = paid.Value
		calculated.BC.Depth = paid.Depth
	} else {
		calculated.BC.Quantity = Dustless(calculated.B.Earned, trade.BC.DustDecimals)
		calculated.B.Spent = calculated.BC.Quantity

		earned, err := Convert(calculated.B.Spent, trade.Symbol.B, trade.Symbol.C, trade.BC.Ticker, depth.BC)
		if err != nil {
			return nil, err
		}
		calculated.C.Earned = earned.Value
		calculated.BC.Depth = earned.Depth
	}

	// C→A
	if trade.CA.Method == models.Buy {
		raw, err := Convert(calculated.C.Earned, trade.Symbol.C, trade.Symbol.A, trade.CA.Ticker, depth.CA)
		if err != nil {
			return nil, err
		}
		calculated.CA.Quantity = Dustless(raw.Value, trade.CA.DustDecimals)
		calculated.A.Earned = calculated.CA.Quantity

		paid, err := ReverseConvert(calculated.A.Earned, trade.Symbol.A, trade.Symbol.C, trade.CA.Ticker, depth.CA)
		if err != nil {
			return nil, err
		}
		calculated.C.Spent = paid.Value
		calculated.CA.Depth = paid.Depth
	} else {
		calculated.CA.Quantity = Dustless(calculated.C.Earned, trade.CA.DustDecimals)
		calculated.C.Spent = calculated.CA.Quantity

		earned, err := Convert(calculated.C.Spent, trade.Symbol.C, trade.Symbol.A, trade.CA.Ticker, depth.CA)
		if err != nil {
			return nil, err
		}
		calculated.A.Earned = earned.Value
		calculated.CA.Depth = earned.Depth
	}

	calculated.A.Delta = calculated.A.Earned - calculated.A.Spent
	calculated.B.Delta = calculated.B.Earned - calculated.B.Spent
	calculated.C.Delta = calculated.C.Earned - calculated.C.Spent

	percent := (calculated.A.Delta/calculated.A.Spent)*100 - an.FeePercent*3
	if math.IsNaN(percent) || math.IsInf(percent, 0) || percent == 0 {
		// A 腿支出为零等无效情形：置为 -100 哨兵并显式标记拒绝，
		// 避免零利润与非法结果混淆
		calculated.Percent = -100
		calculated.Rejected = true
	} else {
		calculated.Percent = percent
	}

	return calculated, nil
}

// Optimize 在 [Min, Max] 区间内按 Step 线性扫描投资量，保留净利润
// 百分比严格最高的结果；打平时保留最早（投资量最小）的那个。
// 订单簿每个档位边界都会让利润函数出现拐点，无法解析求最优，只能暴力扫描。
func (an *Analyzer) Optimize(trade *models.Trade, depth models.TradeDepth) (*models.CalculatedTrade, error) {
	rng, ok := an.Fund[trade.Symbol.A]
	if !ok {
		return nil, &models.Error{Code: -1, Msg: "no fund range configured for " + trade.Symbol.A}
	}

	var best *models.CalculatedTrade
	for quantity := rng.Min; quantity <= rng.Max; quantity += rng.Step {
		calculated, err := an.Calculate(quantity, trade, depth)
		if err != nil {
			return nil, err
		}
		if best == nil || calculated.Percent > best.Percent {
			best = calculated
		}
	}
	return best, nil
}

// Analyze 对一批循环依次求优。每个循环的快照从共享的按 ticker 表中取出；
// 单个循环求值失败（最常见是深度不足）通过 onError 上报后继续下一个，
// 不会中断整批。第一个通过 isEligible 的结果交给 onExecute 后立即停止迭代。
func (an *Analyzer) Analyze(
	trades []*models.Trade,
	snapshots map[string]*models.DepthSnapshot,
	onError func(error),
	isEligible func(*models.CalculatedTrade) bool,
	onExecute func(*models.CalculatedTrade),
) []*models.CalculatedTrade {
	var results []*models.CalculatedTrade

	for _, trade := range trades {
		depth := models.TradeDepth{
			AB: snapshots[trade.AB.Ticker],
			BC: snapshots[trade.BC.Ticker],
			CA: snapshots[trade.CA.Ticker],
		}
		if depth.AB == nil || depth.BC == nil || depth.CA == nil {
			continue
		}

		calculated, err := an.Optimize(trade, depth)
		if err != nil {
			onError(err)
			continue
		}

		if an.Collect {
			results = append(results, calculated)
		}
		if isEligible(calculated) {
			onExecute(calculated)
			break
		}
	}

	return results
}

// RecalculateLeg 用上一腿的实际成交量和最新快照重算一条腿的理想下单量。
// 顺序策略在每条腿成交后调用，保证后续腿的大小永远贴合实际拿到的数量。
func RecalculateLeg(leg models.TradeLeg, quantityEarned float64, depth *models.DepthSnapshot) (float64, error) {
	if leg.Method == models.Buy {
		raw, err := Convert(quantityEarned, leg.Quote, leg.Base, leg.Ticker, depth)
		if err != nil {
			return 0, err
		}
		return Dustless(raw.Value, leg.DustDecimals), nil
	}
	return Dustless(quantityEarned, leg.DustDecimals), nil
}
