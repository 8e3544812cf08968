package models

import "fmt"

// Method 表示一条腿的下单方向
type Method string

const (
	Buy  Method = "BUY"
	Sell Method = "SELL"
)

// TradeLeg 描述三角循环中的一条腿：在 Ticker 上买入或卖出 Base
type TradeLeg struct {
	Method       Method
	Ticker       string
	Base         string
	Quote        string
	DustDecimals int
}

// TradeSymbols 是循环涉及的三个币种
type TradeSymbols struct {
	A string
	B string
	C string
}

// Trade 表示一个有向三角循环 A→B→C→A。
// 由交易所元数据一次性构建，构建后只读，被所有计算共享。
type Trade struct {
	AB     TradeLeg
	BC     TradeLeg
	CA     TradeLeg
	Symbol TradeSymbols
}

// ID 返回循环的唯一标识，如 "BTC-ETH-BNB"
func (t *Trade) ID() string {
	return fmt.Sprintf("%s-%s-%s", t.Symbol.A, t.Symbol.B, t.Symbol.C)
}

// Symbols 按 A、B、C 顺序返回三个币种
func (t *Trade) Symbols() [3]string {
	return [3]string{t.Symbol.A, t.Symbol.B, t.Symbol.C}
}

// PriceLevel 是订单簿中的一个价格档位
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// DepthSnapshot 是单个 ticker 订单簿的定格副本。
// Bids 按价格从高到低、Asks 从低到高排列，均截断到配置的最大深度。
// 捕获后不再修改，只会被整体替换。
type DepthSnapshot struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	EventTime int64 // 快照落地时间（毫秒），0 表示尚未收到任何更新
}

// TradeDepth 把一个循环三条腿的快照捆在一起
type TradeDepth struct {
	AB *DepthSnapshot
	BC *DepthSnapshot
	CA *DepthSnapshot
}

// LegResult 是一条腿的计算结果：下单数量与消耗的订单簿档位数
type LegResult struct {
	Quantity float64
	Depth    int
}

// Flow 记录某个币种在整个循环中的收支
type Flow struct {
	Spent  float64
	Earned float64
	Delta  float64
}

// CalculatedTrade 是对一个 Trade 在某个投资量下求值的结果。
// Percent 为扣除三笔手续费后的净利润百分比；当 A 腿支出为零等无效
// 情形时 Rejected 为 true，Percent 固定为 -100，保证其不会赢得优化。
type CalculatedTrade struct {
	ID    string
	Trade *Trade
	Depth TradeDepth

	AB LegResult
	BC LegResult
	CA LegResult

	A Flow
	B Flow
	C Flow

	Percent  float64
	Rejected bool
}

// MinEventTime 返回三条腿快照中最早的落地时间
func (c *CalculatedTrade) MinEventTime() int64 {
	min := c.Depth.AB.EventTime
	if c.Depth.BC.EventTime < min {
		min = c.Depth.BC.EventTime
	}
	if c.Depth.CA.EventTime < min {
		min = c.Depth.CA.EventTime
	}
	return min
}

// ActualResult 是一次真实执行后按币种归集的实际收支与手续费
type ActualResult struct {
	A    Flow
	B    Flow
	C    Flow
	Fees float64 // 以返佣资产计的手续费总额
}
