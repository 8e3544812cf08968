package arbitrage

import (
	"fmt"

	"binance-triangle-bot-go/internal/models"
)

// Conversion 是一次订单簿换算的结果
type Conversion struct {
	Value float64 // 换出的目标资产数量
	Depth int     // 消耗的订单簿档位数
}

// InsufficientDepthError 表示订单簿深度不足以吃下请求的换算量。
// 属于可恢复错误：只影响单个循环的本次求值，不会中断整批计算。
type InsufficientDepthError struct {
	Side      string  // "Bid" 或 "Ask"
	Levels    int     // 遍历过的档位总数
	Remaining float64 // 未能换出的剩余数量
	From      string
	To        string
	Ticker    string
}

func (e *InsufficientDepthError) Error() string {
	return fmt.Sprintf("%s depth (%d) too shallow to convert %v %s to %s using %s",
		e.Side, e.Levels, e.Remaining, e.From, e.To, e.Ticker)
}

// Convert 沿订单簿把 amountFrom 个 symbolFrom 换算成 symbolTo。
// 直接报价（ticker == from+quote 方向）吃买盘，间接报价吃卖盘。
func Convert(amountFrom float64, symbolFrom, symbolTo, ticker string, depth *models.DepthSnapshot) (Conversion, error) {
	return walkBook(amountFrom, symbolFrom, symbolTo, ticker, depth, false)
}

// ReverseConvert 反向换算：已知换出数量，倒推需要付出的数量。
// 消耗与 Convert 相反的一侧：直接报价吃卖盘，间接报价吃买盘。
func ReverseConvert(amountFrom float64, symbolFrom, symbolTo, ticker string, depth *models.DepthSnapshot) (Conversion, error) {
	return walkBook(amountFrom, symbolFrom, symbolTo, ticker, depth, true)
}

// walkBook 按最优价格优先的顺序逐档消化 amountFrom，直到换完或深度耗尽
func walkBook(amountFrom float64, symbolFrom, symbolTo, ticker string, depth *models.DepthSnapshot, reverse bool) (Conversion, error) {
	if amountFrom == 0 {
		return Conversion{Value: 0, Depth: 0}, nil
	}

	isDirect := ticker == symbolFrom+symbolTo

	var ladder []models.PriceLevel
	var side string
	if isDirect != reverse { // 正向直接 或 反向间接 → 买盘
		ladder = depth.Bids
		side = "Bid"
	} else {
		ladder = depth.Asks
		side = "Ask"
	}

	var amountTo float64
	for i, level := range ladder {
		if isDirect {
			if level.Quantity < amountFrom {
				amountFrom -= level.Quantity
				amountTo += level.Quantity * level.Price
			} else {
				amountTo += amountFrom * level.Price
				amountFrom = 0
			}
		} else {
			exchangeable := level.Quantity * level.Price
			if exchangeable < amountFrom {
				amountFrom -= exchangeable
				amountTo += level.Quantity
			} else {
				amountTo += amountFrom / level.Price
				amountFrom = 0
			}
		}

		if amountFrom == 0 {
			return Conversion{Value: amountTo, Depth: i + 1}, nil
		}
	}

	return Conversion{}, &InsufficientDepthError{
		Side:      side,
		Levels:    len(ladder),
		Remaining: amountFrom,
		From:      symbolFrom,
		To:        symbolTo,
		Ticker:    ticker,
	}
}
