package arbitrage

import (
	"math"
	"strconv"
	"strings"
)

// Dustless 把数量截断到交易所允许的小数位数。
// 超出精度的尾数是无法下单的粉尘，必须直接丢弃，绝不向上取整。
// 先用固定 12 位小数渲染，避免浮点表示误差混入截断结果。
func Dustless(amount float64, decimals int) float64 {
	if amount == math.Trunc(amount) {
		return amount
	}

	// 渲染只有 12 位小数，要求更高精度时整个渲染结果就是截断结果
	if decimals > 12 {
		decimals = 12
	}

	rendered := strconv.FormatFloat(amount, 'f', 12, 64)
	dot := strings.Index(rendered, ".")
	truncated := rendered[:dot+decimals+1]

	value, err := strconv.ParseFloat(truncated, 64)
	if err != nil {
		// 截断产物只可能是 "123." 这类合法数字串，解析失败说明入参本身异常
		return 0
	}
	return value
}
