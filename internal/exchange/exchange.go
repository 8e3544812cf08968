package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"binance-triangle-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// Exchange 定义了机器人对币安现货接口的全部依赖
type Exchange interface {
	ExchangeInfo() ([]models.SymbolRule, error)
	Balances() (map[string]models.Balance, error)
	MeasureLatency(samples int) (time.Duration, error)
	MarketOrder(method models.Method, ticker string, quantity float64) (*models.OrderResult, error)
}

// BinanceExchange 基于币安官方现货接口实现 Exchange
type BinanceExchange struct {
	client  *binance.Client
	dryRun  bool
	logger  *zap.SugaredLogger
	timeout time.Duration
}

// NewBinanceExchange 创建现货接口客户端。测试网开关是进程级的，
// 对同进程内的所有客户端生效。
func NewBinanceExchange(apiKey, secretKey string, isTestnet, dryRun bool, logger *zap.SugaredLogger) *BinanceExchange {
	binance.UseTestnet = isTestnet
	return &BinanceExchange{
		client:  binance.NewClient(apiKey, secretKey),
		dryRun:  dryRun,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// ExchangeInfo 拉取全市场交易规则，只保留可交易的交易对，
// 并从 LOT_SIZE 的最小下单量推导允许的小数位数。
func (e *BinanceExchange) ExchangeInfo() ([]models.SymbolRule, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	info, err := e.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取交易规则失败: %w", err)
	}

	rules := make([]models.SymbolRule, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		lotSize := s.LotSizeFilter()
		if lotSize == nil {
			continue
		}
		rules = append(rules, models.SymbolRule{
			Ticker:       s.Symbol,
			Base:         s.BaseAsset,
			Quote:        s.QuoteAsset,
			DustDecimals: dustDecimalsFromMinQty(lotSize.MinQuantity),
		})
	}
	return rules, nil
}

// dustDecimalsFromMinQty 把 LOT_SIZE 的最小下单量转换成允许的小数位数。
// "0.001" 的首个 '1' 在下标 3，小数点占一位，所以允许 2 位小数；
// "1.00" 这类整数步长则不允许任何小数。
func dustDecimalsFromMinQty(minQty string) int {
	one := strings.Index(minQty, "1")
	if one <= 1 {
		return 0
	}
	return one - 1
}

// Balances 拉取账户全部非零余额
func (e *BinanceExchange) Balances() (map[string]models.Balance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取账户余额失败: %w", err)
	}

	balances := make(map[string]models.Balance)
	for _, b := range account.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		balances[b.Asset] = models.Balance{
			Asset:   b.Asset,
			Free:    free,
			OnOrder: locked,
		}
	}
	return balances, nil
}

// MeasureLatency 对服务器时间接口做多次采样，返回平均单程延迟，
// 用于启动时评估本机到交易所的网络状况。
func (e *BinanceExchange) MeasureLatency(samples int) (time.Duration, error) {
	if samples <= 0 {
		samples = 1
	}
	var total time.Duration
	for i := 0; i < samples; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		start := time.Now()
		_, err := e.client.NewServerTimeService().Do(ctx)
		cancel()
		if err != nil {
			return 0, fmt.Errorf("延迟探测失败: %w", err)
		}
		total += time.Since(start)
	}
	return total / time.Duration(samples), nil
}

// MarketOrder 提交一笔市价单。干跑模式下改走币安的测试下单接口，
// 请求被完整校验但不会进入撮合，此时回报为空。
func (e *BinanceExchange) MarketOrder(method models.Method, ticker string, quantity float64) (*models.OrderResult, error) {
	side := binance.SideTypeBuy
	if method == models.Sell {
		side = binance.SideTypeSell
	}

	service := e.client.NewCreateOrderService().
		Symbol(ticker).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', -1, 64))

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if e.dryRun {
		if err := service.Test(ctx); err != nil {
			return nil, fmt.Errorf("测试下单 %s %s 失败: %w", side, ticker, err)
		}
		e.logger.Debugf("测试下单通过: %s %s %v", side, ticker, quantity)
		return &models.OrderResult{Ticker: ticker}, nil
	}

	response, err := service.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("市价单 %s %s 失败: %w", side, ticker, err)
	}
	return convertOrderResponse(ticker, response), nil
}

// Gateway 把下单接口和深度缓存组合成执行协调器需要的视图：
// 顺序策略在腿与腿之间要重取单个 ticker 的最新快照。
type Gateway struct {
	*BinanceExchange
	Cache *DepthCache
}

// Depth 返回指定 ticker 的最新快照
func (g *Gateway) Depth(ticker string) (*models.DepthSnapshot, error) {
	snapshot := g.Cache.Snapshot([]string{ticker})[ticker]
	if snapshot == nil {
		return nil, fmt.Errorf("ticker %s 暂无深度快照", ticker)
	}
	return snapshot, nil
}

func convertOrderResponse(ticker string, response *binance.CreateOrderResponse) *models.OrderResult {
	executed, _ := strconv.ParseFloat(response.ExecutedQuantity, 64)
	quote, _ := strconv.ParseFloat(response.CummulativeQuoteQuantity, 64)

	result := &models.OrderResult{
		OrderID:             response.OrderID,
		Ticker:              ticker,
		ExecutedQty:         executed,
		CummulativeQuoteQty: quote,
	}
	for _, fill := range response.Fills {
		price, _ := strconv.ParseFloat(fill.Price, 64)
		qty, _ := strconv.ParseFloat(fill.Quantity, 64)
		commission, _ := strconv.ParseFloat(fill.Commission, 64)
		result.Fills = append(result.Fills, models.Fill{
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: fill.CommissionAsset,
		})
	}
	return result
}
