package market

import (
	"strings"

	"binance-triangle-bot-go/internal/models"
)

// Graph 是三角循环图：从全市场交易规则出发，枚举所有以资金币种
// 起步、方向模板允许的三角循环，并维护 ticker 与循环之间的关联索引。
type Graph struct {
	trading  map[string]models.SymbolRule
	trades   []*models.Trade
	watching []string

	relatedTrades  map[string][]*models.Trade
	relatedTickers map[string][]string
}

// Build 根据交易规则、资金币种、白名单与方向模板构建循环图。
// 模板的三个值依次约束 AB、BC、CA 腿，"*" 表示不限方向。
func Build(rules []models.SymbolRule, fundSymbols []string, whitelist []string, template []string) *Graph {
	g := &Graph{
		trading:        make(map[string]models.SymbolRule, len(rules)),
		relatedTrades:  make(map[string][]*models.Trade),
		relatedTickers: make(map[string][]string),
	}

	allowed := make(map[string]bool, len(whitelist))
	for _, sym := range whitelist {
		allowed[strings.ToUpper(sym)] = true
	}

	uniqueSymbols := make(map[string]bool)
	for _, rule := range rules {
		g.trading[rule.Ticker] = rule
		uniqueSymbols[rule.Base] = true
		uniqueSymbols[rule.Quote] = true
	}

	// 以每个资金币种为 A，枚举全部 (B, C) 组合
	seenTicker := make(map[string]bool)
	for _, a := range fundSymbols {
		for b := range uniqueSymbols {
			for c := range uniqueSymbols {
				trade := g.createTrade(a, b, c, allowed, template)
				if trade == nil {
					continue
				}
				g.trades = append(g.trades, trade)
				for _, ticker := range []string{trade.AB.Ticker, trade.BC.Ticker, trade.CA.Ticker} {
					if !seenTicker[ticker] {
						seenTicker[ticker] = true
						g.watching = append(g.watching, ticker)
					}
				}
			}
		}
	}

	// 关联索引：某个 ticker 更新时，哪些循环需要重算，
	// 重算又需要哪些 ticker 的快照
	for _, ticker := range g.watching {
		seen := make(map[string]bool)
		for _, trade := range g.trades {
			tickers := [3]string{trade.AB.Ticker, trade.BC.Ticker, trade.CA.Ticker}
			if tickers[0] != ticker && tickers[1] != ticker && tickers[2] != ticker {
				continue
			}
			g.relatedTrades[ticker] = append(g.relatedTrades[ticker], trade)
			for _, t := range tickers {
				if !seen[t] {
					seen[t] = true
					g.relatedTickers[ticker] = append(g.relatedTickers[ticker], t)
				}
			}
		}
	}

	return g
}

// createTrade 尝试用 a→b→c→a 组成一个循环；白名单、交易对存在性
// 或方向模板任一不满足即放弃。
func (g *Graph) createTrade(a, b, c string, allowed map[string]bool, template []string) *models.Trade {
	a, b, c = strings.ToUpper(a), strings.ToUpper(b), strings.ToUpper(c)
	if a == b || b == c || c == a {
		return nil
	}

	if len(allowed) > 0 {
		if !allowed[a] || !allowed[b] || !allowed[c] {
			return nil
		}
	}

	ab, ok := g.relationship(a, b)
	if !ok || !templateAllows(template, 0, ab.Method) {
		return nil
	}
	bc, ok := g.relationship(b, c)
	if !ok || !templateAllows(template, 1, bc.Method) {
		return nil
	}
	ca, ok := g.relationship(c, a)
	if !ok || !templateAllows(template, 2, ca.Method) {
		return nil
	}

	return &models.Trade{
		AB:     ab,
		BC:     bc,
		CA:     ca,
		Symbol: models.TradeSymbols{A: a, B: b, C: c},
	}
}

// relationship 判断从 a 到 b 的兑换走哪个交易对、哪个方向：
// 存在 a+b 则卖出 a，存在 b+a 则用 a 买入 b。
func (g *Graph) relationship(a, b string) (models.TradeLeg, bool) {
	if rule, ok := g.trading[a+b]; ok {
		return models.TradeLeg{
			Method:       models.Sell,
			Ticker:       rule.Ticker,
			Base:         a,
			Quote:        b,
			DustDecimals: rule.DustDecimals,
		}, true
	}
	if rule, ok := g.trading[b+a]; ok {
		return models.TradeLeg{
			Method:       models.Buy,
			Ticker:       rule.Ticker,
			Base:         b,
			Quote:        a,
			DustDecimals: rule.DustDecimals,
		}, true
	}
	return models.TradeLeg{}, false
}

func templateAllows(template []string, index int, method models.Method) bool {
	if len(template) <= index || template[index] == "*" {
		return true
	}
	return template[index] == string(method)
}

// Trades 返回全部循环
func (g *Graph) Trades() []*models.Trade {
	return g.trades
}

// Watching 返回所有循环涉及的 ticker 全集
func (g *Graph) Watching() []string {
	return g.watching
}

// RelatedTrades 返回包含指定 ticker 的所有循环
func (g *Graph) RelatedTrades(ticker string) []*models.Trade {
	return g.relatedTrades[ticker]
}

// RelatedTickers 返回重算指定 ticker 相关循环所需的 ticker 集合
func (g *Graph) RelatedTickers(ticker string) []string {
	return g.relatedTickers[ticker]
}

// TickerCount 返回全市场可交易的交易对数量
func (g *Graph) TickerCount() int {
	return len(g.trading)
}
