package market

import (
	"testing"

	"binance-triangle-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() []models.SymbolRule {
	return []models.SymbolRule{
		{Ticker: "ETHBTC", Base: "ETH", Quote: "BTC", DustDecimals: 3},
		{Ticker: "BNBBTC", Base: "BNB", Quote: "BTC", DustDecimals: 2},
		{Ticker: "BNBETH", Base: "BNB", Quote: "ETH", DustDecimals: 2},
	}
}

func anyTemplate() []string { return []string{"*", "*", "*"} }

func TestBuildFindsBothCycleDirections(t *testing.T) {
	graph := Build(testRules(), []string{"BTC"}, nil, anyTemplate())

	// BTC→ETH→BNB→BTC and BTC→BNB→ETH→BTC
	require.Len(t, graph.Trades(), 2)
	assert.ElementsMatch(t, []string{"ETHBTC", "BNBBTC", "BNBETH"}, graph.Watching())

	var ids []string
	for _, trade := range graph.Trades() {
		ids = append(ids, trade.ID())
	}
	assert.ElementsMatch(t, []string{"BTC-ETH-BNB", "BTC-BNB-ETH"}, ids)
}

// TestBuildLegDirections: a+b listed means SELL a, b+a listed means BUY b
// with a.
func TestBuildLegDirections(t *testing.T) {
	graph := Build(testRules(), []string{"BTC"}, nil, anyTemplate())

	var cycle *models.Trade
	for _, trade := range graph.Trades() {
		if trade.ID() == "BTC-ETH-BNB" {
			cycle = trade
		}
	}
	require.NotNil(t, cycle)

	// BTC→ETH goes through ETHBTC as a buy
	assert.Equal(t, models.Buy, cycle.AB.Method)
	assert.Equal(t, "ETHBTC", cycle.AB.Ticker)
	assert.Equal(t, "ETH", cycle.AB.Base)
	assert.Equal(t, 3, cycle.AB.DustDecimals)

	// ETH→BNB goes through BNBETH as a buy
	assert.Equal(t, models.Buy, cycle.BC.Method)
	assert.Equal(t, "BNBETH", cycle.BC.Ticker)

	// BNB→BTC goes through BNBBTC as a sell
	assert.Equal(t, models.Sell, cycle.CA.Method)
	assert.Equal(t, "BNBBTC", cycle.CA.Ticker)
}

func TestBuildTemplateFilter(t *testing.T) {
	// first leg restricted to SELL: only BTC cycles whose AB leg sells
	graph := Build(testRules(), []string{"BTC"}, nil, []string{"SELL", "*", "*"})
	assert.Empty(t, graph.Trades(), "BTC is only a quote asset here, every AB leg is a buy")

	graph = Build(testRules(), []string{"BTC"}, nil, []string{"BUY", "*", "*"})
	assert.Len(t, graph.Trades(), 2)
}

func TestBuildWhitelistFilter(t *testing.T) {
	graph := Build(testRules(), []string{"BTC"}, []string{"BTC", "ETH"}, anyTemplate())
	assert.Empty(t, graph.Trades(), "BNB excluded, no third symbol available")

	graph = Build(testRules(), []string{"BTC"}, []string{"BTC", "ETH", "BNB"}, anyTemplate())
	assert.Len(t, graph.Trades(), 2)
}

func TestRelatedIndexes(t *testing.T) {
	graph := Build(testRules(), []string{"BTC"}, nil, anyTemplate())

	// every ticker participates in both cycles of this tiny market
	for _, ticker := range graph.Watching() {
		assert.Len(t, graph.RelatedTrades(ticker), 2, ticker)
		assert.ElementsMatch(t, []string{"ETHBTC", "BNBBTC", "BNBETH"}, graph.RelatedTickers(ticker))
	}
	assert.Empty(t, graph.RelatedTrades("UNKNOWN"))
}
