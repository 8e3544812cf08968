package trader

import (
	"errors"
	"sync"
	"testing"
	"time"

	"binance-triangle-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockExecutor is a scripted OrderExecutor: it returns canned results per
// ticker and records every order it receives.
type mockExecutor struct {
	sync.Mutex
	results map[string]*models.OrderResult
	depths  map[string]*models.DepthSnapshot
	failOn  string
	orders  []placedOrder
}

type placedOrder struct {
	Method   models.Method
	Ticker   string
	Quantity float64
}

func (m *mockExecutor) MarketOrder(method models.Method, ticker string, quantity float64) (*models.OrderResult, error) {
	m.Lock()
	defer m.Unlock()
	if ticker == m.failOn {
		return nil, errors.New("exchange rejected the order")
	}
	m.orders = append(m.orders, placedOrder{Method: method, Ticker: ticker, Quantity: quantity})
	if result, ok := m.results[ticker]; ok {
		return result, nil
	}
	return &models.OrderResult{OrderID: 1, Ticker: ticker}, nil
}

func (m *mockExecutor) Depth(ticker string) (*models.DepthSnapshot, error) {
	if depth, ok := m.depths[ticker]; ok {
		return depth, nil
	}
	return nil, errors.New("no snapshot for " + ticker)
}

func (m *mockExecutor) placed() []placedOrder {
	m.Lock()
	defer m.Unlock()
	return append([]placedOrder{}, m.orders...)
}

// mockJournal records everything it is asked to persist.
type mockJournal struct {
	sync.Mutex
	records []*models.ExecutionRecord
}

func (m *mockJournal) Record(record *models.ExecutionRecord) error {
	m.Lock()
	defer m.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *mockJournal) last() *models.ExecutionRecord {
	m.Lock()
	defer m.Unlock()
	if len(m.records) == 0 {
		return nil
	}
	return m.records[len(m.records)-1]
}

func testConfig(strategy string) *models.Config {
	return &models.Config{
		FeeAsset: "BNB",
		Script: models.ScriptConfig{
			Strategy: strategy,
			MaxTrade: 0,
			Threshold: models.Threshold{
				ProfitPercent: 0.3,
				DelayMs:       200,
			},
		},
	}
}

// calculatedAt builds an eligible all-SELL cycle whose snapshots landed at
// the given time.
func calculatedAt(at time.Time, percent float64) *models.CalculatedTrade {
	eventTime := at.UnixMilli()
	snapshot := func() *models.DepthSnapshot {
		return &models.DepthSnapshot{
			Bids:      []models.PriceLevel{{Price: 2, Quantity: 1000}},
			EventTime: eventTime,
		}
	}
	trade := &models.Trade{
		AB:     models.TradeLeg{Method: models.Sell, Ticker: "AAABBB", Base: "AAA", Quote: "BBB", DustDecimals: 8},
		BC:     models.TradeLeg{Method: models.Sell, Ticker: "BBBCCC", Base: "BBB", Quote: "CCC", DustDecimals: 8},
		CA:     models.TradeLeg{Method: models.Sell, Ticker: "CCCAAA", Base: "CCC", Quote: "AAA", DustDecimals: 8},
		Symbol: models.TradeSymbols{A: "AAA", B: "BBB", C: "CCC"},
	}
	return &models.CalculatedTrade{
		ID:      trade.ID(),
		Trade:   trade,
		Depth:   models.TradeDepth{AB: snapshot(), BC: snapshot(), CA: snapshot()},
		AB:      models.LegResult{Quantity: 10, Depth: 1},
		BC:      models.LegResult{Quantity: 20, Depth: 1},
		CA:      models.LegResult{Quantity: 60, Depth: 1},
		A:       models.Flow{Spent: 10, Earned: 12, Delta: 2},
		B:       models.Flow{Spent: 20, Earned: 20},
		C:       models.Flow{Spent: 60, Earned: 60},
		Percent: percent,
	}
}

func newTestTrader(cfg *models.Config, executor *mockExecutor, journal *mockJournal, now time.Time) *Trader {
	tr := NewTrader(cfg, executor, NewExecutionState(), journal, zap.NewNop().Sugar())
	tr.now = func() time.Time { return now }
	tr.exit = func(int) {}
	return tr
}

func TestIsSafeToRunProfitGate(t *testing.T) {
	now := time.Now()
	tr := newTestTrader(testConfig("sequential"), &mockExecutor{}, &mockJournal{}, now)

	assert.True(t, tr.IsSafeToRun(calculatedAt(now, 1.0)))
	assert.False(t, tr.IsSafeToRun(calculatedAt(now, 0.1)), "below threshold")

	rejected := calculatedAt(now, 500)
	rejected.Rejected = true
	assert.False(t, tr.IsSafeToRun(rejected), "rejected results never run")
}

func TestIsSafeToRunStaleSnapshot(t *testing.T) {
	now := time.Now()
	tr := newTestTrader(testConfig("sequential"), &mockExecutor{}, &mockJournal{}, now)

	stale := calculatedAt(now.Add(-time.Second), 1.0)
	assert.False(t, tr.IsSafeToRun(stale))

	// missing event time counts as stale
	missing := calculatedAt(now, 1.0)
	missing.Depth.BC.EventTime = 0
	assert.False(t, tr.IsSafeToRun(missing))
}

// TestIsSafeToRunSymbolConflict: a cycle sharing any symbol with an
// in-flight execution is blocked no matter how profitable it looks.
func TestIsSafeToRunSymbolConflict(t *testing.T) {
	now := time.Now()
	tr := newTestTrader(testConfig("sequential"), &mockExecutor{}, &mockJournal{}, now)

	inFlight := calculatedAt(now, 1.0)
	tr.state.markInFlight(inFlight, now)

	conflicting := calculatedAt(now, 900.0)
	assert.False(t, tr.IsSafeToRun(conflicting))

	tr.state.clearInFlight(inFlight)
	// still blocked: same cycle was attempted within the age window
	assert.False(t, tr.IsSafeToRun(conflicting))
}

func TestIsSafeToRunRateLimit(t *testing.T) {
	now := time.Now()
	tr := newTestTrader(testConfig("sequential"), &mockExecutor{}, &mockJournal{}, now)

	// two attempts on unrelated cycles in the trailing second
	for _, id := range []string{"XXX-YYY-ZZZ", "PPP-QQQ-RRR"} {
		other := calculatedAt(now, 1.0)
		other.ID = id
		other.Trade.Symbol = models.TradeSymbols{A: id[:3], B: id[4:7], C: id[8:]}
		tr.state.markInFlight(other, now.Add(-500*time.Millisecond))
		tr.state.clearInFlight(other)
	}

	assert.False(t, tr.IsSafeToRun(calculatedAt(now, 1.0)))
}

func TestIsSafeToRunExecutionCap(t *testing.T) {
	now := time.Now()
	cfg := testConfig("sequential")
	cfg.Script.MaxTrade = 1
	tr := newTestTrader(cfg, &mockExecutor{}, &mockJournal{}, now)

	other := calculatedAt(now, 1.0)
	other.ID = "XXX-YYY-ZZZ"
	other.Trade.Symbol = models.TradeSymbols{A: "XXX", B: "YYY", C: "ZZZ"}
	tr.state.markInFlight(other, now.Add(-time.Hour))
	tr.state.clearInFlight(other)

	assert.False(t, tr.IsSafeToRun(calculatedAt(now, 1.0)))
}

// TestConcurrentStrategyCurrencyMapping: each leg's fill must be booked
// against the currency actually paid and received, and only fees settled in
// the configured fee asset accrue.
func TestConcurrentStrategyCurrencyMapping(t *testing.T) {
	now := time.Now()
	executor := &mockExecutor{
		results: map[string]*models.OrderResult{
			// SELL legs: spent = executedQty (base), earned = quote
			"AAABBB": {OrderID: 1, Ticker: "AAABBB", ExecutedQty: 10, CummulativeQuoteQty: 20,
				Fills: []models.Fill{{Commission: 0.01, CommissionAsset: "BNB"}}},
			"BBBCCC": {OrderID: 2, Ticker: "BBBCCC", ExecutedQty: 20, CummulativeQuoteQty: 60,
				Fills: []models.Fill{{Commission: 0.02, CommissionAsset: "BNB"}}},
			"CCCAAA": {OrderID: 3, Ticker: "CCCAAA", ExecutedQty: 60, CummulativeQuoteQty: 12,
				Fills: []models.Fill{{Commission: 5, CommissionAsset: "AAA"}}},
		},
	}
	journal := &mockJournal{}
	tr := newTestTrader(testConfig("concurrent"), executor, journal, now)

	require.NoError(t, <-tr.RunCalculatedPosition(calculatedAt(now, 1.0)))

	record := journal.last()
	require.NotNil(t, record)
	require.NotNil(t, record.Actual)
	assert.InDelta(t, 10.0, record.Actual.A.Spent, 1e-9)
	assert.InDelta(t, 12.0, record.Actual.A.Earned, 1e-9)
	assert.InDelta(t, 2.0, record.Actual.A.Delta, 1e-9)
	assert.InDelta(t, 20.0, record.Actual.B.Spent, 1e-9)
	assert.InDelta(t, 20.0, record.Actual.B.Earned, 1e-9)
	assert.InDelta(t, 60.0, record.Actual.C.Earned, 1e-9)
	// the AAA-settled commission is not a BNB fee
	assert.InDelta(t, 0.03, record.Actual.Fees, 1e-9)

	assert.Len(t, executor.placed(), 3)
	assert.Equal(t, 0, tr.state.InFlightIDs())
	assert.Equal(t, 0, tr.state.InFlightSymbols())
}

// TestSequentialStrategyResizesFromFills: after each leg the next order size
// comes from the quantity actually obtained plus a fresh snapshot, not from
// the original plan.
func TestSequentialStrategyResizesFromFills(t *testing.T) {
	now := time.Now()
	executor := &mockExecutor{
		results: map[string]*models.OrderResult{
			// slippage: the first leg earns 18 BBB instead of the planned 20
			"AAABBB": {OrderID: 1, Ticker: "AAABBB", ExecutedQty: 10, CummulativeQuoteQty: 18},
			"BBBCCC": {OrderID: 2, Ticker: "BBBCCC", ExecutedQty: 18, CummulativeQuoteQty: 54},
			"CCCAAA": {OrderID: 3, Ticker: "CCCAAA", ExecutedQty: 54, CummulativeQuoteQty: 10.8},
		},
		depths: map[string]*models.DepthSnapshot{
			"BBBCCC": {Bids: []models.PriceLevel{{Price: 3, Quantity: 1000}}, EventTime: now.UnixMilli()},
			"CCCAAA": {Bids: []models.PriceLevel{{Price: 0.2, Quantity: 10000}}, EventTime: now.UnixMilli()},
		},
	}
	journal := &mockJournal{}
	tr := newTestTrader(testConfig("sequential"), executor, journal, now)

	require.NoError(t, <-tr.RunCalculatedPosition(calculatedAt(now, 1.0)))

	orders := executor.placed()
	require.Len(t, orders, 3)
	assert.InDelta(t, 10.0, orders[0].Quantity, 1e-9)
	assert.InDelta(t, 18.0, orders[1].Quantity, 1e-9, "resized to the actual BBB obtained")
	assert.InDelta(t, 54.0, orders[2].Quantity, 1e-9, "resized to the actual CCC obtained")

	record := journal.last()
	require.NotNil(t, record)
	require.NotNil(t, record.Actual)
	assert.InDelta(t, 0.8, record.Actual.A.Delta, 1e-9)
}

// TestExecuteFailureStillCleansUp: a rejected leg surfaces the error, writes
// a journal entry, and releases the in-flight reservation.
func TestExecuteFailureStillCleansUp(t *testing.T) {
	now := time.Now()
	executor := &mockExecutor{failOn: "AAABBB"}
	journal := &mockJournal{}
	tr := newTestTrader(testConfig("sequential"), executor, journal, now)

	err := <-tr.RunCalculatedPosition(calculatedAt(now, 1.0))
	require.Error(t, err)

	record := journal.last()
	require.NotNil(t, record)
	assert.NotEmpty(t, record.Error)
	assert.Nil(t, record.Actual)

	assert.Equal(t, 0, tr.state.InFlightIDs())
	assert.Equal(t, 0, tr.state.InFlightSymbols())
	// the failed attempt still counts toward the cap
	assert.Equal(t, 1, tr.state.AttemptCount())
}

// TestExecutionCapStopsProcess: once the cap is reached and nothing is in
// flight, the trader invokes the hard stop.
func TestExecutionCapStopsProcess(t *testing.T) {
	now := time.Now()
	cfg := testConfig("concurrent")
	cfg.Script.MaxTrade = 1
	tr := newTestTrader(cfg, &mockExecutor{}, &mockJournal{}, now)

	exitCode := -1
	tr.exit = func(code int) { exitCode = code }

	require.NoError(t, <-tr.RunCalculatedPosition(calculatedAt(now, 1.0)))
	assert.Equal(t, 0, exitCode)
}
