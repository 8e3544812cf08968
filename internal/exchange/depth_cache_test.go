package exchange

import (
	"testing"
	"time"

	"binance-triangle-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevelsSortsAndTruncates(t *testing.T) {
	raw := [][2]string{
		{"9", "1"},
		{"11", "2"},
		{"10", "3"},
	}

	bids := parseLevels(raw, 2, true)
	require.Len(t, bids, 2)
	assert.Equal(t, 11.0, bids[0].Price)
	assert.Equal(t, 10.0, bids[1].Price)

	asks := parseLevels(raw, 2, false)
	require.Len(t, asks, 2)
	assert.Equal(t, 9.0, asks[0].Price)
	assert.Equal(t, 10.0, asks[1].Price)
}

func TestParseLevelsDropsEmptyAndMalformedEntries(t *testing.T) {
	raw := [][2]string{
		{"10", "0"},
		{"not-a-number", "1"},
		{"9", "2"},
	}
	levels := parseLevels(raw, 5, true)
	require.Len(t, levels, 1)
	assert.Equal(t, 9.0, levels[0].Price)
}

func TestHandleMessageReplacesSnapshot(t *testing.T) {
	cache := NewDepthCache(false, 20, models.WebSocketConfig{BundleSize: 50}, zap.NewNop().Sugar())

	message := []byte(`{
		"stream": "ethbtc@depth20@100ms",
		"data": {
			"lastUpdateId": 1,
			"bids": [["0.05", "3"], ["0.04", "1"]],
			"asks": [["0.06", "2"]]
		}
	}`)
	cache.handleMessage(message)

	snapshot := cache.Snapshot([]string{"ETHBTC", "BNBBTC"})
	require.NotNil(t, snapshot["ETHBTC"])
	assert.Nil(t, snapshot["BNBBTC"])
	assert.Equal(t, 0.05, snapshot["ETHBTC"].Bids[0].Price)
	assert.Equal(t, 0.06, snapshot["ETHBTC"].Asks[0].Price)
	assert.Greater(t, snapshot["ETHBTC"].EventTime, int64(0))

	// the replace queues an update signal carrying the ticker identity
	ticker, ok := cache.popPending()
	require.True(t, ok)
	assert.Equal(t, "ETHBTC", ticker)
}

func TestUpdateSignalsCoalescePerTicker(t *testing.T) {
	cache := NewDepthCache(false, 20, models.WebSocketConfig{BundleSize: 50}, zap.NewNop().Sugar())

	cache.signalUpdate("ETHBTC")
	cache.signalUpdate("ETHBTC")
	cache.signalUpdate("BNBBTC")
	cache.signalUpdate("ETHBTC")

	first, ok := cache.popPending()
	require.True(t, ok)
	assert.Equal(t, "ETHBTC", first)

	second, ok := cache.popPending()
	require.True(t, ok)
	assert.Equal(t, "BNBBTC", second)

	_, ok = cache.popPending()
	assert.False(t, ok)

	// a ticker already delivered may queue again
	cache.signalUpdate("ETHBTC")
	again, ok := cache.popPending()
	require.True(t, ok)
	assert.Equal(t, "ETHBTC", again)
}

func TestDispatchLoopForwardsQueuedTickers(t *testing.T) {
	cache := NewDepthCache(false, 20, models.WebSocketConfig{BundleSize: 50}, zap.NewNop().Sugar())
	defer cache.Close()

	cache.signalUpdate("ETHBTC")
	go cache.dispatchLoop()

	select {
	case ticker := <-cache.Updates():
		assert.Equal(t, "ETHBTC", ticker)
	case <-time.After(time.Second):
		t.Fatal("expected a forwarded update")
	}
}

func TestStreamLevelCoversConfiguredDepth(t *testing.T) {
	logger := zap.NewNop().Sugar()
	cfg := models.WebSocketConfig{BundleSize: 50}

	assert.Equal(t, 5, NewDepthCache(false, 3, cfg, logger).streamLevel())
	assert.Equal(t, 10, NewDepthCache(false, 10, cfg, logger).streamLevel())
	assert.Equal(t, 20, NewDepthCache(false, 100, cfg, logger).streamLevel())
}

func TestDustDecimalsFromMinQty(t *testing.T) {
	assert.Equal(t, 2, dustDecimalsFromMinQty("0.001"))
	assert.Equal(t, 0, dustDecimalsFromMinQty("1.00000000"))
	assert.Equal(t, 8, dustDecimalsFromMinQty("0.00000001"))
	assert.Equal(t, 0, dustDecimalsFromMinQty("10.0"))
}

func TestGatewayDepthMissingSnapshot(t *testing.T) {
	cache := NewDepthCache(false, 20, models.WebSocketConfig{BundleSize: 50}, zap.NewNop().Sugar())
	gateway := &Gateway{Cache: cache}

	_, err := gateway.Depth("ETHBTC")
	assert.Error(t, err)
}
