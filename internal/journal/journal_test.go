package journal

import (
	"testing"
	"time"

	"binance-triangle-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerJournalRecordAndRecent(t *testing.T) {
	repo, err := NewBadgerJournal(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	base := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Record(&models.ExecutionRecord{
			ID:              "BTC-ETH-BNB",
			AttemptedAt:     base + int64(i),
			ExpectedPercent: 0.5,
		}))
	}

	records, err := repo.Recent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// newest first
	assert.Equal(t, base+2, records[0].AttemptedAt)
	assert.Equal(t, base+1, records[1].AttemptedAt)

	all, err := repo.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBadgerJournalPreservesFailures(t *testing.T) {
	repo, err := NewBadgerJournal(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Record(&models.ExecutionRecord{
		ID:    "BTC-ETH-BNB",
		Error: "exchange rejected the order",
	}))

	records, err := repo.Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "exchange rejected the order", records[0].Error)
	assert.Nil(t, records[0].Actual)
}

func TestSummaryLine(t *testing.T) {
	at := time.Date(2026, 8, 28, 12, 30, 0, 0, time.Local).UnixMilli()

	ok := SummaryLine(&models.ExecutionRecord{
		ID:              "BTC-ETH-BNB",
		AttemptedAt:     at,
		DurationMs:      420,
		ExpectedPercent: 0.5123,
	})
	assert.Equal(t, "2026-08-28 12:30:00 BTC-ETH-BNB expected 0.5123% took 420ms ok", ok)

	failed := SummaryLine(&models.ExecutionRecord{
		ID:          "BTC-ETH-BNB",
		AttemptedAt: at,
		Error:       "exchange rejected the order",
		DryRun:      true,
	})
	assert.Contains(t, failed, "dry-run failed: exchange rejected the order")
}
