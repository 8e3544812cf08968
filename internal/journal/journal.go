package journal

import (
	"fmt"
	"time"

	"binance-triangle-bot-go/internal/models"
)

// Repository defines the interface for the execution journal.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type Repository interface {
	// Record appends one execution attempt to the journal.
	Record(record *models.ExecutionRecord) error

	// Recent returns up to limit records, newest first.
	Recent(limit int) ([]*models.ExecutionRecord, error)

	// Close gracefully closes the connection to the database.
	Close() error
}

// SummaryLine renders one execution record as a single, human-readable
// log line for the startup recap of previous runs.
func SummaryLine(record *models.ExecutionRecord) string {
	at := time.UnixMilli(record.AttemptedAt).Format("2006-01-02 15:04:05")

	outcome := "ok"
	if record.Error != "" {
		outcome = "failed: " + record.Error
	}
	if record.DryRun {
		outcome = "dry-run " + outcome
	}

	return fmt.Sprintf("%s %s expected %.4f%% took %dms %s",
		at, record.ID, record.ExpectedPercent, record.DurationMs, outcome)
}
