package journal

import (
	"encoding/json"
	"sort"
	"time"

	"binance-triangle-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/jxskiss/base62"
)

var keyPrefix = []byte("exec:")

// badgerJournal is the BadgerDB implementation of the Repository.
type badgerJournal struct {
	db *badger.DB
}

// NewBadgerJournal creates and returns a journal backed by a BadgerDB database.
func NewBadgerJournal(dbPath string) (Repository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging would interleave with the app's logs; errors
	// are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerJournal{db: db}, nil
}

// Record appends one execution attempt. Keys are the append-time
// nanosecond timestamps in base62, so concurrent attempts within the
// same millisecond still get distinct keys.
func (j *badgerJournal) Record(record *models.ExecutionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	key := append(append([]byte{}, keyPrefix...), base62.FormatInt(time.Now().UnixNano())...)
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Recent returns up to limit records, newest first. The journal is
// bounded by the execution cap, so a full scan is acceptable.
func (j *badgerJournal) Recent(limit int) ([]*models.ExecutionRecord, error) {
	var records []*models.ExecutionRecord

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record models.ExecutionRecord
				if err := json.Unmarshal(val, &record); err != nil {
					return err
				}
				records = append(records, &record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, k int) bool {
		return records[i].AttemptedAt > records[k].AttemptedAt
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close gracefully closes the connection to the database.
func (j *badgerJournal) Close() error {
	return j.db.Close()
}
