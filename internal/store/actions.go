package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ActionRecord is one finished action.
type ActionRecord struct {
	Scheduler   string        `json:"scheduler"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	State       string        `json:"state"`
	Error       string        `json:"error,omitempty"`
	Created     time.Time     `json:"created"`
	Completed   time.Time     `json:"completed"`
	Duration    time.Duration `json:"duration"`
}

// historyKeyLayout is fixed width so keys sort in time order.
const historyKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordAction appends rec to the history. Keys sort by completion time,
// with the bucket sequence breaking ties.
func (s *Store) RecordAction(rec ActionRecord) error {
	if rec.Completed.IsZero() {
		rec.Completed = s.now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s::%020d", rec.Completed.UTC().Format(historyKeyLayout), seq)
		return b.Put([]byte(key), data)
	})
}

// ListActions returns up to limit records, newest first.
func (s *Store) ListActions(limit int) ([]ActionRecord, error) {
	var records []ActionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketActions).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec ActionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// PruneActions deletes all but the newest keep records and reports how many
// were removed.
func (s *Store) PruneActions(keep int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		excess := b.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(keys) < excess; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(keys)
		return nil
	})
	return removed, err
}
