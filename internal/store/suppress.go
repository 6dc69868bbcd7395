package store

import (
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Suppress marks path so integrity scans ignore changes beneath it. An
// already suppressed path keeps its original timestamp.
func (s *Store) Suppress(path string) error {
	key := []byte(filepath.Clean(path))
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSuppressed)
		if b.Get(key) != nil {
			return nil
		}
		return b.Put(key, []byte(s.now().UTC().Format(time.RFC3339)))
	})
}

// Unsuppress lifts the mark on path. Lifting an unmarked path is a no-op.
func (s *Store) Unsuppress(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSuppressed).Delete([]byte(filepath.Clean(path)))
	})
}

// IsSuppressed reports whether path or one of its parents is marked.
func (s *Store) IsSuppressed(path string) (bool, error) {
	path = filepath.Clean(path)
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSuppressed).ForEach(func(k, _ []byte) error {
			dir := string(k)
			if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
				found = true
			}
			return nil
		})
	})
	return found, err
}

// ListSuppressed returns every marked path with the time it was marked.
func (s *Store) ListSuppressed() (map[string]time.Time, error) {
	result := make(map[string]time.Time)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSuppressed).ForEach(func(k, v []byte) error {
			ts, _ := time.Parse(time.RFC3339, string(v))
			result[string(k)] = ts
			return nil
		})
	})
	return result, err
}
