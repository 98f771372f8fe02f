// Package history persists query summaries in a bbolt file so recent
// executions survive restarts.
package history

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// ErrDisabled is returned when no history path is configured
var ErrDisabled = errors.New("query history is disabled")

var bucket = []byte("queries")

const DefaultMaxEntries = 1000

// Entry is one recorded execution; it never holds the password or query text
type Entry = query.Summary

type Store struct {
	db         *bolt.DB
	maxEntries int
	log        zerolog.Logger
}

// Open opens or creates the history file at path. An empty path yields
// ErrDisabled and a nil Store, which is safe to use.
func Open(path string, maxEntries int, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, ErrDisabled
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Store{
		db:         db,
		maxEntries: maxEntries,
		log:        log.With().Str("component", "history").Logger(),
	}, nil
}

// Observe records s; failures are logged, not returned
func (s *Store) Observe(_ context.Context, e Entry) {
	if s == nil {
		return
	}
	if err := s.Append(e); err != nil {
		s.log.Warn().Err(err).Str("id", e.ID).Msg("failed to record query")
	}
}

// Append stores e and prunes the oldest entries beyond the limit
func (s *Store) Append(e Entry) error {
	if s == nil {
		return ErrDisabled
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), value); err != nil {
			return err
		}

		if seq <= uint64(s.maxEntries) {
			return nil
		}
		cutoff := seq - uint64(s.maxEntries)

		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns up to limit entries, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil {
		return nil, ErrDisabled
	}

	entries := []Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
