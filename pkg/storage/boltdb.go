package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/trail/pkg/codec"
	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/cuemby/trail/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketQueue       = []byte("queue")
	bucketCredentials = []byte("credentials")
)

// BoltStore implements Queue and CredentialStore on a single BoltDB file
type BoltStore struct {
	db       *bolt.DB
	capacity int
	now      func() time.Time
	logger   zerolog.Logger
}

// NewBoltStore opens (or creates) <dataDir>/trail.db
func NewBoltStore(dataDir string, capacity int) (*BoltStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trail.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketQueue, bucketCredentials} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:       db,
		capacity: capacity,
		now:      time.Now,
		logger:   log.WithComponent("storage"),
	}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Queue operations

func (s *BoltStore) Insert(sample *types.LocationSample) (uint64, error) {
	var id uint64
	var evicted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq

		data, err := codec.Marshal(&types.BufferedEntry{
			LocationSample: *sample,
			EnqueuedAt:     s.now(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
		if err := b.Put(itob(id), data); err != nil {
			return err
		}

		evicted, err = trim(b, s.capacity)
		return err
	})
	if err != nil {
		return 0, err
	}

	if evicted > 0 {
		metrics.QueueEvicted.Add(float64(evicted))
		s.logger.Warn().Int("evicted", evicted).Msg("Queue over capacity, oldest entries evicted")
	}
	return id, nil
}

func (s *BoltStore) TrimToCapacity(n int) (int, error) {
	var evicted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		evicted, err = trim(tx.Bucket(bucketQueue), n)
		return err
	})
	if evicted > 0 {
		metrics.QueueEvicted.Add(float64(evicted))
	}
	return evicted, err
}

func (s *BoltStore) Oldest(n int) ([]*types.BufferedEntry, error) {
	var entries []*types.BufferedEntry
	if n <= 0 {
		return entries, nil
	}

	var corrupt []uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketQueue).Cursor()
		for k, v := c.First(); k != nil && len(entries) < n; k, v = c.Next() {
			entry, err := decodeEntry(k, v)
			if err != nil {
				s.logger.Error().Err(err).Uint64("entry_id", btoi(k)).Msg("Dropping undecodable queue entry")
				corrupt = append(corrupt, btoi(k))
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// An entry that cannot be decoded can never be delivered.
	if len(corrupt) > 0 {
		if err := s.DeleteByIDs(corrupt); err != nil {
			s.logger.Warn().Err(err).Int("count", len(corrupt)).Msg("Failed to drop undecodable queue entries")
		} else {
			metrics.QueueCorrupt.Add(float64(len(corrupt)))
		}
	}
	return entries, nil
}

func (s *BoltStore) DeleteByIDs(ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		for _, id := range ids {
			if err := b.Delete(itob(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) MarkAttempt(id uint64, at time.Time, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		key := itob(id)
		v := b.Get(key)
		if v == nil {
			// Evicted or delivered in the meantime.
			return nil
		}

		entry, err := decodeEntry(key, v)
		if err != nil {
			return err
		}
		entry.LastAttemptAt = &at
		entry.LastError = errMsg

		data, err := codec.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = countKeys(tx.Bucket(bucketQueue))
		return nil
	})
	return n, err
}

// Credential operations

func (s *BoltStore) Get(key string) (string, bool, error) {
	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCredentials).Get([]byte(key))
		if v != nil {
			value, found = string(v), true
		}
		return nil
	})
	return value, found, err
}

func (s *BoltStore) Set(values map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		for k, v := range values {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Delete(keys ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// trim deletes the oldest keys until at most n remain
func trim(b *bolt.Bucket, n int) (int, error) {
	excess := countKeys(b) - n
	if excess <= 0 {
		return 0, nil
	}

	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// countKeys walks the cursor; Stats() does not see uncommitted writes.
func countKeys(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func decodeEntry(k, v []byte) (*types.BufferedEntry, error) {
	var entry types.BufferedEntry
	if err := codec.Unmarshal(v, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entry %d: %w", btoi(k), err)
	}
	entry.ID = btoi(k)
	return &entry, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
