package storage

import (
	"time"

	"github.com/cuemby/trail/pkg/types"
)

// DefaultCapacity is the number of entries the queue keeps
const DefaultCapacity = 500

// Queue is the durable, bounded, insertion-ordered buffer of samples
// awaiting delivery
type Queue interface {
	// Insert appends a sample and trims the queue to capacity
	Insert(sample *types.LocationSample) (uint64, error)
	// TrimToCapacity evicts the oldest entries beyond the newest n
	TrimToCapacity(n int) (int, error)
	// Oldest returns up to n entries, oldest first. Entries that cannot be
	// decoded are dropped rather than returned.
	Oldest(n int) ([]*types.BufferedEntry, error)
	// DeleteByIDs removes entries; absent ids are ignored
	DeleteByIDs(ids []uint64) error
	// MarkAttempt annotates an entry with its last delivery attempt
	MarkAttempt(id uint64, at time.Time, errMsg string) error
	// Len returns the number of queued entries
	Len() (int, error)
}

// CredentialStore is an opaque key-value store for session secrets
type CredentialStore interface {
	Get(key string) (string, bool, error)
	Set(values map[string]string) error
	Delete(keys ...string) error
}
