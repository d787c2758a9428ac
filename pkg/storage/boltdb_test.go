package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/trail/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestStore(t *testing.T, capacity int) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir(), capacity)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sample(owner string, lat float64) *types.LocationSample {
	return &types.LocationSample{
		OwnerUserID: owner,
		Latitude:    lat,
		Longitude:   1,
		Accuracy:    5,
		RecordedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInsertAndOldest(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	var ids []uint64
	for i := 0; i < 3; i++ {
		id, err := store.Insert(sample("user-1", float64(i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.True(t, ids[0] < ids[1] && ids[1] < ids[2], "ids must be increasing: %v", ids)

	entries, err := store.Oldest(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ids[0], entries[0].ID)
	assert.Equal(t, ids[1], entries[1].ID)
	assert.Equal(t, 0.0, entries[0].Latitude)
	assert.False(t, entries[0].EnqueuedAt.IsZero())

	// Oldest is read-only.
	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOldest_Empty(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	entries, err := store.Oldest(25)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInsert_TrimsToCapacity(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	var ids []uint64
	for i := 0; i < 510; i++ {
		id, err := store.Insert(sample("user-1", float64(i%90)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	entries, err := store.Oldest(1000)
	require.NoError(t, err)
	require.Len(t, entries, 500)
	assert.Equal(t, ids[10], entries[0].ID, "the 10 oldest entries are evicted")
	assert.Equal(t, ids[509], entries[499].ID)
}

func TestInsert_EvictsAttemptedEntries(t *testing.T) {
	store := newTestStore(t, 2)

	first, err := store.Insert(sample("user-1", 1))
	require.NoError(t, err)
	require.NoError(t, store.MarkAttempt(first, time.Now(), "HTTP 503"))

	_, err = store.Insert(sample("user-1", 2))
	require.NoError(t, err)
	_, err = store.Insert(sample("user-1", 3))
	require.NoError(t, err)

	entries, err := store.Oldest(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEqual(t, first, entries[0].ID)
}

func TestTrimToCapacity(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	for i := 0; i < 5; i++ {
		_, err := store.Insert(sample("user-1", float64(i)))
		require.NoError(t, err)
	}

	evicted, err := store.TrimToCapacity(2)
	require.NoError(t, err)
	assert.Equal(t, 3, evicted)

	entries, err := store.Oldest(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3.0, entries[0].Latitude)
}

func TestDeleteByIDs_Idempotent(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	a, _ := store.Insert(sample("user-1", 1))
	b, _ := store.Insert(sample("user-1", 2))

	require.NoError(t, store.DeleteByIDs([]uint64{a, 9999}))
	require.NoError(t, store.DeleteByIDs([]uint64{a}))
	require.NoError(t, store.DeleteByIDs(nil))

	entries, err := store.Oldest(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b, entries[0].ID)
}

func TestIDsNotReusedAfterDelete(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	a, _ := store.Insert(sample("user-1", 1))
	require.NoError(t, store.DeleteByIDs([]uint64{a}))

	b, err := store.Insert(sample("user-1", 2))
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestMarkAttempt(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	id, _ := store.Insert(sample("user-1", 1))
	at := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkAttempt(id, at, "connection refused"))

	entries, err := store.Oldest(1)
	require.NoError(t, err)
	require.NotNil(t, entries[0].LastAttemptAt)
	assert.True(t, at.Equal(*entries[0].LastAttemptAt))
	assert.Equal(t, "connection refused", entries[0].LastError)

	// Absent id is not an error.
	assert.NoError(t, store.MarkAttempt(12345, at, "x"))
}

func TestOldest_DropsUndecodableEntries(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	var good []uint64
	for i := 0; i < 3; i++ {
		id, err := store.Insert(sample("user-1", float64(i)))
		require.NoError(t, err)
		good = append(good, id)
	}
	// Overwrite the oldest entry with garbage.
	require.NoError(t, store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Put(itob(good[0]), []byte{0xff, 0x00, 0x13})
	}))

	entries, err := store.Oldest(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, good[1], entries[0].ID)
	assert.Equal(t, good[2], entries[1].ID)

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n, "undecodable entry is removed")
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir, DefaultCapacity)
	require.NoError(t, err)
	id, err := store.Insert(sample("user-1", 7))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir, DefaultCapacity)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Oldest(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "user-1", entries[0].OwnerUserID)
}

func TestCredentials(t *testing.T) {
	store := newTestStore(t, DefaultCapacity)

	_, found, err := store.Get("access_token")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(map[string]string{
		"access_token":  "a",
		"refresh_token": "r",
	}))

	v, found, err := store.Get("refresh_token")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "r", v)

	require.NoError(t, store.Delete("access_token", "refresh_token", "missing"))
	_, found, _ = store.Get("access_token")
	assert.False(t, found)
}

var _ Queue = (*BoltStore)(nil)
var _ CredentialStore = (*BoltStore)(nil)

func BenchmarkInsert(b *testing.B) {
	store, err := NewBoltStore(b.TempDir(), DefaultCapacity)
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	for i := 0; i < b.N; i++ {
		if _, err := store.Insert(sample(fmt.Sprintf("user-%d", i%3), 1)); err != nil {
			b.Fatal(err)
		}
	}
}
