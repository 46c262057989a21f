package backingmap_test

import (
	"testing"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/storage/backingmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(b *backingmap.BackingMap, p int, keyID string, val any, expiry time.Time) {
	part := b.Partition(p)
	part.Lock()
	part.PutLocked(&model.Entry{Key: keyID, KeyID: keyID, Value: val, Partition: p, Expiry: expiry})
	part.Unlock()
}

func TestBackingMap_NullIsPresent(t *testing.T) {
	b := backingmap.New(4)
	now := time.Now()
	put(b, 1, "k", nil, time.Time{})

	e, ok := b.Get(1, "k", now)
	require.True(t, ok)
	assert.Nil(t, e.Value)

	_, ok = b.Get(1, "missing", now)
	assert.False(t, ok)
	assert.Equal(t, 1, b.Size(now))
}

func TestBackingMap_ExpiredReadsAbsent(t *testing.T) {
	b := backingmap.New(2)
	now := time.Now()
	put(b, 0, "old", "v", now.Add(-time.Second))
	put(b, 0, "new", "v", now.Add(time.Hour))

	_, ok := b.Get(0, "old", now)
	assert.False(t, ok)
	_, ok = b.Get(0, "new", now)
	assert.True(t, ok)

	assert.Equal(t, 1, b.Size(now))
	assert.Equal(t, []string{"old"}, b.Partition(0).Expired(now))

	part := b.Partition(0)
	part.Lock()
	raw, ok := part.GetLocked("old")
	part.Unlock()
	require.True(t, ok)
	assert.Equal(t, "v", raw.Value)
}

func TestBackingMap_GetReturnsCopy(t *testing.T) {
	b := backingmap.New(1)
	put(b, 0, "k", "v1", time.Time{})

	e, _ := b.Get(0, "k", time.Now())
	e.Value = "changed"

	again, _ := b.Get(0, "k", time.Now())
	assert.Equal(t, "v1", again.Value)
}

func TestBackingMap_SnapshotAndClear(t *testing.T) {
	b := backingmap.New(1)
	now := time.Now()
	put(b, 0, "b", 2, time.Time{})
	put(b, 0, "a", 1, time.Time{})
	put(b, 0, "gone", 3, now.Add(-time.Minute))

	snap := b.Partition(0).Snapshot(now)
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].KeyID)
	assert.Equal(t, "b", snap[1].KeyID)

	part := b.Partition(0)
	part.Lock()
	live := part.ClearLocked(now)
	part.Unlock()
	assert.Len(t, live, 2)
	assert.True(t, b.IsEmpty(now))
}

func TestBackingMap_DeleteAndTruncate(t *testing.T) {
	b := backingmap.New(3)
	now := time.Now()
	put(b, 0, "x", 1, time.Time{})
	put(b, 2, "y", 2, time.Time{})

	part := b.Partition(0)
	part.Lock()
	removed, ok := part.DeleteLocked("x")
	_, again := part.DeleteLocked("x")
	part.Unlock()
	require.True(t, ok)
	assert.Equal(t, 1, removed.Value)
	assert.False(t, again)

	b.Truncate()
	assert.Equal(t, 0, b.Size(now))
	assert.Equal(t, 3, b.PartitionCount())
}
