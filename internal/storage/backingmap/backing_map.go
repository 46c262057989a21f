// Package backingmap holds the committed entries of a cache, split by partition.
//
// Each partition is guarded by its own RWMutex. Readers take the read lock
// and get clones; committers take the write lock and call the *Locked methods.
package backingmap

import (
	"sort"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/model"
)

// Partition holds the entries routed to one partition
type Partition struct {
	ID      int
	mu      sync.RWMutex
	entries map[string]*model.Entry
}

func newPartition(id int) *Partition {
	return &Partition{ID: id, entries: make(map[string]*model.Entry)}
}

// Lock acquires the partition write lock
func (p *Partition) Lock() { p.mu.Lock() }

// Unlock releases the partition write lock
func (p *Partition) Unlock() { p.mu.Unlock() }

// Get returns a copy of a live entry. Expired entries read as absent.
func (p *Partition) Get(keyID string, now time.Time) (*model.Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[keyID]
	if !ok || e.IsExpired(now) {
		return nil, false
	}
	return e.Clone(), true
}

// GetLocked returns the stored entry, expired or not. The caller holds the lock.
func (p *Partition) GetLocked(keyID string) (*model.Entry, bool) {
	e, ok := p.entries[keyID]
	return e, ok
}

// PutLocked stores e. The caller holds the write lock.
func (p *Partition) PutLocked(e *model.Entry) {
	p.entries[e.KeyID] = e
}

// DeleteLocked removes an entry. The caller holds the write lock.
func (p *Partition) DeleteLocked(keyID string) (*model.Entry, bool) {
	e, ok := p.entries[keyID]
	if ok {
		delete(p.entries, keyID)
	}
	return e, ok
}

// Snapshot returns copies of the live entries ordered by key identity
func (p *Partition) Snapshot(now time.Time) []*model.Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if !e.IsExpired(now) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

// KeyIDs returns the identities of the live entries
func (p *Partition) KeyIDs(now time.Time) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.entries))
	for id, e := range p.entries {
		if !e.IsExpired(now) {
			out = append(out, id)
		}
	}
	return out
}

// KeyIDsLocked returns every stored identity. The caller holds the lock.
func (p *Partition) KeyIDsLocked() []string {
	out := make([]string, 0, len(p.entries))
	for id := range p.entries {
		out = append(out, id)
	}
	return out
}

// Expired returns the identities of entries whose expiry has passed
func (p *Partition) Expired(now time.Time) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for id, e := range p.entries {
		if e.IsExpired(now) {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of live entries
func (p *Partition) Len(now time.Time) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.entries {
		if !e.IsExpired(now) {
			n++
		}
	}
	return n
}

// ClearLocked drops every entry and returns the live ones. The caller holds the write lock.
func (p *Partition) ClearLocked(now time.Time) []*model.Entry {
	var live []*model.Entry
	for _, e := range p.entries {
		if !e.IsExpired(now) {
			live = append(live, e)
		}
	}
	p.entries = make(map[string]*model.Entry)
	sort.Slice(live, func(i, j int) bool { return live[i].KeyID < live[j].KeyID })
	return live
}

// ResetLocked drops every entry. The caller holds the write lock.
func (p *Partition) ResetLocked() {
	p.entries = make(map[string]*model.Entry)
}

// BackingMap is the partitioned entry storage of one cache
type BackingMap struct {
	partitions []*Partition
}

// New creates a backing map with count partitions
func New(count int) *BackingMap {
	if count <= 0 {
		count = 1
	}
	b := &BackingMap{partitions: make([]*Partition, count)}
	for i := range b.partitions {
		b.partitions[i] = newPartition(i)
	}
	return b
}

// Partition returns partition p
func (b *BackingMap) Partition(p int) *Partition {
	return b.partitions[p]
}

// PartitionCount returns the number of partitions
func (b *BackingMap) PartitionCount() int {
	return len(b.partitions)
}

// Get returns a copy of a live entry
func (b *BackingMap) Get(p int, keyID string, now time.Time) (*model.Entry, bool) {
	return b.partitions[p].Get(keyID, now)
}

// Size returns the number of live entries across all partitions
func (b *BackingMap) Size(now time.Time) int {
	n := 0
	for _, p := range b.partitions {
		n += p.Len(now)
	}
	return n
}

// IsEmpty reports whether no live entry exists
func (b *BackingMap) IsEmpty(now time.Time) bool {
	for _, p := range b.partitions {
		if p.Len(now) > 0 {
			return false
		}
	}
	return true
}

// Truncate drops every entry in every partition
func (b *BackingMap) Truncate() {
	for _, p := range b.partitions {
		p.Lock()
		p.ResetLocked()
		p.Unlock()
	}
}
