package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/processor"
	"github.com/devrev/pairdb/gridcache/internal/storage/backingmap"
	"github.com/devrev/pairdb/gridcache/internal/value"
	"go.uber.org/zap"
)

// Transaction buffers the changes of one processor invocation. Entries are
// locked when enlisted and stay locked until the transaction commits or
// rolls back, so either every change becomes visible or none does.
type Transaction struct {
	id    uint64
	ctx   context.Context
	scope string
	grid  *GridService

	// noLoad disables read-through for enlisted entries
	noLoad bool

	mu      sync.Mutex
	entries map[string]*txEntry
	order   []*txEntry
}

func (g *GridService) newTransaction(ctx context.Context, scope string) *Transaction {
	return &Transaction{
		id:      g.txSeq.Add(1),
		ctx:     ctx,
		scope:   scope,
		grid:    g,
		entries: make(map[string]*txEntry),
	}
}

// ID returns the transaction identifier
func (tx *Transaction) ID() uint64 {
	return tx.id
}

func lockKey(cache model.CacheID, keyID string) string {
	return cache.String() + "\x00" + keyID
}

// enlist locks key in c and returns its transactional view
func (tx *Transaction) enlist(c *Cache, key any, p int) (*txEntry, error) {
	keyID := value.KeyOf(key)
	lk := lockKey(c.id, keyID)

	tx.mu.Lock()
	if e, ok := tx.entries[lk]; ok {
		tx.mu.Unlock()
		return e, nil
	}
	tx.mu.Unlock()

	if err := c.checkActive(); err != nil {
		return nil, err
	}
	if err := tx.grid.locks.Acquire(tx.ctx, tx.id, lk, c.destroyed); err != nil {
		if err == errLockCancelled {
			return nil, c.notActive()
		}
		return nil, err
	}
	if err := c.checkActive(); err != nil {
		return nil, err
	}

	e := &txEntry{
		tx:         tx,
		cache:      c,
		key:        key,
		keyID:      keyID,
		partition:  p,
		generation: c.generation.Load(),
	}
	if committed, ok := c.backing.Get(p, keyID, time.Now()); ok {
		e.committed = committed
		e.origValue, e.origPresent = committed.Value, true
		e.value, e.present = committed.Value, true
		e.expiry = committed.Expiry
	} else if c.store != nil && !tx.noLoad {
		if err := e.load(); err != nil {
			return nil, err
		}
	}

	tx.mu.Lock()
	tx.entries[lk] = e
	tx.order = append(tx.order, e)
	tx.mu.Unlock()
	return e, nil
}

// release drops every lock held by the transaction
func (tx *Transaction) release() {
	tx.grid.locks.ReleaseAll(tx.id)
}

type changeKind int

const (
	changeNone changeKind = iota
	changeWrite
	changeDelete
	changeLoad
	changeTouch
)

type change struct {
	entry *txEntry
	kind  changeKind
}

func (e *txEntry) change() changeKind {
	switch {
	case e.valueDirty && e.present:
		return changeWrite
	case e.valueDirty && (e.committed != nil || e.loaded):
		return changeDelete
	case e.valueDirty:
		return changeNone
	case e.loaded:
		return changeLoad
	case e.expiryDirty && e.committed != nil:
		return changeTouch
	}
	return changeNone
}

// commit writes through to cache stores, applies the buffered changes under
// the partition write locks and publishes the resulting events while the
// entry locks are still held
func (tx *Transaction) commit() error {
	tx.mu.Lock()
	changes := make([]change, 0, len(tx.order))
	for _, e := range tx.order {
		if k := e.change(); k != changeNone {
			changes = append(changes, change{entry: e, kind: k})
		}
	}
	tx.mu.Unlock()
	if len(changes) == 0 {
		return nil
	}
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i].entry, changes[j].entry
		if a.cache.id != b.cache.id {
			return a.cache.id.String() < b.cache.id.String()
		}
		if a.partition != b.partition {
			return a.partition < b.partition
		}
		return a.keyID < b.keyID
	})

	if err := tx.checkGeneration(changes); err != nil {
		return err
	}
	if err := tx.writeThrough(changes); err != nil {
		return err
	}

	events, err := tx.apply(changes)
	if err != nil {
		return err
	}
	tx.grid.events.Publish(events)
	return nil
}

func (tx *Transaction) writeThrough(changes []change) error {
	for _, ch := range changes {
		e := ch.entry
		s := e.cache.store
		if s == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(tx.ctx, tx.grid.config.StoreTimeout)
		var err error
		switch ch.kind {
		case changeWrite:
			err = s.Store(ctx, e.cache.id, e.keyID, e.key, e.value)
		case changeDelete:
			if e.origPresent {
				err = s.Erase(ctx, e.cache.id, e.keyID)
			}
		}
		cancel()
		if err != nil {
			tx.grid.logger.Warn("Cache store write failed",
				zap.String("cache", e.cache.id.String()),
				zap.String("key", e.keyID),
				zap.Error(err))
			return errors.IncompleteRequest("cache store write failed",
				errors.CacheStoreFailed(fmt.Sprintf("write-through to cache %q failed", e.cache.id.String()), err))
		}
	}
	return nil
}

// checkGeneration refuses changes read before their cache was truncated. The
// conflict is retried against the truncated cache.
func (tx *Transaction) checkGeneration(changes []change) error {
	for _, ch := range changes {
		e := ch.entry
		if e.generation != e.cache.generation.Load() {
			return errors.Conflict(fmt.Sprintf("cache %q was truncated during the transaction", e.cache.id.String()), nil)
		}
	}
	return nil
}

type partitionRef struct {
	cache *Cache
	part  *backingmap.Partition
}

func (tx *Transaction) apply(changes []change) ([]*model.MapEvent, error) {
	var parts []partitionRef
	seen := make(map[*backingmap.Partition]bool)
	for _, ch := range changes {
		p := ch.entry.cache.backing.Partition(ch.entry.partition)
		if !seen[p] {
			seen[p] = true
			parts = append(parts, partitionRef{cache: ch.entry.cache, part: p})
		}
	}
	for _, ref := range parts {
		ref.part.Lock()
	}
	defer func() {
		for i := len(parts) - 1; i >= 0; i-- {
			parts[i].part.Unlock()
		}
	}()

	for _, ref := range parts {
		if err := ref.cache.checkActive(); err != nil {
			return nil, err
		}
	}
	if err := tx.checkGeneration(changes); err != nil {
		return nil, err
	}

	now := time.Now()
	events := make([]*model.MapEvent, 0, len(changes))
	for _, ch := range changes {
		if ev := ch.entry.applyLocked(ch.kind, now); ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// txEntry is the transactional view of one entry. It implements
// processor.Entry.
type txEntry struct {
	tx         *Transaction
	cache      *Cache
	key        any
	keyID      string
	partition  int
	generation uint64

	committed   *model.Entry
	origValue   any
	origPresent bool

	value       any
	present     bool
	expiry      time.Time
	loaded      bool
	valueDirty  bool
	expiryDirty bool
	synthetic   bool
}

func (e *txEntry) load() error {
	ctx, cancel := context.WithTimeout(e.tx.ctx, e.tx.grid.config.StoreTimeout)
	defer cancel()
	v, found, err := e.cache.store.Load(ctx, e.cache.id, e.keyID)
	if err != nil {
		return errors.IncompleteRequest("cache store load failed",
			errors.CacheStoreFailed(fmt.Sprintf("read-through from cache %q failed", e.cache.id.String()), err))
	}
	if found {
		e.origValue, e.origPresent = v, true
		e.value, e.present = v, true
		e.loaded = true
	}
	return nil
}

func (e *txEntry) Key() any { return e.key }

func (e *txEntry) Value() any {
	if !e.present {
		return nil
	}
	return e.value
}

func (e *txEntry) IsPresent() bool { return e.present }

func (e *txEntry) SetValue(v any) {
	e.value = value.Normalize(v)
	e.present = true
	e.valueDirty = true
	e.synthetic = false
}

func (e *txEntry) SetExpiry(ttl time.Duration) {
	if ttl <= 0 {
		e.expiry = time.Time{}
	} else {
		e.expiry = time.Now().Add(ttl)
	}
	e.expiryDirty = true
}

func (e *txEntry) Expiry() time.Time { return e.expiry }

func (e *txEntry) Remove(synthetic bool) {
	e.value = nil
	e.present = false
	e.valueDirty = true
	e.synthetic = synthetic
}

func (e *txEntry) OriginalValue() any { return e.origValue }

func (e *txEntry) IsOriginalPresent() bool { return e.origPresent }

// Enlist joins an entry of another cache in the same scope. The entry must
// route to the same partition as e.
func (e *txEntry) Enlist(cacheName string, key any) (processor.Entry, error) {
	c, err := e.tx.grid.EnsureCache(e.tx.scope, cacheName)
	if err != nil {
		return nil, err
	}
	key = value.Normalize(key)
	p, err := e.tx.grid.partitions.PartitionFor(key)
	if err != nil {
		return nil, err
	}
	if p != e.partition {
		return nil, errors.InvalidArgument(
			fmt.Sprintf("cannot enlist key in partition %d from an entry in partition %d", p, e.partition), nil)
	}
	return e.tx.enlist(c, key, p)
}

// applyLocked writes the change to the backing map and indexes and returns
// the event it produces. The caller holds the partition write lock.
func (e *txEntry) applyLocked(kind changeKind, now time.Time) *model.MapEvent {
	part := e.cache.backing.Partition(e.partition)
	ev := &model.MapEvent{
		Cache:     e.cache.id,
		Key:       e.key,
		Partition: e.partition,
	}

	switch kind {
	case changeWrite, changeLoad:
		next := &model.Entry{
			Key:       e.key,
			KeyID:     e.keyID,
			Value:     e.value,
			Partition: e.partition,
			Expiry:    e.expiry,
			Version:   1,
			Created:   now,
			Updated:   now,
		}
		if e.committed != nil {
			next.Version = e.committed.Version + 1
			next.Created = e.committed.Created
		}
		part.PutLocked(next)
		e.cache.reindex(e.keyID, e.key, e.value, true)

		ev.Version = next.Version
		ev.NewValue, ev.HasNew = e.value, true
		if e.committed != nil {
			ev.Type = model.EventUpdated
			ev.OldValue, ev.HasOld = e.committed.Value, true
		} else {
			ev.Type = model.EventInserted
			ev.Synthetic = kind == changeLoad
		}
		return ev

	case changeDelete:
		part.DeleteLocked(e.keyID)
		e.cache.reindex(e.keyID, nil, nil, false)
		if e.committed == nil {
			return nil
		}
		ev.Type = model.EventDeleted
		ev.OldValue, ev.HasOld = e.committed.Value, true
		ev.Synthetic = e.synthetic
		ev.Version = e.committed.Version + 1
		return ev

	case changeTouch:
		next := e.committed.Clone()
		next.Expiry = e.expiry
		part.PutLocked(next)
	}
	return nil
}
