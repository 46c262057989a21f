package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/extractor"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/index"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/storage/backingmap"
	"github.com/devrev/pairdb/gridcache/internal/store"
	"github.com/devrev/pairdb/gridcache/internal/value"
	"go.uber.org/zap"
)

// Cache is a named, partitioned collection of entries
type Cache struct {
	id      model.CacheID
	grid    *GridService
	backing *backingmap.BackingMap
	indexes *index.Manager
	store   store.CacheStore
	logger  *zap.Logger
	created time.Time

	// generation is bumped by every truncate. Transactions that read an
	// entry under an older generation cannot commit it.
	generation atomic.Uint64

	active      atomic.Bool
	destroyed   chan struct{}
	destroyOnce sync.Once
}

func newCache(id model.CacheID, g *GridService) *Cache {
	c := &Cache{
		id:        id,
		grid:      g,
		backing:   backingmap.New(g.partitions.Count()),
		indexes:   index.NewManager(),
		store:     g.stores.For(id),
		logger:    g.logger.With(zap.String("cache", id.String())),
		created:   time.Now(),
		destroyed: make(chan struct{}),
	}
	c.active.Store(true)
	return c
}

// ID returns the cache identity
func (c *Cache) ID() model.CacheID { return c.id }

// Name returns the cache name
func (c *Cache) Name() string { return c.id.Name }

// IsActive reports whether the cache has not been destroyed
func (c *Cache) IsActive() bool { return c.active.Load() }

// Created returns the creation time
func (c *Cache) Created() time.Time { return c.created }

func (c *Cache) notActive() error {
	return errors.NotActive(c.id.Scope, c.id.Name)
}

func (c *Cache) checkActive() error {
	if !c.active.Load() {
		return c.notActive()
	}
	return nil
}

// keyRef is a normalized key with its identity and partition
type keyRef struct {
	key       any
	keyID     string
	partition int
}

func (c *Cache) ref(key any) (keyRef, error) {
	key = value.Normalize(key)
	p, err := c.grid.partitions.PartitionFor(key)
	if err != nil {
		return keyRef{}, err
	}
	return keyRef{key: key, keyID: value.KeyOf(key), partition: p}, nil
}

func (c *Cache) refs(keys []any) ([]keyRef, error) {
	seen := make(map[string]bool, len(keys))
	out := make([]keyRef, 0, len(keys))
	for _, k := range keys {
		r, err := c.ref(k)
		if err != nil {
			return nil, err
		}
		if seen[r.keyID] {
			continue
		}
		seen[r.keyID] = true
		out = append(out, r)
	}
	sortRefs(out)
	return out, nil
}

func sortRefs(refs []keyRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].partition != refs[j].partition {
			return refs[i].partition < refs[j].partition
		}
		return refs[i].keyID < refs[j].keyID
	})
}

func (c *Cache) reindex(keyID string, key, val any, present bool) {
	if c.indexes.Count() == 0 {
		return
	}
	if err := c.indexes.Update(keyID, key, val, present); err != nil {
		c.logger.Warn("Failed to update index", zap.String("key", keyID), zap.Error(err))
	}
}

// Get returns the value mapped to key. present distinguishes a key mapped
// to nil from an absent key.
func (c *Cache) Get(ctx context.Context, key any) (val any, present bool, err error) {
	if err := c.checkActive(); err != nil {
		return nil, false, err
	}
	r, err := c.ref(key)
	if err != nil {
		return nil, false, err
	}
	if e, ok := c.backing.Get(r.partition, r.keyID, time.Now()); ok {
		return e.Value, true, nil
	}
	if c.store == nil {
		return nil, false, nil
	}

	err = c.grid.execute(ctx, c.id.Scope, func(tx *Transaction) error {
		e, err := tx.enlist(c, r.key, r.partition)
		if err != nil {
			return err
		}
		val, present = e.Value(), e.IsPresent()
		return nil
	})
	return val, present, err
}

// GetOrDefault returns the mapped value, or def when key is absent. A key
// mapped to nil returns nil.
func (c *Cache) GetOrDefault(ctx context.Context, key, def any) (any, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// GetAll returns the present subset of keys
func (c *Cache) GetAll(ctx context.Context, keys []any) ([]model.KeyValue, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	refs, err := c.refs(keys)
	if err != nil {
		return nil, err
	}
	out := make([]model.KeyValue, 0, len(refs))
	for _, r := range refs {
		v, ok, err := c.Get(ctx, r.key)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, model.KeyValue{Key: r.key, Value: v})
		}
	}
	return out, nil
}

// Entry returns a copy of the committed entry for key
func (c *Cache) Entry(key any) (*model.Entry, bool, error) {
	if err := c.checkActive(); err != nil {
		return nil, false, err
	}
	r, err := c.ref(key)
	if err != nil {
		return nil, false, err
	}
	e, ok := c.backing.Get(r.partition, r.keyID, time.Now())
	return e, ok, nil
}

// Put maps key to val and returns the previous value. A positive ttl sets
// the expiry to now+ttl; zero clears it.
func (c *Cache) Put(ctx context.Context, key, val any, ttl time.Duration) (any, error) {
	return c.Invoke(ctx, key, putProcessor(val, ttl))
}

// PutIfAbsent maps key to val when key is absent or mapped to nil
func (c *Cache) PutIfAbsent(ctx context.Context, key, val any) (any, error) {
	return c.Invoke(ctx, key, putIfAbsentProcessor(val))
}

// PutAll maps every key in entries atomically. An empty batch is a no-op.
func (c *Cache) PutAll(ctx context.Context, entries []model.KeyValue, ttl time.Duration) error {
	if len(entries) == 0 {
		return c.checkActive()
	}
	values := make(map[string]any, len(entries))
	keys := make([]any, 0, len(entries))
	for _, kv := range entries {
		k := value.Normalize(kv.Key)
		values[value.KeyOf(k)] = kv.Value
		keys = append(keys, k)
	}
	_, err := c.InvokeAll(ctx, ByKeys(keys), putAllProcessor(values, ttl))
	return err
}

// Remove deletes key and returns the previous value
func (c *Cache) Remove(ctx context.Context, key any) (any, error) {
	return c.Invoke(ctx, key, removeProcessor())
}

// RemoveMapping deletes key only when it is mapped to expected
func (c *Cache) RemoveMapping(ctx context.Context, key, expected any) (bool, error) {
	r, err := c.Invoke(ctx, key, removeMappingProcessor(expected))
	if err != nil {
		return false, err
	}
	return r == true, nil
}

// Replace maps key to val only when key is present and returns the previous value
func (c *Cache) Replace(ctx context.Context, key, val any) (any, error) {
	return c.Invoke(ctx, key, replaceProcessor(val))
}

// ReplaceMapping maps key to val only when key is mapped to expected
func (c *Cache) ReplaceMapping(ctx context.Context, key, expected, val any) (bool, error) {
	r, err := c.Invoke(ctx, key, replaceMappingProcessor(expected, val))
	if err != nil {
		return false, err
	}
	return r == true, nil
}

// RemapFunc computes a replacement value for a present entry
type RemapFunc func(key, val any) (any, error)

// ReplaceAll replaces the value of every selected present entry with
// fn(key, value). Each entry is replaced in its own transaction.
func (c *Cache) ReplaceAll(ctx context.Context, sel Selector, fn RemapFunc) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	refs, err := c.selectRefs(sel)
	if err != nil {
		return err
	}
	f := sel.filter()
	for _, r := range refs {
		proc := remapProcessor(f, fn)
		if _, err := c.invokeRef(ctx, r, proc); err != nil {
			return err
		}
	}
	return nil
}

// ContainsKey reports whether key is present
func (c *Cache) ContainsKey(ctx context.Context, key any) (bool, error) {
	if err := c.checkActive(); err != nil {
		return false, err
	}
	r, err := c.ref(key)
	if err != nil {
		return false, err
	}
	_, ok := c.backing.Get(r.partition, r.keyID, time.Now())
	return ok, nil
}

// ContainsValue reports whether any entry is mapped to val
func (c *Cache) ContainsValue(ctx context.Context, val any) (bool, error) {
	if err := c.checkActive(); err != nil {
		return false, err
	}
	val = value.Normalize(val)
	now := time.Now()
	for p := 0; p < c.backing.PartitionCount(); p++ {
		if err := ctx.Err(); err != nil {
			return false, errors.Timeout("request cancelled", err)
		}
		for _, e := range c.backing.Partition(p).Snapshot(now) {
			if value.Equal(e.Value, val) {
				return true, nil
			}
		}
	}
	return false, nil
}

// ContainsEntry reports whether key is mapped to val
func (c *Cache) ContainsEntry(ctx context.Context, key, val any) (bool, error) {
	if err := c.checkActive(); err != nil {
		return false, err
	}
	r, err := c.ref(key)
	if err != nil {
		return false, err
	}
	e, ok := c.backing.Get(r.partition, r.keyID, time.Now())
	return ok && value.Equal(e.Value, value.Normalize(val)), nil
}

// Size returns the number of live entries
func (c *Cache) Size() (int, error) {
	if err := c.checkActive(); err != nil {
		return 0, err
	}
	return c.backing.Size(time.Now()), nil
}

// IsEmpty reports whether the cache holds no live entry
func (c *Cache) IsEmpty() (bool, error) {
	if err := c.checkActive(); err != nil {
		return false, err
	}
	return c.backing.IsEmpty(time.Now()), nil
}

// Clear removes every entry, emitting ordinary delete events
func (c *Cache) Clear(ctx context.Context) error {
	_, err := c.InvokeAll(ctx, AllEntries(), removeProcessor())
	return err
}

// Truncate removes every entry without entry events or cache store
// erasure, then notifies listeners with a Truncated lifecycle event
func (c *Cache) Truncate(ctx context.Context) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	c.clear()
	c.logger.Info("Cache truncated")
	c.grid.events.PublishLifecycle(c.id, model.LifecycleTruncated)
	return nil
}

// Destroy removes the cache and its data. In-flight and later operations
// fail with NotActive.
func (c *Cache) Destroy(ctx context.Context) error {
	if !c.active.CompareAndSwap(true, false) {
		return c.notActive()
	}
	c.destroyOnce.Do(func() { close(c.destroyed) })
	c.clear()
	c.grid.removeCache(c)
	c.logger.Info("Cache destroyed")
	c.grid.events.PublishLifecycle(c.id, model.LifecycleDestroyed)
	return nil
}

// clear drops every entry and index entry while holding every partition, so
// a commit lands either wholly before it or against the new generation
func (c *Cache) clear() {
	n := c.backing.PartitionCount()
	for p := 0; p < n; p++ {
		c.backing.Partition(p).Lock()
	}
	defer func() {
		for p := n - 1; p >= 0; p-- {
			c.backing.Partition(p).Unlock()
		}
	}()
	c.generation.Add(1)
	for p := 0; p < n; p++ {
		c.backing.Partition(p).ResetLocked()
	}
	c.indexes.Clear()
}

// KeySet returns the keys of entries matching f, or all keys when f is nil
func (c *Cache) KeySet(ctx context.Context, f filter.Filter) ([]any, error) {
	entries, err := c.query(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out, nil
}

// EntrySet returns the entries matching f
func (c *Cache) EntrySet(ctx context.Context, f filter.Filter) ([]model.KeyValue, error) {
	entries, err := c.query(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]model.KeyValue, len(entries))
	for i, e := range entries {
		out[i] = model.KeyValue{Key: e.Key, Value: e.Value}
	}
	return out, nil
}

// Values returns the values of entries matching f, stably ordered by cmp
// when one is given
func (c *Cache) Values(ctx context.Context, f filter.Filter, cmp extractor.Comparator) ([]any, error) {
	entries, err := c.query(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	if cmp != nil {
		value.SortValues(out, cmp.Compare)
	}
	return out, nil
}

// query returns committed entries matching f in partition order
func (c *Cache) query(ctx context.Context, f filter.Filter) ([]*model.Entry, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	var out []*model.Entry
	for p := 0; p < c.backing.PartitionCount(); p++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Timeout("request cancelled", err)
		}
		matched, err := c.matchPartition(p, f)
		if err != nil {
			return nil, err
		}
		out = append(out, matched...)
	}
	return out, nil
}

// matchPartition evaluates f over the committed entries of partition p,
// narrowing candidates with the indexes first
func (c *Cache) matchPartition(p int, f filter.Filter) ([]*model.Entry, error) {
	snapshot := c.backing.Partition(p).Snapshot(time.Now())
	if f == nil || len(snapshot) == 0 {
		return snapshot, nil
	}

	var candidates filter.KeySet
	if c.indexes.Count() > 0 {
		candidates = make(filter.KeySet, len(snapshot))
		for _, e := range snapshot {
			candidates[e.KeyID] = struct{}{}
		}
		candidates = c.indexes.Narrow(f, candidates)
	}

	out := make([]*model.Entry, 0, len(snapshot))
	for _, e := range snapshot {
		if candidates != nil {
			if _, ok := candidates[e.KeyID]; !ok {
				continue
			}
		}
		ok, err := f.Evaluate(filter.NewEntry(e.Key, e.Value))
		if err != nil {
			return nil, errors.IncompleteRequest("filter evaluation failed", err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// AddIndex builds an index over the extractor described by desc. Adding an
// index that already exists replaces it.
func (c *Cache) AddIndex(ctx context.Context, desc any, ordered bool, comparator any) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	idx, err := index.New(desc, ordered, comparator)
	if err != nil {
		return errors.InvalidArgument("invalid index definition", err)
	}

	// Hold every partition so no commit lands between the scan and the install
	for p := 0; p < c.backing.PartitionCount(); p++ {
		c.backing.Partition(p).Lock()
	}
	defer func() {
		for p := c.backing.PartitionCount() - 1; p >= 0; p-- {
			c.backing.Partition(p).Unlock()
		}
	}()

	now := time.Now()
	for p := 0; p < c.backing.PartitionCount(); p++ {
		part := c.backing.Partition(p)
		for _, keyID := range c.liveKeysLocked(part, now) {
			e, _ := part.GetLocked(keyID)
			if err := idx.Insert(e.KeyID, e.Key, e.Value); err != nil {
				c.logger.Warn("Failed to index entry", zap.String("key", e.KeyID), zap.Error(err))
			}
		}
	}
	c.indexes.Add(idx)
	c.logger.Info("Index added",
		zap.String("index", idx.ID),
		zap.Bool("ordered", ordered),
		zap.Int("entries", idx.Len()))
	return nil
}

func (c *Cache) liveKeysLocked(part *backingmap.Partition, now time.Time) []string {
	var out []string
	for _, id := range part.KeyIDsLocked() {
		if e, ok := part.GetLocked(id); ok && !e.IsExpired(now) {
			out = append(out, id)
		}
	}
	return out
}

// RemoveIndex drops the index for desc. Removing a missing index is a no-op.
func (c *Cache) RemoveIndex(ctx context.Context, desc any) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if c.indexes.Remove(desc) {
		c.logger.Info("Index removed", zap.String("index", extractor.ID(desc)))
	}
	return nil
}

// IndexCount returns the number of indexes
func (c *Cache) IndexCount() int {
	return c.indexes.Count()
}

// Indexes returns the index manager
func (c *Cache) Indexes() *index.Manager {
	return c.indexes
}

// AddMapListener registers l. A priming key registration receives one
// synthetic Updated event for a present key before any later mutation; a
// priming filter registration receives one per matching entry.
func (c *Cache) AddMapListener(ctx context.Context, opts ListenerOptions, l MapListener) (*Registration, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	events := c.grid.events
	if !opts.Priming {
		return events.Register(c.id, opts, l)
	}

	if opts.HasKey {
		r, err := c.ref(opts.Key)
		if err != nil {
			return nil, err
		}
		var reg *Registration
		err = c.grid.execute(ctx, c.id.Scope, func(tx *Transaction) error {
			tx.noLoad = true
			e, err := tx.enlist(c, r.key, r.partition)
			if err != nil {
				return err
			}
			if reg == nil {
				if reg, err = events.Register(c.id, opts, l); err != nil {
					return err
				}
			}
			if e.IsPresent() {
				events.Deliver(reg, primingEvent(c.id, e.key, e.partition, e.Value()))
			}
			return nil
		})
		if err != nil && reg != nil {
			events.Unregister(reg.ID)
		}
		return reg, err
	}

	reg, err := events.Register(c.id, opts, l)
	if err != nil {
		return nil, err
	}
	entries, err := c.query(ctx, opts.Filter)
	if err != nil {
		events.Unregister(reg.ID)
		return nil, err
	}
	for _, e := range entries {
		events.Deliver(reg, primingEvent(c.id, e.Key, e.Partition, e.Value))
	}
	return reg, nil
}

func primingEvent(cache model.CacheID, key any, p int, val any) *model.MapEvent {
	return &model.MapEvent{
		Cache:     cache,
		Type:      model.EventUpdated,
		Key:       key,
		Partition: p,
		NewValue:  val,
		HasNew:    true,
		Synthetic: true,
		Priming:   true,
	}
}

// RemoveMapListener removes a registration of this cache
func (c *Cache) RemoveMapListener(id string) bool {
	return c.grid.events.Unregister(id)
}
