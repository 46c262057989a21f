package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/value"
	"github.com/devrev/pairdb/gridcache/pkg/extractors"
	"github.com/devrev/pairdb/gridcache/pkg/filters"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultReplaceRetries = 16

// CacheOptions configure a NamedCache handle
type CacheOptions struct {
	NearCache *NearCacheOptions
	// ReplaceRetries bounds the compare-and-replace attempts per entry in
	// ReplaceAll
	ReplaceRetries int
}

// WithNearCache puts a near cache in front of the handle
func WithNearCache(opts NearCacheOptions) func(*CacheOptions) {
	return func(o *CacheOptions) { o.NearCache = &opts }
}

// WithReplaceRetries sets the per-entry retry limit of ReplaceAll
func WithReplaceRetries(n int) func(*CacheOptions) {
	return func(o *CacheOptions) { o.ReplaceRetries = n }
}

// Entry is a typed cache entry
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// NamedCache is a typed handle to a cache of the session's scope. Handles
// are shared: GetNamedCache returns the same handle for the same name until
// it is released or the cache is destroyed.
type NamedCache[K comparable, V any] struct {
	session *Session
	name    string
	codec   codec
	logger  *zap.Logger
	opts    CacheOptions
	near    *nearCache[K, V]

	mu         sync.Mutex
	released   bool
	destroyed  bool
	listeners  map[string]string
	lifecycles []*LifecycleListener
}

// GetNamedCache returns the handle for name, creating the cache on the
// server when needed. Asking for an open name with different type
// parameters fails with ErrInvalidArgument.
func GetNamedCache[K comparable, V any](ctx context.Context, s *Session, name string, options ...func(*CacheOptions)) (*NamedCache[K, V], error) {
	if name == "" {
		return nil, fmt.Errorf("%w: cache name is required", ErrInvalidArgument)
	}
	h, err, _ := s.opening.Do(name, func() (any, error) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		existing, ok := s.caches[name]
		s.mu.Unlock()
		if ok {
			nc, ok := existing.(*NamedCache[K, V])
			if !ok {
				return nil, fmt.Errorf("%w: cache %q is open with other types than %T", ErrInvalidArgument, name, nc)
			}
			if nc.IsActive() {
				return nc, nil
			}
		}
		return newNamedCache[K, V](ctx, s, name, options)
	})
	if err != nil {
		return nil, err
	}
	nc, ok := h.(*NamedCache[K, V])
	if !ok {
		return nil, fmt.Errorf("%w: cache %q is open with other types", ErrInvalidArgument, name)
	}
	return nc, nil
}

func newNamedCache[K comparable, V any](ctx context.Context, s *Session, name string, options []func(*CacheOptions)) (*NamedCache[K, V], error) {
	opts := CacheOptions{ReplaceRetries: defaultReplaceRetries}
	for _, f := range options {
		f(&opts)
	}

	c := &NamedCache[K, V]{
		session:   s,
		name:      name,
		codec:     s.codec,
		logger:    s.logger.With(zap.String("cache", name)),
		opts:      opts,
		listeners: make(map[string]string),
	}
	if _, err := s.single(ctx, c.request(pb.RequestEnsureCache)); err != nil {
		return nil, err
	}

	if opts.NearCache != nil {
		near, err := newNearCache[K, V](*opts.NearCache)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		c.near = near
		req := c.request(pb.RequestAddMapListener)
		req.Lite = true
		if _, err := c.addRegistration(ctx, req, c.invalidateNear); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.caches[name] = c
	s.mu.Unlock()
	c.logger.Debug("Opened named cache", zap.Bool("near_cache", c.near != nil))
	return c, nil
}

// Name returns the cache name
func (c *NamedCache[K, V]) Name() string {
	return c.name
}

// Session returns the session the handle belongs to
func (c *NamedCache[K, V]) Session() *Session {
	return c.session
}

func (c *NamedCache[K, V]) String() string {
	return fmt.Sprintf("NamedCache{name=%s, session=%s, active=%v, near=%v}", c.name, c.session.ID(), c.IsActive(), c.near != nil)
}

// IsActive reports whether the handle is neither released nor destroyed
func (c *NamedCache[K, V]) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.released && !c.destroyed
}

// IsReleased reports whether Release was called
func (c *NamedCache[K, V]) IsReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// IsDestroyed reports whether the cache was destroyed
func (c *NamedCache[K, V]) IsDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// NearCacheStats returns the near cache counters. The second result is
// false when the handle has no near cache.
func (c *NamedCache[K, V]) NearCacheStats() (NearCacheStats, bool) {
	if c.near == nil {
		return NearCacheStats{}, false
	}
	return c.near.stats(), true
}

func (c *NamedCache[K, V]) request(t pb.RequestType) *pb.NamedCacheRequest {
	return &pb.NamedCacheRequest{Type: t, Cache: c.name}
}

func (c *NamedCache[K, V]) keyed(t pb.RequestType, key K) (*pb.NamedCacheRequest, error) {
	data, err := c.codec.encode(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	req := c.request(t)
	req.Key = data
	return req, nil
}

func (c *NamedCache[K, V]) checkActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.destroyed:
		return fmt.Errorf("%w: cache %s was destroyed", ErrNotActive, c.name)
	case c.released:
		return fmt.Errorf("%w: cache %s was released", ErrNotActive, c.name)
	}
	return nil
}

func (c *NamedCache[K, V]) run(ctx context.Context, req *pb.NamedCacheRequest) (*pb.ResponseMessage, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	return c.session.single(ctx, req)
}

func (c *NamedCache[K, V]) stream(ctx context.Context, req *pb.NamedCacheRequest) ([]*pb.ResponseMessage, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	return c.session.execute(ctx, req)
}

func (c *NamedCache[K, V]) encodeValue(v V) ([]byte, error) {
	data, err := c.codec.encode(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return data, nil
}

func (c *NamedCache[K, V]) encodeOptional(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := c.codec.encode(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return data, nil
}

// decodePtr decodes data into a new T. A canonical nil decodes to nil.
func decodePtr[T any](c codec, data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	v, err := c.decode(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	t, err := convert[T](v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *NamedCache[K, V]) previous(msg *pb.ResponseMessage) (*V, error) {
	if !msg.Present {
		return nil, nil
	}
	return decodePtr[V](c.codec, msg.Value)
}

func (c *NamedCache[K, V]) invalidate(key K) {
	if c.near != nil {
		c.near.invalidate(key)
	}
}

func (c *NamedCache[K, V]) purge() {
	if c.near != nil {
		c.near.clear()
	}
}

func (c *NamedCache[K, V]) invalidateNear(msg *pb.MapEventMessage) {
	key, err := decodeAs[K](c.codec, msg.Key)
	if err != nil {
		c.near.clear()
		return
	}
	c.near.invalidate(key)
}

// Get returns the value mapped to key, or nil when the key is absent. A key
// mapped to nil also returns nil; use ContainsKey to tell them apart.
func (c *NamedCache[K, V]) Get(ctx context.Context, key K) (*V, error) {
	if c.near != nil {
		if v, ok := c.near.get(key); ok {
			return &v, nil
		}
	}
	req, err := c.keyed(pb.RequestGet, key)
	if err != nil {
		return nil, err
	}
	msg, err := c.run(ctx, req)
	if err != nil {
		return nil, err
	}
	v, err := c.previous(msg)
	if err != nil {
		return nil, err
	}
	if v != nil && c.near != nil {
		c.near.put(key, *v)
	}
	return v, nil
}

// GetOrDefault returns the value mapped to key, or def when the key is
// absent
func (c *NamedCache[K, V]) GetOrDefault(ctx context.Context, key K, def V) (V, error) {
	if c.near != nil {
		if v, ok := c.near.get(key); ok {
			return v, nil
		}
	}
	req, err := c.keyed(pb.RequestGetOrDefault, key)
	if err != nil {
		return def, err
	}
	if req.Value, err = c.encodeValue(def); err != nil {
		return def, err
	}
	msg, err := c.run(ctx, req)
	if err != nil {
		return def, err
	}
	v, err := decodeAs[V](c.codec, msg.Value)
	if err != nil {
		return def, err
	}
	return v, nil
}

// GetAll returns the present entries among keys
func (c *NamedCache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	missing := keys
	if c.near != nil {
		missing = missing[:0:0]
		for _, k := range keys {
			if v, ok := c.near.get(k); ok {
				out[k] = v
				continue
			}
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	req := c.request(pb.RequestGetAll)
	var err error
	if req.Keys, err = c.encodeKeys(missing); err != nil {
		return nil, err
	}
	msgs, err := c.stream(ctx, req)
	if err != nil {
		return nil, err
	}
	err = c.eachEntry(msgs, func(k K, v V) {
		out[k] = v
		if c.near != nil {
			c.near.put(k, v)
		}
	})
	return out, err
}

func (c *NamedCache[K, V]) encodeKeys(keys []K) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		data, err := c.codec.encode(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		out[i] = data
	}
	return out, nil
}

func (c *NamedCache[K, V]) eachEntry(msgs []*pb.ResponseMessage, fn func(K, V)) error {
	for _, m := range msgs {
		for _, e := range m.Entries {
			k, err := decodeAs[K](c.codec, e.Key)
			if err != nil {
				return err
			}
			v, err := decodeAs[V](c.codec, e.Value)
			if err != nil {
				return err
			}
			fn(k, v)
		}
	}
	return nil
}

// Put maps key to v and returns the previous value. An entry written
// without a TTL does not expire.
func (c *NamedCache[K, V]) Put(ctx context.Context, key K, v V) (*V, error) {
	return c.PutWithExpiry(ctx, key, v, 0)
}

// PutWithExpiry maps key to v for ttl and returns the previous value
func (c *NamedCache[K, V]) PutWithExpiry(ctx context.Context, key K, v V, ttl time.Duration) (*V, error) {
	req, err := c.keyed(pb.RequestPut, key)
	if err != nil {
		return nil, err
	}
	if req.Value, err = c.encodeValue(v); err != nil {
		return nil, err
	}
	req.TTLMillis = ttl.Milliseconds()
	c.invalidate(key)
	msg, err := c.run(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.previous(msg)
}

// PutIfAbsent maps key to v unless the key is present, and returns the
// value that was present
func (c *NamedCache[K, V]) PutIfAbsent(ctx context.Context, key K, v V) (*V, error) {
	req, err := c.keyed(pb.RequestPutIfAbsent, key)
	if err != nil {
		return nil, err
	}
	if req.Value, err = c.encodeValue(v); err != nil {
		return nil, err
	}
	c.invalidate(key)
	msg, err := c.run(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.previous(msg)
}

// PutAll stores every entry without expiry
func (c *NamedCache[K, V]) PutAll(ctx context.Context, entries map[K]V) error {
	return c.PutAllWithExpiry(ctx, entries, 0)
}

// PutAllWithExpiry stores every entry for ttl
func (c *NamedCache[K, V]) PutAllWithExpiry(ctx context.Context, entries map[K]V, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	req := c.request(pb.RequestPutAll)
	req.TTLMillis = ttl.Milliseconds()
	req.Entries = make([]*pb.BinaryEntry, 0, len(entries))
	for k, v := range entries {
		kd, err := c.codec.encode(k)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		vd, err := c.encodeValue(v)
		if err != nil {
			return err
		}
		req.Entries = append(req.Entries, &pb.BinaryEntry{Key: kd, Value: vd})
		c.invalidate(k)
	}
	_, err := c.run(ctx, req)
	return err
}

// Remove deletes key and returns the removed value
func (c *NamedCache[K, V]) Remove(ctx context.Context, key K) (*V, error) {
	req, err := c.keyed(pb.RequestRemove, key)
	if err != nil {
		return nil, err
	}
	c.invalidate(key)
	msg, err := c.run(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.previous(msg)
}

// RemoveMapping deletes key only while it is mapped to v
func (c *NamedCache[K, V]) RemoveMapping(ctx context.Context, key K, v V) (bool, error) {
	req, err := c.keyed(pb.RequestRemoveMapping, key)
	if err != nil {
		return false, err
	}
	if req.Value, err = c.encodeValue(v); err != nil {
		return false, err
	}
	c.invalidate(key)
	msg, err := c.run(ctx, req)
	if err != nil {
		return false, err
	}
	return msg.Bool, nil
}

// Replace maps key to v only when the key is present, and returns the
// previous value
func (c *NamedCache[K, V]) Replace(ctx context.Context, key K, v V) (*V, error) {
	req, err := c.keyed(pb.RequestReplace, key)
	if err != nil {
		return nil, err
	}
	if req.Value, err = c.encodeValue(v); err != nil {
		return nil, err
	}
	c.invalidate(key)
	msg, err := c.run(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.previous(msg)
}

// ReplaceMapping maps key to v only while it is mapped to prev
func (c *NamedCache[K, V]) ReplaceMapping(ctx context.Context, key K, prev V, v V) (bool, error) {
	req, err := c.keyed(pb.RequestReplaceMapping, key)
	if err != nil {
		return false, err
	}
	if req.Expected, err = c.encodeValue(prev); err != nil {
		return false, err
	}
	if req.Value, err = c.encodeValue(v); err != nil {
		return false, err
	}
	c.invalidate(key)
	msg, err := c.run(ctx, req)
	if err != nil {
		return false, err
	}
	return msg.Bool, nil
}

// ReplaceAll applies fn to every entry
func (c *NamedCache[K, V]) ReplaceAll(ctx context.Context, fn func(K, V) V) error {
	return c.ReplaceAllFilter(ctx, nil, fn)
}

// ReplaceAllFilter applies fn to every entry matching f. Each entry is
// replaced with a compare-and-replace that is retried with the current
// value when a concurrent writer got there first; an entry that keeps
// changing fails with ErrConflict. Entries removed meanwhile are skipped.
func (c *NamedCache[K, V]) ReplaceAllFilter(ctx context.Context, f filters.Filter, fn func(K, V) V) error {
	entries, err := c.EntrySetFilter(ctx, f)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.replaceOne(ctx, e.Key, e.Value, fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *NamedCache[K, V]) replaceOne(ctx context.Context, key K, current V, fn func(K, V) V) error {
	for attempt := 0; attempt < c.opts.ReplaceRetries; attempt++ {
		ok, err := c.ReplaceMapping(ctx, key, current, fn(key, current))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		latest, err := c.getRemote(ctx, key)
		if err != nil {
			return err
		}
		if latest == nil {
			return nil
		}
		current = *latest
	}
	return fmt.Errorf("%w: key %v changed %d times during replaceAll", ErrConflict, key, c.opts.ReplaceRetries)
}

// getRemote reads key bypassing the near cache
func (c *NamedCache[K, V]) getRemote(ctx context.Context, key K) (*V, error) {
	req, err := c.keyed(pb.RequestGet, key)
	if err != nil {
		return nil, err
	}
	msg, err := c.run(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.previous(msg)
}

// ContainsKey reports whether key is present, including keys mapped to nil
func (c *NamedCache[K, V]) ContainsKey(ctx context.Context, key K) (bool, error) {
	req, err := c.keyed(pb.RequestContainsKey, key)
	if err != nil {
		return false, err
	}
	msg, err := c.run(ctx, req)
	if err != nil {
		return false, err
	}
	return msg.Bool, nil
}

// ContainsValue reports whether any entry is mapped to v
func (c *NamedCache[K, V]) ContainsValue(ctx context.Context, v V) (bool, error) {
	req := c.request(pb.RequestContainsValue)
	var err error
	if req.Value, err = c.encodeValue(v); err != nil {
		return false, err
	}
	msg, err := c.run(ctx, req)
	if err != nil {
		return false, err
	}
	return msg.Bool, nil
}

// ContainsEntry reports whether key is mapped to v
func (c *NamedCache[K, V]) ContainsEntry(ctx context.Context, key K, v V) (bool, error) {
	req, err := c.keyed(pb.RequestContainsEntry, key)
	if err != nil {
		return false, err
	}
	if req.Value, err = c.encodeValue(v); err != nil {
		return false, err
	}
	msg, err := c.run(ctx, req)
	if err != nil {
		return false, err
	}
	return msg.Bool, nil
}

// Size returns the number of entries
func (c *NamedCache[K, V]) Size(ctx context.Context) (int, error) {
	msg, err := c.run(ctx, c.request(pb.RequestSize))
	if err != nil {
		return 0, err
	}
	return int(msg.Int), nil
}

// IsEmpty reports whether the cache has no entries
func (c *NamedCache[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	msg, err := c.run(ctx, c.request(pb.RequestIsEmpty))
	if err != nil {
		return false, err
	}
	return msg.Bool, nil
}

// IsReady reports whether the server considers the cache active
func (c *NamedCache[K, V]) IsReady(ctx context.Context) (bool, error) {
	msg, err := c.run(ctx, c.request(pb.RequestIsReady))
	if err != nil {
		return false, err
	}
	return msg.Bool, nil
}

// Clear removes every entry, emitting a Deleted event per entry
func (c *NamedCache[K, V]) Clear(ctx context.Context) error {
	c.purge()
	_, err := c.run(ctx, c.request(pb.RequestClear))
	return err
}

// Truncate removes every entry without entry events. Lifecycle listeners
// see Truncated.
func (c *NamedCache[K, V]) Truncate(ctx context.Context) error {
	c.purge()
	_, err := c.run(ctx, c.request(pb.RequestTruncate))
	return err
}

// Destroy removes the cache from the grid. Every handle to it, in any
// session, becomes inactive.
func (c *NamedCache[K, V]) Destroy(ctx context.Context) error {
	if _, err := c.run(ctx, c.request(pb.RequestDestroy)); err != nil {
		return err
	}
	c.mu.Lock()
	c.destroyed = true
	c.listeners = make(map[string]string)
	c.mu.Unlock()
	c.purge()
	c.session.dropCache(c.name)
	return nil
}

// Release drops the local handle and its listener registrations. The cache
// and its data stay on the grid.
func (c *NamedCache[K, V]) Release(ctx context.Context) error {
	c.mu.Lock()
	if c.released || c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	c.listeners = make(map[string]string)
	lifecycles := append([]*LifecycleListener(nil), c.lifecycles...)
	c.mu.Unlock()

	err := c.session.releaseCache(ctx, c.name)
	c.purge()
	c.forget()

	ev := LifecycleEvent{Cache: c.name, Type: Released}
	for _, l := range lifecycles {
		l.fire(ev)
	}
	return err
}

// forget removes the handle from its session
func (c *NamedCache[K, V]) forget() {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.caches[c.name]; ok && h == cacheHandle(c) {
		delete(s.caches, c.name)
	}
}

func (c *NamedCache[K, V]) onLifecycle(t LifecycleEventType) {
	switch t {
	case Truncated:
		c.purge()
	case Destroyed:
		c.mu.Lock()
		c.destroyed = true
		c.listeners = make(map[string]string)
		c.mu.Unlock()
		c.purge()
		c.forget()
	}
	c.mu.Lock()
	lifecycles := append([]*LifecycleListener(nil), c.lifecycles...)
	c.mu.Unlock()
	ev := LifecycleEvent{Cache: c.name, Type: t}
	for _, l := range lifecycles {
		l.fire(ev)
	}
}

// AddLifecycleListener registers l for truncate, destroy and release
func (c *NamedCache[K, V]) AddLifecycleListener(l *LifecycleListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.lifecycles {
		if existing == l {
			return
		}
	}
	c.lifecycles = append(c.lifecycles, l)
}

// RemoveLifecycleListener removes l
func (c *NamedCache[K, V]) RemoveLifecycleListener(l *LifecycleListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.lifecycles {
		if existing == l {
			c.lifecycles = append(c.lifecycles[:i], c.lifecycles[i+1:]...)
			return
		}
	}
}

// KeySet returns every key
func (c *NamedCache[K, V]) KeySet(ctx context.Context) ([]K, error) {
	return c.KeySetFilter(ctx, nil)
}

// KeySetFilter returns the keys of the entries matching f
func (c *NamedCache[K, V]) KeySetFilter(ctx context.Context, f filters.Filter) ([]K, error) {
	req := c.request(pb.RequestKeySet)
	var err error
	if req.Filter, err = c.encodeOptional(optional(f)); err != nil {
		return nil, err
	}
	msgs, err := c.stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var keys []K
	for _, m := range msgs {
		for _, data := range m.Keys {
			k, err := decodeAs[K](c.codec, data)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// EntrySet returns every entry
func (c *NamedCache[K, V]) EntrySet(ctx context.Context) ([]Entry[K, V], error) {
	return c.EntrySetFilter(ctx, nil)
}

// EntrySetFilter returns the entries matching f
func (c *NamedCache[K, V]) EntrySetFilter(ctx context.Context, f filters.Filter) ([]Entry[K, V], error) {
	req := c.request(pb.RequestEntrySet)
	var err error
	if req.Filter, err = c.encodeOptional(optional(f)); err != nil {
		return nil, err
	}
	msgs, err := c.stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var entries []Entry[K, V]
	err = c.eachEntry(msgs, func(k K, v V) {
		entries = append(entries, Entry[K, V]{Key: k, Value: v})
	})
	return entries, err
}

// Values returns every value
func (c *NamedCache[K, V]) Values(ctx context.Context) ([]V, error) {
	return c.ValuesSorted(ctx, nil, nil)
}

// ValuesFilter returns the values of the entries matching f
func (c *NamedCache[K, V]) ValuesFilter(ctx context.Context, f filters.Filter) ([]V, error) {
	return c.ValuesSorted(ctx, f, nil)
}

// ValuesSorted returns the values of the entries matching f ordered by cmp.
// A nil filter selects every entry; a nil comparator keeps server order.
func (c *NamedCache[K, V]) ValuesSorted(ctx context.Context, f filters.Filter, cmp extractors.Comparator) ([]V, error) {
	req := c.request(pb.RequestValues)
	var err error
	if req.Filter, err = c.encodeOptional(optional(f)); err != nil {
		return nil, err
	}
	if cmp != nil {
		if req.Comparator, err = c.encodeOptional(cmp); err != nil {
			return nil, err
		}
	}
	msgs, err := c.stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var values []V
	for _, m := range msgs {
		for _, data := range m.Values {
			v, err := decodeAs[V](c.codec, data)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
	}
	return values, nil
}

// optional turns a nil interface of any kind into an untyped nil
func optional(f filters.Filter) any {
	if f == nil {
		return nil
	}
	return f
}

// AddIndex indexes the values e extracts. Sorted indexes serve range
// filters.
func (c *NamedCache[K, V]) AddIndex(ctx context.Context, e extractors.ValueExtractor[any], sorted bool) error {
	req := c.request(pb.RequestAddIndex)
	var err error
	if req.Extractor, err = c.encodeOptional(e); err != nil {
		return err
	}
	req.Sorted = sorted
	_, err = c.run(ctx, req)
	return err
}

// AddIndexWithComparator adds a sorted index ordered by cmp
func (c *NamedCache[K, V]) AddIndexWithComparator(ctx context.Context, e extractors.ValueExtractor[any], cmp extractors.Comparator) error {
	req := c.request(pb.RequestAddIndex)
	var err error
	if req.Extractor, err = c.encodeOptional(e); err != nil {
		return err
	}
	if req.Comparator, err = c.encodeOptional(cmp); err != nil {
		return err
	}
	req.Sorted = true
	_, err = c.run(ctx, req)
	return err
}

// RemoveIndex drops the index for e
func (c *NamedCache[K, V]) RemoveIndex(ctx context.Context, e extractors.ValueExtractor[any]) error {
	req := c.request(pb.RequestRemoveIndex)
	var err error
	if req.Extractor, err = c.encodeOptional(e); err != nil {
		return err
	}
	_, err = c.run(ctx, req)
	return err
}

// AddListener registers l for events of every entry
func (c *NamedCache[K, V]) AddListener(ctx context.Context, l *MapListener[K, V], opts ...func(*ListenerOptions)) error {
	return c.addListener(ctx, l, listenerTarget{}, opts)
}

// AddKeyListener registers l for events of key
func (c *NamedCache[K, V]) AddKeyListener(ctx context.Context, l *MapListener[K, V], key K, opts ...func(*ListenerOptions)) error {
	return c.addListener(ctx, l, listenerTarget{key: key, hasKey: true}, opts)
}

// AddFilterListener registers l for events matching f. A filter that is
// not an event filter matches inserts, updates and deletes of entries
// whose value matches it.
func (c *NamedCache[K, V]) AddFilterListener(ctx context.Context, l *MapListener[K, V], f filters.Filter, opts ...func(*ListenerOptions)) error {
	if f == nil {
		return c.AddListener(ctx, l, opts...)
	}
	return c.addListener(ctx, l, listenerTarget{filter: f}, opts)
}

// RemoveListener removes the all-entries registration of l
func (c *NamedCache[K, V]) RemoveListener(ctx context.Context, l *MapListener[K, V]) error {
	return c.removeListener(ctx, l, listenerTarget{})
}

// RemoveKeyListener removes the registration of l for key
func (c *NamedCache[K, V]) RemoveKeyListener(ctx context.Context, l *MapListener[K, V], key K) error {
	return c.removeListener(ctx, l, listenerTarget{key: key, hasKey: true})
}

// RemoveFilterListener removes the registration of l for f
func (c *NamedCache[K, V]) RemoveFilterListener(ctx context.Context, l *MapListener[K, V], f filters.Filter) error {
	if f == nil {
		return c.RemoveListener(ctx, l)
	}
	return c.removeListener(ctx, l, listenerTarget{filter: f})
}

// registrationKey identifies a listener on one target
func registrationKey(listenerID string, t listenerTarget) string {
	switch {
	case t.hasKey:
		return listenerID + "|key|" + value.KeyOf(value.Normalize(t.key))
	case t.filter != nil:
		return listenerID + "|filter|" + value.KeyOf(value.Normalize(t.filter))
	}
	return listenerID + "|all"
}

func (c *NamedCache[K, V]) addListener(ctx context.Context, l *MapListener[K, V], t listenerTarget, options []func(*ListenerOptions)) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	regKey := registrationKey(l.id, t)
	c.mu.Lock()
	_, exists := c.listeners[regKey]
	c.mu.Unlock()
	if exists {
		return nil
	}

	opts := listenerOptions(options)
	req := c.request(pb.RequestAddMapListener)
	req.Lite, req.Priming, req.Synchronous = opts.Lite, opts.Priming, opts.Synchronous
	var err error
	switch {
	case t.hasKey:
		if req.Key, err = c.codec.encode(t.key); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	case t.filter != nil:
		if req.Filter, err = c.encodeOptional(t.filter); err != nil {
			return err
		}
	}

	id, err := c.addRegistration(ctx, req, func(msg *pb.MapEventMessage) {
		ev, err := decodeEvent[K, V](c.codec, msg)
		if err != nil {
			c.logger.Warn("Dropping undecodable map event", zap.Error(err))
			return
		}
		l.fire(ev)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.listeners[regKey] = id
	c.mu.Unlock()
	c.logger.Debug("Added map listener", zap.String("target", t.String()), zap.String("registration_id", id))
	return nil
}

func (c *NamedCache[K, V]) removeListener(ctx context.Context, l *MapListener[K, V], t listenerTarget) error {
	regKey := registrationKey(l.id, t)
	c.mu.Lock()
	id, ok := c.listeners[regKey]
	delete(c.listeners, regKey)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.checkActive(); err != nil {
		c.session.unregister(id)
		return nil
	}
	_, err := c.session.removeRegistration(ctx, c.name, id)
	return err
}

// addRegistration registers a listener on the server and records it for
// re-registration after failover
func (c *NamedCache[K, V]) addRegistration(ctx context.Context, req *pb.NamedCacheRequest, deliver func(*pb.MapEventMessage)) (string, error) {
	msg, err := c.session.single(ctx, req)
	if err != nil {
		return "", err
	}
	r := &registration{
		id:          uuid.NewString(),
		cache:       c.name,
		request:     req,
		synchronous: req.Synchronous,
		deliver:     deliver,
	}
	c.session.register(r, msg.RegistrationID)
	return r.id, nil
}
