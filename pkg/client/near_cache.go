package client

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// NearCacheOptions configure a client side cache in front of a NamedCache
type NearCacheOptions struct {
	// MaxEntries bounds the near cache; the least recently used entry is
	// evicted first
	MaxEntries int
	// TTL expires near entries after a fixed time. Zero keeps entries
	// until they are invalidated or evicted.
	TTL time.Duration
}

// NearCacheStats are the counters of a near cache
type NearCacheStats struct {
	Size          int
	Hits          uint64
	Misses        uint64
	Puts          uint64
	Evictions     uint64
	Invalidations uint64
	Expirations   uint64
}

// HitRate returns hits over lookups
func (s NearCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type nearEntry[V any] struct {
	value   V
	expires time.Time
}

// nearCache holds recently read values. It is kept coherent by a lite
// listener on the whole cache and by local writes.
type nearCache[K comparable, V any] struct {
	entries *lru.Cache
	ttl     time.Duration

	hits          atomic.Uint64
	misses        atomic.Uint64
	puts          atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64
	expirations   atomic.Uint64
	// set while an explicit removal runs so the eviction callback does not
	// count it
	removing atomic.Bool
}

func newNearCache[K comparable, V any](opts NearCacheOptions) (*nearCache[K, V], error) {
	size := opts.MaxEntries
	if size <= 0 {
		size = 1024
	}
	n := &nearCache[K, V]{ttl: opts.TTL}
	entries, err := lru.NewWithEvict(size, func(_, _ interface{}) {
		if !n.removing.Load() {
			n.evictions.Add(1)
		}
	})
	if err != nil {
		return nil, err
	}
	n.entries = entries
	return n, nil
}

func (n *nearCache[K, V]) get(key K) (V, bool) {
	var zero V
	raw, ok := n.entries.Get(key)
	if !ok {
		n.misses.Add(1)
		return zero, false
	}
	e := raw.(nearEntry[V])
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		n.remove(key)
		n.expirations.Add(1)
		n.misses.Add(1)
		return zero, false
	}
	n.hits.Add(1)
	return e.value, true
}

func (n *nearCache[K, V]) put(key K, v V) {
	e := nearEntry[V]{value: v}
	if n.ttl > 0 {
		e.expires = time.Now().Add(n.ttl)
	}
	n.entries.Add(key, e)
	n.puts.Add(1)
}

func (n *nearCache[K, V]) remove(key K) {
	n.removing.Store(true)
	n.entries.Remove(key)
	n.removing.Store(false)
}

func (n *nearCache[K, V]) invalidate(key K) {
	if n.entries.Contains(key) {
		n.remove(key)
		n.invalidations.Add(1)
	}
}

func (n *nearCache[K, V]) clear() {
	n.removing.Store(true)
	n.entries.Purge()
	n.removing.Store(false)
}

func (n *nearCache[K, V]) stats() NearCacheStats {
	return NearCacheStats{
		Size:          n.entries.Len(),
		Hits:          n.hits.Load(),
		Misses:        n.misses.Load(),
		Puts:          n.puts.Load(),
		Evictions:     n.evictions.Load(),
		Invalidations: n.invalidations.Load(),
		Expirations:   n.expirations.Load(),
	}
}
