// Package index maintains per-cache indexes over extracted attributes.
package index

import (
	"sort"
	"sync"

	"github.com/devrev/pairdb/gridcache/internal/extractor"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// bucket holds the keys sharing one extracted value
type bucket struct {
	value any
	keys  map[string]struct{}
}

// Index maps keys to an extracted value and back
type Index struct {
	ID         string
	Descriptor any
	Ordered    bool

	extractor  extractor.Extractor
	comparator extractor.Comparator
	natural    bool

	forward map[string]any     // keyID -> extracted value
	inverse map[string]*bucket // value identity -> keys
	sorted  *SkipList          // ordered indexes only
}

// New creates an empty index
func New(desc any, ordered bool, comparatorDesc any) (*Index, error) {
	e, err := extractor.Parse(desc)
	if err != nil {
		return nil, err
	}
	cmp, err := extractor.ParseComparator(comparatorDesc)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		ID:         extractor.ID(desc),
		Descriptor: desc,
		Ordered:    ordered,
		extractor:  e,
		comparator: cmp,
		natural:    comparatorDesc == nil,
		forward:    make(map[string]any),
		inverse:    make(map[string]*bucket),
	}
	if ordered {
		idx.sorted = NewSkipList(cmp.Compare)
	}
	return idx, nil
}

// Insert indexes an entry, replacing any previous value for keyID
func (idx *Index) Insert(keyID string, key, val any) error {
	extracted, err := extractor.FromEntry(idx.extractor, key, val)
	if err != nil {
		return err
	}
	idx.Delete(keyID)

	idx.forward[keyID] = extracted
	vid := value.KeyOf(extracted)
	b, ok := idx.inverse[vid]
	if !ok {
		b = &bucket{value: extracted, keys: make(map[string]struct{})}
		idx.inverse[vid] = b
		if idx.sorted != nil {
			idx.addSorted(vid, b)
		}
	}
	b.keys[keyID] = struct{}{}
	return nil
}

// Delete removes keyID from the index
func (idx *Index) Delete(keyID string) {
	old, ok := idx.forward[keyID]
	if !ok {
		return
	}
	delete(idx.forward, keyID)

	vid := value.KeyOf(old)
	b, ok := idx.inverse[vid]
	if !ok {
		return
	}
	delete(b.keys, keyID)
	if len(b.keys) == 0 {
		delete(idx.inverse, vid)
		if idx.sorted != nil {
			idx.removeSorted(vid, old)
		}
	}
}

// addSorted records b under its position in the ordering. Values the
// comparator considers equal share a node.
func (idx *Index) addSorted(vid string, b *bucket) {
	if group, ok := idx.sorted.Search(b.value); ok {
		group.(map[string]*bucket)[vid] = b
		return
	}
	idx.sorted.Insert(b.value, map[string]*bucket{vid: b})
}

func (idx *Index) removeSorted(vid string, v any) {
	group, ok := idx.sorted.Search(v)
	if !ok {
		return
	}
	buckets := group.(map[string]*bucket)
	delete(buckets, vid)
	if len(buckets) == 0 {
		idx.sorted.Delete(v)
	}
}

// Clear drops every indexed key
func (idx *Index) Clear() {
	idx.forward = make(map[string]any)
	idx.inverse = make(map[string]*bucket)
	if idx.sorted != nil {
		idx.sorted = NewSkipList(idx.comparator.Compare)
	}
}

// Len returns the number of indexed keys
func (idx *Index) Len() int {
	return len(idx.forward)
}

// Get returns the indexed value for keyID
func (idx *Index) Get(keyID string) (any, bool) {
	v, ok := idx.forward[keyID]
	return v, ok
}

// Values returns the distinct indexed values, ordered when the index is
func (idx *Index) Values() []any {
	out := make([]any, 0, len(idx.inverse))
	if idx.sorted != nil {
		it := idx.sorted.Iterator()
		for it.Next() {
			for _, b := range sortedGroup(it.Value()) {
				out = append(out, b.value)
			}
		}
		return out
	}
	for _, b := range idx.inverse {
		out = append(out, b.value)
	}
	return out
}

func sortedGroup(group any) []*bucket {
	buckets := group.(map[string]*bucket)
	ids := make([]string, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*bucket, len(ids))
	for i, id := range ids {
		out[i] = buckets[id]
	}
	return out
}

func keysOf(b *bucket, out []string) []string {
	for k := range b.keys {
		out = append(out, k)
	}
	return out
}

// Equal implements filter.Index
func (idx *Index) Equal(v any) []string {
	switch v.(type) {
	case string, bool:
		if b, ok := idx.inverse[value.KeyOf(v)]; ok {
			return keysOf(b, nil)
		}
		return nil
	}

	// numbers compare across kinds, so look at every bucket
	out := make([]string, 0)
	for _, b := range idx.inverse {
		if value.Equal(b.value, v) {
			out = keysOf(b, out)
		}
	}
	return out
}

// Range implements filter.Index
func (idx *Index) Range(lower any, lowerInclusive bool, upper any, upperInclusive bool) []string {
	inRange := func(v any) (ok bool, past bool) {
		if v == nil {
			return false, false
		}
		if lower != nil {
			c := value.Compare(v, lower)
			if c < 0 || (c == 0 && !lowerInclusive) {
				return false, false
			}
		}
		if upper != nil {
			c := value.Compare(v, upper)
			if c > 0 || (c == 0 && !upperInclusive) {
				return false, true
			}
		}
		return true, false
	}

	out := make([]string, 0)
	if idx.sorted != nil && idx.natural {
		var it *SkipListIterator
		if lower != nil {
			it = idx.sorted.Seek(lower)
		} else {
			it = idx.sorted.Iterator()
		}
		for it.Next() {
			ok, past := inRange(it.Key())
			if past {
				break
			}
			if ok {
				for _, b := range sortedGroup(it.Value()) {
					out = keysOf(b, out)
				}
			}
		}
		return out
	}

	for _, b := range idx.inverse {
		if ok, _ := inRange(b.value); ok {
			out = keysOf(b, out)
		}
	}
	return out
}

// Manager holds the indexes of one cache
type Manager struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewManager creates an empty index manager
func NewManager() *Manager {
	return &Manager{indexes: make(map[string]*Index)}
}

// Add installs idx, replacing an index with the same identity
func (m *Manager) Add(idx *Index) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[idx.ID] = idx
}

// Remove drops the index for an extractor descriptor. Unknown indexes are ignored.
func (m *Manager) Remove(desc any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := extractor.ID(desc)
	if _, ok := m.indexes[id]; !ok {
		return false
	}
	delete(m.indexes, id)
	return true
}

// Index implements filter.Indexes. Callers hold the manager lock, as Narrow does.
func (m *Manager) Index(extractorID string) (filter.Index, bool) {
	idx, ok := m.indexes[extractorID]
	if !ok {
		return nil, false
	}
	return idx, true
}

// Lookup returns an index by extractor descriptor
func (m *Manager) Lookup(desc any) (*Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[extractor.ID(desc)]
	return idx, ok
}

// Narrow returns the candidates f may match, consulting indexes
func (m *Manager) Narrow(f filter.Filter, candidates filter.KeySet) filter.KeySet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.indexes) == 0 {
		return candidates
	}
	return filter.Narrow(f, m, candidates)
}

// Update reindexes a committed entry; an absent entry is removed
func (m *Manager) Update(keyID string, key, val any, present bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		if !present {
			idx.Delete(keyID)
			continue
		}
		if err := idx.Insert(keyID, key, val); err != nil {
			return err
		}
	}
	return nil
}

// Clear empties every index, keeping the definitions
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		idx.Clear()
	}
}

// Count returns the number of indexes
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indexes)
}

// IDs returns index identities in sorted order
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.indexes))
	for id := range m.indexes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
