package index_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/index"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

var ageExtractor = map[string]any{"@class": "extractor.UniversalExtractor", "name": "age"}

// setupManager indexes ages 0..9 under keys k0..k9
func setupManager(t *testing.T, ordered bool) (*index.Manager, map[string]any) {
	t.Helper()
	idx, err := index.New(ageExtractor, ordered, nil)
	require.NoError(t, err)
	m := index.NewManager()
	m.Add(idx)

	entries := make(map[string]any)
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%d", i)
		val := map[string]any{"age": int64(i)}
		entries[value.KeyOf(key)] = val
		require.NoError(t, m.Update(value.KeyOf(key), key, val, true))
	}
	return m, entries
}

func allKeys(entries map[string]any) filter.KeySet {
	out := make(filter.KeySet)
	for k := range entries {
		out[k] = struct{}{}
	}
	return out
}

func TestManager_NarrowMatchesScan(t *testing.T) {
	filters := map[string]any{
		"equals":  map[string]any{"@class": filter.Equals, "extractor": ageExtractor, "value": 3.0},
		"greater": map[string]any{"@class": filter.Greater, "extractor": ageExtractor, "value": int64(6)},
		"less eq": map[string]any{"@class": filter.LessEquals, "extractor": ageExtractor, "value": int64(2)},
		"in":      map[string]any{"@class": filter.In, "extractor": ageExtractor, "value": []any{int64(1), int64(8)}},
		"not":     map[string]any{"@class": filter.Not, "filter": map[string]any{"@class": filter.Equals, "extractor": ageExtractor, "value": int64(0)}},
		"between": map[string]any{"@class": filter.Between, "filters": []any{
			map[string]any{"@class": filter.GreaterEquals, "extractor": ageExtractor, "value": int64(4)},
			map[string]any{"@class": filter.LessEquals, "extractor": ageExtractor, "value": int64(5)},
		}},
		"or with unindexed": map[string]any{"@class": filter.Or, "filters": []any{
			map[string]any{"@class": filter.Equals, "extractor": ageExtractor, "value": int64(1)},
			map[string]any{"@class": filter.Present},
		}},
	}

	for _, ordered := range []bool{true, false} {
		m, entries := setupManager(t, ordered)
		for name, desc := range filters {
			t.Run(fmt.Sprintf("%s ordered=%v", name, ordered), func(t *testing.T) {
				f, err := filter.Parse(desc)
				require.NoError(t, err)

				expected := make(filter.KeySet)
				for id, val := range entries {
					ok, err := f.Evaluate(filter.NewEntry(id, val))
					require.NoError(t, err)
					if ok {
						expected[id] = struct{}{}
					}
				}

				narrowed := m.Narrow(f, allKeys(entries))
				for id := range expected {
					assert.Contains(t, narrowed, id)
				}
			})
		}
	}
}

func TestManager_Equals_IsExact(t *testing.T) {
	m, entries := setupManager(t, true)
	f, err := filter.Parse(map[string]any{"@class": filter.Equals, "extractor": ageExtractor, "value": int64(7)})
	require.NoError(t, err)

	narrowed := m.Narrow(f, allKeys(entries))
	assert.Equal(t, filter.KeySet{value.KeyOf("k7"): {}}, narrowed)
}

func TestManager_UpdateAndRemove(t *testing.T) {
	m, _ := setupManager(t, true)
	idx, ok := m.Lookup(ageExtractor)
	require.True(t, ok)
	assert.Equal(t, 10, idx.Len())

	require.NoError(t, m.Update(value.KeyOf("k1"), "k1", map[string]any{"age": int64(5)}, true))
	require.NoError(t, m.Update(value.KeyOf("k2"), "k2", nil, false))
	assert.Equal(t, 9, idx.Len())
	assert.Len(t, idx.Equal(int64(5)), 2)
	assert.Empty(t, idx.Equal(int64(1)))

	values := idx.Values()
	assert.Equal(t, int64(0), values[0])

	assert.True(t, m.Remove(ageExtractor))
	assert.False(t, m.Remove(ageExtractor))
	assert.Equal(t, 0, m.Count())
}

func TestIndex_ComparatorOrdering(t *testing.T) {
	idx, err := index.New(ageExtractor, true, map[string]any{
		"@class":     "comparator.InverseComparator",
		"comparator": nil,
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, idx.Insert(fmt.Sprint(i), i, map[string]any{"age": int64(i)}))
	}
	assert.Equal(t, []any{int64(2), int64(1), int64(0)}, idx.Values())
	assert.Len(t, idx.Range(int64(1), true, nil, false), 2)
}
