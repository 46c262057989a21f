package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/gridcache/internal/index"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

func TestSkipList_Insert(t *testing.T) {
	tests := []struct {
		name   string
		key    any
		value  string
		verify func(*testing.T, *index.SkipList)
	}{
		{
			name:  "insert single element",
			key:   int64(1),
			value: "value1",
			verify: func(t *testing.T, sl *index.SkipList) {
				val, found := sl.Search(int64(1))
				assert.True(t, found)
				assert.Equal(t, "value1", val)
			},
		},
		{
			name:  "insert keeps order",
			key:   int64(2),
			value: "value2",
			verify: func(t *testing.T, sl *index.SkipList) {
				sl.Insert(int64(3), "value3")
				sl.Insert(1.5, "value1.5")

				assert.Equal(t, 3, sl.Len())
				keys := make([]any, 0)
				it := sl.Iterator()
				for it.Next() {
					keys = append(keys, it.Key())
				}
				assert.Equal(t, []any{1.5, int64(2), int64(3)}, keys)
			},
		},
		{
			name:  "update existing",
			key:   "a",
			value: "first",
			verify: func(t *testing.T, sl *index.SkipList) {
				sl.Insert("a", "second")
				assert.Equal(t, 1, sl.Len())
				val, _ := sl.Search("a")
				assert.Equal(t, "second", val)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl := index.NewSkipList(value.Compare)
			sl.Insert(tt.key, tt.value)
			tt.verify(t, sl)
		})
	}
}

func TestSkipList_DeleteAndSeek(t *testing.T) {
	sl := index.NewSkipList(value.Compare)
	for i := int64(0); i < 100; i++ {
		sl.Insert(i, i)
	}
	require.True(t, sl.Delete(int64(50)))
	assert.False(t, sl.Delete(int64(50)))
	assert.Equal(t, 99, sl.Len())

	it := sl.Seek(int64(49))
	require.True(t, it.Next())
	assert.Equal(t, int64(49), it.Key())
	require.True(t, it.Next())
	assert.Equal(t, int64(51), it.Key())
}
