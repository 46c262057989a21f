package aggregator_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/gridcache/internal/aggregator"
	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

func age() map[string]any {
	return map[string]any{"@class": "extractor.UniversalExtractor", "name": "age"}
}

func people() []filter.Entry {
	return []filter.Entry{
		filter.NewEntry("p1", map[string]any{"name": "Ann", "age": int64(25), "dept": "eng"}),
		filter.NewEntry("p2", map[string]any{"name": "Bob", "age": int64(25), "dept": "ops"}),
		filter.NewEntry("p3", map[string]any{"name": "Cid", "age": int64(35), "dept": "eng"}),
	}
}

// runSplit aggregates each entry as its own partition and combines
func runSplit(t *testing.T, a aggregator.Aggregator, entries []filter.Entry) any {
	t.Helper()
	partials := make([]any, 0, len(entries))
	for _, e := range entries {
		p, err := a.Aggregate([]filter.Entry{e})
		require.NoError(t, err)
		partials = append(partials, p)
	}
	r, err := a.Combine(partials)
	require.NoError(t, err)
	return r
}

func TestAggregators(t *testing.T) {
	tests := []struct {
		name     string
		desc     map[string]any
		expected any
	}{
		{name: "count", desc: map[string]any{"@class": aggregator.Count}, expected: int64(3)},
		{name: "sum", desc: map[string]any{"@class": aggregator.Sum, "extractor": age()}, expected: value.MustDecimal("85")},
		{name: "average", desc: map[string]any{"@class": aggregator.Average, "extractor": age()}, expected: value.MustDecimal("28.333333333333333333")},
		{name: "max", desc: map[string]any{"@class": aggregator.Max, "extractor": age()}, expected: int64(35)},
		{name: "min", desc: map[string]any{"@class": aggregator.Min, "extractor": age()}, expected: int64(25)},
		{name: "distinct", desc: map[string]any{"@class": aggregator.Distinct, "extractor": age()}, expected: []any{int64(25), int64(35)}},
		{
			name:     "priority passes through",
			desc:     map[string]any{"@class": aggregator.Priority, "aggregator": map[string]any{"@class": aggregator.Count}},
			expected: int64(3),
		},
		{
			name: "composite",
			desc: map[string]any{"@class": aggregator.Composite, "aggregators": []any{
				map[string]any{"@class": aggregator.Count},
				map[string]any{"@class": aggregator.Max, "extractor": age()},
			}},
			expected: []any{int64(3), int64(35)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := aggregator.Parse(tt.desc)
			require.NoError(t, err)

			whole, err := aggregator.Run(a, people())
			require.NoError(t, err)
			assert.Equal(t, value.KeyOf(tt.expected), value.KeyOf(whole))

			// partition-wise combination yields the same result
			assert.Equal(t, value.KeyOf(whole), value.KeyOf(runSplit(t, a, people())))
		})
	}
}

func TestAggregators_Empty(t *testing.T) {
	count, err := aggregator.Parse(map[string]any{"@class": aggregator.Count})
	require.NoError(t, err)
	r, err := aggregator.Run(count, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r)

	avg, err := aggregator.Parse(map[string]any{"@class": aggregator.Average, "extractor": age()})
	require.NoError(t, err)
	r, err = aggregator.Run(avg, nil)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestGroupAggregator(t *testing.T) {
	a, err := aggregator.Parse(map[string]any{
		"@class":     aggregator.Group,
		"extractor":  map[string]any{"@class": "extractor.UniversalExtractor", "name": "dept"},
		"aggregator": map[string]any{"@class": aggregator.Max, "extractor": age()},
	})
	require.NoError(t, err)

	r := runSplit(t, a, people())
	entries := r.(map[string]any)["entries"].([]any)
	require.Len(t, entries, 2)

	byDept := map[string]any{}
	for _, e := range entries {
		m := e.(map[string]any)
		byDept[m["key"].(string)] = m["value"]
	}
	assert.Equal(t, map[string]any{"eng": int64(35), "ops": int64(25)}, byDept)
}

func TestTopNAggregator(t *testing.T) {
	byAge := func(class string) map[string]any {
		return map[string]any{
			"@class":     aggregator.TopN,
			"extractor":  map[string]any{"@class": "extractor.IdentityExtractor"},
			"results":    int64(2),
			"comparator": map[string]any{"@class": class, "comparator": map[string]any{"@class": "comparator.ExtractorComparator", "extractor": age()}},
		}
	}

	largest, err := aggregator.Parse(byAge("comparator.SafeComparator"))
	require.NoError(t, err)
	r := runSplit(t, largest, people())
	list := r.([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "Cid", list[0].(map[string]any)["name"])

	smallest, err := aggregator.Parse(byAge("comparator.InverseComparator"))
	require.NoError(t, err)
	r = runSplit(t, smallest, people())
	for _, p := range r.([]any) {
		assert.Equal(t, int64(25), p.(map[string]any)["age"])
	}
}

func TestReducerAggregator(t *testing.T) {
	a, err := aggregator.Parse(map[string]any{"@class": aggregator.Reducer, "extractor": map[string]any{"@class": "extractor.UniversalExtractor", "name": "name"}})
	require.NoError(t, err)
	r, err := aggregator.Run(a, people())
	require.NoError(t, err)
	entries := r.(map[string]any)["entries"].([]any)
	assert.Len(t, entries, 3)
	assert.Equal(t, map[string]any{"key": "p1", "value": "Ann"}, entries[0])
}

func TestParse_Unknown(t *testing.T) {
	_, err := aggregator.Parse(map[string]any{"@class": "aggregator.Failing"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownClass, errors.GetCode(err))

	aggregator.Register("test.Failing", func(map[string]any) (aggregator.Aggregator, error) {
		return failing{}, nil
	})
	a, err := aggregator.Parse(map[string]any{"@class": "test.Failing"})
	require.NoError(t, err)
	_, err = aggregator.Run(a, people())
	assert.Error(t, err)
}

type failing struct{}

func (failing) Aggregate([]filter.Entry) (any, error) { return nil, fmt.Errorf("always fails") }
func (failing) Combine([]any) (any, error)            { return nil, nil }
