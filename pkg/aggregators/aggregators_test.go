package aggregators_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/gridcache/pkg/aggregators"
	"github.com/devrev/pairdb/gridcache/pkg/extractors"
	"github.com/devrev/pairdb/gridcache/pkg/filters"
)

func marshal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// resultOf reports the decoded result type of an aggregator through inference
func resultOf[R any](aggregators.Aggregator[R]) R {
	var zero R
	return zero
}

func TestAggregators_ResultTypes(t *testing.T) {
	age := extractors.Extract[int]("age")
	city := extractors.Extract[string]("city")

	assert.IsType(t, int64(0), resultOf(aggregators.Count()))
	assert.IsType(t, big.Rat{}, resultOf(aggregators.Sum(age)))
	assert.IsType(t, big.Rat{}, resultOf(aggregators.Average(age)))
	assert.IsType(t, 0, resultOf(aggregators.Max(age)))
	assert.IsType(t, 0, resultOf(aggregators.Min(age)))
	assert.IsType(t, []string(nil), resultOf(aggregators.Distinct(city)))
	assert.IsType(t, []int(nil), resultOf(aggregators.TopN(age, false, 3)))
	assert.IsType(t, aggregators.Entries[string, int64]{}, resultOf(aggregators.GroupBy(city, aggregators.Count())))
	assert.IsType(t, aggregators.Entries[string, int]{}, resultOf(aggregators.Reducer[string](age)))
	assert.IsType(t, []any(nil), resultOf(aggregators.Composite(aggregators.Any(aggregators.Count()))))
	assert.IsType(t, 0, resultOf(aggregators.Priority(aggregators.Max(age))))
}

func TestAggregators_Descriptors(t *testing.T) {
	age := extractors.Extract[int]("age")
	ageJSON := `{"@class":"extractor.UniversalExtractor","name":"age"}`

	tests := []struct {
		name string
		v    any
		want string
	}{
		{"count", aggregators.Count(), `{"@class":"aggregator.Count"}`},
		{"max", aggregators.Max(age), `{"@class":"aggregator.ComparableMax","extractor":` + ageJSON + `}`},
		{"composite", aggregators.Composite(aggregators.Any(aggregators.Count()), aggregators.Any(aggregators.Max(age))),
			`{"@class":"aggregator.compositeAggregator","aggregators":[{"@class":"aggregator.Count"},{"@class":"aggregator.ComparableMax","extractor":` + ageJSON + `}]}`},
		{"group by", aggregators.GroupBy(age, aggregators.Count()),
			`{"@class":"aggregator.GroupAggregator","extractor":` + ageJSON + `,"aggregator":{"@class":"aggregator.Count"}}`},
		{"priority", aggregators.Priority(aggregators.Count()),
			`{"@class":"aggregator.PriorityAggregator","aggregator":{"@class":"aggregator.Count"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, marshal(t, tt.v))
		})
	}
}

func TestAggregators_GroupByFilter(t *testing.T) {
	grouped := aggregators.GroupBy(extractors.Extract[string]("city"), aggregators.Count(),
		filters.Greater(extractors.Identity[int64](), 1))
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(marshal(t, grouped)), &got))
	assert.Equal(t, "aggregator.GroupAggregator", got["@class"])
	assert.Contains(t, got, "filter")
}

func TestAggregators_TopN(t *testing.T) {
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(marshal(t, aggregators.TopN(extractors.Extract[int]("age"), false, 2))), &got))
	assert.Equal(t, float64(2), got["results"])
	assert.Equal(t, "comparator.SafeComparator", got["comparator"].(map[string]any)["@class"])

	require.NoError(t, json.Unmarshal([]byte(marshal(t, aggregators.TopN(extractors.Extract[int]("age"), true, 2))), &got))
	assert.Equal(t, "comparator.InverseComparator", got["comparator"].(map[string]any)["@class"])
}

func TestAggregators_AnyKeepsDescriptor(t *testing.T) {
	sum := aggregators.Sum(extractors.Extract[float64]("balance"))
	widened := aggregators.Any(sum)
	assert.Equal(t, sum.Class(), widened.Class())
	assert.JSONEq(t, marshal(t, sum), marshal(t, widened))
}
