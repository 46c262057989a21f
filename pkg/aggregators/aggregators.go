// Package aggregators builds entry aggregator descriptors. The type
// parameter of each Aggregator is the type of its decoded result.
package aggregators

import (
	"math/big"

	"github.com/devrev/pairdb/gridcache/pkg/extractors"
	"github.com/devrev/pairdb/gridcache/pkg/filters"
)

const (
	aggregatorPackage = "aggregator."

	compositeAggregatorType = aggregatorPackage + "compositeAggregator"
	averageAggregatorType   = aggregatorPackage + "BigDecimalAverage"
	maxAggregatorType       = aggregatorPackage + "ComparableMax"
	minAggregatorType       = aggregatorPackage + "ComparableMin"
	sumAggregatorType       = aggregatorPackage + "BigDecimalSum"
	countAggregatorType     = aggregatorPackage + "Count"
	distinctAggregatorType  = aggregatorPackage + "DistinctValues"
	reducerAggregatorType   = aggregatorPackage + "ReducerAggregator"
	groupAggregatorType     = aggregatorPackage + "GroupAggregator"
	topNAggregatorType      = aggregatorPackage + "TopNAggregator"
	priorityAggregatorType  = aggregatorPackage + "PriorityAggregator"
)

// Aggregator is an aggregator descriptor whose result decodes to R
type Aggregator[R any] interface {
	Class() string
	describe() descriptor
	result() R
}

// descriptor is the serialized form shared by every aggregator
type descriptor struct {
	Type        string         `json:"@class"`
	Extractor   any            `json:"extractor,omitempty"`
	Aggregator  any            `json:"aggregator,omitempty"`
	Aggregators []any          `json:"aggregators,omitempty"`
	Filter      filters.Filter `json:"filter,omitempty"`
	Comparator  any            `json:"comparator,omitempty"`
	Results     int            `json:"results,omitempty"`
}

type aggregator[R any] struct {
	descriptor
}

func (a *aggregator[R]) Class() string        { return a.Type }
func (a *aggregator[R]) describe() descriptor { return a.descriptor }

func (*aggregator[R]) result() (zero R) { return }

func newAggregator[R any](d descriptor) Aggregator[R] {
	return &aggregator[R]{descriptor: d}
}

// Any widens an aggregator for use in Composite. The descriptor is
// unchanged.
func Any[R any](a Aggregator[R]) Aggregator[any] {
	return newAggregator[any](a.describe())
}

// Entry is one key and value of a reducer or group result
type Entry[K, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// Entries is the result of Reducer and GroupBy
type Entries[K, V any] struct {
	Entries []Entry[K, V] `json:"entries"`
}

// Count counts the entries. The result of an empty set is 0.
func Count() Aggregator[int64] {
	return newAggregator[int64](descriptor{Type: countAggregatorType})
}

// Sum adds extracted numbers. Nil values are skipped; an empty set has a
// nil result.
func Sum[E any](e extractors.ValueExtractor[E]) Aggregator[big.Rat] {
	return newAggregator[big.Rat](descriptor{Type: sumAggregatorType, Extractor: e})
}

// Average averages extracted numbers. An empty set has a nil result.
func Average[E any](e extractors.ValueExtractor[E]) Aggregator[big.Rat] {
	return newAggregator[big.Rat](descriptor{Type: averageAggregatorType, Extractor: e})
}

// Max returns the largest extracted value
func Max[E any](e extractors.ValueExtractor[E]) Aggregator[E] {
	return newAggregator[E](descriptor{Type: maxAggregatorType, Extractor: e})
}

// Min returns the smallest extracted value
func Min[E any](e extractors.ValueExtractor[E]) Aggregator[E] {
	return newAggregator[E](descriptor{Type: minAggregatorType, Extractor: e})
}

// Distinct returns the distinct extracted values
func Distinct[E any](e extractors.ValueExtractor[E]) Aggregator[[]E] {
	return newAggregator[[]E](descriptor{Type: distinctAggregatorType, Extractor: e})
}

// Reducer maps every key to its extracted value
func Reducer[K, E any](e extractors.ValueExtractor[E]) Aggregator[Entries[K, E]] {
	return newAggregator[Entries[K, E]](descriptor{Type: reducerAggregatorType, Extractor: e})
}

// GroupBy splits entries into groups by an extracted value and runs agg on
// each group. When f is given only groups whose result matches f are
// returned.
func GroupBy[G, R any](e extractors.ValueExtractor[G], agg Aggregator[R], f ...filters.Filter) Aggregator[Entries[G, R]] {
	d := descriptor{Type: groupAggregatorType, Extractor: e, Aggregator: agg}
	if len(f) > 0 {
		d.Filter = f[0]
	}
	return newAggregator[Entries[G, R]](d)
}

// TopN returns the n largest extracted values, or the n smallest when
// ascending is set
func TopN[E any](e extractors.ValueExtractor[E], ascending bool, n int) Aggregator[[]E] {
	var cmp extractors.Comparator = extractors.Ascending(extractors.Identity[E]())
	if ascending {
		cmp = extractors.Reverse(cmp)
	}
	return newAggregator[[]E](descriptor{Type: topNAggregatorType, Extractor: e, Comparator: cmp, Results: n})
}

// Composite runs several aggregators over the same entries and returns
// their results as a list. Widen each aggregator with Any.
func Composite(aggs ...Aggregator[any]) Aggregator[[]any] {
	list := make([]any, len(aggs))
	for i, a := range aggs {
		list[i] = a
	}
	return newAggregator[[]any](descriptor{Type: compositeAggregatorType, Aggregators: list})
}

// Priority wraps an aggregator. It carries no scheduling semantics and
// returns the result of agg.
func Priority[R any](agg Aggregator[R]) Aggregator[R] {
	return newAggregator[R](descriptor{Type: priorityAggregatorType, Aggregator: agg})
}
