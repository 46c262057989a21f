// Package aggregator reduces sets of entries to a single result. Each
// aggregator runs once per partition and then combines the partial results.
package aggregator

import (
	"fmt"
	"sync"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

const classPrefix = "aggregator."

// Aggregator class names
const (
	Composite = classPrefix + "compositeAggregator"
	Average   = classPrefix + "BigDecimalAverage"
	Max       = classPrefix + "ComparableMax"
	Min       = classPrefix + "ComparableMin"
	Sum       = classPrefix + "BigDecimalSum"
	Count     = classPrefix + "Count"
	Distinct  = classPrefix + "DistinctValues"
	Reducer   = classPrefix + "ReducerAggregator"
	Group     = classPrefix + "GroupAggregator"
	TopN      = classPrefix + "TopNAggregator"
	Priority  = classPrefix + "PriorityAggregator"
)

// averageScale bounds the fraction digits of a computed average
const averageScale = 18

// Aggregator reduces entries to a result in two steps: Aggregate produces a
// partial result for one partition and Combine merges partial results.
type Aggregator interface {
	Aggregate(entries []filter.Entry) (any, error)
	Combine(partials []any) (any, error)
}

// Run aggregates all entries as a single partition
func Run(a Aggregator, entries []filter.Entry) (any, error) {
	partial, err := a.Aggregate(entries)
	if err != nil {
		return nil, err
	}
	return a.Combine([]any{partial})
}

// Factory builds an aggregator from its descriptor
type Factory func(desc map[string]any) (Aggregator, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds an aggregator class
func Register(class string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[class] = f
}

// Parse builds an aggregator from a canonical descriptor
func Parse(desc any) (Aggregator, error) {
	d, ok := desc.(map[string]any)
	if !ok {
		return nil, errors.InvalidArgument(fmt.Sprintf("aggregator descriptor of type %T", desc), nil)
	}
	class, _ := d[value.ClassKey].(string)

	registryMu.RLock()
	f, ok := registry[class]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.UnknownClass("aggregator", class)
	}
	return f(d)
}

func init() {
	Register(Count, func(map[string]any) (Aggregator, error) { return CountAggregator{}, nil })
	Register(Sum, extractorFactory(func(x extracting) Aggregator { return &SumAggregator{x} }))
	Register(Average, extractorFactory(func(x extracting) Aggregator { return &AverageAggregator{x} }))
	Register(Max, extractorFactory(func(x extracting) Aggregator { return &ExtremeAggregator{extracting: x, Max: true} }))
	Register(Min, extractorFactory(func(x extracting) Aggregator { return &ExtremeAggregator{extracting: x} }))
	Register(Distinct, extractorFactory(func(x extracting) Aggregator { return &DistinctAggregator{x} }))
	Register(Reducer, extractorFactory(func(x extracting) Aggregator { return &ReducerAggregator{x} }))
	Register(Composite, newComposite)
	Register(Group, newGroup)
	Register(TopN, newTopN)
	Register(Priority, func(d map[string]any) (Aggregator, error) { return Parse(d["aggregator"]) })
}
