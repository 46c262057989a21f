package aggregator

import (
	"math/big"

	"github.com/devrev/pairdb/gridcache/internal/extractor"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

type extracting struct {
	Extractor extractor.Extractor
}

func extractorFactory(build func(extracting) Aggregator) Factory {
	return func(d map[string]any) (Aggregator, error) {
		e, err := extractor.Parse(d["extractor"])
		if err != nil {
			return nil, err
		}
		return build(extracting{Extractor: e}), nil
	}
}

// values extracts non-nil values from entries
func (x extracting) values(entries []filter.Entry) ([]any, error) {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		v, err := extractor.FromEntry(x.Extractor, e.Key(), e.Value())
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// CountAggregator counts entries
type CountAggregator struct{}

// Aggregate implements Aggregator
func (CountAggregator) Aggregate(entries []filter.Entry) (any, error) {
	return int64(len(entries)), nil
}

// Combine implements Aggregator
func (CountAggregator) Combine(partials []any) (any, error) {
	total := int64(0)
	for _, p := range partials {
		n, _ := value.ToInt64(p)
		total += n
	}
	return total, nil
}

func sumOf(values []any) (any, error) {
	var sum any
	for _, v := range values {
		s, err := value.Add(sum, v)
		if err != nil {
			return nil, err
		}
		sum = s
	}
	return sum, nil
}

func toDecimal(v any) any {
	if v == nil {
		return nil
	}
	d, _ := value.ToDecimal(v)
	return d
}

// SumAggregator sums extracted numbers as a decimal; nil when nothing matched
type SumAggregator struct {
	extracting
}

// Aggregate implements Aggregator
func (s *SumAggregator) Aggregate(entries []filter.Entry) (any, error) {
	values, err := s.values(entries)
	if err != nil {
		return nil, err
	}
	return sumOf(values)
}

// Combine implements Aggregator
func (s *SumAggregator) Combine(partials []any) (any, error) {
	sum, err := sumOf(nonNil(partials))
	if err != nil {
		return nil, err
	}
	return toDecimal(sum), nil
}

func nonNil(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// AverageAggregator averages extracted numbers as a decimal
type AverageAggregator struct {
	extracting
}

// Aggregate implements Aggregator. The partial result is [sum, count].
func (a *AverageAggregator) Aggregate(entries []filter.Entry) (any, error) {
	values, err := a.values(entries)
	if err != nil {
		return nil, err
	}
	sum, err := sumOf(values)
	if err != nil {
		return nil, err
	}
	return []any{sum, int64(len(values))}, nil
}

// Combine implements Aggregator
func (a *AverageAggregator) Combine(partials []any) (any, error) {
	var sum any
	count := int64(0)
	for _, p := range partials {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		n, _ := value.ToInt64(pair[1])
		if n == 0 {
			continue
		}
		s, err := value.Add(sum, pair[0])
		if err != nil {
			return nil, err
		}
		sum = s
		count += n
	}
	if count == 0 {
		return nil, nil
	}

	total, _ := value.ToDecimal(sum)
	avg := new(big.Rat).Quo(total.Rat(), new(big.Rat).SetInt64(count))
	scale := total.Scale()
	if scale < 0 {
		scale = 0
	}
	return value.DecimalFromRat(avg, scale, averageScale), nil
}

// ExtremeAggregator returns the largest or smallest extracted value
type ExtremeAggregator struct {
	extracting
	Max bool
}

func (x *ExtremeAggregator) pick(values []any) any {
	var best any
	for _, v := range values {
		if v == nil {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		c := value.Compare(v, best)
		if (x.Max && c > 0) || (!x.Max && c < 0) {
			best = v
		}
	}
	return best
}

// Aggregate implements Aggregator
func (x *ExtremeAggregator) Aggregate(entries []filter.Entry) (any, error) {
	values, err := x.values(entries)
	if err != nil {
		return nil, err
	}
	return x.pick(values), nil
}

// Combine implements Aggregator
func (x *ExtremeAggregator) Combine(partials []any) (any, error) {
	return x.pick(partials), nil
}

// DistinctAggregator returns the distinct extracted values in natural order
type DistinctAggregator struct {
	extracting
}

func distinct(lists ...[]any) []any {
	seen := make(map[string]struct{})
	out := make([]any, 0)
	for _, list := range lists {
		for _, v := range list {
			id := value.KeyOf(v)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, v)
		}
	}
	value.SortValues(out, nil)
	return out
}

// Aggregate implements Aggregator
func (d *DistinctAggregator) Aggregate(entries []filter.Entry) (any, error) {
	values, err := d.values(entries)
	if err != nil {
		return nil, err
	}
	return distinct(values), nil
}

// Combine implements Aggregator
func (d *DistinctAggregator) Combine(partials []any) (any, error) {
	lists := make([][]any, 0, len(partials))
	for _, p := range partials {
		if l, ok := p.([]any); ok {
			lists = append(lists, l)
		}
	}
	return distinct(lists...), nil
}

// ReducerAggregator maps each key to its extracted value. The result is
// {"entries":[{"key":k,"value":v}]}.
type ReducerAggregator struct {
	extracting
}

// Aggregate implements Aggregator
func (r *ReducerAggregator) Aggregate(entries []filter.Entry) (any, error) {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		v, err := extractor.FromEntry(r.Extractor, e.Key(), e.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"key": e.Key(), "value": v})
	}
	return out, nil
}

// Combine implements Aggregator
func (r *ReducerAggregator) Combine(partials []any) (any, error) {
	return map[string]any{"entries": concat(partials)}, nil
}

func concat(partials []any) []any {
	out := make([]any, 0)
	for _, p := range partials {
		if l, ok := p.([]any); ok {
			out = append(out, l...)
		}
	}
	return out
}
