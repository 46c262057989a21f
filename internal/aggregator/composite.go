package aggregator

import (
	"sort"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/extractor"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// CompositeAggregator runs several aggregators over the same entries and
// returns their results as a list
type CompositeAggregator struct {
	Aggregators []Aggregator
}

func newComposite(d map[string]any) (Aggregator, error) {
	raw, _ := d["aggregators"].([]any)
	list := make([]Aggregator, 0, len(raw))
	for _, r := range raw {
		a, err := Parse(r)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return &CompositeAggregator{Aggregators: list}, nil
}

// Aggregate implements Aggregator
func (c *CompositeAggregator) Aggregate(entries []filter.Entry) (any, error) {
	partials := make([]any, len(c.Aggregators))
	for i, a := range c.Aggregators {
		p, err := a.Aggregate(entries)
		if err != nil {
			return nil, err
		}
		partials[i] = p
	}
	return partials, nil
}

// Combine implements Aggregator
func (c *CompositeAggregator) Combine(partials []any) (any, error) {
	results := make([]any, len(c.Aggregators))
	for i, a := range c.Aggregators {
		column := make([]any, 0, len(partials))
		for _, p := range partials {
			if row, ok := p.([]any); ok && i < len(row) {
				column = append(column, row[i])
			}
		}
		r, err := a.Combine(column)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// GroupAggregator splits entries into groups by an extracted value and
// aggregates each group. The result is {"entries":[{"key":g,"value":r}]},
// optionally limited to groups whose result matches Filter.
type GroupAggregator struct {
	Extractor  extractor.Extractor
	Aggregator Aggregator
	Filter     filter.Filter
}

func newGroup(d map[string]any) (Aggregator, error) {
	e, err := extractor.Parse(d["extractor"])
	if err != nil {
		return nil, err
	}
	inner, err := Parse(d["aggregator"])
	if err != nil {
		return nil, err
	}
	g := &GroupAggregator{Extractor: e, Aggregator: inner}
	if raw, ok := d["filter"]; ok && raw != nil {
		f, err := filter.Parse(raw)
		if err != nil {
			return nil, err
		}
		g.Filter = f
	}
	return g, nil
}

type groupPartial struct {
	key     any
	partial []any
}

// Aggregate implements Aggregator. The partial result maps group identity
// to the group key and the inner partial result.
func (g *GroupAggregator) Aggregate(entries []filter.Entry) (any, error) {
	groups := make(map[string]*groupPartial)
	members := make(map[string][]filter.Entry)
	for _, e := range entries {
		k, err := extractor.FromEntry(g.Extractor, e.Key(), e.Value())
		if err != nil {
			return nil, err
		}
		id := value.KeyOf(k)
		if _, ok := groups[id]; !ok {
			groups[id] = &groupPartial{key: k}
		}
		members[id] = append(members[id], e)
	}

	for id, gp := range groups {
		p, err := g.Aggregator.Aggregate(members[id])
		if err != nil {
			return nil, err
		}
		gp.partial = []any{p}
	}
	return groups, nil
}

// Combine implements Aggregator
func (g *GroupAggregator) Combine(partials []any) (any, error) {
	merged := make(map[string]*groupPartial)
	for _, p := range partials {
		groups, ok := p.(map[string]*groupPartial)
		if !ok {
			return nil, errors.InternalError("unexpected group partial result", nil)
		}
		for id, gp := range groups {
			if current, ok := merged[id]; ok {
				current.partial = append(current.partial, gp.partial...)
				continue
			}
			merged[id] = &groupPartial{key: gp.key, partial: append([]any(nil), gp.partial...)}
		}
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]any, 0, len(ids))
	for _, id := range ids {
		gp := merged[id]
		r, err := g.Aggregator.Combine(gp.partial)
		if err != nil {
			return nil, err
		}
		if g.Filter != nil {
			ok, err := g.Filter.Evaluate(filter.NewEntry(gp.key, r))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, map[string]any{"key": gp.key, "value": r})
	}
	return map[string]any{"entries": out}, nil
}

// TopNAggregator returns the Results largest values by comparator, largest
// first. An inverse comparator yields the smallest values.
type TopNAggregator struct {
	Extractor  extractor.Extractor
	Comparator extractor.Comparator
	Results    int
}

func newTopN(d map[string]any) (Aggregator, error) {
	e, err := extractor.Parse(d["extractor"])
	if err != nil {
		return nil, err
	}
	cmp, err := extractor.ParseComparator(d["comparator"])
	if err != nil {
		return nil, err
	}
	n, _ := value.ToInt64(d["results"])
	if n <= 0 {
		return nil, errors.InvalidArgument("top-n aggregator requires a positive result count", nil)
	}
	return &TopNAggregator{Extractor: e, Comparator: cmp, Results: int(n)}, nil
}

func (t *TopNAggregator) top(values []any) []any {
	value.SortValues(values, func(a, b any) int { return -t.Comparator.Compare(a, b) })
	if len(values) > t.Results {
		values = values[:t.Results]
	}
	return values
}

// Aggregate implements Aggregator
func (t *TopNAggregator) Aggregate(entries []filter.Entry) (any, error) {
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		v, err := extractor.FromEntry(t.Extractor, e.Key(), e.Value())
		if err != nil {
			return nil, err
		}
		if v != nil {
			values = append(values, v)
		}
	}
	return t.top(values), nil
}

// Combine implements Aggregator
func (t *TopNAggregator) Combine(partials []any) (any, error) {
	return t.top(concat(partials)), nil
}
