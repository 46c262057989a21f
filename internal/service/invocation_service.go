package service

import (
	"context"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/aggregator"
	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/processor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Selector chooses the entries of a bulk operation: an explicit key set,
// a filter, or every entry
type Selector struct {
	Keys   []any
	Filter filter.Filter
	byKeys bool
}

// ByKeys selects the given keys, present or not
func ByKeys(keys []any) Selector {
	return Selector{Keys: keys, byKeys: true}
}

// ByFilter selects the present entries matching f
func ByFilter(f filter.Filter) Selector {
	if f == nil {
		f = filter.AlwaysFilter{}
	}
	return Selector{Filter: f}
}

// AllEntries selects every present entry
func AllEntries() Selector {
	return ByFilter(nil)
}

// IsKeys reports whether the selector names explicit keys
func (s Selector) IsKeys() bool {
	return s.byKeys
}

func (s Selector) filter() filter.Filter {
	if s.byKeys {
		return nil
	}
	if s.Filter == nil {
		return filter.AlwaysFilter{}
	}
	return s.Filter
}

// selectRefs resolves the selector to sorted key references. Filter
// selections are evaluated against committed state and must be checked
// again once the entries are locked.
func (c *Cache) selectRefs(sel Selector) ([]keyRef, error) {
	if sel.byKeys {
		return c.refs(sel.Keys)
	}
	var refs []keyRef
	for p := 0; p < c.backing.PartitionCount(); p++ {
		matched, err := c.matchPartition(p, sel.filter())
		if err != nil {
			return nil, err
		}
		for _, e := range matched {
			refs = append(refs, keyRef{key: e.Key, keyID: e.KeyID, partition: p})
		}
	}
	return refs, nil
}

// processingError classifies a processor or aggregator failure. Lock
// conflicts stay retryable; cache state and deadline errors pass through;
// anything else is an incomplete request.
func processingError(err error) error {
	return classify(err, "entry processor failed")
}

func aggregationError(err error) error {
	return classify(err, "aggregator failed")
}

func classify(err error, message string) error {
	if errors.IsRetryable(err) {
		return err
	}
	if errors.IsCacheError(err) {
		switch errors.GetCode(err) {
		case errors.ErrCodeNotActive, errors.ErrCodeTimeout, errors.ErrCodeIncompleteRequest:
			return err
		}
	}
	return errors.IncompleteRequest(message, err)
}

// Invoke runs proc against key with exclusive access to the entry. An
// absent entry is presented as not present.
func (c *Cache) Invoke(ctx context.Context, key any, proc processor.Processor) (any, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	r, err := c.ref(key)
	if err != nil {
		return nil, err
	}
	return c.invokeRef(ctx, r, proc)
}

func (c *Cache) invokeRef(ctx context.Context, r keyRef, proc processor.Processor) (any, error) {
	var result any
	err := c.grid.execute(ctx, c.id.Scope, func(tx *Transaction) error {
		e, err := tx.enlist(c, r.key, r.partition)
		if err != nil {
			return err
		}
		res, err := proc.Process(e)
		if err != nil {
			return processingError(err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return processor.Result(result), nil
}

// InvokeAll runs proc against every selected entry in one transaction.
// Entries are locked in partition then key order. A failure rolls back
// every entry. Entries that fail the selector's filter, or whose processor
// skips them, are left out of the result.
func (c *Cache) InvokeAll(ctx context.Context, sel Selector, proc processor.Processor) ([]model.KeyValue, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	refs, err := c.selectRefs(sel)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return []model.KeyValue{}, nil
	}
	f := sel.filter()

	var out []model.KeyValue
	err = c.grid.execute(ctx, c.id.Scope, func(tx *Transaction) error {
		entries := make([]*txEntry, len(refs))
		for i, r := range refs {
			e, err := tx.enlist(c, r.key, r.partition)
			if err != nil {
				return err
			}
			entries[i] = e
		}

		results := make([]any, len(entries))
		include := make([]bool, len(entries))
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(c.grid.config.Parallelism)
		for _, span := range partitionSpans(refs) {
			span := span
			g.Go(func() error {
				for i := span[0]; i < span[1]; i++ {
					e := entries[i]
					if f != nil {
						if !e.IsPresent() {
							continue
						}
						ok, err := f.Evaluate(filter.NewEntry(e.Key(), e.Value()))
						if err != nil {
							return errors.IncompleteRequest("filter evaluation failed", err)
						}
						if !ok {
							continue
						}
					}
					res, err := proc.Process(e)
					if err != nil {
						return processingError(err)
					}
					if processor.IsSkip(res) {
						continue
					}
					results[i], include[i] = res, true
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out = make([]model.KeyValue, 0, len(entries))
		for i, e := range entries {
			if include[i] {
				out = append(out, model.KeyValue{Key: e.key, Value: results[i]})
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Debug("InvokeAll rolled back", zap.Int("entries", len(refs)), zap.Error(err))
		return nil, err
	}
	return out, nil
}

// partitionSpans splits sorted refs into [start, end) runs of one partition
func partitionSpans(refs []keyRef) [][2]int {
	var spans [][2]int
	start := 0
	for i := 1; i <= len(refs); i++ {
		if i == len(refs) || refs[i].partition != refs[start].partition {
			spans = append(spans, [2]int{start, i})
			start = i
		}
	}
	return spans
}

// Aggregate reduces the selected present entries. Each partition is
// aggregated in parallel against committed state and the partial results
// are combined.
func (c *Cache) Aggregate(ctx context.Context, sel Selector, agg aggregator.Aggregator) (any, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}

	groups := make([][]filter.Entry, c.backing.PartitionCount())
	if sel.byKeys {
		refs, err := c.refs(sel.Keys)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		for _, r := range refs {
			if e, ok := c.backing.Get(r.partition, r.keyID, now); ok {
				groups[r.partition] = append(groups[r.partition], filter.NewEntry(e.Key, e.Value))
			}
		}
	} else {
		for p := range groups {
			matched, err := c.matchPartition(p, sel.filter())
			if err != nil {
				return nil, err
			}
			for _, e := range matched {
				groups[p] = append(groups[p], filter.NewEntry(e.Key, e.Value))
			}
		}
	}

	perPartition := make([]any, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.grid.config.Parallelism)
	for p, entries := range groups {
		if len(entries) == 0 {
			continue
		}
		p, entries := p, entries
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errors.Timeout("request cancelled", err)
			}
			partial, err := agg.Aggregate(entries)
			if err != nil {
				return err
			}
			perPartition[p] = partial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, aggregationError(err)
	}

	var partials []any
	for p, entries := range groups {
		if len(entries) > 0 {
			partials = append(partials, perPartition[p])
		}
	}
	if len(partials) == 0 {
		partial, err := agg.Aggregate(nil)
		if err != nil {
			return nil, aggregationError(err)
		}
		partials = append(partials, partial)
	}
	result, err := agg.Combine(partials)
	if err != nil {
		return nil, aggregationError(err)
	}
	return result, nil
}
