package client

import (
	"context"
	"fmt"

	"github.com/devrev/pairdb/gridcache/pkg/aggregators"
	"github.com/devrev/pairdb/gridcache/pkg/filters"
	"github.com/devrev/pairdb/gridcache/pkg/processors"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
)

// Invoke runs p against key and returns its result. The entry is locked
// for the duration; a failing processor leaves the entry unchanged and
// returns ErrIncompleteRequest.
//
//	n, err := client.Invoke[string, Account, int64](ctx, accounts, "acc-1",
//	    processors.Increment("balance", int64(10), false))
func Invoke[K comparable, V any, R any](ctx context.Context, c *NamedCache[K, V], key K, p processors.Processor) (*R, error) {
	req, err := c.keyed(pb.RequestInvoke, key)
	if err != nil {
		return nil, err
	}
	if req.Processor, err = encodeDescriptor(c, p, "processor"); err != nil {
		return nil, err
	}
	c.invalidate(key)
	msg, err := c.run(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodePtr[R](c.codec, msg.Value)
}

// InvokeAll runs p against keys in one transaction. Results of entries a
// conditional processor skipped are left out.
func InvokeAll[K comparable, V any, R any](ctx context.Context, c *NamedCache[K, V], keys []K, p processors.Processor) (map[K]R, error) {
	if len(keys) == 0 {
		return map[K]R{}, nil
	}
	req := c.request(pb.RequestInvokeAll)
	var err error
	if req.Keys, err = c.encodeKeys(keys); err != nil {
		return nil, err
	}
	for _, k := range keys {
		c.invalidate(k)
	}
	return invokeAll[K, V, R](ctx, c, req, p)
}

// InvokeAllFilter runs p against the entries matching f in one
// transaction. A nil filter selects every entry.
func InvokeAllFilter[K comparable, V any, R any](ctx context.Context, c *NamedCache[K, V], f filters.Filter, p processors.Processor) (map[K]R, error) {
	req := c.request(pb.RequestInvokeAll)
	var err error
	if req.Filter, err = c.encodeOptional(optional(f)); err != nil {
		return nil, err
	}
	c.purge()
	return invokeAll[K, V, R](ctx, c, req, p)
}

func invokeAll[K comparable, V any, R any](ctx context.Context, c *NamedCache[K, V], req *pb.NamedCacheRequest, p processors.Processor) (map[K]R, error) {
	var err error
	if req.Processor, err = encodeDescriptor(c, p, "processor"); err != nil {
		return nil, err
	}
	msgs, err := c.stream(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(map[K]R)
	for _, m := range msgs {
		for _, e := range m.Entries {
			k, err := decodeAs[K](c.codec, e.Key)
			if err != nil {
				return nil, err
			}
			r, err := decodeAs[R](c.codec, e.Value)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
	}
	return out, nil
}

// Aggregate runs agg over every entry
//
//	total, err := client.Aggregate(ctx, orders, aggregators.Sum(extractors.Extract[float64]("amount")))
func Aggregate[K comparable, V any, R any](ctx context.Context, c *NamedCache[K, V], agg aggregators.Aggregator[R]) (*R, error) {
	return AggregateFilter(ctx, c, nil, agg)
}

// AggregateKeys runs agg over the present entries among keys
func AggregateKeys[K comparable, V any, R any](ctx context.Context, c *NamedCache[K, V], keys []K, agg aggregators.Aggregator[R]) (*R, error) {
	req := c.request(pb.RequestAggregate)
	var err error
	if req.Keys, err = c.encodeKeys(keys); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		// an empty key set must not fall back to every entry
		req.Filter, err = c.encodeOptional(filters.Never())
		if err != nil {
			return nil, err
		}
	}
	return aggregate(ctx, c, req, agg)
}

// AggregateFilter runs agg over the entries matching f. A nil filter
// selects every entry. An empty selection yields the aggregator's empty
// result, which is nil for Sum, Average, Max and Min.
func AggregateFilter[K comparable, V any, R any](ctx context.Context, c *NamedCache[K, V], f filters.Filter, agg aggregators.Aggregator[R]) (*R, error) {
	req := c.request(pb.RequestAggregate)
	var err error
	if req.Filter, err = c.encodeOptional(optional(f)); err != nil {
		return nil, err
	}
	return aggregate(ctx, c, req, agg)
}

func aggregate[K comparable, V any, R any](ctx context.Context, c *NamedCache[K, V], req *pb.NamedCacheRequest, agg aggregators.Aggregator[R]) (*R, error) {
	var err error
	if req.Aggregator, err = encodeDescriptor(c, agg, "aggregator"); err != nil {
		return nil, err
	}
	msg, err := c.run(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodePtr[R](c.codec, msg.Value)
}

type descriptor interface {
	Class() string
}

func encodeDescriptor[K comparable, V any](c *NamedCache[K, V], d descriptor, what string) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidArgument, what)
	}
	return c.encodeOptional(d)
}
