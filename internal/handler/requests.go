package handler

import (
	"context"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/aggregator"
	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/extractor"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/processor"
	"github.com/devrev/pairdb/gridcache/internal/service"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dispatch runs one cache request and queues its responses
func (c *channel) dispatch(ctx context.Context, cl *call) error {
	msg := cl.msg
	cache, err := c.cache(msg)
	if err != nil {
		return err
	}

	switch msg.Type {
	case pb.RequestEnsureCache:
		return c.reply(cl.id, &pb.ResponseMessage{})

	case pb.RequestIsReady:
		return c.reply(cl.id, &pb.ResponseMessage{Bool: cache.IsActive()})

	case pb.RequestGet:
		v, present, err := cache.Get(ctx, cl.key)
		if err != nil {
			return err
		}
		return c.replyValue(cl.id, v, present)

	case pb.RequestGetOrDefault:
		def, err := c.decodeOptional(msg.Value, "default value")
		if err != nil {
			return err
		}
		v, err := cache.GetOrDefault(ctx, cl.key, def)
		if err != nil {
			return err
		}
		return c.replyValue(cl.id, v, true)

	case pb.RequestGetAll:
		keys, err := c.decodeAll(msg.Keys, "key")
		if err != nil {
			return err
		}
		kvs, err := cache.GetAll(ctx, keys)
		if err != nil {
			return err
		}
		return c.streamEntries(cl.id, kvs)

	case pb.RequestPut, pb.RequestPutIfAbsent, pb.RequestReplace:
		val, err := c.decodeOptional(msg.Value, "value")
		if err != nil {
			return err
		}
		var prev any
		switch msg.Type {
		case pb.RequestPut:
			prev, err = cache.Put(ctx, cl.key, val, ttl(msg))
		case pb.RequestPutIfAbsent:
			prev, err = cache.PutIfAbsent(ctx, cl.key, val)
		default:
			prev, err = cache.Replace(ctx, cl.key, val)
		}
		if err != nil {
			return err
		}
		return c.replyValue(cl.id, prev, prev != nil)

	case pb.RequestPutAll:
		entries := make([]model.KeyValue, 0, len(msg.Entries))
		for _, e := range msg.Entries {
			k, err := c.decode(e.Key, "key")
			if err != nil {
				return err
			}
			v, err := c.decodeOptional(e.Value, "value")
			if err != nil {
				return err
			}
			entries = append(entries, model.KeyValue{Key: k, Value: v})
		}
		if err := cache.PutAll(ctx, entries, ttl(msg)); err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{})

	case pb.RequestRemove:
		prev, err := cache.Remove(ctx, cl.key)
		if err != nil {
			return err
		}
		return c.replyValue(cl.id, prev, prev != nil)

	case pb.RequestRemoveMapping:
		expected, err := c.decodeOptional(msg.Value, "value")
		if err != nil {
			return err
		}
		ok, err := cache.RemoveMapping(ctx, cl.key, expected)
		if err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{Bool: ok})

	case pb.RequestReplaceMapping:
		expected, err := c.decodeOptional(msg.Expected, "expected value")
		if err != nil {
			return err
		}
		val, err := c.decodeOptional(msg.Value, "value")
		if err != nil {
			return err
		}
		ok, err := cache.ReplaceMapping(ctx, cl.key, expected, val)
		if err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{Bool: ok})

	case pb.RequestContainsKey:
		ok, err := cache.ContainsKey(ctx, cl.key)
		if err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{Bool: ok})

	case pb.RequestContainsValue:
		val, err := c.decodeOptional(msg.Value, "value")
		if err != nil {
			return err
		}
		ok, err := cache.ContainsValue(ctx, val)
		if err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{Bool: ok})

	case pb.RequestContainsEntry:
		val, err := c.decodeOptional(msg.Value, "value")
		if err != nil {
			return err
		}
		ok, err := cache.ContainsEntry(ctx, cl.key, val)
		if err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{Bool: ok})

	case pb.RequestSize:
		n, err := cache.Size()
		if err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{Int: int64(n)})

	case pb.RequestIsEmpty:
		empty, err := cache.IsEmpty()
		if err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{Bool: empty})

	case pb.RequestClear:
		if err := cache.Clear(ctx); err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{})

	case pb.RequestTruncate:
		if err := cache.Truncate(ctx); err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{})

	case pb.RequestDestroy:
		if err := cache.Destroy(ctx); err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{})

	case pb.RequestAddIndex:
		desc, err := c.decode(msg.Extractor, "extractor")
		if err != nil {
			return err
		}
		cmp, err := c.decodeOptional(msg.Comparator, "comparator")
		if err != nil {
			return err
		}
		if err := cache.AddIndex(ctx, desc, msg.Sorted, cmp); err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{})

	case pb.RequestRemoveIndex:
		desc, err := c.decode(msg.Extractor, "extractor")
		if err != nil {
			return err
		}
		if err := cache.RemoveIndex(ctx, desc); err != nil {
			return err
		}
		return c.reply(cl.id, &pb.ResponseMessage{})

	case pb.RequestInvoke:
		proc, err := c.processor(msg.Processor)
		if err != nil {
			return err
		}
		res, err := cache.Invoke(ctx, cl.key, proc)
		if err != nil {
			return err
		}
		return c.replyValue(cl.id, res, true)

	case pb.RequestInvokeAll:
		proc, err := c.processor(msg.Processor)
		if err != nil {
			return err
		}
		sel, err := c.selector(msg)
		if err != nil {
			return err
		}
		kvs, err := cache.InvokeAll(ctx, sel, proc)
		if err != nil {
			return err
		}
		return c.streamEntries(cl.id, kvs)

	case pb.RequestAggregate:
		agg, err := c.aggregator(msg.Aggregator)
		if err != nil {
			return err
		}
		sel, err := c.selector(msg)
		if err != nil {
			return err
		}
		res, err := cache.Aggregate(ctx, sel, agg)
		if err != nil {
			return err
		}
		return c.replyValue(cl.id, res, true)

	case pb.RequestKeySet:
		f, err := c.filter(msg.Filter)
		if err != nil {
			return err
		}
		keys, err := cache.KeySet(ctx, f)
		if err != nil {
			return err
		}
		return c.streamKeys(cl.id, keys)

	case pb.RequestEntrySet:
		f, err := c.filter(msg.Filter)
		if err != nil {
			return err
		}
		kvs, err := cache.EntrySet(ctx, f)
		if err != nil {
			return err
		}
		return c.streamEntries(cl.id, kvs)

	case pb.RequestValues:
		f, err := c.filter(msg.Filter)
		if err != nil {
			return err
		}
		var cmp extractor.Comparator
		if len(msg.Comparator) > 0 {
			desc, err := c.decode(msg.Comparator, "comparator")
			if err != nil {
				return err
			}
			if cmp, err = extractor.ParseComparator(desc); err != nil {
				return errors.InvalidArgument("invalid comparator", err)
			}
		}
		vals, err := cache.Values(ctx, f, cmp)
		if err != nil {
			return err
		}
		return c.streamValues(cl.id, vals)

	case pb.RequestAddMapListener:
		return c.addListener(ctx, cache, cl)

	case pb.RequestRemoveMapListener:
		return c.reply(cl.id, &pb.ResponseMessage{Bool: c.removeListener(msg.RegistrationID)})
	}

	return errors.InvalidArgument("unsupported request type", nil).WithDetail("type", int32(msg.Type))
}

// cache resolves the cache a request names. EnsureCache creates a fresh
// cache when the name is unknown or destroyed; other requests reuse the
// session's handle, so a handle to a destroyed cache reports NotActive.
func (c *channel) cache(msg *pb.NamedCacheRequest) (*service.Cache, error) {
	grid := c.server.grid
	scope := c.session.Scope

	c.mu.Lock()
	handle, ok := c.caches[msg.Cache]
	c.mu.Unlock()
	if ok && msg.Type != pb.RequestEnsureCache {
		return handle, nil
	}
	if ok && handle.IsActive() {
		return handle, nil
	}

	cache, err := grid.EnsureCache(scope, msg.Cache)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.caches[msg.Cache] = cache
	c.mu.Unlock()
	c.server.sessions.WatchCache(c.session, cache.ID(), &sessionLifecycle{c: c})
	return cache, nil
}

func ttl(msg *pb.NamedCacheRequest) time.Duration {
	return time.Duration(msg.TTLMillis) * time.Millisecond
}

func (c *channel) selector(msg *pb.NamedCacheRequest) (service.Selector, error) {
	if len(msg.Keys) > 0 {
		keys, err := c.decodeAll(msg.Keys, "key")
		if err != nil {
			return service.Selector{}, err
		}
		return service.ByKeys(keys), nil
	}
	f, err := c.filter(msg.Filter)
	if err != nil {
		return service.Selector{}, err
	}
	return service.ByFilter(f), nil
}

func (c *channel) filter(data []byte) (filter.Filter, error) {
	if len(data) == 0 {
		return nil, nil
	}
	desc, err := c.decode(data, "filter")
	if err != nil {
		return nil, err
	}
	f, err := filter.Parse(desc)
	if err != nil {
		if errors.IsCacheError(err) {
			return nil, err
		}
		return nil, errors.InvalidArgument("invalid filter", err)
	}
	return f, nil
}

// processor parses a processor descriptor. An unknown or malformed
// processor is an incomplete request.
func (c *channel) processor(data []byte) (processor.Processor, error) {
	desc, err := c.decode(data, "processor")
	if err != nil {
		return nil, err
	}
	p, err := processor.Parse(desc)
	if err != nil {
		return nil, errors.IncompleteRequest("invalid entry processor", err)
	}
	return p, nil
}

func (c *channel) aggregator(data []byte) (aggregator.Aggregator, error) {
	desc, err := c.decode(data, "aggregator")
	if err != nil {
		return nil, err
	}
	a, err := aggregator.Parse(desc)
	if err != nil {
		return nil, errors.IncompleteRequest("invalid aggregator", err)
	}
	return a, nil
}

// addListener registers a listener owned by the session. Events reach the
// stream in commit order because the registration is synchronous at the hub
// and only queues on the outbox.
func (c *channel) addListener(ctx context.Context, cache *service.Cache, cl *call) error {
	msg := cl.msg
	opts := service.ListenerOptions{
		ID:          uuid.NewString(),
		Lite:        msg.Lite,
		Priming:     msg.Priming,
		Synchronous: true,
		Owner:       c.session.ID,
	}
	if cl.hasKey {
		opts.Key, opts.HasKey = cl.key, true
	} else {
		f, err := c.filter(msg.Filter)
		if err != nil {
			return err
		}
		opts.Filter = f
	}

	l := &remoteListener{c: c, id: opts.ID, cache: msg.Cache}
	reg, err := cache.AddMapListener(ctx, opts, l)
	if err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		cache.RemoveMapListener(reg.ID)
		return errors.Unavailable("session closed", nil)
	}
	c.mu.Lock()
	c.regs[reg.ID] = cache.ID()
	c.mu.Unlock()
	return c.reply(cl.id, &pb.ResponseMessage{RegistrationID: reg.ID})
}

func (c *channel) removeListener(id string) bool {
	c.mu.Lock()
	_, ok := c.regs[id]
	delete(c.regs, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.server.grid.Events().Unregister(id)
}

// remoteListener forwards hub events to one client registration
type remoteListener struct {
	c     *channel
	id    string
	cache string
}

func (l *remoteListener) OnMapEvent(ev *model.MapEvent) {
	msg, err := l.c.encodeEvent(l.id, l.cache, ev)
	if err != nil {
		l.c.logger.Warn("Failed to encode map event",
			zap.String("registration_id", l.id),
			zap.Error(err))
		return
	}
	l.c.send(&pb.ProxyResponse{Event: msg})
}

// sessionLifecycle forwards truncate and destroy notifications of the
// caches a session uses
type sessionLifecycle struct {
	c *channel
}

func (l *sessionLifecycle) OnLifecycleEvent(ev *model.LifecycleEvent) {
	c := l.c
	if ev.Type == model.LifecycleDestroyed {
		c.mu.Lock()
		for id, cache := range c.regs {
			if cache == ev.Cache {
				delete(c.regs, id)
			}
		}
		c.mu.Unlock()
		c.server.sessions.Forget(c.session, ev.Cache)
	}
	c.send(&pb.ProxyResponse{Lifecycle: &pb.LifecycleMessage{Cache: ev.Cache.Name, Type: string(ev.Type)}})
}
