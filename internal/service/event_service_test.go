package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/service"
)

func setupEvents(t *testing.T) *service.EventService {
	t.Helper()
	es := service.NewEventService(metrics.NewMetrics("member-1", prometheus.NewRegistry()), zap.NewNop())
	t.Cleanup(es.Close)
	return es
}

func updated(cache model.CacheID, key any, version uint64) *model.MapEvent {
	return &model.MapEvent{
		Cache:    cache,
		Type:     model.EventUpdated,
		Key:      key,
		NewValue: version,
		HasNew:   true,
		Version:  version,
	}
}

func TestEventService_DeliveryOrder(t *testing.T) {
	es := setupEvents(t)
	cache := model.CacheID{Name: "orders"}

	rec := &recorder{}
	_, err := es.Register(cache, service.ListenerOptions{Key: "k", HasKey: true}, rec)
	require.NoError(t, err)

	const n = 200
	for i := uint64(1); i <= n; i++ {
		es.Publish([]*model.MapEvent{updated(cache, "k", i), updated(cache, "other", i)})
	}
	require.Eventually(t, func() bool { return rec.len() == n }, time.Second, 5*time.Millisecond)
	for i, ev := range rec.snapshot() {
		assert.Equal(t, uint64(i+1), ev.Version)
	}
}

func TestEventService_Scopes(t *testing.T) {
	es := setupEvents(t)
	cache := model.CacheID{Name: "people"}

	older, err := filter.Parse(map[string]any{
		"@class": filter.Greater, "extractor": prop("age"), "value": int64(30),
	})
	require.NoError(t, err)

	all, byKey, byFilter, lite := &recorder{}, &recorder{}, &recorder{}, &recorder{}
	sync := service.ListenerOptions{Synchronous: true}
	_, err = es.Register(cache, sync, all)
	require.NoError(t, err)
	_, err = es.Register(cache, service.ListenerOptions{Key: "ann", HasKey: true, Synchronous: true}, byKey)
	require.NoError(t, err)
	_, err = es.Register(cache, service.ListenerOptions{Filter: older, Synchronous: true}, byFilter)
	require.NoError(t, err)
	_, err = es.Register(cache, service.ListenerOptions{Lite: true, Synchronous: true}, lite)
	require.NoError(t, err)

	assert.Equal(t, 1, es.KeyListenerCount(cache))
	assert.Equal(t, 3, es.FilterListenerCount(cache))

	es.Publish([]*model.MapEvent{
		{Cache: cache, Type: model.EventInserted, Key: "ann", NewValue: person("Ann", 25), HasNew: true},
		{Cache: cache, Type: model.EventInserted, Key: "bob", NewValue: person("Bob", 40), HasNew: true},
		{Cache: model.CacheID{Name: "elsewhere"}, Type: model.EventInserted, Key: "ann", HasNew: true},
	})

	assert.Equal(t, 2, all.len())
	assert.Equal(t, 1, byKey.len())
	require.Equal(t, 1, byFilter.len())
	assert.Equal(t, "bob", byFilter.snapshot()[0].Key)

	ev := lite.snapshot()[0]
	assert.False(t, ev.HasNew)
	assert.Nil(t, ev.NewValue)
}

func TestEventService_UnregisterIsPerRegistration(t *testing.T) {
	es := setupEvents(t)
	cache := model.CacheID{Name: "c"}

	first, second := &recorder{}, &recorder{}
	opts := service.ListenerOptions{Key: "k", HasKey: true, Synchronous: true, Owner: "session-1"}
	r1, err := es.Register(cache, opts, first)
	require.NoError(t, err)
	_, err = es.Register(cache, opts, second)
	require.NoError(t, err)

	assert.True(t, es.Unregister(r1.ID))
	assert.False(t, es.Unregister(r1.ID))
	assert.False(t, r1.IsActive())

	es.Publish([]*model.MapEvent{updated(cache, "k", 1)})
	assert.Zero(t, first.len())
	assert.Equal(t, 1, second.len())

	assert.Equal(t, 1, es.OwnerCount("session-1"))
	assert.Equal(t, 1, es.UnregisterOwner("session-1"))
	assert.Zero(t, es.RegistrationCount())
}

func TestEventService_ListenerPanicIsContained(t *testing.T) {
	es := setupEvents(t)
	cache := model.CacheID{Name: "c"}

	var calls atomic.Int32
	_, err := es.Register(cache, service.ListenerOptions{}, service.MapListenerFunc(func(*model.MapEvent) {
		calls.Add(1)
		panic("listener bug")
	}))
	require.NoError(t, err)

	es.Publish([]*model.MapEvent{updated(cache, "a", 1), updated(cache, "b", 2)})
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestEventService_Generation(t *testing.T) {
	es := setupEvents(t)
	cache := model.CacheID{Name: "c"}

	g0 := es.Generation()
	reg, err := es.Register(cache, service.ListenerOptions{}, &recorder{})
	require.NoError(t, err)
	assert.Greater(t, es.Generation(), g0)
	assert.Equal(t, es.Generation(), reg.Generation)

	_, err = es.Register(cache, service.ListenerOptions{}, nil)
	assert.Error(t, err)
}

func TestCache_PrimingListeners(t *testing.T) {
	grid := setupGrid(t, nil)
	c := ensure(t, grid, "priming")
	ctx := context.Background()

	_, err := c.Put(ctx, "a", int64(1), 0)
	require.NoError(t, err)
	_, err = c.Put(ctx, "b", int64(2), 0)
	require.NoError(t, err)

	key := &recorder{}
	_, err = c.AddMapListener(ctx, service.ListenerOptions{Key: "a", HasKey: true, Priming: true, Synchronous: true}, key)
	require.NoError(t, err)
	require.Equal(t, 1, key.len())
	ev := key.snapshot()[0]
	assert.True(t, ev.Priming)
	assert.True(t, ev.Synthetic)
	assert.Equal(t, model.EventUpdated, ev.Type)
	assert.Equal(t, int64(1), ev.NewValue)

	// no priming event for an absent key
	absent := &recorder{}
	_, err = c.AddMapListener(ctx, service.ListenerOptions{Key: "z", HasKey: true, Priming: true, Synchronous: true}, absent)
	require.NoError(t, err)
	assert.Zero(t, absent.len())

	all := &recorder{}
	_, err = c.AddMapListener(ctx, service.ListenerOptions{Priming: true, Synchronous: true}, all)
	require.NoError(t, err)
	assert.Equal(t, 2, all.len())

	_, err = c.Put(ctx, "a", int64(3), 0)
	require.NoError(t, err)
	events := key.snapshot()
	require.Len(t, events, 2)
	assert.False(t, events[1].Priming)
	assert.Equal(t, int64(1), events[1].OldValue)
}
