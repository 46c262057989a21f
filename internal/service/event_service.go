package service

import (
	"sync"
	"sync/atomic"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/value"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MapListener receives entry events
type MapListener interface {
	OnMapEvent(ev *model.MapEvent)
}

// LifecycleListener receives cache deactivation events. A MapListener that
// also implements LifecycleListener gets both through the same ordered queue.
type LifecycleListener interface {
	OnLifecycleEvent(ev *model.LifecycleEvent)
}

// MapListenerFunc adapts a function to MapListener
type MapListenerFunc func(ev *model.MapEvent)

// OnMapEvent calls f
func (f MapListenerFunc) OnMapEvent(ev *model.MapEvent) { f(ev) }

// LifecycleListenerFunc adapts a function to LifecycleListener
type LifecycleListenerFunc func(ev *model.LifecycleEvent)

// OnLifecycleEvent calls f
func (f LifecycleListenerFunc) OnLifecycleEvent(ev *model.LifecycleEvent) { f(ev) }

// ListenerOptions describe the scope and delivery of a registration.
// Without a key or filter the registration covers all entries.
type ListenerOptions struct {
	ID          string // Optional; generated when empty
	Key         any
	HasKey      bool
	Filter      filter.Filter
	Lite        bool
	Priming     bool
	Synchronous bool
	Owner       string
}

// Registration is one listener registration. Each has its own ID, so
// removing it never affects other registrations on the same scope.
type Registration struct {
	ID          string
	Cache       model.CacheID
	Key         any
	KeyID       string
	HasKey      bool
	Filter      *filter.MapEventFilter
	Lite        bool
	Priming     bool
	Synchronous bool
	Owner       string
	Generation  uint64

	mapListener       MapListener
	lifecycleListener LifecycleListener
	active            atomic.Bool
	dropped           atomic.Bool
	queue             *deliveryQueue
}

// IsActive reports whether the registration still receives events
func (r *Registration) IsActive() bool {
	return r.active.Load()
}

type cacheListeners struct {
	byKey     map[string]map[string]*Registration
	byFilter  map[string]*Registration
	lifecycle map[string]*Registration
}

func newCacheListeners() *cacheListeners {
	return &cacheListeners{
		byKey:     make(map[string]map[string]*Registration),
		byFilter:  make(map[string]*Registration),
		lifecycle: make(map[string]*Registration),
	}
}

func (c *cacheListeners) empty() bool {
	return len(c.byKey) == 0 && len(c.byFilter) == 0 && len(c.lifecycle) == 0
}

// EventService is the event hub: a concurrent multimap of registrations
// keyed by cache and scope
type EventService struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	caches     map[model.CacheID]*cacheListeners
	byID       map[string]*Registration
	generation uint64
}

// NewEventService creates an empty event hub
func NewEventService(m *metrics.Metrics, logger *zap.Logger) *EventService {
	return &EventService{
		logger:  logger,
		metrics: m,
		caches:  make(map[model.CacheID]*cacheListeners),
		byID:    make(map[string]*Registration),
	}
}

// Register adds a map listener registration for cache
func (es *EventService) Register(cache model.CacheID, opts ListenerOptions, l MapListener) (*Registration, error) {
	if l == nil {
		return nil, errors.InvalidArgument("listener is required", nil)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	reg := &Registration{
		ID:          opts.ID,
		Cache:       cache,
		Lite:        opts.Lite,
		Priming:     opts.Priming,
		Synchronous: opts.Synchronous,
		Owner:       opts.Owner,
		mapListener: l,
	}
	if ll, ok := l.(LifecycleListener); ok {
		reg.lifecycleListener = ll
	}
	switch {
	case opts.HasKey:
		reg.Key = value.Normalize(opts.Key)
		reg.KeyID = value.KeyOf(reg.Key)
		reg.HasKey = true
	case opts.Filter != nil:
		reg.Filter = filter.ForEvents(opts.Filter)
	}
	if !reg.Synchronous {
		reg.queue = newDeliveryQueue(es.logger)
	}

	es.mu.Lock()
	es.generation++
	reg.Generation = es.generation
	reg.active.Store(true)
	cl := es.listenersFor(cache)
	if reg.HasKey {
		regs, ok := cl.byKey[reg.KeyID]
		if !ok {
			regs = make(map[string]*Registration)
			cl.byKey[reg.KeyID] = regs
		}
		regs[reg.ID] = reg
	} else {
		cl.byFilter[reg.ID] = reg
	}
	es.byID[reg.ID] = reg
	es.mu.Unlock()

	es.updateMetrics()
	es.logger.Debug("Map listener registered",
		zap.String("cache", cache.String()),
		zap.String("registration_id", reg.ID),
		zap.Bool("key_scoped", reg.HasKey),
		zap.Bool("priming", reg.Priming))
	return reg, nil
}

// RegisterLifecycle adds a deactivation-only registration for cache
func (es *EventService) RegisterLifecycle(cache model.CacheID, owner string, l LifecycleListener) *Registration {
	reg := &Registration{
		ID:                uuid.NewString(),
		Cache:             cache,
		Owner:             owner,
		lifecycleListener: l,
		queue:             newDeliveryQueue(es.logger),
	}

	es.mu.Lock()
	es.generation++
	reg.Generation = es.generation
	reg.active.Store(true)
	es.listenersFor(cache).lifecycle[reg.ID] = reg
	es.byID[reg.ID] = reg
	es.mu.Unlock()
	return reg
}

// listenersFor returns the registrations of cache. The caller holds es.mu.
func (es *EventService) listenersFor(cache model.CacheID) *cacheListeners {
	cl, ok := es.caches[cache]
	if !ok {
		cl = newCacheListeners()
		es.caches[cache] = cl
	}
	return cl
}

// Unregister removes a registration by ID
func (es *EventService) Unregister(id string) bool {
	es.mu.Lock()
	reg, ok := es.byID[id]
	if ok {
		es.removeLocked(reg, true)
	}
	es.mu.Unlock()

	if ok {
		reg.close()
		es.updateMetrics()
	}
	return ok
}

// UnregisterOwner removes every registration made by owner
func (es *EventService) UnregisterOwner(owner string) int {
	es.mu.Lock()
	var removed []*Registration
	for _, reg := range es.byID {
		if reg.Owner == owner {
			removed = append(removed, reg)
		}
	}
	for _, reg := range removed {
		es.removeLocked(reg, true)
	}
	es.mu.Unlock()

	for _, reg := range removed {
		reg.close()
	}
	if len(removed) > 0 {
		es.updateMetrics()
		es.logger.Info("Released listener registrations",
			zap.String("owner", owner),
			zap.Int("count", len(removed)))
	}
	return len(removed)
}

// OwnerCount returns the number of registrations made by owner
func (es *EventService) OwnerCount(owner string) int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	n := 0
	for _, reg := range es.byID {
		if reg.Owner == owner {
			n++
		}
	}
	return n
}

// removeLocked detaches reg. Dropped registrations also discard queued
// events. The caller holds es.mu.
func (es *EventService) removeLocked(reg *Registration, drop bool) {
	reg.active.Store(false)
	if drop {
		reg.dropped.Store(true)
	}
	es.generation++
	delete(es.byID, reg.ID)
	cl, ok := es.caches[reg.Cache]
	if !ok {
		return
	}
	switch {
	case reg.mapListener == nil:
		delete(cl.lifecycle, reg.ID)
	case reg.HasKey:
		if regs, ok := cl.byKey[reg.KeyID]; ok {
			delete(regs, reg.ID)
			if len(regs) == 0 {
				delete(cl.byKey, reg.KeyID)
			}
		}
	default:
		delete(cl.byFilter, reg.ID)
	}
	if cl.empty() {
		delete(es.caches, reg.Cache)
	}
}

// Publish delivers committed events. Synchronous registrations run on the
// calling goroutine; the others are queued in per-registration order.
func (es *EventService) Publish(events []*model.MapEvent) {
	for _, ev := range events {
		for _, reg := range es.matching(ev) {
			es.Deliver(reg, ev)
		}
	}
}

// HasListeners reports whether any map listener is registered for cache
func (es *EventService) HasListeners(cache model.CacheID) bool {
	es.mu.RLock()
	defer es.mu.RUnlock()
	cl, ok := es.caches[cache]
	return ok && (len(cl.byKey) > 0 || len(cl.byFilter) > 0)
}

func (es *EventService) matching(ev *model.MapEvent) []*Registration {
	es.mu.RLock()
	cl, ok := es.caches[ev.Cache]
	if !ok {
		es.mu.RUnlock()
		return nil
	}
	var candidates []*Registration
	for _, reg := range cl.byKey[value.KeyOf(ev.Key)] {
		candidates = append(candidates, reg)
	}
	var filtered []*Registration
	for _, reg := range cl.byFilter {
		filtered = append(filtered, reg)
	}
	es.mu.RUnlock()

	for _, reg := range filtered {
		if reg.Filter == nil {
			candidates = append(candidates, reg)
			continue
		}
		ok, err := reg.Filter.EvaluateEvent(ev)
		if err != nil {
			es.logger.Warn("Event filter failed",
				zap.String("registration_id", reg.ID),
				zap.Error(err))
			continue
		}
		if ok {
			candidates = append(candidates, reg)
		}
	}
	return candidates
}

// Deliver hands ev to a single registration
func (es *EventService) Deliver(reg *Registration, ev *model.MapEvent) {
	if !reg.IsActive() {
		return
	}
	if reg.Lite {
		ev = ev.Lite()
	}
	es.metrics.RecordEvent(ev.Type.String())

	if reg.Synchronous {
		es.safeMapEvent(reg, ev)
		return
	}
	reg.queue.push(func() {
		if !reg.dropped.Load() {
			es.safeMapEvent(reg, ev)
		}
	})
}

func (es *EventService) safeMapEvent(reg *Registration, ev *model.MapEvent) {
	defer func() {
		if r := recover(); r != nil {
			es.logger.Error("Map listener panicked",
				zap.String("registration_id", reg.ID),
				zap.Any("panic", r))
		}
	}()
	reg.mapListener.OnMapEvent(ev)
}

// PublishLifecycle delivers a lifecycle event to every registration of
// cache that accepts one. A Destroyed event also removes the registrations.
func (es *EventService) PublishLifecycle(cache model.CacheID, t model.LifecycleEventType) {
	ev := &model.LifecycleEvent{Cache: cache, Type: t}

	es.mu.Lock()
	var targets []*Registration
	if cl, ok := es.caches[cache]; ok {
		for _, regs := range cl.byKey {
			for _, reg := range regs {
				targets = append(targets, reg)
			}
		}
		for _, reg := range cl.byFilter {
			targets = append(targets, reg)
		}
		for _, reg := range cl.lifecycle {
			targets = append(targets, reg)
		}
	}
	if t == model.LifecycleDestroyed {
		for _, reg := range targets {
			es.removeLocked(reg, false)
		}
	}
	es.mu.Unlock()

	for _, reg := range targets {
		if reg.lifecycleListener != nil {
			es.deliverLifecycle(reg, ev)
		}
		if t == model.LifecycleDestroyed {
			reg.close()
		}
	}
	if t == model.LifecycleDestroyed {
		es.updateMetrics()
	}
	es.logger.Info("Lifecycle event published",
		zap.String("cache", cache.String()),
		zap.String("type", string(t)),
		zap.Int("registrations", len(targets)))
}

func (es *EventService) deliverLifecycle(reg *Registration, ev *model.LifecycleEvent) {
	call := func() {
		defer func() {
			if r := recover(); r != nil {
				es.logger.Error("Lifecycle listener panicked",
					zap.String("registration_id", reg.ID),
					zap.Any("panic", r))
			}
		}()
		reg.lifecycleListener.OnLifecycleEvent(ev)
	}
	if reg.queue == nil {
		call()
		return
	}
	reg.queue.push(call)
}

// KeyListenerCount returns the number of key registrations on cache
func (es *EventService) KeyListenerCount(cache model.CacheID) int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	n := 0
	if cl, ok := es.caches[cache]; ok {
		for _, regs := range cl.byKey {
			n += len(regs)
		}
	}
	return n
}

// FilterListenerCount returns the number of filter and all-entry registrations on cache
func (es *EventService) FilterListenerCount(cache model.CacheID) int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	if cl, ok := es.caches[cache]; ok {
		return len(cl.byFilter)
	}
	return 0
}

// RegistrationCount returns the total number of registrations
func (es *EventService) RegistrationCount() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.byID)
}

// Generation returns the registry generation, bumped on every change
func (es *EventService) Generation() uint64 {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.generation
}

func (es *EventService) updateMetrics() {
	if es.metrics == nil {
		return
	}
	es.mu.RLock()
	var keys, filters, lifecycle int
	for _, cl := range es.caches {
		for _, regs := range cl.byKey {
			keys += len(regs)
		}
		filters += len(cl.byFilter)
		lifecycle += len(cl.lifecycle)
	}
	es.mu.RUnlock()
	es.metrics.UpdateRegistrations("key", keys)
	es.metrics.UpdateRegistrations("filter", filters)
	es.metrics.UpdateRegistrations("lifecycle", lifecycle)
}

// Close stops every delivery queue
func (es *EventService) Close() {
	es.mu.Lock()
	regs := make([]*Registration, 0, len(es.byID))
	for _, reg := range es.byID {
		regs = append(regs, reg)
	}
	for _, reg := range regs {
		es.removeLocked(reg, true)
	}
	es.mu.Unlock()
	for _, reg := range regs {
		reg.close()
	}
}

func (r *Registration) close() {
	if r.queue != nil {
		r.queue.close()
	}
}

// deliveryQueue runs callbacks one at a time in push order
type deliveryQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{}
	logger *zap.Logger
}

func newDeliveryQueue(logger *zap.Logger) *deliveryQueue {
	q := &deliveryQueue{signal: make(chan struct{}, 1), logger: logger}
	go q.run()
	return q
}

func (q *deliveryQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
	q.notify()
}

func (q *deliveryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// close stops the queue once the pending callbacks have run
func (q *deliveryQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *deliveryQueue) run() {
	for range q.signal {
		for {
			q.mu.Lock()
			items := q.items
			q.items = nil
			closed := q.closed
			q.mu.Unlock()

			for _, fn := range items {
				fn()
			}
			if len(items) == 0 {
				if closed {
					return
				}
				break
			}
		}
	}
}
