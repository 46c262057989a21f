package client

import (
	"fmt"

	"github.com/devrev/pairdb/gridcache/pkg/filters"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"github.com/google/uuid"
)

// MapEventType is the kind of an entry event
type MapEventType int

const (
	EntryInserted MapEventType = 1
	EntryUpdated  MapEventType = 2
	EntryDeleted  MapEventType = 3
)

func (t MapEventType) String() string {
	switch t {
	case EntryInserted:
		return "inserted"
	case EntryUpdated:
		return "updated"
	case EntryDeleted:
		return "deleted"
	}
	return fmt.Sprintf("MapEventType(%d)", int(t))
}

// MapEvent is an entry event delivered to a MapListener. Old and new values
// are nil when the event does not carry them, for example on lite
// registrations.
type MapEvent[K comparable, V any] struct {
	Cache     string
	Type      MapEventType
	Key       K
	OldValue  *V
	NewValue  *V
	Synthetic bool
	Priming   bool
	Expired   bool
	Version   uint64
}

func (e MapEvent[K, V]) String() string {
	return fmt.Sprintf("MapEvent{cache=%s, type=%s, key=%v, synthetic=%v, priming=%v}",
		e.Cache, e.Type, e.Key, e.Synthetic, e.Priming)
}

// MapListener receives entry events
type MapListener[K comparable, V any] struct {
	id         string
	onInserted func(MapEvent[K, V])
	onUpdated  func(MapEvent[K, V])
	onDeleted  func(MapEvent[K, V])
	onAny      func(MapEvent[K, V])
}

// NewMapListener returns a listener without callbacks
//
//	l := client.NewMapListener[string, Order]().
//	    OnInserted(func(e client.MapEvent[string, Order]) { ... }).
//	    OnDeleted(func(e client.MapEvent[string, Order]) { ... })
func NewMapListener[K comparable, V any]() *MapListener[K, V] {
	return &MapListener[K, V]{id: uuid.NewString()}
}

// OnInserted sets the callback for inserted entries
func (l *MapListener[K, V]) OnInserted(fn func(MapEvent[K, V])) *MapListener[K, V] {
	l.onInserted = fn
	return l
}

// OnUpdated sets the callback for updated entries
func (l *MapListener[K, V]) OnUpdated(fn func(MapEvent[K, V])) *MapListener[K, V] {
	l.onUpdated = fn
	return l
}

// OnDeleted sets the callback for removed entries
func (l *MapListener[K, V]) OnDeleted(fn func(MapEvent[K, V])) *MapListener[K, V] {
	l.onDeleted = fn
	return l
}

// OnAny sets a callback that runs for every event after the typed callback
func (l *MapListener[K, V]) OnAny(fn func(MapEvent[K, V])) *MapListener[K, V] {
	l.onAny = fn
	return l
}

func (l *MapListener[K, V]) fire(e MapEvent[K, V]) {
	switch e.Type {
	case EntryInserted:
		if l.onInserted != nil {
			l.onInserted(e)
		}
	case EntryUpdated:
		if l.onUpdated != nil {
			l.onUpdated(e)
		}
	case EntryDeleted:
		if l.onDeleted != nil {
			l.onDeleted(e)
		}
	}
	if l.onAny != nil {
		l.onAny(e)
	}
}

// ListenerOptions modify a listener registration
type ListenerOptions struct {
	Lite        bool
	Priming     bool
	Synchronous bool
}

// Lite registers for events without old and new values
func Lite() func(*ListenerOptions) {
	return func(o *ListenerOptions) { o.Lite = true }
}

// Priming asks for a synthetic event per matching entry at registration
func Priming() func(*ListenerOptions) {
	return func(o *ListenerOptions) { o.Priming = true }
}

// Synchronous runs the listener's callback before the mutating call that
// caused the event returns. The callback must not call the cache itself.
func Synchronous() func(*ListenerOptions) {
	return func(o *ListenerOptions) { o.Synchronous = true }
}

func listenerOptions(opts []func(*ListenerOptions)) ListenerOptions {
	var o ListenerOptions
	for _, f := range opts {
		f(&o)
	}
	return o
}

// listenerTarget is the key or filter a registration listens on
type listenerTarget struct {
	key    any
	hasKey bool
	filter filters.Filter
}

func (t listenerTarget) String() string {
	switch {
	case t.hasKey:
		return fmt.Sprintf("key:%v", t.key)
	case t.filter != nil:
		return "filter:" + t.filter.Class()
	}
	return "all"
}

// decodeEvent builds a typed event from the wire
func decodeEvent[K comparable, V any](c codec, msg *pb.MapEventMessage) (MapEvent[K, V], error) {
	e := MapEvent[K, V]{
		Cache:     msg.Cache,
		Type:      MapEventType(msg.Type),
		Synthetic: msg.Synthetic,
		Priming:   msg.Priming,
		Expired:   msg.Expired,
		Version:   msg.Version,
	}
	k, err := decodeAs[K](c, msg.Key)
	if err != nil {
		return e, err
	}
	e.Key = k
	if msg.HasOld {
		v, err := decodeAs[V](c, msg.OldValue)
		if err != nil {
			return e, err
		}
		e.OldValue = &v
	}
	if msg.HasNew {
		v, err := decodeAs[V](c, msg.NewValue)
		if err != nil {
			return e, err
		}
		e.NewValue = &v
	}
	return e, nil
}

// LifecycleEventType is a cache lifecycle transition
type LifecycleEventType string

const (
	Truncated LifecycleEventType = "truncated"
	Destroyed LifecycleEventType = "destroyed"
	Released  LifecycleEventType = "released"
)

// LifecycleEvent reports a lifecycle transition of a cache
type LifecycleEvent struct {
	Cache string
	Type  LifecycleEventType
}

// LifecycleListener receives cache lifecycle events
type LifecycleListener struct {
	id          string
	onTruncated func(LifecycleEvent)
	onDestroyed func(LifecycleEvent)
	onReleased  func(LifecycleEvent)
}

// NewLifecycleListener returns a lifecycle listener without callbacks
func NewLifecycleListener() *LifecycleListener {
	return &LifecycleListener{id: uuid.NewString()}
}

// OnTruncated sets the callback for truncation
func (l *LifecycleListener) OnTruncated(fn func(LifecycleEvent)) *LifecycleListener {
	l.onTruncated = fn
	return l
}

// OnDestroyed sets the callback for destruction
func (l *LifecycleListener) OnDestroyed(fn func(LifecycleEvent)) *LifecycleListener {
	l.onDestroyed = fn
	return l
}

// OnReleased sets the callback for a local release
func (l *LifecycleListener) OnReleased(fn func(LifecycleEvent)) *LifecycleListener {
	l.onReleased = fn
	return l
}

func (l *LifecycleListener) fire(e LifecycleEvent) {
	var fn func(LifecycleEvent)
	switch e.Type {
	case Truncated:
		fn = l.onTruncated
	case Destroyed:
		fn = l.onDestroyed
	case Released:
		fn = l.onReleased
	}
	if fn != nil {
		fn(e)
	}
}
