package model

// EventType identifies the kind of entry mutation
type EventType int

const (
	EventInserted EventType = 1
	EventUpdated  EventType = 2
	EventDeleted  EventType = 3
)

// String returns the event type name
func (t EventType) String() string {
	switch t {
	case EventInserted:
		return "inserted"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	}
	return "unknown"
}

// MapEvent describes a single entry mutation
type MapEvent struct {
	Cache     CacheID
	Type      EventType
	Key       any
	Partition int
	OldValue  any
	NewValue  any
	HasOld    bool
	HasNew    bool
	Synthetic bool // Produced by the grid rather than a client mutation
	Priming   bool // Produced when a priming registration is added
	Expired   bool // Produced by expiry
	Version   uint64
}

// Lite returns a copy of the event without values
func (e *MapEvent) Lite() *MapEvent {
	c := *e
	c.OldValue, c.NewValue = nil, nil
	c.HasOld, c.HasNew = false, false
	return &c
}

// LifecycleEventType identifies cache lifecycle transitions
type LifecycleEventType string

const (
	LifecycleTruncated LifecycleEventType = "truncated"
	LifecycleDestroyed LifecycleEventType = "destroyed"
	LifecycleReleased  LifecycleEventType = "released"
)

// LifecycleEvent is delivered to deactivation listeners
type LifecycleEvent struct {
	Cache CacheID
	Type  LifecycleEventType
}
